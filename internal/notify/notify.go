// Package notify is the fire-and-forget message surface shown to the
// operator. Notifiers hold no state the engine depends on.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notifier interface {
	Notify(level Level, msg string)
}

type Message struct {
	Level Level
	Text  string
	At    time.Time
}

// Discard drops every message.
type Discard struct{}

func (Discard) Notify(Level, string) {}

// Recorder keeps every message in order.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *Recorder) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Level: level, Text: msg, At: time.Now()})
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// Last returns the most recent message, if any.
func (r *Recorder) Last() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return Message{}, false
	}
	return r.msgs[len(r.msgs)-1], true
}

// Count returns how many messages were recorded at level.
func (r *Recorder) Count(level Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Level == level {
			n++
		}
	}
	return n
}

// Latest holds a single message that expires after TTL. The TUI status line
// reads it on every render.
type Latest struct {
	TTL time.Duration
	Now func() time.Time

	msg Message
	set bool
}

const DefaultTTL = 5 * time.Second

func (l *Latest) Notify(level Level, msg string) {
	l.msg = Message{Level: level, Text: msg, At: l.now()}
	l.set = true
}

// Current returns the held message while it is still fresh.
func (l *Latest) Current() (Message, bool) {
	if !l.set {
		return Message{}, false
	}
	ttl := l.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if l.now().Sub(l.msg.At) > ttl {
		return Message{}, false
	}
	return l.msg, true
}

func (l *Latest) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Writer prints each message as one line. Colour is applied only when Color
// is set, typically when out is a terminal.
type Writer struct {
	Out   io.Writer
	Color bool

	mu sync.Mutex
}

var levelStyles = map[Level]lipgloss.Style{
	LevelSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	LevelInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
	LevelWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	LevelError:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
}

func (w *Writer) Notify(level Level, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = fmt.Fprintln(w.Out, Format(level, msg, w.Color))
}

// Format renders "level: msg", styled per level when color is true.
func Format(level Level, msg string, color bool) string {
	tag := string(level)
	if color {
		if st, ok := levelStyles[level]; ok {
			tag = st.Render(tag)
		}
	}
	return tag + ": " + msg
}

// Multi fans a message out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(level Level, msg string) {
	for _, n := range m {
		if n != nil {
			n.Notify(level, msg)
		}
	}
}

// Only forwards messages at the listed levels to next.
func Only(next Notifier, levels ...Level) Notifier {
	allowed := make(map[Level]bool, len(levels))
	for _, l := range levels {
		allowed[l] = true
	}
	return filter{next: next, allowed: allowed}
}

type filter struct {
	next    Notifier
	allowed map[Level]bool
}

func (f filter) Notify(level Level, msg string) {
	if f.allowed[level] && f.next != nil {
		f.next.Notify(level, msg)
	}
}
