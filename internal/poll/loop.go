// Package poll schedules snapshot fetches while a job runs. The loop never
// runs ticks itself in parallel: the next fire is only scheduled after the
// current tick reports back through Done.
package poll

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const DefaultInterval = time.Second

// Token identifies one arming of the loop. Fires carrying a token from an
// earlier arming are ignored.
type Token struct {
	gen uint64
}

// TickMsg is delivered to a bubbletea program when a scheduled fire elapses.
type TickMsg struct {
	Token Token
	At    time.Time
}

type Loop struct {
	interval time.Duration
	armed    bool
	gen      uint64
	inFlight bool
	ticks    int
}

func New(interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{interval: interval}
}

func (l *Loop) Interval() time.Duration {
	return l.interval
}

func (l *Loop) Armed() bool {
	return l.armed
}

// InFlight reports whether a tick has fired and not yet called Done.
func (l *Loop) InFlight() bool {
	return l.inFlight
}

// Ticks counts fires honoured since the loop was created.
func (l *Loop) Ticks() int {
	return l.ticks
}

// Arm starts a new generation. It returns false, and changes nothing, when
// the loop is already armed.
func (l *Loop) Arm() (Token, bool) {
	if l.armed {
		return Token{gen: l.gen}, false
	}
	l.gen++
	l.armed = true
	l.inFlight = false
	return Token{gen: l.gen}, true
}

// Disarm invalidates any pending fire. An in-flight request is not
// cancelled; its result is still handed to Done, which then reports stop.
func (l *Loop) Disarm() {
	if !l.armed {
		return
	}
	l.armed = false
	l.gen++
	l.inFlight = false
}

// Token returns the live token, if armed.
func (l *Loop) Token() (Token, bool) {
	return Token{gen: l.gen}, l.armed
}

// Current reports whether tok belongs to the live generation.
func (l *Loop) Current(tok Token) bool {
	return l.armed && tok.gen == l.gen
}

// Fire claims a scheduled fire. It is refused for stale tokens and while the
// previous tick is still outstanding.
func (l *Loop) Fire(tok Token) bool {
	if !l.Current(tok) || l.inFlight {
		return false
	}
	l.inFlight = true
	l.ticks++
	return true
}

// Done ends the tick started by Fire. finished disarms the loop. The return
// value says whether the caller should schedule the next fire.
func (l *Loop) Done(tok Token, finished bool) bool {
	if !l.Current(tok) {
		return false
	}
	l.inFlight = false
	if finished {
		l.Disarm()
		return false
	}
	return true
}

// Schedule returns a bubbletea command that delivers TickMsg after one
// interval.
func (l *Loop) Schedule(tok Token) tea.Cmd {
	return tea.Tick(l.interval, func(t time.Time) tea.Msg {
		return TickMsg{Token: tok, At: t}
	})
}

// Run drives the loop on the calling goroutine until onTick reports
// completion, ctx ends, or the loop is disarmed from within onTick. An
// existing arming is driven as is rather than replaced; fires still never
// overlap because Fire refuses while a tick is outstanding.
func (l *Loop) Run(ctx context.Context, onTick func(ctx context.Context) (finished bool)) error {
	tok, _ := l.Arm()
	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Disarm()
			return ctx.Err()
		case <-timer.C:
		}
		if !l.Fire(tok) {
			return nil
		}
		finished := onTick(ctx)
		if !l.Done(tok, finished) {
			return nil
		}
		timer.Reset(l.interval)
	}
}
