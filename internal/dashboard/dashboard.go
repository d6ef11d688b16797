// Package dashboard is the interactive terminal client. All engine calls
// happen inside Update, so bubbletea's message loop is the single thread the
// engine requires; network calls run as commands and come back as messages.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"proxy-dashboard/internal/engine"
	"proxy-dashboard/internal/jobclient"
	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/notify"
	"proxy-dashboard/internal/poll"
	"proxy-dashboard/internal/present"
	"proxy-dashboard/internal/reconcile"
)

// JobClient is the part of jobclient.Client the dashboard uses.
type JobClient interface {
	Start(ctx context.Context, inputText string) (jobclient.StartAck, error)
	Stop(ctx context.Context) error
	FetchSnapshot(ctx context.Context) (model.JobSnapshot, error)
	ExportArtifact(ctx context.Context) (jobclient.Artifact, error)
	SyncArtifact(ctx context.Context, name string) (jobclient.SyncAck, error)
}

// ClipboardWriter is swapped out in tests.
type ClipboardWriter interface {
	WriteText(text string) error
}

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}

type focus int

const (
	focusInput focus = iota
	focusResults
)

type Options struct {
	Context   context.Context
	Engine    *engine.Engine
	Client    JobClient
	Latest    *notify.Latest
	Clipboard ClipboardWriter
	ServerURL string
}

type Model struct {
	ctx       context.Context
	eng       *engine.Engine
	client    JobClient
	latest    *notify.Latest
	clip      ClipboardWriter
	serverURL string

	input  textarea.Model
	bar    progress.Model
	rate   *present.RateTracker
	focus  focus
	scroll int
	width  int
	height int
}

type snapshotMsg struct {
	snap model.JobSnapshot
	err  error
	tok  *poll.Token
	// epoch is the engine's start epoch when a tokenless fetch was issued.
	epoch uint64
}

type startMsg struct {
	ack jobclient.StartAck
	err error
}

type stopMsg struct {
	err error
}

type exportMsg struct {
	art jobclient.Artifact
	err error
}

type syncMsg struct {
	ack jobclient.SyncAck
	err error
}

type clipboardMsg struct {
	count int
	err   error
}

type noticeExpiredMsg struct{}

// New builds the model. The engine should already be restored; the persisted
// input is loaded into the editor.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	latest := opts.Latest
	if latest == nil {
		latest = &notify.Latest{}
	}
	clip := opts.Clipboard
	if clip == nil {
		clip = SystemClipboard{}
	}

	in := textarea.New()
	in.Placeholder = "one proxy per line, e.g. 1.2.3.4:8080"
	in.ShowLineNumbers = false
	in.CharLimit = 0
	in.SetHeight(6)
	in.SetValue(opts.Engine.View().InputText)
	in.Focus()

	return Model{
		ctx:       ctx,
		eng:       opts.Engine,
		client:    opts.Client,
		latest:    latest,
		clip:      clip,
		serverURL: opts.ServerURL,
		input:     in,
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		rate:      &present.RateTracker{},
		focus:     focusInput,
	}
}

// Engine exposes the session for callers that inspect the final state.
func (m Model) Engine() *engine.Engine {
	return m.eng
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.fetchCmd(nil))
}

func (m Model) fetchCmd(tok *poll.Token) tea.Cmd {
	ctx, client, epoch := m.ctx, m.client, m.eng.Epoch()
	return func() tea.Msg {
		snap, err := client.FetchSnapshot(ctx)
		return snapshotMsg{snap: snap, err: err, tok: tok, epoch: epoch}
	}
}

func (m Model) noticeCmd() tea.Cmd {
	if _, ok := m.latest.Current(); !ok {
		return nil
	}
	ttl := m.latest.TTL
	if ttl <= 0 {
		ttl = notify.DefaultTTL
	}
	return tea.Tick(ttl+100*time.Millisecond, func(time.Time) tea.Msg { return noticeExpiredMsg{} })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(maxInt(m.width-4, 20))
		m.bar.Width = clampInt(m.width-30, 10, 60)
		return m, nil
	case poll.TickMsg:
		tok := msg.Token
		if !m.eng.Loop().Fire(tok) {
			return m, nil
		}
		return m, m.fetchCmd(&tok)
	case snapshotMsg:
		// A one-off fetch sent before the latest Start describes the old job.
		if msg.tok == nil && msg.epoch != m.eng.Epoch() {
			return m, nil
		}
		res := m.eng.ApplySnapshot(msg.snap, msg.err, msg.tok)
		if msg.err == nil {
			m.rate.Observe(msg.snap.Progress, time.Now())
		}
		var cmds []tea.Cmd
		if res.Schedule {
			cmds = append(cmds, m.eng.Loop().Schedule(res.Token))
		}
		if res.Completed {
			m.focus = focusResults
			m.input.Blur()
			cmds = append(cmds, m.noticeCmd())
		}
		return m, tea.Batch(cmds...)
	case startMsg:
		tok, armed := m.eng.ApplyStart(msg.ack, msg.err)
		cmds := []tea.Cmd{m.noticeCmd()}
		if msg.err == nil {
			m.rate.Reset()
			m.scroll = 0
		}
		if armed {
			cmds = append(cmds, m.eng.Loop().Schedule(tok))
		}
		return m, tea.Batch(cmds...)
	case stopMsg:
		cmds := []tea.Cmd{}
		if m.eng.ApplyStop(msg.err) {
			cmds = append(cmds, m.fetchCmd(nil))
		}
		cmds = append(cmds, m.noticeCmd())
		return m, tea.Batch(cmds...)
	case exportMsg:
		m.eng.ApplyExport(msg.art, msg.err)
		return m, m.noticeCmd()
	case syncMsg:
		m.eng.ApplySync(msg.ack, msg.err)
		return m, m.noticeCmd()
	case clipboardMsg:
		if msg.err != nil {
			m.latest.Notify(notify.LevelError, "copy failed: "+msg.err.Error())
		} else {
			m.latest.Notify(notify.LevelSuccess, fmt.Sprintf("copied %d unique proxies", msg.count))
		}
		return m, m.noticeCmd()
	case noticeExpiredMsg:
		return m, nil
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		if m.focus == focusInput {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}
		return m, nil
	}
	if m.focus == focusInput {
		return m.updateInput(keyMsg)
	}
	return m.updateResults(keyMsg)
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m.quit()
	case "esc", "tab":
		m.focus = focusResults
		m.input.Blur()
		return m, nil
	case "ctrl+s":
		return m.start()
	case "ctrl+x":
		return m.stop()
	case "ctrl+l":
		m.input.Reset()
		m.eng.ClearInput()
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.eng.SetInput(m.input.Value())
	return m, cmd
}

func (m Model) updateResults(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m.quit()
	case "tab", "i":
		m.focus = focusInput
		return m, m.input.Focus()
	case "s", "ctrl+s":
		return m.start()
	case "x", "ctrl+x":
		return m.stop()
	case "left", "right", "h", "l":
		m.eng.ToggleTab()
		m.scroll = 0
		return m, nil
	case "w":
		_ = m.eng.SwitchTab(string(model.TabWorking))
		m.scroll = 0
		return m, nil
	case "u":
		_ = m.eng.SwitchTab(string(model.TabUnique))
		m.scroll = 0
		return m, nil
	case "up", "k":
		if m.scroll > 0 {
			m.scroll--
		}
		return m, nil
	case "down", "j":
		if m.scroll < len(present.ActivePane(m.eng.View()).Body())-1 {
			m.scroll++
		}
		return m, nil
	case "e":
		return m.export()
	case "y":
		return m.sync()
	case "c":
		return m.copyUnique()
	case "r":
		return m, m.fetchCmd(nil)
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.eng.SetInput(m.input.Value())
	m.eng.Flush()
	return m, tea.Quit
}

func (m Model) start() (tea.Model, tea.Cmd) {
	if !m.eng.Controls().StartEnabled {
		m.latest.Notify(notify.LevelWarning, "testing already in progress")
		return m, m.noticeCmd()
	}
	m.eng.SetInput(m.input.Value())
	text, err := m.eng.PrepareStart()
	if err != nil {
		return m, m.noticeCmd()
	}
	ctx, client := m.ctx, m.client
	return m, func() tea.Msg {
		ack, err := client.Start(ctx, text)
		return startMsg{ack: ack, err: err}
	}
}

func (m Model) stop() (tea.Model, tea.Cmd) {
	if !m.eng.Controls().StopVisible {
		m.latest.Notify(notify.LevelInfo, "no job is running")
		return m, m.noticeCmd()
	}
	if err := m.eng.PrepareStop(); err != nil {
		return m, nil
	}
	ctx, client := m.ctx, m.client
	return m, func() tea.Msg {
		return stopMsg{err: client.Stop(ctx)}
	}
}

func (m Model) export() (tea.Model, tea.Cmd) {
	if m.eng.View().Status == model.StatusRunning {
		m.latest.Notify(notify.LevelWarning, "wait for the job to finish before exporting")
		return m, m.noticeCmd()
	}
	if err := m.eng.PrepareExport(); err != nil {
		return m, m.noticeCmd()
	}
	ctx, client := m.ctx, m.client
	return m, func() tea.Msg {
		art, err := client.ExportArtifact(ctx)
		return exportMsg{art: art, err: err}
	}
}

func (m Model) sync() (tea.Model, tea.Cmd) {
	name, err := m.eng.PrepareSync()
	if err != nil {
		return m, m.noticeCmd()
	}
	ctx, client := m.ctx, m.client
	return m, func() tea.Msg {
		ack, err := client.SyncArtifact(ctx, name)
		return syncMsg{ack: ack, err: err}
	}
}

func (m Model) copyUnique() (tea.Model, tea.Cmd) {
	text, err := m.eng.UniqueText()
	if err != nil {
		m.latest.Notify(notify.LevelWarning, model.UserMessage(err))
		return m, m.noticeCmd()
	}
	count := len(m.eng.View().Results.Unique)
	clip := m.clip
	return m, func() tea.Msg {
		return clipboardMsg{count: count, err: clip.WriteText(text)}
	}
}

func (m Model) View() string {
	if m.width <= 0 {
		m.width = 100
	}
	if m.height <= 0 {
		m.height = 30
	}
	view := m.eng.View()
	controls := m.eng.Controls()

	header := present.TitleStyle.Render("proxy-dashboard") + " " +
		present.MutedStyle.Render(m.serverURL) + "  " +
		kv("status", present.StatusLabel(view.Status))
	help := present.MutedStyle.Render(m.helpLine())

	sections := []string{header, help}
	if controls.ProgressVisible || view.Progress.Total > 0 {
		sections = append(sections, m.renderProgress(view))
	}
	sections = append(sections, m.renderInput(view), m.renderResults(view), m.renderStatusLine(view, controls))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) helpLine() string {
	if m.focus == focusInput {
		return "ctrl+s: start | ctrl+x: stop | ctrl+l: clear | tab/esc: results | ctrl+c: quit"
	}
	return "s: start | x: stop | left/right: tab | e: export | y: sync | c: copy | r: refresh | i: edit | q: quit"
}

func (m Model) renderProgress(view model.ViewState) string {
	line := present.ProgressLine(view.Progress)
	if view.Status == model.StatusRunning {
		if eta := m.rate.ETA(view.Progress); eta != "" {
			line += " | eta ~ " + eta
		}
	}
	return m.bar.ViewAs(reconcile.Fraction(view.Progress)) + "\n" + wrapOrTrim(line, m.width)
}

func (m Model) renderInput(view model.ViewState) string {
	title := fmt.Sprintf("Proxies (%d queued)", m.eng.InputEntries())
	if m.focus == focusInput {
		title = present.TitleStyle.Render(title)
	} else {
		title = present.MutedStyle.Render(title)
	}
	return present.PanelStyle.Width(maxInt(m.width-2, 20)).Render(title + "\n" + m.input.View())
}

func (m Model) renderResults(view model.ViewState) string {
	pane := present.ActivePane(view)
	body := pane.Body()
	maxRows := clampInt(m.height-24, 4, 40)
	start, end := listWindow(len(body), m.scroll, maxRows)

	lines := []string{present.TabBar(view)}
	for _, line := range body[start:end] {
		if pane.Empty() {
			lines = append(lines, present.MutedStyle.Render(line))
			continue
		}
		lines = append(lines, truncateRunes(line, maxInt(m.width-6, 10)))
	}
	if end < len(body) {
		lines = append(lines, present.MutedStyle.Render(fmt.Sprintf("... %d more", len(body)-end)))
	}
	return present.PanelStyle.Width(maxInt(m.width-2, 20)).Render(strings.Join(lines, "\n"))
}

func (m Model) renderStatusLine(view model.ViewState, controls model.Controls) string {
	parts := []string{}
	if controls.SyncEnabled {
		parts = append(parts, kv("exported", view.LastExportedArtifact))
	}
	if m.eng.Busy() {
		parts = append(parts, "working...")
	}
	if msg, ok := m.latest.Current(); ok {
		parts = append(parts, notify.Format(msg.Level, msg.Text, true))
	}
	return wrapOrTrim(strings.Join(parts, " | "), m.width)
}
