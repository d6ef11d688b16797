// Package engine is one dashboard session: it owns the view, the poll loop,
// and the persisted choices, and applies job service responses in the order
// they arrive. Engine methods are not safe for concurrent use; callers run
// them on a single logical thread (the bubbletea update loop or a headless
// command) and perform network calls outside, feeding results back through
// the Apply methods.
package engine

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"proxy-dashboard/internal/jobclient"
	"proxy-dashboard/internal/model"
	"proxy-dashboard/internal/notify"
	"proxy-dashboard/internal/poll"
	"proxy-dashboard/internal/reconcile"
	"proxy-dashboard/internal/viewstore"
)

type Deps struct {
	Loop     *poll.Loop
	Store    *viewstore.Store
	Notifier notify.Notifier
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

type Engine struct {
	loop     *poll.Loop
	store    *viewstore.Store
	notifier notify.Notifier
	log      zerolog.Logger

	view          model.ViewState
	last          model.JobSnapshot
	stopRequested bool
	busy          bool
	persisted     *viewstore.Record
	// clearedArtifact is the export dropped by the last Start; the service
	// may keep reporting it until the next export.
	clearedArtifact string
	// restoring holds until the first snapshot after Restore is merged.
	restoring bool
	epoch     uint64
}

// TickResult tells the caller whether to schedule another poll fire.
type TickResult struct {
	Schedule  bool
	Token     poll.Token
	Completed bool
}

func New(deps Deps) *Engine {
	loop := deps.Loop
	if loop == nil {
		loop = poll.New(poll.DefaultInterval)
	}
	n := deps.Notifier
	if n == nil {
		n = notify.Discard{}
	}
	log := zerolog.Nop()
	if deps.Logger != nil {
		log = *deps.Logger
	}
	return &Engine{
		loop:     loop,
		store:    deps.Store,
		notifier: n,
		log:      log,
		view:     model.NewViewState(),
	}
}

// Restore seeds the view from the persisted record. The caller should fetch
// one snapshot right after to discover a job started by an earlier session.
func (e *Engine) Restore() {
	if e.store == nil {
		return
	}
	rec, err := e.store.Load()
	if err != nil {
		e.log.Warn().Err(err).Str("path", e.store.Path()).Msg("discarding persisted view state")
	}
	e.view = rec.Seed()
	e.persisted = &rec
	e.restoring = true
	e.clearedArtifact = rec.ClearedFilename
	e.last = model.JobSnapshot{ExportedArtifactName: e.view.LastExportedArtifact}
	e.log.Debug().
		Str("tab", string(e.view.ActiveTab)).
		Str("artifact", e.view.LastExportedArtifact).
		Msg("view state restored")
}

func (e *Engine) View() model.ViewState {
	v := e.view
	v.Results = model.Results{
		Working: append([]string(nil), e.view.Results.Working...),
		Unique:  append([]string(nil), e.view.Results.Unique...),
	}
	return v
}

func (e *Engine) Snapshot() model.JobSnapshot {
	return e.last
}

func (e *Engine) Controls() model.Controls {
	return model.ControlsFor(e.view, e.busy)
}

// Busy reports a user-initiated request in flight.
func (e *Engine) Busy() bool {
	return e.busy
}

func (e *Engine) Loop() *poll.Loop {
	return e.loop
}

// Epoch counts accepted Starts. A one-off fetch issued under an older epoch
// describes the previous job and should be dropped.
func (e *Engine) Epoch() uint64 {
	return e.epoch
}

func (e *Engine) SetInput(text string) {
	e.view.InputText = text
}

func (e *Engine) ClearInput() {
	e.view.InputText = ""
	e.persist(true)
}

// InputEntries counts distinct non-empty lines of the input.
func (e *Engine) InputEntries() int {
	return len(ProxyLines(e.view.InputText))
}

// ProxyLines splits raw input into trimmed, de-duplicated entries in their
// original order.
func ProxyLines(raw string) []string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, l := range lines {
		v := strings.TrimSpace(l)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Flush persists the current view unconditionally.
func (e *Engine) Flush() {
	e.persist(true)
}

// PrepareStart validates the input and returns the text to send.
func (e *Engine) PrepareStart() (string, error) {
	if e.busy {
		return "", model.NewError(model.KindValidation, "start", "another request is still running", nil)
	}
	input := strings.TrimSpace(e.view.InputText)
	if input == "" {
		err := model.NewError(model.KindValidation, "start", "enter at least one proxy to test", nil)
		e.notifier.Notify(notify.LevelWarning, err.Msg)
		return "", err
	}
	e.busy = true
	return input, nil
}

// ApplyStart records the start response. When ok is true the loop was armed
// by this call and the caller must schedule the first fire with tok.
func (e *Engine) ApplyStart(ack jobclient.StartAck, err error) (tok poll.Token, ok bool) {
	e.busy = false
	if err != nil {
		e.report("start", err)
		return poll.Token{}, false
	}

	if terr := model.TransitionViewStatus(&e.view, model.StatusRunning); terr != nil {
		e.log.Warn().Err(terr).Msg("unexpected status transition")
		e.view.Status = model.StatusRunning
	}
	e.stopRequested = false
	if name := e.view.LastExportedArtifact; name != "" {
		e.clearedArtifact = name
	}
	e.view.LastExportedArtifact = ""
	e.view.Progress = model.Progress{}
	e.view.Results = model.Results{}
	e.last = model.JobSnapshot{IsRunning: true}
	e.epoch++

	tok, ok = e.loop.Arm()
	e.persist(true)

	msg := strings.TrimSpace(ack.Message)
	if msg == "" {
		msg = fmt.Sprintf("testing %d proxies", e.InputEntries())
	}
	e.notifier.Notify(notify.LevelSuccess, msg)
	e.log.Info().Bool("armed", ok).Msg("job started")
	return tok, ok
}

func (e *Engine) PrepareStop() error {
	if e.busy {
		return model.NewError(model.KindValidation, "stop", "another request is still running", nil)
	}
	e.busy = true
	return nil
}

// ApplyStop records the stop response. It returns true when the caller should
// fetch one more snapshot to settle the final counters.
func (e *Engine) ApplyStop(err error) bool {
	e.busy = false
	if err != nil {
		e.report("stop", err)
		return false
	}
	e.loop.Disarm()
	e.last.IsRunning = false
	// Only a job this view saw running can end up stopped.
	wasRunning := e.view.Status == model.StatusRunning
	if wasRunning {
		e.stopRequested = true
		if terr := model.TransitionViewStatus(&e.view, model.StatusStopped); terr != nil {
			e.log.Warn().Err(terr).Msg("unexpected status transition")
		}
	}
	e.persist(true)
	if wasRunning {
		e.notifier.Notify(notify.LevelInfo, "testing stopped")
	} else {
		e.notifier.Notify(notify.LevelInfo, "stop sent; no running job was shown")
	}
	e.log.Info().Bool("was_running", wasRunning).Msg("job stopped")
	return true
}

// ApplySnapshot merges a fetched snapshot. tok is the poll token that fired
// the fetch, or nil for one-off fetches (load, after stop, headless status).
// Fetch errors are logged and never disarm the loop.
func (e *Engine) ApplySnapshot(snap model.JobSnapshot, err error, tok *poll.Token) TickResult {
	var res TickResult
	if err != nil {
		e.log.Debug().Err(err).Str("kind", string(model.KindOf(err))).Msg("snapshot fetch failed")
		if tok != nil {
			res.Token = *tok
			res.Schedule = e.loop.Done(*tok, false)
		}
		return res
	}

	prev := e.view.Status
	e.view = reconcile.Reconcile(e.view, snap, e.intent(""))
	e.restoring = false
	if name := snap.ExportedArtifactName; strings.TrimSpace(name) != "" && name != e.clearedArtifact {
		e.clearedArtifact = ""
	}
	e.last = snap
	e.last.ExportedArtifactName = e.view.LastExportedArtifact

	finished := !snap.IsRunning
	if tok != nil {
		res.Token = *tok
		res.Schedule = e.loop.Done(*tok, finished)
	}
	if finished {
		e.loop.Disarm()
		res.Schedule = false
	} else if !e.loop.Armed() {
		// A job is running that this session did not start, or a late
		// response contradicted an earlier stop.
		res.Token, _ = e.loop.Arm()
		res.Schedule = true
		e.log.Info().Msg("running job discovered, polling")
	}

	if prev == model.StatusRunning && e.view.Status == model.StatusCompleted {
		res.Completed = true
		e.notifier.Notify(notify.LevelSuccess, fmt.Sprintf(
			"testing complete: %d working, %d unique",
			len(e.view.Results.Working), len(e.view.Results.Unique),
		))
		e.log.Info().
			Int("working", len(e.view.Results.Working)).
			Int("unique", len(e.view.Results.Unique)).
			Msg("job completed")
	}
	e.persist(false)
	return res
}

// SwitchTab selects a result tab. It never touches the network.
func (e *Engine) SwitchTab(raw string) error {
	tab, ok := model.ParseTab(raw)
	if !ok {
		return model.NewError(model.KindValidation, "switch tab", fmt.Sprintf("unknown tab %q", raw), nil)
	}
	e.view = reconcile.Reconcile(e.view, e.last, e.intent(tab))
	e.persist(true)
	return nil
}

// ToggleTab flips between the working and unique panes.
func (e *Engine) ToggleTab() {
	next := model.TabUnique
	if e.view.ActiveTab == model.TabUnique {
		next = model.TabWorking
	}
	_ = e.SwitchTab(string(next))
}

func (e *Engine) PrepareExport() error {
	if e.busy {
		return model.NewError(model.KindValidation, "export", "another request is still running", nil)
	}
	if len(e.view.Results.Unique) == 0 {
		err := model.NewError(model.KindEmptyResult, "export", "no unique proxies to export", nil)
		e.notifier.Notify(notify.LevelWarning, err.Msg)
		return err
	}
	e.busy = true
	return nil
}

func (e *Engine) ApplyExport(art jobclient.Artifact, err error) {
	e.busy = false
	if err != nil {
		e.report("export", err)
		return
	}
	e.view.LastExportedArtifact = art.Name
	e.last.ExportedArtifactName = art.Name
	e.clearedArtifact = ""
	e.persist(true)

	msg := fmt.Sprintf("exported %d proxies to %s", art.Count, art.Name)
	if hint := strings.TrimSpace(art.SyncHint); hint != "" {
		msg += "; sync with: " + hint
	}
	e.notifier.Notify(notify.LevelSuccess, msg)
	e.log.Info().Str("artifact", art.Name).Uint("count", art.Count).Msg("results exported")
}

// PrepareSync returns the artifact name to sync.
func (e *Engine) PrepareSync() (string, error) {
	if e.busy {
		return "", model.NewError(model.KindValidation, "sync", "another request is still running", nil)
	}
	name := strings.TrimSpace(e.view.LastExportedArtifact)
	if name == "" {
		err := model.NewError(model.KindNoArtifact, "sync", "export the results before syncing", nil)
		e.notifier.Notify(notify.LevelWarning, err.Msg)
		return "", err
	}
	e.busy = true
	return name, nil
}

func (e *Engine) ApplySync(ack jobclient.SyncAck, err error) {
	e.busy = false
	if err != nil {
		e.report("sync", err)
		return
	}
	msg := "sync started for " + e.view.LastExportedArtifact
	if hint := strings.TrimSpace(ack.SyncHint); hint != "" {
		msg += ": " + hint
	}
	e.notifier.Notify(notify.LevelSuccess, msg)
	e.log.Info().Str("artifact", e.view.LastExportedArtifact).Msg("sync triggered")
}

// UniqueText is the unique result list ready for the clipboard.
func (e *Engine) UniqueText() (string, error) {
	if len(e.view.Results.Unique) == 0 {
		return "", model.NewError(model.KindEmptyResult, "copy", "no unique proxies to copy", nil)
	}
	return strings.Join(e.view.Results.Unique, "\n"), nil
}

func (e *Engine) intent(hint model.Tab) reconcile.Intent {
	return reconcile.Intent{
		Hint:           hint,
		StopRequested:  e.stopRequested,
		IgnoreArtifact: e.clearedArtifact,
		Restoring:      e.restoring,
	}
}

func (e *Engine) report(op string, err error) {
	level := notify.LevelError
	if model.IsValidation(err) {
		level = notify.LevelWarning
	}
	e.notifier.Notify(level, model.UserMessage(err))
	e.log.Warn().Err(err).Str("op", op).Msg("request failed")
}

// persist writes the record when force is set or a persisted field changed.
// Failures are logged only.
func (e *Engine) persist(force bool) {
	if e.store == nil {
		return
	}
	rec := viewstore.FromView(e.view)
	rec.ClearedFilename = e.clearedArtifact
	if !force && e.persisted != nil && sameRecord(*e.persisted, rec) {
		return
	}
	if err := e.store.Save(rec); err != nil {
		e.log.Warn().Err(err).Str("path", e.store.Path()).Msg("persist view state")
		return
	}
	e.persisted = &rec
}

func sameRecord(a, b viewstore.Record) bool {
	if a.Input != b.Input || a.ActiveTab != b.ActiveTab || a.HasResults != b.HasResults ||
		a.ClearedFilename != b.ClearedFilename {
		return false
	}
	switch {
	case a.ExportedFilename == nil && b.ExportedFilename == nil:
		return true
	case a.ExportedFilename == nil || b.ExportedFilename == nil:
		return false
	default:
		return *a.ExportedFilename == *b.ExportedFilename
	}
}
