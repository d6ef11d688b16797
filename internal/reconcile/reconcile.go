// Package reconcile merges job snapshots into the dashboard view. Everything
// here is a pure function of its arguments.
package reconcile

import (
	"fmt"
	"math"
	"strings"

	"proxy-dashboard/internal/model"
)

// Intent carries what the caller did since the previous merge.
type Intent struct {
	// Hint is an explicit tab choice (user click). Empty means none.
	Hint model.Tab
	// StopRequested is set once the operator's Stop was acknowledged and
	// stays set until the next Start.
	StopRequested bool
	// ClearArtifact drops LastExportedArtifact (a Start succeeded).
	ClearArtifact bool
	// IgnoreArtifact is the artifact name dropped at the last Start. The
	// service keeps reporting it until a new export, so a snapshot carrying
	// it is not adopted.
	IgnoreArtifact string
	// Restoring marks the first merge after a reload. The persisted tab is
	// kept while the service has no results to show yet.
	Restoring bool
}

func Reconcile(prev model.ViewState, snap model.JobSnapshot, in Intent) model.ViewState {
	next := model.ViewState{
		Status:               nextStatus(prev.Status, snap.IsRunning, in.StopRequested),
		InputText:            prev.InputText,
		LastExportedArtifact: prev.LastExportedArtifact,
		Progress:             snap.Progress,
		Results: model.Results{
			Working: cloneStrings(snap.Results.Working),
			Unique:  cloneStrings(snap.Results.Unique),
		},
	}

	justCompleted := prev.Status == model.StatusRunning && next.Status == model.StatusCompleted
	next.ActiveTab = ResolveTab(prev.ActiveTab, next.Results, in.Hint, justCompleted, in.Restoring)

	name := snap.ExportedArtifactName
	switch {
	case in.ClearArtifact:
		next.LastExportedArtifact = ""
	case strings.TrimSpace(name) != "" && name != in.IgnoreArtifact:
		next.LastExportedArtifact = name
	}
	return next
}

// nextStatus trusts the snapshot's running flag over any earlier belief, so a
// stale tick that lands after Stop flips the view back to running, and the
// next idle tick completes it. A stop never moves a view that was not running.
func nextStatus(prev model.Status, running, stopRequested bool) model.Status {
	switch {
	case running:
		return model.StatusRunning
	case prev == model.StatusRunning:
		return model.StatusCompleted
	case stopRequested && model.CanTransition(prev, model.StatusStopped):
		return model.StatusStopped
	case model.IsKnownStatus(prev):
		return prev
	default:
		return model.StatusIdle
	}
}

// ResolveTab picks the visible tab: explicit hint, then unique on the
// completion edge, then the previous tab while it has content, then unique if
// it has content, else working. While restoring, a tab with no results behind
// it yet is kept instead of falling back.
func ResolveTab(prev model.Tab, results model.Results, hint model.Tab, justCompleted, restoring bool) model.Tab {
	if tab, ok := model.ParseTab(string(hint)); ok {
		return tab
	}
	if justCompleted && results.Has(model.TabUnique) {
		return model.TabUnique
	}
	if tab, ok := model.ParseTab(string(prev)); ok && results.Has(tab) {
		return tab
	}
	if results.Has(model.TabUnique) {
		return model.TabUnique
	}
	if tab, ok := model.ParseTab(string(prev)); ok && restoring && results.Empty() {
		return tab
	}
	return model.TabWorking
}

// Clamp returns p with Current capped at Total.
func Clamp(p model.Progress) model.Progress {
	if p.Current > p.Total {
		p.Current = p.Total
	}
	return p
}

// Percent is the rounded completion percentage; 0 when Total is 0.
func Percent(p model.Progress) int {
	p = Clamp(p)
	if p.Total == 0 {
		return 0
	}
	return int(math.Round(float64(p.Current) / float64(p.Total) * 100))
}

// Fraction is Percent as 0..1 for progress bars.
func Fraction(p model.Progress) float64 {
	p = Clamp(p)
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total)
}

func ProgressLabel(p model.Progress) string {
	c := Clamp(p)
	return fmt.Sprintf("%d/%d (%d%%)", c.Current, c.Total, Percent(p))
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
