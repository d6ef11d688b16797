package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"proxy-dashboard/internal/model"
)

var (
	genStatus = rapid.SampledFrom([]model.Status{
		model.StatusIdle, model.StatusRunning, model.StatusCompleted, model.StatusStopped,
	})
	genTab   = rapid.SampledFrom([]model.Tab{model.TabWorking, model.TabUnique})
	genHint  = rapid.SampledFrom([]model.Tab{"", model.TabWorking, model.TabUnique})
	genLines = rapid.SliceOfN(rapid.SampledFrom([]string{"1.2.3.4:8080", "5.6.7.8:3128", "9.9.9.9:1080"}), 0, 4)
	genName  = rapid.SampledFrom([]string{"", "proxies_2024.tsv", "proxies_2025.tsv"})
)

func genProgress() *rapid.Generator[model.Progress] {
	return rapid.Custom(func(t *rapid.T) model.Progress {
		return model.Progress{
			Current:       rapid.UintRange(0, 50).Draw(t, "current"),
			Total:         rapid.UintRange(0, 50).Draw(t, "total"),
			WorkingCount:  rapid.UintRange(0, 50).Draw(t, "working"),
			UniqueIPCount: rapid.UintRange(0, 50).Draw(t, "unique"),
			FailedCount:   rapid.UintRange(0, 50).Draw(t, "failed"),
		}
	})
}

func genSnapshot() *rapid.Generator[model.JobSnapshot] {
	return rapid.Custom(func(t *rapid.T) model.JobSnapshot {
		return model.JobSnapshot{
			IsRunning: rapid.Bool().Draw(t, "running"),
			Progress:  genProgress().Draw(t, "progress"),
			Results: model.Results{
				Working: genLines.Draw(t, "workingLines"),
				Unique:  genLines.Draw(t, "uniqueLines"),
			},
			ExportedArtifactName: genName.Draw(t, "exported"),
		}
	})
}

func genView() *rapid.Generator[model.ViewState] {
	return rapid.Custom(func(t *rapid.T) model.ViewState {
		return model.ViewState{
			Status:               genStatus.Draw(t, "status"),
			ActiveTab:            genTab.Draw(t, "tab"),
			InputText:            rapid.SampledFrom([]string{"", "1.2.3.4:8080"}).Draw(t, "input"),
			LastExportedArtifact: genName.Draw(t, "artifact"),
		}
	})
}

func genIntent() *rapid.Generator[Intent] {
	return rapid.Custom(func(t *rapid.T) Intent {
		return Intent{
			Hint:           genHint.Draw(t, "hint"),
			StopRequested:  rapid.Bool().Draw(t, "stop"),
			ClearArtifact:  rapid.Bool().Draw(t, "clear"),
			IgnoreArtifact: genName.Draw(t, "ignore"),
			Restoring:      rapid.Bool().Draw(t, "restoring"),
		}
	})
}

func TestReconcileIsIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := genView().Draw(t, "prev")
		snap := genSnapshot().Draw(t, "snap")
		in := genIntent().Draw(t, "intent")

		once := Reconcile(prev, snap, in)
		twice := Reconcile(once, snap, in)
		require.Equal(t, once, twice)
	})
}

func TestReconcilePreservesInputAndReplacesResults(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := genView().Draw(t, "prev")
		prev.Results = model.Results{Working: []string{"stale"}, Unique: []string{"stale"}}
		snap := genSnapshot().Draw(t, "snap")

		next := Reconcile(prev, snap, Intent{})
		require.Equal(t, prev.InputText, next.InputText)
		require.Equal(t, len(snap.Results.Working), len(next.Results.Working))
		require.Equal(t, len(snap.Results.Unique), len(next.Results.Unique))
		require.Equal(t, snap.Progress, next.Progress)
	})
}

func TestReconcileTabReferencesVisibleTab(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := genView().Draw(t, "prev")
		snap := genSnapshot().Draw(t, "snap")

		next := Reconcile(prev, snap, Intent{})
		if next.Results.Empty() {
			return
		}
		if next.Results.Has(next.ActiveTab) {
			return
		}
		require.Equal(t, model.TabWorking, next.ActiveTab)
		require.False(t, next.Results.Has(model.TabUnique))
	})
}

func TestReconcileStatus(t *testing.T) {
	cases := []struct {
		name string
		prev model.Status
		run  bool
		stop bool
		want model.Status
	}{
		{"snapshot running wins", model.StatusStopped, true, true, model.StatusRunning},
		{"running to completed", model.StatusRunning, false, false, model.StatusCompleted},
		{"running completes before stop", model.StatusRunning, false, true, model.StatusCompleted},
		{"stopped stays stopped", model.StatusStopped, false, true, model.StatusStopped},
		{"stop never skips running", model.StatusIdle, false, true, model.StatusIdle},
		{"stop leaves completed alone", model.StatusCompleted, false, true, model.StatusCompleted},
		{"idle stays idle", model.StatusIdle, false, false, model.StatusIdle},
		{"completed stays completed", model.StatusCompleted, false, false, model.StatusCompleted},
		{"unknown falls back to idle", model.Status("weird"), false, false, model.StatusIdle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			prev := model.NewViewState()
			prev.Status = tc.prev
			next := Reconcile(prev, model.JobSnapshot{IsRunning: tc.run}, Intent{StopRequested: tc.stop})
			require.Equal(t, tc.want, next.Status)
		})
	}
}

func TestReconcileArtifact(t *testing.T) {
	prev := model.NewViewState()
	prev.LastExportedArtifact = "old.tsv"

	next := Reconcile(prev, model.JobSnapshot{}, Intent{})
	require.Equal(t, "old.tsv", next.LastExportedArtifact, "absent name keeps the previous artifact")

	next = Reconcile(prev, model.JobSnapshot{ExportedArtifactName: "new.tsv"}, Intent{})
	require.Equal(t, "new.tsv", next.LastExportedArtifact)

	next = Reconcile(prev, model.JobSnapshot{ExportedArtifactName: "new.tsv"}, Intent{ClearArtifact: true})
	require.Empty(t, next.LastExportedArtifact)
}

func TestReconcileIgnoresArtifactDroppedAtStart(t *testing.T) {
	prev := model.NewViewState()
	prev.Status = model.StatusRunning
	in := Intent{IgnoreArtifact: "old.tsv"}

	next := Reconcile(prev, model.JobSnapshot{IsRunning: true, ExportedArtifactName: "old.tsv"}, in)
	require.Empty(t, next.LastExportedArtifact)

	next = Reconcile(next, model.JobSnapshot{ExportedArtifactName: "new.tsv"}, in)
	require.Equal(t, "new.tsv", next.LastExportedArtifact)
}

func TestReconcileFollowsTransitionTable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prev := genView().Draw(t, "prev")
		snap := genSnapshot().Draw(t, "snap")
		in := genIntent().Draw(t, "intent")

		next := Reconcile(prev, snap, in)
		require.True(t, model.CanTransition(prev.Status, next.Status),
			"%s -> %s", prev.Status, next.Status)
	})
}

func TestResolveTabKeepsEmptyTabOnlyWhileRestoring(t *testing.T) {
	require.Equal(t, model.TabUnique, ResolveTab(model.TabUnique, model.Results{}, "", false, true))
	require.Equal(t, model.TabWorking, ResolveTab(model.TabUnique, model.Results{}, "", false, false))
	require.Equal(t, model.TabUnique, ResolveTab(model.TabWorking, model.Results{}, model.TabUnique, false, false))
}

func TestReconcileCompletionSwitchesToUnique(t *testing.T) {
	prev := model.NewViewState()
	prev.Status = model.StatusRunning
	prev.ActiveTab = model.TabWorking

	snap := model.JobSnapshot{Results: model.Results{
		Working: []string{"1.2.3.4:8080"},
		Unique:  []string{"1.2.3.4:8080"},
	}}
	next := Reconcile(prev, snap, Intent{})
	require.Equal(t, model.StatusCompleted, next.Status)
	require.Equal(t, model.TabUnique, next.ActiveTab)

	// Once completed, the user's tab choice sticks.
	prev = next
	next = Reconcile(prev, snap, Intent{Hint: model.TabWorking})
	require.Equal(t, model.TabWorking, next.ActiveTab)
	next = Reconcile(next, snap, Intent{})
	require.Equal(t, model.TabWorking, next.ActiveTab)
}

func TestPercentZeroTotal(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genProgress().Draw(t, "progress")
		p.Total = 0
		require.Equal(t, 0, Percent(p))
		require.Zero(t, Fraction(p))
	})
}

func TestPercentClampedToHundred(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genProgress().Draw(t, "progress")
		got := Percent(p)
		require.GreaterOrEqual(t, got, 0)
		require.LessOrEqual(t, got, 100)
	})
}

func TestProgressLabel(t *testing.T) {
	require.Equal(t, "1/2 (50%)", ProgressLabel(model.Progress{Current: 1, Total: 2}))
	require.Equal(t, "0/0 (0%)", ProgressLabel(model.Progress{}))
	require.Equal(t, "3/3 (100%)", ProgressLabel(model.Progress{Current: 7, Total: 3}))
	require.Equal(t, "1/3 (33%)", ProgressLabel(model.Progress{Current: 1, Total: 3}))
}
