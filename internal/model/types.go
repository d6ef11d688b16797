package model

import "strings"

type Tab string

const (
	TabWorking Tab = "working"
	TabUnique  Tab = "unique"
)

// ParseTab accepts the persisted or user-typed tab name.
func ParseTab(raw string) (Tab, bool) {
	switch Tab(strings.ToLower(strings.TrimSpace(raw))) {
	case TabWorking:
		return TabWorking, true
	case TabUnique:
		return TabUnique, true
	default:
		return "", false
	}
}

// Progress mirrors the job service counters. Current may exceed Total on a
// misbehaving backend; display code clamps instead of trusting it.
type Progress struct {
	Current       uint `json:"current"`
	Total         uint `json:"total"`
	WorkingCount  uint `json:"working"`
	UniqueIPCount uint `json:"unique_ips"`
	FailedCount   uint `json:"failed"`
}

type Results struct {
	Working []string `json:"working"`
	Unique  []string `json:"unique"`
}

func (r Results) Empty() bool {
	return len(r.Working) == 0 && len(r.Unique) == 0
}

func (r Results) Has(tab Tab) bool {
	return len(r.For(tab)) > 0
}

func (r Results) For(tab Tab) []string {
	if tab == TabUnique {
		return r.Unique
	}
	return r.Working
}

// JobSnapshot is a point-in-time read of the job. Only the latest one is kept.
type JobSnapshot struct {
	IsRunning            bool
	Progress             Progress
	Results              Results
	ExportedArtifactName string
}

// ViewState is the client-owned view of the job plus local-only fields.
type ViewState struct {
	Status               Status
	ActiveTab            Tab
	InputText            string
	LastExportedArtifact string
	Progress             Progress
	Results              Results
}

func NewViewState() ViewState {
	return ViewState{
		Status:    StatusIdle,
		ActiveTab: TabWorking,
	}
}

// Controls is the UI surface derived from the view. Widgets never feed back
// into status.
type Controls struct {
	StartEnabled    bool
	StopVisible     bool
	ProgressVisible bool
	ResultsVisible  bool
	ExportEnabled   bool
	SyncEnabled     bool
	CopyEnabled     bool
}

func ControlsFor(view ViewState, busy bool) Controls {
	running := view.Status == StatusRunning
	hasUnique := len(view.Results.Unique) > 0
	return Controls{
		StartEnabled:    !running && !busy,
		StopVisible:     running,
		ProgressVisible: running,
		ResultsVisible:  !running && !view.Results.Empty(),
		ExportEnabled:   !running && !busy && hasUnique,
		SyncEnabled:     !busy && strings.TrimSpace(view.LastExportedArtifact) != "",
		CopyEnabled:     hasUnique,
	}
}
