package jobclient

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"proxy-dashboard/internal/model"
)

// envelope is the command response shape shared by start/stop/export/sync.
// Older servers answer errors with only {"error": "..."} and no success flag.
type envelope struct {
	Success        *bool  `json:"success"`
	Message        string `json:"message"`
	Error          string `json:"error"`
	Filename       string `json:"filename"`
	Count          int64  `json:"count"`
	DisplayCommand string `json:"display_command"`
	Command        string `json:"command"`
}

func (e envelope) failed() bool {
	if e.Success != nil {
		return !*e.Success
	}
	return e.Error != ""
}

func (e envelope) syncHint() string {
	if e.DisplayCommand != "" {
		return e.DisplayCommand
	}
	return e.Command
}

type progressWire struct {
	Current   int64 `json:"current"`
	Total     int64 `json:"total"`
	Working   int64 `json:"working"`
	UniqueIPs int64 `json:"unique_ips"`
	Failed    int64 `json:"failed"`
}

func (p progressWire) toModel() model.Progress {
	return model.Progress{
		Current:       nonNegative(p.Current),
		Total:         nonNegative(p.Total),
		WorkingCount:  nonNegative(p.Working),
		UniqueIPCount: nonNegative(p.UniqueIPs),
		FailedCount:   nonNegative(p.Failed),
	}
}

// snapshotWire accepts both the nested state document and the flat progress
// document, where "working" is a counter instead of a list.
type snapshotWire struct {
	IsRunning        bool            `json:"is_running"`
	Progress         *progressWire   `json:"progress"`
	Working          json.RawMessage `json:"working"`
	Unique           json.RawMessage `json:"unique"`
	Current          int64           `json:"current"`
	Total            int64           `json:"total"`
	Failed           int64           `json:"failed"`
	UniqueIPs        int64           `json:"unique_ips"`
	ExportedFilename *string         `json:"exported_filename"`
}

func decodeSnapshot(body []byte) (model.JobSnapshot, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return model.JobSnapshot{}, nil
	}
	var w snapshotWire
	if err := json.Unmarshal(body, &w); err != nil {
		return model.JobSnapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	working, workingCount, err := listOrCount(w.Working)
	if err != nil {
		return model.JobSnapshot{}, fmt.Errorf("decode snapshot working: %w", err)
	}
	unique, _, err := listOrCount(w.Unique)
	if err != nil {
		return model.JobSnapshot{}, fmt.Errorf("decode snapshot unique: %w", err)
	}

	snap := model.JobSnapshot{
		IsRunning: w.IsRunning,
		Results: model.Results{
			Working: working,
			Unique:  unique,
		},
	}
	if w.Progress != nil {
		snap.Progress = w.Progress.toModel()
	} else {
		snap.Progress = progressWire{
			Current:   w.Current,
			Total:     w.Total,
			Working:   workingCount,
			UniqueIPs: w.UniqueIPs,
			Failed:    w.Failed,
		}.toModel()
	}
	if w.ExportedFilename != nil {
		snap.ExportedArtifactName = *w.ExportedFilename
	}
	return snap, nil
}

func listOrCount(raw json.RawMessage) ([]string, int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, 0, nil
	}
	if trimmed[0] == '[' {
		var out []string
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, 0, err
		}
		return out, 0, nil
	}
	var n int64
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return nil, 0, err
	}
	return nil, n, nil
}

func nonNegative(v int64) uint {
	if v < 0 {
		return 0
	}
	return uint(v)
}
