// Package jobclienttest runs an in-process job service for tests.
package jobclienttest

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"proxy-dashboard/internal/jobclient"
	"proxy-dashboard/internal/model"
)

const DefaultExportName = "proxies_2024.tsv"

// State is what the fake service reports and how it misbehaves.
type State struct {
	Running          bool
	Progress         model.Progress
	Working          []string
	Unique           []string
	ExportedFilename string
	ExportName       string

	StartError  string
	StopError   string
	ExportError string
	SyncError   string
	// StateStatus, when set, is returned by the state endpoint instead of a body.
	StateStatus int
	// RawState, when set, is written verbatim by the state endpoint.
	RawState string
}

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	state       State
	calls       map[string]int
	inFlight    int
	maxInFlight int
	lastInput   string
	lastSync    string
	stateGate   chan struct{}
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{calls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc(jobclient.PathStart, s.handleStart)
	mux.HandleFunc(jobclient.PathStop, s.handleStop)
	mux.HandleFunc(jobclient.PathState, s.handleState)
	mux.HandleFunc(jobclient.PathExport, s.handleExport)
	mux.HandleFunc(jobclient.PathSync, s.handleSync)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Client returns a client for the fake with retries disabled.
func (s *Server) Client(t testing.TB) *jobclient.Client {
	t.Helper()
	c, err := jobclient.New(jobclient.Options{BaseURL: s.URL})
	if err != nil {
		t.Fatalf("create job client: %v", err)
	}
	return c
}

func (s *Server) Update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.calls {
		n += v
	}
	return n
}

// MaxConcurrentState is the highest number of state requests seen in flight.
func (s *Server) MaxConcurrentState() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInFlight
}

func (s *Server) LastInput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInput
}

func (s *Server) LastSyncFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// HoldState makes state requests block until the returned release func runs.
func (s *Server) HoldState() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.stateGate = gate
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.stateGate = nil
			s.mu.Unlock()
			close(gate)
		})
	}
}

func (s *Server) count(path string) {
	s.mu.Lock()
	s.calls[path]++
	s.mu.Unlock()
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.count(jobclient.PathStart)
	var body struct {
		Proxies string `json:"proxies"`
	}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastInput = body.Proxies
	switch {
	case s.state.StartError != "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": s.state.StartError})
		return
	case strings.TrimSpace(body.Proxies) == "":
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "proxy list is empty"})
		return
	case s.state.Running:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "testing already in progress"})
		return
	}

	lines := 0
	for _, l := range strings.Split(body.Proxies, "\n") {
		if strings.TrimSpace(l) != "" {
			lines++
		}
	}
	s.state.Running = true
	s.state.Progress = model.Progress{Total: uint(lines)}
	s.state.Working = nil
	s.state.Unique = nil
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("started testing %d proxies", lines),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.count(jobclient.PathStop)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.StopError != "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": s.state.StopError})
		return
	}
	s.state.Running = false
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.count(jobclient.PathState)
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	gate := s.stateGate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	st := s.state
	if st.StateStatus != 0 {
		w.WriteHeader(st.StateStatus)
		return
	}
	if st.RawState != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, st.RawState)
		return
	}
	body := map[string]any{
		"is_running": st.Running,
		"progress": map[string]uint{
			"current":    st.Progress.Current,
			"total":      st.Progress.Total,
			"working":    st.Progress.WorkingCount,
			"unique_ips": st.Progress.UniqueIPCount,
			"failed":     st.Progress.FailedCount,
		},
		"working": nonNil(st.Working),
		"unique":  nonNil(st.Unique),
	}
	if st.ExportedFilename != "" {
		body["exported_filename"] = st.ExportedFilename
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.count(jobclient.PathExport)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.ExportError != "" {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": s.state.ExportError})
		return
	}
	name := s.state.ExportName
	if name == "" {
		name = DefaultExportName
	}
	// The service reports the last export in every state response.
	s.state.ExportedFilename = name
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"filename":        name,
		"count":           len(s.state.Unique),
		"display_command": syncCommand(name),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.count(jobclient.PathSync)
	var body struct {
		Filename string `json:"filename"`
	}
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = body.Filename
	if body.Filename == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "filename is required"})
		return
	}
	if s.state.SyncError != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": s.state.SyncError})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"display_command": syncCommand(body.Filename),
	})
}

func syncCommand(name string) string {
	return "python supply/sync_proxies_v2.py -f files/proxies/" + name + " --sync"
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
