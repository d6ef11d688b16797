// Package viewstore keeps the dashboard's local-only choices (input text,
// selected result tab, last exported artifact) across restarts. It is a
// best-effort cache: every failure degrades to defaults.
package viewstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"proxy-dashboard/internal/model"
)

const (
	DefaultNamespace = "proxy-dashboard/proxies"
	FileName         = "view-state.json"
)

// Record is the persisted shape. ExportedFilename is null when nothing was
// exported since the last Start. ClearedFilename is the export that Start
// dropped, so a later session does not take it back from the service.
type Record struct {
	Input            string  `json:"input"`
	ActiveTab        string  `json:"activeTab"`
	ExportedFilename *string `json:"exportedFilename"`
	HasResults       bool    `json:"hasResults"`
	ClearedFilename  string  `json:"clearedFilename,omitempty"`
}

func DefaultRecord() Record {
	return Record{ActiveTab: string(model.TabWorking)}
}

// FromView captures the persisted subset of view.
func FromView(view model.ViewState) Record {
	rec := Record{
		Input:      view.InputText,
		ActiveTab:  string(view.ActiveTab),
		HasResults: !view.Results.Empty(),
	}
	if name := strings.TrimSpace(view.LastExportedArtifact); name != "" {
		rec.ExportedFilename = &name
	}
	return rec
}

// Seed builds the load-time view: persisted local fields on an idle status.
func (r Record) Seed() model.ViewState {
	view := model.NewViewState()
	view.InputText = r.Input
	if tab, ok := model.ParseTab(r.ActiveTab); ok {
		view.ActiveTab = tab
	}
	if r.ExportedFilename != nil {
		view.LastExportedArtifact = strings.TrimSpace(*r.ExportedFilename)
	}
	return view
}

// Store maps one namespace key inside a shared JSON object file.
type Store struct {
	path      string
	namespace string
}

func New(dir, namespace string) *Store {
	if strings.TrimSpace(namespace) == "" {
		namespace = DefaultNamespace
	}
	return &Store{
		path:      filepath.Join(dir, FileName),
		namespace: namespace,
	}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Namespace() string {
	return s.namespace
}

// Load returns the stored record. A missing file is not an error; corrupt or
// unreadable data yields DefaultRecord together with a persistence error the
// caller is expected to log and otherwise ignore.
func (s *Store) Load() (Record, error) {
	entries, err := s.readAll()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultRecord(), nil
		}
		return DefaultRecord(), model.NewError(model.KindPersistence, "load view state", "", err)
	}
	raw, ok := entries[s.namespace]
	if !ok || len(raw) == 0 {
		return DefaultRecord(), nil
	}

	rec := DefaultRecord()
	if err := json.Unmarshal(raw, &rec); err != nil {
		return DefaultRecord(), model.NewError(model.KindPersistence, "load view state", "discarding corrupt record", err)
	}
	if _, ok := model.ParseTab(rec.ActiveTab); !ok {
		rec.ActiveTab = string(model.TabWorking)
	}
	return rec, nil
}

// Save replaces the namespace key, keeping other keys in the file. A file that
// cannot be parsed is rewritten from scratch.
func (s *Store) Save(rec Record) error {
	entries, err := s.readAll()
	if err != nil {
		entries = map[string]json.RawMessage{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return model.NewError(model.KindPersistence, "save view state", "", err)
	}
	entries[s.namespace] = data
	if err := WriteJSON(s.path, entries); err != nil {
		return model.NewError(model.KindPersistence, "save view state", "", err)
	}
	return nil
}

func (s *Store) Clear() error {
	entries, err := s.readAll()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		entries = map[string]json.RawMessage{}
	}
	delete(entries, s.namespace)
	if err := WriteJSON(s.path, entries); err != nil {
		return model.NewError(model.KindPersistence, "clear view state", "", err)
	}
	return nil
}

func (s *Store) readAll() (map[string]json.RawMessage, error) {
	entries := map[string]json.RawMessage{}
	if err := ReadJSON(s.path, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = map[string]json.RawMessage{}
	}
	return entries, nil
}
