package history

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

const FileName = "history.json"

// Entry is one finished request execution.
type Entry struct {
	ID            string                   `json:"id"`
	ExecutedAt    time.Time                `json:"executedAt"`
	CollectionUID string                   `json:"collectionUid"`
	ItemUID       string                   `json:"itemUid"`
	RunUID        string                   `json:"runUid,omitempty"`
	RequestName   string                   `json:"requestName"`
	Environment   string                   `json:"environment,omitempty"`
	Method        string                   `json:"method"`
	URL           string                   `json:"url"`
	Status        string                   `json:"status"`
	StatusCode    int                      `json:"statusCode"`
	Duration      time.Duration            `json:"duration"`
	Timings       map[string]time.Duration `json:"timings,omitempty"`
	BodySnippet   string                   `json:"bodySnippet,omitempty"`
	Error         string                   `json:"error,omitempty"`
	Cancelled     bool                     `json:"cancelled,omitempty"`
	Tests         Tally                    `json:"tests"`
	Assertions    Tally                    `json:"assertions"`
}

type Tally struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

type Store struct {
	path       string
	maxEntries int
	entries    []Entry
	mu         sync.RWMutex
	loaded     bool
}

func NewStore(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &Store{path: path, maxEntries: maxEntries}
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked()
}

func (s *Store) Append(entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}

	s.entries = append([]Entry{entry}, s.entries...)
	s.sortEntriesLocked()
	if len(s.entries) > s.maxEntries {
		s.entries = s.entries[:s.maxEntries]
	}
	return s.persist()
}

func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copies := make([]Entry, len(s.entries))
	copy(copies, s.entries)
	return copies
}

func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return false, err
	}

	idx := -1
	for i, entry := range s.entries {
		if entry.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}

	copy(s.entries[idx:], s.entries[idx+1:])
	s.entries = s.entries[:len(s.entries)-1]
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// ByItem returns the executions of one request, newest first.
func (s *Store) ByItem(itemUID string) []Entry {
	return s.filter(func(e Entry) bool { return e.ItemUID == itemUID })
}

// ByRun returns the executions of one folder run, newest first.
func (s *Store) ByRun(runUID string) []Entry {
	if runUID == "" {
		return nil
	}
	return s.filter(func(e Entry) bool { return e.RunUID == runUID })
}

func (s *Store) ByCollection(collectionUID string) []Entry {
	return s.filter(func(e Entry) bool { return e.CollectionUID == collectionUID })
}

func (s *Store) filter(keep func(Entry) bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []Entry
	for _, entry := range s.entries {
		if keep(entry) {
			matched = append(matched, entry)
		}
	}
	return matched
}

func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "create history dir")
	}

	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "encode history")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write history tmp")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "replace history file")
	}
	return nil
}

func (s *Store) sortEntriesLocked() {
	if len(s.entries) < 2 {
		return
	}
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].ExecutedAt.After(s.entries[j].ExecutedAt)
	})
}

func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.entries = []Entry{}
			s.loaded = true
			return nil
		}
		return errdef.Wrap(errdef.CodeHistory, err, "read history")
	}

	if len(data) == 0 {
		s.entries = []Entry{}
		s.loaded = true
		return nil
	}

	if err := json.Unmarshal(data, &s.entries); err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "parse history")
	}

	s.sortEntriesLocked()
	s.loaded = true
	return nil
}
