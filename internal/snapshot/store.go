// Package snapshot persists the last successfully reconciled schedule
// state, keyed group → week → lesson identity. The file is the diff
// baseline for the next run; it is only ever advanced after a clean
// reconciliation, one (group, week) slice at a time.
package snapshot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"

	"orarsync/internal/schedule"
)

// Snapshot is the on-disk document shape. Week keys are strings because
// the document is JSON.
type Snapshot map[string]map[string]map[string]schedule.Lesson

// Store is a file-backed snapshot. It is not safe for concurrent writers;
// callers serialize access (the daemon holds a run mutex).
type Store struct {
	path string
	log  *slog.Logger
	data Snapshot
}

// NewStore creates a store for the given file and loads whatever is there.
// A missing file is an empty snapshot. An unreadable or corrupt file is
// also treated as empty, with a warning: losing the baseline only causes
// re-reconciliation, never data loss, so it must not stop a run.
func NewStore(path string, log *slog.Logger) *Store {
	s := &Store{path: path, log: log, data: Snapshot{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("snapshot unreadable, starting from empty state", "path", path, "error", err)
		}
		return s
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		log.Warn("snapshot corrupt, starting from empty state", "path", path, "error", err)
		s.data = Snapshot{}
	}
	return s
}

// Slice returns the stored lessons for one (group, week). The result is a
// copy; mutating it does not touch the snapshot.
func (s *Store) Slice(group string, week int) map[string]schedule.Lesson {
	slice := map[string]schedule.Lesson{}
	for id, lesson := range s.data[group][strconv.Itoa(week)] {
		slice[id] = lesson
	}
	return slice
}

// Weeks returns the weeks stored for a group, ascending.
func (s *Store) Weeks(group string) []int {
	var weeks []int
	for key := range s.data[group] {
		week, err := strconv.Atoi(key)
		if err != nil {
			s.log.Warn("ignoring non-numeric week key in snapshot", "group", group, "key", key)
			continue
		}
		weeks = append(weeks, week)
	}
	sort.Ints(weeks)
	return weeks
}

// SetSlice replaces the stored lessons for one (group, week). This is the
// only mutation path; it does not write to disk until Save is called.
func (s *Store) SetSlice(group string, week int, lessons map[string]schedule.Lesson) {
	if s.data[group] == nil {
		s.data[group] = map[string]map[string]schedule.Lesson{}
	}
	slice := map[string]schedule.Lesson{}
	for id, lesson := range lessons {
		slice[id] = lesson
	}
	s.data[group][strconv.Itoa(week)] = slice
}

// Save writes the snapshot to its file.
func (s *Store) Save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write snapshot file: %w", err)
	}

	return nil
}
