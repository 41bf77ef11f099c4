// Package sync turns fetched schedules into calendar state: the Monitor
// classifies what changed since the last committed snapshot, the
// Reconciler applies a schedule to the calendar store and advances the
// snapshot week by week.
package sync

import (
	"context"
	"log/slog"

	"orarsync/internal/schedule"
	"orarsync/internal/snapshot"
)

// Fetcher retrieves raw lesson records for one (group, week). Implemented
// by internal/fetch; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, group string, week int) ([]schedule.RawLesson, error)
}

// Current is a freshly fetched, normalized schedule, keyed by week then
// lesson identity. Weeks whose fetch failed are absent, never empty.
type Current map[int]map[string]schedule.Lesson

// Monitor detects schedule changes against the snapshot baseline.
type Monitor struct {
	fetcher Fetcher
	store   *snapshot.Store
	log     *slog.Logger
}

// NewMonitor creates a Monitor.
func NewMonitor(fetcher Fetcher, store *snapshot.Store, log *slog.Logger) *Monitor {
	return &Monitor{fetcher: fetcher, store: store, log: log}
}

// FetchCurrent fetches and normalizes the schedule for the given weeks.
// A week whose fetch fails is reported in failedWeeks and left out of the
// result; the caller must not treat it as an empty week.
func (m *Monitor) FetchCurrent(ctx context.Context, group string, weeks []int) (current Current, failedWeeks []int) {
	current = Current{}
	for _, week := range weeks {
		raws, err := m.fetcher.Fetch(ctx, group, week)
		if err != nil {
			m.log.Warn("skipping week, fetch failed", "group", group, "week", week, "error", err)
			failedWeeks = append(failedWeeks, week)
			continue
		}
		current[week] = schedule.Normalize(group, week, raws)
	}
	return current, failedWeeks
}

// DetectChanges classifies current against the snapshot, one (group, week)
// slice at a time. Weeks absent from current (failed fetches) are not
// compared at all.
func (m *Monitor) DetectChanges(group string, weeks []int, current Current) []schedule.Change {
	var changes []schedule.Change
	for _, week := range weeks {
		currentWeek, ok := current[week]
		if !ok {
			continue
		}
		weekChanges := schedule.Diff(m.store.Slice(group, week), currentWeek)
		for _, c := range weekChanges {
			m.log.Info("schedule change",
				"kind", string(c.Kind), "group", group, "week", c.Week,
				"day", c.Day, "lesson", c.Number, "identity", c.Identity)
		}
		changes = append(changes, weekChanges...)
	}
	return changes
}

// Check fetches the given weeks and classifies them in one call.
func (m *Monitor) Check(ctx context.Context, group string, weeks []int) (changes []schedule.Change, failedWeeks []int) {
	current, failedWeeks := m.FetchCurrent(ctx, group, weeks)
	return m.DetectChanges(group, weeks, current), failedWeeks
}

// CommitSnapshot replaces the snapshot slices for every week present in
// current and persists the file. Weeks absent from current are untouched.
func (m *Monitor) CommitSnapshot(group string, current Current) error {
	for week, lessons := range current {
		m.store.SetSlice(group, week, lessons)
	}
	return m.store.Save()
}
