package sync

import (
	"context"
	"log/slog"
	"sort"

	"orarsync/internal/calendar"
	"orarsync/internal/schedule"
	"orarsync/internal/snapshot"
)

// Summary is the outcome of one reconciliation run. Every failure is
// counted here; nothing is silently dropped.
type Summary struct {
	Created     int
	Updated     int
	Deleted     int
	Skipped     int
	Failed      int
	FailedWeeks []int
}

// Total returns the number of calendar-affecting operations performed.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Deleted
}

// Reconciler applies fetched schedules to the calendar store, one week at
// a time, one lesson at a time. Ordering matters (delete before create),
// and the store offers no batch atomicity, so nothing runs in parallel.
type Reconciler struct {
	fetcher   Fetcher
	cal       calendar.Client
	store     *snapshot.Store
	term      schedule.Term
	uidSuffix string
	log       *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(fetcher Fetcher, cal calendar.Client, store *snapshot.Store, term schedule.Term, uidSuffix string, log *slog.Logger) *Reconciler {
	return &Reconciler{
		fetcher:   fetcher,
		cal:       cal,
		store:     store,
		term:      term,
		uidSuffix: uidSuffix,
		log:       log,
	}
}

// Reconcile fetches the given weeks and makes the calendar match, with
// at most one event per lesson identity:
//
//   - identity not in the calendar: create;
//   - identity present, overwrite off: skip;
//   - identity present, overwrite on and the lesson unchanged since the
//     committed baseline: skip; rewriting an identical event would make
//     every run churn the whole calendar;
//   - identity present, overwrite on, lesson modified (or missing from the
//     baseline): delete then create (a failed delete still attempts the
//     create, since a duplicate beats losing the lesson);
//   - identity in the snapshot but gone from the fetch: delete.
//
// The snapshot slice for a (group, week) is committed only after every
// create in that week succeeded, so a failed week keeps its old baseline
// and is retried whole on the next run. A create that finds its key
// already present counts as success: keys are deterministic, so it is a
// retry of work already done.
//
// The returned error reports a snapshot write failure only; per-lesson and
// per-week problems are counted in the Summary and never abort the other
// weeks.
func (r *Reconciler) Reconcile(ctx context.Context, group string, weeks []int, overwrite bool) (Summary, error) {
	var summary Summary
	if len(weeks) == 0 {
		return summary, nil
	}

	existing := r.preloadExisting(ctx, weeks)

	var commitErr error
	for _, week := range weeks {
		raws, err := r.fetcher.Fetch(ctx, group, week)
		if err != nil {
			r.log.Warn("week not reconciled, fetch failed", "group", group, "week", week, "error", err)
			summary.FailedWeeks = append(summary.FailedWeeks, week)
			continue
		}

		current := schedule.Normalize(group, week, raws)
		clean := r.reconcileWeek(ctx, group, week, current, existing, overwrite, &summary)
		if !clean {
			summary.FailedWeeks = append(summary.FailedWeeks, week)
			continue
		}

		r.store.SetSlice(group, week, current)
		if err := r.store.Save(); err != nil {
			// The calendar is already updated; only the baseline write
			// failed. The next run redoes the week, which is safe.
			r.log.Error("snapshot commit failed", "group", group, "week", week, "error", err)
			commitErr = err
		}
	}

	return summary, commitErr
}

// reconcileWeek applies one week and reports whether every create
// succeeded.
func (r *Reconciler) reconcileWeek(ctx context.Context, group string, week int, current map[string]schedule.Lesson, existing map[string]bool, overwrite bool, summary *Summary) bool {
	previous := r.store.Slice(group, week)

	modified := map[string]bool{}
	for _, c := range schedule.Diff(previous, current) {
		if c.Kind == schedule.ChangeModified {
			modified[c.Identity] = true
		}
	}

	// Lessons that disappeared from the source lose their events. A failed
	// delete is counted but does not hold the week's baseline hostage; the
	// orphaned event is logged for the user to remove.
	for id := range previous {
		if _, stillThere := current[id]; stillThere {
			continue
		}
		key := calendar.EventKey(id, r.uidSuffix)
		if err := r.cal.Delete(ctx, key); err != nil {
			r.log.Warn("failed to delete removed lesson's event", "key", key, "error", err)
			summary.Failed++
			continue
		}
		r.log.Info("deleted event for removed lesson", "group", group, "week", week, "identity", id)
		summary.Deleted++
	}

	clean := true
	for _, lesson := range sortedLessons(current) {
		key := calendar.EventKey(lesson.Identity, r.uidSuffix)
		exists, err := r.eventExists(ctx, key, existing)
		if err != nil {
			r.log.Warn("failed to check event existence", "key", key, "error", err)
			summary.Failed++
			clean = false
			continue
		}

		_, inBaseline := previous[lesson.Identity]
		switch {
		case exists && !overwrite:
			summary.Skipped++
			continue
		case exists && overwrite && inBaseline && !modified[lesson.Identity]:
			// Already reconciled and unchanged since; rewriting it would
			// just churn the calendar.
			summary.Skipped++
			continue
		case exists && overwrite:
			// No atomic replace on the store; delete first, and create even
			// if the delete failed.
			if err := r.cal.Delete(ctx, key); err != nil {
				r.log.Warn("failed to delete event before update, duplicate possible", "key", key, "error", err)
			}
		}

		if err := r.createEvent(ctx, key, lesson); err != nil {
			r.log.Warn("failed to create event", "key", key, "error", err)
			summary.Failed++
			clean = false
			continue
		}

		if exists {
			summary.Updated++
		} else {
			summary.Created++
		}
		if existing != nil {
			existing[lesson.Identity] = true
		}
	}

	return clean
}

func (r *Reconciler) createEvent(ctx context.Context, key string, lesson schedule.Lesson) error {
	start, end := r.term.LessonTimes(lesson.Week, lesson.Day, lesson.Number)
	err := r.cal.Create(ctx, &calendar.Event{
		Key:         key,
		Title:       lesson.Title(),
		Description: lesson.Description(),
		Location:    lesson.Location(),
		Start:       start,
		End:         end,
	})
	if calendar.IsAlreadyExists(err) {
		// A leftover from an interrupted earlier run; the event is there,
		// which is all that was wanted.
		r.log.Info("event already exists, treating as created", "key", key)
		return nil
	}
	return err
}

// preloadExisting fetches the identities of every managed event in the
// weeks' time window with one search, so the per-lesson existence check is
// a map lookup. If the search fails the map is built lazily through
// FindByKey instead.
func (r *Reconciler) preloadExisting(ctx context.Context, weeks []int) map[string]bool {
	minWeek, maxWeek := weeks[0], weeks[0]
	for _, w := range weeks[1:] {
		if w < minWeek {
			minWeek = w
		}
		if w > maxWeek {
			maxWeek = w
		}
	}
	start := r.term.DateOf(minWeek, 1)
	end := r.term.DateOf(maxWeek, 7).AddDate(0, 0, 1)

	events, err := r.cal.Search(ctx, start, end)
	if err != nil {
		r.log.Warn("event preload failed, falling back to per-lesson lookups", "error", err)
		return nil
	}

	existing := map[string]bool{}
	for _, ev := range events {
		if id := calendar.IdentityFromKey(ev.Key); id != "" {
			existing[id] = true
		}
	}
	r.log.Debug("preloaded existing events", "count", len(existing))
	return existing
}

// eventExists consults the preload map when there is one, the store
// otherwise.
func (r *Reconciler) eventExists(ctx context.Context, key string, existing map[string]bool) (bool, error) {
	if existing != nil {
		return existing[calendar.IdentityFromKey(key)], nil
	}
	ev, err := r.cal.FindByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return ev != nil, nil
}

// sortedLessons orders a week's lessons by day and slot so calendar
// operations and logs follow the timetable.
func sortedLessons(lessons map[string]schedule.Lesson) []schedule.Lesson {
	out := make([]schedule.Lesson, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		if out[i].Number != out[j].Number {
			return out[i].Number < out[j].Number
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}
