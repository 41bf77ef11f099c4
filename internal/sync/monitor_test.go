package sync

import (
	"context"
	"testing"

	"orarsync/internal/schedule"
)

func TestMonitorCheckDetectsAddedLesson(t *testing.T) {
	fetcher := &fakeFetcher{weeks: map[int][]schedule.RawLesson{11: rawWeek()}}
	store := testStore(t)
	m := NewMonitor(fetcher, store, testLogger())

	changes, failed := m.Check(context.Background(), "IT11Z", []int{11})
	if len(failed) != 0 {
		t.Fatalf("unexpected failed weeks: %v", failed)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 added changes on empty baseline, got %d", len(changes))
	}
	for _, c := range changes {
		if c.Kind != schedule.ChangeAdded {
			t.Errorf("expected added, got %s for %s", c.Kind, c.Identity)
		}
	}
}

func TestMonitorCheckIsQuietAfterCommit(t *testing.T) {
	fetcher := &fakeFetcher{weeks: map[int][]schedule.RawLesson{11: rawWeek()}}
	store := testStore(t)
	m := NewMonitor(fetcher, store, testLogger())

	current, _ := m.FetchCurrent(context.Background(), "IT11Z", []int{11})
	if err := m.CommitSnapshot("IT11Z", current); err != nil {
		t.Fatal(err)
	}

	changes, _ := m.Check(context.Background(), "IT11Z", []int{11})
	if len(changes) != 0 {
		t.Errorf("expected no changes after commit, got %d", len(changes))
	}
}

func TestMonitorDetectsOfficeChangeAsModified(t *testing.T) {
	fetcher := &fakeFetcher{weeks: map[int][]schedule.RawLesson{11: rawWeek()}}
	store := testStore(t)
	m := NewMonitor(fetcher, store, testLogger())

	current, _ := m.FetchCurrent(context.Background(), "IT11Z", []int{11})
	if err := m.CommitSnapshot("IT11Z", current); err != nil {
		t.Fatal(err)
	}

	changed := rawWeek()
	changed[0].CoursOffice = "301"
	fetcher.weeks[11] = changed

	changes, _ := m.Check(context.Background(), "IT11Z", []int{11})
	if len(changes) != 1 || changes[0].Kind != schedule.ChangeModified {
		t.Fatalf("expected exactly one modified change, got %v", changes)
	}
	if changes[0].Old.Office != "224" || changes[0].New.Office != "301" {
		t.Errorf("office change not carried: old %q new %q", changes[0].Old.Office, changes[0].New.Office)
	}
}

// A fetch failure must neither count as an empty week nor disturb later
// comparisons.
func TestMonitorFetchFailureIsNotAnEmptyWeek(t *testing.T) {
	fetcher := &fakeFetcher{weeks: map[int][]schedule.RawLesson{11: rawWeek()}}
	store := testStore(t)
	m := NewMonitor(fetcher, store, testLogger())

	current, _ := m.FetchCurrent(context.Background(), "IT11Z", []int{11})
	if err := m.CommitSnapshot("IT11Z", current); err != nil {
		t.Fatal(err)
	}

	fetcher.broken = map[int]bool{11: true}
	changes, failed := m.Check(context.Background(), "IT11Z", []int{11})
	if len(failed) != 1 || failed[0] != 11 {
		t.Fatalf("expected week 11 reported failed, got %v", failed)
	}
	if len(changes) != 0 {
		t.Errorf("a failed fetch must not look like 2 removals, got %v", changes)
	}
	if len(store.Slice("IT11Z", 11)) != 2 {
		t.Errorf("baseline must survive a failed fetch")
	}
}

// Committing a fetched schedule accepts its changes as the new baseline,
// so they stop being reported, without any calendar involvement.
func TestCommitSnapshotAcceptsPendingChanges(t *testing.T) {
	fetcher := &fakeFetcher{weeks: map[int][]schedule.RawLesson{11: rawWeek()}}
	store := testStore(t)
	m := NewMonitor(fetcher, store, testLogger())

	current, _ := m.FetchCurrent(context.Background(), "IT11Z", []int{11})
	if err := m.CommitSnapshot("IT11Z", current); err != nil {
		t.Fatal(err)
	}

	changed := rawWeek()
	changed[0].CoursOffice = "301"
	fetcher.weeks[11] = changed

	current, _ = m.FetchCurrent(context.Background(), "IT11Z", []int{11})
	if changes := m.DetectChanges("IT11Z", []int{11}, current); len(changes) != 1 {
		t.Fatalf("expected the office change to be pending, got %v", changes)
	}
	if err := m.CommitSnapshot("IT11Z", current); err != nil {
		t.Fatal(err)
	}

	changes, _ := m.Check(context.Background(), "IT11Z", []int{11})
	if len(changes) != 0 {
		t.Errorf("accepted changes must stop being reported, got %v", changes)
	}
	id := schedule.Identity("IT11Z", 11, 1, 3, "Math", "Lecture", "Popescu V.")
	if got := store.Slice("IT11Z", 11)[id].Office; got != "301" {
		t.Errorf("baseline not advanced, office = %q", got)
	}
}

func TestMonitorCommitOnlyTouchesFetchedWeeks(t *testing.T) {
	fetcher := &fakeFetcher{weeks: map[int][]schedule.RawLesson{
		11: rawWeek(),
		12: {{DayNumber: 3, CoursNr: 2, CoursName: "History", CoursType: "Seminar", TeacherName: "Ciobanu M."}},
	}}
	store := testStore(t)
	m := NewMonitor(fetcher, store, testLogger())

	current, _ := m.FetchCurrent(context.Background(), "IT11Z", []int{11, 12})
	if err := m.CommitSnapshot("IT11Z", current); err != nil {
		t.Fatal(err)
	}

	// Week 12 breaks; committing the partial fetch must leave it alone.
	fetcher.broken = map[int]bool{12: true}
	partial, failed := m.FetchCurrent(context.Background(), "IT11Z", []int{11, 12})
	if len(failed) != 1 {
		t.Fatalf("expected one failed week, got %v", failed)
	}
	if err := m.CommitSnapshot("IT11Z", partial); err != nil {
		t.Fatal(err)
	}
	if len(store.Slice("IT11Z", 12)) != 1 {
		t.Errorf("week 12 slice lost by a partial commit")
	}
}
