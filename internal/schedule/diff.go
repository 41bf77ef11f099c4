package schedule

import (
	"fmt"
	"strings"
)

// ChangeKind classifies a schedule change.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// Change is one classified difference between the last known schedule and a
// fresh fetch. Old is set for removed and modified changes, New for added
// and modified ones.
type Change struct {
	Kind     ChangeKind
	Week     int
	Day      int
	Number   int
	Identity string
	Old      *Lesson
	New      *Lesson
}

// Diff compares the previous snapshot slice for one (group, week) against a
// freshly normalized schedule for the same slice and classifies every
// identity in either map:
//
//   - identities only in current are Added,
//   - identities only in previous are Removed,
//   - identities in both with differing non-identity fields are Modified,
//   - identities in both with equal fields produce nothing.
//
// Changes are grouped by kind; the order of identities within a kind is not
// specified. Cross-week comparison is the caller's mistake: a lesson that
// moved weeks is a Removed in one slice and an Added in the other.
func Diff(previous, current map[string]Lesson) []Change {
	var changes []Change

	for id, lesson := range current {
		if _, ok := previous[id]; ok {
			continue
		}
		l := lesson
		changes = append(changes, Change{
			Kind:     ChangeAdded,
			Week:     l.Week,
			Day:      l.Day,
			Number:   l.Number,
			Identity: id,
			New:      &l,
		})
	}

	for id, lesson := range previous {
		if _, ok := current[id]; ok {
			continue
		}
		l := lesson
		changes = append(changes, Change{
			Kind:     ChangeRemoved,
			Week:     l.Week,
			Day:      l.Day,
			Number:   l.Number,
			Identity: id,
			Old:      &l,
		})
	}

	for id, newLesson := range current {
		oldLesson, ok := previous[id]
		if !ok || oldLesson.fieldsEqual(newLesson) {
			continue
		}
		o, n := oldLesson, newLesson
		changes = append(changes, Change{
			Kind:     ChangeModified,
			Week:     n.Week,
			Day:      n.Day,
			Number:   n.Number,
			Identity: id,
			Old:      &o,
			New:      &n,
		})
	}

	return changes
}

// FormatChanges renders a change list as the user-facing summary sent to
// chat and printed by the CLI.
func FormatChanges(changes []Change) string {
	if len(changes) == 0 {
		return "✅ No changes detected"
	}

	var added, removed, modified []Change
	for _, c := range changes {
		switch c.Kind {
		case ChangeAdded:
			added = append(added, c)
		case ChangeRemoved:
			removed = append(removed, c)
		case ChangeModified:
			modified = append(modified, c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Found %d change(s):\n", len(changes))

	if len(added) > 0 {
		fmt.Fprintf(&b, "\n➕ Added (%d):\n", len(added))
		for _, c := range added {
			fmt.Fprintf(&b, "  • %s, lesson %d (week %d)\n", WeekdayName(c.Day), c.Number, c.Week)
			fmt.Fprintf(&b, "    %s\n", c.New.Title())
		}
	}

	if len(removed) > 0 {
		fmt.Fprintf(&b, "\n➖ Removed (%d):\n", len(removed))
		for _, c := range removed {
			fmt.Fprintf(&b, "  • %s, lesson %d (week %d)\n", WeekdayName(c.Day), c.Number, c.Week)
			fmt.Fprintf(&b, "    %s\n", c.Old.Title())
		}
	}

	if len(modified) > 0 {
		fmt.Fprintf(&b, "\n✏️ Modified (%d):\n", len(modified))
		for _, c := range modified {
			fmt.Fprintf(&b, "  • %s, lesson %d (week %d)\n", WeekdayName(c.Day), c.Number, c.Week)
			fmt.Fprintf(&b, "    %s\n", c.New.Title())
			if fields := fieldDiffs(*c.Old, *c.New); len(fields) > 0 {
				fmt.Fprintf(&b, "    Changes: %s\n", strings.Join(fields, ", "))
			}
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func fieldDiffs(old, cur Lesson) []string {
	var fields []string
	if old.Name != cur.Name {
		fields = append(fields, fmt.Sprintf("name: %s → %s", old.Name, cur.Name))
	}
	if old.Type != cur.Type {
		fields = append(fields, fmt.Sprintf("type: %s → %s", old.Type, cur.Type))
	}
	if old.Office != cur.Office {
		fields = append(fields, fmt.Sprintf("office: %s → %s", old.Office, cur.Office))
	}
	if old.Teacher != cur.Teacher {
		fields = append(fields, fmt.Sprintf("teacher: %s → %s", old.Teacher, cur.Teacher))
	}
	return fields
}
