package schedule

import "time"

// Term describes the fixed time structure of an academic term: the Monday
// the first university week starts on, the time of day the first lesson
// begins, and how long a lesson slot and the break after it last.
//
// All methods are pure functions of the receiver and their arguments.
type Term struct {
	// WeekZeroStart is the Monday of university week 1, at midnight.
	WeekZeroStart time.Time

	// DayStart is the offset from midnight at which lesson 1 begins.
	DayStart time.Duration

	// LessonLength is the duration of one lesson slot.
	LessonLength time.Duration

	// BreakLength is the gap between the end of one slot and the start of
	// the next. Slots are otherwise back to back.
	BreakLength time.Duration
}

// WeekOf returns the university week a date falls in, clamped to a minimum
// of 1 so dates before the term start still map to a valid week.
//
// The distance is counted in calendar days, not elapsed hours: a DST
// transition makes a local day 23 or 25 hours long, and dividing elapsed
// time by 24 would drop or gain a day. Pinning both midnights to UTC
// makes every day exactly 24 hours.
func (t Term) WeekOf(date time.Time) int {
	days := int(utcMidnight(date).Sub(utcMidnight(t.WeekZeroStart)).Hours() / 24)
	week := days/7 + 1
	if days < 0 || week < 1 {
		return 1
	}
	return week
}

// DateOf is the inverse of WeekOf: the calendar date of the given weekday
// (1 = Monday .. 7 = Sunday) in the given university week.
func (t Term) DateOf(week, day int) time.Time {
	return midnight(t.WeekZeroStart).AddDate(0, 0, 7*(week-1)+(day-1))
}

// LessonWindow returns the start and end of a lesson slot as offsets from
// midnight. Lesson 1 starts at DayStart; each following slot starts one
// lesson plus one break later.
func (t Term) LessonWindow(number int) (start, end time.Duration) {
	start = t.DayStart + time.Duration(number-1)*(t.LessonLength+t.BreakLength)
	return start, start + t.LessonLength
}

// LessonTimes combines DateOf and LessonWindow into concrete start and end
// times for a lesson occurrence. The offsets are applied as wall-clock
// times, so lesson 1 is at DayStart on every date, including the days a
// DST transition shortens or stretches.
func (t Term) LessonTimes(week, day, number int) (start, end time.Time) {
	date := t.DateOf(week, day)
	from, to := t.LessonWindow(number)
	return atOffset(date, from), atOffset(date, to)
}

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// WeekdayName returns the English name for a 1-based day number. Day
// numbers come from the remote source unvalidated, so out-of-range values
// get a generic label instead of a panic.
func WeekdayName(day int) string {
	if day < 1 || day > 7 {
		return "Unknown day"
	}
	return weekdayNames[day-1]
}

func midnight(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, d.Location())
}

func utcMidnight(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

// atOffset places a midnight offset on a date as a wall-clock time.
func atOffset(date time.Time, offset time.Duration) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(),
		0, int(offset/time.Minute), 0, 0, date.Location())
}
