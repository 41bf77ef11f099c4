package schedule

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RawLesson is one record as returned by the university schedule endpoint.
// Field names follow the remote JSON; nothing here is validated.
type RawLesson struct {
	DayNumber   int        `json:"day_number"`
	CoursNr     int        `json:"cours_nr"`
	CoursName   string     `json:"cours_name"`
	CoursType   string     `json:"cours_type"`
	CoursOffice FlexString `json:"cours_office"`
	TeacherName string     `json:"teacher_name"`
}

// FlexString accepts both JSON strings and numbers; the remote endpoint
// returns offices as either depending on whether the room is numeric.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// Lesson is the canonical lesson occurrence. Values are never mutated in
// place; a changed lesson is a fresh value compared against the old one by
// identity.
type Lesson struct {
	Identity string `json:"identity"`
	Group    string `json:"group"`
	Week     int    `json:"week"`
	Day      int    `json:"day_number"`
	Number   int    `json:"lesson_number"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Office   string `json:"office"`
	Teacher  string `json:"teacher"`
}

// fieldsEqual compares everything outside the identity inputs. Since Day,
// Number, Name, Type and Teacher already feed the identity, two lessons
// sharing an identity can only differ in the office.
func (l Lesson) fieldsEqual(other Lesson) bool {
	return l.Day == other.Day &&
		l.Number == other.Number &&
		l.Name == other.Name &&
		l.Type == other.Type &&
		l.Office == other.Office &&
		l.Teacher == other.Teacher
}

// Title is the calendar event summary for the lesson.
func (l Lesson) Title() string {
	if l.Type == "" {
		return l.Name
	}
	return l.Name + " | " + l.Type
}

// Description is the calendar event body for the lesson.
func (l Lesson) Description() string {
	parts := []string{"Lesson " + strconv.Itoa(l.Number)}
	if l.Type != "" {
		parts = append(parts, "Type: "+l.Type)
	}
	if l.Office != "" {
		parts = append(parts, "Office: "+l.Office)
	} else {
		parts = append(parts, "Office: Unknown")
	}
	if l.Teacher != "" {
		parts = append(parts, "Teacher: "+l.Teacher)
	}
	return strings.Join(parts, "\n")
}

// Location is the calendar event location for the lesson.
func (l Lesson) Location() string {
	if l.Office == "" {
		return "Unknown"
	}
	return l.Office
}

// Normalize turns raw records into canonical lessons keyed by identity.
//
// Records with a zero day or lesson number are malformed filler rows in the
// source data and are dropped without comment. When two records map to the
// same identity within one fetch, the later record wins; the source gives
// no stable secondary ordering to prefer.
func Normalize(group string, week int, raws []RawLesson) map[string]Lesson {
	lessons := make(map[string]Lesson, len(raws))
	for _, raw := range raws {
		if raw.DayNumber == 0 || raw.CoursNr == 0 {
			continue
		}
		l := Lesson{
			Group:   group,
			Week:    week,
			Day:     raw.DayNumber,
			Number:  raw.CoursNr,
			Name:    raw.CoursName,
			Type:    raw.CoursType,
			Office:  string(raw.CoursOffice),
			Teacher: raw.TeacherName,
		}
		l.Identity = Identity(group, week, l.Day, l.Number, l.Name, l.Type, l.Teacher)
		lessons[l.Identity] = l
	}
	return lessons
}
