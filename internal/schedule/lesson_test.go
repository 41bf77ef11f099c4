package schedule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	raws := []RawLesson{
		{DayNumber: 1, CoursNr: 3, CoursName: "Math", CoursType: "Lecture", CoursOffice: "224", TeacherName: "Popescu V."},
		{DayNumber: 2, CoursNr: 1, CoursName: "Physics", CoursType: "Seminar", CoursOffice: "301", TeacherName: "Rotaru A."},
	}

	lessons := Normalize("IT11Z", 11, raws)
	require.Len(t, lessons, 2)

	id := Identity("IT11Z", 11, 1, 3, "Math", "Lecture", "Popescu V.")
	lesson, ok := lessons[id]
	require.True(t, ok, "math lesson not keyed by its identity")
	assert.Equal(t, "IT11Z", lesson.Group)
	assert.Equal(t, 11, lesson.Week)
	assert.Equal(t, "224", lesson.Office)
	assert.Equal(t, "Popescu V.", lesson.Teacher)
}

func TestNormalizeDropsMalformedRows(t *testing.T) {
	raws := []RawLesson{
		{DayNumber: 0, CoursNr: 3, CoursName: "Ghost"},
		{DayNumber: 3, CoursNr: 0, CoursName: "Ghost"},
		{DayNumber: 3, CoursNr: 2, CoursName: "Real", CoursType: "Lab", TeacherName: "Rotaru A."},
	}

	lessons := Normalize("IT11Z", 11, raws)
	require.Len(t, lessons, 1)
	for _, l := range lessons {
		assert.Equal(t, "Real", l.Name)
	}
}

func TestNormalizeDuplicateIdentityLastWins(t *testing.T) {
	raws := []RawLesson{
		{DayNumber: 1, CoursNr: 3, CoursName: "Math", CoursType: "Lecture", CoursOffice: "224", TeacherName: "Popescu V."},
		{DayNumber: 1, CoursNr: 3, CoursName: "Math", CoursType: "Lecture", CoursOffice: "301", TeacherName: "Popescu V."},
	}

	lessons := Normalize("IT11Z", 11, raws)
	require.Len(t, lessons, 1)
	for _, l := range lessons {
		assert.Equal(t, "301", l.Office, "later duplicate row should win")
	}
}

func TestRawLessonOfficeAcceptsStringAndNumber(t *testing.T) {
	var asString, asNumber, asNull RawLesson

	require.NoError(t, json.Unmarshal([]byte(`{"day_number":1,"cours_nr":1,"cours_office":"224a"}`), &asString))
	assert.Equal(t, FlexString("224a"), asString.CoursOffice)

	require.NoError(t, json.Unmarshal([]byte(`{"day_number":1,"cours_nr":1,"cours_office":224}`), &asNumber))
	assert.Equal(t, FlexString("224"), asNumber.CoursOffice)

	require.NoError(t, json.Unmarshal([]byte(`{"day_number":1,"cours_nr":1,"cours_office":null}`), &asNull))
	assert.Equal(t, FlexString(""), asNull.CoursOffice)
}

func TestLessonEventText(t *testing.T) {
	lesson := Lesson{Number: 3, Name: "Math", Type: "Lecture", Office: "224", Teacher: "Popescu V."}

	assert.Equal(t, "Math | Lecture", lesson.Title())
	assert.Equal(t, "Lesson 3\nType: Lecture\nOffice: 224\nTeacher: Popescu V.", lesson.Description())
	assert.Equal(t, "224", lesson.Location())

	bare := Lesson{Number: 1, Name: "Math"}
	assert.Equal(t, "Math", bare.Title())
	assert.Equal(t, "Unknown", bare.Location())
	assert.Equal(t, "Lesson 1\nOffice: Unknown", bare.Description())
}
