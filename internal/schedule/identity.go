package schedule

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Identity derives the stable identifier for a lesson occurrence.
//
// The identifier is the md5 digest, as 32 lowercase hex characters, of the
// UTF-8 concatenation of the inputs in this exact order:
//
//	group, week, day, number, name, lessonType, teacher
//
// Integers are formatted in base 10 with no padding. The office is
// deliberately not part of the input, so a room change keeps the identity
// and shows up as a modification rather than a new lesson.
//
// The same inputs always produce the same identifier, across runs and
// machines; calendar event UIDs are derived from it, so the field order
// must never change.
func Identity(group string, week, day, number int, name, lessonType, teacher string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%d%d%d%s%s%s", group, week, day, number, name, lessonType, teacher)))
	return hex.EncodeToString(sum[:])
}
