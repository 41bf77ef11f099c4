// Package calendar is the external calendar store boundary. The engines
// treat a calendar as a key-value store of events addressed by a key
// derived from the lesson identity; two backends implement it, CalDAV
// (iCloud) and Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is one stored calendar event as the engines see it.
type Event struct {
	// Key is "<identity>@<uid suffix>".
	Key         string
	Title       string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
}

// Client is the calendar store interface. FindByKey returns (nil, nil) for
// an absent key. Create against a key that already exists fails with an
// *Error whose AlreadyExists is true; the engines treat that as success.
type Client interface {
	FindByKey(ctx context.Context, key string) (*Event, error)
	Create(ctx context.Context, event *Event) error
	Delete(ctx context.Context, key string) error
	Search(ctx context.Context, start, end time.Time) ([]*Event, error)
}

// Error is a failed calendar operation.
type Error struct {
	Op            string
	Key           string
	StatusCode    int
	AlreadyExists bool
	Err           error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("calendar %s", e.Op)
	if e.Key != "" {
		msg += " " + e.Key
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsAlreadyExists reports whether err is a create that hit an existing
// key. Keys are deterministic, so this means a retry of work already done.
func IsAlreadyExists(err error) bool {
	var calErr *Error
	return errors.As(err, &calErr) && calErr.AlreadyExists
}

// EventKey derives the external event key for a lesson identity.
func EventKey(identity, uidSuffix string) string {
	return identity + "@" + uidSuffix
}

// IdentityFromKey is the inverse of EventKey. It returns "" for keys that
// were not produced by EventKey (manually created events, for instance).
func IdentityFromKey(key string) string {
	identity, _, ok := strings.Cut(key, "@")
	if !ok {
		return ""
	}
	return identity
}
