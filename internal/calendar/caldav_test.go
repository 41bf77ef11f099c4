package calendar

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeCalDAV is an in-memory CalDAV server covering the verbs the client
// uses: PROPFIND, PUT (create-only via If-None-Match), GET, DELETE and
// REPORT.
type fakeCalDAV struct {
	objects map[string]string // object path -> ics payload
}

func newFakeCalDAV() *fakeCalDAV {
	return &fakeCalDAV{objects: map[string]string{}}
}

func (f *fakeCalDAV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := r.BasicAuth(); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case "PROPFIND":
		w.WriteHeader(http.StatusMultiStatus)
	case "PUT":
		if _, exists := f.objects[r.URL.Path]; exists && r.Header.Get("If-None-Match") == "*" {
			w.WriteHeader(http.StatusPreconditionFailed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		w.WriteHeader(http.StatusCreated)
	case "GET":
		payload, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/calendar")
		io.WriteString(w, payload)
	case "DELETE":
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	case "REPORT":
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`)
		for path, payload := range f.objects {
			var escaped strings.Builder
			xml.EscapeText(&escaped, []byte(payload))
			fmt.Fprintf(&b, `<d:response><d:href>%s</d:href><d:propstat><d:prop><c:calendar-data>%s</c:calendar-data></d:prop></d:propstat></d:response>`,
				path, escaped.String())
		}
		b.WriteString(`</d:multistatus>`)
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, b.String())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestClient(t *testing.T) (*CalDAVClient, *fakeCalDAV) {
	t.Helper()
	fake := newFakeCalDAV()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewCalDAVClient(context.Background(), server.URL, "student@example.com", "app-password", "USARB Schedule", testLogger())
	require.NoError(t, err)
	return client, fake
}

func testEvent(key string) *Event {
	return &Event{
		Key:         key,
		Title:       "Math | Lecture",
		Description: "Lesson 3\nTeacher: Popescu V.",
		Location:    "224",
		Start:       time.Date(2025, 11, 10, 11, 30, 0, 0, time.UTC),
		End:         time.Date(2025, 11, 10, 13, 0, 0, 0, time.UTC),
	}
}

func TestCalDAVCreateAndFind(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	key := EventKey("aabbccddeeff00112233445566778899", "orarsync.local")

	absent, err := client.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, absent, "absent key should be (nil, nil)")

	require.NoError(t, client.Create(ctx, testEvent(key)))

	found, err := client.FindByKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, key, found.Key)
	assert.Equal(t, "Math | Lecture", found.Title)
	assert.Equal(t, "224", found.Location)
	assert.True(t, found.Start.Equal(time.Date(2025, 11, 10, 11, 30, 0, 0, time.UTC)))
}

func TestCalDAVCreateExistingIsAlreadyExists(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	key := EventKey("aabbccddeeff00112233445566778899", "orarsync.local")

	require.NoError(t, client.Create(ctx, testEvent(key)))

	err := client.Create(ctx, testEvent(key))
	require.Error(t, err)
	assert.True(t, IsAlreadyExists(err), "retried create must surface AlreadyExists, got %v", err)
}

func TestCalDAVDelete(t *testing.T) {
	client, fake := newTestClient(t)
	ctx := context.Background()
	key := EventKey("aabbccddeeff00112233445566778899", "orarsync.local")

	require.NoError(t, client.Create(ctx, testEvent(key)))
	require.Len(t, fake.objects, 1)

	require.NoError(t, client.Delete(ctx, key))
	assert.Empty(t, fake.objects)

	// Deleting a key that is already gone is fine.
	assert.NoError(t, client.Delete(ctx, key))
}

func TestCalDAVDeleteThenCreateReplacesEvent(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	key := EventKey("aabbccddeeff00112233445566778899", "orarsync.local")

	require.NoError(t, client.Create(ctx, testEvent(key)))

	changed := testEvent(key)
	changed.Location = "301"
	require.NoError(t, client.Delete(ctx, key))
	require.NoError(t, client.Create(ctx, changed))

	found, err := client.FindByKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "301", found.Location)
}

func TestCalDAVSearch(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	keys := []string{
		EventKey("11111111111111111111111111111111", "orarsync.local"),
		EventKey("22222222222222222222222222222222", "orarsync.local"),
	}
	for _, key := range keys {
		require.NoError(t, client.Create(ctx, testEvent(key)))
	}

	events, err := client.Search(ctx,
		time.Date(2025, 11, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, events, 2)

	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.Key] = true
	}
	for _, key := range keys {
		assert.True(t, seen[key], "search missing key %s", key)
	}
}

func TestEventKeyRoundTrip(t *testing.T) {
	key := EventKey("aabbccddeeff00112233445566778899", "orarsync.local")
	assert.Equal(t, "aabbccddeeff00112233445566778899@orarsync.local", key)
	assert.Equal(t, "aabbccddeeff00112233445566778899", IdentityFromKey(key))
	assert.Equal(t, "", IdentityFromKey("not-a-derived-key"))
}
