package calendar

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// CalDAVClient stores events on a CalDAV server (iCloud in practice).
// Event objects live at "<calendar>/<identity>.ics" with the event key as
// UID, so creates are naturally idempotent: a retried PUT of the same key
// hits the same object.
type CalDAVClient struct {
	httpClient   *http.Client
	serverURL    string
	username     string
	password     string
	calendarPath string
	log          *slog.Logger
}

// NewCalDAVClient connects to a CalDAV server and locates the named
// calendar. serverURL is the CalDAV root (e.g. "https://caldav.icloud.com");
// the password should be an app-specific password for iCloud.
//
// iCloud does not allow calendar creation over CalDAV, so a missing
// calendar is an error asking the user to create it by hand.
func NewCalDAVClient(ctx context.Context, serverURL, username, password, calendarName string, log *slog.Logger) (*CalDAVClient, error) {
	c := &CalDAVClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		username:   username,
		password:   password,
		log:        log,
	}

	basePath := fmt.Sprintf("/%s/calendars/", username)
	c.calendarPath = basePath + strings.ToLower(strings.ReplaceAll(calendarName, " ", "-")) + "/"

	propfind := `<?xml version="1.0" encoding="utf-8" ?>
<d:propfind xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:displayname/>
  </d:prop>
</d:propfind>`

	resp, err := c.makeRequest(ctx, "PROPFIND", c.calendarPath, strings.NewReader(propfind))
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, &Error{
			Op:         "connect",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("calendar %q not found; create it manually in the calendar app", calendarName),
		}
	}

	return c, nil
}

func (c *CalDAVClient) makeRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Depth", "1")
	switch method {
	case "PUT":
		req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	case "PROPFIND", "REPORT":
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}

	return c.httpClient.Do(req)
}

// objectPath is the CalDAV object URL path for an event key. The object
// name is the identity alone; the UID inside the payload carries the full
// key.
func (c *CalDAVClient) objectPath(key string) string {
	identity := IdentityFromKey(key)
	if identity == "" {
		identity = key
	}
	return c.calendarPath + identity + ".ics"
}

// FindByKey fetches a single event, or (nil, nil) if it does not exist.
func (c *CalDAVClient) FindByKey(ctx context.Context, key string) (*Event, error) {
	resp, err := c.makeRequest(ctx, "GET", c.objectPath(key), nil)
	if err != nil {
		return nil, &Error{Op: "find", Key: key, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Op: "find", Key: key, StatusCode: resp.StatusCode}
	}

	cal, err := ical.NewDecoder(resp.Body).Decode()
	if err != nil {
		return nil, &Error{Op: "find", Key: key, Err: err}
	}
	event, err := eventFromICal(cal)
	if err != nil {
		return nil, &Error{Op: "find", Key: key, Err: err}
	}
	return event, nil
}

// Create stores a new event. The PUT carries If-None-Match so the server
// refuses to overwrite; a 412 means the key already exists and is reported
// through AlreadyExists for the engines to count as success.
func (c *CalDAVClient) Create(ctx context.Context, event *Event) error {
	cal, err := eventToICal(event)
	if err != nil {
		return &Error{Op: "create", Key: event.Key, Err: err}
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return &Error{Op: "create", Key: event.Key, Err: fmt.Errorf("encode: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+c.objectPath(event.Key), &buf)
	if err != nil {
		return &Error{Op: "create", Key: event.Key, Err: err}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	req.Header.Set("If-None-Match", "*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Op: "create", Key: event.Key, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusPreconditionFailed:
		return &Error{Op: "create", Key: event.Key, StatusCode: resp.StatusCode, AlreadyExists: true}
	default:
		return &Error{Op: "create", Key: event.Key, StatusCode: resp.StatusCode}
	}
}

// Delete removes an event. A key that is already gone is not an error.
func (c *CalDAVClient) Delete(ctx context.Context, key string) error {
	resp, err := c.makeRequest(ctx, "DELETE", c.objectPath(key), nil)
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return &Error{Op: "delete", Key: key, StatusCode: resp.StatusCode}
	}
}

// Search returns all events in the calendar overlapping the time window,
// using a CalDAV REPORT so one round-trip preloads every existing key.
func (c *CalDAVClient) Search(ctx context.Context, start, end time.Time) ([]*Event, error) {
	query := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8" ?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <D:getetag/>
    <C:calendar-data/>
  </D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="%s" end="%s"/>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`,
		start.UTC().Format("20060102T150405Z"), end.UTC().Format("20060102T150405Z"))

	resp, err := c.makeRequest(ctx, "REPORT", c.calendarPath, strings.NewReader(query))
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, &Error{Op: "search", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}

	payloads, err := parseMultistatus(body)
	if err != nil {
		return nil, &Error{Op: "search", Err: err}
	}

	var events []*Event
	for _, payload := range payloads {
		cal, err := ical.NewDecoder(strings.NewReader(payload)).Decode()
		if err != nil {
			c.log.Warn("skipping unparsable calendar object", "error", err)
			continue
		}
		event, err := eventFromICal(cal)
		if err != nil {
			c.log.Warn("skipping calendar object without usable VEVENT", "error", err)
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// parseMultistatus extracts the calendar-data payloads from a CalDAV
// REPORT response.
func parseMultistatus(body []byte) ([]string, error) {
	type prop struct {
		CalendarData string `xml:"calendar-data"`
	}
	type response struct {
		Prop prop `xml:"propstat>prop"`
	}
	type multistatus struct {
		Responses []response `xml:"response"`
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("parse multistatus: %w", err)
	}

	var payloads []string
	for _, r := range ms.Responses {
		if r.Prop.CalendarData != "" {
			payloads = append(payloads, r.Prop.CalendarData)
		}
	}
	return payloads, nil
}

// eventFromICal converts a parsed VCALENDAR to an Event. The UID becomes
// the event key.
func eventFromICal(cal *ical.Calendar) (*Event, error) {
	var vevent *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			vevent = child
			break
		}
	}
	if vevent == nil {
		return nil, fmt.Errorf("no VEVENT in calendar object")
	}

	event := &Event{}
	if uid := vevent.Props.Get(ical.PropUID); uid != nil {
		event.Key = uid.Value
	}
	if summary := vevent.Props.Get(ical.PropSummary); summary != nil {
		event.Title = summary.Value
	}
	if desc := vevent.Props.Get(ical.PropDescription); desc != nil {
		event.Description = desc.Value
	}
	if loc := vevent.Props.Get(ical.PropLocation); loc != nil {
		event.Location = loc.Value
	}
	if dtstart := vevent.Props.Get(ical.PropDateTimeStart); dtstart != nil {
		if t, err := dtstart.DateTime(nil); err == nil {
			event.Start = t
		}
	}
	if dtend := vevent.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		if t, err := dtend.DateTime(nil); err == nil {
			event.End = t
		}
	}
	return event, nil
}

// eventToICal builds the VCALENDAR payload for an event.
func eventToICal(event *Event) (*ical.Calendar, error) {
	if event.Key == "" {
		return nil, fmt.Errorf("event has no key")
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//orarsync//EN")

	vevent := ical.NewComponent(ical.CompEvent)
	vevent.Props.SetText(ical.PropUID, event.Key)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start)
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End)
	if event.Title != "" {
		vevent.Props.SetText(ical.PropSummary, event.Title)
	}
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		vevent.Props.SetText(ical.PropLocation, event.Location)
	}
	cal.Children = append(cal.Children, vevent)

	return cal, nil
}
