package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// lessonKeyProp is the private extended property that carries the event
// key on Google Calendar events, since Google assigns its own event ids.
const lessonKeyProp = "lessonKey"

// GoogleClient stores events in a Google Calendar. Events are addressed by
// the lesson key held in a private extended property.
type GoogleClient struct {
	service    *gcal.Service
	calendarID string
	log        *slog.Logger
}

// NewGoogleClient wraps an authenticated HTTP client (see internal/auth)
// and finds or creates the named calendar.
func NewGoogleClient(ctx context.Context, httpClient *http.Client, calendarName string, log *slog.Logger) (*GoogleClient, error) {
	service, err := gcal.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, &Error{Op: "connect", Err: err}
	}

	c := &GoogleClient{service: service, log: log}
	if c.calendarID, err = c.findOrCreateCalendar(calendarName); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *GoogleClient) findOrCreateCalendar(name string) (string, error) {
	list, err := c.service.CalendarList.List().Do()
	if err != nil {
		return "", &Error{Op: "connect", Err: fmt.Errorf("list calendars: %w", err)}
	}
	for _, cal := range list.Items {
		if cal.Summary == name {
			return cal.Id, nil
		}
	}

	created, err := c.service.Calendars.Insert(&gcal.Calendar{
		Summary:     name,
		Description: "University schedule, managed by orarsync",
	}).Do()
	if err != nil {
		return "", &Error{Op: "connect", Err: fmt.Errorf("create calendar: %w", err)}
	}
	c.log.Info("created calendar", "name", name, "id", created.Id)
	return created.Id, nil
}

// FindByKey looks up the event carrying the given lesson key, or (nil,
// nil) when there is none.
func (c *GoogleClient) FindByKey(ctx context.Context, key string) (*Event, error) {
	list, err := c.service.Events.List(c.calendarID).
		PrivateExtendedProperty(lessonKeyProp + "=" + key).
		SingleEvents(true).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, &Error{Op: "find", Key: key, Err: err}
	}
	if len(list.Items) == 0 {
		return nil, nil
	}
	return googleToEvent(list.Items[0]), nil
}

// Create inserts a new event. A 409 means an event with this key's derived
// id already exists and is reported through AlreadyExists.
func (c *GoogleClient) Create(ctx context.Context, event *Event) error {
	_, err := c.service.Events.Insert(c.calendarID, eventToGoogle(event)).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return &Error{Op: "create", Key: event.Key, StatusCode: apiErr.Code, AlreadyExists: true}
		}
		return &Error{Op: "create", Key: event.Key, Err: err}
	}
	return nil
}

// Delete removes the event carrying the given key. A key with no event is
// not an error. Google assigns its own event ids, so the key is resolved
// to an id first.
func (c *GoogleClient) Delete(ctx context.Context, key string) error {
	list, err := c.service.Events.List(c.calendarID).
		PrivateExtendedProperty(lessonKeyProp + "=" + key).
		SingleEvents(true).
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	if len(list.Items) == 0 {
		return nil
	}

	err = c.service.Events.Delete(c.calendarID, list.Items[0].Id).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
			return nil
		}
		return &Error{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Search returns the managed events in the time window. Events without a
// lesson key (manually created ones) are ignored.
func (c *GoogleClient) Search(ctx context.Context, start, end time.Time) ([]*Event, error) {
	var events []*Event
	pageToken := ""
	for {
		call := c.service.Events.List(c.calendarID).
			TimeMin(start.Format(time.RFC3339)).
			TimeMax(end.Format(time.RFC3339)).
			SingleEvents(true).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		list, err := call.Do()
		if err != nil {
			return nil, &Error{Op: "search", Err: err}
		}
		for _, item := range list.Items {
			if ev := googleToEvent(item); ev.Key != "" {
				events = append(events, ev)
			}
		}
		if list.NextPageToken == "" {
			return events, nil
		}
		pageToken = list.NextPageToken
	}
}

func eventToGoogle(event *Event) *gcal.Event {
	return &gcal.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       &gcal.EventDateTime{DateTime: event.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: event.End.Format(time.RFC3339)},
		Reminders:   &gcal.EventReminders{UseDefault: true, ForceSendFields: []string{"UseDefault"}},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{lessonKeyProp: event.Key},
		},
	}
}

func googleToEvent(item *gcal.Event) *Event {
	event := &Event{
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
	}
	if item.ExtendedProperties != nil && item.ExtendedProperties.Private != nil {
		event.Key = item.ExtendedProperties.Private[lessonKeyProp]
	}
	if item.Start != nil && item.Start.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, item.Start.DateTime); err == nil {
			event.Start = t
		}
	}
	if item.End != nil && item.End.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, item.End.DateTime); err == nil {
			event.End = t
		}
	}
	return event
}
