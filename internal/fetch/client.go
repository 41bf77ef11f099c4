// Package fetch talks to the university's schedule endpoint. The endpoint
// is session-based: a cookie and a CSRF token from the home page are
// required before the JSON APIs answer. Everything about it is treated as
// unstable; any failure is a *Error and means "skip this week this run".
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"orarsync/internal/schedule"
)

// Error is a failed schedule fetch for one (group, week). The engines
// treat it as "this week is skipped, prior snapshot untouched", never as
// an empty schedule.
type Error struct {
	Group string
	Week  int
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s week %d: %v", e.Group, e.Week, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var csrfPattern = regexp.MustCompile(`<meta\s+name="csrf-token"\s+content="([^"]+)"`)

// Client is a session client for the schedule site. It is constructed per
// run, not shared process-wide; the session cookie and CSRF token are
// acquired lazily on first use and released with the client.
type Client struct {
	http     *resty.Client
	semester int
	log      *slog.Logger

	csrf string
}

// NewClient creates a client for the given base URL (e.g.
// "https://orar.usarb.md") and semester.
func NewClient(baseURL string, semester int, log *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "orarsync/1.0")

	return &Client{http: httpClient, semester: semester, log: log}
}

// Fetch returns the raw lesson records for one group and university week.
func (c *Client) Fetch(ctx context.Context, group string, week int) ([]schedule.RawLesson, error) {
	c.log.Debug("fetch start", "group", group, "week", week)

	csrf, err := c.csrfToken(ctx)
	if err != nil {
		return nil, &Error{Group: group, Week: week, Err: err}
	}

	groupID, err := c.resolveGroup(ctx, group, csrf)
	if err != nil {
		return nil, &Error{Group: group, Week: week, Err: err}
	}

	var result struct {
		Week []schedule.RawLesson `json:"week"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"_csrf":  csrf,
			"gr":     groupID,
			"sem":    strconv.Itoa(c.semester),
			"day":    "7", // the endpoint requires it, only its frontend uses it
			"week":   strconv.Itoa(week),
			"grName": group,
		}).
		SetResult(&result).
		Post("/api/getlessons")
	if err != nil {
		return nil, &Error{Group: group, Week: week, Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Group: group, Week: week, Err: fmt.Errorf("getlessons: HTTP %d", resp.StatusCode())}
	}

	c.log.Debug("fetch done", "group", group, "week", week, "records", len(result.Week))
	return result.Week, nil
}

// csrfToken loads the home page once per client to pick up the session
// cookie and the csrf-token meta tag.
func (c *Client) csrfToken(ctx context.Context) (string, error) {
	if c.csrf != "" {
		return c.csrf, nil
	}

	resp, err := c.http.R().SetContext(ctx).Get("/")
	if err != nil {
		return "", fmt.Errorf("home page: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("home page: HTTP %d", resp.StatusCode())
	}

	match := csrfPattern.FindStringSubmatch(resp.String())
	if match == nil {
		return "", fmt.Errorf("no csrf-token meta tag on home page")
	}

	c.csrf = match[1]
	return c.csrf, nil
}

// resolveGroup maps a group name like "IT11Z" to the numeric id the
// lessons endpoint expects.
func (c *Client) resolveGroup(ctx context.Context, group, csrf string) (string, error) {
	var groups []struct {
		ID       json.RawMessage `json:"Id"`
		Denumire string          `json:"Denumire"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"_csrf": csrf}).
		SetResult(&groups).
		Post("/api/getGroups")
	if err != nil {
		return "", fmt.Errorf("getGroups: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("getGroups: HTTP %d", resp.StatusCode())
	}

	for _, g := range groups {
		if g.Denumire == group {
			return strings.Trim(string(g.ID), `"`), nil
		}
	}
	return "", fmt.Errorf("group %q not found", group)
}
