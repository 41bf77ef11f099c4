// Package config assembles the runtime configuration from command-line
// flags, environment variables, an optional JSON file and built-in
// defaults, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"orarsync/internal/schedule"
)

// Calendar backends.
const (
	BackendCalDAV = "caldav"
	BackendGoogle = "google"
)

// Config holds everything the sync tool and the bot need.
type Config struct {
	// Schedule source.
	ScheduleURL string `json:"schedule_url,omitempty"`
	Group       string `json:"group"`
	Semester    int    `json:"semester,omitempty"`

	// How many weeks ahead (including the current one) are monitored and
	// reconciled.
	MonitorWeeks int `json:"monitor_weeks,omitempty"`

	// Calendar destination.
	Backend      string `json:"backend,omitempty"` // "caldav" or "google"
	CalendarName string `json:"calendar_name,omitempty"`
	UIDSuffix    string `json:"uid_suffix,omitempty"`

	// CalDAV backend.
	CalDAVURL      string `json:"caldav_url,omitempty"`
	ICloudUsername string `json:"icloud_username,omitempty"`
	ICloudPassword string `json:"icloud_password,omitempty"`

	// Google backend.
	GoogleCredentialsPath string `json:"google_credentials_path,omitempty"`
	GoogleTokenPath       string `json:"google_token_path,omitempty"`

	// Snapshot baseline file.
	SnapshotPath string `json:"snapshot_path,omitempty"`

	// Telegram bot.
	TelegramBotToken     string `json:"telegram_bot_token,omitempty"`
	TelegramChatID       int64  `json:"telegram_chat_id,omitempty"`
	CheckIntervalMinutes int    `json:"check_interval_minutes,omitempty"`
	AutoSync             bool   `json:"auto_sync,omitempty"`

	// Term shape. WeekZeroStart is the Monday week 1 counts from,
	// DayStart the first lesson's wall-clock time.
	WeekZeroStart string `json:"week_zero_start,omitempty"` // YYYY-MM-DD
	DayStart      string `json:"day_start,omitempty"`       // HH:MM
	LessonMinutes int    `json:"lesson_minutes,omitempty"`
	BreakMinutes  int    `json:"break_minutes,omitempty"`
}

// Flags carries the command-line overrides; zero values mean "not set".
type Flags struct {
	Group        string
	Backend      string
	CalendarName string
	SnapshotPath string
}

// LoadFromFile loads configuration from a JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// Load builds the configuration with the following precedence (highest to
// lowest):
//  1. Command-line flags
//  2. Environment variables (a .env file in the working directory is
//     read first, without overriding the real environment)
//  3. Config file
//  4. Defaults
//
// Returns an error if a required value is missing or unparseable.
func Load(configFile string, flags Flags) (*Config, error) {
	_ = godotenv.Load()

	var config Config

	// Step 1: config file, if any.
	if configFile != "" {
		fileConfig, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: environment variables.
	setString(&config.ScheduleURL, "SCHEDULE_URL")
	setString(&config.Group, "GROUP_NAME")
	setString(&config.Backend, "CALENDAR_BACKEND")
	setString(&config.CalendarName, "CALENDAR_NAME")
	setString(&config.UIDSuffix, "UID_SUFFIX")
	setString(&config.CalDAVURL, "CALDAV_URL")
	setString(&config.ICloudUsername, "ICLOUD_USERNAME")
	setString(&config.ICloudPassword, "ICLOUD_PASSWORD")
	setString(&config.GoogleCredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	setString(&config.GoogleTokenPath, "GOOGLE_TOKEN_PATH")
	setString(&config.SnapshotPath, "SNAPSHOT_PATH")
	setString(&config.TelegramBotToken, "TELEGRAM_BOT_TOKEN")
	setString(&config.WeekZeroStart, "WEEK_ZERO_START")
	setString(&config.DayStart, "DAY_START")
	if err := setInt(&config.Semester, "SEMESTER"); err != nil {
		return nil, err
	}
	if err := setInt(&config.MonitorWeeks, "MONITOR_WEEKS"); err != nil {
		return nil, err
	}
	if err := setInt(&config.CheckIntervalMinutes, "CHECK_INTERVAL_MINUTES"); err != nil {
		return nil, err
	}
	if err := setInt(&config.LessonMinutes, "LESSON_MINUTES"); err != nil {
		return nil, err
	}
	if err := setInt(&config.BreakMinutes, "BREAK_MINUTES"); err != nil {
		return nil, err
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID value: %w", err)
		}
		config.TelegramChatID = id
	}
	if autoSync := os.Getenv("AUTO_SYNC"); autoSync != "" {
		b, err := strconv.ParseBool(autoSync)
		if err != nil {
			return nil, fmt.Errorf("invalid AUTO_SYNC value: %w", err)
		}
		config.AutoSync = b
	}

	// Step 3: command-line flags.
	if flags.Group != "" {
		config.Group = flags.Group
	}
	if flags.Backend != "" {
		config.Backend = flags.Backend
	}
	if flags.CalendarName != "" {
		config.CalendarName = flags.CalendarName
	}
	if flags.SnapshotPath != "" {
		config.SnapshotPath = flags.SnapshotPath
	}

	// Step 4: defaults.
	applyDefaults(&config)

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(config *Config) {
	if config.ScheduleURL == "" {
		config.ScheduleURL = "https://orar.usarb.md"
	}
	if config.Semester == 0 {
		config.Semester = 1
	}
	if config.MonitorWeeks == 0 {
		config.MonitorWeeks = 2
	}
	if config.Backend == "" {
		config.Backend = BackendCalDAV
	}
	if config.CalendarName == "" {
		config.CalendarName = "Orar"
	}
	if config.UIDSuffix == "" {
		config.UIDSuffix = "orarsync.usarb.md"
	}
	if config.GoogleCredentialsPath == "" {
		config.GoogleCredentialsPath = "credentials.json"
	}
	if config.GoogleTokenPath == "" {
		config.GoogleTokenPath = "token.json"
	}
	if config.SnapshotPath == "" {
		config.SnapshotPath = "schedule_snapshot.json"
	}
	if config.CheckIntervalMinutes == 0 {
		config.CheckIntervalMinutes = 60
	}
	if config.WeekZeroStart == "" {
		config.WeekZeroStart = "2025-09-01"
	}
	if config.DayStart == "" {
		config.DayStart = "08:00"
	}
	if config.LessonMinutes == 0 {
		config.LessonMinutes = 90
	}
	if config.BreakMinutes == 0 {
		config.BreakMinutes = 15
	}
}

func (c *Config) validate() error {
	if c.Group == "" {
		return fmt.Errorf("group must be provided via --group flag, GROUP_NAME environment variable, or config file")
	}
	switch c.Backend {
	case BackendCalDAV:
		if c.CalDAVURL == "" {
			return fmt.Errorf("caldav_url must be provided for the caldav backend (CALDAV_URL)")
		}
		if c.ICloudUsername == "" || c.ICloudPassword == "" {
			return fmt.Errorf("icloud_username and icloud_password must be provided for the caldav backend (ICLOUD_USERNAME, ICLOUD_PASSWORD)")
		}
	case BackendGoogle:
		// Paths have defaults; existence is checked when the backend opens
		// the files.
	default:
		return fmt.Errorf("backend must be %q or %q, got %q", BackendCalDAV, BackendGoogle, c.Backend)
	}
	if _, err := c.Term(); err != nil {
		return err
	}
	return nil
}

// Term builds the term arithmetic from the configured shape.
func (c *Config) Term() (schedule.Term, error) {
	weekZero, err := time.ParseInLocation("2006-01-02", c.WeekZeroStart, time.Local)
	if err != nil {
		return schedule.Term{}, fmt.Errorf("invalid week_zero_start %q: %w", c.WeekZeroStart, err)
	}
	dayStart, err := time.Parse("15:04", c.DayStart)
	if err != nil {
		return schedule.Term{}, fmt.Errorf("invalid day_start %q: %w", c.DayStart, err)
	}
	return schedule.Term{
		WeekZeroStart: weekZero,
		DayStart:      time.Duration(dayStart.Hour())*time.Hour + time.Duration(dayStart.Minute())*time.Minute,
		LessonLength:  time.Duration(c.LessonMinutes) * time.Minute,
		BreakLength:   time.Duration(c.BreakMinutes) * time.Minute,
	}, nil
}

// MonitorWindow returns the weeks to watch: the week containing now and
// the following MonitorWeeks-1 weeks.
func (c *Config) MonitorWindow(term schedule.Term, now time.Time) []int {
	weeks := make([]int, 0, c.MonitorWeeks)
	start := term.WeekOf(now)
	for i := 0; i < c.MonitorWeeks; i++ {
		weeks = append(weeks, start+i)
	}
	return weeks
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value: %w", key, err)
	}
	*dst = n
	return nil
}
