package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"orarsync/internal/auth"
	"orarsync/internal/calendar"
	"orarsync/internal/config"
	"orarsync/internal/fetch"
	"orarsync/internal/schedule"
	"orarsync/internal/snapshot"
	"orarsync/internal/sync"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `orarsync - university schedule to calendar sync

Fetches the timetable for one study group from orar.usarb.md and mirrors
it into a calendar (iCloud via CalDAV, or Google Calendar), one event per
lesson. A JSON snapshot of the last synced state makes repeated runs
cheap: unchanged lessons are skipped, changed ones are replaced, removed
ones are deleted.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help            Show this help message and exit
    -v, --verbose         Enable verbose output (show DEBUG logs)
    --config FILE         Path to JSON config file (optional)
    --group NAME          Study group, e.g. IT11Z
                          (overrides config file and GROUP_NAME env var)
    --backend NAME        Calendar backend: caldav or google
                          (overrides config file and CALENDAR_BACKEND env var)
    --calendar NAME       Destination calendar name
                          (overrides config file and CALENDAR_NAME env var)
    --snapshot PATH       Path to the snapshot file
                          (overrides config file and SNAPSHOT_PATH env var)
    --start-week N        First week to sync (default: the current week)
    --end-week N          Last week to sync (default: per MONITOR_WEEKS)
    --check               Only report what would change; touch nothing
    --accept              Record the fetched schedule as the baseline
                          without touching the calendar (silences the
                          pending changes /check and the bot report)
    --status              Print the synced baseline and exit
    --no-overwrite        Never replace existing events, only add and delete

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (a .env file is read if present)
    3. Config file (--config)
    4. Defaults

ENVIRONMENT VARIABLES:
    SCHEDULE_URL, GROUP_NAME, SEMESTER, MONITOR_WEEKS,
    CALENDAR_BACKEND, CALENDAR_NAME, UID_SUFFIX,
    CALDAV_URL, ICLOUD_USERNAME, ICLOUD_PASSWORD,
    GOOGLE_CREDENTIALS_PATH, GOOGLE_TOKEN_PATH,
    SNAPSHOT_PATH, WEEK_ZERO_START, DAY_START, LESSON_MINUTES,
    BREAK_MINUTES

    For iCloud, use an app-specific password from
    https://appleid.apple.com/account/manage and create the destination
    calendar by hand first.

EXAMPLES:
    # Sync the current and next week for a group to iCloud
    GROUP_NAME=IT11Z %s

    # See what changed without touching the calendar
    %s --group IT11Z --check

    # Accept the current schedule as the baseline without syncing
    %s --group IT11Z --accept

    # Resync a specific week range to Google Calendar
    %s --group IT11Z --backend google --start-week 1 --end-week 15

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	configFile := flag.String("config", "", "Path to JSON config file")
	group := flag.String("group", "", "Study group name")
	backend := flag.String("backend", "", "Calendar backend: caldav or google")
	calendarName := flag.String("calendar", "", "Destination calendar name")
	snapshotPath := flag.String("snapshot", "", "Path to the snapshot file")
	startWeek := flag.Int("start-week", 0, "First week to sync")
	endWeek := flag.Int("end-week", 0, "Last week to sync")
	checkOnly := flag.Bool("check", false, "Only report what would change")
	acceptOnly := flag.Bool("accept", false, "Record the fetched schedule as the baseline without touching the calendar")
	statusOnly := flag.Bool("status", false, "Print the synced baseline and exit")
	noOverwrite := flag.Bool("no-overwrite", false, "Never replace existing events")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *verboseFlag || *verboseFlagShort {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configFile, config.Flags{
		Group:        *group,
		Backend:      *backend,
		CalendarName: *calendarName,
		SnapshotPath: *snapshotPath,
	})
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	term, err := cfg.Term()
	if err != nil {
		log.Error("invalid term configuration", "error", err)
		os.Exit(1)
	}

	weeks, err := weekRange(cfg, term, *startWeek, *endWeek)
	if err != nil {
		log.Error("invalid week range", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	fetcher := fetch.NewClient(cfg.ScheduleURL, cfg.Semester, log)
	store := snapshot.NewStore(cfg.SnapshotPath, log)

	if *statusOnly {
		synced := store.Weeks(cfg.Group)
		if len(synced) == 0 {
			fmt.Printf("No synced baseline for %s in %s.\n", cfg.Group, cfg.SnapshotPath)
			return
		}
		fmt.Printf("Synced baseline for %s (%s):\n", cfg.Group, cfg.SnapshotPath)
		for _, week := range synced {
			fmt.Printf("  week %d: %d lesson(s)\n", week, len(store.Slice(cfg.Group, week)))
		}
		return
	}

	if *checkOnly {
		monitor := sync.NewMonitor(fetcher, store, log)
		changes, failed := monitor.Check(ctx, cfg.Group, weeks)
		if len(changes) == 0 {
			fmt.Printf("No schedule changes for %s.\n", cfg.Group)
		} else {
			fmt.Println(schedule.FormatChanges(changes))
		}
		if len(failed) > 0 {
			log.Warn("some weeks could not be fetched", "weeks", failed)
			os.Exit(1)
		}
		return
	}

	if *acceptOnly {
		monitor := sync.NewMonitor(fetcher, store, log)
		current, failed := monitor.FetchCurrent(ctx, cfg.Group, weeks)
		if changes := monitor.DetectChanges(cfg.Group, weeks, current); len(changes) > 0 {
			fmt.Println(schedule.FormatChanges(changes))
		}
		if err := monitor.CommitSnapshot(cfg.Group, current); err != nil {
			log.Error("failed to save the snapshot", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Recorded baseline for %s: %d week(s).\n", cfg.Group, len(current))
		if len(failed) > 0 {
			log.Warn("some weeks could not be fetched and keep their old baseline", "weeks", failed)
			os.Exit(1)
		}
		return
	}

	cal, err := newCalendarClient(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open calendar backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}

	reconciler := sync.NewReconciler(fetcher, cal, store, term, cfg.UIDSuffix, log)
	summary, err := reconciler.Reconcile(ctx, cfg.Group, weeks, !*noOverwrite)
	if err != nil {
		log.Error("failed to save the snapshot", "error", err)
	}

	fmt.Printf("Sync finished for %s: %d created, %d updated, %d deleted, %d skipped, %d failed.\n",
		cfg.Group, summary.Created, summary.Updated, summary.Deleted, summary.Skipped, summary.Failed)
	if len(summary.FailedWeeks) > 0 {
		fmt.Printf("Weeks not committed (will be retried): %v\n", summary.FailedWeeks)
		os.Exit(1)
	}
	if err != nil {
		os.Exit(1)
	}
}

// newCalendarClient opens the configured calendar backend.
func newCalendarClient(ctx context.Context, cfg *config.Config, log *slog.Logger) (calendar.Client, error) {
	switch cfg.Backend {
	case config.BackendCalDAV:
		return calendar.NewCalDAVClient(ctx, cfg.CalDAVURL, cfg.ICloudUsername, cfg.ICloudPassword, cfg.CalendarName, log)
	case config.BackendGoogle:
		oauthConfig, err := auth.LoadOAuthConfig(cfg.GoogleCredentialsPath)
		if err != nil {
			return nil, err
		}
		tokens := auth.NewFileTokenStore(cfg.GoogleTokenPath)
		httpClient, err := auth.AuthenticatedClient(ctx, oauthConfig, tokens, os.Stdin)
		if err != nil {
			return nil, err
		}
		return calendar.NewGoogleClient(ctx, httpClient, cfg.CalendarName, log)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// weekRange resolves the weeks to operate on: an explicit flag range when
// given, the configured monitor window otherwise.
func weekRange(cfg *config.Config, term schedule.Term, start, end int) ([]int, error) {
	if start == 0 && end == 0 {
		return cfg.MonitorWindow(term, time.Now()), nil
	}
	if start == 0 {
		start = term.WeekOf(time.Now())
	}
	if end == 0 {
		end = start + cfg.MonitorWeeks - 1
	}
	if start < 1 || end < start {
		return nil, fmt.Errorf("weeks %d..%d make no sense", start, end)
	}
	weeks := make([]int, 0, end-start+1)
	for w := start; w <= end; w++ {
		weeks = append(weeks, w)
	}
	return weeks, nil
}
