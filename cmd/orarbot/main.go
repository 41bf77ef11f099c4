package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"orarsync/internal/auth"
	"orarsync/internal/calendar"
	"orarsync/internal/config"
	"orarsync/internal/fetch"
	"orarsync/internal/snapshot"
	"orarsync/internal/sync"
	"orarsync/internal/telegram"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `orarbot - schedule watchdog with a Telegram front end

Watches the timetable of one study group on orar.usarb.md, reports
changes to a Telegram chat, and on request (or automatically with
AUTO_SYNC=true) mirrors the schedule into a calendar. Commands: /start,
/status, /check, /sync, /help.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help       Show this help message and exit
    -v, --verbose    Enable verbose output (show DEBUG logs)
    --config FILE    Path to JSON config file (optional)

ENVIRONMENT VARIABLES:
    TELEGRAM_BOT_TOKEN        Bot token from @BotFather (required)
    TELEGRAM_CHAT_ID          Chat the bot answers and reports to (required)
    CHECK_INTERVAL_MINUTES    Minutes between scheduled checks (default: 60)
    AUTO_SYNC                 Apply detected changes without being asked
    plus everything orarsync reads (GROUP_NAME, CALDAV_URL, ...).
    A .env file in the working directory is read if present.

`, os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	configFile := flag.String("config", "", "Path to JSON config file")
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

	cfg, err := config.Load(*configFile, config.Flags{})
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.TelegramBotToken == "" {
		log.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}
	if cfg.TelegramChatID == 0 {
		log.Error("TELEGRAM_CHAT_ID is required")
		os.Exit(1)
	}

	term, err := cfg.Term()
	if err != nil {
		log.Error("invalid term configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	fetcher := fetch.NewClient(cfg.ScheduleURL, cfg.Semester, log)
	store := snapshot.NewStore(cfg.SnapshotPath, log)
	monitor := sync.NewMonitor(fetcher, store, log)

	cal, err := newCalendarClient(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open calendar backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	reconciler := sync.NewReconciler(fetcher, cal, store, term, cfg.UIDSuffix, log)

	client := telegram.NewClient(cfg.TelegramBotToken, "", log)
	if me, err := client.GetMe(ctx); err != nil {
		log.Error("telegram token check failed", "error", err)
		os.Exit(1)
	} else {
		log.Info("bot authenticated", "username", me.Username)
	}

	window := func() []int { return cfg.MonitorWindow(term, time.Now()) }
	bot := telegram.NewBot(client, monitor, reconciler, cfg.Group, cfg.TelegramChatID, cfg.AutoSync, window, log)

	scheduler := cron.New()
	spec := fmt.Sprintf("@every %dm", cfg.CheckIntervalMinutes)
	if _, err := scheduler.AddFunc(spec, func() { bot.AutoCheck(ctx) }); err != nil {
		log.Error("failed to schedule the periodic check", "spec", spec, "error", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Info("orarbot running",
		"group", cfg.Group,
		"chat", cfg.TelegramChatID,
		"check_interval_minutes", cfg.CheckIntervalMinutes,
		"auto_sync", cfg.AutoSync)

	if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("bot stopped", "error", err)
		os.Exit(1)
	}
	log.Info("orarbot exiting")
}

// newCalendarClient opens the configured calendar backend. The Google
// flow may prompt on stdin for the first-run authorization code.
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
