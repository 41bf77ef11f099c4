package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"orarsync/internal/schedule"
	schedsync "orarsync/internal/sync"
)

// Checker detects pending schedule changes. Implemented by sync.Monitor.
type Checker interface {
	Check(ctx context.Context, group string, weeks []int) (changes []schedule.Change, failedWeeks []int)
}

// Syncer applies the schedule to the calendar. Implemented by
// sync.Reconciler.
type Syncer interface {
	Reconcile(ctx context.Context, group string, weeks []int, overwrite bool) (schedsync.Summary, error)
}

// Bot answers schedule commands in one Telegram chat and runs the
// periodic check.
type Bot struct {
	client   *Client
	checker  Checker
	syncer   Syncer
	group    string
	chatID   int64
	autoSync bool
	window   func() []int
	log      *slog.Logger

	// Only one check or sync runs at a time; the rest get a "busy" reply.
	running atomic.Bool

	lastCheck   atomic.Int64 // unix seconds, 0 = never
	lastChanges atomic.Int64
}

// NewBot creates a Bot bound to a single chat. window returns the weeks
// to watch; it is consulted on every run so the window follows the
// calendar.
func NewBot(client *Client, checker Checker, syncer Syncer, group string, chatID int64, autoSync bool, window func() []int, log *slog.Logger) *Bot {
	return &Bot{
		client:   client,
		checker:  checker,
		syncer:   syncer,
		group:    group,
		chatID:   chatID,
		autoSync: autoSync,
		window:   window,
		log:      log,
	}
}

// Run registers the command menu and serves commands until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.client.SetMyCommands(ctx, []BotCommand{
		{Command: "start", Description: "What this bot does"},
		{Command: "status", Description: "Monitoring status"},
		{Command: "check", Description: "Check the schedule for changes now"},
		{Command: "sync", Description: "Push the schedule to the calendar"},
		{Command: "help", Description: "List commands"},
	}); err != nil {
		b.log.Warn("failed to register command menu", "error", err)
	}
	return b.client.Poll(ctx, b.handleUpdate)
}

func (b *Bot) handleUpdate(ctx context.Context, update *Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID != b.chatID {
		b.log.Debug("ignoring message from foreign chat", "chat", msg.Chat.ID)
		return
	}

	switch Command(msg) {
	case "start":
		b.reply(ctx, fmt.Sprintf(
			"Hi! I watch the %s schedule and keep your calendar in step.\n\n"+
				"/check — look for changes now\n"+
				"/sync — push the schedule to the calendar\n"+
				"/status — monitoring status\n"+
				"/help — all commands", b.group))
	case "help":
		b.reply(ctx,
			"/start — what this bot does\n"+
				"/status — monitoring status\n"+
				"/check — check the schedule for changes now\n"+
				"/sync — push the schedule to the calendar\n"+
				"/help — this list")
	case "status":
		b.reply(ctx, b.statusText())
	case "check":
		b.runExclusive(ctx, b.doCheck)
	case "sync":
		b.runExclusive(ctx, b.doSync)
	case "":
		// Plain chatter, not a command.
	default:
		b.reply(ctx, "Unknown command. Try /help.")
	}
}

// runExclusive runs fn unless a check or sync is already in flight.
func (b *Bot) runExclusive(ctx context.Context, fn func(ctx context.Context)) {
	if !b.running.CompareAndSwap(false, true) {
		b.reply(ctx, "Busy with a previous check or sync, try again in a minute.")
		return
	}
	defer b.running.Store(false)
	fn(ctx)
}

func (b *Bot) doCheck(ctx context.Context) {
	weeks := b.window()
	changes, failed := b.checker.Check(ctx, b.group, weeks)
	b.lastCheck.Store(time.Now().Unix())
	b.lastChanges.Store(int64(len(changes)))

	var text string
	switch {
	case len(changes) == 0:
		text = fmt.Sprintf("No schedule changes for %s (weeks %s).", b.group, weekList(weeks))
	default:
		text = schedule.FormatChanges(changes)
	}
	if len(failed) > 0 {
		text += fmt.Sprintf("\n\nCouldn't fetch weeks %s; they were skipped.", weekList(failed))
	}
	b.reply(ctx, text)
}

func (b *Bot) doSync(ctx context.Context) {
	weeks := b.window()
	summary, err := b.syncer.Reconcile(ctx, b.group, weeks, true)
	if err != nil {
		b.log.Error("sync failed to persist its baseline", "error", err)
	}
	b.lastCheck.Store(time.Now().Unix())
	b.lastChanges.Store(0)
	b.reply(ctx, summaryText(summary, err))
}

// AutoCheck is the periodic job: it looks for changes, reports them to
// the chat, and, when auto-sync is on, applies them right away.
func (b *Bot) AutoCheck(ctx context.Context) {
	if !b.running.CompareAndSwap(false, true) {
		b.log.Info("skipping scheduled check, a run is already in flight")
		return
	}
	defer b.running.Store(false)

	weeks := b.window()
	changes, failed := b.checker.Check(ctx, b.group, weeks)
	b.lastCheck.Store(time.Now().Unix())
	b.lastChanges.Store(int64(len(changes)))
	if len(failed) > 0 {
		b.log.Warn("scheduled check skipped weeks", "weeks", failed)
	}
	if len(changes) == 0 {
		b.log.Info("scheduled check found no changes", "group", b.group, "weeks", weeks)
		return
	}

	b.reply(ctx, schedule.FormatChanges(changes))

	if !b.autoSync {
		b.reply(ctx, "Run /sync to apply these changes to the calendar.")
		return
	}
	summary, err := b.syncer.Reconcile(ctx, b.group, weeks, true)
	if err != nil {
		b.log.Error("auto-sync failed to persist its baseline", "error", err)
	}
	b.lastChanges.Store(0)
	b.reply(ctx, summaryText(summary, err))
}

func (b *Bot) statusText() string {
	weeks := b.window()
	text := fmt.Sprintf("Watching group %s, weeks %s.\nAuto-sync: %s.",
		b.group, weekList(weeks), onOff(b.autoSync))
	if last := b.lastCheck.Load(); last > 0 {
		text += fmt.Sprintf("\nLast check: %s, %d pending change(s).",
			time.Unix(last, 0).Format("2006-01-02 15:04"), b.lastChanges.Load())
	} else {
		text += "\nNo checks have run yet."
	}
	return text
}

func (b *Bot) reply(ctx context.Context, text string) {
	if _, err := b.client.SendMessage(ctx, b.chatID, text); err != nil {
		b.log.Error("failed to send reply", "error", err)
	}
}

func summaryText(summary schedsync.Summary, err error) string {
	text := fmt.Sprintf("Sync finished: %d created, %d updated, %d deleted, %d skipped.",
		summary.Created, summary.Updated, summary.Deleted, summary.Skipped)
	if summary.Failed > 0 {
		text += fmt.Sprintf("\n%d lesson(s) failed.", summary.Failed)
	}
	if len(summary.FailedWeeks) > 0 {
		text += fmt.Sprintf("\nWeeks %s were not committed and will be retried.", weekList(summary.FailedWeeks))
	}
	if err != nil {
		text += "\nSaving the snapshot failed; the next run will redo the work."
	}
	return text
}

func weekList(weeks []int) string {
	parts := make([]string, len(weeks))
	for i, w := range weeks {
		parts[i] = fmt.Sprintf("%d", w)
	}
	return strings.Join(parts, ", ")
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
