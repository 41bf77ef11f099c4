package telegram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orarsync/internal/schedule"
	schedsync "orarsync/internal/sync"
)

type fakeChecker struct {
	changes []schedule.Change
	failed  []int
	calls   int
}

func (f *fakeChecker) Check(ctx context.Context, group string, weeks []int) ([]schedule.Change, []int) {
	f.calls++
	return f.changes, f.failed
}

type fakeSyncer struct {
	summary   schedsync.Summary
	calls     int
	overwrite bool
}

func (f *fakeSyncer) Reconcile(ctx context.Context, group string, weeks []int, overwrite bool) (schedsync.Summary, error) {
	f.calls++
	f.overwrite = overwrite
	return f.summary, nil
}

// botFixture wires a Bot to a fake API server and records outgoing texts.
type botFixture struct {
	bot     *Bot
	checker *fakeChecker
	syncer  *fakeSyncer
	api     *fakeAPI
}

func newBotFixture(t *testing.T, chatID int64, autoSync bool) *botFixture {
	t.Helper()
	api := newFakeAPI(t, "t0ken")
	api.handle("t0ken", "sendMessage", Message{MessageID: 1})

	checker := &fakeChecker{}
	syncer := &fakeSyncer{}
	client := NewClient("t0ken", api.server.URL, testLogger())
	window := func() []int { return []int{11, 12} }
	return &botFixture{
		bot:     NewBot(client, checker, syncer, "IT11Z", chatID, autoSync, window, testLogger()),
		checker: checker,
		syncer:  syncer,
		api:     api,
	}
}

func (f *botFixture) sentTexts() []string {
	var texts []string
	for _, call := range f.api.calls["sendMessage"] {
		texts = append(texts, call["text"].(string))
	}
	return texts
}

func command(chatID int64, text string) *Update {
	return &Update{
		UpdateID: 1,
		Message: &Message{
			Chat:     &Chat{ID: chatID, Type: "private"},
			Text:     text,
			Entities: []MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		},
	}
}

func TestBotIgnoresForeignChats(t *testing.T) {
	f := newBotFixture(t, 42, false)

	f.bot.handleUpdate(context.Background(), command(99, "/check"))

	assert.Zero(t, f.checker.calls)
	assert.Empty(t, f.sentTexts())
}

func TestBotCheckReportsChanges(t *testing.T) {
	f := newBotFixture(t, 42, false)
	lesson := schedule.Lesson{Identity: "abc", Group: "IT11Z", Week: 11, Day: 3, Number: 2, Name: "Math", Type: "Lecture"}
	f.checker.changes = []schedule.Change{{Kind: schedule.ChangeAdded, Week: 11, Day: 3, Number: 2, Identity: "abc", New: &lesson}}

	f.bot.handleUpdate(context.Background(), command(42, "/check"))

	require.Equal(t, 1, f.checker.calls)
	texts := f.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Math")
	assert.Zero(t, f.syncer.calls, "/check must not touch the calendar")
}

func TestBotCheckReportsQuietSchedule(t *testing.T) {
	f := newBotFixture(t, 42, false)

	f.bot.handleUpdate(context.Background(), command(42, "/check"))

	texts := f.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "No schedule changes")
	assert.Contains(t, texts[0], "11, 12")
}

func TestBotSyncReconcilesWithOverwrite(t *testing.T) {
	f := newBotFixture(t, 42, false)
	f.syncer.summary = schedsync.Summary{Created: 3, Skipped: 5}

	f.bot.handleUpdate(context.Background(), command(42, "/sync"))

	require.Equal(t, 1, f.syncer.calls)
	assert.True(t, f.syncer.overwrite)
	texts := f.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "3 created")
	assert.Contains(t, texts[0], "5 skipped")
}

func TestBotBusyGuard(t *testing.T) {
	f := newBotFixture(t, 42, false)
	f.bot.running.Store(true)

	f.bot.handleUpdate(context.Background(), command(42, "/sync"))

	assert.Zero(t, f.syncer.calls)
	texts := f.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Busy")
}

func TestBotUnknownCommand(t *testing.T) {
	f := newBotFixture(t, 42, false)

	f.bot.handleUpdate(context.Background(), command(42, "/frobnicate"))

	texts := f.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "Unknown command")
}

func TestAutoCheckQuietWhenNothingChanged(t *testing.T) {
	f := newBotFixture(t, 42, true)

	f.bot.AutoCheck(context.Background())

	assert.Equal(t, 1, f.checker.calls)
	assert.Zero(t, f.syncer.calls)
	assert.Empty(t, f.sentTexts(), "no changes must mean no message")
}

func TestAutoCheckNotifiesAndSyncs(t *testing.T) {
	f := newBotFixture(t, 42, true)
	lesson := schedule.Lesson{Identity: "abc", Week: 11, Day: 1, Number: 1, Name: "Physics", Type: "Lab"}
	f.checker.changes = []schedule.Change{{Kind: schedule.ChangeRemoved, Week: 11, Day: 1, Number: 1, Identity: "abc", Old: &lesson}}

	f.bot.AutoCheck(context.Background())

	require.Equal(t, 1, f.syncer.calls)
	texts := f.sentTexts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Physics")
	assert.Contains(t, texts[1], "Sync finished")
}

func TestAutoCheckWithoutAutoSyncSuggestsSync(t *testing.T) {
	f := newBotFixture(t, 42, false)
	lesson := schedule.Lesson{Identity: "abc", Week: 11, Day: 1, Number: 1, Name: "Physics", Type: "Lab"}
	f.checker.changes = []schedule.Change{{Kind: schedule.ChangeRemoved, Week: 11, Day: 1, Number: 1, Identity: "abc", Old: &lesson}}

	f.bot.AutoCheck(context.Background())

	assert.Zero(t, f.syncer.calls)
	texts := f.sentTexts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "/sync")
}

func TestStatusText(t *testing.T) {
	f := newBotFixture(t, 42, true)

	f.bot.handleUpdate(context.Background(), command(42, "/status"))

	texts := f.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "IT11Z")
	assert.Contains(t, texts[0], "11, 12")
	assert.Contains(t, texts[0], "Auto-sync: on")
	assert.Contains(t, texts[0], "No checks have run yet")
}
