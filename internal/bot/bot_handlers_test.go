package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"campwatch/internal/fetcher"
	"campwatch/internal/model"
	"campwatch/internal/scheduler"
	"campwatch/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup any
}

type mockAPI struct {
	mu   sync.Mutex
	sent []sentMsg
	acks int
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
	case tgbotapi.CallbackConfig:
		m.acks++
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(tgbotapi.UpdatesChannel)
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockChecker struct {
	res   *scheduler.CheckResult
	err   error
	calls []string
}

func (m *mockChecker) CheckNow(_ context.Context, alertID string) (*scheduler.CheckResult, error) {
	m.calls = append(m.calls, alertID)
	if m.err != nil {
		return nil, m.err
	}
	return m.res, nil
}

// --- helpers ---

const linkedChat int64 = 100

func newTestBot(t *testing.T) (*Bot, *mockAPI, *mockChecker, *storage.SQLite) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	checker := &mockChecker{res: &scheduler.CheckResult{}}
	b := New(api, store, checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return b, api, checker, store
}

func seedUser(t *testing.T, store *storage.SQLite, id string, chatID int64) *model.User {
	t.Helper()
	u := &model.User{ID: id, Email: id + "@example.com", DisplayName: "Alex", TelegramChatID: chatID, Tier: model.TierBasic}
	if err := store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func seedAlert(t *testing.T, store *storage.SQLite, id, userID, name string) *model.Alert {
	t.Helper()
	a := &model.Alert{
		ID:             id,
		UserID:         userID,
		Name:           name,
		ParkSystem:     model.RecreationGov,
		ParkID:         "2991",
		ParkName:       "Yosemite",
		CampgroundID:   "232447",
		CampgroundName: "Upper Pines",
		SiteTypes:      []model.SiteType{model.SiteTent},
		DateRangeStart: model.Date(2030, time.August, 1),
		DateRangeEnd:   model.Date(2030, time.August, 10),
		MinNights:      1,
		MaxNights:      3,
		IsActive:       true,
	}
	if err := store.CreateAlert(context.Background(), a); err != nil {
		t.Fatalf("seed alert: %v", err)
	}
	return a
}

func seedMatch(t *testing.T, store *storage.SQLite, alert *model.Alert, siteID string) {
	t.Helper()
	m := &model.AlertMatch{
		ID:             "m-" + siteID,
		AlertID:        alert.ID,
		UserID:         alert.UserID,
		ParkSystem:     alert.ParkSystem,
		ParkName:       alert.ParkName,
		CampgroundName: "Upper Pines",
		SiteName:       "Site " + siteID,
		SiteID:         siteID,
		SiteType:       model.SiteTent,
		AvailableDates: []model.DateRange{{Start: model.Date(2030, time.August, 3), End: model.Date(2030, time.August, 5)}},
		ReservationURL: "https://www.recreation.gov/camping/campsites/" + siteID,
		FoundAt:        time.Date(2030, time.July, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := store.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("seed match: %v", err)
	}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func makeMsg(chatID int64, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	ctx := context.Background()

	t.Run("unlinked chat gets its id", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleStart(ctx, 4242)
		requireContains(t, api.lastText(), "Welcome to Campwatch")
		requireContains(t, api.lastText(), "Your chat ID is 4242")
	})

	t.Run("linked chat is greeted", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedUser(t, store, "u1", linkedChat)
		b.handleStart(ctx, linkedChat)
		requireContains(t, api.lastText(), "Welcome back, Alex")
	})
}

func TestHandleHelp(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.handleHelp(linkedChat)
	requireContains(t, api.lastText(), "/alerts")
	requireContains(t, api.lastText(), "/matches")
	requireContains(t, api.lastText(), "/check")
}

func TestHandleAlerts(t *testing.T) {
	ctx := context.Background()

	t.Run("no alerts", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		b.handleAlerts(ctx, linkedChat, u)
		requireContains(t, api.lastText(), "no alerts yet")
		if api.last().Markup != nil {
			t.Errorf("empty list has a keyboard: %#v", api.last().Markup)
		}
	})

	t.Run("lists own alerts with buttons", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedUser(t, store, "u2", 200)
		seedAlert(t, store, "a1", "u1", "Yosemite August")
		seedAlert(t, store, "a9", "u2", "Someone else")

		b.handleAlerts(ctx, linkedChat, u)
		got := api.last()
		requireContains(t, got.Text, "Your alerts (1 of 5 active on the basic plan):")
		requireContains(t, got.Text, "1. Yosemite August [active]")
		requireContains(t, got.Text, "Yosemite / Upper Pines")
		requireContains(t, got.Text, "2030-08-01 to 2030-08-10, 1-3 nights")
		if strings.Contains(got.Text, "Someone else") {
			t.Errorf("list leaked another user's alert:\n%s", got.Text)
		}

		kb, ok := got.Markup.(tgbotapi.InlineKeyboardMarkup)
		if !ok {
			t.Fatalf("markup = %T, want inline keyboard", got.Markup)
		}
		var data []string
		for _, row := range kb.InlineKeyboard {
			for _, btn := range row {
				data = append(data, *btn.CallbackData)
			}
		}
		if diff := cmp.Diff([]string{"matches:a1", "check:a1"}, data); diff != "" {
			t.Errorf("callback data (-want +got):\n%s", diff)
		}
	})
}

func TestHandleMatches(t *testing.T) {
	ctx := context.Background()

	t.Run("by index", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		a := seedAlert(t, store, "a1", "u1", "Yosemite August")
		seedMatch(t, store, a, "9")

		b.handleMatches(ctx, linkedChat, u, AlertRef{Index: 1})
		requireContains(t, api.lastText(), "Matches for \"Yosemite August\" (1)")
		requireContains(t, api.lastText(), "Site 9 at Upper Pines (tent)")
		requireContains(t, api.lastText(), "2030-08-03..2030-08-05")
		requireContains(t, api.lastText(), "https://www.recreation.gov/camping/campsites/9")
	})

	t.Run("by id without matches", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")

		b.handleMatches(ctx, linkedChat, u, AlertRef{ID: "a1"})
		requireContains(t, api.lastText(), "No matches yet")
	})

	t.Run("index out of range", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		b.handleMatches(ctx, linkedChat, u, AlertRef{Index: 3})
		requireContains(t, api.lastText(), "Alert 3 not found")
	})

	t.Run("other user's alert", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedUser(t, store, "u2", 200)
		a := seedAlert(t, store, "a9", "u2", "Private")
		seedMatch(t, store, a, "9")

		b.handleMatches(ctx, linkedChat, u, AlertRef{ID: "a9"})
		requireContains(t, api.lastText(), "Alert a9 not found")
	})
}

func TestHandleCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("new matches", func(t *testing.T) {
		b, api, checker, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")
		checker.res = &scheduler.CheckResult{
			AlertID: "a1", Fetched: 4, Candidates: 1,
			NewMatches: []model.AlertMatch{{
				SiteName: "Site 9", CampgroundName: "Upper Pines",
				AvailableDates: []model.DateRange{{Start: model.Date(2030, time.August, 3), End: model.Date(2030, time.August, 5)}},
				ReservationURL: "https://www.recreation.gov/camping/campsites/9",
			}},
		}

		b.handleCheck(ctx, linkedChat, u, AlertRef{Index: 1})
		if diff := cmp.Diff([]string{"a1"}, checker.calls); diff != "" {
			t.Errorf("checked alerts (-want +got):\n%s", diff)
		}
		texts := api.allTexts()
		if len(texts) != 2 {
			t.Fatalf("replies = %d, want 2: %q", len(texts), texts)
		}
		requireContains(t, texts[0], "Checking \"Yosemite August\"")
		requireContains(t, texts[1], "Found 1 new match(es)")
		requireContains(t, texts[1], "Site 9 at Upper Pines")
	})

	t.Run("nothing new", func(t *testing.T) {
		b, api, checker, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")
		checker.res = &scheduler.CheckResult{AlertID: "a1", Fetched: 12, Candidates: 0}

		b.handleCheck(ctx, linkedChat, u, AlertRef{ID: "a1"})
		requireContains(t, api.lastText(), "No new availability")
		requireContains(t, api.lastText(), "12 site(s) checked")
	})

	t.Run("upstream error shows user message", func(t *testing.T) {
		b, api, checker, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")
		checker.err = &fetcher.UpstreamError{
			System: model.RecreationGov, Kind: fetcher.KindConfig, Message: fetcher.MsgNoCampground,
		}

		b.handleCheck(ctx, linkedChat, u, AlertRef{ID: "a1"})
		requireContains(t, api.lastText(), "Check failed: "+fetcher.MsgNoCampground)
	})

	t.Run("parser missing", func(t *testing.T) {
		b, api, checker, store := newTestBot(t)
		u := seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")
		checker.res = &scheduler.CheckResult{AlertID: "a1", ParserMissing: true}

		b.handleCheck(ctx, linkedChat, u, AlertRef{ID: "a1"})
		requireContains(t, api.lastText(), "can't be read automatically")
	})
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("start and help work unlinked", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)

		cmds := []struct {
			cmd      string
			contains string
		}{
			{"start", "Welcome"},
			{"help", "/alerts"},
		}
		for _, tc := range cmds {
			api.reset()
			b.handleCommand(ctx, makeMsg(555, tc.cmd, ""))
			requireContains(t, api.lastText(), tc.contains)
		}
	})

	t.Run("other commands require a linked chat", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		for _, cmd := range []string{"alerts", "matches", "check", "unknown_cmd"} {
			api.reset()
			b.handleCommand(ctx, makeMsg(555, cmd, "1"))
			requireContains(t, api.lastText(), "not linked")
		}
	})

	t.Run("linked dispatch", func(t *testing.T) {
		b, api, checker, store := newTestBot(t)
		seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")

		cases := []struct {
			cmd      string
			args     string
			contains string
		}{
			{"alerts", "", "Your alerts"},
			{"matches", "1", "No matches yet"},
			{"matches", "", "Usage: /matches"},
			{"check", "0", "Usage: /check"},
			{"check", "a1", "No new availability"},
			{"unknown_cmd", "", "Unknown command"},
		}
		for _, tc := range cases {
			api.reset()
			b.handleCommand(ctx, makeMsg(linkedChat, tc.cmd, tc.args))
			requireContains(t, api.lastText(), tc.contains)
		}
		if diff := cmp.Diff([]string{"a1"}, checker.calls); diff != "" {
			t.Errorf("checked alerts (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	cb := func(data string) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      "cb1",
			Data:    data,
			From:    &tgbotapi.User{UserName: "alex"},
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: linkedChat}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleCallback(ctx, cb("nocolon"))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
		if api.acks != 1 {
			t.Errorf("acks = %d, want 1", api.acks)
		}
	})

	t.Run("matches callback", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedUser(t, store, "u1", linkedChat)
		a := seedAlert(t, store, "a1", "u1", "Yosemite August")
		seedMatch(t, store, a, "9")

		b.handleCallback(ctx, cb("matches:a1"))
		requireContains(t, api.lastText(), "Site 9 at Upper Pines")
	})

	t.Run("numeric ids are not list positions", func(t *testing.T) {
		b, api, _, store := newTestBot(t)
		seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")

		b.handleCallback(ctx, cb("matches:1"))
		requireContains(t, api.lastText(), "Alert 1 not found")
	})

	t.Run("check callback", func(t *testing.T) {
		b, api, checker, store := newTestBot(t)
		seedUser(t, store, "u1", linkedChat)
		seedAlert(t, store, "a1", "u1", "Yosemite August")

		b.handleCallback(ctx, cb("check:a1"))
		if diff := cmp.Diff([]string{"a1"}, checker.calls); diff != "" {
			t.Errorf("checked alerts (-want +got):\n%s", diff)
		}
		requireContains(t, api.lastText(), "No new availability")
	})

	t.Run("unlinked chat", func(t *testing.T) {
		b, api, checker, _ := newTestBot(t)
		b.handleCallback(ctx, cb("check:a1"))
		requireContains(t, api.lastText(), "not linked")
		if len(checker.calls) != 0 {
			t.Errorf("unlinked callback ran a check")
		}
	})
}
