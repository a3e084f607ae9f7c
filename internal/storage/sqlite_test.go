package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"campwatch/internal/model"
)

var ignoreAlertTS = cmpopts.IgnoreFields(model.Alert{}, "CreatedAt", "UpdatedAt", "LastChecked")
var ignoreUserTS = cmpopts.IgnoreFields(model.User{}, "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testAlert(id, userID string) model.Alert {
	return model.Alert{
		ID:              id,
		UserID:          userID,
		Name:            "Upper Pines August",
		ParkSystem:      model.RecreationGov,
		ParkID:          "2991",
		ParkName:        "Yosemite",
		CampgroundID:    "232447",
		CampgroundName:  "Upper Pines",
		SiteTypes:       []model.SiteType{model.SiteTent, model.SiteRV},
		DateRangeStart:  model.Date(2024, 8, 1),
		DateRangeEnd:    model.Date(2024, 8, 10),
		MinNights:       1,
		MaxNights:       3,
		SpecificSiteIDs: []string{"9", "10"},
		IsActive:        true,
	}
}

func testMatch(id, alertID, siteID string, ranges ...model.DateRange) model.AlertMatch {
	return model.AlertMatch{
		ID:             id,
		AlertID:        alertID,
		UserID:         "u1",
		ParkSystem:     model.RecreationGov,
		ParkName:       "Yosemite",
		CampgroundName: "Upper Pines",
		SiteName:       "Site " + siteID,
		SiteID:         siteID,
		SiteType:       model.SiteTent,
		AvailableDates: ranges,
		ReservationURL: "https://www.recreation.gov/camping/campsites/" + siteID,
		FoundAt:        time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	u := model.User{
		ID:             "u1",
		Email:          "camper@example.com",
		DisplayName:    "Camper",
		PhoneNumber:    "5551234567",
		TelegramChatID: 4242,
		Tier:           model.TierPremium,
		Preferences: model.NotificationPreferences{
			Methods:           []model.NotificationMethod{model.MethodEmail, model.MethodSMS},
			QuietHoursEnabled: true,
			QuietHoursStart:   "22:00",
			QuietHoursEnd:     "08:00",
			Timezone:          "America/Denver",
		},
	}
	if err := s.CreateUser(ctx, &u); err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if diff := cmp.Diff(u, *got, ignoreUserTS); diff != "" {
		t.Errorf("GetUser mismatch (-want +got):\n%s", diff)
	}

	byChat, err := s.GetUserByTelegramChat(ctx, 4242)
	if err != nil {
		t.Fatalf("get by chat: %v", err)
	}
	if diff := cmp.Diff("u1", byChat.ID); diff != "" {
		t.Errorf("chat lookup mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetUserByTelegramChat(ctx, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByTelegramChat(0) error = %v, want ErrNotFound", err)
	}
}

func TestListUserIDsByTier(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	for _, u := range []model.User{
		{ID: "a", Tier: model.TierPremium},
		{ID: "b", Tier: model.TierBasic},
		{ID: "c", Tier: model.TierPremium},
	} {
		if err := s.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create user %s: %v", u.ID, err)
		}
	}

	got, err := s.ListUserIDsByTier(ctx, model.TierPremium)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, got); diff != "" {
		t.Errorf("ListUserIDsByTier mismatch (-want +got):\n%s", diff)
	}
}

func TestAlertCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	active := testAlert("a1", "u1")
	paused := testAlert("a2", "u1")
	paused.IsActive = false
	paused.ParkSystem = model.ReserveAmerica
	paused.CampgroundID = ""
	paused.SpecificSiteIDs = nil
	other := testAlert("a3", "u2")

	for _, a := range []*model.Alert{&active, &paused, &other} {
		if err := s.CreateAlert(ctx, a); err != nil {
			t.Fatalf("create alert %s: %v", a.ID, err)
		}
	}

	got, err := s.GetAlert(ctx, "a1")
	if err != nil {
		t.Fatalf("get alert: %v", err)
	}
	if diff := cmp.Diff(active, *got, ignoreAlertTS); diff != "" {
		t.Errorf("GetAlert mismatch (-want +got):\n%s", diff)
	}

	all, err := s.ListAlerts(ctx, "u1")
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if diff := cmp.Diff([]model.Alert{active, paused}, all, ignoreAlertTS); diff != "" {
		t.Errorf("ListAlerts mismatch (-want +got):\n%s", diff)
	}

	activeOnly, err := s.ListActiveAlerts(ctx, "u1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if diff := cmp.Diff([]model.Alert{active}, activeOnly, ignoreAlertTS); diff != "" {
		t.Errorf("ListActiveAlerts mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetAlert(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAlert(nope) error = %v, want ErrNotFound", err)
	}
}

func TestAlertBookkeeping(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	a := testAlert("a1", "u1")
	if err := s.CreateAlert(ctx, &a); err != nil {
		t.Fatalf("create alert: %v", err)
	}

	checked := time.Date(2024, 7, 2, 9, 30, 0, 0, time.UTC)
	if err := s.TouchAlertChecked(ctx, "a1", checked); err != nil {
		t.Fatalf("touch: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.IncrementMatchesFound(ctx, "a1", checked); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	got, err := s.GetAlert(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastChecked == nil || !got.LastChecked.Equal(checked) {
		t.Errorf("LastChecked = %v, want %v", got.LastChecked, checked)
	}
	if diff := cmp.Diff(3, got.MatchesFound); diff != "" {
		t.Errorf("MatchesFound mismatch (-want +got):\n%s", diff)
	}
	if !got.UpdatedAt.Equal(checked) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, checked)
	}

	if err := s.TouchAlertChecked(ctx, "missing", checked); !errors.Is(err, ErrNotFound) {
		t.Errorf("TouchAlertChecked(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMatchDedupAndLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	aug := model.NewDateRange(model.Date(2024, 8, 3), model.Date(2024, 8, 5))
	first := testMatch("m1", "a1", "9", aug)
	if err := s.CreateMatch(ctx, &first); err != nil {
		t.Fatalf("create match: %v", err)
	}

	dup := testMatch("m2", "a1", "9", aug)
	if err := s.CreateMatch(ctx, &dup); !errors.Is(err, ErrDuplicateMatch) {
		t.Fatalf("duplicate create error = %v, want ErrDuplicateMatch", err)
	}

	otherAlert := testMatch("m3", "a2", "9", aug)
	if err := s.CreateMatch(ctx, &otherAlert); err != nil {
		t.Fatalf("same site on another alert should be allowed: %v", err)
	}

	open, err := s.ListOpenMatches(ctx, "a1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if diff := cmp.Diff([]model.AlertMatch{first}, open, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("ListOpenMatches mismatch (-want +got):\n%s", diff)
	}

	pending, err := s.ListPendingMatches(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if diff := cmp.Diff(2, len(pending)); diff != "" {
		t.Errorf("pending count mismatch (-want +got):\n%s", diff)
	}

	notifiedAt := time.Date(2024, 7, 1, 12, 5, 0, 0, time.UTC)
	methods := []model.NotificationMethod{model.MethodEmail}
	if err := s.MarkNotified(ctx, []string{"m1"}, notifiedAt, methods); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	open, err = s.ListOpenMatches(ctx, "a1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if open[0].NotifiedAt == nil || !open[0].NotifiedAt.Equal(notifiedAt) {
		t.Errorf("NotifiedAt = %v, want %v", open[0].NotifiedAt, notifiedAt)
	}
	if diff := cmp.Diff(methods, open[0].NotificationMethods); diff != "" {
		t.Errorf("NotificationMethods mismatch (-want +got):\n%s", diff)
	}

	if err := s.ExpireMatches(ctx, []string{"m1"}); err != nil {
		t.Fatalf("expire: %v", err)
	}
	open, err = s.ListOpenMatches(ctx, "a1")
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected no open matches after expiry, got %d", len(open))
	}

	// Expired matches no longer block an identical new observation.
	again := testMatch("m4", "a1", "9", aug)
	if err := s.CreateMatch(ctx, &again); err != nil {
		t.Fatalf("create after expiry: %v", err)
	}

	history, err := s.ListMatches(ctx, "a1")
	if err != nil {
		t.Fatalf("list matches: %v", err)
	}
	if diff := cmp.Diff(2, len(history)); diff != "" {
		t.Errorf("history count mismatch (-want +got):\n%s", diff)
	}
}
