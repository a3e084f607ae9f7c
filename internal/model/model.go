// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"fmt"
	"time"
)

// ParkSystem identifies an upstream reservation platform.
type ParkSystem string

// Supported park systems.
const (
	RecreationGov     ParkSystem = "recreation_gov"
	ReserveAmerica    ParkSystem = "reserve_america"
	ReserveCalifornia ParkSystem = "reserve_california"
)

// ParkSystems lists every known park system.
var ParkSystems = []ParkSystem{RecreationGov, ReserveAmerica, ReserveCalifornia}

// Valid reports whether p is a known park system.
func (p ParkSystem) Valid() bool {
	for _, s := range ParkSystems {
		if s == p {
			return true
		}
	}
	return false
}

// RequiresCampground reports whether availability can only be resolved for a
// specific campground rather than a park-level id.
func (p ParkSystem) RequiresCampground() bool {
	return p == RecreationGov
}

// SiteType is the coarse category of a bookable unit.
type SiteType string

// Supported site types.
const (
	SiteTent  SiteType = "tent"
	SiteRV    SiteType = "rv"
	SiteCabin SiteType = "cabin"
	SiteGroup SiteType = "group"
)

// Tier is a subscription level; it determines polling frequency and alert quota.
type Tier string

// Supported subscription tiers.
const (
	TierFree     Tier = "free"
	TierBasic    Tier = "basic"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// PolledTiers are the tiers that receive automatic sweeps, fastest first.
var PolledTiers = []Tier{TierPremium, TierStandard, TierBasic}

// MaxAlerts returns the number of active alerts a tier may hold.
func (t Tier) MaxAlerts() int {
	switch t {
	case TierBasic:
		return 5
	case TierStandard:
		return 15
	case TierPremium:
		return 50
	default:
		return 1
	}
}

// NotificationMethod is a delivery channel for match notifications.
type NotificationMethod string

// Supported notification methods.
const (
	MethodEmail    NotificationMethod = "email"
	MethodSMS      NotificationMethod = "sms"
	MethodTelegram NotificationMethod = "telegram"
)

// NotificationPreferences holds a user's delivery settings.
// Quiet hours are "HH:mm" strings interpreted in Timezone.
type NotificationPreferences struct {
	Methods           []NotificationMethod
	QuietHoursEnabled bool
	QuietHoursStart   string
	QuietHoursEnd     string
	Timezone          string
}

// User is the subset of a user profile the poller needs.
type User struct {
	ID             string
	Email          string
	DisplayName    string
	PhoneNumber    string
	TelegramChatID int64
	Tier           Tier
	Preferences    NotificationPreferences
	CreatedAt      time.Time
}

// Alert is a user's saved monitoring request.
type Alert struct {
	ID              string
	UserID          string
	Name            string
	ParkSystem      ParkSystem
	ParkID          string
	ParkName        string
	CampgroundID    string
	CampgroundName  string
	SiteTypes       []SiteType
	DateRangeStart  time.Time
	DateRangeEnd    time.Time
	FlexibleDates   bool
	MinNights       int
	MaxNights       int
	SpecificSiteIDs []string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastChecked     *time.Time
	MatchesFound    int
}

// ErrNoCampground is returned by Validate when the alert's park system needs
// a campground selection and none is set.
var ErrNoCampground = errors.New("no campground selected")

// Validate checks the alert's invariants before it is polled.
func (a *Alert) Validate() error {
	if !a.ParkSystem.Valid() {
		return fmt.Errorf("unknown park system %q", a.ParkSystem)
	}
	if !Day(a.DateRangeEnd).After(Day(a.DateRangeStart)) {
		return fmt.Errorf("date range end %s must be after start %s",
			FormatDate(a.DateRangeEnd), FormatDate(a.DateRangeStart))
	}
	if a.MinNights < 0 || a.MaxNights < 0 {
		return fmt.Errorf("night bounds must not be negative")
	}
	if a.MinNights > a.MaxNights {
		return fmt.Errorf("min nights %d exceeds max nights %d", a.MinNights, a.MaxNights)
	}
	if a.ParkSystem.RequiresCampground() && a.CampgroundID == "" {
		return ErrNoCampground
	}
	return nil
}

// Elapsed reports whether the alert's whole date window lies before now's
// calendar day.
func (a *Alert) Elapsed(now time.Time) bool {
	return Day(a.DateRangeEnd).Before(Day(now))
}

// AcceptsSiteType reports whether t is one of the alert's site types.
func (a *Alert) AcceptsSiteType(t SiteType) bool {
	for _, st := range a.SiteTypes {
		if st == t {
			return true
		}
	}
	return false
}

// AvailableSite is one upstream unit's availability found during a single fetch.
type AvailableSite struct {
	SiteID         string
	SiteName       string
	SiteType       SiteType
	CampgroundID   string
	CampgroundName string
	AvailableDates []DateRange
	ReservationURL string
	Loop           string
}

// AlertMatch is a persisted availability opportunity found for an alert.
type AlertMatch struct {
	ID                  string
	AlertID             string
	UserID              string
	ParkSystem          ParkSystem
	ParkName            string
	CampgroundName      string
	SiteName            string
	SiteID              string
	SiteType            SiteType
	AvailableDates      []DateRange
	ReservationURL      string
	FoundAt             time.Time
	NotifiedAt          *time.Time
	NotificationMethods []NotificationMethod
	IsExpired           bool
}

// DedupKey returns the key that identifies the match among an alert's
// non-expired matches.
func (m *AlertMatch) DedupKey() string {
	return DedupKey(m.SiteID, m.AvailableDates)
}

// Elapsed reports whether every date range of the match ended before now's
// calendar day.
func (m *AlertMatch) Elapsed(now time.Time) bool {
	today := Day(now)
	for _, r := range m.AvailableDates {
		if !Day(r.End).Before(today) {
			return false
		}
	}
	return true
}
