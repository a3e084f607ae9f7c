// Package notify decides whether and how to tell a user about new matches,
// and delivers the resulting messages.
package notify

import (
	"net/mail"
	"strconv"
	"strings"
	"time"

	"campwatch/internal/model"
)

// DefaultTimezone is used when a user enabled quiet hours without a timezone.
const DefaultTimezone = "America/Los_Angeles"

// Decision is the outcome of evaluating a user's preferences at an instant.
type Decision struct {
	Suppressed bool
	Methods    []model.NotificationMethod
}

// Decide evaluates quiet hours and method selection for user at now.
func Decide(user *model.User, now time.Time) Decision {
	return Decision{
		Suppressed: InQuietHours(user.Preferences, now),
		Methods:    SelectMethods(user),
	}
}

// InQuietHours reports whether now falls inside the user's quiet window.
// The window is evaluated in the user's timezone and may wrap past midnight.
// A disabled window, a missing bound or an unknown timezone never suppresses.
func InQuietHours(prefs model.NotificationPreferences, now time.Time) bool {
	if !prefs.QuietHoursEnabled {
		return false
	}
	start, ok := clockMinutes(prefs.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := clockMinutes(prefs.QuietHoursEnd)
	if !ok {
		return false
	}

	tz := prefs.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false
	}
	local := now.In(loc)
	current := local.Hour()*60 + local.Minute()

	if start > end {
		return current >= start || current < end
	}
	return current >= start && current < end
}

// clockMinutes parses "HH:mm" into minutes since midnight.
func clockMinutes(s string) (int, bool) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, false
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// SelectMethods returns the enabled methods the user has a usable address for.
// Users who never chose a method get email.
func SelectMethods(user *model.User) []model.NotificationMethod {
	enabled := user.Preferences.Methods
	if len(enabled) == 0 {
		enabled = []model.NotificationMethod{model.MethodEmail}
	}

	var methods []model.NotificationMethod
	seen := make(map[model.NotificationMethod]bool, len(enabled))
	for _, m := range enabled {
		if seen[m] {
			continue
		}
		seen[m] = true
		switch {
		case m == model.MethodEmail && validEmail(user.Email),
			m == model.MethodSMS && IsValidPhoneNumber(user.PhoneNumber),
			m == model.MethodTelegram && user.TelegramChatID != 0:
			methods = append(methods, m)
		}
	}
	return methods
}

// validEmail accepts a single bare address such as a@example.com.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
