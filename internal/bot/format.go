package bot

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"campwatch/internal/model"
	"campwatch/internal/scheduler"
)

const (
	statusActive = "active"
	statusPaused = "paused"
)

func notLinkedText(chatID int64) string {
	return fmt.Sprintf(`This chat is not linked to a Campwatch account yet.

Your chat ID is %d. Add it to your notification settings to receive alerts here.`, chatID)
}

func displayName(u *model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return "Camper"
}

func shortLabel(n int, name string) string {
	const limit = 20
	if utf8.RuneCountInString(name) > limit {
		name = string([]rune(name)[:limit-1]) + "…"
	}
	return fmt.Sprintf("%d. %s", n, name)
}

func formatRanges(ranges []model.DateRange) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// FormatAlertList formats a user's alerts for display. The header shows how
// many active alerts the tier allows.
func FormatAlertList(alerts []model.Alert, tier model.Tier) string {
	if len(alerts) == 0 {
		return "You have no alerts yet. Create one on the website to start watching a campground."
	}
	active := 0
	for _, a := range alerts {
		if a.IsActive {
			active++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your alerts (%d of %d active on the %s plan):\n", active, tier.MaxAlerts(), tier)
	for i, a := range alerts {
		status := statusActive
		if !a.IsActive {
			status = statusPaused
		}
		fmt.Fprintf(&b, "\n%d. %s [%s]\n", i+1, a.Name, status)
		where := a.ParkName
		if a.CampgroundName != "" {
			where += " / " + a.CampgroundName
		}
		fmt.Fprintf(&b, "   %s\n", where)
		fmt.Fprintf(&b, "   %s to %s, %d-%d nights\n",
			model.FormatDate(a.DateRangeStart), model.FormatDate(a.DateRangeEnd), a.MinNights, a.MaxNights)
		if a.LastChecked != nil {
			fmt.Fprintf(&b, "   last check %s, %d match(es)\n", a.LastChecked.UTC().Format("2006-01-02 15:04 UTC"), a.MatchesFound)
		} else {
			fmt.Fprintf(&b, "   not checked yet, %d match(es)\n", a.MatchesFound)
		}
	}
	return b.String()
}

// FormatMatchList formats up to limit matches of an alert, newest first.
func FormatMatchList(alert *model.Alert, matches []model.AlertMatch, limit int) string {
	if len(matches) == 0 {
		return fmt.Sprintf("No matches yet for \"%s\".", alert.Name)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Matches for \"%s\" (%d):\n", alert.Name, len(matches))
	for i, m := range matches {
		if i == limit {
			fmt.Fprintf(&b, "\n...and %d more", len(matches)-limit)
			break
		}
		fmt.Fprintf(&b, "\n%s at %s (%s)\n", m.SiteName, m.CampgroundName, m.SiteType)
		fmt.Fprintf(&b, "   %s\n", formatRanges(m.AvailableDates))
		if m.IsExpired {
			b.WriteString("   expired\n")
			continue
		}
		fmt.Fprintf(&b, "   %s\n", m.ReservationURL)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatCheckResult summarizes an on-demand check.
func FormatCheckResult(alert *model.Alert, res *scheduler.CheckResult) string {
	if res.ParserMissing {
		return fmt.Sprintf("Checked \"%s\", but availability for %s can't be read automatically yet.", alert.Name, alert.ParkSystem)
	}
	if len(res.NewMatches) == 0 {
		return fmt.Sprintf("No new availability for \"%s\" (%d site(s) checked, %d matching).", alert.Name, res.Fetched, res.Candidates)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d new match(es) for \"%s\":\n", len(res.NewMatches), alert.Name)
	for _, m := range res.NewMatches {
		fmt.Fprintf(&b, "\n%s at %s\n   %s\n   %s\n", m.SiteName, m.CampgroundName, formatRanges(m.AvailableDates), m.ReservationURL)
	}
	return strings.TrimRight(b.String(), "\n")
}
