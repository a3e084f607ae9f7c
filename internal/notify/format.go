package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"campwatch/internal/model"
)

// Message is one batch notification rendered for every channel.
type Message struct {
	Subject string
	Text    string
	HTML    string
	SMS     string
	Chat    string
}

const displayDate = "Mon, Jan 2"

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func greetingName(user *model.User) string {
	if user.DisplayName != "" {
		return user.DisplayName
	}
	return "Camper"
}

func formatRanges(ranges []model.DateRange, sep string) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		parts = append(parts, r.Start.Format(displayDate)+" - "+r.End.Format(displayDate))
	}
	return strings.Join(parts, sep)
}

// Render builds the notification for a batch of new matches of one alert.
// matches must not be empty.
func Render(user *model.User, alert *model.Alert, matches []model.AlertMatch) (Message, error) {
	park := alert.ParkName
	if park == "" {
		park = alert.Name
	}

	html, err := renderHTML(user, park, matches)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject: "Campsite Available: " + park,
		Text:    renderText(user, park, matches),
		HTML:    html,
		SMS:     renderSMS(park, matches),
		Chat:    renderChat(park, matches),
	}, nil
}

func renderText(user *model.User, park string, matches []model.AlertMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Campsite Alert: %s\n\n", park)
	fmt.Fprintf(&b, "Hi %s,\n\n", greetingName(user))
	fmt.Fprintf(&b, "We found %d available campsite%s matching your alert:\n\n", len(matches), plural(len(matches)))
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.SiteName, m.SiteType, formatRanges(m.AvailableDates, ", "))
	}
	b.WriteString("\nBook now before they're gone!\n\n")
	b.WriteString(matches[0].ReservationURL)
	b.WriteString("\n")
	return b.String()
}

func renderSMS(park string, matches []model.AlertMatch) string {
	first := matches[0]
	return fmt.Sprintf("Campsite Alert: %d site%s available at %s! First available: %s. Book now: %s",
		len(matches), plural(len(matches)), park, first.SiteName, first.ReservationURL)
}

func renderChat(park string, matches []model.AlertMatch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]\n\n", park)
	fmt.Fprintf(&b, "%d site%s available:\n", len(matches), plural(len(matches)))
	for _, m := range matches {
		fmt.Fprintf(&b, "\n%s (%s)", m.SiteName, m.SiteType)
		if m.CampgroundName != "" {
			fmt.Fprintf(&b, ", %s", m.CampgroundName)
		}
		fmt.Fprintf(&b, "\n%s\n%s\n", formatRanges(m.AvailableDates, "\n"), m.ReservationURL)
	}
	return b.String()
}

var emailTemplate = template.Must(template.New("email").Funcs(template.FuncMap{
	"date": func(r model.DateRange) string {
		return r.Start.Format(displayDate) + " to " + r.End.Format(displayDate)
	},
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <div style="background: #2E7D32; color: white; padding: 20px; border-radius: 8px 8px 0 0;">
      <h1>Campsite Alert</h1>
      <p>Great news! We found availability at {{.Park}}</p>
    </div>
    <div style="background: #f9f9f9; padding: 20px; border-radius: 0 0 8px 8px;">
      <p>Hi {{.Name}},</p>
      <p>We found <strong>{{len .Matches}}</strong> available campsite{{.Plural}} matching your alert:</p>
      {{range .Matches}}
      <div style="background: white; padding: 15px; margin: 10px 0; border-left: 4px solid #2E7D32;">
        <h3>{{.SiteName}}</h3>
        <p><strong>Campground:</strong> {{.CampgroundName}}</p>
        <p><strong>Site Type:</strong> {{.SiteType}}</p>
        <p><strong>Available Dates:</strong></p>
        <ul>{{range .AvailableDates}}<li>{{date .}}</li>{{end}}</ul>
        <a href="{{.ReservationURL}}" style="display: inline-block; background: #2E7D32; color: white; padding: 12px 24px; text-decoration: none;">Book Now</a>
      </div>
      {{end}}
      <p style="margin-top: 20px;">Act fast, popular campsites get booked quickly!</p>
    </div>
    <p style="text-align: center; color: #666; font-size: 12px;">You're receiving this because you set up a campsite alert for {{.Park}}.</p>
  </div>
</body>
</html>
`))

func renderHTML(user *model.User, park string, matches []model.AlertMatch) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Park    string
		Name    string
		Plural  string
		Matches []model.AlertMatch
	}{park, greetingName(user), plural(len(matches)), matches})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
