package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the canonical calendar-date format.
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date, expressed as midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a date in DateLayout, tolerating a trailing time component.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate formats t's calendar date in DateLayout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween returns the number of whole calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	d := Day(end).Sub(Day(start)).Hours() / 24
	if d < 0 {
		d = -d
	}
	return int(d + 0.5)
}

// DateRange is a closed interval [Start, End] of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from two calendar dates.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: Day(start), End: Day(end)}
}

// Nights is the stay length of the range in whole days.
func (r DateRange) Nights() int {
	return DaysBetween(r.Start, r.End)
}

// Overlaps reports whether the range shares at least one day with [start, end].
func (r DateRange) Overlaps(start, end time.Time) bool {
	return !Day(r.Start).After(Day(end)) && !Day(r.End).Before(Day(start))
}

// String renders the range as "start..end".
func (r DateRange) String() string {
	return FormatDate(r.Start) + ".." + FormatDate(r.End)
}

type dateRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// MarshalJSON encodes the range with date-only fields.
func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(dateRangeJSON{Start: FormatDate(r.Start), End: FormatDate(r.End)})
}

// UnmarshalJSON decodes a range written by MarshalJSON.
func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw dateRangeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseDate(raw.Start)
	if err != nil {
		return err
	}
	end, err := ParseDate(raw.End)
	if err != nil {
		return err
	}
	r.Start, r.End = start, end
	return nil
}

// EncodeRanges serializes ranges in their canonical JSON form.
func EncodeRanges(ranges []DateRange) string {
	if ranges == nil {
		ranges = []DateRange{}
	}
	b, _ := json.Marshal(ranges)
	return string(b)
}

// DecodeRanges parses the output of EncodeRanges.
func DecodeRanges(s string) ([]DateRange, error) {
	var ranges []DateRange
	if err := json.Unmarshal([]byte(s), &ranges); err != nil {
		return nil, fmt.Errorf("decode date ranges: %w", err)
	}
	return ranges, nil
}

// DedupKey combines a site id with its exact serialized date ranges.
func DedupKey(siteID string, ranges []DateRange) string {
	return siteID + "-" + EncodeRanges(ranges)
}
