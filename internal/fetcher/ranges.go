package fetcher

import (
	"sort"
	"time"

	"campwatch/internal/model"
)

// DayStatus is one day of an upstream availability grid.
type DayStatus struct {
	Date      time.Time
	Available bool
}

// BuildRanges collapses a per-day grid into maximal runs of consecutive
// available days. Input order does not matter. A day reported more than once
// is available only if every report says so.
func BuildRanges(days []DayStatus) []model.DateRange {
	byDay := make(map[time.Time]bool, len(days))
	for _, d := range days {
		day := model.Day(d.Date)
		if prev, seen := byDay[day]; seen {
			byDay[day] = prev && d.Available
			continue
		}
		byDay[day] = d.Available
	}
	sorted := make([]DayStatus, 0, len(byDay))
	for day, available := range byDay {
		sorted = append(sorted, DayStatus{Date: day, Available: available})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	var ranges []model.DateRange
	var open *model.DateRange
	for _, d := range sorted {
		day := d.Date
		if !d.Available {
			if open != nil {
				ranges = append(ranges, *open)
				open = nil
			}
			continue
		}
		if open != nil && day.Equal(open.End.AddDate(0, 0, 1)) {
			open.End = day
			continue
		}
		if open != nil {
			ranges = append(ranges, *open)
		}
		open = &model.DateRange{Start: day, End: day}
	}
	if open != nil {
		ranges = append(ranges, *open)
	}
	return ranges
}

// MonthsBetween returns the first day of every calendar month that
// intersects [start, end].
func MonthsBetween(start, end time.Time) []time.Time {
	start, end = model.Day(start), model.Day(end)
	var months []time.Time
	for m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC); !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}
