// Package filter matches upstream availability against an alert's criteria.
package filter

import (
	"fmt"
	"slices"

	"campwatch/internal/model"
)

// Apply returns the sites that satisfy every criterion of alert.
// All conditions use AND logic:
//   - the site type is one of the alert's site types
//   - the site id is in the alert's allow-list, when one is set
//   - the campground matches the alert's campground, when one is set
//   - at least one available range overlaps the alert window (inclusive)
//   - at least one overlapping range has a stay length within [MinNights, MaxNights]
//
// Returned sites are copies whose AvailableDates hold only the overlapping
// ranges. The input slice is not modified. A malformed range (zero date or
// end before start) is reported as an error instead of being skipped.
func Apply(sites []model.AvailableSite, alert *model.Alert) ([]model.AvailableSite, error) {
	var out []model.AvailableSite
	for _, site := range sites {
		if err := validateRanges(site); err != nil {
			return nil, err
		}
		narrowed, ok := Match(site, alert)
		if ok {
			out = append(out, narrowed)
		}
	}
	return out, nil
}

// Match checks a single site and returns it with its ranges narrowed to the
// alert window.
func Match(site model.AvailableSite, alert *model.Alert) (model.AvailableSite, bool) {
	if !alert.AcceptsSiteType(site.SiteType) {
		return site, false
	}
	if len(alert.SpecificSiteIDs) > 0 && !slices.Contains(alert.SpecificSiteIDs, site.SiteID) {
		return site, false
	}
	if alert.CampgroundID != "" && site.CampgroundID != alert.CampgroundID {
		return site, false
	}

	overlapping := make([]model.DateRange, 0, len(site.AvailableDates))
	for _, r := range site.AvailableDates {
		if r.Overlaps(alert.DateRangeStart, alert.DateRangeEnd) {
			overlapping = append(overlapping, r)
		}
	}
	if len(overlapping) == 0 {
		return site, false
	}

	stayOK := false
	for _, r := range overlapping {
		if n := r.Nights(); n >= alert.MinNights && n <= alert.MaxNights {
			stayOK = true
			break
		}
	}
	if !stayOK {
		return site, false
	}

	site.AvailableDates = overlapping
	return site, true
}

func validateRanges(site model.AvailableSite) error {
	for _, r := range site.AvailableDates {
		if r.Start.IsZero() || r.End.IsZero() {
			return fmt.Errorf("site %s: date range has a missing bound", site.SiteID)
		}
		if model.Day(r.End).Before(model.Day(r.Start)) {
			return fmt.Errorf("site %s: date range %s ends before it starts", site.SiteID, r)
		}
	}
	return nil
}
