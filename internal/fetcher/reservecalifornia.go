package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"campwatch/internal/model"
)

const (
	reserveCaliforniaBaseURL = "https://www.reservecalifornia.com"
	reserveCaliforniaGrid    = "[data-unitid], .unit-row"
)

// ReserveCalifornia queries the facility grid endpoint and falls back to the
// public unit availability page when the endpoint refuses the request.
type ReserveCalifornia struct {
	client
	baseURL string
}

// NewReserveCalifornia creates a ReserveCalifornia fetcher.
func NewReserveCalifornia(opts Options) *ReserveCalifornia {
	return &ReserveCalifornia{
		client:  newClient(model.ReserveCalifornia, opts),
		baseURL: reserveCaliforniaBaseURL,
	}
}

// System implements Fetcher.
func (r *ReserveCalifornia) System() model.ParkSystem { return model.ReserveCalifornia }

// ReservationURL implements Fetcher.
func (r *ReserveCalifornia) ReservationURL(siteID, campgroundID string) string {
	q := url.Values{}
	q.Set("FacilityId", campgroundID)
	q.Set("UnitId", siteID)
	return r.baseURL + "/CaliforniaWebHome/Facilities/SearchViewUnitAvailability.aspx?" + q.Encode()
}

type rcRequest struct {
	OutfitterID    int    `json:"outfitterId"`
	FacilityID     int    `json:"facilityId"`
	StartDate      string `json:"startDate"`
	EndDate        string `json:"endDate"`
	IsADA          bool   `json:"isADA"`
	EquipmentID    int    `json:"equipmentId"`
	SubEquipmentID int    `json:"subEquipmentId"`
	PartySize      int    `json:"partySize"`
	CategoryID     int    `json:"categoryId"`
}

type rcResponse struct {
	D *struct {
		Units []rcUnit `json:"Units"`
	} `json:"d"`
}

type rcUnit struct {
	UnitID         json.Number `json:"UnitId"`
	Name           string      `json:"Name"`
	UnitTypeName   string      `json:"UnitTypeName"`
	CategoryName   string      `json:"CategoryName"`
	FacilityName   string      `json:"FacilityName"`
	Loop           string      `json:"Loop"`
	Availabilities []struct {
		Date        string `json:"Date"`
		IsAvailable bool   `json:"IsAvailable"`
	} `json:"Availabilities"`
}

// Fetch implements Fetcher.
func (r *ReserveCalifornia) Fetch(ctx context.Context, alert *model.Alert) (*Result, error) {
	facilityID := alert.CampgroundID
	if facilityID == "" {
		facilityID = alert.ParkID
	}
	numericID, err := strconv.Atoi(facilityID)
	if err != nil {
		return nil, &UpstreamError{System: model.ReserveCalifornia, Kind: KindConfig,
			Message: "ReserveCalifornia facility ids are numeric. Please edit your alert.", Err: err}
	}

	payload, err := json.Marshal(rcRequest{
		FacilityID:     numericID,
		StartDate:      model.FormatDate(alert.DateRangeStart),
		EndDate:        model.FormatDate(alert.DateRangeEnd),
		EquipmentID:    -32768,
		SubEquipmentID: -32768,
		PartySize:      1,
	})
	if err != nil {
		return nil, err
	}

	var resp rcResponse
	err = r.fetch(ctx, "grid "+facilityID, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			r.baseURL+"/CaliforniaWebHome/Facilities/AdvanceSearch.aspx/GetAvailability", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, func(body []byte) error {
		resp = rcResponse{}
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		return dec.Decode(&resp)
	})
	switch k := KindOf(err); {
	case err == nil:
	case k == KindNotFound || k == KindRejected:
		r.log.Info("grid endpoint refused, falling back to unit page", "facility_id", facilityID, "error", err)
		return r.fetchPage(ctx, facilityID, alert)
	default:
		return nil, err
	}

	result := &Result{}
	if resp.D == nil {
		return result, nil
	}
	start, end := model.Day(alert.DateRangeStart), model.Day(alert.DateRangeEnd)
	for _, u := range resp.D.Units {
		days := make([]DayStatus, 0, len(u.Availabilities))
		for _, a := range u.Availabilities {
			day, err := parseRCDate(a.Date)
			if err != nil {
				r.log.Debug("skipping unparseable date", "unit_id", u.UnitID.String(), "date", a.Date)
				continue
			}
			if day.Before(start) || day.After(end) {
				continue
			}
			days = append(days, DayStatus{Date: day, Available: a.IsAvailable})
		}
		ranges := BuildRanges(days)
		if len(ranges) == 0 {
			continue
		}
		id := u.UnitID.String()
		name := u.Name
		if name == "" {
			name = "Site " + id
		}
		facility := u.FacilityName
		if facility == "" {
			facility = "Unknown"
		}
		typeName := u.UnitTypeName
		if typeName == "" {
			typeName = u.CategoryName
		}
		result.Sites = append(result.Sites, model.AvailableSite{
			SiteID:         id,
			SiteName:       name,
			SiteType:       InferSiteType(typeName),
			CampgroundID:   facilityID,
			CampgroundName: facility,
			AvailableDates: ranges,
			ReservationURL: r.ReservationURL(id, facilityID),
			Loop:           u.Loop,
		})
	}
	r.log.Info("availability fetched", "alert_id", alert.ID, "facility_id", facilityID, "sites", len(result.Sites))
	return result, nil
}

// fetchPage loads the public availability page. The page must carry the unit
// grid, which is not decoded, so the result reports ParserMissing.
func (r *ReserveCalifornia) fetchPage(ctx context.Context, facilityID string, alert *model.Alert) (*Result, error) {
	q := url.Values{}
	q.Set("FacilityId", facilityID)
	q.Set("ArrivalDate", model.FormatDate(alert.DateRangeStart))
	q.Set("DepartureDate", model.FormatDate(alert.DateRangeEnd))

	var units int
	err := r.fetch(ctx, "unit page "+facilityID, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			r.baseURL+"/CaliforniaWebHome/Facilities/SearchViewUnitAvailability.aspx?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
		return req, nil
	}, func(body []byte) error {
		n, err := pageGrid(body, reserveCaliforniaGrid)
		units = n
		return err
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("unit page has no grid parser", "facility_id", facilityID, "unit_rows", units)
	return &Result{ParserMissing: true}, nil
}

var msDate = regexp.MustCompile(`^/Date\((-?\d+)[^)]*\)/$`)

// parseRCDate accepts ISO dates and the /Date(ms)/ form emitted by ASP.NET.
func parseRCDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if m := msDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return model.Day(time.UnixMilli(ms).UTC()), nil
	}
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	return model.ParseDate(s)
}
