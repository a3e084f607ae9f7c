package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"campwatch/internal/model"
)

const recreationGovBaseURL = "https://www.recreation.gov"

// MsgNoCampground is shown when an alert needs a campground selection.
const MsgNoCampground = "No campground selected. Please edit your alert to select a specific campground."

// RecreationGov reads the month availability grid of a single campground.
type RecreationGov struct {
	client
	apiKey  string
	baseURL string
}

// NewRecreationGov creates a Recreation.gov fetcher. apiKey may be empty.
func NewRecreationGov(opts Options, apiKey string) *RecreationGov {
	return &RecreationGov{
		client:  newClient(model.RecreationGov, opts),
		apiKey:  apiKey,
		baseURL: recreationGovBaseURL,
	}
}

// System implements Fetcher.
func (r *RecreationGov) System() model.ParkSystem { return model.RecreationGov }

// ReservationURL implements Fetcher.
func (r *RecreationGov) ReservationURL(siteID, _ string) string {
	return recreationGovBaseURL + "/camping/campsites/" + siteID
}

type recGovMonth struct {
	Campsites map[string]recGovSite `json:"campsites"`
}

type recGovSite struct {
	CampsiteID       string            `json:"campsite_id"`
	Site             string            `json:"site"`
	Loop             string            `json:"loop"`
	CampsiteType     string            `json:"campsite_type"`
	CampgroundName   string            `json:"campground_name"`
	EquipmentAllowed []string          `json:"equipment_allowed"`
	Availabilities   map[string]string `json:"availabilities"`
}

type recGovAccum struct {
	info recGovSite
	days []DayStatus
}

// Fetch implements Fetcher. Every month touched by the alert window is
// requested; per-day statuses are merged per site before ranges are built.
func (r *RecreationGov) Fetch(ctx context.Context, alert *model.Alert) (*Result, error) {
	if alert.CampgroundID == "" {
		r.log.Warn("alert has no campground selected", "alert_id", alert.ID)
		return nil, &UpstreamError{System: model.RecreationGov, Kind: KindConfig, Message: MsgNoCampground}
	}

	start, end := model.Day(alert.DateRangeStart), model.Day(alert.DateRangeEnd)
	sites := make(map[string]*recGovAccum)

	for _, month := range MonthsBetween(start, end) {
		var page recGovMonth
		err := r.fetch(ctx, "month "+model.FormatDate(month), r.monthRequest(alert.CampgroundID, month), func(body []byte) error {
			page = recGovMonth{}
			return json.Unmarshal(body, &page)
		})
		if err != nil {
			return nil, r.describe(err, alert.CampgroundID)
		}
		r.merge(sites, page, start, end)
	}

	result := &Result{}
	for id, acc := range sites {
		ranges := BuildRanges(acc.days)
		if len(ranges) == 0 {
			continue
		}
		name := acc.info.Site
		if name == "" {
			name = "Site " + id
		}
		cgName := acc.info.CampgroundName
		if cgName == "" {
			cgName = "Unknown Campground"
		}
		result.Sites = append(result.Sites, model.AvailableSite{
			SiteID:         id,
			SiteName:       name,
			SiteType:       recGovSiteType(acc.info),
			CampgroundID:   alert.CampgroundID,
			CampgroundName: cgName,
			AvailableDates: ranges,
			ReservationURL: r.ReservationURL(id, alert.CampgroundID),
			Loop:           acc.info.Loop,
		})
	}
	sort.Slice(result.Sites, func(i, j int) bool { return result.Sites[i].SiteID < result.Sites[j].SiteID })

	r.log.Info("availability fetched", "alert_id", alert.ID, "campground_id", alert.CampgroundID, "sites", len(result.Sites))
	return result, nil
}

func (r *RecreationGov) monthRequest(campgroundID string, month time.Time) requestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		q := url.Values{}
		q.Set("start_date", month.Format("2006-01-02")+"T00:00:00.000Z")
		u := fmt.Sprintf("%s/api/camps/availability/campground/%s/month?%s",
			r.baseURL, url.PathEscape(campgroundID), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if r.apiKey != "" {
			req.Header.Set("apikey", r.apiKey)
		}
		return req, nil
	}
}

func (r *RecreationGov) merge(sites map[string]*recGovAccum, page recGovMonth, start, end time.Time) {
	for key, s := range page.Campsites {
		id := s.CampsiteID
		if id == "" {
			id = key
		}
		acc, ok := sites[id]
		if !ok {
			acc = &recGovAccum{info: s}
			sites[id] = acc
		}
		for raw, status := range s.Availabilities {
			day, err := model.ParseDate(raw)
			if err != nil {
				r.log.Debug("skipping unparseable date", "site_id", id, "date", raw)
				continue
			}
			if day.Before(start) || day.After(end) {
				continue
			}
			acc.days = append(acc.days, DayStatus{Date: day, Available: status == "Available" || status == "Open"})
		}
	}
}

func (r *RecreationGov) describe(err error, campgroundID string) error {
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Kind != KindNotFound {
		return err
	}
	out := *ue
	out.Message = fmt.Sprintf("Campground %s not found on Recreation.gov. It may not be reservable through Recreation.gov.", campgroundID)
	return &out
}

func recGovSiteType(s recGovSite) model.SiteType {
	fields := append([]string{s.CampsiteType}, s.EquipmentAllowed...)
	return InferSiteType(fields...)
}
