package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"campwatch/internal/fetcher"
	"campwatch/internal/model"
	"campwatch/internal/storage"
)

type handler struct {
	store   Store
	checker Checker
	log     *slog.Logger
}

type matchResponse struct {
	ID                  string                     `json:"id"`
	AlertID             string                     `json:"alertId"`
	ParkSystem          model.ParkSystem           `json:"parkSystem"`
	ParkName            string                     `json:"parkName"`
	CampgroundName      string                     `json:"campgroundName"`
	SiteID              string                     `json:"siteId"`
	SiteName            string                     `json:"siteName"`
	SiteType            model.SiteType             `json:"siteType"`
	AvailableDates      []model.DateRange          `json:"availableDates"`
	ReservationURL      string                     `json:"reservationUrl"`
	FoundAt             time.Time                  `json:"foundAt"`
	NotifiedAt          *time.Time                 `json:"notifiedAt"`
	NotificationMethods []model.NotificationMethod `json:"notificationMethods"`
	IsExpired           bool                       `json:"isExpired"`
}

func toMatchResponses(matches []model.AlertMatch) []matchResponse {
	out := make([]matchResponse, len(matches))
	for i, m := range matches {
		methods := m.NotificationMethods
		if methods == nil {
			methods = []model.NotificationMethod{}
		}
		out[i] = matchResponse{
			ID:                  m.ID,
			AlertID:             m.AlertID,
			ParkSystem:          m.ParkSystem,
			ParkName:            m.ParkName,
			CampgroundName:      m.CampgroundName,
			SiteID:              m.SiteID,
			SiteName:            m.SiteName,
			SiteType:            m.SiteType,
			AvailableDates:      m.AvailableDates,
			ReservationURL:      m.ReservationURL,
			FoundAt:             m.FoundAt,
			NotifiedAt:          m.NotifiedAt,
			NotificationMethods: methods,
			IsExpired:           m.IsExpired,
		}
	}
	return out
}

type checkResponse struct {
	AlertID       string          `json:"alertId"`
	Fetched       int             `json:"fetched"`
	Candidates    int             `json:"candidates"`
	ParserMissing bool            `json:"parserMissing"`
	NewMatches    []matchResponse `json:"newMatches"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Error("health check", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) checkAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	res, err := h.checker.CheckNow(r.Context(), alertID)
	if err != nil {
		status, code := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Warn("manual check failed", "alert_id", alertID, "error", err)
		}
		msg := fetcher.UserMessage(err)
		if errors.Is(err, storage.ErrNotFound) {
			msg = "alert not found"
		}
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		AlertID:       res.AlertID,
		Fetched:       res.Fetched,
		Candidates:    res.Candidates,
		ParserMissing: res.ParserMissing,
		NewMatches:    toMatchResponses(res.NewMatches),
	})
}

func (h *handler) listMatches(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")

	if _, err := h.store.GetAlert(r.Context(), alertID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "ALERT_NOT_FOUND", "alert not found")
			return
		}
		h.log.Error("load alert", "alert_id", alertID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not load alert")
		return
	}

	matches, err := h.store.ListMatches(r.Context(), alertID)
	if err != nil {
		h.log.Error("list matches", "alert_id", alertID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "could not list matches")
		return
	}
	if r.URL.Query().Get("open") == "true" {
		open := matches[:0]
		for _, m := range matches {
			if !m.IsExpired {
				open = append(open, m)
			}
		}
		matches = open
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alertId": alertID,
		"matches": toMatchResponses(matches),
	})
}

// classify maps a check failure to an HTTP status and error code.
func classify(err error) (int, string) {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound, "ALERT_NOT_FOUND"
	}
	switch fetcher.KindOf(err) {
	case fetcher.KindConfig:
		return http.StatusUnprocessableEntity, "ALERT_MISCONFIGURED"
	case fetcher.KindNotFound:
		return http.StatusUnprocessableEntity, "UPSTREAM_NOT_FOUND"
	case fetcher.KindRejected:
		return http.StatusBadGateway, "UPSTREAM_REJECTED"
	case fetcher.KindTransient, fetcher.KindShape:
		return http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
