// Package matcher turns filtered availability into persisted, deduplicated
// alert matches and drives their notification.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"campwatch/internal/config"
	"campwatch/internal/metrics"
	"campwatch/internal/model"
	"campwatch/internal/notify"
	"campwatch/internal/storage"
)

// Store is the persistence the processor needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	IncrementMatchesFound(ctx context.Context, id string, at time.Time) error
	CreateMatch(ctx context.Context, m *model.AlertMatch) error
	ListOpenMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error)
	ListAllOpenMatches(ctx context.Context) ([]model.AlertMatch, error)
	ListPendingMatches(ctx context.Context) ([]model.AlertMatch, error)
	MarkNotified(ctx context.Context, ids []string, at time.Time, methods []model.NotificationMethod) error
	ExpireMatches(ctx context.Context, ids []string) error
}

// Notifier delivers one batch of matches over the given methods.
type Notifier interface {
	Dispatch(ctx context.Context, user *model.User, alert *model.Alert,
		matches []model.AlertMatch, methods []model.NotificationMethod) ([]notify.Outcome, error)
}

// Processor deduplicates candidate sites against an alert's open matches.
type Processor struct {
	store    Store
	notifier Notifier
	policy   config.QuietHoursPolicy
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Processor.
func New(store Store, notifier Notifier, policy config.QuietHoursPolicy, log *slog.Logger) *Processor {
	return &Processor{
		store:    store,
		notifier: notifier,
		policy:   policy,
		log:      log,
		now:      time.Now,
	}
}

// Process persists every candidate not already recorded as an open match of
// alert and notifies the owner once about the whole batch. It returns only
// the newly created matches. Individual site failures are logged and skipped.
func (p *Processor) Process(ctx context.Context, alert *model.Alert, sites []model.AvailableSite) ([]model.AlertMatch, error) {
	log := p.log.With("alert_id", alert.ID, "user_id", alert.UserID)

	user, err := p.store.GetUser(ctx, alert.UserID)
	if err != nil {
		return nil, fmt.Errorf("load owner of alert %s: %w", alert.ID, err)
	}

	existing, err := p.store.ListOpenMatches(ctx, alert.ID)
	if err != nil {
		return nil, fmt.Errorf("list open matches: %w", err)
	}
	seen := make(map[string]struct{}, len(existing))
	for i := range existing {
		seen[existing[i].DedupKey()] = struct{}{}
	}

	now := p.now().UTC()
	methods := notify.SelectMethods(user)

	var created []model.AlertMatch
	for _, site := range sites {
		key := model.DedupKey(site.SiteID, site.AvailableDates)
		if _, ok := seen[key]; ok {
			log.Debug("skipping known match", "site_id", site.SiteID)
			continue
		}

		m := model.AlertMatch{
			ID:                  uuid.NewString(),
			AlertID:             alert.ID,
			UserID:              alert.UserID,
			ParkSystem:          alert.ParkSystem,
			ParkName:            alert.ParkName,
			CampgroundName:      site.CampgroundName,
			SiteName:            site.SiteName,
			SiteID:              site.SiteID,
			SiteType:            site.SiteType,
			AvailableDates:      site.AvailableDates,
			ReservationURL:      site.ReservationURL,
			FoundAt:             now,
			NotificationMethods: methods,
		}
		if err := p.store.CreateMatch(ctx, &m); err != nil {
			if errors.Is(err, storage.ErrDuplicateMatch) {
				seen[key] = struct{}{}
				log.Debug("match recorded concurrently", "site_id", site.SiteID)
				continue
			}
			log.Error("create match", "site_id", site.SiteID, "error", err)
			continue
		}
		seen[key] = struct{}{}
		created = append(created, m)
		metrics.MatchesCreated.WithLabelValues(string(alert.ParkSystem)).Inc()
		log.Info("new match", "match_id", m.ID, "site_id", m.SiteID, "site_name", m.SiteName)

		if err := p.store.IncrementMatchesFound(ctx, alert.ID, now); err != nil {
			log.Error("increment matches found", "error", err)
		}
	}

	if len(created) == 0 {
		return nil, nil
	}
	if stamped := p.deliver(ctx, user, alert, created); stamped != nil {
		for i := range created {
			t := *stamped
			created[i].NotifiedAt = &t
		}
	}
	return created, nil
}

// deliver notifies user about matches and stamps them as notified when the
// batch is settled. It returns the stamp time, or nil if the batch stays pending.
func (p *Processor) deliver(ctx context.Context, user *model.User, alert *model.Alert, matches []model.AlertMatch) *time.Time {
	log := p.log.With("alert_id", alert.ID, "user_id", user.ID)
	now := p.now().UTC()
	decision := notify.Decide(user, now)
	ids := matchIDs(matches)

	if decision.Suppressed {
		if p.policy == config.QuietHoursDefer {
			log.Info("quiet hours active, deferring notification", "matches", len(matches))
			return nil
		}
		log.Info("quiet hours active, dropping notification", "matches", len(matches))
		if err := p.store.MarkNotified(ctx, ids, now, nil); err != nil {
			log.Error("mark dropped matches", "error", err)
			return nil
		}
		return &now
	}

	if len(decision.Methods) == 0 {
		log.Warn("owner has no deliverable notification method", "matches", len(matches))
		return nil
	}

	outcomes, err := p.notifier.Dispatch(ctx, user, alert, matches, decision.Methods)
	if err != nil {
		log.Error("dispatch notification", "error", err)
		return nil
	}
	delivered := notify.Delivered(outcomes)
	if len(delivered) == 0 {
		log.Warn("no notification method succeeded", "matches", len(matches))
		return nil
	}
	if err := p.store.MarkNotified(ctx, ids, now, delivered); err != nil {
		log.Error("mark matches notified", "error", err)
		return nil
	}
	return &now
}

// ExpireOld flags every open match whose date ranges all ended before today.
func (p *Processor) ExpireOld(ctx context.Context) (int, error) {
	open, err := p.store.ListAllOpenMatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open matches: %w", err)
	}
	now := p.now()
	var ids []string
	for i := range open {
		if open[i].Elapsed(now) {
			ids = append(ids, open[i].ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := p.store.ExpireMatches(ctx, ids); err != nil {
		return 0, fmt.Errorf("expire matches: %w", err)
	}
	metrics.MatchesExpired.Add(float64(len(ids)))
	p.log.Info("expired old matches", "count", len(ids))
	return len(ids), nil
}

// FlushPending re-dispatches open matches that were never notified, one batch
// per alert. Batches whose owner is still in quiet hours stay pending.
// It returns the number of matches stamped as notified.
func (p *Processor) FlushPending(ctx context.Context) (int, error) {
	pending, err := p.store.ListPendingMatches(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending matches: %w", err)
	}

	var order []string
	byAlert := make(map[string][]model.AlertMatch)
	for _, m := range pending {
		if _, ok := byAlert[m.AlertID]; !ok {
			order = append(order, m.AlertID)
		}
		byAlert[m.AlertID] = append(byAlert[m.AlertID], m)
	}

	flushed := 0
	for _, alertID := range order {
		if err := ctx.Err(); err != nil {
			return flushed, err
		}
		batch := byAlert[alertID]
		log := p.log.With("alert_id", alertID)

		alert, err := p.store.GetAlert(ctx, alertID)
		if err != nil {
			log.Error("load alert for pending matches", "error", err)
			continue
		}
		user, err := p.store.GetUser(ctx, alert.UserID)
		if err != nil {
			log.Error("load owner for pending matches", "user_id", alert.UserID, "error", err)
			continue
		}
		if notify.InQuietHours(user.Preferences, p.now()) {
			log.Debug("owner still in quiet hours", "matches", len(batch))
			continue
		}
		if p.deliverPending(ctx, user, alert, batch) {
			flushed += len(batch)
		}
	}
	return flushed, nil
}

func (p *Processor) deliverPending(ctx context.Context, user *model.User, alert *model.Alert, batch []model.AlertMatch) bool {
	methods := notify.SelectMethods(user)
	if len(methods) == 0 {
		return false
	}
	outcomes, err := p.notifier.Dispatch(ctx, user, alert, batch, methods)
	if err != nil {
		p.log.Error("dispatch pending notification", "alert_id", alert.ID, "error", err)
		return false
	}
	delivered := notify.Delivered(outcomes)
	if len(delivered) == 0 {
		return false
	}
	if err := p.store.MarkNotified(ctx, matchIDs(batch), p.now().UTC(), delivered); err != nil {
		p.log.Error("mark pending matches notified", "alert_id", alert.ID, "error", err)
		return false
	}
	return true
}

func matchIDs(matches []model.AlertMatch) []string {
	ids := make([]string, len(matches))
	for i := range matches {
		ids[i] = matches[i].ID
	}
	return ids
}
