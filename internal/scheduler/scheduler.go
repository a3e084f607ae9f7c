// Package scheduler runs the per-tier availability sweeps and the periodic
// match maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"campwatch/internal/fetcher"
	"campwatch/internal/filter"
	"campwatch/internal/metrics"
	"campwatch/internal/model"
)

// Store is the persistence the scheduler reads alerts from.
type Store interface {
	ListUserIDsByTier(ctx context.Context, tier model.Tier) ([]string, error)
	ListActiveAlerts(ctx context.Context, userID string) ([]model.Alert, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	TouchAlertChecked(ctx context.Context, id string, at time.Time) error
}

// Sources resolves the fetcher for a park system.
type Sources interface {
	For(system model.ParkSystem) (fetcher.Fetcher, error)
}

// Processor records matches and runs match maintenance.
type Processor interface {
	Process(ctx context.Context, alert *model.Alert, sites []model.AvailableSite) ([]model.AlertMatch, error)
	ExpireOld(ctx context.Context) (int, error)
	FlushPending(ctx context.Context) (int, error)
}

// Options configures sweep cadence and pacing.
type Options struct {
	// TierIntervals maps a tier to its sweep interval. Tiers without a
	// positive interval are never swept.
	TierIntervals map[model.Tier]time.Duration
	// Pacing is the pause between consecutive alerts of one sweep.
	Pacing time.Duration
	// ExpirySchedule is a cron spec for match expiry; empty disables it.
	ExpirySchedule string
	// PendingSchedule is a cron spec for re-sending deferred notifications;
	// empty disables it.
	PendingSchedule string
}

// CheckResult summarizes one run of the per-alert pipeline.
type CheckResult struct {
	AlertID       string
	Fetched       int
	Candidates    int
	ParserMissing bool
	NewMatches    []model.AlertMatch
}

// Scheduler owns the tier sweeps. At most one sweep per tier runs at a time.
type Scheduler struct {
	store     Store
	sources   Sources
	processor Processor
	opts      Options
	log       *slog.Logger
	now       func() time.Time

	running map[model.Tier]*atomic.Bool
}

// New creates a Scheduler.
func New(store Store, sources Sources, processor Processor, opts Options, log *slog.Logger) *Scheduler {
	running := make(map[model.Tier]*atomic.Bool, len(model.PolledTiers))
	for _, t := range model.PolledTiers {
		running[t] = new(atomic.Bool)
	}
	return &Scheduler{
		store:     store,
		sources:   sources,
		processor: processor,
		opts:      opts,
		log:       log,
		now:       time.Now,
		running:   running,
	}
}

// Running reports whether a sweep for tier is in progress.
func (s *Scheduler) Running(tier model.Tier) bool {
	flag, ok := s.running[tier]
	return ok && flag.Load()
}

// Run registers the tier sweeps and maintenance jobs on a cron runner, kicks
// off one sweep per tier immediately, and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New()

	var tiers []model.Tier
	for _, tier := range model.PolledTiers {
		every := s.opts.TierIntervals[tier]
		if every <= 0 {
			continue
		}
		tiers = append(tiers, tier)
		c.Schedule(cron.Every(every), cron.FuncJob(func() { s.RunTier(ctx, tier) }))
		s.log.Info("tier scheduled", "tier", tier, "every", every)
	}

	if spec := s.opts.ExpirySchedule; spec != "" {
		if _, err := c.AddFunc(spec, func() { s.Expire(ctx) }); err != nil {
			return fmt.Errorf("schedule expiry %q: %w", spec, err)
		}
	}
	if spec := s.opts.PendingSchedule; spec != "" {
		if _, err := c.AddFunc(spec, func() { s.FlushPending(ctx) }); err != nil {
			return fmt.Errorf("schedule pending flush %q: %w", spec, err)
		}
	}

	c.Start()
	s.log.Info("scheduler started", "tiers", len(tiers))

	var wg sync.WaitGroup
	for _, tier := range tiers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RunTier(ctx, tier)
		}()
	}

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	wg.Wait()
	s.log.Info("scheduler stopped")
	return nil
}

// RunTier sweeps every active alert of tier's users. It returns false without
// doing anything when a sweep for the same tier is already running.
func (s *Scheduler) RunTier(ctx context.Context, tier model.Tier) bool {
	flag, ok := s.running[tier]
	if !ok {
		s.log.Warn("tier is not polled", "tier", tier)
		return false
	}
	if !flag.CompareAndSwap(false, true) {
		s.log.Warn("previous sweep still running, skipping", "tier", tier)
		metrics.SweepsSkipped.WithLabelValues(string(tier)).Inc()
		return false
	}
	defer flag.Store(false)

	start := time.Now()
	s.log.Info("sweep started", "tier", tier)

	checked, err := s.sweep(ctx, tier)

	metrics.SweepDuration.WithLabelValues(string(tier)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Sweeps.WithLabelValues(string(tier), "failed").Inc()
		s.log.Error("sweep failed", "tier", tier, "checked", checked, "error", err)
		return true
	}
	metrics.Sweeps.WithLabelValues(string(tier), "completed").Inc()
	s.log.Info("sweep completed", "tier", tier, "checked", checked, "duration", time.Since(start).Round(time.Millisecond))
	return true
}

func (s *Scheduler) sweep(ctx context.Context, tier model.Tier) (int, error) {
	alerts, err := s.dueAlerts(ctx, tier)
	if err != nil {
		return 0, err
	}
	s.log.Info("alerts to check", "tier", tier, "count", len(alerts))

	for i := range alerts {
		if i > 0 && !s.pause(ctx) {
			return i, ctx.Err()
		}
		s.runAlert(ctx, tier, &alerts[i])
	}
	return len(alerts), nil
}

// dueAlerts lists the active alerts of tier's users whose window has not elapsed.
func (s *Scheduler) dueAlerts(ctx context.Context, tier model.Tier) ([]model.Alert, error) {
	userIDs, err := s.store.ListUserIDsByTier(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	now := s.now()
	var due []model.Alert
	for _, userID := range userIDs {
		alerts, err := s.store.ListActiveAlerts(ctx, userID)
		if err != nil {
			s.log.Error("list active alerts", "tier", tier, "user_id", userID, "error", err)
			continue
		}
		for _, a := range alerts {
			if a.Elapsed(now) {
				s.log.Debug("skipping elapsed alert", "alert_id", a.ID, "end", model.FormatDate(a.DateRangeEnd))
				continue
			}
			due = append(due, a)
		}
	}
	return due, nil
}

func (s *Scheduler) pause(ctx context.Context) bool {
	if s.opts.Pacing <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.opts.Pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// runAlert checks one alert inside a sweep. Failures and panics are logged
// and never escape; lastChecked is updated in every case.
func (s *Scheduler) runAlert(ctx context.Context, tier model.Tier, alert *model.Alert) {
	log := s.log.With("tier", tier, "alert_id", alert.ID, "park_system", alert.ParkSystem)

	defer s.touch(ctx, alert.ID)
	defer func() {
		if r := recover(); r != nil {
			metrics.AlertChecks.WithLabelValues(string(alert.ParkSystem), "panic").Inc()
			log.Error("alert check panicked", "panic", r)
		}
	}()

	res, err := s.CheckAlert(ctx, alert)
	if err != nil {
		log.Error("alert check failed", "error", err, "reason", fetcher.UserMessage(err))
		return
	}
	log.Debug("alert checked", "fetched", res.Fetched, "candidates", res.Candidates,
		"new_matches", len(res.NewMatches), "parser_missing", res.ParserMissing)
}

func (s *Scheduler) touch(ctx context.Context, alertID string) {
	if err := s.store.TouchAlertChecked(context.WithoutCancel(ctx), alertID, s.now().UTC()); err != nil {
		s.log.Error("update last checked", "alert_id", alertID, "error", err)
	}
}

// CheckAlert runs fetch, filter and match processing for one alert.
func (s *Scheduler) CheckAlert(ctx context.Context, alert *model.Alert) (*CheckResult, error) {
	res, err := s.checkAlert(ctx, alert)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		if k := fetcher.KindOf(err); k != "" {
			outcome = string(k)
		}
	case res.ParserMissing:
		outcome = "parser_missing"
	}
	metrics.AlertChecks.WithLabelValues(string(alert.ParkSystem), outcome).Inc()
	return res, err
}

func (s *Scheduler) checkAlert(ctx context.Context, alert *model.Alert) (*CheckResult, error) {
	if err := alert.Validate(); err != nil {
		msg := "Invalid alert: " + err.Error()
		if errors.Is(err, model.ErrNoCampground) {
			msg = fetcher.MsgNoCampground
		}
		return nil, &fetcher.UpstreamError{System: alert.ParkSystem, Kind: fetcher.KindConfig, Message: msg, Err: err}
	}

	src, err := s.sources.For(alert.ParkSystem)
	if err != nil {
		return nil, err
	}
	fetched, err := src.Fetch(ctx, alert)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{AlertID: alert.ID, Fetched: len(fetched.Sites), ParserMissing: fetched.ParserMissing}
	if len(fetched.Sites) == 0 {
		return result, nil
	}

	candidates, err := filter.Apply(fetched.Sites, alert)
	if err != nil {
		return nil, &fetcher.UpstreamError{System: alert.ParkSystem, Kind: fetcher.KindShape,
			Message: "malformed availability", Err: err}
	}
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		return result, nil
	}

	created, err := s.processor.Process(ctx, alert, candidates)
	if err != nil {
		return nil, fmt.Errorf("process matches: %w", err)
	}
	result.NewMatches = created
	return result, nil
}

// CheckNow runs the pipeline for a single alert on demand and records the
// check time regardless of the outcome.
func (s *Scheduler) CheckNow(ctx context.Context, alertID string) (*CheckResult, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	defer s.touch(ctx, alert.ID)
	return s.CheckAlert(ctx, alert)
}

// Expire runs the match expiry job.
func (s *Scheduler) Expire(ctx context.Context) {
	if _, err := s.processor.ExpireOld(ctx); err != nil {
		s.log.Error("expire matches", "error", err)
	}
}

// FlushPending runs the deferred-notification job.
func (s *Scheduler) FlushPending(ctx context.Context) {
	n, err := s.processor.FlushPending(ctx)
	if err != nil {
		s.log.Error("flush pending notifications", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("pending notifications sent", "matches", n)
	}
}
