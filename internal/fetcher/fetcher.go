// Package fetcher queries upstream reservation platforms and normalizes their
// availability into model.AvailableSite values.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"campwatch/internal/metrics"
	"campwatch/internal/model"
)

const maxBodyBytes = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher resolves availability for alerts on one park system.
type Fetcher interface {
	System() model.ParkSystem
	Fetch(ctx context.Context, alert *model.Alert) (*Result, error)
	ReservationURL(siteID, campgroundID string) string
}

// Result is the outcome of one availability fetch.
type Result struct {
	Sites []model.AvailableSite
	// ParserMissing is set when the upstream answered but the payload format
	// has no parser yet. Sites is empty in that case; it is not an error.
	ParserMissing bool
}

// Options configures the HTTP behaviour shared by all fetchers.
type Options struct {
	Client            HTTPClient
	UserAgent         string
	Timeout           time.Duration
	RetryAttempts     int
	RetryBaseDelay    time.Duration
	RequestsPerMinute int
	Logger            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.UserAgent == "" {
		o.UserAgent = "campwatch/1.0"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBaseDelay < 0 {
		o.RetryBaseDelay = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// LinearBackoff waits base*n before the n-th retry.
func LinearBackoff(base time.Duration) retry.Backoff {
	var n int64
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return base * time.Duration(n), false
	})
}

// client is the retrying, rate-limited HTTP core embedded by every fetcher.
type client struct {
	system  model.ParkSystem
	opts    Options
	limiter *rate.Limiter
	log     *slog.Logger
}

func newClient(system model.ParkSystem, opts Options) client {
	opts = opts.withDefaults()
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60.0)
	}
	return client{
		system:  system,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     opts.Logger.With("park_system", string(system)),
	}
}

type requestFunc func(ctx context.Context) (*http.Request, error)

// fetch runs build -> Do -> parse under the retry policy. Each attempt waits
// for the host's rate limiter and carries its own timeout.
func (c *client) fetch(ctx context.Context, what string, build requestFunc, parse func(body []byte) error) error {
	backoff := retry.WithMaxRetries(uint64(c.opts.RetryAttempts-1), LinearBackoff(c.opts.RetryBaseDelay))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.attempt(ctx, build, parse)
		if err == nil {
			metrics.UpstreamRequests.WithLabelValues(string(c.system), "ok").Inc()
			return nil
		}
		metrics.UpstreamRequests.WithLabelValues(string(c.system), string(KindOf(err))).Inc()
		c.log.Warn("upstream attempt failed",
			"what", what, "attempt", attempt, "max_attempts", c.opts.RetryAttempts, "error", err)
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return c.transient(what, err)
}

func (c *client) attempt(ctx context.Context, build requestFunc, parse func(body []byte) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return c.transient("rate limit wait", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := build(ctx)
	if err != nil {
		return &UpstreamError{System: c.system, Kind: KindConfig, Message: "build request", Err: err}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return c.transient("http request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return c.transient("read body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp.StatusCode, body)
	}

	if err := parse(body); err != nil {
		var ue *UpstreamError
		if errors.As(err, &ue) {
			return err
		}
		return &UpstreamError{System: c.system, Kind: KindShape, Message: "unexpected payload", Err: err}
	}
	return nil
}

func (c *client) statusError(status int, body []byte) error {
	detail := truncate(body, 200)
	switch {
	case status == http.StatusNotFound || strings.Contains(strings.ToLower(detail), "not found"):
		return &UpstreamError{System: c.system, Kind: KindNotFound, Status: status, Message: "resource not found"}
	case status == http.StatusTooManyRequests || status >= 500:
		return &UpstreamError{System: c.system, Kind: KindTransient, Status: status,
			Message: fmt.Sprintf("unexpected status %d", status), Err: errors.New(detail)}
	default:
		return &UpstreamError{System: c.system, Kind: KindRejected, Status: status,
			Message: fmt.Sprintf("unexpected status %d", status), Err: errors.New(detail)}
	}
}

func (c *client) transient(msg string, err error) *UpstreamError {
	return &UpstreamError{System: c.system, Kind: KindTransient, Message: msg, Err: err}
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}

// Registry maps park systems to their fetchers.
type Registry struct {
	fetchers map[model.ParkSystem]Fetcher
}

// NewRegistry builds a registry from the given fetchers.
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[model.ParkSystem]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.fetchers[f.System()] = f
	}
	return r
}

// NewDefaultRegistry wires one fetcher per known park system.
// Each fetcher gets its own rate limiter, so pacing is per upstream host.
func NewDefaultRegistry(opts Options, recreationGovAPIKey string) *Registry {
	return NewRegistry(
		NewRecreationGov(opts, recreationGovAPIKey),
		NewReserveAmerica(opts),
		NewReserveCalifornia(opts),
	)
}

// For returns the fetcher registered for system.
func (r *Registry) For(system model.ParkSystem) (Fetcher, error) {
	f, ok := r.fetchers[system]
	if !ok {
		return nil, &UpstreamError{System: system, Kind: KindConfig,
			Message: fmt.Sprintf("park system %q is not supported", system)}
	}
	return f, nil
}
