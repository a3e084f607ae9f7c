// Command campwatch polls campground reservation platforms for availability
// matching saved alerts and notifies their owners.
//
// Usage:
//
//	campwatch serve [--addr :8080]
//	campwatch check <alert-id>
//	campwatch expire
//	campwatch notify-pending
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"campwatch/internal/api"
	"campwatch/internal/bot"
	"campwatch/internal/config"
	"campwatch/internal/fetcher"
	"campwatch/internal/matcher"
	"campwatch/internal/notify"
	"campwatch/internal/scheduler"
	"campwatch/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:          "campwatch",
		Short:        "Campground availability poller",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(expireCmd())
	root.AddCommand(notifyPendingCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tier scheduler, HTTP API and Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.HTTPAddr
				}

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return a.scheduler.Run(ctx)
				})
				g.Go(func() error {
					srv := api.NewServer(addr, api.NewRouter(a.store, a.scheduler, a.log), a.log)
					return srv.Run(ctx)
				})
				if a.telegram != nil {
					b := bot.New(a.telegram, a.store, a.scheduler, a.log)
					g.Go(func() error {
						a.log.Info("telegram bot started", "username", a.telegram.Self.UserName)
						b.Run(ctx)
						return nil
					})
				} else {
					a.log.Info("TELEGRAM_BOT_TOKEN not set, bot disabled")
				}

				a.log.Info("campwatch started")
				err := g.Wait()
				a.log.Info("campwatch stopped")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (default $HTTP_ADDR)")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <alert-id>",
		Short: "Check one alert now and record any new matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app) error {
				res, err := a.scheduler.CheckNow(ctx, args[0])
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), fetcher.UserMessage(err))
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "alert %s: %d site(s) fetched, %d matching, %d new match(es)\n",
					res.AlertID, res.Fetched, res.Candidates, len(res.NewMatches))
				if res.ParserMissing {
					fmt.Fprintln(out, "availability for this park system can't be parsed yet")
				}
				for _, m := range res.NewMatches {
					var ranges []string
					for _, r := range m.AvailableDates {
						ranges = append(ranges, r.String())
					}
					fmt.Fprintf(out, "  %s (%s) %s %s\n", m.SiteName, m.SiteType, strings.Join(ranges, ","), m.ReservationURL)
				}
				return nil
			})
		},
	}
}

func expireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire",
		Short: "Flag matches whose dates have all passed as expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app) error {
				n, err := a.processor.ExpireOld(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d match(es)\n", n)
				return nil
			})
		},
	}
}

func notifyPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "notify-pending",
		Short: "Send notifications for matches that were never delivered",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(ctx context.Context, a *app) error {
				n, err := a.processor.FlushPending(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "notified %d match(es)\n", n)
				return nil
			})
		},
	}
}

// --------------------------------------------------------------------------
// Shared setup
// --------------------------------------------------------------------------

type app struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *storage.SQLite
	telegram  *tgbotapi.BotAPI
	processor *matcher.Processor
	scheduler *scheduler.Scheduler
}

// run handles config loading, wiring and signal-driven cancellation.
func run(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	a, err := newApp(cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		return err
	}
	defer func() { _ = a.store.Close() }()

	return fn(ctx, a)
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	a := &app{cfg: cfg, log: log, store: store}

	dispatcher := &notify.Dispatcher{Log: log, Timeout: cfg.NotifyTimeout}
	if s := notify.NewSMTPSender(cfg.SMTP); s != nil {
		dispatcher.Email = s
	} else {
		log.Warn("SMTP_HOST not set, email notifications disabled")
	}
	if s := notify.NewTwilioSender(cfg.Twilio, log); s != nil {
		dispatcher.SMS = s
	} else {
		log.Warn("Twilio credentials not set, SMS notifications disabled")
	}
	if cfg.TelegramBotToken != "" {
		tg, err := bot.NewAPI(cfg.TelegramBotToken)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.telegram = tg
		dispatcher.Chat = notify.NewTelegramSender(tg)
	}

	sources := fetcher.NewDefaultRegistry(fetcher.Options{
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.RequestTimeout,
		RetryAttempts:     cfg.RetryAttempts,
		RetryBaseDelay:    cfg.RetryBaseDelay,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Logger:            log,
	}, cfg.RecreationGovKey)

	a.processor = matcher.New(store, dispatcher, cfg.QuietHoursPolicy, log)

	opts := scheduler.Options{
		TierIntervals:  cfg.TierIntervals,
		Pacing:         cfg.InterAlertPacing,
		ExpirySchedule: cfg.ExpirySchedule,
	}
	if cfg.QuietHoursPolicy == config.QuietHoursDefer {
		opts.PendingSchedule = cfg.PendingSchedule
	}
	a.scheduler = scheduler.New(store, sources, a.processor, opts, log)

	return a, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
