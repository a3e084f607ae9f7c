package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campwatch/internal/metrics"
	"campwatch/internal/model"
)

// EmailSender delivers an email with plain-text and HTML bodies.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, text, html string) error
}

// SMSSender delivers a text message to a phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// ChatSender delivers a message to a Telegram chat.
type ChatSender interface {
	SendChat(ctx context.Context, chatID int64, text string) error
}

// DeliveryError reports a transport failure for one method.
type DeliveryError struct {
	Method model.NotificationMethod
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s: %v", e.Method, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Status is the result of one delivery attempt.
type Status string

// Delivery statuses.
const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	// StatusSkipped means no transport is configured for the method.
	StatusSkipped Status = "skipped"
)

// Outcome is the per-method result of a dispatch.
type Outcome struct {
	Method model.NotificationMethod
	Status Status
	Err    error
}

// Delivered returns the methods whose outcome was a successful delivery.
func Delivered(outcomes []Outcome) []model.NotificationMethod {
	var methods []model.NotificationMethod
	for _, o := range outcomes {
		if o.Status == StatusDelivered {
			methods = append(methods, o.Method)
		}
	}
	return methods
}

// DefaultSendTimeout bounds a single delivery when Dispatcher.Timeout is unset.
const DefaultSendTimeout = 30 * time.Second

// Dispatcher fans a rendered batch out to the configured transports.
// A nil transport marks its method as skipped.
type Dispatcher struct {
	Email EmailSender
	SMS   SMSSender
	Chat  ChatSender
	Log   *slog.Logger
	// Timeout bounds each delivery attempt.
	Timeout time.Duration
}

// Dispatch renders matches once and sends them over every method in parallel.
// Outcomes are returned in the order of methods.
func (d *Dispatcher) Dispatch(ctx context.Context, user *model.User, alert *model.Alert,
	matches []model.AlertMatch, methods []model.NotificationMethod) ([]Outcome, error) {
	if len(matches) == 0 || len(methods) == 0 {
		return nil, nil
	}

	msg, err := Render(user, alert, matches)
	if err != nil {
		return nil, err
	}

	log := d.logger().With("user_id", user.ID, "alert_id", alert.ID)
	outcomes := make([]Outcome, len(methods))

	var wg sync.WaitGroup
	for i, m := range methods {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.send(ctx, user, m, msg)
		}()
	}
	wg.Wait()

	for _, o := range outcomes {
		metrics.Notifications.WithLabelValues(string(o.Method), string(o.Status)).Inc()
		switch o.Status {
		case StatusDelivered:
			log.Info("notification sent", "method", o.Method, "matches", len(matches))
		case StatusSkipped:
			log.Warn("notification transport not configured", "method", o.Method)
		default:
			log.Error("notification failed", "method", o.Method, "error", o.Err)
		}
	}
	return outcomes, nil
}

func (d *Dispatcher) send(ctx context.Context, user *model.User, method model.NotificationMethod, msg Message) Outcome {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	switch method {
	case model.MethodEmail:
		if d.Email == nil {
			return Outcome{Method: method, Status: StatusSkipped}
		}
		err = d.Email.SendEmail(ctx, user.Email, msg.Subject, msg.Text, msg.HTML)
	case model.MethodSMS:
		if d.SMS == nil {
			return Outcome{Method: method, Status: StatusSkipped}
		}
		err = d.SMS.SendSMS(ctx, user.PhoneNumber, msg.SMS)
	case model.MethodTelegram:
		if d.Chat == nil {
			return Outcome{Method: method, Status: StatusSkipped}
		}
		err = d.Chat.SendChat(ctx, user.TelegramChatID, msg.Chat)
	default:
		err = fmt.Errorf("unknown method %q", method)
	}
	if err != nil {
		return Outcome{Method: method, Status: StatusFailed, Err: &DeliveryError{Method: method, Err: err}}
	}
	return Outcome{Method: method, Status: StatusDelivered}
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}
