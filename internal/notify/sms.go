package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"campwatch/internal/config"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender sends SMS through the Twilio messages API.
type TwilioSender struct {
	api  messageCreator
	from string
	log  *slog.Logger
}

// NewTwilioSender returns nil unless credentials and a sender number are set.
func NewTwilioSender(cfg config.Twilio, log *slog.Logger) *TwilioSender {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: cfg.FromNumber, log: log}
}

// SendSMS implements SMSSender. The Twilio client does not take a context,
// so cancellation is only checked before the call.
func (s *TwilioSender) SendSMS(ctx context.Context, to, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.CreateMessageParams{}
	params.SetTo(FormatPhoneNumber(to))
	params.SetFrom(s.from)
	params.SetBody(message)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		s.log.Debug("sms accepted", "sid", *resp.Sid)
	}
	return nil
}

// FormatPhoneNumber converts a phone number to E.164, assuming US numbers
// when no country code is present. Unrecognized input is returned unchanged.
func FormatPhoneNumber(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)

	switch {
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) > 10:
		return "+" + digits
	default:
		return phone
	}
}

// IsValidPhoneNumber reports whether phone has between 10 and 15 digits.
func IsValidPhoneNumber(phone string) bool {
	n := 0
	for _, r := range phone {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n >= 10 && n <= 15
}
