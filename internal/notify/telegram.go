package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSender posts notifications to a user's linked chat.
type TelegramSender struct {
	api telegramAPI
}

// NewTelegramSender wraps a bot API client.
func NewTelegramSender(api telegramAPI) *TelegramSender {
	return &TelegramSender{api: api}
}

// SendChat implements ChatSender.
func (s *TelegramSender) SendChat(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
