package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"campwatch/internal/model"
)

const (
	cmdAlerts  = "alerts"
	cmdMatches = "matches"
	cmdCheck   = "check"
)

const maxListedMatches = 10

func newMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	return msg
}

// alertKeyboard renders one row of action buttons per alert.
func alertKeyboard(alerts []model.Alert) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(alerts))
	for i, a := range alerts {
		label := shortLabel(i+1, a.Name)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label+" matches", cmdMatches+":"+a.ID),
			tgbotapi.NewInlineKeyboardButtonData("Check now", cmdCheck+":"+a.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	ack := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(ack); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, alertID, ok := strings.Cut(cb.Data, ":")
	if !ok || alertID == "" {
		return
	}

	log := b.log.With("action", action, "alert_id", alertID, "chat_id", chatID)
	if cb.From != nil {
		log = log.With("username", cb.From.UserName)
	}
	log.Info("callback")

	user, linked := b.linkedUser(ctx, chatID)
	if !linked {
		return
	}

	ref := AlertRef{ID: alertID}
	switch action {
	case cmdMatches:
		b.handleMatches(ctx, chatID, user, ref)
	case cmdCheck:
		b.handleCheck(ctx, chatID, user, ref)
	}
}
