package bot

import (
	"context"
	"errors"
	"fmt"

	"campwatch/internal/fetcher"
	"campwatch/internal/model"
	"campwatch/internal/storage"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	user, err := b.store.GetUserByTelegramChat(ctx, chatID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("load linked user", "chat_id", chatID, "error", err)
		}
		b.reply(chatID, "Welcome to Campwatch!\n\n"+notLinkedText(chatID))
		return
	}
	b.reply(chatID, fmt.Sprintf(`Welcome back, %s!

This chat receives your campsite alerts.
Use /alerts to see what you are watching, or /help for all commands.`, displayName(user)))
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Commands:
/start - show this chat's ID for linking
/alerts - list your alerts
/matches <n|alert_id> - recent matches for an alert
/check <n|alert_id> - check availability now

<n> is the alert's number in /alerts.`)
}

func (b *Bot) handleAlerts(ctx context.Context, chatID int64, user *model.User) {
	alerts, err := b.store.ListAlerts(ctx, user.ID)
	if err != nil {
		b.log.Error("list alerts", "user_id", user.ID, "error", err)
		b.reply(chatID, "Could not load your alerts. Please try again later.")
		return
	}

	msg := newMessage(chatID, FormatAlertList(alerts, user.Tier))
	if len(alerts) > 0 {
		msg.ReplyMarkup = alertKeyboard(alerts)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send alert list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleMatches(ctx context.Context, chatID int64, user *model.User, ref AlertRef) {
	alert, ok := b.resolveAlert(ctx, chatID, user, ref)
	if !ok {
		return
	}

	matches, err := b.store.ListMatches(ctx, alert.ID)
	if err != nil {
		b.log.Error("list matches", "alert_id", alert.ID, "error", err)
		b.reply(chatID, "Could not load matches. Please try again later.")
		return
	}
	b.reply(chatID, FormatMatchList(alert, matches, maxListedMatches))
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64, user *model.User, ref AlertRef) {
	alert, ok := b.resolveAlert(ctx, chatID, user, ref)
	if !ok {
		return
	}

	b.reply(chatID, fmt.Sprintf("Checking \"%s\"...", alert.Name))
	res, err := b.checker.CheckNow(ctx, alert.ID)
	if err != nil {
		b.log.Warn("manual check failed", "alert_id", alert.ID, "user_id", user.ID, "error", err)
		b.reply(chatID, fmt.Sprintf("Check failed: %s", fetcher.UserMessage(err)))
		return
	}
	b.reply(chatID, FormatCheckResult(alert, res))
}

// resolveAlert finds the user's alert referenced by ref. Alerts owned by
// other users are reported as not found.
func (b *Bot) resolveAlert(ctx context.Context, chatID int64, user *model.User, ref AlertRef) (*model.Alert, bool) {
	if ref.Index > 0 {
		alerts, err := b.store.ListAlerts(ctx, user.ID)
		if err != nil {
			b.log.Error("list alerts", "user_id", user.ID, "error", err)
			b.reply(chatID, "Could not load your alerts. Please try again later.")
			return nil, false
		}
		if ref.Index > len(alerts) {
			b.reply(chatID, fmt.Sprintf("Alert %d not found. Use /alerts to see your alerts.", ref.Index))
			return nil, false
		}
		return &alerts[ref.Index-1], true
	}

	alert, err := b.store.GetAlert(ctx, ref.ID)
	if err != nil || alert.UserID != user.ID {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			b.log.Error("load alert", "alert_id", ref.ID, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Alert %s not found.", ref.ID))
		return nil, false
	}
	return alert, true
}
