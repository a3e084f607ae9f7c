// Package bot is the Telegram front end: it links chats to users and lets
// linked users inspect their alerts and matches.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"campwatch/internal/model"
	"campwatch/internal/scheduler"
	"campwatch/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Store is the persistence the bot reads from.
type Store interface {
	GetUserByTelegramChat(ctx context.Context, chatID int64) (*model.User, error)
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListAlerts(ctx context.Context, userID string) ([]model.Alert, error)
	ListMatches(ctx context.Context, alertID string) ([]model.AlertMatch, error)
}

// Checker runs an on-demand availability check.
type Checker interface {
	CheckNow(ctx context.Context, alertID string) (*scheduler.CheckResult, error)
}

// Bot answers Telegram commands for linked users.
type Bot struct {
	api     telegramAPI
	store   Store
	checker Checker
	log     *slog.Logger
}

// NewAPI connects to the Telegram Bot API with token. The returned client is
// shared by the bot and the chat notification transport.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// New creates a Bot.
func New(api telegramAPI, store Store, checker Checker, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		store:   store,
		checker: checker,
		log:     log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
		return
	case "help":
		b.handleHelp(chatID)
		return
	}

	user, ok := b.linkedUser(ctx, chatID)
	if !ok {
		return
	}

	switch cmd {
	case cmdAlerts:
		b.handleAlerts(ctx, chatID, user)
	case cmdMatches, cmdCheck:
		ref, err := ParseAlertRef(args)
		if err != nil {
			b.reply(chatID, fmt.Sprintf("Usage: /%s <n|alert_id>", cmd))
			return
		}
		if cmd == cmdMatches {
			b.handleMatches(ctx, chatID, user, ref)
		} else {
			b.handleCheck(ctx, chatID, user, ref)
		}
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// linkedUser resolves the user linked to chatID, replying with linking
// instructions when there is none.
func (b *Bot) linkedUser(ctx context.Context, chatID int64) (*model.User, bool) {
	user, err := b.store.GetUserByTelegramChat(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(chatID, notLinkedText(chatID))
		return nil, false
	}
	if err != nil {
		b.log.Error("load linked user", "chat_id", chatID, "error", err)
		b.reply(chatID, "Something went wrong. Please try again later.")
		return nil, false
	}
	return user, true
}
