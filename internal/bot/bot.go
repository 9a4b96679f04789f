package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ticket_bot/internal/config"
	"ticket_bot/internal/model"
	"ticket_bot/internal/notifier"
	"ticket_bot/internal/pipeline"
	"ticket_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Runner triggers a notification pass.
type Runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

// Bot is the Telegram bot that handles subscription commands and delivers notifications.
type Bot struct {
	api    telegramAPI
	store  storage.Storage
	seen   storage.SeenStore
	runner Runner
	cfg    *config.Config
	log    *slog.Logger
}

var _ notifier.Sender = (*Bot)(nil)

// New creates a Bot with the given Telegram token. store keeps the chat
// subscriptions, seen is queried for /status.
func New(token string, store storage.Storage, seen storage.SeenStore, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:   api,
		store: store,
		seen:  seen,
		cfg:   cfg,
		log:   log,
	}, nil
}

// SetRunner enables /check. It must be called before Run.
func (b *Bot) SetRunner(r Runner) {
	b.runner = r
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

// Send delivers a Markdown message to a chat or @channel.
func (b *Bot) Send(ctx context.Context, to model.RecipientID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, channel, err := ParseRecipient(to)
	if err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if channel != "" {
		msg = tgbotapi.NewMessageToChannel(channel, text)
	} else {
		msg = tgbotapi.NewMessage(chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendMessage sends a plain text message to the given chat.
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

	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "user_id", userID)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "stop":
		b.handleStop(ctx, chatID)
	case "status":
		b.handleStatus(ctx, chatID, userID)
	case cmdCheck:
		b.handleCheck(ctx, chatID, userID)
	case "help":
		b.handleHelp(chatID)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}
