package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ticket_bot/internal/storage"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if err := b.store.Subscribe(ctx, RecipientForChat(chatID)); err != nil {
		b.log.Error("subscribe", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to subscribe, please try again later.")
		return
	}
	b.log.Info("chat subscribed", "chat_id", chatID)

	b.reply(chatID, `Welcome to Ticket Notify Bot!

This chat is now subscribed. You will get a message for every new event listing.

/stop — unsubscribe
/status — subscription details
/help — all commands`)
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	err := b.store.Unsubscribe(ctx, RecipientForChat(chatID))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		b.reply(chatID, "This chat is not subscribed.")
		return
	case err != nil:
		b.log.Error("unsubscribe", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to unsubscribe, please try again later.")
		return
	}
	b.log.Info("chat unsubscribed", "chat_id", chatID)
	b.reply(chatID, "Unsubscribed. Use /start to subscribe again.")
}

func (b *Bot) handleStatus(ctx context.Context, chatID, userID int64) {
	r, err := b.store.GetRecipient(ctx, RecipientForChat(chatID))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("get recipient", "chat_id", chatID, "error", err)
		b.reply(chatID, "Failed to read subscription, please try again later.")
		return
	}

	tracked := -1
	if b.seen != nil {
		if set, err := b.seen.Load(ctx); err != nil {
			b.log.Warn("load seen events", "error", err)
		} else {
			tracked = set.Len()
		}
	}

	subscribed := r != nil && r.Subscribed
	msg := tgbotapi.NewMessage(chatID, FormatStatus(r, tracked))
	msg.ReplyMarkup = statusKeyboard(chatID, subscribed, b.runner != nil && b.cfg.IsUserAllowed(userID))
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send status", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCheck(ctx context.Context, chatID, userID int64) {
	if !b.cfg.IsUserAllowed(userID) {
		b.reply(chatID, "Access denied.")
		return
	}
	if b.runner == nil {
		b.reply(chatID, "Manual checks are not available.")
		return
	}

	b.log.Info("manual check", "chat_id", chatID, "user_id", userID)
	res, err := b.runner.Run(ctx)
	b.reply(chatID, FormatCheckResult(res, err))
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, fmt.Sprintf(`Commands:
/start — subscribe this chat to new event listings
/stop — unsubscribe this chat
/status — show subscription details
/%s — look for new events now (admins only)
/help — this message`, cmdCheck))
}
