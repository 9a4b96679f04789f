package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdCheck = "check"

	cbSubscribe          = "subscribe"
	cbUnsubscribe        = "unsubscribe"
	cbUnsubscribeConfirm = "unsubscribe_confirm"
	cbCheck              = "check"
	cbNoop               = "noop"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Send(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, target, err := ParseCallbackData(cb.Data)
	if err != nil {
		return
	}
	// Buttons are only honoured in the chat they were issued for.
	if target != chatID {
		return
	}

	var userID int64
	if cb.From != nil {
		userID = cb.From.ID
	}
	b.log.Info("callback",
		"action", action,
		"chat_id", chatID,
		"user_id", userID,
	)

	switch action {
	case cbSubscribe:
		b.handleStart(ctx, chatID)
	case cbUnsubscribeConfirm:
		msg := tgbotapi.NewMessage(chatID, "Stop receiving ticket notifications in this chat?")
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, unsubscribe", callbackData(cbUnsubscribe, chatID)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackData(cbNoop, chatID)),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send unsubscribe confirmation", "error", err)
		}
	case cbUnsubscribe:
		b.handleStop(ctx, chatID)
	case cbCheck:
		b.handleCheck(ctx, chatID, userID)
	}
}
