package bot

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ticket_bot/internal/fetcher"
	"ticket_bot/internal/model"
	"ticket_bot/internal/pipeline"
	"ticket_bot/internal/storage"
)

const (
	statusSubscribed   = "subscribed"
	statusUnsubscribed = "not subscribed"
)

// FormatStatus describes a chat's subscription. tracked < 0 means the seen
// set could not be read.
func FormatStatus(r *model.Recipient, tracked int) string {
	var b strings.Builder
	status := statusUnsubscribed
	if r != nil && r.Subscribed {
		status = statusSubscribed
	}
	fmt.Fprintf(&b, "Status: %s\n", status)
	if r != nil && !r.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Since: %s\n", r.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	if tracked >= 0 {
		fmt.Fprintf(&b, "Events already announced: %d", tracked)
	} else {
		b.WriteString("Events already announced: unknown")
	}
	return b.String()
}

// FormatCheckResult turns the result of a manual run into a chat reply.
// Error details stay in the log.
func FormatCheckResult(res pipeline.Result, err error) string {
	if err == nil {
		return res.Summary()
	}
	var fe *fetcher.FetchError
	var pe *storage.PersistenceError
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return "A check is already running, try again later."
	case errors.As(err, &fe):
		return "Check failed: the ticket feed is unreachable."
	case errors.As(err, &pe):
		return "Check failed: storage is unavailable."
	default:
		return "Check failed."
	}
}

func statusKeyboard(chatID int64, subscribed, admin bool) tgbotapi.InlineKeyboardMarkup {
	toggle := tgbotapi.NewInlineKeyboardButtonData("Subscribe", callbackData(cbSubscribe, chatID))
	if subscribed {
		toggle = tgbotapi.NewInlineKeyboardButtonData("Unsubscribe", callbackData(cbUnsubscribeConfirm, chatID))
	}
	row := tgbotapi.NewInlineKeyboardRow(toggle)
	if admin {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("Check now", callbackData(cbCheck, chatID)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
