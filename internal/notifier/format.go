package notifier

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ticket_bot/internal/model"
)

// linkEscaper percent-encodes the characters that end a Markdown link target early.
var linkEscaper = strings.NewReplacer("(", "%28", ")", "%29", " ", "%20")

// FormatEvent renders an event as a Telegram Markdown announcement.
func FormatEvent(ev model.Event) string {
	esc := func(s string) string { return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s) }

	var b strings.Builder
	fmt.Fprintf(&b, "🎟 *%s*\n", esc(ev.Name))
	fmt.Fprintf(&b, "📍 %s, %s\n", esc(ev.Venue), esc(ev.City))
	fmt.Fprintf(&b, "📅 %s\n", esc(ev.DisplayDate))
	fmt.Fprintf(&b, "💰 %s\n", esc(ev.PriceRange))
	fmt.Fprintf(&b, "🔗 [Buy Tickets](%s)", linkEscaper.Replace(ev.TicketRef))
	return b.String()
}
