package bot

import (
	"fmt"
	"strconv"
	"strings"

	"ticket_bot/internal/model"
)

// ParseRecipient resolves a recipient to a Telegram target: either a numeric
// chat ID or an @channel username.
func ParseRecipient(id model.RecipientID) (int64, string, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return 0, "", fmt.Errorf("recipient is empty")
	}
	if strings.HasPrefix(s, "@") {
		if len(s) == 1 {
			return 0, "", fmt.Errorf("invalid channel %q", s)
		}
		return 0, s, nil
	}
	chatID, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid chat ID %q", s)
	}
	return chatID, "", nil
}

// RecipientForChat returns the recipient ID stored for a chat.
func RecipientForChat(chatID int64) model.RecipientID {
	return model.RecipientID(strconv.FormatInt(chatID, 10))
}

// ParseCallbackData splits inline button data of the form <action>:<chat_id>.
func ParseCallbackData(data string) (string, int64, error) {
	action, idStr, ok := strings.Cut(data, ":")
	if !ok || action == "" {
		return "", 0, fmt.Errorf("invalid callback data %q", data)
	}
	chatID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid chat ID %q", idStr)
	}
	return action, chatID, nil
}

func callbackData(action string, chatID int64) string {
	return fmt.Sprintf("%s:%d", action, chatID)
}
