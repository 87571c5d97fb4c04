package bot

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"telegram-group-reply-bot/storage"

	t "github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// targetUser resolves the user a membership command applies to: the sender of
// the replied-to message, or an explicit numeric user id argument. The
// username is unknown when the target is given by id.
func targetUser(msg *t.Message, args []string) (int64, string, bool) {
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.ID, msg.ReplyToMessage.From.Username, true
	}

	if len(args) == 1 {
		if userID, err := strconv.ParseInt(args[0], 10, 64); err == nil && userID > 0 {
			return userID, "", true
		}
	}

	return 0, "", false
}

// displayName is the human-readable form of a member: @username when the
// cached name is known, the bare id otherwise.
func displayName(userID int64, username string) string {
	if username != "" {
		return "@" + username
	}
	return strconv.FormatInt(userID, 10)
}

// formatMentions renders members as MarkdownV2 mention links.
func formatMentions(members []storage.GroupMember) []string {
	mentions := make([]string, 0, len(members))
	for _, member := range members {
		name := member.Username
		if name == "" {
			name = strconv.FormatInt(member.UserID, 10)
		}
		mentions = append(mentions, fmt.Sprintf("[%s](tg://user?id=%d)",
			escapeMarkdownV2(name), member.UserID))
	}
	return mentions
}

func escapeMarkdownV2(text string) string {
	specialChars := []string{
		"_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!", "&", "<",
	}

	for _, char := range specialChars {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func isValidGroupName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}
	return true
}

func (b *Bot) sendMessage(chatID int64, text string) {
	message := tu.Message(tu.ID(chatID), text)
	message.ParseMode = "MarkdownV2"

	_, err := b.api.SendMessage(message)
	if err != nil {
		// Check if it's a rate limit error
		if strings.Contains(err.Error(), "Too Many Requests") {
			// Extract retry_after value from error message
			// Format: "telego: sendMessage: api: 429 \"Too Many Requests: retry after 5\", migrate to chat ID: 0, retry after: 5"
			parts := strings.Split(err.Error(), "retry after: ")
			if len(parts) == 2 {
				var retryAfter int
				if _, _ = fmt.Sscanf(parts[1], "%d", &retryAfter); retryAfter > 0 {
					slog.Debug("bot: API error", "error", err.Error())
					slog.Info("bot: Rate limit hit, waiting", "seconds", retryAfter)
					time.Sleep(time.Duration(retryAfter) * time.Second)
					_, retryErr := b.api.SendMessage(message)
					if retryErr != nil {
						err = retryErr
					} else {
						slog.Info("bot: Message sent successfully after rate limit wait")
						return
					}
				}
			}
		}
		slog.Error("bot: Failed to send message", "error", err, "chat_id", chatID, "text_length", len(text))
	}
}
