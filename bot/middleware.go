package bot

import (
	"log/slog"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

// adminOnly gates a handler behind the configured administrator list. The
// directory knows nothing about admins; authorization stops here.
func (b *Bot) adminOnly(next th.Handler) th.Handler {
	return func(bot *telego.Bot, update telego.Update) {
		if update.Message == nil || update.Message.From == nil {
			return
		}

		if !b.isAdmin(update.Message.From.ID) {
			slog.Info("bot: Command rejected, not an admin",
				"user_id", update.Message.From.ID, "chat_id", update.Message.Chat.ID)
			b.sendMessage(update.Message.Chat.ID,
				escapeMarkdownV2("You don't have permission to use this command."))

			return
		}

		next(bot, update)
	}
}

func (b *Bot) isAdmin(userID int64) bool {
	_, ok := b.admins[userID]
	return ok
}
