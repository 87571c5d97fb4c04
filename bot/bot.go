package bot

import (
	"errors"
	"log/slog"

	"telegram-group-reply-bot/directory"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
)

var (
	ErrGetMe          = errors.New("cannot retrieve api user")
	ErrUpdatesChannel = errors.New("cannot get updates channel")
	ErrHandlerInit    = errors.New("cannot initialize handler")
)

type Bot struct {
	api       *telego.Bot
	directory *directory.Directory
	admins    map[int64]struct{}
}

func New(token string, dir *directory.Directory, admins []int64) (*Bot, error) {
	api, err := telego.NewBot(token)
	if err != nil {
		slog.Error("bot: Failed to create API client", "error", err)
		return nil, err
	}

	adminSet := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		adminSet[id] = struct{}{}
	}

	return &Bot{
		api:       api,
		directory: dir,
		admins:    adminSet,
	}, nil
}

func (b *Bot) Start() error {
	botUser, err := b.api.GetMe()
	if err != nil {
		slog.Error("bot: Cannot retrieve api user", "error", err)

		return ErrGetMe
	}

	slog.Info("bot: Running as", "id", botUser.ID, "username", botUser.Username, "is_bot", botUser.IsBot)

	updates, err := b.api.UpdatesViaLongPolling(nil)
	if err != nil {
		slog.Error("bot: Cannot get update channel", "error", err)

		return ErrUpdatesChannel
	}

	bh, err := th.NewBotHandler(b.api, updates)
	if err != nil {
		slog.Error("bot: Cannot initialize bot handler", "error", err)

		return ErrHandlerInit
	}

	bh.Handle(b.startHandler, th.CommandEqual("start"))
	bh.Handle(b.helpHandler, th.CommandEqual("help"))
	bh.Handle(b.adminOnly(b.registerHandler), th.CommandEqual("register"))
	bh.Handle(b.adminOnly(b.groupHandler), th.CommandEqual("group"))
	bh.Handle(b.watchHandler, th.AnyMessage())

	go bh.Start()

	return nil
}

func (b *Bot) startHandler(bot *telego.Bot, update telego.Update) {
	slog.Info("/start")

	b.sendMessage(update.Message.Chat.ID, escapeMarkdownV2(
		"Hi! I manage reply groups in this chat.\n"+
			"Use /help to see what I can do."))
}

func (b *Bot) helpHandler(bot *telego.Bot, update telego.Update) {
	slog.Info("/help")

	b.sendMessage(update.Message.Chat.ID, escapeMarkdownV2(
		"/register - register this chat\n"+
			"/group <action> <group name|group id> - manage groups\n"+
			"  Actions:\n"+
			"    create - create a group\n"+
			"    remove - remove a group and its members\n"+
			"    add - add a user to a group (reply to their message or pass a user id)\n"+
			"    del - remove a user from a group (reply or user id)\n"+
			"    show - show a group and its members\n"+
			"    set_message - set the group's auto-reply message\n"+
			"    set_chance - set the group's reply chance (0-100)\n"+
			"/group list - list all groups in this chat\n"+
			"\n"+
			"Only administrators can manage groups."))
}

func (b *Bot) registerHandler(bot *telego.Bot, update telego.Update) {
	slog.Info("/register")

	chatID := update.Message.Chat.ID

	_, created, err := b.directory.RegisterChat(update.Context(), chatID)
	if err != nil {
		slog.Error("bot: Failed to register chat", "error", err, "chat_id", chatID)
		b.sendMessage(chatID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	if created {
		b.sendMessage(chatID, escapeMarkdownV2("Chat registered successfully!"))
	} else {
		b.sendMessage(chatID, escapeMarkdownV2("Chat is already registered."))
	}
}

// watchHandler runs on every message that is not a handled command. It keeps
// the sender's cached username fresh and then rolls the auto-reply triggers;
// the refresh happens first so a reply never observes a stale name.
func (b *Bot) watchHandler(bot *telego.Bot, update telego.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}

	ctx := update.Context()

	chat, err := b.directory.FindChat(ctx, msg.Chat.ID)
	if err != nil {
		// Unregistered chats are none of our business.
		return
	}

	if err := b.directory.RefreshMemberName(ctx, chat.ID, msg.From.ID, msg.From.Username); err != nil {
		slog.Error("bot: Failed to refresh member name", "error", err,
			"chat_id", msg.Chat.ID, "user_id", msg.From.ID)
	}

	triggers, err := b.directory.EvaluateTriggers(ctx, chat.ID, msg.From.ID)
	if err != nil {
		slog.Error("bot: Failed to evaluate triggers", "error", err,
			"chat_id", msg.Chat.ID, "user_id", msg.From.ID)

		return
	}

	for _, trigger := range triggers {
		if trigger.Message == "" {
			continue
		}

		slog.Debug("bot: Trigger fired", "group_name", trigger.GroupName,
			"chat_id", msg.Chat.ID, "user_id", msg.From.ID)
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2(trigger.Message))
	}
}
