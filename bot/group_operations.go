package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"telegram-group-reply-bot/directory"
	"telegram-group-reply-bot/storage"

	"github.com/mymmrac/telego"
)

const groupUsage = "Usage: /group <action> <group name|group id> [args]. Actions: create, remove, add, del, show, set_message, set_chance, list."

type action string

const (
	actionCreate     action = "create"
	actionRemove     action = "remove"
	actionAdd        action = "add"
	actionDel        action = "del"
	actionShow       action = "show"
	actionSetMessage action = "set_message"
	actionSetChance  action = "set_chance"
	actionList       action = "list"
)

// groupCommand is one parsed /group invocation: the action, the group
// reference (name or id) and whatever arguments the action takes.
type groupCommand struct {
	action action
	ref    string
	args   []string
}

var errUsage = errors.New(groupUsage)

// parseGroupCommand splits "/group <action> <ref> [args...]" into a
// groupCommand. The list action takes no group reference.
func parseGroupCommand(text string) (*groupCommand, error) {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return nil, errUsage
	}

	cmd := &groupCommand{action: action(fields[1])}

	switch cmd.action {
	case actionList:
		return cmd, nil
	case actionCreate, actionRemove, actionAdd, actionDel, actionShow, actionSetMessage, actionSetChance:
		if len(fields) < 3 {
			return nil, errUsage
		}
		cmd.ref = fields[2]
		cmd.args = fields[3:]
		return cmd, nil
	default:
		return nil, errUsage
	}
}

// groupHandler is the single dispatch point for every /group action. All
// domain decisions live in the directory; this only parses, resolves and
// formats.
func (b *Bot) groupHandler(bot *telego.Bot, update telego.Update) {
	slog.Info("/group")

	msg := update.Message
	ctx := update.Context()
	chatID := msg.Chat.ID

	cmd, err := parseGroupCommand(msg.Text)
	if err != nil {
		b.sendMessage(chatID, escapeMarkdownV2(err.Error()))

		return
	}

	chat, err := b.directory.FindChat(ctx, chatID)
	if errors.Is(err, directory.ErrChatNotRegistered) {
		b.sendMessage(chatID, escapeMarkdownV2("Chat is not registered. Use /register first."))

		return
	}
	if err != nil {
		b.sendMessage(chatID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	switch cmd.action {
	case actionCreate:
		b.createGroup(ctx, chat, cmd.ref)

		return
	case actionList:
		b.listGroups(ctx, chat)

		return
	}

	group, err := b.directory.FindGroup(ctx, chat.ID, cmd.ref)
	if errors.Is(err, directory.ErrGroupNotFound) {
		b.sendMessage(chatID, escapeMarkdownV2("Group not found."))

		return
	}
	if err != nil {
		b.sendMessage(chatID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	switch cmd.action {
	case actionRemove:
		b.removeGroup(ctx, chat, group)
	case actionAdd:
		b.addMember(ctx, group, msg, cmd.args)
	case actionDel:
		b.delMember(ctx, group, msg, cmd.args)
	case actionShow:
		b.showGroup(ctx, chatID, group)
	case actionSetMessage:
		b.setMessage(ctx, chatID, group, cmd.args)
	case actionSetChance:
		b.setChance(ctx, chatID, group, cmd.args)
	}
}

func (b *Bot) createGroup(ctx context.Context, chat *storage.Chat, name string) {
	if !isValidGroupName(name) {
		b.sendMessage(chat.TelegramID, escapeMarkdownV2(
			"Invalid group name. Use lowercase letters, digits and hyphens."))

		return
	}

	group, err := b.directory.CreateGroup(ctx, chat.ID, name)
	if errors.Is(err, directory.ErrGroupExists) {
		b.sendMessage(chat.TelegramID, escapeMarkdownV2(
			fmt.Sprintf("Group '%s' already exists.", name)))

		return
	}
	if err != nil {
		b.sendMessage(chat.TelegramID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	slog.Info("bot: Group created", "group_name", group.Name, "chat_id", chat.TelegramID)
	b.sendMessage(chat.TelegramID, escapeMarkdownV2(fmt.Sprintf("Group '%s' created.", group.Name)))
}

func (b *Bot) removeGroup(ctx context.Context, chat *storage.Chat, group *storage.Group) {
	removed, err := b.directory.RemoveGroup(ctx, chat.ID, strconv.FormatUint(uint64(group.ID), 10))
	if errors.Is(err, directory.ErrGroupNotFound) {
		b.sendMessage(chat.TelegramID, escapeMarkdownV2("Group not found."))

		return
	}
	if err != nil {
		b.sendMessage(chat.TelegramID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	slog.Info("bot: Group removed", "group_name", removed.Name, "chat_id", chat.TelegramID)
	b.sendMessage(chat.TelegramID, escapeMarkdownV2(fmt.Sprintf("Group '%s' removed.", removed.Name)))
}

func (b *Bot) addMember(ctx context.Context, group *storage.Group, msg *telego.Message, args []string) {
	userID, username, ok := targetUser(msg, args)
	if !ok {
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2(
			"Reply to the user's message or pass a numeric user id."))

		return
	}

	added, err := b.directory.AddMember(ctx, group.ID, userID, username)
	if err != nil {
		slog.Error("bot: Failed to add member", "error", err, "group_id", group.ID, "user_id", userID)
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	if !added {
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2(
			fmt.Sprintf("User is already in group '%s'.", group.Name)))

		return
	}

	slog.Info("bot: Member added", "group_name", group.Name, "user_id", userID, "username", username)
	b.sendMessage(msg.Chat.ID, escapeMarkdownV2(
		fmt.Sprintf("User %s added to group '%s'.", displayName(userID, username), group.Name)))
}

func (b *Bot) delMember(ctx context.Context, group *storage.Group, msg *telego.Message, args []string) {
	userID, _, ok := targetUser(msg, args)
	if !ok {
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2(
			"Reply to the user's message or pass a numeric user id."))

		return
	}

	err := b.directory.RemoveMember(ctx, group.ID, userID)
	if errors.Is(err, directory.ErrMemberNotFound) {
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2(
			fmt.Sprintf("User is not in group '%s'.", group.Name)))

		return
	}
	if err != nil {
		slog.Error("bot: Failed to remove member", "error", err, "group_id", group.ID, "user_id", userID)
		b.sendMessage(msg.Chat.ID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	slog.Info("bot: Member removed", "group_name", group.Name, "user_id", userID)
	b.sendMessage(msg.Chat.ID, escapeMarkdownV2(
		fmt.Sprintf("User removed from group '%s'.", group.Name)))
}

func (b *Bot) showGroup(ctx context.Context, chatID int64, group *storage.Group) {
	members, err := b.directory.ListMembers(ctx, group.ID)
	if err != nil {
		slog.Error("bot: Failed to list members", "error", err, "group_id", group.ID)
		b.sendMessage(chatID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	memberList := "No members."
	if len(members) > 0 {
		memberList = strings.Join(formatMentions(members), ", ")
	}

	b.sendMessage(chatID, fmt.Sprintf(
		"Group *%s* \\(ID: %d\\):\nMembers \\(%d\\): %s",
		escapeMarkdownV2(group.Name), group.ID, len(members), memberList))
}

func (b *Bot) setMessage(ctx context.Context, chatID int64, group *storage.Group, args []string) {
	text := strings.Join(args, " ")
	if text == "" {
		b.sendMessage(chatID, escapeMarkdownV2("Usage: /group set_message <group> <text>"))

		return
	}

	if err := b.directory.SetMessage(ctx, group.ID, text); err != nil {
		slog.Error("bot: Failed to set message", "error", err, "group_id", group.ID)
		b.sendMessage(chatID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	b.sendMessage(chatID, escapeMarkdownV2(
		fmt.Sprintf("Message for group '%s' set.", group.Name)))
}

func (b *Bot) setChance(ctx context.Context, chatID int64, group *storage.Group, args []string) {
	if len(args) != 1 {
		b.sendMessage(chatID, escapeMarkdownV2("Usage: /group set_chance <group> <0-100>"))

		return
	}

	chance, err := strconv.Atoi(args[0])
	if err != nil {
		b.sendMessage(chatID, escapeMarkdownV2("Chance must be an integer between 0 and 100."))

		return
	}

	err = b.directory.SetChance(ctx, group.ID, chance)
	if errors.Is(err, directory.ErrChanceOutOfRange) {
		b.sendMessage(chatID, escapeMarkdownV2("Chance must be an integer between 0 and 100."))

		return
	}
	if err != nil {
		slog.Error("bot: Failed to set chance", "error", err, "group_id", group.ID, "chance", chance)
		b.sendMessage(chatID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	b.sendMessage(chatID, escapeMarkdownV2(
		fmt.Sprintf("Reply chance for group '%s' set to %d%%.", group.Name, chance)))
}

func (b *Bot) listGroups(ctx context.Context, chat *storage.Chat) {
	groups, err := b.directory.ListGroups(ctx, chat.ID)
	if err != nil {
		slog.Error("bot: Failed to list groups", "error", err, "chat_id", chat.TelegramID)
		b.sendMessage(chat.TelegramID, escapeMarkdownV2("Database error. Try again later."))

		return
	}

	if len(groups) == 0 {
		b.sendMessage(chat.TelegramID, escapeMarkdownV2("No groups found."))

		return
	}

	lines := make([]string, 0, len(groups))
	for _, group := range groups {
		lines = append(lines, fmt.Sprintf("ID: %d, name: %s, members: %d",
			group.ID, group.Name, group.MemberCount))
	}

	b.sendMessage(chat.TelegramID, escapeMarkdownV2("Groups:\n"+strings.Join(lines, "\n")))
}
