// Package directory is the single authority for reading and mutating
// chat, group and membership state. The bot package never touches the
// database except through it.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"

	"telegram-group-reply-bot/storage"

	"gorm.io/gorm"
)

var (
	ErrChatNotRegistered = errors.New("chat is not registered")
	ErrGroupNotFound     = errors.New("group not found")
	ErrGroupExists       = errors.New("group already exists")
	ErrMemberNotFound    = errors.New("user is not a member of the group")
	ErrChanceOutOfRange  = errors.New("chance must be between 0 and 100")
)

// GroupSummary is a group annotated with its member count, as shown by the
// list command.
type GroupSummary struct {
	ID          uint
	Name        string
	Message     string
	Chance      int
	MemberCount int
}

// Trigger is one group whose probability draw succeeded for an incoming
// message, together with its configured reply.
type Trigger struct {
	GroupName string
	Message   string
}

type Directory struct {
	db *gorm.DB

	// roll draws a uniform integer in [0, n). A group triggers when
	// roll(100) < chance, so chance 100 always fires and 0 never does.
	roll func(n int) int
}

func New(db *gorm.DB) *Directory {
	return &Directory{
		db:   db,
		roll: rand.IntN,
	}
}

// RegisterChat creates a Chat for the Telegram chat id unless one already
// exists. It is idempotent: the second call reports created=false and leaves
// a single row behind.
func (d *Directory) RegisterChat(ctx context.Context, telegramID int64) (*storage.Chat, bool, error) {
	chat := &storage.Chat{}
	created := false

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("telegram_id = ?", telegramID).First(chat).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		chat.TelegramID = telegramID
		if err := tx.Create(chat).Error; err != nil {
			// Lost the race against a concurrent registration; the
			// unique index on telegram_id guarantees the row exists now.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return tx.Where("telegram_id = ?", telegramID).First(chat).Error
			}
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		slog.Error("directory: Failed to register chat", "error", err, "telegram_id", telegramID)
		return nil, false, fmt.Errorf("failed to register chat: %w", err)
	}

	return chat, created, nil
}

// FindChat returns the registered Chat for a Telegram chat id. Every
// group-scoped operation goes through this gate first.
func (d *Directory) FindChat(ctx context.Context, telegramID int64) (*storage.Chat, error) {
	chat := &storage.Chat{}
	err := d.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChatNotRegistered
	}
	if err != nil {
		slog.Error("directory: Failed to find chat", "error", err, "telegram_id", telegramID)
		return nil, fmt.Errorf("failed to find chat: %w", err)
	}

	return chat, nil
}

// CreateGroup creates a group with the given name under the chat, with no
// message and chance 0. The (chat_id, name) unique index backs the existence
// pre-check, so concurrent creates cannot both succeed.
func (d *Directory) CreateGroup(ctx context.Context, chatID uint, name string) (*storage.Group, error) {
	group := &storage.Group{}

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("chat_id = ? AND name = ?", chatID, name).First(group).Error
		if err == nil {
			return ErrGroupExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		group.Name = name
		group.ChatID = chatID
		if err := tx.Create(group).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrGroupExists
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrGroupExists) {
		return nil, ErrGroupExists
	}
	if err != nil {
		slog.Error("directory: Failed to create group", "error", err, "name", name, "chat_id", chatID)
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	return group, nil
}

// FindGroup resolves a group reference within a chat: an all-digits ref is
// treated as a group id, anything else as a group name.
func (d *Directory) FindGroup(ctx context.Context, chatID uint, ref string) (*storage.Group, error) {
	return d.findGroup(d.db.WithContext(ctx), chatID, ref)
}

func (d *Directory) findGroup(tx *gorm.DB, chatID uint, ref string) (*storage.Group, error) {
	group := &storage.Group{}

	var err error
	if id, ok := parseGroupID(ref); ok {
		err = tx.Where("id = ? AND chat_id = ?", id, chatID).First(group).Error
	} else {
		err = tx.Where("chat_id = ? AND name = ?", chatID, ref).First(group).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		slog.Error("directory: Failed to find group", "error", err, "ref", ref, "chat_id", chatID)
		return nil, fmt.Errorf("failed to find group: %w", err)
	}

	return group, nil
}

// RemoveGroup deletes the referenced group and all of its members in one
// transaction. It returns the deleted group for reporting.
func (d *Directory) RemoveGroup(ctx context.Context, chatID uint, ref string) (*storage.Group, error) {
	var group *storage.Group

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		group, err = d.findGroup(tx, chatID, ref)
		if err != nil {
			return err
		}

		if err := tx.Where("group_id = ?", group.ID).Delete(&storage.GroupMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&storage.Group{}, group.ID).Error
	})
	if errors.Is(err, ErrGroupNotFound) {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		slog.Error("directory: Failed to remove group", "error", err, "ref", ref, "chat_id", chatID)
		return nil, fmt.Errorf("failed to remove group: %w", err)
	}

	return group, nil
}

// AddMember adds a user to a group, or refreshes the cached username when the
// membership already exists. It reports whether a new membership was created.
func (d *Directory) AddMember(ctx context.Context, groupID uint, userID int64, username string) (bool, error) {
	added := false

	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&storage.Group{}, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}

		member := &storage.GroupMember{}
		err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(member).Error
		if err == nil {
			if member.Username == username {
				return nil
			}
			return tx.Model(member).Update("username", username).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		member = &storage.GroupMember{GroupID: groupID, UserID: userID, Username: username}
		if err := tx.Create(member).Error; err != nil {
			// A concurrent add won the race; keep the freshest username.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return tx.Model(&storage.GroupMember{}).
					Where("group_id = ? AND user_id = ?", groupID, userID).
					Update("username", username).Error
			}
			return err
		}
		added = true
		return nil
	})
	if errors.Is(err, ErrGroupNotFound) {
		return false, ErrGroupNotFound
	}
	if err != nil {
		slog.Error("directory: Failed to add member", "error", err,
			"group_id", groupID, "user_id", userID, "username", username)
		return false, fmt.Errorf("failed to add member: %w", err)
	}

	return added, nil
}

// RemoveMember deletes a user's membership in a group.
func (d *Directory) RemoveMember(ctx context.Context, groupID uint, userID int64) error {
	result := d.db.WithContext(ctx).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Delete(&storage.GroupMember{})
	if result.Error != nil {
		slog.Error("directory: Failed to remove member", "error", result.Error,
			"group_id", groupID, "user_id", userID)
		return fmt.Errorf("failed to remove member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}

	return nil
}

// ListMembers returns the group's members in insertion order. A missing group
// is ErrGroupNotFound, never an empty list.
func (d *Directory) ListMembers(ctx context.Context, groupID uint) ([]storage.GroupMember, error) {
	db := d.db.WithContext(ctx)

	if err := db.First(&storage.Group{}, groupID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroupNotFound
		}
		slog.Error("directory: Failed to find group", "error", err, "group_id", groupID)
		return nil, fmt.Errorf("failed to find group: %w", err)
	}

	var members []storage.GroupMember
	err := db.Where("group_id = ?", groupID).Order("id").Find(&members).Error
	if err != nil {
		slog.Error("directory: Failed to list members", "error", err, "group_id", groupID)
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	return members, nil
}

// ListGroups returns all groups of a chat in creation order, each with its
// member count.
func (d *Directory) ListGroups(ctx context.Context, chatID uint) ([]GroupSummary, error) {
	var summaries []GroupSummary

	err := d.db.WithContext(ctx).Model(&storage.Group{}).
		Select("groups.id, groups.name, groups.message, groups.chance, count(group_members.id) as member_count").
		Joins("LEFT JOIN group_members ON group_members.group_id = groups.id").
		Where("groups.chat_id = ?", chatID).
		Group("groups.id").
		Order("groups.id").
		Scan(&summaries).Error
	if err != nil {
		slog.Error("directory: Failed to list groups", "error", err, "chat_id", chatID)
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	return summaries, nil
}

// SetMessage overwrites the group's canned reply. Content is not validated;
// platform length limits are the transport's concern.
func (d *Directory) SetMessage(ctx context.Context, groupID uint, text string) error {
	err := d.updateGroup(ctx, groupID, "message", text)
	if err != nil && !errors.Is(err, ErrGroupNotFound) {
		slog.Error("directory: Failed to set message", "error", err, "group_id", groupID)
		return fmt.Errorf("failed to set message: %w", err)
	}

	return err
}

// SetChance overwrites the group's reply probability, an integer percentage
// in [0, 100].
func (d *Directory) SetChance(ctx context.Context, groupID uint, chance int) error {
	if chance < 0 || chance > 100 {
		return ErrChanceOutOfRange
	}

	err := d.updateGroup(ctx, groupID, "chance", chance)
	if err != nil && !errors.Is(err, ErrGroupNotFound) {
		slog.Error("directory: Failed to set chance", "error", err, "group_id", groupID, "chance", chance)
		return fmt.Errorf("failed to set chance: %w", err)
	}

	return err
}

func (d *Directory) updateGroup(ctx context.Context, groupID uint, column string, value any) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group := &storage.Group{}
		if err := tx.First(group, groupID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrGroupNotFound
			}
			return err
		}
		return tx.Model(group).Update(column, value).Error
	})
}

// RefreshMemberName updates the cached username on every membership the user
// holds in the chat's groups. A single UPDATE bounded by the user's
// memberships, called on every inbound message.
func (d *Directory) RefreshMemberName(ctx context.Context, chatID uint, userID int64, username string) error {
	db := d.db.WithContext(ctx)
	groupIDs := db.Model(&storage.Group{}).Select("id").Where("chat_id = ?", chatID)

	err := db.Model(&storage.GroupMember{}).
		Where("user_id = ? AND username <> ? AND group_id IN (?)", userID, username, groupIDs).
		Update("username", username).Error
	if err != nil {
		slog.Error("directory: Failed to refresh member name", "error", err,
			"chat_id", chatID, "user_id", userID, "username", username)
		return fmt.Errorf("failed to refresh member name: %w", err)
	}

	return nil
}

// EvaluateTriggers draws one independent sample per group the user belongs to
// in the chat and returns the groups whose draw fell within their chance. A
// user in three groups can trigger zero to three replies from one message.
func (d *Directory) EvaluateTriggers(ctx context.Context, chatID uint, userID int64) ([]Trigger, error) {
	var groups []storage.Group

	err := d.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.group_id = groups.id").
		Where("groups.chat_id = ? AND group_members.user_id = ?", chatID, userID).
		Order("groups.id").
		Find(&groups).Error
	if err != nil {
		slog.Error("directory: Failed to evaluate triggers", "error", err,
			"chat_id", chatID, "user_id", userID)
		return nil, fmt.Errorf("failed to evaluate triggers: %w", err)
	}

	var triggers []Trigger
	for _, group := range groups {
		if d.roll(100) < group.Chance {
			triggers = append(triggers, Trigger{GroupName: group.Name, Message: group.Message})
		}
	}

	return triggers, nil
}

func parseGroupID(ref string) (uint, bool) {
	if ref == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(ref, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
