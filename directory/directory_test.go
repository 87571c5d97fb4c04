package directory

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"telegram-group-reply-bot/storage"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testDBCounter atomic.Int64

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()

	// A named in-memory database with a shared cache, so every pooled
	// connection sees the same data, but each test gets its own.
	dsn := fmt.Sprintf("file:directory_test_%d?mode=memory&cache=shared", testDBCounter.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))

	return New(db)
}

func registerTestChat(t *testing.T, d *Directory, telegramID int64) *storage.Chat {
	t.Helper()

	chat, created, err := d.RegisterChat(context.Background(), telegramID)
	require.NoError(t, err)
	require.True(t, created)
	return chat
}

func TestRegisterChatIdempotent(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	first, created, err := d.RegisterChat(ctx, 555)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := d.RegisterChat(ctx, 555)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, d.db.Model(&storage.Chat{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestFindChat(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	_, err := d.FindChat(ctx, 555)
	assert.ErrorIs(t, err, ErrChatNotRegistered)

	registered := registerTestChat(t, d, 555)

	chat, err := d.FindChat(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, registered.ID, chat.ID)
	assert.EqualValues(t, 555, chat.TelegramID)
}

func TestCreateGroup(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)

	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	assert.Equal(t, "fans", group.Name)
	assert.Empty(t, group.Message)
	assert.Equal(t, 0, group.Chance)

	_, err = d.CreateGroup(ctx, chat.ID, "fans")
	assert.ErrorIs(t, err, ErrGroupExists)

	var count int64
	require.NoError(t, d.db.Model(&storage.Group{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// Same name in a different chat is a different group.
	other := registerTestChat(t, d, 556)
	_, err = d.CreateGroup(ctx, other.ID, "fans")
	require.NoError(t, err)
}

func TestFindGroupByNameAndID(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)

	created, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	byName, err := d.FindGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byID, err := d.FindGroup(ctx, chat.ID, fmt.Sprint(created.ID))
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)

	_, err = d.FindGroup(ctx, chat.ID, "haters")
	assert.ErrorIs(t, err, ErrGroupNotFound)

	// Groups are scoped to their chat.
	other := registerTestChat(t, d, 556)
	_, err = d.FindGroup(ctx, other.ID, "fans")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestAddMemberUpsert(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	added, err := d.AddMember(ctx, group.ID, 42, "alice")
	require.NoError(t, err)
	assert.True(t, added)

	// Re-adding refreshes the cached username instead of duplicating.
	added, err = d.AddMember(ctx, group.ID, 42, "alice-renamed")
	require.NoError(t, err)
	assert.False(t, added)

	members, err := d.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.EqualValues(t, 42, members[0].UserID)
	assert.Equal(t, "alice-renamed", members[0].Username)

	_, err = d.AddMember(ctx, group.ID+100, 42, "alice")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestRemoveMember(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, group.ID, 42, "alice")
	require.NoError(t, err)

	require.NoError(t, d.RemoveMember(ctx, group.ID, 42))

	err = d.RemoveMember(ctx, group.ID, 42)
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestRemoveGroupCascades(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, group.ID, 42, "alice")
	require.NoError(t, err)
	_, err = d.AddMember(ctx, group.ID, 43, "bob")
	require.NoError(t, err)

	removed, err := d.RemoveGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	assert.Equal(t, group.ID, removed.ID)

	// The group is gone, not merely empty.
	_, err = d.ListMembers(ctx, group.ID)
	assert.ErrorIs(t, err, ErrGroupNotFound)

	var count int64
	require.NoError(t, d.db.Model(&storage.GroupMember{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)

	_, err = d.RemoveGroup(ctx, chat.ID, "fans")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestListMembersOrder(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	for i, username := range []string{"alice", "bob", "carol"} {
		_, err = d.AddMember(ctx, group.ID, int64(42+i), username)
		require.NoError(t, err)
	}

	members, err := d.ListMembers(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "alice", members[0].Username)
	assert.Equal(t, "bob", members[1].Username)
	assert.Equal(t, "carol", members[2].Username)
}

func TestListGroups(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)

	fans, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	_, err = d.CreateGroup(ctx, chat.ID, "mods")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, fans.ID, 42, "alice")
	require.NoError(t, err)
	_, err = d.AddMember(ctx, fans.ID, 43, "bob")
	require.NoError(t, err)

	groups, err := d.ListGroups(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "fans", groups[0].Name)
	assert.Equal(t, 2, groups[0].MemberCount)
	assert.Equal(t, "mods", groups[1].Name)
	assert.Equal(t, 0, groups[1].MemberCount)
}

func TestSetMessage(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	require.NoError(t, d.SetMessage(ctx, group.ID, "welcome!"))

	found, err := d.FindGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	assert.Equal(t, "welcome!", found.Message)

	err = d.SetMessage(ctx, group.ID+100, "welcome!")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestSetChance(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	assert.ErrorIs(t, d.SetChance(ctx, group.ID, 150), ErrChanceOutOfRange)
	assert.ErrorIs(t, d.SetChance(ctx, group.ID, -1), ErrChanceOutOfRange)

	require.NoError(t, d.SetChance(ctx, group.ID, 0))
	require.NoError(t, d.SetChance(ctx, group.ID, 100))

	found, err := d.FindGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	assert.Equal(t, 100, found.Chance)

	assert.ErrorIs(t, d.SetChance(ctx, group.ID+100, 50), ErrGroupNotFound)
}

func TestRefreshMemberName(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	other := registerTestChat(t, d, 556)

	fans, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	mods, err := d.CreateGroup(ctx, chat.ID, "mods")
	require.NoError(t, err)
	elsewhere, err := d.CreateGroup(ctx, other.ID, "fans")
	require.NoError(t, err)

	for _, groupID := range []uint{fans.ID, mods.ID, elsewhere.ID} {
		_, err = d.AddMember(ctx, groupID, 42, "alice")
		require.NoError(t, err)
	}

	require.NoError(t, d.RefreshMemberName(ctx, chat.ID, 42, "alice-renamed"))

	// Both memberships in the chat are refreshed.
	for _, groupID := range []uint{fans.ID, mods.ID} {
		members, err := d.ListMembers(ctx, groupID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, "alice-renamed", members[0].Username)
	}

	// The other chat's cached name is untouched.
	members, err := d.ListMembers(ctx, elsewhere.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "alice", members[0].Username)
}

func TestEvaluateTriggersDeterministicBounds(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, group.ID, 42, "alice")
	require.NoError(t, err)
	require.NoError(t, d.SetMessage(ctx, group.ID, "welcome!"))

	// chance=100 fires on every call.
	require.NoError(t, d.SetChance(ctx, group.ID, 100))
	for i := 0; i < 10; i++ {
		triggers, err := d.EvaluateTriggers(ctx, chat.ID, 42)
		require.NoError(t, err)
		require.Len(t, triggers, 1)
		assert.Equal(t, Trigger{GroupName: "fans", Message: "welcome!"}, triggers[0])
	}

	// chance=0 never fires.
	require.NoError(t, d.SetChance(ctx, group.ID, 0))
	for i := 0; i < 10; i++ {
		triggers, err := d.EvaluateTriggers(ctx, chat.ID, 42)
		require.NoError(t, err)
		assert.Empty(t, triggers)
	}
}

func TestEvaluateTriggersBoundaryRoll(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, group.ID, 42, "alice")
	require.NoError(t, err)
	require.NoError(t, d.SetMessage(ctx, group.ID, "welcome!"))
	require.NoError(t, d.SetChance(ctx, group.ID, 50))

	// A draw of chance-1 is inside the window.
	d.roll = func(n int) int { return 49 }
	triggers, err := d.EvaluateTriggers(ctx, chat.ID, 42)
	require.NoError(t, err)
	assert.Len(t, triggers, 1)

	// A draw equal to chance is outside.
	d.roll = func(n int) int { return 50 }
	triggers, err = d.EvaluateTriggers(ctx, chat.ID, 42)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}

func TestEvaluateTriggersIndependentPerGroup(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)

	fans, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)
	mods, err := d.CreateGroup(ctx, chat.ID, "mods")
	require.NoError(t, err)

	for _, g := range []*storage.Group{fans, mods} {
		_, err = d.AddMember(ctx, g.ID, 42, "alice")
		require.NoError(t, err)
		require.NoError(t, d.SetMessage(ctx, g.ID, "hello from "+g.Name))
		require.NoError(t, d.SetChance(ctx, g.ID, 50))
	}

	// One draw per group: the first falls inside the window, the second
	// outside, so only "fans" replies.
	draws := []int{49, 50}
	d.roll = func(n int) int {
		draw := draws[0]
		draws = draws[1:]
		return draw
	}

	triggers, err := d.EvaluateTriggers(ctx, chat.ID, 42)
	require.NoError(t, err)
	require.Len(t, triggers, 1)
	assert.Equal(t, "fans", triggers[0].GroupName)
	assert.Empty(t, draws)
}

func TestEvaluateTriggersNoMembership(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	chat := registerTestChat(t, d, 555)
	group, err := d.CreateGroup(ctx, chat.ID, "fans")
	require.NoError(t, err)

	_, err = d.AddMember(ctx, group.ID, 42, "alice")
	require.NoError(t, err)
	require.NoError(t, d.SetMessage(ctx, group.ID, "welcome!"))
	require.NoError(t, d.SetChance(ctx, group.ID, 100))

	require.NoError(t, d.RemoveMember(ctx, group.ID, 42))

	triggers, err := d.EvaluateTriggers(ctx, chat.ID, 42)
	require.NoError(t, err)
	assert.Empty(t, triggers)
}
