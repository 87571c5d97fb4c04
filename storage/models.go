package storage

// Chat is a Telegram chat that has been registered for group management.
// Rows are created by explicit registration and never mutated afterwards.
type Chat struct {
	ID         uint  `gorm:"primarykey"`
	TelegramID int64 `gorm:"uniqueIndex"`
}

// Group is a named membership tag scoped to one chat. Message is the canned
// auto-reply text, Chance the reply probability as an integer percentage.
type Group struct {
	ID      uint   `gorm:"primarykey"`
	Name    string `gorm:"uniqueIndex:idx_chat_group"`
	ChatID  uint   `gorm:"uniqueIndex:idx_chat_group"`
	Message string
	Chance  int           `gorm:"default:0"`
	Members []GroupMember `gorm:"foreignKey:GroupID;constraint:OnDelete:CASCADE"`
}

// GroupMember is one user's membership in a group. Username is a cached
// display name refreshed opportunistically and may go stale.
type GroupMember struct {
	ID       uint  `gorm:"primarykey"`
	GroupID  uint  `gorm:"uniqueIndex:idx_group_user"`
	UserID   int64 `gorm:"uniqueIndex:idx_group_user"`
	Username string
}
