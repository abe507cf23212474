package chat

import (
	"time"

	"gorm.io/datatypes"
)

// Message is one immutable chat turn. Rows are appended by the gateway and
// removed only by whole-conversation deletion; there is no update path.
// Ordering within a conversation is created_at ascending with id as the
// tie-breaker.
type Message struct {
	ID             uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string            `gorm:"type:varchar(64);not null;index:idx_conv_msg_user_conv,priority:1" json:"user_id"`
	ConversationID string            `gorm:"type:varchar(64);not null;index:idx_conv_msg_user_conv,priority:2" json:"conversation_id"`
	Role           string            `gorm:"type:varchar(16);not null" json:"role"`
	Content        string            `gorm:"type:text;not null" json:"message"`
	Metadata       datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (Message) TableName() string { return "conversation_messages" }

// Summary is the async-generated digest of a conversation, written by the
// summarization worker.
type Summary struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	UserID         string    `gorm:"type:varchar(64);not null;index:uniq_conv_summary,unique,priority:1"`
	ConversationID string    `gorm:"type:varchar(64);not null;index:uniq_conv_summary,unique,priority:2"`
	Summary        string    `gorm:"type:text;not null"`
	Model          string    `gorm:"type:varchar(64);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (Summary) TableName() string { return "conversation_summaries" }

// ConversationSummary is the listing shape returned to clients.
type ConversationSummary struct {
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	Preview        string    `json:"preview"`
	MessageCount   int       `json:"message_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ConversationList is the paginated aggregation result. Total counts all
// conversations before the limit was applied.
type ConversationList struct {
	Conversations []ConversationSummary `json:"conversations"`
	Count         int                   `json:"count"`
	Total         int                   `json:"total"`
}
