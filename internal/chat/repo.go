package chat

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Append(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ListByUser returns every message the user owns, in no particular order.
// The aggregator re-sorts.
func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListConversation returns one conversation's messages oldest first.
func (r *Repo) ListConversation(ctx context.Context, userID, conversationID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Order("created_at ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND conversation_id = ?", userID, conversationID).
		Delete(&Message{}).Error
}

// UpsertSummary writes or replaces the digest for (user, conversation).
func (r *Repo) UpsertSummary(ctx context.Context, s *Summary) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "model", "updated_at"}),
	}).Create(s).Error
}
