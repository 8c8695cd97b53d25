package repository

import (
	"fmt"

	"gorm.io/gorm"

	"pdfchat/internal/model"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(message *model.Message) error {
	if err := r.db.Create(message).Error; err != nil {
		return fmt.Errorf("create message failed: %w", err)
	}
	return nil
}

// ListBySessionID returns messages in chronological order. A limit <= 0
// returns the whole transcript; capping a chronological query would drop the
// newest rows, not the oldest.
func (r *MessageRepository) ListBySessionID(sessionID uint, limit int) ([]model.Message, error) {
	query := r.db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var messages []model.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list messages failed: %w", err)
	}
	return messages, nil
}

// ListRecentBySessionID returns the last n messages, still in
// chronological order, for use as prompt context.
func (r *MessageRepository) ListRecentBySessionID(sessionID uint, n int) ([]model.Message, error) {
	if n <= 0 {
		n = 20
	}

	var messages []model.Message
	if err := r.db.Where("session_id = ?", sessionID).Order("created_at DESC, id DESC").Limit(n).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("list recent messages failed: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) DeleteBySessionID(sessionID uint) error {
	if err := r.db.Where("session_id = ?", sessionID).Delete(&model.Message{}).Error; err != nil {
		return fmt.Errorf("delete messages by session failed: %w", err)
	}
	return nil
}
