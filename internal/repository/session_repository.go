package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"pdfchat/internal/model"
)

type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("create session failed: %w", err)
	}
	return nil
}

// List returns all sessions, newest first.
func (r *SessionRepository) List() ([]model.Session, error) {
	var sessions []model.Session
	if err := r.db.Order("created_at DESC, id DESC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions failed: %w", err)
	}
	return sessions, nil
}

// GetByID returns (nil, nil) when the session does not exist.
func (r *SessionRepository) GetByID(sessionID uint) (*model.Session, error) {
	var session model.Session
	if err := r.db.Where("id = ?", sessionID).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) UpdateTitle(sessionID uint, title string) error {
	if err := r.db.Model(&model.Session{}).Where("id = ?", sessionID).Update("title", title).Error; err != nil {
		return fmt.Errorf("update session title failed: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteByID(sessionID uint) error {
	if err := r.db.Where("id = ?", sessionID).Delete(&model.Session{}).Error; err != nil {
		return fmt.Errorf("delete session failed: %w", err)
	}
	return nil
}
