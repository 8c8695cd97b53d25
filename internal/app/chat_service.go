package app

import (
	"context"
	"strings"

	"pdfchat/internal/model"
	"pdfchat/internal/repository"
	"pdfchat/internal/vectorstore"
)

// FallbackTitle is what title lookups degrade to when the session row is
// missing. Title display is cosmetic, so this never surfaces as an error.
const FallbackTitle = "Untitled Chat"

// HistoryCache caches a session transcript between turns. A nil cache is
// valid; every read then goes to the database.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	Invalidate(ctx context.Context, sessionID uint) error
}

// ChatService owns the session lifecycle: listing, transcripts, renames,
// and the cascading delete across vector entries, messages and the row.
type ChatService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	index        vectorstore.Index
	historyCache HistoryCache
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	index vectorstore.Index,
	historyCache HistoryCache,
) *ChatService {
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		index:        index,
		historyCache: historyCache,
	}
}

// ListSessions returns session metadata, newest first.
func (s *ChatService) ListSessions() ([]model.Session, error) {
	return s.sessionRepo.List()
}

// GetSessionTitle never fails: an absent session or a lookup error both
// degrade to the fallback title.
func (s *ChatService) GetSessionTitle(sessionID uint) string {
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil || session == nil {
		return FallbackTitle
	}
	return session.Title
}

// GetHistory returns the transcript in chronological order, through the
// cache when one is configured.
func (s *ChatService) GetHistory(ctx context.Context, sessionID uint, limit int) ([]model.Message, error) {
	if sessionID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	if s.historyCache != nil {
		if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
			return trimMessages(cached, limit), nil
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, 0)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		_ = s.historyCache.SetHistory(ctx, sessionID, messages)
	}
	return trimMessages(messages, limit), nil
}

func (s *ChatService) RenameSession(ctx context.Context, sessionID uint, title string) error {
	if sessionID == 0 {
		return ErrInvalidInput
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	return s.sessionRepo.UpdateTitle(sessionID, title)
}

// DeleteSession cascades: vector entries first, then messages, then the
// session row, then the cached transcript. A vector-store failure aborts
// before any rows are touched so a retry can still find the session.
func (s *ChatService) DeleteSession(ctx context.Context, sessionID uint) error {
	if sessionID == 0 {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByID(sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	if err := s.index.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByID(sessionID); err != nil {
		return err
	}
	if s.historyCache != nil {
		_ = s.historyCache.Invalidate(ctx, sessionID)
	}
	return nil
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
