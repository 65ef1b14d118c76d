// Conversation history and the session -> active case registry
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/limitless/limitless/pkg/config"
	"github.com/limitless/limitless/pkg/db"
	"github.com/limitless/limitless/pkg/utils"
)

// ConversationService keeps a bounded history window per (case, session) and
// tracks which case each chat session is working.
//
// History is working memory for prompt assembly only. Evicted turns are gone;
// anything worth keeping belongs in the case's documents.
type ConversationService struct {
	db     *gorm.DB
	cfg    *config.AppConfig
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]string // sessionID -> caseID
}

// NewConversationService creates a conversation service.
func NewConversationService(database *gorm.DB, cfg *config.AppConfig) *ConversationService {
	return &ConversationService{
		db:     database,
		cfg:    cfg,
		logger: utils.GetLogger(),
		active: make(map[string]string),
	}
}

// ActivateCase points a chat session at a case. Subsequent chat messages on
// the session are answered within that case's scope.
func (s *ConversationService) ActivateCase(sessionID, caseID string) {
	s.mu.Lock()
	s.active[sessionID] = caseID
	s.mu.Unlock()
	s.logger.Debug("Session case activated", "sessionID", sessionID, "caseID", caseID)
}

// ActiveCase returns the case a session is working, if any.
func (s *ConversationService) ActiveCase(sessionID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caseID, ok := s.active[sessionID]
	return caseID, ok
}

// DeactivateCase detaches any session currently pointing at the case.
// Called when a case is deleted.
func (s *ConversationService) DeactivateCase(caseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sessionID, id := range s.active {
		if id == caseID {
			delete(s.active, sessionID)
		}
	}
}

// AppendTurn records one message and evicts the oldest turns beyond the
// configured history window for that (session, case) pair.
func (s *ConversationService) AppendTurn(ctx context.Context, sessionID, caseID, role, text string) error {
	window := s.cfg.HistoryWindow()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Raw("SELECT COALESCE(MAX(seq), 0) FROM conversation_turns").Scan(&maxSeq).Error; err != nil {
			return err
		}

		turn := db.ConversationTurn{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			CaseID:    caseID,
			Role:      role,
			Text:      text,
			Seq:       maxSeq + 1,
		}
		if err := tx.Create(&turn).Error; err != nil {
			return fmt.Errorf("append turn: %w", err)
		}

		// FIFO eviction: keep the newest `window` turns.
		var count int64
		if err := tx.Model(&db.ConversationTurn{}).
			Where("session_id = ? AND case_id = ?", sessionID, caseID).
			Count(&count).Error; err != nil {
			return err
		}
		if excess := count - int64(window); excess > 0 {
			var victims []string
			if err := tx.Model(&db.ConversationTurn{}).
				Where("session_id = ? AND case_id = ?", sessionID, caseID).
				Order("seq ASC").Limit(int(excess)).
				Pluck("id", &victims).Error; err != nil {
				return err
			}
			if err := tx.Delete(&db.ConversationTurn{}, "id IN ?", victims).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// History returns up to limit of the newest turns for a (session, case) pair
// in chronological order. limit <= 0 means the full retained window.
func (s *ConversationService) History(ctx context.Context, sessionID, caseID string, limit int) ([]db.ConversationTurn, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryWindow()
	}

	var turns []db.ConversationTurn
	if err := s.db.WithContext(ctx).
		Where("session_id = ? AND case_id = ?", sessionID, caseID).
		Order("seq DESC").Limit(limit).
		Find(&turns).Error; err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	sort.Slice(turns, func(i, j int) bool { return turns[i].Seq < turns[j].Seq })
	return turns, nil
}

// ClearSession deletes every retained turn for a session across all cases.
// The session's active case assignment is kept.
func (s *ConversationService) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.db.WithContext(ctx).
		Delete(&db.ConversationTurn{}, "session_id = ?", sessionID).Error; err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	s.logger.Debug("Session history cleared", "sessionID", sessionID)
	return nil
}
