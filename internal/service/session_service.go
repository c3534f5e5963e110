package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gradekit/gradekit-api/internal/models"
	"github.com/gradekit/gradekit-api/pkg/config"
	appErrors "github.com/gradekit/gradekit-api/pkg/errors"
)

type sessionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SessionService stores the wizard snapshot so a browser reload resumes where
// the instructor left off. Strictly best effort: cache failures degrade to an
// empty session, never an error surfaced to the client.
type SessionService struct {
	cache  sessionCache
	cfg    config.SessionConfig
	logger *zap.Logger
}

// NewSessionService constructs the session service.
func NewSessionService(cache sessionCache, cfg config.SessionConfig, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{cache: cache, cfg: cfg, logger: logger}
}

// Save snapshots the wizard state for one user.
func (s *SessionService) Save(ctx context.Context, userID string, state models.SessionState) {
	if !s.cfg.Enabled || s.cache == nil {
		return
	}
	state.UpdatedAt = time.Now().UTC()
	if err := s.cache.Set(ctx, sessionKey(userID), state, s.cfg.TTL); err != nil {
		s.logger.Sugar().Debugw("session save failed", "user_id", userID, "error", err)
	}
}

// Restore returns the cached snapshot, or a zero state when absent or
// unreadable.
func (s *SessionService) Restore(ctx context.Context, userID string) models.SessionState {
	var state models.SessionState
	if !s.cfg.Enabled || s.cache == nil {
		return state
	}
	if err := s.cache.Get(ctx, sessionKey(userID), &state); err != nil {
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Sugar().Debugw("session restore failed", "user_id", userID, "error", err)
		}
		return models.SessionState{}
	}
	return state
}

// Clear drops the cached snapshot.
func (s *SessionService) Clear(ctx context.Context, userID string) {
	if !s.cfg.Enabled || s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, sessionKey(userID)); err != nil {
		s.logger.Sugar().Debugw("session clear failed", "user_id", userID, "error", err)
	}
}

func sessionKey(userID string) string {
	return fmt.Sprintf("session:wizard:%s", userID)
}
