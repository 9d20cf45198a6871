package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"userdesk/app/database"
	"userdesk/app/logger"
)

const (
	// ActionEnsureProfile finishes a user creation whose profile write never
	// landed after the identity account was created.
	ActionEnsureProfile = "ensure_profile"

	// ActionDeleteAccount finishes a user deletion that left the identity
	// account behind.
	ActionDeleteAccount = "delete_account"
)

// Handler finishes one intent. It must be idempotent: the reconciler will
// call it again after any failure.
type Handler func(ctx context.Context, action *database.PendingAction) error

// Service records intents for the second of two dependent store writes and
// replays the ones the synchronous compensation could not finish. This is
// what turns "one log line of divergence" into a bounded retry.
type Service struct {
	db       *gorm.DB
	handlers map[string]Handler
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, handlers: make(map[string]Handler)}
}

// Register binds a handler to an action kind. Must be called before Run.
func (s *Service) Register(kind string, h Handler) {
	s.handlers[kind] = h
}

// Enqueue records the intent before the second store write happens.
func (s *Service) Enqueue(kind string, targetID uuid.UUID, payload database.JSONObject) (*database.PendingAction, error) {
	action := database.PendingAction{
		ID:       uuid.New(),
		Kind:     kind,
		TargetID: targetID,
		Payload:  payload,
		Status:   database.ActionStatusPending,
	}
	if err := s.db.Create(&action).Error; err != nil {
		return nil, err
	}
	return &action, nil
}

// MarkDone closes an intent whose work completed in-request.
func (s *Service) MarkDone(id uuid.UUID) error {
	return s.db.Model(&database.PendingAction{}).Where("id = ?", id).
		Update("status", database.ActionStatusDone).Error
}

// Run drives the reconciler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processPending(ctx)
		}
	}
}

func (s *Service) processPending(ctx context.Context) {
	var actions []database.PendingAction
	result := s.db.Where("status = ? AND attempts < max_attempts", database.ActionStatusPending).
		Order("created_at ASC").Limit(20).Find(&actions)
	if result.Error != nil {
		logger.Error("outbox: failed to load pending actions", zap.Error(result.Error))
		return
	}

	for i := range actions {
		action := &actions[i]
		handler, ok := s.handlers[action.Kind]
		if !ok {
			logger.Warn("outbox: no handler for action kind", zap.String("kind", action.Kind))
			continue
		}

		err := handler(ctx, action)
		if err != nil {
			action.Attempts++
			updates := map[string]any{
				"attempts":   action.Attempts,
				"last_error": err.Error(),
			}
			if action.Attempts >= action.MaxAttempts {
				// Divergence between the two stores needs an operator now.
				updates["status"] = database.ActionStatusFailed
				logger.Error("outbox: action exhausted retries",
					zap.String("kind", action.Kind),
					zap.String("target_id", action.TargetID.String()),
					zap.Error(err))
			} else {
				logger.Warn("outbox: action retry failed",
					zap.String("kind", action.Kind),
					zap.Int("attempts", action.Attempts),
					zap.Error(err))
			}
			s.db.Model(action).Updates(updates)
			continue
		}

		if err := s.MarkDone(action.ID); err != nil {
			logger.Error("outbox: failed to mark action done", zap.Error(err))
			continue
		}
		logger.Info("outbox: action reconciled",
			zap.String("kind", action.Kind),
			zap.String("target_id", action.TargetID.String()))
	}
}
