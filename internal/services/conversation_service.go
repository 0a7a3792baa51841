package services

import (
	"context"
	"log"
	"time"

	"smartlead/internal/models"
	"smartlead/internal/store"
)

// ConversationService maintains per-owner conversation history. History is
// append-only; retention pruning is the only deletion path.
type ConversationService struct {
	store        *store.Store
	contextTurns int
}

// NewConversationService creates a conversation service.
func NewConversationService(st *store.Store) *ConversationService {
	return &ConversationService{
		store:        st,
		contextTurns: 20,
	}
}

// RecordExchange appends the user prompt and assistant reply from one
// completed query cycle. Append failures are logged and swallowed; the
// outcome is already decided by the time history is written.
func (s *ConversationService) RecordExchange(ctx context.Context, intent *models.Intent, prompt, reply string) {
	now := time.Now()
	if prompt != "" {
		if _, err := s.store.AppendTurn(ctx, &models.Turn{
			OwnerID:   intent.OwnerID,
			IntentID:  intent.ID,
			Role:      models.RoleUser,
			Content:   prompt,
			CreatedAt: now,
		}); err != nil {
			log.Printf("⚠️ [CONVERSATION] Failed to append user turn for intent %s: %v", intent.ID, err)
			return
		}
	}
	if reply != "" {
		if _, err := s.store.AppendTurn(ctx, &models.Turn{
			OwnerID:   intent.OwnerID,
			IntentID:  intent.ID,
			Role:      models.RoleAssistant,
			Content:   reply,
			CreatedAt: now,
		}); err != nil {
			log.Printf("⚠️ [CONVERSATION] Failed to append assistant turn for intent %s: %v", intent.ID, err)
		}
	}
}

// Context returns the recent turns used to ground a new query.
func (s *ConversationService) Context(ctx context.Context, ownerID string) ([]models.Turn, error) {
	return s.store.RecentTurns(ctx, ownerID, s.contextTurns)
}

// Prune applies retention: drop turns older than maxAge and trim each
// owner to keepPerOwner turns. Returns rows removed.
func (s *ConversationService) Prune(ctx context.Context, maxAge time.Duration, keepPerOwner int) (int64, error) {
	removed, err := s.store.PruneTurns(ctx, time.Now().Add(-maxAge), keepPerOwner)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		GetMetricsSafe(func(m *Metrics) { m.TurnsPruned.Add(float64(removed)) })
	}
	return removed, nil
}
