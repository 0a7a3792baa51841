package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartlead/internal/models"
)

// SaveIntent records a newly received intent.
func (s *Store) SaveIntent(ctx context.Context, intent *models.Intent) error {
	payload, err := json.Marshal(intent.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO intents (id, owner_id, kind, payload, recurrence, state, received_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		intent.ID, intent.OwnerID, string(intent.Kind), string(payload), intent.Recurrence,
		string(models.StateReceived), intent.ReceivedAt.UTC())
	return wrap("save intent", err)
}

// UpdateIntentState persists a state transition.
func (s *Store) UpdateIntentState(ctx context.Context, intentID string, state models.IntentState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE intents SET state = ? WHERE id = ?`, string(state), intentID)
	return wrap("update intent state", err)
}

// GetIntentState returns the recorded state of an intent.
func (s *Store) GetIntentState(ctx context.Context, intentID string) (models.IntentState, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM intents WHERE id = ?`, intentID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", wrap("get intent state", err)
	}
	return models.IntentState(state), nil
}

// SaveOutcome writes the durable outcome record exactly once per intent.
// A second call for the same intent ID is a no-op, so a retried cycle can
// never double-write.
func (s *Store) SaveOutcome(ctx context.Context, outcome *models.Outcome, payloadHash string) error {
	results, err := json.Marshal(outcome.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	insert := `INSERT INTO outcomes (intent_id, owner_id, kind, status, results, summary, payload_hash, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if s.mysql() {
		insert = "INSERT IGNORE" + insert[len("INSERT"):]
	} else {
		insert = "INSERT OR IGNORE" + insert[len("INSERT"):]
	}

	_, err = s.db.ExecContext(ctx, insert,
		outcome.IntentID, outcome.OwnerID, string(outcome.Kind), string(outcome.Status),
		string(results), outcome.Summary, payloadHash, outcome.FinishedAt.UTC())
	return wrap("save outcome", err)
}

// GetOutcome returns the outcome for one intent, or sql.ErrNoRows when the
// cycle has not finished.
func (s *Store) GetOutcome(ctx context.Context, intentID string) (*models.Outcome, error) {
	var (
		o       models.Outcome
		kind    string
		status  string
		results string
		summary sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT intent_id, owner_id, kind, status, results, summary, finished_at FROM outcomes WHERE intent_id = ?`,
		intentID).Scan(&o.IntentID, &o.OwnerID, &kind, &status, &results, &summary, &o.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, wrap("get outcome", err)
	}
	o.Kind = models.IntentKind(kind)
	o.Status = models.OutcomeStatus(status)
	o.Summary = summary.String
	if err := json.Unmarshal([]byte(results), &o.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results: %w", err)
	}
	return &o, nil
}

// PriorOutcome returns the most recent outcome of the same kind for an
// owner whose payload hash matches, or nil when there is none. The
// orchestrator consults it to skip duplicate work.
func (s *Store) PriorOutcome(ctx context.Context, ownerID string, kind models.IntentKind, payloadHash string, since time.Time) (*models.Outcome, error) {
	var intentID string
	err := s.db.QueryRowContext(ctx,
		`SELECT intent_id FROM outcomes
		 WHERE owner_id = ? AND kind = ? AND payload_hash = ? AND status = ? AND finished_at >= ?
		 ORDER BY finished_at DESC LIMIT 1`,
		ownerID, string(kind), payloadHash, string(models.OutcomeCompleted), since.UTC()).Scan(&intentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("prior outcome", err)
	}
	return s.GetOutcome(ctx, intentID)
}
