package store

import (
	"context"
	"database/sql"
	"time"

	"smartlead/internal/models"
)

// AppendTurn appends one turn to an owner's history and returns it with the
// store-assigned sequence number. History is append-only; turns are never
// updated in place.
func (s *Store) AppendTurn(ctx context.Context, turn *models.Turn) (*models.Turn, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_turns (owner_id, intent_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		turn.OwnerID, turn.IntentID, string(turn.Role), turn.Content, turn.CreatedAt.UTC())
	if err != nil {
		return nil, wrap("append turn", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return nil, wrap("append turn", err)
	}
	out := *turn
	out.Seq = seq
	return &out, nil
}

// RecentTurns returns up to limit turns for an owner, oldest first.
func (s *Store) RecentTurns(ctx context.Context, ownerID string, limit int) ([]models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, owner_id, intent_id, role, content, created_at
		 FROM (SELECT * FROM conversation_turns WHERE owner_id = ? ORDER BY seq DESC LIMIT ?) t
		 ORDER BY seq ASC`,
		ownerID, limit)
	if err != nil {
		return nil, wrap("recent turns", err)
	}
	defer rows.Close()

	var out []models.Turn
	for rows.Next() {
		var t models.Turn
		var role string
		var intentID sql.NullString
		if err := rows.Scan(&t.Seq, &t.OwnerID, &intentID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, wrap("scan turn", err)
		}
		t.IntentID = intentID.String
		t.Role = models.TurnRole(role)
		out = append(out, t)
	}
	return out, wrap("recent turns", rows.Err())
}

// PruneTurns deletes turns older than cutoff and, per owner, anything
// beyond the newest keepPerOwner turns. Returns rows removed.
func (s *Store) PruneTurns(ctx context.Context, cutoff time.Time, keepPerOwner int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_turns WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, wrap("prune turns", err)
	}
	removed, _ := res.RowsAffected()

	// Trim per-owner overflow. Owners with more than keepPerOwner turns
	// lose their oldest rows.
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, COUNT(*) FROM conversation_turns GROUP BY owner_id HAVING COUNT(*) > ?`,
		keepPerOwner)
	if err != nil {
		return removed, wrap("prune turns", err)
	}
	type overflow struct {
		owner string
		count int
	}
	var overflows []overflow
	for rows.Next() {
		var o overflow
		if err := rows.Scan(&o.owner, &o.count); err != nil {
			rows.Close()
			return removed, wrap("prune turns", err)
		}
		overflows = append(overflows, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return removed, wrap("prune turns", err)
	}

	for _, o := range overflows {
		var boundary int64
		err := s.db.QueryRowContext(ctx,
			`SELECT seq FROM conversation_turns WHERE owner_id = ? ORDER BY seq DESC LIMIT 1 OFFSET ?`,
			o.owner, keepPerOwner-1).Scan(&boundary)
		if err != nil {
			return removed, wrap("prune turns", err)
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM conversation_turns WHERE owner_id = ? AND seq < ?`, o.owner, boundary)
		if err != nil {
			return removed, wrap("prune turns", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}

	return removed, nil
}
