package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartlead/internal/models"
)

// credentialRow is the at-rest shape: token material lives in an encrypted
// blob, expiry is duplicated in the clear so listings avoid decryption.
type credentialRow struct {
	OwnerID   string
	Provider  models.Provider
	Blob      string
	ExpiresAt sql.NullTime
	UpdatedAt time.Time
}

// UpsertCredential inserts or replaces the blob for (owner, provider).
func (s *Store) UpsertCredential(ctx context.Context, ownerID string, provider models.Provider, blob string, expiresAt time.Time, updatedAt time.Time) error {
	var exp sql.NullTime
	if !expiresAt.IsZero() {
		exp = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}

	var query string
	if s.mysql() {
		query = `INSERT INTO credentials (owner_id, provider, encrypted_blob, expires_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE encrypted_blob = VALUES(encrypted_blob), expires_at = VALUES(expires_at), updated_at = VALUES(updated_at)`
	} else {
		query = `INSERT INTO credentials (owner_id, provider, encrypted_blob, expires_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (owner_id, provider) DO UPDATE SET encrypted_blob = excluded.encrypted_blob, expires_at = excluded.expires_at, updated_at = excluded.updated_at`
	}

	_, err := s.db.ExecContext(ctx, query, ownerID, string(provider), blob, exp, updatedAt.UTC())
	return wrap("upsert credential", err)
}

// GetCredentialBlob returns the encrypted blob for (owner, provider).
// A missing row maps to models.ErrCredentialNotFound.
func (s *Store) GetCredentialBlob(ctx context.Context, ownerID string, provider models.Provider) (string, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT encrypted_blob FROM credentials WHERE owner_id = ? AND provider = ?`,
		ownerID, string(provider)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrCredentialNotFound
	}
	if err != nil {
		return "", wrap("get credential", err)
	}
	return blob, nil
}

// DeleteCredential removes the row for (owner, provider). Deleting a row
// that does not exist is not an error.
func (s *Store) DeleteCredential(ctx context.Context, ownerID string, provider models.Provider) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE owner_id = ? AND provider = ?`,
		ownerID, string(provider))
	return wrap("delete credential", err)
}

// ListCredentialOwners returns every owner holding a credential for the
// given provider.
func (s *Store) ListCredentialOwners(ctx context.Context, provider models.Provider) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id FROM credentials WHERE provider = ? ORDER BY owner_id`,
		string(provider))
	if err != nil {
		return nil, wrap("list credential owners", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, wrap("scan credential owner", err)
		}
		out = append(out, owner)
	}
	return out, wrap("list credential owners", rows.Err())
}

// ListCredentialStatuses returns metadata-only rows for one owner.
func (s *Store) ListCredentialStatuses(ctx context.Context, ownerID string) ([]models.CredentialStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, expires_at, updated_at FROM credentials WHERE owner_id = ? ORDER BY provider`,
		ownerID)
	if err != nil {
		return nil, wrap("list credentials", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []models.CredentialStatus
	for rows.Next() {
		var provider string
		var exp sql.NullTime
		var updated time.Time
		if err := rows.Scan(&provider, &exp, &updated); err != nil {
			return nil, wrap("scan credential", err)
		}
		st := models.CredentialStatus{
			Provider:  models.Provider(provider),
			Connected: true,
			UpdatedAt: updated,
		}
		if exp.Valid {
			st.ExpiresAt = exp.Time
			st.Expired = !now.Before(exp.Time)
		}
		out = append(out, st)
	}
	return out, wrap("list credentials", rows.Err())
}
