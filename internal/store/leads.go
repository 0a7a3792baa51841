package store

import (
	"context"
	"database/sql"
	"errors"

	"smartlead/internal/models"
)

// ErrLeadNotFound is returned when a lead lookup matches no row.
var ErrLeadNotFound = errors.New("lead not found")

const leadColumns = `id, owner_id, first_name, last_name, email, phone, company, title, lead_source, status, notes, created_at, updated_at`

// CreateLead inserts a new lead.
func (s *Store) CreateLead(ctx context.Context, lead *models.Lead) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (`+leadColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.OwnerID, lead.FirstName, lead.LastName, lead.Email, lead.Phone,
		lead.Company, lead.Title, lead.LeadSource,
		string(lead.Status), lead.Notes, lead.CreatedAt.UTC(), lead.UpdatedAt.UTC())
	return wrap("create lead", err)
}

// UpdateLeadStatus moves a lead through the pipeline.
func (s *Store) UpdateLeadStatus(ctx context.Context, ownerID, leadID string, status models.LeadStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND owner_id = ?`,
		string(status), leadID, ownerID)
	if err != nil {
		return wrap("update lead status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeadNotFound
	}
	return nil
}

// GetLead returns a lead by ID, scoped to its owner.
func (s *Store) GetLead(ctx context.Context, ownerID, leadID string) (*models.Lead, error) {
	return s.scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE id = ? AND owner_id = ?`, leadID, ownerID))
}

// FindLeadByPhone returns the owner's lead with the given phone number.
func (s *Store) FindLeadByPhone(ctx context.Context, ownerID, phone string) (*models.Lead, error) {
	return s.scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? AND phone = ? LIMIT 1`, ownerID, phone))
}

// FindLeadByEmail returns the owner's lead with the given email address.
func (s *Store) FindLeadByEmail(ctx context.Context, ownerID, email string) (*models.Lead, error) {
	return s.scanLead(s.db.QueryRowContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? AND email = ? LIMIT 1`, ownerID, email))
}

// ListLeads returns all leads for an owner, newest first.
func (s *Store) ListLeads(ctx context.Context, ownerID string) ([]models.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+leadColumns+` FROM leads WHERE owner_id = ? ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, wrap("list leads", err)
	}
	defer rows.Close()

	var out []models.Lead
	for rows.Next() {
		lead, err := scanLeadRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lead)
	}
	return out, wrap("list leads", rows.Err())
}

// AddActivity appends one timeline event to a lead.
func (s *Store) AddActivity(ctx context.Context, a *models.Activity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, lead_id, owner_id, type, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.LeadID, a.OwnerID, string(a.Type), a.Detail, a.CreatedAt.UTC())
	return wrap("add activity", err)
}

// ListActivities returns a lead's timeline, newest first.
func (s *Store) ListActivities(ctx context.Context, ownerID, leadID string) ([]models.Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, owner_id, type, detail, created_at
		 FROM activities WHERE owner_id = ? AND lead_id = ? ORDER BY created_at DESC`, ownerID, leadID)
	if err != nil {
		return nil, wrap("list activities", err)
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var a models.Activity
		var typ string
		var detail sql.NullString
		if err := rows.Scan(&a.ID, &a.LeadID, &a.OwnerID, &typ, &detail, &a.CreatedAt); err != nil {
			return nil, wrap("scan activity", err)
		}
		a.Type = models.ActivityType(typ)
		a.Detail = detail.String
		out = append(out, a)
	}
	return out, wrap("list activities", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanLead(row rowScanner) (*models.Lead, error) {
	lead, err := scanLeadRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}
	return lead, nil
}

func scanLeadRow(row rowScanner) (*models.Lead, error) {
	var l models.Lead
	var status string
	var lastName, email, phone, company, title, notes sql.NullString
	err := row.Scan(&l.ID, &l.OwnerID, &l.FirstName, &lastName, &email, &phone,
		&company, &title, &l.LeadSource, &status, &notes, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, wrap("scan lead", err)
	}
	l.LastName = lastName.String
	l.Email = email.String
	l.Phone = phone.String
	l.Company = company.String
	l.Title = title.String
	l.Notes = notes.String
	l.Status = models.LeadStatus(status)
	return &l, nil
}
