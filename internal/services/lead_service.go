package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartlead/internal/adapters"
	"smartlead/internal/models"
	"smartlead/internal/store"
)

const extractionSystemPrompt = `You extract CRM lead details from inbound messages.
Respond with a single JSON object and nothing else:
{"first_name": "...", "last_name": "...", "email": "...", "company": "...", "title": "...", "notes": "..."}
Use "Unknown" for fields the message does not reveal.`

// LeadService manages leads and their activity timelines. Inbound messages
// from unknown numbers are turned into leads with AI-extracted details.
type LeadService struct {
	store       *store.Store
	credentials *CredentialService
	ai          adapters.Adapter // nil disables extraction
}

// NewLeadService creates a lead service. ai may be nil; unknown senders
// then become leads with just their phone number.
func NewLeadService(st *store.Store, creds *CredentialService, ai adapters.Adapter) *LeadService {
	return &LeadService{store: st, credentials: creds, ai: ai}
}

// Create inserts a new lead with generated ID and a lead_created activity.
func (s *LeadService) Create(ctx context.Context, lead *models.Lead) (*models.Lead, error) {
	now := time.Now()
	lead.ID = uuid.NewString()
	if lead.Status == "" {
		lead.Status = models.LeadNew
	}
	if lead.LeadSource == "" {
		lead.LeadSource = "manual"
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now

	if err := s.store.CreateLead(ctx, lead); err != nil {
		return nil, err
	}
	s.RecordActivity(ctx, lead.OwnerID, lead.ID, models.ActivityLeadCreated, "")
	log.Printf("✅ [LEAD] Created lead %s (%s) for owner %s", lead.ID, lead.FullName(), lead.OwnerID)
	return lead, nil
}

// Get returns one lead.
func (s *LeadService) Get(ctx context.Context, ownerID, leadID string) (*models.Lead, error) {
	return s.store.GetLead(ctx, ownerID, leadID)
}

// List returns all of an owner's leads.
func (s *LeadService) List(ctx context.Context, ownerID string) ([]models.Lead, error) {
	return s.store.ListLeads(ctx, ownerID)
}

// UpdateStatus moves a lead through the pipeline.
func (s *LeadService) UpdateStatus(ctx context.Context, ownerID, leadID string, status models.LeadStatus) error {
	return s.store.UpdateLeadStatus(ctx, ownerID, leadID, status)
}

// Timeline returns a lead's activities, newest first.
func (s *LeadService) Timeline(ctx context.Context, ownerID, leadID string) ([]models.Activity, error) {
	return s.store.ListActivities(ctx, ownerID, leadID)
}

// RecordActivity appends one timeline event. Failures are logged and
// swallowed; activities are best-effort bookkeeping.
func (s *LeadService) RecordActivity(ctx context.Context, ownerID, leadID string, typ models.ActivityType, detail string) {
	err := s.store.AddActivity(ctx, &models.Activity{
		ID:        uuid.NewString(),
		LeadID:    leadID,
		OwnerID:   ownerID,
		Type:      typ,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
	if err != nil {
		log.Printf("⚠️ [LEAD] Failed to record %s activity for lead %s: %v", typ, leadID, err)
	}
}

// IngestInbound handles one inbound message. A known phone number gets a
// message_received activity; an unknown one becomes a new lead, with
// details extracted by the AI provider when available.
func (s *LeadService) IngestInbound(ctx context.Context, ownerID, from, body string) (*models.Lead, error) {
	GetMetricsSafe(func(m *Metrics) { m.InboundMessages.Inc() })

	lead, err := s.store.FindLeadByPhone(ctx, ownerID, from)
	if err == nil {
		s.RecordActivity(ctx, ownerID, lead.ID, models.ActivityMessageReceived, body)
		return lead, nil
	}
	if !errors.Is(err, store.ErrLeadNotFound) {
		return nil, err
	}

	extracted := s.extract(ctx, ownerID, body)
	extracted.OwnerID = ownerID
	extracted.Phone = from
	extracted.LeadSource = "messaging"

	created, err := s.Create(ctx, extracted)
	if err != nil {
		return nil, err
	}
	s.RecordActivity(ctx, ownerID, created.ID, models.ActivityMessageReceived, body)
	return created, nil
}

// IngestInboundEmail handles one inbound email. A known sender address gets
// an email_received activity; an unknown one becomes a new lead, with the
// remaining details extracted from the email body when AI is available.
func (s *LeadService) IngestInboundEmail(ctx context.Context, ownerID, fromEmail, subject, body string) (*models.Lead, error) {
	lead, err := s.store.FindLeadByEmail(ctx, ownerID, fromEmail)
	if err == nil {
		s.RecordActivity(ctx, ownerID, lead.ID, models.ActivityEmailReceived, subject)
		return lead, nil
	}
	if !errors.Is(err, store.ErrLeadNotFound) {
		return nil, err
	}

	extracted := s.extract(ctx, ownerID, subject+"\n\n"+body)
	extracted.OwnerID = ownerID
	// The envelope sender always wins over whatever the body mentions.
	extracted.Email = fromEmail
	extracted.LeadSource = "email"

	created, err := s.Create(ctx, extracted)
	if err != nil {
		return nil, err
	}
	s.RecordActivity(ctx, ownerID, created.ID, models.ActivityEmailReceived, subject)
	return created, nil
}

// extract asks the AI provider for lead fields. Any failure falls back to
// an Unknown lead carrying the raw message as notes.
func (s *LeadService) extract(ctx context.Context, ownerID, body string) *models.Lead {
	fallback := &models.Lead{FirstName: "Unknown", Notes: body}
	if s.ai == nil {
		return fallback
	}

	cred, err := s.credentials.GetValid(ctx, ownerID, models.ProviderAI)
	if err != nil {
		log.Printf("⚠️ [LEAD] No AI credential for extraction (owner %s): %v", ownerID, err)
		return fallback
	}

	result := s.ai.Invoke(ctx, adapters.Request{
		Operation: "complete",
		OwnerID:   ownerID,
		Params: map[string]any{
			"system": extractionSystemPrompt,
			"prompt": body,
		},
	}, cred)
	if !result.OK() {
		log.Printf("⚠️ [LEAD] Extraction call failed: %s", result.Detail)
		return fallback
	}

	content, _ := result.Output["content"].(string)
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var fields struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Email     string `json:"email"`
		Company   string `json:"company"`
		Title     string `json:"title"`
		Notes     string `json:"notes"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &fields); err != nil {
		log.Printf("⚠️ [LEAD] Extraction returned non-JSON content, using fallback")
		return fallback
	}

	lead := &models.Lead{
		FirstName: fields.FirstName,
		LastName:  normalizeUnknown(fields.LastName),
		Email:     normalizeUnknown(fields.Email),
		Company:   normalizeUnknown(fields.Company),
		Title:     normalizeUnknown(fields.Title),
		Notes:     fields.Notes,
	}
	if lead.FirstName == "" {
		lead.FirstName = "Unknown"
	}
	return lead
}

func normalizeUnknown(v string) string {
	if strings.EqualFold(v, "unknown") {
		return ""
	}
	return v
}
