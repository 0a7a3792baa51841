package services

import (
	"context"
	"testing"

	"smartlead/internal/adapters"
	"smartlead/internal/models"
)

func newTestLeadService(t *testing.T, ai adapters.Adapter) *LeadService {
	t.Helper()
	st := newTestStore(t)
	creds := NewCredentialService(st, newTestEncryption(t), nil, RefreshConfig{})
	return NewLeadService(st, creds, ai)
}

func TestIngestInboundKnownLead(t *testing.T) {
	svc := newTestLeadService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, &models.Lead{
		OwnerID:   "owner-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Phone:     "+15550001111",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.LeadSource != "manual" {
		t.Errorf("Directly created leads default to the manual source, got %q", created.LeadSource)
	}

	lead, err := svc.IngestInbound(ctx, "owner-1", "+15550001111", "still interested, call me")
	if err != nil {
		t.Fatalf("IngestInbound failed: %v", err)
	}
	if lead.ID != created.ID {
		t.Errorf("Expected the existing lead, got %s", lead.ID)
	}

	timeline, err := svc.Timeline(ctx, "owner-1", created.ID)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	var received int
	for _, a := range timeline {
		if a.Type == models.ActivityMessageReceived {
			received++
		}
	}
	if received != 1 {
		t.Errorf("Expected 1 message_received activity, got %d", received)
	}
}

func TestIngestInboundUnknownSenderExtractsLead(t *testing.T) {
	ai := &fakeAdapter{
		name:     "ai",
		provider: models.ProviderAI,
		invoke: func(ctx context.Context, req adapters.Request, cred *models.Credential) models.CallResult {
			return models.CallResult{
				Adapter: "ai",
				Status:  models.CallSuccess,
				Output: map[string]any{
					"content": "```json\n{\"first_name\":\"Grace\",\"last_name\":\"Hopper\",\"email\":\"grace@navy.mil\",\"company\":\"Unknown\",\"title\":\"Rear Admiral\",\"notes\":\"asked about pricing\"}\n```",
				},
			}
		},
	}
	svc := newTestLeadService(t, ai)
	ctx := context.Background()

	if err := svc.credentials.Store(ctx, &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderAI,
		AccessToken: "sk-test",
	}); err != nil {
		t.Fatalf("Failed to store AI credential: %v", err)
	}

	lead, err := svc.IngestInbound(ctx, "owner-1", "+15557772222", "Hi, this is Grace from the Navy, what does it cost?")
	if err != nil {
		t.Fatalf("IngestInbound failed: %v", err)
	}
	if lead.FirstName != "Grace" || lead.LastName != "Hopper" {
		t.Errorf("Expected extracted name, got %q %q", lead.FirstName, lead.LastName)
	}
	if lead.Email != "grace@navy.mil" {
		t.Errorf("Expected extracted email, got %q", lead.Email)
	}
	if lead.Title != "Rear Admiral" {
		t.Errorf("Expected extracted title, got %q", lead.Title)
	}
	if lead.Company != "" {
		t.Errorf(`"Unknown" company should normalize to empty, got %q`, lead.Company)
	}
	if lead.Phone != "+15557772222" {
		t.Errorf("Lead should carry the sender's phone, got %q", lead.Phone)
	}
	if lead.LeadSource != "messaging" {
		t.Errorf("Inbound messages source the lead as messaging, got %q", lead.LeadSource)
	}

	// The same number is now a known lead; no second lead is created.
	again, err := svc.IngestInbound(ctx, "owner-1", "+15557772222", "following up")
	if err != nil {
		t.Fatalf("Second IngestInbound failed: %v", err)
	}
	if again.ID != lead.ID {
		t.Errorf("Expected the same lead, got %s and %s", lead.ID, again.ID)
	}
	leads, err := svc.List(ctx, "owner-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(leads) != 1 {
		t.Errorf("Expected 1 lead, got %d", len(leads))
	}
}

func TestIngestInboundFallsBackWithoutAICredential(t *testing.T) {
	ai := &fakeAdapter{
		name:     "ai",
		provider: models.ProviderAI,
		invoke: func(ctx context.Context, req adapters.Request, cred *models.Credential) models.CallResult {
			t.Error("Adapter must not be invoked without a credential")
			return models.CallResult{}
		},
	}
	svc := newTestLeadService(t, ai)

	lead, err := svc.IngestInbound(context.Background(), "owner-1", "+15557772222", "who is this?")
	if err != nil {
		t.Fatalf("IngestInbound failed: %v", err)
	}
	if lead.FirstName != "Unknown" {
		t.Errorf("Expected Unknown fallback name, got %q", lead.FirstName)
	}
	if lead.Notes != "who is this?" {
		t.Errorf("Fallback should keep the raw message as notes, got %q", lead.Notes)
	}
}

func TestIngestInboundEmailKnownSender(t *testing.T) {
	svc := newTestLeadService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, &models.Lead{
		OwnerID:   "owner-1",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@analytical.example",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	lead, err := svc.IngestInboundEmail(ctx, "owner-1", "ada@analytical.example", "Re: pricing", "any update?")
	if err != nil {
		t.Fatalf("IngestInboundEmail failed: %v", err)
	}
	if lead.ID != created.ID {
		t.Errorf("Expected the existing lead, got %s", lead.ID)
	}

	timeline, err := svc.Timeline(ctx, "owner-1", created.ID)
	if err != nil {
		t.Fatalf("Timeline failed: %v", err)
	}
	var received int
	for _, a := range timeline {
		if a.Type == models.ActivityEmailReceived {
			received++
		}
	}
	if received != 1 {
		t.Errorf("Expected 1 email_received activity, got %d", received)
	}
}

func TestIngestInboundEmailUnknownSenderCreatesLead(t *testing.T) {
	ai := &fakeAdapter{
		name:     "ai",
		provider: models.ProviderAI,
		invoke: func(ctx context.Context, req adapters.Request, cred *models.Credential) models.CallResult {
			return models.CallResult{
				Adapter: "ai",
				Status:  models.CallSuccess,
				Output: map[string]any{
					"content": `{"first_name":"Grace","last_name":"Hopper","email":"spoofed@example.com","company":"US Navy","title":"Unknown","notes":"wants a demo"}`,
				},
			}
		},
	}
	svc := newTestLeadService(t, ai)
	ctx := context.Background()

	if err := svc.credentials.Store(ctx, &models.Credential{
		OwnerID:     "owner-1",
		Provider:    models.ProviderAI,
		AccessToken: "sk-test",
	}); err != nil {
		t.Fatalf("Failed to store AI credential: %v", err)
	}

	lead, err := svc.IngestInboundEmail(ctx, "owner-1", "grace@navy.mil", "Demo request", "Hi, Grace here from the Navy.")
	if err != nil {
		t.Fatalf("IngestInboundEmail failed: %v", err)
	}
	if lead.FirstName != "Grace" || lead.LastName != "Hopper" {
		t.Errorf("Expected extracted name, got %q %q", lead.FirstName, lead.LastName)
	}
	if lead.Email != "grace@navy.mil" {
		t.Errorf("The envelope sender wins over the extracted address, got %q", lead.Email)
	}
	if lead.LeadSource != "email" {
		t.Errorf("Inbound email sources the lead as email, got %q", lead.LeadSource)
	}

	// The same address is now a known lead; no second lead is created.
	again, err := svc.IngestInboundEmail(ctx, "owner-1", "grace@navy.mil", "ping", "any update?")
	if err != nil {
		t.Fatalf("Second IngestInboundEmail failed: %v", err)
	}
	if again.ID != lead.ID {
		t.Errorf("Expected the same lead, got %s and %s", lead.ID, again.ID)
	}
}

func TestConversationRoundTrip(t *testing.T) {
	st := newTestStore(t)
	svc := NewConversationService(st)
	ctx := context.Background()

	intent := &models.Intent{ID: "intent-1", OwnerID: "owner-1", Kind: models.IntentQuery}
	svc.RecordExchange(ctx, intent, "what meetings do I have tomorrow?", "You have two meetings.")

	turns, err := svc.Context(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Context failed: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Role != models.RoleAssistant {
		t.Errorf("Unexpected roles: %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[0].IntentID != "intent-1" {
		t.Errorf("Turns should reference their intent, got %q", turns[0].IntentID)
	}
}
