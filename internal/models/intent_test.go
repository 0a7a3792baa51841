package models

import (
	"testing"
	"time"
)

func TestIntentValidate(t *testing.T) {
	intent := &Intent{OwnerID: "owner-1", Kind: IntentNotify}
	if err := intent.Validate(); err != nil {
		t.Fatalf("Expected valid intent, got error: %v", err)
	}
}

func TestIntentValidate_MissingOwner(t *testing.T) {
	intent := &Intent{Kind: IntentNotify}
	if err := intent.Validate(); err == nil {
		t.Fatal("Expected error for missing owner")
	}
}

func TestIntentValidate_UnknownKind(t *testing.T) {
	intent := &Intent{OwnerID: "owner-1", Kind: "teleport"}
	if err := intent.Validate(); err == nil {
		t.Fatal("Expected error for unknown kind")
	}
}

func TestIntentValidate_Recurrence(t *testing.T) {
	good := &Intent{OwnerID: "owner-1", Kind: IntentNotify, Recurrence: "0 9 * * 1"}
	if err := good.Validate(); err != nil {
		t.Fatalf("Expected valid cron expression, got error: %v", err)
	}

	bad := &Intent{OwnerID: "owner-1", Kind: IntentNotify, Recurrence: "every monday"}
	if err := bad.Validate(); err == nil {
		t.Fatal("Expected error for malformed recurrence")
	}
}

func TestCredentialExpired(t *testing.T) {
	now := time.Now()

	apiKey := &Credential{AccessToken: "key"}
	if apiKey.Expired(now, time.Minute) {
		t.Error("Credential without expiry should never expire")
	}

	fresh := &Credential{AccessToken: "tok", ExpiresAt: now.Add(time.Hour)}
	if fresh.Expired(now, time.Minute) {
		t.Error("Credential expiring in an hour should be valid")
	}

	nearExpiry := &Credential{AccessToken: "tok", ExpiresAt: now.Add(30 * time.Second)}
	if !nearExpiry.Expired(now, time.Minute) {
		t.Error("Credential inside the skew window should count as expired")
	}

	past := &Credential{AccessToken: "tok", ExpiresAt: now.Add(-time.Hour)}
	if !past.Expired(now, time.Minute) {
		t.Error("Past-expiry credential should be expired")
	}
}

func TestAggregate(t *testing.T) {
	critical := map[string]bool{"calendar": true, "messaging": false}

	allOK := []CallResult{
		{Adapter: "calendar", Status: CallSuccess},
		{Adapter: "messaging", Status: CallSuccess},
	}
	if got := Aggregate(allOK, critical); got != OutcomeCompleted {
		t.Errorf("Expected completed, got %s", got)
	}

	optionalFailed := []CallResult{
		{Adapter: "calendar", Status: CallSuccess},
		{Adapter: "messaging", Status: CallPermanentFailure},
	}
	if got := Aggregate(optionalFailed, critical); got != OutcomePartial {
		t.Errorf("Expected partial, got %s", got)
	}

	criticalFailed := []CallResult{
		{Adapter: "calendar", Status: CallPermanentFailure},
		{Adapter: "messaging", Status: CallSuccess},
	}
	if got := Aggregate(criticalFailed, critical); got != OutcomeFailed {
		t.Errorf("Expected failed, got %s", got)
	}
}
