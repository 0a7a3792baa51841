package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// IntentKind selects which adapter steps an intent fans out to.
type IntentKind string

const (
	// IntentSchedule creates a calendar event.
	IntentSchedule IntentKind = "schedule"
	// IntentNotify sends an outbound message.
	IntentNotify IntentKind = "notify"
	// IntentEmail sends an outbound email through the owner's Gmail.
	IntentEmail IntentKind = "email"
	// IntentScheduleAndNotify creates an event and notifies attendees.
	// The two steps are independent and dispatch concurrently; the
	// notification is non-critical, so its failure degrades the outcome
	// to partial instead of failing it.
	IntentScheduleAndNotify IntentKind = "schedule_and_notify"
	// IntentQuery answers a question with the AI provider using recent
	// conversation context.
	IntentQuery IntentKind = "query"
	// IntentQualify scores a lead with the AI provider and places a
	// follow-up call for qualified leads.
	IntentQualify IntentKind = "qualify"
)

// IntentState tracks an intent through the orchestration cycle.
type IntentState string

const (
	StateReceived             IntentState = "received"
	StateResolvingCredentials IntentState = "resolving_credentials"
	StateDispatching          IntentState = "dispatching"
	StateAggregating          IntentState = "aggregating"
	StateCompleted            IntentState = "completed"
	StatePartial              IntentState = "partial"
	StateFailed               IntentState = "failed"
)

// Intent is one caller request to run a full intent-to-outcome cycle.
type Intent struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Kind       IntentKind     `json:"kind"`
	Payload    map[string]any `json:"payload"`
	Recurrence string         `json:"recurrence,omitempty"` // standard 5-field cron expression
	ReceivedAt time.Time      `json:"received_at"`
}

// Validate checks the fields callers control. Unknown kinds and malformed
// recurrence expressions are rejected before any credential work starts.
func (i *Intent) Validate() error {
	if i.OwnerID == "" {
		return fmt.Errorf("owner_id is required")
	}
	switch i.Kind {
	case IntentSchedule, IntentNotify, IntentEmail, IntentScheduleAndNotify, IntentQuery, IntentQualify:
	default:
		return fmt.Errorf("unknown intent kind: %q", i.Kind)
	}
	if i.Recurrence != "" {
		if _, err := cron.ParseStandard(i.Recurrence); err != nil {
			return fmt.Errorf("invalid recurrence expression: %w", err)
		}
	}
	return nil
}

// PayloadString returns a string payload field, or "" when absent.
func (i *Intent) PayloadString(key string) string {
	if v, ok := i.Payload[key].(string); ok {
		return v
	}
	return ""
}
