package models

import "time"

// LeadStatus tracks where a lead sits in the pipeline.
type LeadStatus string

const (
	LeadNew       LeadStatus = "new"
	LeadContacted LeadStatus = "contacted"
	LeadQualified LeadStatus = "qualified"
	LeadLost      LeadStatus = "lost"
)

// Lead is a prospective customer extracted from inbound messages or
// created directly through the API.
type Lead struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name,omitempty"`
	Email      string     `json:"email,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Company    string     `json:"company,omitempty"`
	Title      string     `json:"title,omitempty"`
	LeadSource string     `json:"lead_source"`
	Status     LeadStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FullName joins the name parts for display and logging.
func (l *Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// ActivityType categorizes events on a lead's timeline.
type ActivityType string

const (
	ActivityLeadCreated      ActivityType = "lead_created"
	ActivityMessageSent      ActivityType = "message_sent"
	ActivityMessageReceived  ActivityType = "message_received"
	ActivityEmailSent        ActivityType = "email_sent"
	ActivityEmailReceived    ActivityType = "email_received"
	ActivityCallPlaced       ActivityType = "call_placed"
	ActivityMeetingScheduled ActivityType = "meeting_scheduled"
)

// Activity is one timeline event attached to a lead.
type Activity struct {
	ID        string       `json:"id"`
	LeadID    string       `json:"lead_id"`
	OwnerID   string       `json:"owner_id"`
	Type      ActivityType `json:"type"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
