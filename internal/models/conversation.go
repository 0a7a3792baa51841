package models

import "time"

// TurnRole distinguishes who produced a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

// Turn is one append-only entry in an owner's conversation history.
// Seq is assigned by the store and strictly increases per owner.
type Turn struct {
	Seq       int64     `json:"seq"`
	OwnerID   string    `json:"owner_id"`
	IntentID  string    `json:"intent_id,omitempty"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
