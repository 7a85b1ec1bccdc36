package audit

import (
	"encoding/json"
	"time"
)

// EventType names a step in a wallet's money lifecycle.
type EventType string

const (
	EventTypePayoutRequested  EventType = "payout_requested"
	EventTypePayoutRolledBack EventType = "payout_rolled_back"
	EventTypePayoutSettled    EventType = "payout_settled"
	EventTypePayoutReversed   EventType = "payout_reversed"
	EventTypeRecipientSaved   EventType = "recipient_saved"
	EventTypeAdminAction      EventType = "admin_action"
)

// Actor is who caused an event. Webhook-driven events have none.
type Actor struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	IP     string `json:"ip,omitempty"`
}

// Event is one row of audit_events. Rows are inserted and never changed.
type Event struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      EventType       `json:"type"`
	Actor     Actor           `json:"actor"`
	Reference string          `json:"reference,omitempty"`
	Message   string          `json:"message,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
