package models

import (
	"etix/src/types"
	"time"
)

// WebhookEvent is the processed-event ledger. Provider delivery is
// at-least-once, so every inbound event is recorded here before dispatch and
// the unique (provider, event id) pair turns replays into no-ops.
type WebhookEvent struct {
	ID              uint       `gorm:"primarykey" json:"id"`
	Provider        string     `gorm:"uniqueIndex:ux_webhook_provider_event" json:"provider"`
	ProviderEventID string     `gorm:"uniqueIndex:ux_webhook_provider_event" json:"provider_event_id"`
	EventType       string     `gorm:"index" json:"event_type"`
	Payload         string     `json:"-"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ProcessingError string     `json:"processing_error,omitempty"`

	types.Timestamps
}
