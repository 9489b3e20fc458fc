package models

import (
	"etix/src/types"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TicketOffer is a comp/gift ticket offered to a recipient by email.
// Accepted, declined, cancelled and expired are terminal.
type TicketOffer struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	EventID        uint              `json:"event_id"`
	RecipientEmail string            `json:"recipient_email"`
	RecipientID    *uint             `json:"recipient_id,omitempty"`
	PriceCents     int64             `json:"price_cents"`
	Mode           types.TicketMode  `gorm:"default:'standard'" json:"mode"`
	Status         types.OfferStatus `gorm:"default:'pending'" json:"status"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`

	Event Event `json:"event,omitempty"`

	types.Timestamps
}

func (o *TicketOffer) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
