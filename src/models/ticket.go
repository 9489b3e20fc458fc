package models

import (
	"etix/src/types"
	"time"

	"github.com/google/uuid"
)

// Ticket is a saleable/transferable admission unit. Tickets are never hard
// deleted; refunds and check-ins only move the status.
type Ticket struct {
	ID           uint               `gorm:"primarykey" json:"id"`
	EventID      uint               `json:"event_id,omitempty"`
	TicketNumber string             `gorm:"uniqueIndex" json:"ticket_number"`
	OwnerEmail   string             `json:"owner_email,omitempty"`
	OwnerID      *uint              `json:"owner_id,omitempty"`
	PriceCents   int64              `json:"price_cents"`
	Status       types.TicketStatus `gorm:"default:'valid'" json:"status"`
	Mode         types.TicketMode   `gorm:"default:'standard'" json:"mode"`
	OfferID      *uuid.UUID         `gorm:"type:uuid" json:"offer_id,omitempty"`
	PaymentID    *uuid.UUID         `gorm:"type:uuid;index" json:"payment_id,omitempty"`

	// NFC hand-off. The token is single use and cleared on claim.
	TransferToken          *string    `gorm:"index" json:"-"`
	TransferTokenExpiresAt *time.Time `json:"-"`

	Event Event `json:"event,omitempty"`
	Owner *User `gorm:"foreignKey:owner_id" json:"-"`

	types.Timestamps
}
