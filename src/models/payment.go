package models

import (
	"etix/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Payment is one money movement attempt. Amounts are minor currency units.
// Status transitions are monotonic: pending -> completed|failed, and
// completed -> refunded.
type Payment struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	UserID    uint       `json:"user_id,omitempty"`
	EventID   *uint      `json:"event_id,omitempty"`
	ListingID *uuid.UUID `gorm:"type:uuid" json:"listing_id,omitempty"`
	OfferID   *uuid.UUID `gorm:"type:uuid" json:"offer_id,omitempty"`

	AmountCents       int64  `json:"amount_cents"`
	Currency          string `gorm:"default:'usd'" json:"currency"`
	PlatformFeeCents  int64  `json:"platform_fee_cents"`
	ProcessorFeeCents int64  `json:"processor_fee_cents"`
	NetToSellerCents  int64  `json:"net_to_seller_cents"`
	Quantity          int64  `gorm:"default:1" json:"quantity"`

	Status types.PaymentStatus `gorm:"default:'pending'" json:"status"`
	Type   types.PaymentType   `json:"type"`

	// Provider references. The intent id is the reconciliation key and must
	// be unique when present.
	PaymentIntentId *string `gorm:"uniqueIndex" json:"payment_intent_id,omitempty"`
	ChargeId        *string `json:"charge_id,omitempty"`

	// First ticket synthesized for this payment; the reconciler's replay
	// short circuit.
	TicketID *uint `json:"ticket_id,omitempty"`

	Metadata *types.Metadata `gorm:"type:jsonb" json:"metadata,omitempty"`

	User   User     `gorm:"foreignKey:user_id" json:"-"`
	Event  *Event   `gorm:"foreignKey:event_id" json:"-"`
	Ticket *Ticket  `gorm:"foreignKey:ticket_id" json:"-"`

	types.Timestamps
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
