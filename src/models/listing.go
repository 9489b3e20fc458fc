package models

import (
	"etix/src/types"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResaleListing offers an existing ticket for sale. The asking price is
// immutable once created; the issuer re-reads it at charge time.
type ResaleListing struct {
	ID uuid.UUID `gorm:"primarykey;type:uuid" json:"id"`

	TicketID         uint                `json:"ticket_id"`
	SellerID         uint                `json:"seller_id"`
	AskingPriceCents int64               `json:"asking_price_cents"`
	Status           types.ListingStatus `gorm:"default:'active'" json:"status"`

	Ticket Ticket `gorm:"foreignKey:ticket_id" json:"ticket,omitempty"`
	Seller User   `gorm:"foreignKey:seller_id" json:"-"`

	types.Timestamps
}

func (l *ResaleListing) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
