package models

import (
	"etix/src/types"
	"time"
)

type Event struct {
	ID               uint              `gorm:"primarykey" json:"id"`
	Title            string            `json:"title,omitempty"`
	Name             string            `json:"name,omitempty"`
	About            *string           `json:"about,omitempty"`
	Location         string            `json:"location,omitempty"`
	DateTime         *time.Time        `json:"date_time,omitempty"`
	Status           types.EventStatus `gorm:"default:'draft'" json:"status,omitempty"`
	OrganizerID      uint              `json:"organizer,omitempty"`
	PriceCents       int64             `json:"price_cents,omitempty"`
	Currency         string            `gorm:"default:'usd'" json:"currency,omitempty"`
	CashSalesEnabled bool              `json:"cash_sales_enabled,omitempty"`

	Organizer User     `gorm:"foreignKey:organizer_id" json:"-"`
	Tickets   []Ticket `json:"tickets,omitempty"`

	types.Timestamps
}

// EventStaff grants a user the staff role for one event. Organizers are
// implicitly staff for their own events.
type EventStaff struct {
	ID      uint `gorm:"primarykey" json:"id"`
	EventID uint `gorm:"uniqueIndex:ux_event_staff" json:"event_id"`
	UserID  uint `gorm:"uniqueIndex:ux_event_staff" json:"user_id"`

	types.Timestamps
}
