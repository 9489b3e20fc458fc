package models

import (
	"etix/src/types"
	"time"
)

// Subscription mirrors the provider's subscription object for one user.
// Exactly one row per user; tier and status are always derived from the
// provider payload, never invented locally.
type Subscription struct {
	ID     uint `gorm:"primarykey" json:"id"`
	UserID uint `gorm:"uniqueIndex" json:"user_id"`

	Tier   types.SubscriptionTier   `gorm:"default:'base'" json:"tier"`
	Status types.SubscriptionStatus `gorm:"default:'canceled'" json:"status"`

	StripeSubscriptionId *string    `json:"-"`
	StripeCustomerId     *string    `json:"-"`
	StripePriceId        *string    `json:"-"`
	CurrentPeriodStart   *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`

	User User `gorm:"foreignKey:user_id" json:"-"`

	types.Timestamps
}
