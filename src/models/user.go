package models

import (
	"etix/src/types"
	"time"
)

type User struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	Name          string          `json:"name,omitempty"`
	Email         string          `gorm:"uniqueIndex" json:"email,omitempty"`
	Role          string          `json:"role,omitempty"`
	UID           string          `json:"uid,omitempty"`
	EmailVerified bool            `json:"email_verified,omitempty"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	Metadata      *types.Metadata `gorm:"type:jsonb" json:"-"`

	// Provider linkage. CustomerId is the buyer side, AccountId the
	// marketplace-seller side; either may be absent until first use.
	StripeCustomerId       *string `json:"-"`
	StripeAccountId        *string `json:"-"`
	DefaultPaymentMethodId *string `json:"-"`
	PayoutsEnabled         bool    `json:"-"`

	Payments []Payment `gorm:"foreignKey:user_id" json:"payments,omitempty"`

	types.Timestamps
}
