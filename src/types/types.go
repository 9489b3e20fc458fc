package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime:nano" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime:nano" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return errors.New("type assertion to []byte failed")
	}
}

type Metadata = JSONB

type PaymentStatus string

const (
	PAYMENT_PENDING   PaymentStatus = "pending"
	PAYMENT_COMPLETED PaymentStatus = "completed"
	PAYMENT_FAILED    PaymentStatus = "failed"
	PAYMENT_REFUNDED  PaymentStatus = "refunded"
)

type PaymentType string

const (
	PAYMENT_PRIMARY_PURCHASE PaymentType = "primary_purchase"
	PAYMENT_RESALE_PURCHASE  PaymentType = "resale_purchase"
	PAYMENT_VENDOR_POS       PaymentType = "vendor_pos"
	PAYMENT_FAVOR_PURCHASE   PaymentType = "favor_ticket_purchase"
)

type TicketStatus string

const (
	TICKET_VALID     TicketStatus = "valid"
	TICKET_USED      TicketStatus = "used"
	TICKET_CANCELLED TicketStatus = "cancelled"
	TICKET_REFUNDED  TicketStatus = "refunded"
)

type TicketMode string

const (
	TICKET_MODE_STANDARD TicketMode = "standard"
	TICKET_MODE_PRIVATE  TicketMode = "private"
	TICKET_MODE_PUBLIC   TicketMode = "public"
)

type ListingStatus string

const (
	LISTING_ACTIVE    ListingStatus = "active"
	LISTING_SOLD      ListingStatus = "sold"
	LISTING_CANCELLED ListingStatus = "cancelled"
)

type OfferStatus string

const (
	OFFER_PENDING  OfferStatus = "pending"
	OFFER_ACCEPTED OfferStatus = "accepted"
	OFFER_DECLINED OfferStatus = "declined"
	OFFER_CANCELED OfferStatus = "cancelled"
	OFFER_EXPIRED  OfferStatus = "expired"
)

type SubscriptionTier string

const (
	TIER_BASE       SubscriptionTier = "base"
	TIER_PRO        SubscriptionTier = "pro"
	TIER_ENTERPRISE SubscriptionTier = "enterprise"
)

type SubscriptionStatus string

const (
	SUBSCRIPTION_ACTIVE   SubscriptionStatus = "active"
	SUBSCRIPTION_PAST_DUE SubscriptionStatus = "past_due"
	SUBSCRIPTION_TRIALING SubscriptionStatus = "trialing"
	SUBSCRIPTION_CANCELED SubscriptionStatus = "canceled"
	SUBSCRIPTION_PAUSED   SubscriptionStatus = "paused"
)

type EventStatus string

const (
	EVENT_DRAFT     EventStatus = "draft"
	EVENT_PUBLISHED EventStatus = "published"
	EVENT_COMPLETED EventStatus = "completed"
	EVENT_CANCELED  EventStatus = "canceled"
)

type DeliveryMethod string

const (
	DELIVERY_EMAIL DeliveryMethod = "email"
	DELIVERY_NFC   DeliveryMethod = "nfc"
)

type CreatePaymentIntentRequestBody struct {
	EventID     uint     `json:"event_id" binding:"required"`
	AmountCents int64    `json:"amount_cents" binding:"required"`
	Currency    string   `json:"currency" binding:"required,currencycode"`
	Type        string   `json:"type" binding:"required,oneof=primary_purchase favor_ticket_purchase"`
	Quantity    int64    `json:"quantity,omitempty"`
	OfferID     *string  `json:"offer_id,omitempty"`
	Metadata    Metadata `json:"metadata,omitempty"`
}

type CreateResaleIntentRequestBody struct {
	ResaleListingID string `json:"resale_listing_id" binding:"required"`
	AmountCents     int64  `json:"amount_cents" binding:"required"`
	Currency        string `json:"currency" binding:"required,currencycode"`
}

type ProcessCashSaleRequestBody struct {
	EventID        uint   `json:"event_id" binding:"required"`
	TicketTypeID   *uint  `json:"ticket_type_id,omitempty"`
	AmountCents    int64  `json:"amount_cents" binding:"required"`
	CustomerName   string `json:"customer_name,omitempty"`
	CustomerEmail  string `json:"customer_email,omitempty"`
	DeliveryMethod string `json:"delivery_method" binding:"required,oneof=email nfc none"`
}

type ClaimFavorOfferRequestBody struct {
	OfferID        string `json:"offer_id" binding:"required"`
	SkipMintingFee bool   `json:"skip_minting_fee,omitempty"`
}

type ClaimTicketTransferRequestBody struct {
	TransferToken string `json:"transfer_token" binding:"required"`
}

type CreateResaleListingRequestBody struct {
	TicketID         uint  `json:"ticket_id" binding:"required"`
	AskingPriceCents int64 `json:"asking_price_cents" binding:"required,gt=0"`
}

type CreateAdmissionRequestBody struct {
	TicketNumber string `json:"ticket_number" binding:"required"`
}

type SimpleRequestParams struct {
	ID uint `uri:"id" binding:"required"`
}

type FeeBreakdownResponse struct {
	BaseCents         int64 `json:"base_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	ProcessorFeeCents int64 `json:"processor_fee_cents"`
	ServiceFeeCents   int64 `json:"service_fee_cents"`
	TotalCents        int64 `json:"total_cents"`
}

type PaymentIntentResponse struct {
	PaymentIntentID string                `json:"payment_intent_id"`
	ClientSecret    string                `json:"client_secret"`
	CustomerID      string                `json:"customer_id"`
	EphemeralKey    string                `json:"ephemeral_key"`
	PaymentID       string                `json:"payment_id"`
	FeeBreakdown    *FeeBreakdownResponse `json:"fee_breakdown,omitempty"`

	// Resale only.
	PlatformFeeCents  int64 `json:"platform_fee_cents,omitempty"`
	SellerAmountCents int64 `json:"seller_amount_cents,omitempty"`
}

type Claims struct {
	Username     string   `json:"username"`
	Role         string   `json:"role"`
	Permissions  []string `json:"permissions"`
	Organization uint
	jwt.RegisteredClaims
}
