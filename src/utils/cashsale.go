package utils

import (
	"context"
	"errors"
	"etix/src/config"
	"etix/src/db"
	"etix/src/fees"
	"etix/src/lib"
	"etix/src/lib/mailer"
	"etix/src/models"
	"etix/src/types"
	"fmt"
	"log"
	"time"

	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

type CashSaleResult struct {
	TicketID      uint       `json:"ticket_id"`
	TicketNumber  string     `json:"ticket_number"`
	PaymentID     string     `json:"payment_id"`
	TransferToken string     `json:"transfer_token,omitempty"`
	TokenExpires  *time.Time `json:"token_expires_at,omitempty"`
	FeeCharged    bool       `json:"fee_charged"`
}

// IsEventStaff reports whether a user can run point-of-sale operations for
// an event. The organizer always can.
func IsEventStaff(event *models.Event, userId uint) bool {
	if event.OrganizerID == userId {
		return true
	}
	var count int64
	db.GetDb().
		Model(&models.EventStaff{}).
		Where(&models.EventStaff{EventID: event.ID, UserID: userId}).
		Count(&count)
	return count > 0
}

// ProcessCashSale records an in-person cash sale. The cash changed hands at
// the door, so the ticket and the completed sale record are written
// synchronously; the platform recoups its fee from the organizer's card on
// file afterwards, off session. A declined fee charge is a receivable to
// chase, never a reason to void a ticket the buyer already paid cash for.
func ProcessCashSale(ctx context.Context, body *types.ProcessCashSaleRequestBody, staffUserId uint) (*CashSaleResult, error) {
	gdb := db.GetDb()
	var event models.Event
	if err := gdb.
		Model(&models.Event{}).
		Where(&models.Event{ID: body.EventID}).
		Preload("Organizer").
		First(&event).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if !IsEventStaff(&event, staffUserId) {
		return nil, types.ErrForbidden
	}
	if !event.CashSalesEnabled {
		return nil, fmt.Errorf("%w: cash sales are not enabled for this event", types.ErrConflict)
	}
	organizer := event.Organizer
	if organizer.StripeCustomerId == nil || organizer.DefaultPaymentMethodId == nil {
		// Fee recovery needs a card on file before the door opens.
		return nil, fmt.Errorf("%w: organizer has no payment method on file", types.ErrConflict)
	}
	if body.AmountCents != event.PriceCents {
		return nil, types.ErrPriceMismatch
	}

	ticketNumber, err := NewTicketNumber(event.ID)
	if err != nil {
		return nil, err
	}
	platformFee := fees.Compute(event.PriceCents).PlatformFeeCents

	ticket := models.Ticket{
		EventID:      event.ID,
		TicketNumber: ticketNumber,
		OwnerEmail:   body.CustomerEmail,
		PriceCents:   event.PriceCents,
		Status:       types.TICKET_VALID,
		Mode:         types.TICKET_MODE_STANDARD,
	}
	payment := models.Payment{
		UserID:           staffUserId,
		AmountCents:      event.PriceCents,
		Currency:         event.Currency,
		PlatformFeeCents: platformFee,
		Quantity:         1,
		Status:           types.PAYMENT_COMPLETED,
		Type:             types.PAYMENT_VENDOR_POS,
		Metadata: &types.Metadata{
			"customer_name":   body.CustomerName,
			"delivery_method": body.DeliveryMethod,
		},
	}
	result := CashSaleResult{}
	err = gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ticket).Error; err != nil {
			return err
		}
		eventId := event.ID
		payment.EventID = &eventId
		payment.TicketID = &ticket.ID
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		if err := tx.
			Model(&models.Ticket{}).
			Where("id = ?", ticket.ID).
			Update("payment_id", payment.ID).
			Error; err != nil {
			return err
		}
		if body.DeliveryMethod == "nfc" {
			token, err := NewTransferToken()
			if err != nil {
				return err
			}
			expires := time.Now().Add(config.TRANSFER_TOKEN_TTL_MINUTES * time.Minute)
			if err := tx.
				Model(&models.Ticket{}).
				Where("id = ?", ticket.ID).
				Updates(map[string]any{
					"transfer_token":            token,
					"transfer_token_expires_at": expires,
				}).
				Error; err != nil {
				return err
			}
			result.TransferToken = token
			result.TokenExpires = &expires
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.TicketID = ticket.ID
	result.TicketNumber = ticket.TicketNumber
	result.PaymentID = payment.ID.String()

	result.FeeCharged = chargeCashSaleFee(ctx, &organizer, &payment, platformFee, event.Currency)

	if body.DeliveryMethod == "email" && body.CustomerEmail != "" {
		eventName := event.Title
		if eventName == "" {
			eventName = event.Name
		}
		go func() {
			if err := mailer.SendTicketEmail(body.CustomerEmail, eventName, ticket.TicketNumber); err != nil {
				log.Printf("Error sending ticket email to %s: %s\n", body.CustomerEmail, err.Error())
			}
		}()
	}
	return &result, nil
}

// chargeCashSaleFee charges the platform fee to the organizer's saved card,
// off session. Returns whether the charge was opened.
func chargeCashSaleFee(ctx context.Context, organizer *models.User, sale *models.Payment, feeCents int64, currency string) bool {
	if feeCents <= 0 {
		return false
	}
	sc := lib.GetStripeClient()
	pi, err := sc.V1PaymentIntents.Create(ctx, &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(feeCents),
		Currency:      stripe.String(currency),
		Customer:      organizer.StripeCustomerId,
		PaymentMethod: organizer.DefaultPaymentMethodId,
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Metadata: map[string]string{
			"payment_id": sale.ID.String(),
			"type":       "cash_sale_fee",
		},
		Params: stripe.Params{
			IdempotencyKey: stripe.String(fmt.Sprintf("cashfee-%s", sale.ID.String())),
		},
	})
	if err != nil {
		// The sale stands either way. Flag it for later collection.
		log.Printf("[Stripe] Cash sale fee charge failed for payment %s: %s\n", sale.ID, err.Error())
		md := types.Metadata{}
		if sale.Metadata != nil {
			md = *sale.Metadata
		}
		md["fee_charge_failed"] = err.Error()
		if err := db.GetDb().
			Model(&models.Payment{}).
			Where("id = ?", sale.ID).
			Update("metadata", &md).
			Error; err != nil {
			log.Printf("Error flagging failed fee charge for payment %s: %s\n", sale.ID, err.Error())
		}
		return false
	}
	if err := db.GetDb().
		Model(&models.Payment{}).
		Where("id = ?", sale.ID).
		Update("payment_intent_id", pi.ID).
		Error; err != nil {
		log.Printf("Error linking fee intent %s to payment %s: %s\n", pi.ID, sale.ID, err.Error())
	}
	return true
}
