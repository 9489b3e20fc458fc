// Package common holds the webhook reconciliation core. Every money state
// transition downstream of the provider flows through here, both from the
// live webhook route and from the retry sweep, so all handlers must be safe
// to run more than once for the same event.
package common

import (
	"encoding/json"
	"errors"
	"etix/src/config"
	"etix/src/db"
	"etix/src/lib/mailer"
	"etix/src/models"
	"etix/src/types"
	"etix/src/utils"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordWebhookEvent appends a delivery to the processed-event ledger.
// Returns the ledger row and whether this delivery is the first one; a
// replayed event id inserts nothing and reports fresh=false.
func RecordWebhookEvent(provider, eventId, eventType, payload string) (*models.WebhookEvent, bool, error) {
	row := models.WebhookEvent{
		Provider:        provider,
		ProviderEventID: eventId,
		EventType:       eventType,
		Payload:         payload,
	}
	gdb := db.GetDb()
	res := gdb.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		var existing models.WebhookEvent
		err := gdb.
			Model(&models.WebhookEvent{}).
			Where(&models.WebhookEvent{Provider: provider, ProviderEventID: eventId}).
			First(&existing).
			Error
		if err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return &row, true, nil
}

// MarkWebhookProcessed stamps the outcome of a dispatch on the ledger row.
// Rows left unstamped are picked up by the retry sweep.
func MarkWebhookProcessed(id uint, procErr error) {
	updates := map[string]any{}
	if procErr != nil {
		updates["processing_error"] = procErr.Error()
	} else {
		now := time.Now()
		updates["processed_at"] = now
		updates["processing_error"] = ""
	}
	if err := db.GetDb().
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).
		Error; err != nil {
		log.Printf("[Webhook] Error stamping ledger row %d: %s\n", id, err.Error())
	}
}

// DispatchStripeEvent routes a raw event payload to its handler. Unhandled
// event types are acknowledged without work.
func DispatchStripeEvent(eventType string, raw []byte) error {
	switch eventType {
	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return err
		}
		return HandlePaymentSucceeded(&pi)
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return err
		}
		return HandlePaymentFailed(&pi)
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return err
		}
		return HandleChargeRefunded(&ch)
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		return HandleSubscriptionUpsert(&sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return err
		}
		return HandleSubscriptionDeleted(&sub)
	case "account.updated":
		var acc stripe.Account
		if err := json.Unmarshal(raw, &acc); err != nil {
			return err
		}
		return HandleAccountUpdated(&acc)
	case "customer.created":
		var cus stripe.Customer
		if err := json.Unmarshal(raw, &cus); err != nil {
			return err
		}
		return HandleCustomerCreated(&cus)
	default:
		return nil
	}
}

// paymentForIntent resolves the local payment row for an intent, creating a
// backstop row from the intent metadata when the issuer's local write was
// lost after the provider call succeeded.
func paymentForIntent(tx *gorm.DB, pi *stripe.PaymentIntent) (*models.Payment, error) {
	var payment models.Payment
	err := tx.
		Model(&models.Payment{}).
		Where("payment_intent_id = ?", pi.ID).
		First(&payment).
		Error
	if err == nil {
		return &payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	paymentId, perr := uuid.Parse(pi.Metadata["payment_id"])
	if perr != nil {
		return nil, fmt.Errorf("no payment for intent %s and no payment_id in metadata", pi.ID)
	}
	err = tx.
		Model(&models.Payment{}).
		Where("id = ?", paymentId).
		First(&payment).
		Error
	if err == nil {
		// Row exists but never got its intent id.
		if err := tx.
			Model(&models.Payment{}).
			Where("id = ?", payment.ID).
			Update("payment_intent_id", pi.ID).
			Error; err != nil {
			return nil, err
		}
		payment.PaymentIntentId = &pi.ID
		return &payment, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	userId, _ := strconv.ParseUint(pi.Metadata["user_id"], 10, 64)
	quantity, _ := strconv.ParseInt(pi.Metadata["quantity"], 10, 64)
	if quantity <= 0 {
		quantity = 1
	}
	platformFee, _ := strconv.ParseInt(pi.Metadata["platform_fee_cents"], 10, 64)
	processorFee, _ := strconv.ParseInt(pi.Metadata["processor_fee_cents"], 10, 64)
	netToSeller, _ := strconv.ParseInt(pi.Metadata["seller_amount_cents"], 10, 64)
	backstop := models.Payment{
		ID:                paymentId,
		UserID:            uint(userId),
		AmountCents:       pi.Amount,
		Currency:          string(pi.Currency),
		Quantity:          quantity,
		PlatformFeeCents:  platformFee,
		ProcessorFeeCents: processorFee,
		NetToSellerCents:  netToSeller,
		Status:            types.PAYMENT_PENDING,
		Type:              types.PaymentType(pi.Metadata["type"]),
		PaymentIntentId:   &pi.ID,
	}
	if eventId, err := strconv.ParseUint(pi.Metadata["event_id"], 10, 64); err == nil {
		eid := uint(eventId)
		backstop.EventID = &eid
	}
	if listingId, err := uuid.Parse(pi.Metadata["listing_id"]); err == nil {
		backstop.ListingID = &listingId
	}
	if offerId, err := uuid.Parse(pi.Metadata["offer_id"]); err == nil {
		backstop.OfferID = &offerId
	}
	if err := tx.Create(&backstop).Error; err != nil {
		return nil, err
	}
	log.Printf("[Webhook] Recreated payment %s from intent %s metadata\n", backstop.ID, pi.ID)
	return &backstop, nil
}

// HandlePaymentSucceeded completes a pending payment and performs its
// fulfillment: ticket synthesis for primary and favor purchases, ownership
// transfer for resales. Replays short circuit on the linked ticket and the
// guarded status transition.
func HandlePaymentSucceeded(pi *stripe.PaymentIntent) error {
	var emailTo string
	var emailEvent string
	var emailTicket string
	err := db.GetDb().Transaction(func(tx *gorm.DB) error {
		payment, err := paymentForIntent(tx, pi)
		if err != nil {
			return err
		}
		if payment.TicketID != nil {
			return nil
		}

		updates := map[string]any{"status": types.PAYMENT_COMPLETED}
		if pi.LatestCharge != nil {
			updates["charge_id"] = pi.LatestCharge.ID
		}
		res := tx.
			Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, types.PAYMENT_PENDING).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already completed, failed or refunded; succeeded events never
			// override a terminal state.
			return nil
		}

		switch payment.Type {
		case types.PAYMENT_RESALE_PURCHASE:
			return fulfillResale(tx, payment, pi)
		default:
			tickets, err := synthesizeTickets(tx, payment, pi)
			if err != nil {
				return err
			}
			if len(tickets) > 0 && pi.Metadata["email"] != "" {
				emailTo = pi.Metadata["email"]
				emailTicket = tickets[0].TicketNumber
				if payment.EventID != nil {
					var event models.Event
					if err := tx.Where(&models.Event{ID: *payment.EventID}).First(&event).Error; err == nil {
						emailEvent = event.Title
						if emailEvent == "" {
							emailEvent = event.Name
						}
					}
				}
			}
			return nil
		}
	})
	if err != nil {
		return err
	}
	if emailTo != "" {
		go func() {
			if err := mailer.SendTicketEmail(emailTo, emailEvent, emailTicket); err != nil {
				log.Printf("Error sending ticket email to %s: %s\n", emailTo, err.Error())
			}
		}()
	}
	return nil
}

// synthesizeTickets mints the tickets a completed primary or favor purchase
// paid for and links the first one back to the payment row.
func synthesizeTickets(tx *gorm.DB, payment *models.Payment, pi *stripe.PaymentIntent) ([]models.Ticket, error) {
	if payment.EventID == nil {
		return nil, fmt.Errorf("payment %s has no event to mint against", payment.ID)
	}
	var event models.Event
	if err := tx.Where(&models.Event{ID: *payment.EventID}).First(&event).Error; err != nil {
		return nil, err
	}
	mode := types.TICKET_MODE_STANDARD
	if m := pi.Metadata["ticket_mode"]; m != "" {
		mode = types.TicketMode(m)
	}
	ownerEmail := pi.Metadata["email"]
	var ownerId *uint
	if payment.UserID != 0 {
		uid := payment.UserID
		ownerId = &uid
	}
	quantity := payment.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	// The fee-inclusive charge is split evenly across the tickets it bought.
	perTicket := payment.AmountCents / quantity

	tickets := make([]models.Ticket, 0, quantity)
	for i := int64(0); i < quantity; i++ {
		number, err := utils.NewTicketNumber(event.ID)
		if err != nil {
			return nil, err
		}
		ticket := models.Ticket{
			EventID:      event.ID,
			TicketNumber: number,
			OwnerEmail:   ownerEmail,
			OwnerID:      ownerId,
			PriceCents:   perTicket,
			Status:       types.TICKET_VALID,
			Mode:         mode,
			OfferID:      payment.OfferID,
			PaymentID:    &payment.ID,
		}
		if err := tx.Create(&ticket).Error; err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := tx.
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("ticket_id", tickets[0].ID).
		Error; err != nil {
		return nil, err
	}

	if payment.OfferID != nil {
		if err := tx.
			Model(&models.TicketOffer{}).
			Where("id = ? AND status = ?", *payment.OfferID, types.OFFER_PENDING).
			Updates(map[string]any{
				"status":       types.OFFER_ACCEPTED,
				"recipient_id": payment.UserID,
			}).
			Error; err != nil {
			return nil, err
		}
	}
	return tickets, nil
}

// fulfillResale moves the listed ticket to the buyer and closes the listing.
// The listing transition is guarded so a replay cannot resell or reassign.
func fulfillResale(tx *gorm.DB, payment *models.Payment, pi *stripe.PaymentIntent) error {
	if payment.ListingID == nil {
		return fmt.Errorf("resale payment %s has no listing", payment.ID)
	}
	var listing models.ResaleListing
	if err := tx.
		Model(&models.ResaleListing{}).
		Where("id = ?", *payment.ListingID).
		First(&listing).
		Error; err != nil {
		return err
	}
	res := tx.
		Model(&models.ResaleListing{}).
		Where("id = ? AND status = ?", listing.ID, types.LISTING_ACTIVE).
		Update("status", types.LISTING_SOLD)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	if err := tx.
		Model(&models.Ticket{}).
		Where("id = ?", listing.TicketID).
		Updates(map[string]any{
			"owner_id":    payment.UserID,
			"owner_email": pi.Metadata["email"],
		}).
		Error; err != nil {
		return err
	}
	return tx.
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("ticket_id", listing.TicketID).
		Error
}

// HandlePaymentFailed marks a pending payment failed. Terminal states win;
// out-of-order failure events after a success are dropped.
func HandlePaymentFailed(pi *stripe.PaymentIntent) error {
	return db.GetDb().Transaction(func(tx *gorm.DB) error {
		payment, err := paymentForIntent(tx, pi)
		if err != nil {
			return err
		}
		res := tx.
			Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, types.PAYMENT_PENDING).
			Update("status", types.PAYMENT_FAILED)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 && payment.ListingID != nil {
			log.Printf("[Webhook] Resale payment %s failed; listing %s stays active\n", payment.ID, payment.ListingID)
		}
		return nil
	})
}

// HandleChargeRefunded moves a completed payment to refunded and voids the
// tickets it minted.
func HandleChargeRefunded(ch *stripe.Charge) error {
	return db.GetDb().Transaction(func(tx *gorm.DB) error {
		var payment models.Payment
		err := tx.
			Model(&models.Payment{}).
			Where("charge_id = ?", ch.ID).
			First(&payment).
			Error
		if errors.Is(err, gorm.ErrRecordNotFound) && ch.PaymentIntent != nil {
			err = tx.
				Model(&models.Payment{}).
				Where("payment_intent_id = ?", ch.PaymentIntent.ID).
				First(&payment).
				Error
		}
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Charge from another system sharing the account. Not ours.
				return nil
			}
			return err
		}
		res := tx.
			Model(&models.Payment{}).
			Where("id = ? AND status = ?", payment.ID, types.PAYMENT_COMPLETED).
			Update("status", types.PAYMENT_REFUNDED)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.
			Model(&models.Ticket{}).
			Where("payment_id = ? AND status <> ?", payment.ID, types.TICKET_REFUNDED).
			Update("status", types.TICKET_REFUNDED).
			Error
	})
}

// MapSubscriptionStatus collapses the provider's status vocabulary onto the
// local one. Anything unrecognized or not clearly in good standing maps to
// canceled so a bad payload can never grant entitlements.
func MapSubscriptionStatus(s stripe.SubscriptionStatus) types.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive:
		return types.SUBSCRIPTION_ACTIVE
	case stripe.SubscriptionStatusTrialing:
		return types.SUBSCRIPTION_TRIALING
	case stripe.SubscriptionStatusPastDue:
		return types.SUBSCRIPTION_PAST_DUE
	case stripe.SubscriptionStatusPaused:
		return types.SUBSCRIPTION_PAUSED
	default:
		return types.SUBSCRIPTION_CANCELED
	}
}

// TierForSubscription derives the local tier: subscription metadata first,
// then the price id table, then base.
func TierForSubscription(sub *stripe.Subscription) types.SubscriptionTier {
	switch types.SubscriptionTier(sub.Metadata["tier"]) {
	case types.TIER_PRO:
		return types.TIER_PRO
	case types.TIER_ENTERPRISE:
		return types.TIER_ENTERPRISE
	case types.TIER_BASE:
		return types.TIER_BASE
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		if tier, ok := config.SubscriptionPriceTier()[sub.Items.Data[0].Price.ID]; ok && tier != "" {
			return types.SubscriptionTier(tier)
		}
	}
	return types.TIER_BASE
}

func subscriptionUser(tx *gorm.DB, sub *stripe.Subscription) (*models.User, error) {
	if raw := sub.Metadata["id"]; raw != "" {
		if userId, err := strconv.ParseUint(raw, 10, 64); err == nil {
			var user models.User
			if err := tx.Where(&models.User{ID: uint(userId)}).First(&user).Error; err == nil {
				return &user, nil
			}
		}
	}
	if sub.Customer != nil {
		var user models.User
		err := tx.
			Model(&models.User{}).
			Where("stripe_customer_id = ?", sub.Customer.ID).
			First(&user).
			Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no local user for subscription %s", sub.ID)
}

// HandleSubscriptionUpsert mirrors a provider subscription onto the one row
// per user. Period bounds live on the item since the provider moved them off
// the subscription object.
func HandleSubscriptionUpsert(sub *stripe.Subscription) error {
	return db.GetDb().Transaction(func(tx *gorm.DB) error {
		user, err := subscriptionUser(tx, sub)
		if err != nil {
			// Keep the ledger row unprocessed; the sweep retries once the
			// customer linkage lands.
			return err
		}
		assign := models.Subscription{
			Tier:                 TierForSubscription(sub),
			Status:               MapSubscriptionStatus(sub.Status),
			StripeSubscriptionId: &sub.ID,
			CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		}
		if sub.Customer != nil {
			assign.StripeCustomerId = &sub.Customer.ID
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 {
			item := sub.Items.Data[0]
			if item.Price != nil {
				assign.StripePriceId = &item.Price.ID
			}
			if item.CurrentPeriodStart > 0 {
				start := time.Unix(item.CurrentPeriodStart, 0)
				assign.CurrentPeriodStart = &start
			}
			if item.CurrentPeriodEnd > 0 {
				end := time.Unix(item.CurrentPeriodEnd, 0)
				assign.CurrentPeriodEnd = &end
			}
		}
		var row models.Subscription
		return tx.
			Where(models.Subscription{UserID: user.ID}).
			Assign(assign).
			FirstOrCreate(&row).
			Error
	})
}

// HandleSubscriptionDeleted drops the user back to the base tier.
func HandleSubscriptionDeleted(sub *stripe.Subscription) error {
	return db.GetDb().
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", sub.ID).
		Updates(map[string]any{
			"tier":                   types.TIER_BASE,
			"status":                 types.SUBSCRIPTION_CANCELED,
			"stripe_subscription_id": nil,
			"stripe_price_id":        nil,
			"cancel_at_period_end":   false,
		}).
		Error
}

// HandleAccountUpdated tracks connect onboarding completion so withdrawals
// stop round-tripping to the provider for the payout capability check.
func HandleAccountUpdated(acc *stripe.Account) error {
	return db.GetDb().
		Model(&models.User{}).
		Where("stripe_account_id = ?", acc.ID).
		Update("payouts_enabled", acc.PayoutsEnabled).
		Error
}

// HandleCustomerCreated repairs customer linkage for users whose issuer-side
// write was lost.
func HandleCustomerCreated(cus *stripe.Customer) error {
	if cus.Email == "" {
		return nil
	}
	return db.GetDb().
		Model(&models.User{}).
		Where("email = ? AND stripe_customer_id IS NULL", cus.Email).
		Update("stripe_customer_id", cus.ID).
		Error
}

// RetryUnprocessedWebhooks re-dispatches ledger rows that never got a
// processed stamp. Runs on a schedule; the per-handler guards make repeat
// dispatch safe.
func RetryUnprocessedWebhooks() {
	var rows []models.WebhookEvent
	cutoff := time.Now().Add(-2 * time.Minute)
	err := db.GetDb().
		Model(&models.WebhookEvent{}).
		Where("processed_at IS NULL AND created_at < ?", cutoff).
		Order("id asc").
		Limit(50).
		Find(&rows).
		Error
	if err != nil {
		log.Printf("[Webhook] Error loading unprocessed events: %s\n", err.Error())
		return
	}
	for _, row := range rows {
		err := DispatchStripeEvent(row.EventType, []byte(row.Payload))
		MarkWebhookProcessed(row.ID, err)
		if err != nil {
			log.Printf("[Webhook] Retry of event %s failed: %s\n", row.ProviderEventID, err.Error())
		}
	}
}

// ExpireOverdueOffers sweeps pending offers past their deadline. Guarded on
// status so a concurrent accept wins.
func ExpireOverdueOffers() {
	res := db.GetDb().
		Model(&models.TicketOffer{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", types.OFFER_PENDING, time.Now()).
		Update("status", types.OFFER_EXPIRED)
	if res.Error != nil {
		log.Printf("[Offers] Error expiring offers: %s\n", res.Error.Error())
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("[Offers] Expired %d overdue offers\n", res.RowsAffected)
	}
}
