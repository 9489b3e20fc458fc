package utils

import (
	"context"
	"errors"
	"etix/src/db"
	"etix/src/fees"
	"etix/src/lib"
	"etix/src/models"
	"etix/src/types"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

type IntentResult struct {
	PaymentIntentID string
	ClientSecret    string
	CustomerID      string
	EphemeralKey    string
	PaymentID       uuid.UUID
	Breakdown       fees.Breakdown

	// Resale only.
	PlatformFeeCents  int64
	SellerAmountCents int64
}

// EnsureStripeCustomer returns the provider customer id for a user, creating
// one on first use. Concurrent creation races resolve in favor of whichever
// id reached the database first.
func EnsureStripeCustomer(ctx context.Context, user *models.User) (string, error) {
	if user.StripeCustomerId != nil && *user.StripeCustomerId != "" {
		return *user.StripeCustomerId, nil
	}
	sc := lib.GetStripeClient()
	cus, err := sc.V1Customers.Create(ctx, &stripe.CustomerCreateParams{
		Email: stripe.String(user.Email),
		Name:  stripe.String(user.Name),
		Metadata: map[string]string{
			"id": fmt.Sprint(user.ID),
		},
	})
	if err != nil {
		log.Printf("[Stripe] Error creating Customer for user %d: %s\n", user.ID, err.Error())
		return "", fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}
	gdb := db.GetDb()
	res := gdb.
		Model(&models.User{}).
		Where("id = ? AND stripe_customer_id IS NULL", user.ID).
		Update("stripe_customer_id", cus.ID)
	if res.Error != nil {
		// Provider side effect already happened; the customer.created
		// webhook is the backstop for the linkage.
		log.Printf("Error persisting customer id for user %d: %s\n", user.ID, res.Error.Error())
		return cus.ID, nil
	}
	if res.RowsAffected == 0 {
		// Lost a create race. Use the id that won.
		var winner models.User
		if err := gdb.Where(&models.User{ID: user.ID}).First(&winner).Error; err == nil &&
			winner.StripeCustomerId != nil && *winner.StripeCustomerId != "" {
			return *winner.StripeCustomerId, nil
		}
	}
	user.StripeCustomerId = &cus.ID
	return cus.ID, nil
}

func createEphemeralKey(ctx context.Context, customerId string) (string, error) {
	sc := lib.GetStripeClient()
	ek, err := sc.V1EphemeralKeys.Create(ctx, &stripe.EphemeralKeyCreateParams{
		Customer:      stripe.String(customerId),
		StripeVersion: stripe.String(stripe.APIVersion),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}
	return ek.Secret, nil
}

// CreatePrimaryPurchaseIntent validates a direct event purchase, recomputes
// the fee breakdown server side and opens a provider payment intent. The
// submitted amount must equal the recomputed total exactly; a mismatch is
// always a hard rejection, never silently corrected.
func CreatePrimaryPurchaseIntent(ctx context.Context, body *types.CreatePaymentIntentRequestBody, userId uint) (*IntentResult, error) {
	gdb := db.GetDb()
	var event models.Event
	if err := gdb.
		Model(&models.Event{}).
		Where(&models.Event{ID: body.EventID}).
		First(&event).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	quantity := body.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	breakdown := fees.Compute(event.PriceCents * quantity)
	if body.AmountCents != breakdown.TotalCents {
		return nil, types.ErrPriceMismatch
	}
	if breakdown.TotalCents == 0 {
		return nil, fmt.Errorf("%w: free tickets are issued through offers", types.ErrValidation)
	}

	var user models.User
	if err := gdb.Where(&models.User{ID: userId}).First(&user).Error; err != nil {
		return nil, types.ErrNotFound
	}
	eventId := event.ID
	payment := models.Payment{
		UserID:            userId,
		EventID:           &eventId,
		AmountCents:       breakdown.TotalCents,
		Currency:          body.Currency,
		PlatformFeeCents:  breakdown.PlatformFeeCents,
		ProcessorFeeCents: breakdown.ProcessorFeeCents,
		Quantity:          quantity,
		Status:            types.PAYMENT_PENDING,
		Type:              types.PAYMENT_PRIMARY_PURCHASE,
		Metadata: &types.Metadata{
			"base_cents": breakdown.BaseCents,
		},
	}
	return openIntent(ctx, &user, &payment, &breakdown, nil)
}

// CreateFavorPurchaseIntent is the paid path for accepting a favor ticket
// offer. The amount is validated against the offer's stored price, not the
// event price.
func CreateFavorPurchaseIntent(ctx context.Context, body *types.CreatePaymentIntentRequestBody, userId uint) (*IntentResult, error) {
	if body.OfferID == nil {
		return nil, fmt.Errorf("%w: offer_id is required", types.ErrValidation)
	}
	offerId, err := uuid.Parse(*body.OfferID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrValidation, err.Error())
	}
	gdb := db.GetDb()
	var offer models.TicketOffer
	if err := gdb.
		Model(&models.TicketOffer{}).
		Where("id = ?", offerId).
		First(&offer).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if offer.Status != types.OFFER_PENDING {
		return nil, types.ErrConflict
	}
	if offer.ExpiresAt != nil && time.Now().After(*offer.ExpiresAt) {
		return nil, types.ErrGone
	}
	breakdown := fees.Compute(offer.PriceCents)
	if body.AmountCents != breakdown.TotalCents {
		return nil, types.ErrPriceMismatch
	}
	if breakdown.TotalCents == 0 {
		return nil, fmt.Errorf("%w: free offers are accepted through the claim endpoint", types.ErrValidation)
	}

	var user models.User
	if err := gdb.Where(&models.User{ID: userId}).First(&user).Error; err != nil {
		return nil, types.ErrNotFound
	}
	eventId := offer.EventID
	payment := models.Payment{
		UserID:            userId,
		EventID:           &eventId,
		OfferID:           &offer.ID,
		AmountCents:       breakdown.TotalCents,
		Currency:          body.Currency,
		PlatformFeeCents:  breakdown.PlatformFeeCents,
		ProcessorFeeCents: breakdown.ProcessorFeeCents,
		Quantity:          1,
		Status:            types.PAYMENT_PENDING,
		Type:              types.PAYMENT_FAVOR_PURCHASE,
		Metadata: &types.Metadata{
			"offer_id":    offer.ID.String(),
			"ticket_mode": string(offer.Mode),
		},
	}
	return openIntent(ctx, &user, &payment, &breakdown, nil)
}

// CreateResalePurchaseIntent opens a destination charge against a resale
// listing: the seller's proceeds settle on their connect account, the
// platform keeps a flat cut as the application fee, and custody never
// touches the platform.
func CreateResalePurchaseIntent(ctx context.Context, body *types.CreateResaleIntentRequestBody, userId uint) (*IntentResult, error) {
	listingId, err := uuid.Parse(body.ResaleListingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", types.ErrValidation, err.Error())
	}
	gdb := db.GetDb()
	var listing models.ResaleListing
	if err := gdb.
		Model(&models.ResaleListing{}).
		Where("id = ?", listingId).
		Preload("Ticket").
		Preload("Seller").
		First(&listing).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if listing.Status != types.LISTING_ACTIVE {
		return nil, types.ErrListingUnavailable
	}
	// Price integrity is checked at charge time against the stored listing.
	if body.AmountCents != listing.AskingPriceCents {
		return nil, types.ErrPriceMismatch
	}
	if listing.SellerID == userId {
		return nil, types.ErrSelfPurchase
	}
	if listing.Seller.StripeAccountId == nil || *listing.Seller.StripeAccountId == "" {
		return nil, types.ErrSellerNotPayable
	}

	platformFee, sellerAmount := fees.ResaleSplit(listing.AskingPriceCents)

	var user models.User
	if err := gdb.Where(&models.User{ID: userId}).First(&user).Error; err != nil {
		return nil, types.ErrNotFound
	}
	eventId := listing.Ticket.EventID
	payment := models.Payment{
		UserID:           userId,
		EventID:          &eventId,
		ListingID:        &listing.ID,
		AmountCents:      listing.AskingPriceCents,
		Currency:         body.Currency,
		PlatformFeeCents: platformFee,
		NetToSellerCents: sellerAmount,
		Quantity:         1,
		Status:           types.PAYMENT_PENDING,
		Type:             types.PAYMENT_RESALE_PURCHASE,
		Metadata: &types.Metadata{
			"listing_id": listing.ID.String(),
			"ticket_id":  listing.TicketID,
			"seller_id":  listing.SellerID,
		},
	}
	transfer := &stripe.PaymentIntentCreateTransferDataParams{
		Destination: listing.Seller.StripeAccountId,
	}
	result, err := openIntent(ctx, &user, &payment, nil, transfer)
	if err != nil {
		return nil, err
	}
	result.PlatformFeeCents = platformFee
	result.SellerAmountCents = sellerAmount
	return result, nil
}

// openIntent runs the shared tail of every issuer: ensure a provider
// customer, persist the pending payment row, create the provider intent with
// an idempotency key derived from the local payment id, then attach the
// intent id to the row. A local write failure after the provider call
// succeeded is logged and tolerated; the webhook path reconciles it.
func openIntent(ctx context.Context, user *models.User, payment *models.Payment, breakdown *fees.Breakdown, transfer *stripe.PaymentIntentCreateTransferDataParams) (*IntentResult, error) {
	customerId, err := EnsureStripeCustomer(ctx, user)
	if err != nil {
		return nil, err
	}
	ephemeralKey, err := createEphemeralKey(ctx, customerId)
	if err != nil {
		return nil, err
	}

	gdb := db.GetDb()
	if err := gdb.Create(payment).Error; err != nil {
		return nil, err
	}

	md := map[string]string{
		"payment_id": payment.ID.String(),
		"user_id":    fmt.Sprint(payment.UserID),
		"email":      user.Email,
		"type":       string(payment.Type),
		"quantity":   fmt.Sprint(payment.Quantity),
	}
	if payment.EventID != nil {
		md["event_id"] = fmt.Sprint(*payment.EventID)
	}
	if payment.ListingID != nil {
		md["listing_id"] = payment.ListingID.String()
	}
	if payment.OfferID != nil {
		md["offer_id"] = payment.OfferID.String()
	}
	if breakdown != nil {
		md["base_cents"] = fmt.Sprint(breakdown.BaseCents)
		md["platform_fee_cents"] = fmt.Sprint(breakdown.PlatformFeeCents)
		md["processor_fee_cents"] = fmt.Sprint(breakdown.ProcessorFeeCents)
		md["service_fee_cents"] = fmt.Sprint(breakdown.ServiceFeeCents)
	} else {
		md["platform_fee_cents"] = fmt.Sprint(payment.PlatformFeeCents)
		md["seller_amount_cents"] = fmt.Sprint(payment.NetToSellerCents)
	}

	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(payment.AmountCents),
		Currency: stripe.String(payment.Currency),
		Customer: stripe.String(customerId),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		SetupFutureUsage: stripe.String("off_session"),
		Metadata:         md,
		Params: stripe.Params{
			IdempotencyKey: stripe.String(fmt.Sprintf("pi-create-%s", payment.ID.String())),
		},
	}
	if transfer != nil {
		params.TransferData = transfer
		params.ApplicationFeeAmount = stripe.Int64(payment.PlatformFeeCents)
		params.OnBehalfOf = transfer.Destination
	}
	sc := lib.GetStripeClient()
	pi, err := sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error creating PaymentIntent for payment %s: %s\n", payment.ID, err.Error())
		return nil, fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}

	if err := gdb.
		Model(&models.Payment{}).
		Where("id = ?", payment.ID).
		Update("payment_intent_id", pi.ID).
		Error; err != nil {
		// Intent exists upstream; reconciliation will find the row through
		// the intent metadata.
		log.Printf("Error linking intent %s to payment %s: %s\n", pi.ID, payment.ID, err.Error())
	}

	result := &IntentResult{
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		CustomerID:      customerId,
		EphemeralKey:    ephemeralKey,
		PaymentID:       payment.ID,
	}
	if breakdown != nil {
		result.Breakdown = *breakdown
	}
	return result, nil
}

// RefundPayment asks the provider to refund a completed payment. The local
// transition to refunded happens when the charge.refunded webhook lands.
func RefundPayment(ctx context.Context, paymentId uuid.UUID) error {
	gdb := db.GetDb()
	var payment models.Payment
	if err := gdb.
		Model(&models.Payment{}).
		Where("id = ?", paymentId).
		First(&payment).
		Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.ErrNotFound
		}
		return err
	}
	if payment.Status != types.PAYMENT_COMPLETED {
		return types.ErrConflict
	}
	if payment.PaymentIntentId == nil {
		return types.ErrConflict
	}
	sc := lib.GetStripeClient()
	_, err := sc.V1Refunds.Create(ctx, &stripe.RefundCreateParams{
		PaymentIntent: payment.PaymentIntentId,
		Params: stripe.Params{
			IdempotencyKey: stripe.String(fmt.Sprintf("refund-%s", payment.ID.String())),
		},
	})
	if err != nil {
		log.Printf("[Stripe] Error creating Refund for payment %s: %s\n", payment.ID, err.Error())
		return fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}
	return nil
}
