package common

import (
	"etix/src/db"
	"etix/src/fees"
	"etix/src/models"
	"etix/src/types"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type ReconcileSuite struct {
	suite.Suite
	DB *gorm.DB

	buyer  models.User
	seller models.User
	event  models.Event
}

func (s *ReconcileSuite) SetupSuite() {
	d, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		log.Fatalf("Error opening test database: %s\n", err.Error())
	}
	db.NewDB(d)
	s.DB = d

	err = d.AutoMigrate(
		&models.User{},
		&models.Event{},
		&models.EventStaff{},
		&models.Payment{},
		&models.Ticket{},
		&models.ResaleListing{},
		&models.TicketOffer{},
		&models.Subscription{},
		&models.WebhookEvent{},
	)
	if err != nil {
		log.Fatalf("error migration: %s", err.Error())
	}

	accountId := "acct_seller"
	s.buyer = models.User{Email: "buyer@example.com", Name: "Buyer"}
	s.seller = models.User{Email: "seller@example.com", Name: "Seller", StripeAccountId: &accountId}
	s.Require().NoError(d.Create(&s.buyer).Error)
	s.Require().NoError(d.Create(&s.seller).Error)

	s.event = models.Event{
		Title:       "Reconciler Test Night",
		OrganizerID: s.seller.ID,
		PriceCents:  2500,
		Currency:    "usd",
		Status:      types.EVENT_PUBLISHED,
	}
	s.Require().NoError(d.Create(&s.event).Error)
}

func (s *ReconcileSuite) TearDownSuite() {
	inner, err := s.DB.DB()
	if err != nil {
		log.Printf("Error accessing inner db instance: %s\n", err.Error())
		return
	}
	inner.Close()
}

func (s *ReconcileSuite) newPendingPayment(intentId string, quantity int64, ptype types.PaymentType) models.Payment {
	eventId := s.event.ID
	breakdown := fees.Compute(s.event.PriceCents * quantity)
	payment := models.Payment{
		UserID:            s.buyer.ID,
		EventID:           &eventId,
		AmountCents:       breakdown.TotalCents,
		Currency:          "usd",
		Quantity:          quantity,
		PlatformFeeCents:  breakdown.PlatformFeeCents,
		ProcessorFeeCents: breakdown.ProcessorFeeCents,
		Status:            types.PAYMENT_PENDING,
		Type:              ptype,
	}
	if intentId != "" {
		payment.PaymentIntentId = &intentId
	}
	s.Require().NoError(s.DB.Create(&payment).Error)
	return payment
}

func (s *ReconcileSuite) TestPaymentSucceededIsIdempotent() {
	payment := s.newPendingPayment("pi_idem_1", 2, types.PAYMENT_PRIMARY_PURCHASE)
	pi := &stripe.PaymentIntent{
		ID:           "pi_idem_1",
		Amount:       payment.AmountCents,
		Currency:     "usd",
		LatestCharge: &stripe.Charge{ID: "ch_idem_1"},
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
			"quantity":   "2",
		},
	}

	assert.NoError(s.T(), HandlePaymentSucceeded(pi))
	assert.NoError(s.T(), HandlePaymentSucceeded(pi))

	var got models.Payment
	s.Require().NoError(s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_COMPLETED, got.Status)
	assert.NotNil(s.T(), got.TicketID)
	assert.NotNil(s.T(), got.ChargeId)
	assert.Equal(s.T(), "ch_idem_1", *got.ChargeId)

	var count int64
	s.DB.Model(&models.Ticket{}).Where("payment_id = ?", payment.ID).Count(&count)
	assert.Equal(s.T(), int64(2), count)

	// Each ticket carries an even share of the fee-inclusive charge,
	// not the event's face price.
	var tickets []models.Ticket
	s.DB.Where("payment_id = ?", payment.ID).Find(&tickets)
	for _, ticket := range tickets {
		assert.Equal(s.T(), types.TICKET_VALID, ticket.Status)
		assert.Equal(s.T(), payment.AmountCents/payment.Quantity, ticket.PriceCents)
		assert.NotEqual(s.T(), s.event.PriceCents, ticket.PriceCents)
		assert.NotEmpty(s.T(), ticket.TicketNumber)
	}
}

func (s *ReconcileSuite) TestPaymentSucceededRecreatesLostRow() {
	payment := s.newPendingPayment("", 1, types.PAYMENT_PRIMARY_PURCHASE)
	// Simulate the issuer losing the intent-id write.
	pi := &stripe.PaymentIntent{
		ID:       "pi_lost_link",
		Amount:   payment.AmountCents,
		Currency: "usd",
		Metadata: map[string]string{
			"payment_id": payment.ID.String(),
		},
	}
	assert.NoError(s.T(), HandlePaymentSucceeded(pi))

	var got models.Payment
	s.Require().NoError(s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_COMPLETED, got.Status)
	assert.NotNil(s.T(), got.PaymentIntentId)
	assert.Equal(s.T(), "pi_lost_link", *got.PaymentIntentId)
}

func (s *ReconcileSuite) TestPaymentSucceededBackstopKeepsFees() {
	// No local row at all. The handler rebuilds one from intent metadata,
	// fee columns included.
	paymentId := uuid.New()
	pi := &stripe.PaymentIntent{
		ID:           "pi_backstop_1",
		Amount:       5438,
		Currency:     "usd",
		LatestCharge: &stripe.Charge{ID: "ch_backstop_1"},
		Metadata: map[string]string{
			"payment_id":          paymentId.String(),
			"user_id":             fmt.Sprint(s.buyer.ID),
			"event_id":            fmt.Sprint(s.event.ID),
			"quantity":            "2",
			"type":                string(types.PAYMENT_PRIMARY_PURCHASE),
			"platform_fee_cents":  "250",
			"processor_fee_cents": "188",
		},
	}
	assert.NoError(s.T(), HandlePaymentSucceeded(pi))

	var got models.Payment
	s.Require().NoError(s.DB.Where("id = ?", paymentId).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_COMPLETED, got.Status)
	assert.Equal(s.T(), int64(5438), got.AmountCents)
	assert.Equal(s.T(), int64(250), got.PlatformFeeCents)
	assert.Equal(s.T(), int64(188), got.ProcessorFeeCents)

	var count int64
	s.DB.Model(&models.Ticket{}).Where("payment_id = ?", paymentId).Count(&count)
	assert.Equal(s.T(), int64(2), count)
}

func (s *ReconcileSuite) TestPaymentFailedIsMonotonic() {
	pending := s.newPendingPayment("pi_fail_1", 1, types.PAYMENT_PRIMARY_PURCHASE)
	pi := &stripe.PaymentIntent{ID: "pi_fail_1", Metadata: map[string]string{"payment_id": pending.ID.String()}}
	assert.NoError(s.T(), HandlePaymentFailed(pi))

	var got models.Payment
	s.Require().NoError(s.DB.Where("id = ?", pending.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_FAILED, got.Status)

	// A stale failure after success must not clobber the terminal state.
	done := s.newPendingPayment("pi_fail_2", 1, types.PAYMENT_PRIMARY_PURCHASE)
	s.Require().NoError(s.DB.Model(&models.Payment{}).Where("id = ?", done.ID).Update("status", types.PAYMENT_COMPLETED).Error)
	pi2 := &stripe.PaymentIntent{ID: "pi_fail_2", Metadata: map[string]string{"payment_id": done.ID.String()}}
	assert.NoError(s.T(), HandlePaymentFailed(pi2))
	var gotDone models.Payment
	s.Require().NoError(s.DB.Where("id = ?", done.ID).First(&gotDone).Error)
	assert.Equal(s.T(), types.PAYMENT_COMPLETED, gotDone.Status)
}

func (s *ReconcileSuite) TestChargeRefundedVoidsTickets() {
	payment := s.newPendingPayment("pi_refund_1", 1, types.PAYMENT_PRIMARY_PURCHASE)
	pi := &stripe.PaymentIntent{
		ID:           "pi_refund_1",
		LatestCharge: &stripe.Charge{ID: "ch_refund_1"},
		Metadata:     map[string]string{"payment_id": payment.ID.String()},
	}
	s.Require().NoError(HandlePaymentSucceeded(pi))

	ch := &stripe.Charge{ID: "ch_refund_1"}
	assert.NoError(s.T(), HandleChargeRefunded(ch))
	assert.NoError(s.T(), HandleChargeRefunded(ch))

	var got models.Payment
	s.Require().NoError(s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_REFUNDED, got.Status)

	var tickets []models.Ticket
	s.DB.Where("payment_id = ?", payment.ID).Find(&tickets)
	assert.NotEmpty(s.T(), tickets)
	for _, ticket := range tickets {
		assert.Equal(s.T(), types.TICKET_REFUNDED, ticket.Status)
	}
}

func (s *ReconcileSuite) TestResaleFulfillment() {
	sellerId := s.seller.ID
	ticket := models.Ticket{
		EventID:      s.event.ID,
		TicketNumber: "ETX-RESALE-0001",
		OwnerID:      &sellerId,
		OwnerEmail:   s.seller.Email,
		PriceCents:   s.event.PriceCents,
		Status:       types.TICKET_VALID,
		Mode:         types.TICKET_MODE_STANDARD,
	}
	s.Require().NoError(s.DB.Create(&ticket).Error)
	listing := models.ResaleListing{
		TicketID:         ticket.ID,
		SellerID:         s.seller.ID,
		AskingPriceCents: 4000,
		Status:           types.LISTING_ACTIVE,
	}
	s.Require().NoError(s.DB.Create(&listing).Error)

	eventId := s.event.ID
	intentId := "pi_resale_1"
	payment := models.Payment{
		UserID:          s.buyer.ID,
		EventID:         &eventId,
		ListingID:       &listing.ID,
		AmountCents:     4000,
		Currency:        "usd",
		Quantity:        1,
		Status:          types.PAYMENT_PENDING,
		Type:            types.PAYMENT_RESALE_PURCHASE,
		PaymentIntentId: &intentId,
	}
	s.Require().NoError(s.DB.Create(&payment).Error)

	pi := &stripe.PaymentIntent{
		ID:       intentId,
		Metadata: map[string]string{"payment_id": payment.ID.String(), "email": ""},
	}
	assert.NoError(s.T(), HandlePaymentSucceeded(pi))
	assert.NoError(s.T(), HandlePaymentSucceeded(pi))

	var gotListing models.ResaleListing
	s.Require().NoError(s.DB.Where("id = ?", listing.ID).First(&gotListing).Error)
	assert.Equal(s.T(), types.LISTING_SOLD, gotListing.Status)

	var gotTicket models.Ticket
	s.Require().NoError(s.DB.Where("id = ?", ticket.ID).First(&gotTicket).Error)
	s.Require().NotNil(gotTicket.OwnerID)
	assert.Equal(s.T(), s.buyer.ID, *gotTicket.OwnerID)

	var gotPayment models.Payment
	s.Require().NoError(s.DB.Where("id = ?", payment.ID).First(&gotPayment).Error)
	assert.Equal(s.T(), types.PAYMENT_COMPLETED, gotPayment.Status)
	s.Require().NotNil(gotPayment.TicketID)
	assert.Equal(s.T(), ticket.ID, *gotPayment.TicketID)
}

func (s *ReconcileSuite) TestSubscriptionLifecycle() {
	customerId := "cus_sub_1"
	s.Require().NoError(s.DB.Model(&models.User{}).Where("id = ?", s.buyer.ID).Update("stripe_customer_id", customerId).Error)

	now := time.Now().Unix()
	sub := &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: customerId},
		Metadata: map[string]string{"tier": "pro"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Price:              &stripe.Price{ID: "price_pro"},
				CurrentPeriodStart: now,
				CurrentPeriodEnd:   now + 30*24*3600,
			}},
		},
	}
	assert.NoError(s.T(), HandleSubscriptionUpsert(sub))

	var got models.Subscription
	s.Require().NoError(s.DB.Where("user_id = ?", s.buyer.ID).First(&got).Error)
	assert.Equal(s.T(), types.TIER_PRO, got.Tier)
	assert.Equal(s.T(), types.SUBSCRIPTION_ACTIVE, got.Status)
	assert.NotNil(s.T(), got.CurrentPeriodEnd)

	// Unknown and in-limbo provider statuses never grant entitlements.
	sub.Status = stripe.SubscriptionStatusIncompleteExpired
	assert.NoError(s.T(), HandleSubscriptionUpsert(sub))
	s.Require().NoError(s.DB.Where("user_id = ?", s.buyer.ID).First(&got).Error)
	assert.Equal(s.T(), types.SUBSCRIPTION_CANCELED, got.Status)

	assert.NoError(s.T(), HandleSubscriptionDeleted(&stripe.Subscription{ID: "sub_1"}))
	s.Require().NoError(s.DB.Where("user_id = ?", s.buyer.ID).First(&got).Error)
	assert.Equal(s.T(), types.TIER_BASE, got.Tier)
	assert.Equal(s.T(), types.SUBSCRIPTION_CANCELED, got.Status)
	assert.Nil(s.T(), got.StripeSubscriptionId)
}

func (s *ReconcileSuite) TestWebhookLedgerDeduplicates() {
	row, fresh, err := RecordWebhookEvent("stripe", "evt_dup_1", "payment_intent.succeeded", "{}")
	s.Require().NoError(err)
	assert.True(s.T(), fresh)
	s.Require().NotNil(row)

	MarkWebhookProcessed(row.ID, nil)

	replay, fresh, err := RecordWebhookEvent("stripe", "evt_dup_1", "payment_intent.succeeded", "{}")
	s.Require().NoError(err)
	assert.False(s.T(), fresh)
	s.Require().NotNil(replay)
	assert.Equal(s.T(), row.ID, replay.ID)
	assert.NotNil(s.T(), replay.ProcessedAt)
}

func (s *ReconcileSuite) TestRetrySweepProcessesStaleRows() {
	payment := s.newPendingPayment("pi_sweep_1", 1, types.PAYMENT_PRIMARY_PURCHASE)
	payload := `{"id":"pi_sweep_1","metadata":{"payment_id":"` + payment.ID.String() + `"}}`
	row := models.WebhookEvent{
		Provider:        "stripe",
		ProviderEventID: "evt_sweep_1",
		EventType:       "payment_intent.succeeded",
		Payload:         payload,
	}
	s.Require().NoError(s.DB.Create(&row).Error)
	// Age the row past the sweep cutoff.
	s.Require().NoError(s.DB.Model(&models.WebhookEvent{}).Where("id = ?", row.ID).Update("created_at", time.Now().Add(-10*time.Minute)).Error)

	RetryUnprocessedWebhooks()

	var got models.Payment
	s.Require().NoError(s.DB.Where("id = ?", payment.ID).First(&got).Error)
	assert.Equal(s.T(), types.PAYMENT_COMPLETED, got.Status)

	var gotRow models.WebhookEvent
	s.Require().NoError(s.DB.Where("id = ?", row.ID).First(&gotRow).Error)
	assert.NotNil(s.T(), gotRow.ProcessedAt)
}

func (s *ReconcileSuite) TestExpireOverdueOffers() {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	overdue := models.TicketOffer{
		EventID:        s.event.ID,
		RecipientEmail: "late@example.com",
		PriceCents:     0,
		Status:         types.OFFER_PENDING,
		ExpiresAt:      &past,
	}
	fresh := models.TicketOffer{
		EventID:        s.event.ID,
		RecipientEmail: "ontime@example.com",
		PriceCents:     0,
		Status:         types.OFFER_PENDING,
		ExpiresAt:      &future,
	}
	s.Require().NoError(s.DB.Create(&overdue).Error)
	s.Require().NoError(s.DB.Create(&fresh).Error)

	ExpireOverdueOffers()

	var gotOverdue models.TicketOffer
	s.Require().NoError(s.DB.Where("id = ?", overdue.ID).First(&gotOverdue).Error)
	assert.Equal(s.T(), types.OFFER_EXPIRED, gotOverdue.Status)
	var gotFresh models.TicketOffer
	s.Require().NoError(s.DB.Where("id = ?", fresh.ID).First(&gotFresh).Error)
	assert.Equal(s.T(), types.OFFER_PENDING, gotFresh.Status)
}

func TestReconcileRunner(t *testing.T) {
	suite.Run(t, new(ReconcileSuite))
}
