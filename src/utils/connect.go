package utils

import (
	"context"
	"encoding/json"
	"errors"
	"etix/src/db"
	"etix/src/lib"
	"etix/src/models"
	"etix/src/types"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

const sellerBalanceTTL = 5 * time.Minute

type SellerBalance struct {
	AvailableCents int64  `json:"available_cents"`
	PendingCents   int64  `json:"pending_cents"`
	Currency       string `json:"currency"`
}

type WithdrawalResult struct {
	// Set when onboarding is incomplete and the seller must finish it first.
	OnboardingURL string `json:"onboarding_url,omitempty"`
	PayoutID      string `json:"payout_id,omitempty"`
	AmountCents   int64  `json:"amount_cents,omitempty"`
}

// EnsureSellerAccount returns the user's connect account id, creating a
// minimal express account on first use. Only the email is submitted up
// front; everything else is collected by hosted onboarding when the seller
// first tries to withdraw.
func EnsureSellerAccount(ctx context.Context, user *models.User) (string, error) {
	if user.StripeAccountId != nil && *user.StripeAccountId != "" {
		return *user.StripeAccountId, nil
	}
	sc := lib.GetStripeClient()
	acc, err := sc.V1Accounts.Create(ctx, &stripe.AccountCreateParams{
		Type:  stripe.String("express"),
		Email: stripe.String(user.Email),
		Metadata: map[string]string{
			"id": fmt.Sprint(user.ID),
		},
	})
	if err != nil {
		log.Printf("[Stripe] Error creating Connect account for user [%d]: %s\n", user.ID, err.Error())
		return "", fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}
	gdb := db.GetDb()
	res := gdb.
		Model(&models.User{}).
		Where("id = ? AND stripe_account_id IS NULL", user.ID).
		Update("stripe_account_id", acc.ID)
	if res.Error == nil && res.RowsAffected == 0 {
		var winner models.User
		if err := gdb.Where(&models.User{ID: user.ID}).First(&winner).Error; err == nil &&
			winner.StripeAccountId != nil && *winner.StripeAccountId != "" {
			return *winner.StripeAccountId, nil
		}
	}
	user.StripeAccountId = &acc.ID
	return acc.ID, nil
}

// OnboardingLink creates a hosted onboarding session for an existing connect
// account.
func OnboardingLink(ctx context.Context, accountId string) (string, error) {
	sc := lib.GetStripeClient()
	accLink, err := sc.V1AccountLinks.Create(ctx, &stripe.AccountLinkCreateParams{
		Account:    stripe.String(accountId),
		Type:       stripe.String("account_onboarding"),
		ReturnURL:  stripe.String(fmt.Sprint(os.Getenv("APP_HOST"), "/dashboard")),
		RefreshURL: stripe.String(fmt.Sprint(os.Getenv("APP_HOST"), "/callback/account/refresh")),
	})
	if err != nil {
		log.Printf("[Stripe] Error creating AccountLink for account [%s]: %s\n", accountId, err.Error())
		return "", fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}
	return accLink.URL, nil
}

// GetSellerBalance reads the connect balance for a seller, serving a short
// lived cache so the dashboard can poll without hammering the provider.
func GetSellerBalance(ctx context.Context, userId uint) (*SellerBalance, error) {
	rdb := lib.GetRedisClient()
	cacheKey := fmt.Sprintf("seller:%d:balance", userId)
	if rdb != nil {
		raw, err := rdb.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached SellerBalance
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return &cached, nil
			}
		} else if err != redis.Nil {
			log.Printf("Error reading balance cache for user %d: %s\n", userId, err.Error())
		}
	}

	gdb := db.GetDb()
	var user models.User
	if err := gdb.Where(&models.User{ID: userId}).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if user.StripeAccountId == nil || *user.StripeAccountId == "" {
		// No account means no sales yet. An empty balance, not an error.
		return &SellerBalance{Currency: "usd"}, nil
	}

	sc := lib.GetStripeClient()
	bal, err := sc.V1Balance.Retrieve(ctx, &stripe.BalanceRetrieveParams{
		Params: stripe.Params{
			StripeAccount: user.StripeAccountId,
		},
	})
	if err != nil {
		log.Printf("[Stripe] Error retrieving Balance for account [%s]: %s\n", *user.StripeAccountId, err.Error())
		return nil, fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}
	balance := sumBalance(bal)

	if rdb != nil {
		if raw, err := json.Marshal(&balance); err == nil {
			if err := rdb.SetEx(ctx, cacheKey, string(raw), sellerBalanceTTL).Err(); err != nil {
				log.Printf("Error caching balance for user %d: %s\n", userId, err.Error())
			}
		}
	}
	return &balance, nil
}

// sumBalance folds stripe balance entries into a single figure per bucket.
// The currency reported is the one on the last available entry.
func sumBalance(bal *stripe.Balance) SellerBalance {
	balance := SellerBalance{Currency: "usd"}
	for _, amount := range bal.Available {
		balance.AvailableCents += amount.Amount
		balance.Currency = string(amount.Currency)
	}
	for _, amount := range bal.Pending {
		balance.PendingCents += amount.Amount
	}
	return balance
}

// InitiateWithdrawal moves available funds from the seller's connect account
// to their bank. A seller who never finished onboarding gets an onboarding
// URL back instead of a payout.
func InitiateWithdrawal(ctx context.Context, userId uint, amountCents int64) (*WithdrawalResult, error) {
	gdb := db.GetDb()
	var user models.User
	if err := gdb.Where(&models.User{ID: userId}).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if user.StripeAccountId == nil || *user.StripeAccountId == "" {
		return nil, types.ErrConflict
	}
	sc := lib.GetStripeClient()
	if !user.PayoutsEnabled {
		acc, err := sc.V1Accounts.GetByID(ctx, *user.StripeAccountId, nil)
		if err != nil {
			log.Printf("[Stripe] Error retrieving Account [%s]: %s\n", *user.StripeAccountId, err.Error())
			return nil, fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
		}
		if !acc.PayoutsEnabled {
			url, err := OnboardingLink(ctx, acc.ID)
			if err != nil {
				return nil, err
			}
			return &WithdrawalResult{OnboardingURL: url}, nil
		}
		// account.updated webhook missed; repair the flag now.
		if err := gdb.
			Model(&models.User{}).
			Where("id = ?", userId).
			Update("payouts_enabled", true).
			Error; err != nil {
			log.Printf("Error updating payout flag for user %d: %s\n", userId, err.Error())
		}
	}

	balance, err := GetSellerBalance(ctx, userId)
	if err != nil {
		return nil, err
	}
	if amountCents <= 0 {
		amountCents = balance.AvailableCents
	}
	if amountCents <= 0 || amountCents > balance.AvailableCents {
		return nil, fmt.Errorf("%w: amount exceeds available balance", types.ErrValidation)
	}

	payout, err := sc.V1Payouts.Create(ctx, &stripe.PayoutCreateParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(balance.Currency),
		Params: stripe.Params{
			StripeAccount:  user.StripeAccountId,
			IdempotencyKey: stripe.String(fmt.Sprintf("payout-%d-%d", userId, time.Now().Unix())),
		},
	})
	if err != nil {
		log.Printf("[Stripe] Error creating Payout for account [%s]: %s\n", *user.StripeAccountId, err.Error())
		return nil, fmt.Errorf("%w: %s", types.ErrUpstream, err.Error())
	}

	if rdb := lib.GetRedisClient(); rdb != nil {
		rdb.Del(ctx, fmt.Sprintf("seller:%d:balance", userId))
	}
	return &WithdrawalResult{PayoutID: payout.ID, AmountCents: amountCents}, nil
}
