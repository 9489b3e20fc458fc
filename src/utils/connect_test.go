package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v82"
)

func TestSumBalance(t *testing.T) {
	bal := &stripe.Balance{
		Available: []*stripe.BalanceAmount{
			{Amount: 1200, Currency: stripe.CurrencyUSD},
			{Amount: 300, Currency: stripe.CurrencyUSD},
		},
		Pending: []*stripe.BalanceAmount{
			{Amount: 450, Currency: stripe.CurrencyUSD},
		},
	}

	got := sumBalance(bal)
	assert.Equal(t, int64(1500), got.AvailableCents)
	assert.Equal(t, int64(450), got.PendingCents)
	assert.Equal(t, "usd", got.Currency)
}

func TestSumBalanceEmpty(t *testing.T) {
	got := sumBalance(&stripe.Balance{})
	assert.Zero(t, got.AvailableCents)
	assert.Zero(t, got.PendingCents)
	assert.Equal(t, "usd", got.Currency)
}
