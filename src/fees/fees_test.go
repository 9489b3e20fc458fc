package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeFreeTicket(t *testing.T) {
	assert.Equal(t, Breakdown{}, Compute(0))
	assert.Equal(t, Breakdown{}, Compute(-500))
}

func TestComputeHundredDollars(t *testing.T) {
	b := Compute(10000)

	assert.Equal(t, int64(10000), b.BaseCents)
	assert.Equal(t, int64(500), b.PlatformFeeCents)
	// subtotal 10500, least total covering 2.9% + 30c: ceil(10530/0.971)
	assert.Equal(t, int64(10845), b.TotalCents)
	assert.Equal(t, int64(345), b.ProcessorFeeCents)
	assert.Equal(t, b.PlatformFeeCents+b.ProcessorFeeCents, b.ServiceFeeCents)
	assert.Equal(t, b.BaseCents+b.ServiceFeeCents, b.TotalCents)
}

func TestComputeQuantityScenario(t *testing.T) {
	// $29.99 x 3 seats.
	b := Compute(8997)

	assert.Equal(t, int64(450), b.PlatformFeeCents)
	assert.Equal(t, b.BaseCents+b.ServiceFeeCents, b.TotalCents)
	assert.Greater(t, b.TotalCents, b.BaseCents)
}

// The total must be the smallest integer whose processor cut still covers
// base + platform fee, for any base.
func TestComputeTotalIsMinimal(t *testing.T) {
	covers := func(total, subtotal int64) bool {
		// processor takes 2.9% + 30c of the charged total
		kept := total - (total*290+9999)/10000 - 30
		return kept >= subtotal
	}
	for _, base := range []int64{1, 2, 99, 100, 2999, 8997, 10000, 999999} {
		b := Compute(base)
		subtotal := base + b.PlatformFeeCents

		assert.Truef(t, b.TotalCents-(b.TotalCents*290)/10000-30 >= subtotal,
			"base %d: total %d does not cover subtotal %d", base, b.TotalCents, subtotal)
		assert.Falsef(t, covers(b.TotalCents-1, subtotal),
			"base %d: total %d is not minimal", base, b.TotalCents)
	}
}

func TestResaleSplitIsExact(t *testing.T) {
	for _, amount := range []int64{1, 2, 19, 100, 2999, 10000, 1000000} {
		fee, seller := ResaleSplit(amount)

		assert.Equalf(t, amount, fee+seller, "amount %d must split exactly", amount)
		assert.GreaterOrEqual(t, fee, int64(1))
		assert.GreaterOrEqual(t, seller, int64(0))
	}
}

func TestResaleSplitBoundaries(t *testing.T) {
	fee, seller := ResaleSplit(1)
	assert.Equal(t, int64(1), fee)
	assert.Equal(t, int64(0), seller)

	fee, seller = ResaleSplit(1000000)
	assert.Equal(t, int64(50000), fee)
	assert.Equal(t, int64(950000), seller)

	fee, seller = ResaleSplit(0)
	assert.Zero(t, fee)
	assert.Zero(t, seller)
}
