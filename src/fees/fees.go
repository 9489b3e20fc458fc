// Package fees holds the fee schedule arithmetic shared by the intent
// issuers and the server-side amount validation. Every amount is an int64 in
// minor currency units; the same formula runs on the client, so results must
// match to the cent with no tolerance.
package fees

import "etix/src/config"

type Breakdown struct {
	BaseCents         int64 `json:"base_cents"`
	PlatformFeeCents  int64 `json:"platform_fee_cents"`
	ProcessorFeeCents int64 `json:"processor_fee_cents"`
	ServiceFeeCents   int64 `json:"service_fee_cents"`
	TotalCents        int64 `json:"total_cents"`
}

// ceilDiv rounds the quotient of two positive integers up.
func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Compute derives the full charge breakdown for a base amount. The total is
// the smallest integer such that after the processor deducts its percentage
// plus fixed fee from it, at least base + platform fee + mint fee remains.
func Compute(baseCents int64) Breakdown {
	if baseCents <= 0 {
		return Breakdown{}
	}
	platformFee := ceilDiv(baseCents*config.PLATFORM_FEE_BPS, config.BPS_DENOMINATOR)
	subtotal := baseCents + platformFee + config.MINT_FEE

	// total - total*rate - fixed >= subtotal, solved for the least total:
	// total = ceil((subtotal + fixed) / (1 - rate)).
	numerator := (subtotal + config.PROCESSOR_FIXED_FEE) * config.BPS_DENOMINATOR
	denominator := config.BPS_DENOMINATOR - config.PROCESSOR_FEE_BPS
	total := ceilDiv(numerator, denominator)

	processorFee := total - subtotal
	return Breakdown{
		BaseCents:         baseCents,
		PlatformFeeCents:  platformFee,
		ProcessorFeeCents: processorFee,
		ServiceFeeCents:   platformFee + processorFee + config.MINT_FEE,
		TotalCents:        total,
	}
}

// ResaleSplit divides a resale price between platform and seller. Resales
// take a flat platform cut with no processor pass-through; the two parts
// always sum to the full amount.
func ResaleSplit(amountCents int64) (platformFeeCents int64, sellerAmountCents int64) {
	if amountCents <= 0 {
		return 0, 0
	}
	platformFeeCents = ceilDiv(amountCents*config.RESALE_FEE_BPS, config.BPS_DENOMINATOR)
	sellerAmountCents = amountCents - platformFeeCents
	return platformFeeCents, sellerAmountCents
}
