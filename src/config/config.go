package config

import (
	"fmt"
	"os"
)

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

// Fee schedule. Rates are basis points and fixed fees are minor currency
// units so the money path never leaves integer arithmetic.
const (
	// Platform cut on primary and favor purchases.
	PLATFORM_FEE_BPS int64 = 500
	// Processor pass-through: 2.9% + 30 minor units per charge.
	PROCESSOR_FEE_BPS   int64 = 290
	PROCESSOR_FIXED_FEE int64 = 30
	// Reserved for a future minting surcharge. Currently always zero.
	MINT_FEE int64 = 0
	// Flat cut on resale purchases. The seller absorbs no processor
	// pass-through on resales.
	RESALE_FEE_BPS int64 = 500

	BPS_DENOMINATOR int64 = 10000
)

const TRANSFER_TOKEN_TTL_MINUTES = 10

const TIME_PARSE_FORMAT = "2006-01-02 15:04:05 -07:00"

// SubscriptionPriceTier maps a provider price id to a local tier. Price ids
// are environment specific so the table is assembled from the environment.
func SubscriptionPriceTier() map[string]string {
	return map[string]string{
		os.Getenv("STRIPE_PRICE_ID_BASE"):       "base",
		os.Getenv("STRIPE_PRICE_ID_PRO"):        "pro",
		os.Getenv("STRIPE_PRICE_ID_ENTERPRISE"): "enterprise",
	}
}
