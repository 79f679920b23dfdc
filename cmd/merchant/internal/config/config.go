package config

import (
	"fmt"
	"time"

	sharedconfig "github.com/ap2-labs/ap2-reference/internal/config"
)

// Config holds the Merchant's settings.
type Config struct {
	sharedconfig.Base
	BaseURL        string
	DID            string
	MerchantID     string
	MerchantName   string
	ManualApproval bool
	TrustScore     float64
	MaxCartTTL     time.Duration
	SweepInterval  time.Duration
}

func Load() Config {
	base := sharedconfig.LoadBase("8082")
	return Config{
		Base:           base,
		BaseURL:        sharedconfig.GetEnv("BASE_URL", fmt.Sprintf("http://localhost:%s", base.Port)),
		DID:            sharedconfig.GetEnv("MERCHANT_DID", "did:ap2:merchant:merchant_test_001"),
		MerchantID:     sharedconfig.GetEnv("MERCHANT_ID", "merchant_test_001"),
		MerchantName:   sharedconfig.GetEnv("MERCHANT_NAME", "Test Running Co."),
		ManualApproval: sharedconfig.GetEnv("MANUAL_APPROVAL", "false") == "true",
		TrustScore:     sharedconfig.GetEnvFloat("MERCHANT_TRUST_SCORE", 0.8),
		MaxCartTTL:     sharedconfig.GetEnvDuration("MAX_CART_TTL", time.Hour),
		SweepInterval:  sharedconfig.GetEnvDuration("SWEEP_INTERVAL", 30*time.Second),
	}
}
