package config

import (
	"fmt"
	"time"

	sharedconfig "github.com/ap2-labs/ap2-reference/internal/config"
)

// Config holds the Merchant Agent's settings.
type Config struct {
	sharedconfig.Base
	BaseURL             string
	DID                 string
	MerchantID          string
	MerchantURL         string
	PaymentProcessorDID string
	PaymentProcessorURL string
	InternalAuthToken   string // bearer token for the PP's internal A2A endpoint; empty disables
	CandidateCartTTL    time.Duration
}

func Load() Config {
	base := sharedconfig.LoadBase("8083")
	return Config{
		Base:                base,
		BaseURL:             sharedconfig.GetEnv("BASE_URL", fmt.Sprintf("http://localhost:%s", base.Port)),
		DID:                 sharedconfig.GetEnv("MA_DID", "did:ap2:agent:merchant-agent"),
		MerchantID:          sharedconfig.GetEnv("MERCHANT_ID", "merchant_test_001"),
		MerchantURL:         sharedconfig.GetEnv("MERCHANT_URL", "http://localhost:8082"),
		PaymentProcessorDID: sharedconfig.GetEnv("PAYMENT_PROCESSOR_DID", "did:ap2:agent:payment-processor"),
		PaymentProcessorURL: sharedconfig.GetEnv("PAYMENT_PROCESSOR_URL", "http://localhost:8085"),
		InternalAuthToken:   sharedconfig.GetEnv("INTERNAL_AUTH_TOKEN", ""),
		CandidateCartTTL:    sharedconfig.GetEnvDuration("CANDIDATE_CART_TTL", 30*time.Minute),
	}
}
