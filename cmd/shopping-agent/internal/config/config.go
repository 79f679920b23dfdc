package config

import (
	"fmt"
	"time"

	sharedconfig "github.com/ap2-labs/ap2-reference/internal/config"
)

// Config holds the Shopping Agent's settings: the sibling-service
// endpoints it composes (MA, Merchant, CP, PP) and the cart-selection
// polling parameters.
type Config struct {
	sharedconfig.Base
	BaseURL               string
	DID                   string
	DefaultUserID         string
	MerchantAgentDID      string
	MerchantAgentURL      string
	MerchantURL           string
	CredentialProviderURL string
	PaymentProcessorURL   string
	CartPollInterval      time.Duration
	CartPollTimeout       time.Duration
	IntentTTL             time.Duration
}

func Load() Config {
	base := sharedconfig.LoadBase("8081")
	return Config{
		Base:                  base,
		BaseURL:               sharedconfig.GetEnv("BASE_URL", fmt.Sprintf("http://localhost:%s", base.Port)),
		DID:                   sharedconfig.GetEnv("SA_DID", "did:ap2:agent:shopping-agent"),
		DefaultUserID:         sharedconfig.GetEnv("DEFAULT_USER_ID", "demo-user"),
		MerchantAgentDID:      sharedconfig.GetEnv("MERCHANT_AGENT_DID", "did:ap2:agent:merchant-agent"),
		MerchantAgentURL:      sharedconfig.GetEnv("MERCHANT_AGENT_URL", "http://localhost:8083"),
		MerchantURL:           sharedconfig.GetEnv("MERCHANT_URL", "http://localhost:8082"),
		CredentialProviderURL: sharedconfig.GetEnv("CREDENTIAL_PROVIDER_URL", "http://localhost:8084"),
		PaymentProcessorURL:   sharedconfig.GetEnv("PAYMENT_PROCESSOR_URL", "http://localhost:8085"),
		CartPollInterval:      sharedconfig.GetEnvDuration("CART_POLL_INTERVAL", 2*time.Second),
		CartPollTimeout:       sharedconfig.GetEnvDuration("CART_POLL_TIMEOUT", 300*time.Second),
		IntentTTL:             sharedconfig.GetEnvDuration("INTENT_TTL", 30*time.Minute),
	}
}
