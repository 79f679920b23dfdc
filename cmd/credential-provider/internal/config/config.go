package config

import (
	"fmt"

	sharedconfig "github.com/ap2-labs/ap2-reference/internal/config"
)

// Config holds the Credential Provider's settings, including the
// high-risk OTP threshold (default 60).
type Config struct {
	sharedconfig.Base
	BaseURL           string
	DID               string
	ProviderID        string
	HighRiskThreshold int
}

func Load() Config {
	base := sharedconfig.LoadBase("8084")
	return Config{
		Base:              base,
		BaseURL:           sharedconfig.GetEnv("BASE_URL", fmt.Sprintf("http://localhost:%s", base.Port)),
		DID:               sharedconfig.GetEnv("CP_DID", "did:ap2:agent:credential-provider"),
		ProviderID:        sharedconfig.GetEnv("PROVIDER_ID", "cp-reference-1"),
		HighRiskThreshold: sharedconfig.GetEnvInt("HIGH_RISK_THRESHOLD", 60),
	}
}
