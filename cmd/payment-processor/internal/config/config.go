// Package config holds the Payment Processor's settings.
package config

import (
	"fmt"

	sharedconfig "github.com/ap2-labs/ap2-reference/internal/config"
)

// Config holds the settings the Payment Processor needs in addition to
// the shared Base: its own DID, the Credential Provider's base URL, and
// the optional internal bearer-token check on /a2a/message.
type Config struct {
	sharedconfig.Base
	BaseURL               string
	DID                   string
	CredentialProviderURL string
	InternalAuthToken     string // empty disables the check (default)
}

func Load() Config {
	base := sharedconfig.LoadBase("8085")
	return Config{
		Base:                  base,
		BaseURL:               sharedconfig.GetEnv("BASE_URL", fmt.Sprintf("http://localhost:%s", base.Port)),
		DID:                   sharedconfig.GetEnv("PP_DID", "did:ap2:agent:payment-processor"),
		CredentialProviderURL: sharedconfig.GetEnv("CREDENTIAL_PROVIDER_URL", "http://localhost:8084"),
		InternalAuthToken:     sharedconfig.GetEnv("INTERNAL_AUTH_TOKEN", ""),
	}
}
