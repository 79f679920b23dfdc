package clients

import (
	"context"
	"errors"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
)

// PaymentMethod mirrors the Credential Provider's MethodInfo wire shape
// (cmd/credential-provider/internal/service.MethodInfo); never carries
// a PAN.
type PaymentMethod struct {
	MethodID    string `json:"method_id"`
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	IsDefault   bool   `json:"is_default"`
}

// CredentialProviderClient talks to the Credential Provider's plain
// REST surface.
type CredentialProviderClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewCredentialProviderClient(baseURL string) *CredentialProviderClient {
	return &CredentialProviderClient{
		http:    httpclient.NewClient("credential-provider", 10*time.Second),
		baseURL: baseURL,
	}
}

// ListMethods fetches the user's stored payment methods.
func (c *CredentialProviderClient) ListMethods(ctx context.Context, userID string) ([]PaymentMethod, error) {
	var out struct {
		Methods []PaymentMethod `json:"methods"`
	}
	if err := c.http.GetJSON(ctx, c.baseURL+"/payment-methods?user_id="+userID, &out); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeRESTError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "credential provider unreachable", nil)
	}
	return out.Methods, nil
}

// Tokenize requests a short-lived token for a chosen payment method.
func (c *CredentialProviderClient) Tokenize(ctx context.Context, userID, methodID string) (string, time.Time, error) {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	reqBody := map[string]any{"user_id": userID, "method_id": methodID}
	if err := c.http.PostJSON(ctx, c.baseURL+"/payment-methods/tokenize", reqBody, &out); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return "", time.Time{}, decodeRESTError(httpErr)
		}
		return "", time.Time{}, apperr.New(apperr.InternalError, "credential provider unreachable", nil)
	}
	return out.Token, out.ExpiresAt, nil
}
