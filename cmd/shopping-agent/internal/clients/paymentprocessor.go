package clients

import (
	"context"
	"errors"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
)

// PaymentProcessorClient talks directly to the Payment Processor's one
// plain REST operation, bypassing the Merchant Agent relay: resuming a
// transaction that previously returned ChallengeRequired with a
// supplied one-time password. Every other Payment Processor interaction arrives only as an A2A
// envelope via the Merchant Agent, so this
// client exists solely for the resume path.
type PaymentProcessorClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewPaymentProcessorClient(baseURL string) *PaymentProcessorClient {
	return &PaymentProcessorClient{
		http:    httpclient.NewClient("payment-processor", 15*time.Second),
		baseURL: baseURL,
	}
}

// CompleteChallenge submits the OTP for a pending transaction.
func (c *PaymentProcessorClient) CompleteChallenge(ctx context.Context, transactionID, otp string) (*ap2.TransactionResult, error) {
	var result ap2.TransactionResult
	reqBody := map[string]any{"otp": otp}
	if err := c.http.PostJSON(ctx, c.baseURL+"/challenges/"+transactionID+"/complete", reqBody, &result); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeRESTError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "payment processor unreachable", nil)
	}
	return &result, nil
}
