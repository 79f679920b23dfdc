package clients

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
)

// CartMandateRecord mirrors the Merchant's {status, payload,
// reject_reason} cart-mandate response shape.
type CartMandateRecord struct {
	Status       string          `json:"status"`
	Payload      ap2.CartMandate `json:"payload"`
	RejectReason string          `json:"reject_reason,omitempty"`
}

// MerchantClient polls a merchant's plain REST surface for the outcome
// of a manual-approval cart signature.
type MerchantClient struct {
	http    *httpclient.Client
	baseURL string
}

func NewMerchantClient(baseURL string) *MerchantClient {
	return &MerchantClient{
		http:    httpclient.NewClient("merchant", 10*time.Second),
		baseURL: baseURL,
	}
}

// GetCartMandate fetches the current status of a cart mandate awaiting
// merchant signature.
func (c *MerchantClient) GetCartMandate(ctx context.Context, cartMandateID string) (*CartMandateRecord, error) {
	var rec CartMandateRecord
	if err := c.http.GetJSON(ctx, c.baseURL+"/cart-mandates/"+cartMandateID, &rec); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeRESTError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "merchant unreachable", nil)
	}
	return &rec, nil
}

// decodeRESTError unwraps a sibling service's *apperr.Error JSON body
// (the shape internal/httpapi.RespondError writes) out of an
// httpclient.HTTPError.
func decodeRESTError(httpErr *httpclient.HTTPError) error {
	var appErr apperr.Error
	if err := json.Unmarshal(httpErr.Body, &appErr); err != nil || appErr.ErrCode == "" {
		return apperr.New(apperr.InternalError, "sibling service request failed", map[string]any{"status": httpErr.StatusCode})
	}
	return &appErr
}
