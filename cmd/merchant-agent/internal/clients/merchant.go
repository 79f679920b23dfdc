// Package clients holds the Merchant Agent's outbound clients to the
// sibling services it composes: a plain REST client to the Merchant
// (catalog lookup and cart signing) and a signed-A2A-envelope client to
// the Payment Processor, both built on internal/httpclient.Client for
// the retry/backoff behavior every other role's outbound client uses.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
	"github.com/ap2-labs/ap2-reference/internal/money"
)

// Product mirrors the Merchant's catalog wire shape
// (cmd/merchant/internal/store.Product). The Merchant Agent cannot
// import that package directly (it sits under the Merchant's own
// internal/ tree), so it keeps its own copy of the shape it consumes
// over HTTP.
type Product struct {
	SKU            string       `json:"sku"`
	Name           string       `json:"name"`
	Category       string       `json:"category"`
	Brand          string       `json:"brand"`
	UnitPrice      money.Amount `json:"unit_price"`
	InventoryCount int          `json:"inventory_count"`
	PopularityRank int          `json:"popularity_rank"`
}

// SignCartResult mirrors the Merchant's {status, payload, reject_reason}
// sign-cart response shape.
type SignCartResult struct {
	Status       string          `json:"status"`
	Payload      ap2.CartMandate `json:"payload"`
	RejectReason string          `json:"reject_reason,omitempty"`
}

// MerchantClient talks to one merchant's REST surface.
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

// ListProducts fetches the merchant's catalog, used by candidate
// generation to match intent text/constraints against inventory.
func (c *MerchantClient) ListProducts(ctx context.Context) ([]Product, error) {
	var out struct {
		Products []Product `json:"products"`
	}
	if err := c.http.GetJSON(ctx, c.baseURL+"/products", &out); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeRESTError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "merchant unreachable", nil)
	}
	return out.Products, nil
}

// SignCart requests a merchant signature for an unsigned candidate cart.
func (c *MerchantClient) SignCart(ctx context.Context, cart ap2.CartMandate) (*SignCartResult, error) {
	reqBody := map[string]any{"cart_mandate": cart}
	var result SignCartResult
	if err := c.http.PostJSON(ctx, c.baseURL+"/sign/cart", reqBody, &result); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeRESTError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "merchant unreachable", nil)
	}
	return &result, nil
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
