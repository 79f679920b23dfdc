package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
	"github.com/ap2-labs/ap2-reference/internal/risk"
)

// PaymentProcessorClient forwards a PaymentMandate (with the cart and
// intent mandates it chains to) to the Payment Processor as a signed
// A2A envelope: the Payment Processor is handler-only — all
// transactions arrive as A2A messages, unlike the Merchant's plain
// REST surface.
type PaymentProcessorClient struct {
	http       *httpclient.Client
	baseURL    string
	recipient  string
	msgHandler *a2a.MessageHandler
	auth       httpclient.AuthProvider
}

// NewPaymentProcessorClient builds the client. auth is the optional
// internal bearer token the Payment Processor may require on its
// /a2a/message endpoint; nil disables it.
func NewPaymentProcessorClient(baseURL, recipientDID string, msgHandler *a2a.MessageHandler, auth httpclient.AuthProvider) *PaymentProcessorClient {
	return &PaymentProcessorClient{
		http:       httpclient.NewClient("payment-processor", 15*time.Second),
		baseURL:    baseURL,
		recipient:  recipientDID,
		msgHandler: msgHandler,
		auth:       auth,
	}
}

// Authorize bundles the three mandates (the Payment Processor has no
// independent view of carts/intents) into an "ap2.mandates.PaymentMandate"
// envelope, signs it, and relays the Payment Processor's result.
func (c *PaymentProcessorClient) Authorize(ctx context.Context, payment ap2.PaymentMandate, cart ap2.CartMandate, intent ap2.IntentMandate, riskResult *risk.Result, otp string) (*ap2.TransactionResult, error) {
	payload := map[string]any{
		"payment_mandate": payment,
		"cart_mandate":    cart,
		"intent_mandate":  intent,
	}
	if riskResult != nil {
		payload["risk_result"] = riskResult
	}
	if otp != "" {
		payload["otp"] = otp
	}

	outbound, err := c.msgHandler.BuildResponse(c.recipient, "ap2.mandates.PaymentMandate", payload, true)
	if err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to build outbound envelope", nil)
	}

	req, err := httpclient.NewRequest(http.MethodPost, c.baseURL).
		Path("/a2a/message").
		JSON(outbound).
		Context(ctx).
		Build()
	if err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to build payment processor request", nil)
	}
	if c.auth != nil {
		if err := c.auth.Apply(req); err != nil {
			return nil, apperr.New(apperr.InternalError, "failed to apply internal auth", nil)
		}
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, apperr.New(apperr.InternalError, "payment processor unreachable", nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, decodeEnvelopeError(&httpclient.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body})
	}

	var inbound a2a.Message
	if err := json.NewDecoder(resp.Body).Decode(&inbound); err != nil {
		return nil, apperr.New(apperr.InternalError, "malformed payment processor response", nil)
	}

	if inbound.DataPart.Type == "ap2.errors.Error" {
		var appErr apperr.Error
		if err := json.Unmarshal(inbound.DataPart.Payload, &appErr); err != nil || appErr.ErrCode == "" {
			return nil, apperr.New(apperr.InternalError, "payment processor returned an unrecognized error", nil)
		}
		return nil, &appErr
	}

	var result ap2.TransactionResult
	if err := json.Unmarshal(inbound.DataPart.Payload, &result); err != nil {
		return nil, apperr.New(apperr.InternalError, "malformed payment result", nil)
	}
	return &result, nil
}

// decodeEnvelopeError unwraps the ap2.errors.Error dataPart carried in a
// 4xx A2A error envelope response.
func decodeEnvelopeError(httpErr *httpclient.HTTPError) error {
	var msg a2a.Message
	if err := json.Unmarshal(httpErr.Body, &msg); err == nil && msg.DataPart.Type == "ap2.errors.Error" {
		var appErr apperr.Error
		if err := json.Unmarshal(msg.DataPart.Payload, &appErr); err == nil && appErr.ErrCode != "" {
			return &appErr
		}
	}
	return apperr.New(apperr.InternalError, "payment processor request failed", map[string]any{"status": httpErr.StatusCode})
}
