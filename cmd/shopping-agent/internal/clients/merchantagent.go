// Package clients holds the Shopping Agent's outbound clients to every
// sibling service it composes: signed-A2A-envelope clients for agent
// peers and plain REST clients for the Merchant, Credential Provider,
// and challenge-resume endpoints, all built on
// internal/httpclient.Client.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
	"github.com/ap2-labs/ap2-reference/internal/risk"
)

// MerchantAgentClient forwards IntentMandates and PaymentMandates to the
// Merchant Agent as signed A2A envelopes.
type MerchantAgentClient struct {
	http       *httpclient.Client
	baseURL    string
	recipient  string
	msgHandler *a2a.MessageHandler
}

func NewMerchantAgentClient(baseURL, recipientDID string, msgHandler *a2a.MessageHandler) *MerchantAgentClient {
	return &MerchantAgentClient{
		http:       httpclient.NewClient("merchant-agent", 20*time.Second),
		baseURL:    baseURL,
		recipient:  recipientDID,
		msgHandler: msgHandler,
	}
}

// SubmitIntent sends the user-signed IntentMandate and returns the
// candidate cart Artifacts the Merchant Agent generated.
func (c *MerchantAgentClient) SubmitIntent(ctx context.Context, intent ap2.IntentMandate) ([]*a2a.Artifact, error) {
	outbound, err := c.msgHandler.BuildResponse(c.recipient, "ap2.mandates.IntentMandate", map[string]any{
		"intent_mandate": intent,
	}, true)
	if err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to build outbound envelope", nil)
	}

	var inbound a2a.Message
	if err := c.http.PostJSON(ctx, c.baseURL+"/a2a/message", outbound, &inbound); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeEnvelopeError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "merchant agent unreachable", nil)
	}

	if inbound.DataPart.Type == "ap2.errors.Error" {
		return nil, decodeEnvelopePayloadError(inbound.DataPart.Payload)
	}

	var out struct {
		Candidates []*a2a.Artifact `json:"candidates"`
	}
	if err := json.Unmarshal(inbound.DataPart.Payload, &out); err != nil {
		return nil, apperr.New(apperr.InternalError, "malformed cart candidates response", nil)
	}
	return out.Candidates, nil
}

// SubmitPayment bundles the three mandates and forwards them to the
// Merchant Agent, which relays on to the Payment Processor.
func (c *MerchantAgentClient) SubmitPayment(ctx context.Context, payment ap2.PaymentMandate, cart ap2.CartMandate, intent ap2.IntentMandate, riskResult *risk.Result, otp string) (*ap2.TransactionResult, error) {
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

	var inbound a2a.Message
	if err := c.http.PostJSON(ctx, c.baseURL+"/a2a/message", outbound, &inbound); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			return nil, decodeEnvelopeError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "merchant agent unreachable", nil)
	}

	if inbound.DataPart.Type == "ap2.errors.Error" {
		return nil, decodeEnvelopePayloadError(inbound.DataPart.Payload)
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
		return decodeEnvelopePayloadError(msg.DataPart.Payload)
	}
	return apperr.New(apperr.InternalError, "sibling agent request failed", map[string]any{"status": httpErr.StatusCode})
}

func decodeEnvelopePayloadError(payload json.RawMessage) error {
	var appErr apperr.Error
	if err := json.Unmarshal(payload, &appErr); err != nil || appErr.ErrCode == "" {
		return apperr.New(apperr.InternalError, "sibling agent returned an unrecognized error", nil)
	}
	return &appErr
}
