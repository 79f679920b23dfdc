// Package httpapi exposes the Merchant Agent's A2A handler table:
// IntentMandate, ProductSearch, CartRequest, CartSelection, and
// PaymentMandate, dispatched behind the same A2AMessage/
// respondEnvelopeError pair the other role services use.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/agentcard"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	apihelpers "github.com/ap2-labs/ap2-reference/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/internal/risk"
)

type Handlers struct {
	msgHandler *a2a.MessageHandler
	baseURL    string
}

func NewHandlers(msgHandler *a2a.MessageHandler, baseURL string) *Handlers {
	return &Handlers{msgHandler: msgHandler, baseURL: baseURL}
}

// A2AMessage handles POST /a2a/message: verify, dispatch by
// dataPart.type, wrap the result in a signed response envelope.
func (h *Handlers) A2AMessage(w http.ResponseWriter, r *http.Request) {
	var msg a2a.Message
	if err := apihelpers.DecodeJSON(r, &msg); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	ctx := r.Context()
	if err := h.msgHandler.VerifyMessage(ctx, &msg); err != nil {
		h.respondEnvelopeError(w, r, msg.Header.Sender, err)
		return
	}

	result, err := h.msgHandler.Dispatch(ctx, &msg)
	if err != nil {
		h.respondEnvelopeError(w, r, msg.Header.Sender, err)
		return
	}

	responseType := responseTypeFor(msg.DataPart.Type)
	resp, err := h.msgHandler.BuildResponse(msg.Header.Sender, responseType, result, true)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, resp)
}

// responseTypeFor maps an inbound request type to the response dataPart
// type this role returns for it.
func responseTypeFor(requestType string) string {
	switch requestType {
	case "ap2.mandates.IntentMandate", "ap2.requests.CartRequest":
		return "ap2.responses.CartCandidates"
	case "ap2.requests.ProductSearch":
		return "ap2.responses.ProductList"
	case "ap2.requests.CartSelection":
		return "ap2.responses.Acknowledgement"
	case "ap2.mandates.PaymentMandate":
		return "ap2.responses.PaymentResult"
	default:
		return "ap2.responses.Acknowledgement"
	}
}

func (h *Handlers) respondEnvelopeError(w http.ResponseWriter, r *http.Request, sender string, err error) {
	var appErr *apperr.Error
	status := http.StatusInternalServerError
	code := apperr.InternalError
	if errors.As(err, &appErr) {
		status = appErr.ErrCode.HTTPStatus()
		code = appErr.ErrCode
	} else {
		slog.ErrorContext(r.Context(), "unhandled a2a dispatch error", "error", err)
	}
	resp, buildErr := h.msgHandler.BuildErrorResponse(sender, code, err.Error(), nil)
	if buildErr != nil {
		apihelpers.RespondJSON(w, status, apperr.New(code, err.Error(), nil))
		return
	}
	apihelpers.RespondJSON(w, status, resp)
}

// NewIntentMandateHandler builds the a2a.Handler registered for
// "ap2.mandates.IntentMandate": the shopper's signed intent triggers
// candidate-cart generation.
func NewIntentMandateHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			Intent ap2.IntentMandate `json:"intent_mandate"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed IntentMandate payload", nil)
		}
		artifacts, err := svc.GenerateCandidates(ctx, req.Intent)
		if err != nil {
			return nil, err
		}
		return map[string]any{"candidates": artifacts}, nil
	}
}

// NewCartRequestHandler builds the a2a.Handler registered for
// "ap2.requests.CartRequest": behaves like the IntentMandate handler,
// generating candidates from the full product set matching the intent.
func NewCartRequestHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			Intent ap2.IntentMandate `json:"intent_mandate"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed CartRequest payload", nil)
		}
		artifacts, err := svc.GenerateCandidates(ctx, req.Intent)
		if err != nil {
			return nil, err
		}
		return map[string]any{"candidates": artifacts}, nil
	}
}

// NewProductSearchHandler builds the a2a.Handler registered for
// "ap2.requests.ProductSearch": a direct catalog lookup, bypassing
// candidate-cart generation.
func NewProductSearchHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		products, err := svc.SearchProducts(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"products": products}, nil
	}
}

// NewCartSelectionHandler builds the a2a.Handler registered for
// "ap2.requests.CartSelection": the shopper informs the Merchant Agent
// which candidate it picked. The Merchant Agent keeps no server-side
// selection state (each candidate cart is already fully signed by the
// time it is offered), so this is an acknowledgment logged for
// observability.
func NewCartSelectionHandler() a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			CartMandateID string `json:"cart_mandate_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed CartSelection payload", nil)
		}
		slog.InfoContext(ctx, "shopping agent selected a candidate cart", "cart_mandate_id", req.CartMandateID, "from", from)
		return map[string]any{"acknowledged": true, "cart_mandate_id": req.CartMandateID}, nil
	}
}

// NewPaymentMandateHandler builds the a2a.Handler registered for
// "ap2.mandates.PaymentMandate": relay the shopper's assembled payment,
// cart, and intent mandates on to the Payment Processor.
func NewPaymentMandateHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			Payment ap2.PaymentMandate `json:"payment_mandate"`
			Cart    ap2.CartMandate    `json:"cart_mandate"`
			Intent  ap2.IntentMandate  `json:"intent_mandate"`
			Risk    *risk.Result       `json:"risk_result,omitempty"`
			OTP     string             `json:"otp,omitempty"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed PaymentMandate payload", nil)
		}
		return svc.ForwardPayment(ctx, req.Payment, req.Cart, req.Intent, req.Risk, req.OTP)
	}
}

// AgentCard serves /.well-known/agent-card.json.
func (h *Handlers) AgentCard(w http.ResponseWriter, r *http.Request) {
	card := agentcard.BuildCard("merchant-agent", "AP2 merchant agent", h.baseURL, []string{"merchant-agent"}, []agentcard.Skill{
		{ID: "generate_cart_candidates", Name: "Generate cart candidates"},
		{ID: "forward_payment", Name: "Forward payment mandate to processor"},
	})
	apihelpers.RespondJSON(w, http.StatusOK, card)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	apihelpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
