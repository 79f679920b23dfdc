// Package httpapi exposes the Shopping Agent's checkout entry point
// and its inbound A2A handler table. The inbound handlers are
// acknowledgment-only: the Shopping Agent already tracks cart and
// signature state itself via the synchronous client calls in
// internal/service, so out-of-band pushes are logged, not re-driven
// into the checkout flow.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/agentcard"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	apihelpers "github.com/ap2-labs/ap2-reference/internal/httpapi"
	"github.com/ap2-labs/ap2-reference/internal/money"
)

type Handlers struct {
	msgHandler *a2a.MessageHandler
	baseURL    string
	svc        *service.Service
}

func NewHandlers(msgHandler *a2a.MessageHandler, baseURL string, svc *service.Service) *Handlers {
	return &Handlers{msgHandler: msgHandler, baseURL: baseURL, svc: svc}
}

// checkoutRequest is the wire shape of POST /checkout.
type checkoutRequest struct {
	UserID          string        `json:"user_id,omitempty"`
	Intent          string        `json:"intent"`
	MaxAmount       *money.Amount `json:"max_amount,omitempty"`
	Categories      []string      `json:"categories,omitempty"`
	Brands          []string      `json:"brands,omitempty"`
	Merchants       []string      `json:"merchants,omitempty"`
	SKUs            []string      `json:"skus,omitempty"`
	MaxTransactions int           `json:"max_transactions,omitempty"`
	MethodID        string        `json:"method_id,omitempty"`
}

// Checkout handles POST /checkout: run one full checkout and return the
// collected chat-stream events plus the final transaction result as a
// single JSON response. The flow itself runs as an internal
// channel-emitting goroutine (internal/service.Service.Checkout); this
// handler's only job is to drain that channel into a response.
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	events, err := h.svc.Checkout(r.Context(), service.CheckoutRequest{
		UserID:          req.UserID,
		Intent:          req.Intent,
		MaxAmount:       req.MaxAmount,
		Categories:      req.Categories,
		Brands:          req.Brands,
		Merchants:       req.Merchants,
		SKUs:            req.SKUs,
		MaxTransactions: req.MaxTransactions,
		MethodID:        req.MethodID,
	})
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	apihelpers.RespondJSON(w, http.StatusOK, map[string]any{"events": drain(events)})
}

// CompleteChallenge handles POST /challenges/{id}/complete: a thin
// passthrough to the Payment Processor so a caller only ever needs to
// know the Shopping Agent's address.
func (h *Handlers) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("id")
	var req struct {
		OTP string `json:"otp"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	events, err := h.svc.CompleteChallenge(r.Context(), transactionID, req.OTP)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, map[string]any{"events": drain(events)})
}

func drain(events <-chan service.Event) []service.Event {
	collected := make([]service.Event, 0, 8)
	for ev := range events {
		collected = append(collected, ev)
	}
	return collected
}

// NewCartMandateHandler builds the a2a.Handler registered for
// "ap2.mandates.CartMandate": an inbound notification that a merchant
// has countersigned a cart the Shopping Agent already holds. The
// Shopping Agent's own cart-selection polling already
// discovers this outcome synchronously, so an out-of-band push is
// logged for observability rather than re-driving the checkout.
func NewCartMandateHandler() a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			Cart ap2.CartMandate `json:"cart_mandate"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed CartMandate payload", nil)
		}
		slog.InfoContext(ctx, "received cart mandate notification", "cart_mandate_id", req.Cart.ID, "from", from)
		return map[string]any{"acknowledged": true, "cart_mandate_id": req.Cart.ID}, nil
	}
}

// NewProductListHandler builds the a2a.Handler registered for
// "ap2.responses.ProductList": an unsolicited catalog push from a
// merchant agent the Shopping Agent has not queried directly.
func NewProductListHandler() a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			Products []map[string]any `json:"products"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed ProductList payload", nil)
		}
		slog.InfoContext(ctx, "received product list", "count", len(req.Products), "from", from)
		return map[string]any{"acknowledged": true, "count": len(req.Products)}, nil
	}
}

// NewSignatureResponseHandler builds the a2a.Handler registered for
// "ap2.responses.SignatureResponse": the off-band WebAuthn/passkey
// signature result, when a caller chooses to route it back through the
// A2A envelope rather than attaching it directly to the checkout request.
func NewSignatureResponseHandler() a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			MandateID string `json:"mandate_id"`
			Signature ap2.Signature `json:"signature"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed SignatureResponse payload", nil)
		}
		slog.InfoContext(ctx, "received signature response", "mandate_id", req.MandateID, "from", from)
		return map[string]any{"acknowledged": true, "mandate_id": req.MandateID}, nil
	}
}

// A2AMessage handles POST /a2a/message for the three inbound types
// above.
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

	resp, err := h.msgHandler.BuildResponse(msg.Header.Sender, "ap2.responses.Acknowledgement", result, true)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) respondEnvelopeError(w http.ResponseWriter, r *http.Request, sender string, err error) {
	var appErr *apperr.Error
	code := apperr.InternalError
	status := http.StatusInternalServerError
	if errors.As(err, &appErr) {
		code = appErr.ErrCode
		status = code.HTTPStatus()
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

// AgentCard serves /.well-known/agent-card.json.
func (h *Handlers) AgentCard(w http.ResponseWriter, r *http.Request) {
	card := agentcard.BuildCard("shopping-agent", "AP2 shopping agent", h.baseURL, []string{"shopping-agent"}, []agentcard.Skill{
		{ID: "checkout", Name: "Run an end-to-end checkout"},
		{ID: "complete_challenge", Name: "Resume an OTP-gated transaction"},
	})
	apihelpers.RespondJSON(w, http.StatusOK, card)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	apihelpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
