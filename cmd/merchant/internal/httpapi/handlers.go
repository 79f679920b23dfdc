// Package httpapi exposes the Merchant's sign-cart operation over
// both plain REST (POST /sign/cart plus the cart-mandate lookup and
// operator endpoints) and the A2A envelope (CartMandate sign
// requests).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/service"
	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/store"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/agentcard"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/didresolver"
	apihelpers "github.com/ap2-labs/ap2-reference/internal/httpapi"
)

type Handlers struct {
	svc        *service.Service
	msgHandler *a2a.MessageHandler
	baseURL    string
	registry   *didresolver.MerchantRegistry
	selfDID    string
}

func NewHandlers(svc *service.Service, msgHandler *a2a.MessageHandler, baseURL string, registry *didresolver.MerchantRegistry, selfDID string) *Handlers {
	return &Handlers{svc: svc, msgHandler: msgHandler, baseURL: baseURL, registry: registry, selfDID: selfDID}
}

// ListProducts handles GET /products, letting the Merchant Agent mirror
// this merchant's catalog when assembling cart candidates.
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	apihelpers.RespondJSON(w, http.StatusOK, map[string]any{"products": h.svc.Products()})
}

// SignCart handles POST /sign/cart.
func (h *Handlers) SignCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Cart ap2.CartMandate `json:"cart_mandate"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	rec, err := h.svc.SignCart(r.Context(), req.Cart)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, recordResponse(rec))
}

// GetCartMandate handles GET /cart-mandates/{id}.
func (h *Handlers) GetCartMandate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := h.svc.GetCart(id)
	if !ok {
		apihelpers.RespondError(w, r, apperr.New(apperr.InvalidRequest, "unknown cart_mandate_id", nil))
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, recordResponse(rec))
}

// ApproveCart handles POST /cart-mandates/{id}/approve: the operator's
// out-of-band decision that signs a cart left pending_merchant_signature
// in manual-approval mode.
func (h *Handlers) ApproveCart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.svc.Approve(r.Context(), id)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, recordResponse(rec))
}

// RejectCart handles POST /cart-mandates/{id}/reject, releasing the
// cart's inventory reservation.
func (h *Handlers) RejectCart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	rec, err := h.svc.Reject(r.Context(), id, req.Reason)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, recordResponse(rec))
}

func recordResponse(rec *store.CartRecord) map[string]any {
	resp := map[string]any{"status": rec.Status, "payload": rec.Cart}
	if rec.RejectReason != "" {
		resp["reject_reason"] = rec.RejectReason
	}
	return resp
}

// A2AMessage handles POST /a2a/message.
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

	resp, err := h.msgHandler.BuildResponse(msg.Header.Sender, "ap2.responses.SignedCartMandate", result, true)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, resp)
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

// NewCartMandateHandler builds the a2a.Handler registered for
// "ap2.mandates.CartMandate": the Merchant Agent's sign
// request for one candidate cart. The result carries
// pending_merchant_signature when the merchant runs in manual-approval
// mode, rather than a rejection.
func NewCartMandateHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			Cart ap2.CartMandate `json:"cart_mandate"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed CartMandate payload", nil)
		}
		rec, err := svc.SignCart(ctx, req.Cart)
		if err != nil {
			return nil, err
		}
		return recordResponse(rec), nil
	}
}

// AgentCard serves /.well-known/agent-card.json. The merchant's
// registry row contributes its read-only trust_score to the AP2
// extension params.
func (h *Handlers) AgentCard(w http.ResponseWriter, r *http.Request) {
	card := agentcard.BuildCard("merchant", "AP2 merchant", h.baseURL, []string{"merchant"}, []agentcard.Skill{
		{ID: "sign_cart", Name: "Sign cart mandate"},
	})
	if h.registry != nil {
		if rec, ok := h.registry.Get(h.selfDID); ok {
			card.Capabilities.Extensions[0].Params["trust_score"] = rec.TrustScore
		}
	}
	apihelpers.RespondJSON(w, http.StatusOK, card)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	apihelpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
