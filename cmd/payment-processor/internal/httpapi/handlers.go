// Package httpapi exposes the Payment Processor over HTTP. The role
// is handler-only: the sole transactional entry point is POST
// /a2a/message carrying a PaymentMandate dataPart, and capture is
// chained internally after a successful authorization rather than
// invoked over a separate endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ap2-labs/ap2-reference/cmd/payment-processor/internal/service"
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
	svc        *service.Service
}

func NewHandlers(msgHandler *a2a.MessageHandler, baseURL string, svc *service.Service) *Handlers {
	return &Handlers{msgHandler: msgHandler, baseURL: baseURL, svc: svc}
}

// A2AMessage handles POST /a2a/message: verifies the envelope, dispatches
// by dataPart.type, and wraps the handler's result (or error) in a
// signed response envelope.
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

	resp, err := h.msgHandler.BuildResponse(msg.Header.Sender, "ap2.responses.PaymentResult", result, true)
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

// AgentCard serves /.well-known/agent-card.json.
func (h *Handlers) AgentCard(w http.ResponseWriter, r *http.Request) {
	card := agentcard.BuildCard("payment-processor", "AP2 payment processor", h.baseURL, []string{"payment-processor"}, []agentcard.Skill{
		{ID: "authorize_payment", Name: "Authorize payment mandate"},
		{ID: "capture_payment", Name: "Capture authorized payment"},
		{ID: "refund_payment", Name: "Refund captured payment"},
	})
	apihelpers.RespondJSON(w, http.StatusOK, card)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	apihelpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// CompleteChallenge handles POST /challenges/{id}/complete: the Shopping
// Agent resumes a transaction that previously returned ChallengeRequired
// by supplying the one-time password. This is the one Payment Processor operation with no
// natural inbound A2A dataPart.type of its own, so it is exposed as a
// plain REST endpoint, the same way the Merchant exposes cart-mandate
// lookup alongside its A2A handler table.
func (h *Handlers) CompleteChallenge(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("id")
	var req struct {
		OTP string `json:"otp"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	result, err := h.svc.CompleteChallenge(r.Context(), transactionID, req.OTP)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	if result.Status == "AUTHORIZED" {
		captured, err := h.svc.Capture(r.Context(), result.TransactionID)
		if err != nil {
			apihelpers.RespondError(w, r, err)
			return
		}
		result = captured
	}
	apihelpers.RespondJSON(w, http.StatusOK, result)
}

// PaymentMandateRequest is the dataPart.payload shape for an
// "ap2.mandates.PaymentMandate" authorization request: the payment
// mandate plus the cart and intent mandates it chains to (the Payment
// Processor has no independent view of carts/intents, so the caller
// supplies the full chain), an optional pre-computed risk result, and
// an optional OTP for a resumed challenge.
type PaymentMandateRequest struct {
	Payment ap2.PaymentMandate `json:"payment_mandate"`
	Cart    ap2.CartMandate    `json:"cart_mandate"`
	Intent  ap2.IntentMandate  `json:"intent_mandate"`
	Risk    *risk.Result       `json:"risk_result,omitempty"`
	OTP     string             `json:"otp,omitempty"`
}

// NewPaymentMandateHandler builds the a2a.Handler bound to svc,
// registered for "ap2.mandates.PaymentMandate". On a successful
// authorization it immediately captures; a ChallengeRequired or FAILED
// outcome is returned as-is.
func NewPaymentMandateHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req PaymentMandateRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed PaymentMandate payload", nil)
		}

		riskResult := risk.Result{}
		if req.Risk != nil {
			riskResult = *req.Risk
		} else if req.Payment.RiskScore != nil {
			riskResult.RiskScore = *req.Payment.RiskScore
		}

		result, err := svc.Authorize(ctx, req.Payment, req.Cart, req.Intent, riskResult, req.OTP)
		if err != nil {
			return nil, err
		}
		if result.Status != "AUTHORIZED" {
			return result, nil
		}

		captured, err := svc.Capture(ctx, result.TransactionID)
		if err != nil {
			return nil, err
		}
		return captured, nil
	}
}
