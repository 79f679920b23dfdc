// Package httpapi exposes the Credential Provider's operations over
// HTTP. Credential requests also arrive over the A2A envelope as
// PaymentMandate messages; POST /a2a/message dispatches alongside the
// plain REST endpoints used by the Shopping Agent's
// tokenization/listing calls.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/service"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/agentcard"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	apihelpers "github.com/ap2-labs/ap2-reference/internal/httpapi"
)

type Handlers struct {
	svc        *service.Service
	msgHandler *a2a.MessageHandler
	baseURL    string
}

func NewHandlers(svc *service.Service, msgHandler *a2a.MessageHandler, baseURL string) *Handlers {
	return &Handlers{svc: svc, msgHandler: msgHandler, baseURL: baseURL}
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

	resp, err := h.msgHandler.BuildResponse(msg.Header.Sender, "ap2.responses.Acknowledgement", result, true)
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

// NewPaymentMandateHandler builds the a2a.Handler registered for
// "ap2.mandates.PaymentMandate": a credential request
// carrying the payment mandate plus its risk score and optional OTP.
func NewPaymentMandateHandler(svc *service.Service) a2a.Handler {
	return func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		var req struct {
			PaymentMandate ap2.PaymentMandate `json:"payment_mandate"`
			PayerPublicKey string             `json:"payer_public_key,omitempty"`
			RiskScore      int                `json:"risk_score"`
			OTP            string             `json:"otp,omitempty"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, apperr.New(apperr.InvalidRequest, "malformed PaymentMandate payload", nil)
		}
		return svc.RequestPaymentCredentials(ctx, req.PaymentMandate, req.PayerPublicKey, req.RiskScore, req.OTP)
	}
}

// ListMethods handles GET /payment-methods?user_id={id}.
func (h *Handlers) ListMethods(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	apihelpers.RespondJSON(w, http.StatusOK, map[string]any{"methods": h.svc.List(r.Context(), userID)})
}

// Tokenize handles POST /payment-methods/tokenize.
func (h *Handlers) Tokenize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		MethodID string `json:"method_id"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	token, expiresAt, err := h.svc.Tokenize(r.Context(), req.UserID, req.MethodID)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": expiresAt})
}

// RequestPaymentCredentials handles POST /credentials.
func (h *Handlers) RequestPaymentCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentMandate ap2.PaymentMandate `json:"payment_mandate"`
		PayerPublicKey string             `json:"payer_public_key,omitempty"`
		RiskScore      int                `json:"risk_score"`
		OTP            string             `json:"otp,omitempty"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	creds, err := h.svc.RequestPaymentCredentials(r.Context(), req.PaymentMandate, req.PayerPublicKey, req.RiskScore, req.OTP)
	if err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, creds)
}

// VerifyDeviceAttestation handles POST /verify/attestation.
func (h *Handlers) VerifyDeviceAttestation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Attestation      ap2.DeviceAttestation `json:"attestation"`
		PaymentMandateID string                `json:"payment_mandate_id"`
		MaxAgeSeconds    int                   `json:"max_age_s"`
	}
	if err := apihelpers.DecodeJSON(r, &req); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}

	maxAge := 300 * time.Second
	if req.MaxAgeSeconds > 0 {
		maxAge = time.Duration(req.MaxAgeSeconds) * time.Second
	}

	if err := h.svc.VerifyDeviceAttestation(r.Context(), req.Attestation, req.PaymentMandateID, maxAge); err != nil {
		apihelpers.RespondError(w, r, err)
		return
	}
	apihelpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

// AgentCard serves /.well-known/agent-card.json.
func (h *Handlers) AgentCard(w http.ResponseWriter, r *http.Request) {
	card := agentcard.BuildCard("credential-provider", "AP2 credential provider", h.baseURL, []string{"credential-provider"}, []agentcard.Skill{
		{ID: "list_payment_methods", Name: "List payment methods"},
		{ID: "tokenize", Name: "Tokenize payment method"},
		{ID: "request_payment_credentials", Name: "Request payment credentials"},
		{ID: "verify_device_attestation", Name: "Verify device attestation"},
	})
	apihelpers.RespondJSON(w, http.StatusOK, card)
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	apihelpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
