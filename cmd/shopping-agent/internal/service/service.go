// Package service implements the Shopping Agent role: build
// and sign the user's IntentMandate, collect cart candidates from the
// Merchant Agent, drive cart selection (including manual-approval
// polling), tokenize a payment method with the Credential Provider,
// simulate a device attestation, assemble and sign the PaymentMandate,
// submit it, and resume an OTP challenge when one is raised.
// Checkout runs the flow in its own goroutine and streams structured
// events over a channel rather than blocking the caller for the whole
// flow.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/clients"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/money"
	"github.com/ap2-labs/ap2-reference/internal/risk"
)

// Event types carried on the Shopping Agent's "chat stream":
// structured events a downstream UI consumes in place of a raw
// callback/future chain.
const (
	EventAgentText              = "agent_text"
	EventSignatureRequest       = "signature_request"
	EventCartOptions            = "cart_options"
	EventWebAuthnRequest        = "webauthn_request"
	EventPaymentMethodSelection = "payment_method_selection"
	EventDone                   = "done"
	EventError                  = "error"
)

// Event is one entry on the stream Checkout (or CompleteChallenge)
// produces.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// CheckoutRequest is everything the Shopping Agent needs to run one
// checkout: the user's free-text intent plus the constraints that will
// become the IntentMandate's Constraints.
type CheckoutRequest struct {
	UserID          string
	Intent          string
	MaxAmount       *money.Amount
	Categories      []string
	Brands          []string
	Merchants       []string
	SKUs            []string
	MaxTransactions int
	MethodID        string // "" selects the user's default payment method
}

type candidateCart struct {
	Status       string          `json:"status"`
	Payload      ap2.CartMandate `json:"payload"`
	RejectReason string          `json:"reject_reason,omitempty"`
}

// txHistory tracks a user's recent transaction volume, feeding the risk
// engine's pattern_risk factor (internal/risk.History).
type txHistory struct {
	count24h  int
	lastTotal float64
}

// Service orchestrates one end-to-end checkout against the Merchant
// Agent, Merchant, and Credential Provider.
type Service struct {
	ma     *clients.MerchantAgentClient
	merch  *clients.MerchantClient
	cp     *clients.CredentialProviderClient
	pp     *clients.PaymentProcessorClient

	userSigner    ap2.Signer
	deviceSigner  ap2.Signer
	deviceID      string
	defaultUserID string

	cartPollInterval time.Duration
	cartPollTimeout  time.Duration
	intentTTL        time.Duration

	mu      sync.Mutex
	history map[string]*txHistory
}

func New(
	ma *clients.MerchantAgentClient,
	merch *clients.MerchantClient,
	cp *clients.CredentialProviderClient,
	pp *clients.PaymentProcessorClient,
	userSigner, deviceSigner ap2.Signer,
	deviceID, defaultUserID string,
	cartPollInterval, cartPollTimeout, intentTTL time.Duration,
) *Service {
	return &Service{
		ma: ma, merch: merch, cp: cp, pp: pp,
		userSigner: userSigner, deviceSigner: deviceSigner, deviceID: deviceID,
		defaultUserID:    defaultUserID,
		cartPollInterval: cartPollInterval, cartPollTimeout: cartPollTimeout, intentTTL: intentTTL,
		history: make(map[string]*txHistory),
	}
}

// Checkout runs the full flow in its own goroutine and returns a channel
// of Events; the channel is closed once a terminal "done" or "error"
// event has been sent.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (<-chan Event, error) {
	if req.Intent == "" {
		return nil, apperr.New(apperr.InvalidRequest, "intent text is required", nil)
	}
	if req.UserID == "" {
		req.UserID = s.defaultUserID
	}

	events := make(chan Event, 16)
	go s.run(ctx, req, events)
	return events, nil
}

func (s *Service) run(ctx context.Context, req CheckoutRequest, events chan<- Event) {
	defer close(events)

	emit := func(eventType string, data map[string]any) {
		select {
		case events <- Event{Type: eventType, Data: data}:
		case <-ctx.Done():
		}
	}
	fail := func(err error) {
		var appErr *apperr.Error
		code := apperr.InternalError
		msg := err.Error()
		if errors.As(err, &appErr) {
			code = appErr.ErrCode
			msg = appErr.ErrMessage
		} else {
			slog.ErrorContext(ctx, "checkout failed", "error", err)
		}
		emit(EventError, map[string]any{"error_code": string(code), "error_message": msg})
	}

	emit(EventAgentText, map[string]any{"message": fmt.Sprintf("looking for: %s", req.Intent)})

	intent, err := s.buildIntent(req)
	if err != nil {
		fail(err)
		return
	}
	emit(EventSignatureRequest, map[string]any{"mandate_type": "IntentMandate", "mandate_id": intent.ID})

	candidates, err := s.ma.SubmitIntent(ctx, intent)
	if err != nil {
		fail(err)
		return
	}

	carts := make([]candidateCart, 0, len(candidates))
	for _, art := range candidates {
		cc, err := parseCandidate(art)
		if err != nil {
			slog.WarnContext(ctx, "dropping unparsable cart candidate", "error", err)
			continue
		}
		carts = append(carts, *cc)
	}
	if len(carts) == 0 {
		fail(apperr.New(apperr.InternalError, "merchant agent returned no usable cart candidates", nil))
		return
	}

	optionSummaries := make([]map[string]any, 0, len(carts))
	for _, cc := range carts {
		optionSummaries = append(optionSummaries, map[string]any{
			"cart_mandate_id": cc.Payload.ID,
			"status":          cc.Status,
			"total":           cc.Payload.Total.CanonicalString(),
			"currency":        cc.Payload.Total.Currency,
			"item_count":      len(cc.Payload.Items),
		})
	}
	emit(EventCartOptions, map[string]any{"candidates": optionSummaries})

	selected, err := selectCheapest(carts)
	if err != nil {
		fail(err)
		return
	}

	if selected.Status == "pending_merchant_signature" {
		emit(EventAgentText, map[string]any{"message": "waiting for merchant to sign cart " + selected.Payload.ID})
		resolved, err := s.pollCartMandate(ctx, selected.Payload.ID)
		if err != nil {
			fail(err)
			return
		}
		selected = *resolved
	}
	if selected.Status == "rejected" {
		fail(apperr.New(apperr.CartRejected, "merchant rejected the cart", map[string]any{
			"cart_mandate_id": selected.Payload.ID, "reject_reason": selected.RejectReason,
		}))
		return
	}
	cart := selected.Payload

	emit(EventPaymentMethodSelection, map[string]any{"user_id": req.UserID})
	methods, err := s.cp.ListMethods(ctx, req.UserID)
	if err != nil {
		fail(err)
		return
	}
	method, err := pickMethod(methods, req.MethodID)
	if err != nil {
		fail(err)
		return
	}
	token, _, err := s.cp.Tokenize(ctx, req.UserID, method.MethodID)
	if err != nil {
		fail(err)
		return
	}

	paymentID := ap2.NewPaymentID()
	emit(EventWebAuthnRequest, map[string]any{"device_id": s.deviceID})
	attestation, err := s.buildDeviceAttestation(paymentID)
	if err != nil {
		fail(err)
		return
	}

	payment, riskResult, err := s.assemblePayment(paymentID, req.UserID, cart, intent, method, token, attestation)
	if err != nil {
		fail(err)
		return
	}
	emit(EventSignatureRequest, map[string]any{"mandate_type": "PaymentMandate", "mandate_id": payment.ID})

	emit(EventAgentText, map[string]any{"message": "submitting payment"})
	result, err := s.ma.SubmitPayment(ctx, payment, cart, intent, &riskResult, "")
	if err != nil {
		fail(err)
		return
	}

	s.recordHistory(req.UserID, payment.Amount)

	if result.Status == "CHALLENGE_REQUIRED" || result.ErrorCode == string(apperr.ChallengeRequired) {
		emit(EventAgentText, map[string]any{"message": "one-time password required", "transaction_id": result.TransactionID})
	}
	emit(EventDone, map[string]any{"result": result})
}

// CompleteChallenge resumes a transaction that previously paused on
// ChallengeRequired, submitting the OTP directly to the Payment
// Processor.
func (s *Service) CompleteChallenge(ctx context.Context, transactionID, otp string) (<-chan Event, error) {
	if transactionID == "" {
		return nil, apperr.New(apperr.InvalidRequest, "transaction_id is required", nil)
	}
	events := make(chan Event, 4)
	go func() {
		defer close(events)
		result, err := s.pp.CompleteChallenge(ctx, transactionID, otp)
		if err != nil {
			var appErr *apperr.Error
			code := apperr.InternalError
			msg := err.Error()
			if errors.As(err, &appErr) {
				code, msg = appErr.ErrCode, appErr.ErrMessage
			}
			events <- Event{Type: EventError, Data: map[string]any{"error_code": string(code), "error_message": msg}}
			return
		}
		events <- Event{Type: EventDone, Data: map[string]any{"result": result}}
	}()
	return events, nil
}

func (s *Service) buildIntent(req CheckoutRequest) (ap2.IntentMandate, error) {
	now := time.Now().UTC()
	intent := ap2.IntentMandate{
		ID:            ap2.NewIntentID(),
		UserID:        req.UserID,
		UserPublicKey: s.userSigner.PublicKeyEncoded(),
		Intent:        req.Intent,
		Constraints: ap2.Constraints{
			MaxAmount:       req.MaxAmount,
			Categories:      req.Categories,
			Brands:          req.Brands,
			Merchants:       req.Merchants,
			SKUs:            req.SKUs,
			MaxTransactions: req.MaxTransactions,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(s.intentTTL),
	}
	if intent.Constraints.MaxTransactions <= 0 {
		intent.Constraints.MaxTransactions = 1
	}

	if err := ap2.SignIntent(s.userSigner, &intent); err != nil {
		return ap2.IntentMandate{}, apperr.New(apperr.InternalError, "failed to sign intent mandate", nil)
	}
	if err := ap2.SealIntent(&intent); err != nil {
		return ap2.IntentMandate{}, apperr.New(apperr.InternalError, "failed to seal intent mandate", nil)
	}
	return intent, nil
}

func (s *Service) assemblePayment(paymentID, userID string, cart ap2.CartMandate, intent ap2.IntentMandate, method clients.PaymentMethod, token string, attestation *ap2.DeviceAttestation) (ap2.PaymentMandate, risk.Result, error) {
	now := time.Now().UTC()
	payment := ap2.PaymentMandate{
		ID:              paymentID,
		CartMandateID:   cart.ID,
		IntentMandateID: intent.ID,
		PaymentMethod: ap2.PaymentMethod{
			Type:        "card",
			Token:       token,
			Last4:       method.Last4,
			Brand:       method.Brand,
			ExpiryMonth: method.ExpiryMonth,
			ExpiryYear:  method.ExpiryYear,
		},
		Amount:            cart.Total,
		TransactionType:   ap2.TransactionUserPresent,
		AgentInvolved:     true,
		PayerID:           userID,
		PayeeID:           cart.MerchantID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(15 * time.Minute),
		MerchantSignature: cart.MerchantSignature,
		DeviceAttestation: attestation,
	}
	if attestation == nil {
		payment.TransactionType = ap2.TransactionUserNotPresent
	}

	riskResult := risk.Assess(payment, cart, intent, s.historyFor(userID))
	payment.RiskScore = &riskResult.RiskScore
	payment.FraudIndicators = riskResult.FraudIndicators

	// The user signature binds the chain, so the hash-linkage fields
	// are set before signing; SealPayment re-stamps the same values.
	cartHash := cart.MandateMetadata.MandateHash
	intentHash := intent.MandateMetadata.MandateHash
	payment.CartMandateHash = cartHash
	payment.IntentMandateHash = intentHash

	if err := ap2.SignPayment(s.userSigner, &payment); err != nil {
		return ap2.PaymentMandate{}, risk.Result{}, apperr.New(apperr.InternalError, "failed to sign payment mandate", nil)
	}
	if err := ap2.SealPayment(&payment, cart, cartHash, intentHash); err != nil {
		return ap2.PaymentMandate{}, risk.Result{}, apperr.New(apperr.InternalError, "failed to seal payment mandate", nil)
	}
	return payment, riskResult, nil
}

// buildDeviceAttestation simulates the device leg of the flow by
// signing the device-bound tuple itself, standing in for a real
// WebAuthn authenticator round trip.
func (s *Service) buildDeviceAttestation(paymentID string) (*ap2.DeviceAttestation, error) {
	sum := sha256.Sum256([]byte(paymentID + "_" + ap2.NewNonce()))
	challenge := hex.EncodeToString(sum[:])
	now := time.Now().UTC()

	att := ap2.DeviceAttestation{
		DeviceID:        s.deviceID,
		AttestationType: "passkey",
		Timestamp:       now,
		DevicePublicKey: s.deviceSigner.PublicKeyEncoded(),
		Challenge:       challenge,
		Platform:        "reference-client",
	}
	canonicalBytes, err := ap2.AttestationBytes(att, paymentID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidRequest, "failed to canonicalize device attestation tuple", nil)
	}
	value, err := s.deviceSigner.Sign(canonicalBytes)
	if err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to sign device attestation", nil)
	}
	att.AttestationValue = value
	return &att, nil
}

func (s *Service) pollCartMandate(ctx context.Context, cartMandateID string) (*candidateCart, error) {
	deadline := time.Now().Add(s.cartPollTimeout)
	ticker := time.NewTicker(s.cartPollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.merch.GetCartMandate(ctx, cartMandateID)
		if err != nil {
			return nil, err
		}
		if rec.Status == "signed" || rec.Status == "rejected" {
			return &candidateCart{Status: rec.Status, Payload: rec.Payload, RejectReason: rec.RejectReason}, nil
		}
		if time.Now().After(deadline) {
			return nil, apperr.New(apperr.CartRejected, "timed out waiting for merchant cart signature", map[string]any{
				"cart_mandate_id": cartMandateID,
			})
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) historyFor(userID string) risk.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[userID]
	if !ok {
		return risk.History{IsNewUser: true}
	}
	return risk.History{TransactionCount24h: h.count24h, AverageAmount: h.lastTotal, IsNewUser: false}
}

func (s *Service) recordHistory(userID string, amount money.Amount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[userID]
	if !ok {
		h = &txHistory{}
		s.history[userID] = h
	}
	h.count24h++
	if v, _ := amount.Value.Float64(); v > 0 {
		h.lastTotal = v
	}
}

// parseCandidate unwraps the single dataType-keyed entry a2a.BuildArtifact
// produces (cmd/merchant-agent/internal/service.buildAndSignCandidate)
// without needing to know in advance whether it is keyed
// "ap2.responses.SignedCartMandate" or "ap2.responses.CartMandatePending".
func parseCandidate(art *a2a.Artifact) (*candidateCart, error) {
	if art == nil || len(art.Parts) == 0 {
		return nil, apperr.New(apperr.InternalError, "empty cart candidate artifact", nil)
	}
	var raw map[string]any
	for _, v := range art.Parts[0].Data {
		raw = v.(map[string]any)
		break
	}
	if raw == nil {
		return nil, apperr.New(apperr.InternalError, "cart candidate artifact carried no payload", nil)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to re-marshal cart candidate", nil)
	}
	var cc candidateCart
	if err := json.Unmarshal(encoded, &cc); err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to parse cart candidate", nil)
	}
	return &cc, nil
}

func selectCheapest(carts []candidateCart) (candidateCart, error) {
	var best *candidateCart
	for i := range carts {
		if carts[i].Status == "rejected" {
			continue
		}
		if best == nil || carts[i].Payload.Total.Value.LessThan(best.Payload.Total.Value) {
			best = &carts[i]
		}
	}
	if best == nil {
		return candidateCart{}, apperr.New(apperr.InternalError, "no viable cart candidate", nil)
	}
	return *best, nil
}

func pickMethod(methods []clients.PaymentMethod, methodID string) (clients.PaymentMethod, error) {
	if methodID != "" {
		for _, m := range methods {
			if m.MethodID == methodID {
				return m, nil
			}
		}
		return clients.PaymentMethod{}, apperr.New(apperr.InvalidToken, "unknown method_id", map[string]any{"method_id": methodID})
	}
	for _, m := range methods {
		if m.IsDefault {
			return m, nil
		}
	}
	if len(methods) > 0 {
		return methods[0], nil
	}
	return clients.PaymentMethod{}, apperr.New(apperr.InvalidRequest, "user has no payment methods on file", nil)
}
