// Package service implements the Payment Processor role:
// chain verification via internal/verifier, a credentials round trip to
// the Credential Provider, deterministic failure injection for testing,
// and the INIT/AUTHORIZING/AUTHORIZED/CAPTURING/CAPTURED/REFUNDING/
// REFUNDED/FAILED state machine.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/audit"
	"github.com/ap2-labs/ap2-reference/internal/httpclient"
	"github.com/ap2-labs/ap2-reference/internal/ledger"
	"github.com/ap2-labs/ap2-reference/internal/money"
	"github.com/ap2-labs/ap2-reference/internal/risk"
	"github.com/ap2-labs/ap2-reference/internal/verifier"
)

// failureInjection maps a card's last4 to a deterministic decline
// reason, letting integration tests exercise every failure path
// without a real processor network.
var failureInjection = map[string]apperr.Code{
	"0001": apperr.InsufficientFunds,
	"0002": apperr.CardDeclined,
	"0003": apperr.ExpiredCard,
	"0004": apperr.FraudSuspected,
}

// pendingChallenge holds the mandate bundle for a transaction awaiting
// an OTP, kept in memory only: it is reference/demo state, not part of
// the durable transaction ledger.
type pendingChallenge struct {
	payment ap2.PaymentMandate
	cart    ap2.CartMandate
	intent  ap2.IntentMandate
	risk    int
}

type Service struct {
	store    ledger.Store
	verifier *verifier.Verifier
	cp       *httpclient.Client
	cpURL    string
	audit    *audit.Publisher

	mu        sync.Mutex
	byPayment map[string]string           // payment_mandate_id -> transaction_id
	pending   map[string]*pendingChallenge // transaction_id -> pending mandates
}

func New(store ledger.Store, v *verifier.Verifier, cp *httpclient.Client, cpURL string, pub *audit.Publisher) *Service {
	return &Service{
		store:     store,
		verifier:  v,
		cp:        cp,
		cpURL:     cpURL,
		audit:     pub,
		byPayment: make(map[string]string),
		pending:   make(map[string]*pendingChallenge),
	}
}

// Authorize runs the full chain check, requests credentials from the
// Credential Provider, simulates network authorization, and persists
// the resulting transaction.
func (s *Service) Authorize(ctx context.Context, p ap2.PaymentMandate, c ap2.CartMandate, i ap2.IntentMandate, riskResult risk.Result, otp string) (*ap2.TransactionResult, error) {
	s.mu.Lock()
	if txID, ok := s.byPayment[p.ID]; ok {
		s.mu.Unlock()
		return s.resultFor(ctx, txID)
	}
	s.mu.Unlock()

	if err := s.verifier.VerifyChain(ctx, p, c, i); err != nil {
		return nil, err
	}

	return s.runAuthorization(ctx, newTransactionID(), p, c, i, riskResult.RiskScore, otp)
}

// CompleteChallenge re-runs authorization for a transaction that
// previously returned ChallengeRequired, now with the OTP supplied.
func (s *Service) CompleteChallenge(ctx context.Context, transactionID, otp string) (*ap2.TransactionResult, error) {
	s.mu.Lock()
	pc, ok := s.pending[transactionID]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.InvalidRequest, "no pending challenge for transaction", map[string]any{"transaction_id": transactionID})
	}
	return s.runAuthorization(ctx, transactionID, pc.payment, pc.cart, pc.intent, pc.risk, otp)
}

func (s *Service) runAuthorization(ctx context.Context, transactionID string, p ap2.PaymentMandate, c ap2.CartMandate, i ap2.IntentMandate, riskScore int, otp string) (*ap2.TransactionResult, error) {
	creds, err := s.requestCredentials(ctx, p, i.UserPublicKey, riskScore, otp)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			switch appErr.ErrCode {
			case apperr.OTPRequired:
				s.mu.Lock()
				s.pending[transactionID] = &pendingChallenge{payment: p, cart: c, intent: i, risk: riskScore}
				s.byPayment[p.ID] = transactionID
				s.mu.Unlock()
				return nil, apperr.New(apperr.ChallengeRequired, "one-time password challenge required", map[string]any{"transaction_id": transactionID})
			case apperr.OTPInvalid:
				// A wrong OTP is retryable, not terminal: the pending
				// bundle stays so complete_challenge can be attempted
				// again with the correct password.
				return nil, appErr
			}
		}

		return s.fail(ctx, transactionID, p, c, i, riskScore, codeOf(err))
	}
	_ = creds

	if code, injected := failureInjection[p.PaymentMethod.Last4]; injected {
		return s.fail(ctx, transactionID, p, c, i, riskScore, code)
	}

	now := time.Now().UTC()
	tx := &ledger.Transaction{
		ID:                transactionID,
		PaymentMandateID:  p.ID,
		IntentMandateID:   i.ID,
		CartMandateID:     c.ID,
		Status:            ledger.StateAuthorized,
		Amount:            p.Amount.CanonicalString(),
		Currency:          p.Amount.Currency,
		RiskScore:         riskScore,
		DeviceAttestation: p.DeviceAttestation,
		AuthorizedAt:      &now,
	}
	if err := s.persist(ctx, transactionID, tx); err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventPaymentAuthorized, transactionID, map[string]any{
			"transaction_id":    transactionID,
			"payment_mandate_id": p.ID,
			"intent_mandate_id": i.ID,
			"amount":            tx.Amount,
			"currency":          tx.Currency,
			"risk_score":        riskScore,
		})
	}

	return &ap2.TransactionResult{TransactionID: transactionID, Status: string(ledger.StateAuthorized), AuthorizedAt: now}, nil
}

func (s *Service) fail(ctx context.Context, transactionID string, p ap2.PaymentMandate, c ap2.CartMandate, i ap2.IntentMandate, riskScore int, code apperr.Code) (*ap2.TransactionResult, error) {
	tx := &ledger.Transaction{
		ID:               transactionID,
		PaymentMandateID: p.ID,
		IntentMandateID:  i.ID,
		CartMandateID:    c.ID,
		Status:           ledger.StateFailed,
		Amount:           p.Amount.CanonicalString(),
		Currency:         p.Amount.Currency,
		RiskScore:        riskScore,
		ErrorCode:        string(code),
	}
	if err := s.persist(ctx, transactionID, tx); err != nil {
		return nil, err
	}

	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventPaymentFailed, transactionID, map[string]any{
			"transaction_id": transactionID, "error_code": string(code),
		})
	}

	return &ap2.TransactionResult{TransactionID: transactionID, Status: string(ledger.StateFailed), ErrorCode: string(code)}, nil
}

func (s *Service) persist(ctx context.Context, transactionID string, tx *ledger.Transaction) error {
	if err := s.store.Create(ctx, tx); err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return nil
		}
		return apperr.New(apperr.InternalError, "failed to persist transaction", nil)
	}
	s.mu.Lock()
	s.byPayment[tx.PaymentMandateID] = transactionID
	delete(s.pending, transactionID)
	s.mu.Unlock()
	return nil
}

func (s *Service) resultFor(ctx context.Context, transactionID string) (*ap2.TransactionResult, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, apperr.New(apperr.ChallengeRequired, "one-time password challenge pending", map[string]any{"transaction_id": transactionID})
		}
		return nil, apperr.New(apperr.InternalError, "failed to load transaction", nil)
	}
	result := &ap2.TransactionResult{TransactionID: tx.ID, Status: string(tx.Status), ErrorCode: tx.ErrorCode}
	if tx.AuthorizedAt != nil {
		result.AuthorizedAt = *tx.AuthorizedAt
	}
	if tx.CapturedAt != nil {
		result.CapturedAt = *tx.CapturedAt
	}
	return result, nil
}

// Capture transitions AUTHORIZED -> CAPTURED. Idempotent:
// calling it again on an already-captured transaction returns the same
// result rather than erroring.
func (s *Service) Capture(ctx context.Context, transactionID string) (*ap2.TransactionResult, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidRequest, "transaction not found", map[string]any{"transaction_id": transactionID})
	}
	if tx.Status == ledger.StateCaptured {
		return s.resultFor(ctx, transactionID)
	}
	if tx.Status != ledger.StateAuthorized {
		return nil, apperr.New(apperr.InvalidRequest, "transaction is not in AUTHORIZED state", map[string]any{"status": tx.Status})
	}

	now := time.Now().UTC()
	tx.Status = ledger.StateCaptured
	tx.CapturedAt = &now
	if err := s.store.Update(ctx, tx); err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to update transaction", nil)
	}

	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventPaymentCaptured, transactionID, map[string]any{
			"transaction_id": transactionID, "amount": tx.Amount, "currency": tx.Currency,
		})
	}
	return &ap2.TransactionResult{
		TransactionID: tx.ID,
		Status:        string(tx.Status),
		ReceiptURL:    fmt.Sprintf("/receipts/%s", tx.ID),
		CapturedAt:    now,
	}, nil
}

// Refund transitions CAPTURED -> REFUNDED. amount nil means a full
// refund of the captured total.
func (s *Service) Refund(ctx context.Context, transactionID string, amount *money.Amount) (*ap2.TransactionResult, error) {
	tx, err := s.store.Get(ctx, transactionID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidRequest, "transaction not found", map[string]any{"transaction_id": transactionID})
	}
	if tx.Status == ledger.StateRefunded {
		return s.resultFor(ctx, transactionID)
	}
	if tx.Status != ledger.StateCaptured {
		return nil, apperr.New(apperr.InvalidRequest, "transaction is not in CAPTURED state", map[string]any{"status": tx.Status})
	}

	refundAmount := tx.Amount
	if amount != nil {
		refundAmount = amount.CanonicalString()
	}

	now := time.Now().UTC()
	tx.Status = ledger.StateRefunded
	tx.RefundedAt = &now
	if err := s.store.Update(ctx, tx); err != nil {
		return nil, apperr.New(apperr.InternalError, "failed to update transaction", nil)
	}

	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventPaymentRefunded, transactionID, map[string]any{
			"transaction_id": transactionID, "amount": refundAmount, "currency": tx.Currency,
		})
	}
	return &ap2.TransactionResult{TransactionID: tx.ID, Status: string(tx.Status)}, nil
}

// requestCredentials passes the intent's user_public_key along so the
// Credential Provider verifies the payment's user signature against the
// chain-bound key rather than the key the signature declares about
// itself.
func (s *Service) requestCredentials(ctx context.Context, p ap2.PaymentMandate, payerPublicKey string, riskScore int, otp string) (map[string]any, error) {
	var creds map[string]any
	reqBody := map[string]any{"payment_mandate": p, "payer_public_key": payerPublicKey, "risk_score": riskScore}
	if otp != "" {
		reqBody["otp"] = otp
	}
	if err := s.cp.PostJSON(ctx, s.cpURL+"/credentials", reqBody, &creds); err != nil {
		var httpErr *httpclient.HTTPError
		if errors.As(err, &httpErr) {
			slog.ErrorContext(ctx, "credential provider rejected request", "status", httpErr.StatusCode, "body", string(httpErr.Body))
			return nil, decodeCPError(httpErr)
		}
		return nil, apperr.New(apperr.InternalError, "credential provider unreachable", nil)
	}
	return creds, nil
}

// decodeCPError unwraps the Credential Provider's *apperr.Error JSON
// body out of an httpclient.HTTPError so callers see the original code
// (e.g. OTP_REQUIRED) rather than a flattened internal error.
func decodeCPError(httpErr *httpclient.HTTPError) error {
	var appErr apperr.Error
	if err := json.Unmarshal(httpErr.Body, &appErr); err != nil || appErr.ErrCode == "" {
		return apperr.New(apperr.InternalError, "credential provider request failed", map[string]any{"status": httpErr.StatusCode})
	}
	return &appErr
}

func codeOf(err error) apperr.Code {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr.ErrCode
	}
	return apperr.InternalError
}

func newTransactionID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "txn_" + hex.EncodeToString(b[:])
}
