// Package service implements the Credential Provider role: payment
// method listing, tokenization, credential release behind the
// high-risk OTP challenge, and device attestation verification.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/credential-provider/internal/store"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/audit"
)

const tokenTTL = 15 * time.Minute

// KeyResolver resolves a "<DID>#<fragment>" key id to a PEM public
// key, mirroring internal/verifier's resolver contract.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, kid string) string
}

// Service implements list/tokenize/request_payment_credentials/
// verify_device_attestation.
type Service struct {
	store             *store.Store
	keys              KeyResolver
	audit             *audit.Publisher
	highRiskThreshold int
	providerID        string
}

func New(st *store.Store, keys KeyResolver, pub *audit.Publisher, highRiskThreshold int, providerID string) *Service {
	return &Service{store: st, keys: keys, audit: pub, highRiskThreshold: highRiskThreshold, providerID: providerID}
}

// MethodInfo is what List returns: brand/last4/expiry/default flag,
// never the PAN itself.
type MethodInfo struct {
	MethodID    string `json:"method_id"`
	Brand       string `json:"brand"`
	Last4       string `json:"last4"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	IsDefault   bool   `json:"is_default"`
}

func (s *Service) List(ctx context.Context, userID string) []MethodInfo {
	methods := s.store.ListMethods(userID)
	out := make([]MethodInfo, 0, len(methods))
	for _, m := range methods {
		out = append(out, MethodInfo{
			MethodID:    m.MethodID,
			Brand:       m.Brand,
			Last4:       m.Last4,
			ExpiryMonth: m.ExpiryMonth,
			ExpiryYear:  m.ExpiryYear,
			IsDefault:   m.IsDefault,
		})
	}
	return out
}

// Tokenize issues a token bound to an existing method_id.
func (s *Service) Tokenize(ctx context.Context, userID, methodID string) (string, time.Time, error) {
	if _, ok := s.store.GetMethod(userID, methodID); !ok {
		return "", time.Time{}, apperr.New(apperr.InvalidToken, "unknown payment method", map[string]any{"method_id": methodID})
	}
	token := "tok_" + randomHex(32)
	expiresAt := s.store.IssueToken(token, userID, methodID, tokenTTL)
	slog.InfoContext(ctx, "payment method tokenized", "user_id", userID, "method_id", methodID)
	return token, expiresAt, nil
}

// Credentials is the envelope returned to the Payment Processor.
type Credentials struct {
	CardBrand  string `json:"card_brand"`
	Last4      string `json:"last4"`
	Expiry     string `json:"expiry"`
	HolderName string `json:"holder_name"`
	Cryptogram string `json:"cryptogram"`
	Token      string `json:"token"`
	ProviderID string `json:"provider_id"`
}

// RequestPaymentCredentials validates the PaymentMandate's user
// signature, enforces the high-risk OTP challenge, resolves the token
// to a method, and returns a credentials envelope. payerPublicKey is
// the user_public_key from the payment's chain-verified IntentMandate
// (the Payment Processor always supplies it); when given, the user
// signature must verify against that key, not the key the signature
// declares about itself.
func (s *Service) RequestPaymentCredentials(ctx context.Context, p ap2.PaymentMandate, payerPublicKey string, riskScore int, otp string) (*Credentials, error) {
	if err := s.verifyUserSignature(ctx, p, payerPublicKey); err != nil {
		return nil, err
	}

	if riskScore >= s.highRiskThreshold {
		if otp == "" {
			challenge := generateOTP()
			s.store.SetPendingOTP(p.ID, challenge)
			if s.audit != nil {
				_ = s.audit.Publish(ctx, audit.EventOTPChallengeIssued, p.ID, map[string]any{
					"transaction_id": p.ID, "risk_score": riskScore,
				})
			}
			return nil, apperr.New(apperr.OTPRequired, "one-time password required for high-risk payment", map[string]any{
				"risk_score": riskScore, "demo_otp": challenge,
			})
		}
		if !s.store.CheckOTP(p.ID, otp) {
			return nil, apperr.New(apperr.OTPInvalid, "one-time password invalid or expired", nil)
		}
	}

	userID, methodID, ok := s.store.ResolveToken(p.PaymentMethod.Token)
	if !ok {
		return nil, apperr.New(apperr.TokenExpired, "payment token not found or expired", map[string]any{"token": p.PaymentMethod.Token})
	}
	method, ok := s.store.GetMethod(userID, methodID)
	if !ok {
		return nil, apperr.New(apperr.InvalidToken, "token resolved to an unknown method", nil)
	}

	creds := &Credentials{
		CardBrand:  method.Brand,
		Last4:      method.Last4,
		Expiry:     fmt.Sprintf("%02d/%d", method.ExpiryMonth, method.ExpiryYear),
		HolderName: p.PayerID,
		Cryptogram: randomHex(16),
		Token:      p.PaymentMethod.Token,
		ProviderID: s.providerID,
	}

	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventDeviceAttestationVerified, p.ID, map[string]any{
			"payment_mandate_id": p.ID, "outcome": "credentials_issued",
		})
	}

	return creds, nil
}

// VerifyDeviceAttestation reconstructs the signed tuple
// and checks the device's public-key-backed signature and freshness.
func (s *Service) VerifyDeviceAttestation(ctx context.Context, att ap2.DeviceAttestation, paymentMandateID string, maxAge time.Duration) error {
	if err := ap2.VerifyDeviceAttestation(att, paymentMandateID, maxAge); err != nil {
		return err
	}

	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventDeviceAttestationVerified, paymentMandateID, map[string]any{
			"payment_mandate_id": paymentMandateID, "outcome": "verified",
		})
	}
	return nil
}

// verifyUserSignature checks the payment's user signature against
// payerPublicKey when one is supplied; only a direct caller that has no
// chain context falls back to the key carried on the signature itself.
func (s *Service) verifyUserSignature(ctx context.Context, p ap2.PaymentMandate, payerPublicKey string) error {
	if p.UserSignature.Value == "" {
		return apperr.New(apperr.MissingSignature, "payment mandate has no user_signature", nil)
	}
	pubKey := payerPublicKey
	if pubKey == "" {
		pubKey = p.UserSignature.PublicKey
	}
	if len(pubKey) > 4 && pubKey[:4] == "did:" {
		resolved := ""
		if s.keys != nil {
			resolved = s.keys.ResolvePublicKey(ctx, pubKey)
		}
		if resolved == "" {
			return apperr.New(apperr.PublicKeyUnresolvable, "could not resolve payer public key", map[string]any{"kid": pubKey})
		}
		pubKey = resolved
	}
	return ap2.VerifyPaymentSignature(p, pubKey)
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// generateOTP produces a demo 6-digit challenge. It is returned in the
// OtpRequired error's details map under "demo_otp" since there is no
// SMS/email channel in this reference implementation; a production
// deployment would deliver it out of band and never echo it back.
func generateOTP() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	n := (int(b[0])<<16 | int(b[1])<<8 | int(b[2])) % 1000000
	return fmt.Sprintf("%06d", n)
}
