package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/shopping-agent/internal/clients"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/money"
	"github.com/ap2-labs/ap2-reference/internal/testutil"
)

func newTestSigners(t *testing.T) (ap2.Signer, ap2.Signer) {
	t.Helper()
	userKey, err := ap2.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("GenerateECDSAKey() error: %v", err)
	}
	deviceKey, err := ap2.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("GenerateECDSAKey() error: %v", err)
	}
	return ap2.NewECDSASigner(userKey), ap2.NewECDSASigner(deviceKey)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	userSigner, deviceSigner := newTestSigners(t)
	return New(nil, nil, nil, nil, userSigner, deviceSigner, "did:ap2:agent:shopping-agent#device", "demo-user",
		2*time.Second, 300*time.Second, 30*time.Minute)
}

func TestBuildIntent_SignsAndSeals(t *testing.T) {
	svc := newTestService(t)
	maxAmount := money.MustNew("100.00", "USD")

	intent, err := svc.buildIntent(CheckoutRequest{
		UserID:    "user_test_001",
		Intent:    "buy running shoes under 100 USD",
		MaxAmount: &maxAmount,
	})
	if err != nil {
		t.Fatalf("buildIntent() error: %v", err)
	}

	if intent.UserSignature.Value == "" {
		t.Fatal("buildIntent() did not attach a user signature")
	}
	if intent.MandateMetadata.MandateHash == "" {
		t.Fatal("buildIntent() did not seal mandate_metadata.mandate_hash")
	}
	if intent.Constraints.MaxTransactions != 1 {
		t.Errorf("MaxTransactions = %d, want 1 (default)", intent.Constraints.MaxTransactions)
	}
}

func TestBuildIntent_RequiresNoEmbeddedServerSignature(t *testing.T) {
	// IntentMandate construction must not embed a
	// server-generated signature ahead of the caller-supplied one; the
	// signature attached must verify against the same signer that
	// produced it, with no substitution along the way.
	svc := newTestService(t)
	intent, err := svc.buildIntent(CheckoutRequest{UserID: "user_test_001", Intent: "buy shoes"})
	if err != nil {
		t.Fatalf("buildIntent() error: %v", err)
	}
	if intent.UserSignature.PublicKey != svc.userSigner.PublicKeyEncoded() {
		t.Fatal("buildIntent() attached a signature not produced by the configured user signer")
	}
}

func TestAssemblePayment_CopiesMerchantSignatureVerbatim(t *testing.T) {
	// internal/verifier.VerifyPayment requires p.MerchantSignature.Value
	// to byte-match c.MerchantSignature.Value.
	ids := testutil.NewIdentities()
	intent := testutil.IntentFixture(ids)
	cart := testutil.CartFixture(ids, intent)

	svc := newTestService(t)
	method := clients.PaymentMethod{MethodID: "pm_1", Brand: "Visa", Last4: "4242", ExpiryMonth: 12, ExpiryYear: 2030}

	payment, riskResult, err := svc.assemblePayment(ap2.NewPaymentID(), intent.UserID, cart, intent, method, "tok_test", nil)
	if err != nil {
		t.Fatalf("assemblePayment() error: %v", err)
	}

	if payment.MerchantSignature.Value != cart.MerchantSignature.Value {
		t.Fatal("assemblePayment() did not copy the cart's merchant signature verbatim")
	}
	if !payment.Amount.Equal(cart.Total) {
		t.Errorf("payment.Amount = %v, want cart.Total %v", payment.Amount, cart.Total)
	}
	if payment.CartMandateID != cart.ID || payment.IntentMandateID != intent.ID {
		t.Fatal("assemblePayment() did not link the payment to its cart/intent")
	}
	if payment.UserSignature.Value == "" {
		t.Fatal("assemblePayment() did not attach a user signature")
	}
	if payment.RiskScore == nil || *payment.RiskScore != riskResult.RiskScore {
		t.Fatal("assemblePayment() did not attach the computed risk score")
	}
	if payment.TransactionType != ap2.TransactionUserNotPresent {
		t.Errorf("TransactionType = %q, want user_not_present with no device attestation", payment.TransactionType)
	}
}

func TestAssemblePayment_UserPresentWithAttestation(t *testing.T) {
	ids := testutil.NewIdentities()
	intent := testutil.IntentFixture(ids)
	cart := testutil.CartFixture(ids, intent)

	svc := newTestService(t)
	method := clients.PaymentMethod{MethodID: "pm_1", Last4: "4242"}
	attestation, err := svc.buildDeviceAttestation(ap2.NewPaymentID())
	if err != nil {
		t.Fatalf("buildDeviceAttestation() error: %v", err)
	}

	payment, _, err := svc.assemblePayment(ap2.NewPaymentID(), intent.UserID, cart, intent, method, "tok_test", attestation)
	if err != nil {
		t.Fatalf("assemblePayment() error: %v", err)
	}
	if payment.TransactionType != ap2.TransactionUserPresent {
		t.Errorf("TransactionType = %q, want user_present", payment.TransactionType)
	}
	if payment.DeviceAttestation == nil || payment.DeviceAttestation.AttestationValue == "" {
		t.Fatal("assemblePayment() dropped the device attestation")
	}
}

func TestSelectCheapest_PicksLowestTotal(t *testing.T) {
	cheap := candidateCart{Status: "signed", Payload: ap2.CartMandate{ID: "cart_cheap", Total: money.MustNew("19.99", "USD")}}
	pricey := candidateCart{Status: "signed", Payload: ap2.CartMandate{ID: "cart_pricey", Total: money.MustNew("89.99", "USD")}}

	got, err := selectCheapest([]candidateCart{pricey, cheap})
	if err != nil {
		t.Fatalf("selectCheapest() error: %v", err)
	}
	if got.Payload.ID != "cart_cheap" {
		t.Errorf("selectCheapest() picked %q, want cart_cheap", got.Payload.ID)
	}
}

func TestSelectCheapest_SkipsRejected(t *testing.T) {
	rejected := candidateCart{Status: "rejected", Payload: ap2.CartMandate{ID: "cart_rejected", Total: money.MustNew("1.00", "USD")}}
	signed := candidateCart{Status: "signed", Payload: ap2.CartMandate{ID: "cart_signed", Total: money.MustNew("50.00", "USD")}}

	got, err := selectCheapest([]candidateCart{rejected, signed})
	if err != nil {
		t.Fatalf("selectCheapest() error: %v", err)
	}
	if got.Payload.ID != "cart_signed" {
		t.Errorf("selectCheapest() picked %q, want cart_signed (skipping rejected)", got.Payload.ID)
	}
}

func TestSelectCheapest_NoViableCandidates(t *testing.T) {
	rejected := candidateCart{Status: "rejected", Payload: ap2.CartMandate{ID: "cart_rejected"}}
	if _, err := selectCheapest([]candidateCart{rejected}); err == nil {
		t.Fatal("selectCheapest() error = nil, want error when every candidate is rejected")
	}
}

func TestPickMethod_DefaultsToIsDefault(t *testing.T) {
	methods := []clients.PaymentMethod{
		{MethodID: "pm_1", IsDefault: false},
		{MethodID: "pm_2", IsDefault: true},
	}
	got, err := pickMethod(methods, "")
	if err != nil {
		t.Fatalf("pickMethod() error: %v", err)
	}
	if got.MethodID != "pm_2" {
		t.Errorf("pickMethod() = %q, want pm_2 (the default)", got.MethodID)
	}
}

func TestPickMethod_ExplicitSelection(t *testing.T) {
	methods := []clients.PaymentMethod{{MethodID: "pm_1"}, {MethodID: "pm_2", IsDefault: true}}
	got, err := pickMethod(methods, "pm_1")
	if err != nil {
		t.Fatalf("pickMethod() error: %v", err)
	}
	if got.MethodID != "pm_1" {
		t.Errorf("pickMethod() = %q, want the explicitly requested pm_1", got.MethodID)
	}
}

func TestPickMethod_UnknownID(t *testing.T) {
	methods := []clients.PaymentMethod{{MethodID: "pm_1"}}
	if _, err := pickMethod(methods, "pm_missing"); err == nil {
		t.Fatal("pickMethod() error = nil, want error for an unknown method_id")
	} else if appErr, ok := err.(*apperr.Error); !ok || appErr.ErrCode != apperr.InvalidToken {
		t.Errorf("pickMethod() error = %v, want apperr.InvalidToken", err)
	}
}

func TestPickMethod_NoMethodsOnFile(t *testing.T) {
	if _, err := pickMethod(nil, ""); err == nil {
		t.Fatal("pickMethod() error = nil, want error when the user has no stored methods")
	}
}

func TestParseCandidate_RoundTripsSignedCart(t *testing.T) {
	ids := testutil.NewIdentities()
	intent := testutil.IntentFixture(ids)
	cart := testutil.CartFixture(ids, intent)

	rec := struct {
		Status  string          `json:"status"`
		Payload ap2.CartMandate `json:"payload"`
	}{Status: "signed", Payload: cart}

	artifact, err := a2a.BuildArtifact(cart.ID, "ap2.responses.SignedCartMandate", rec)
	if err != nil {
		t.Fatalf("BuildArtifact() error: %v", err)
	}

	got, err := parseCandidate(artifact)
	if err != nil {
		t.Fatalf("parseCandidate() error: %v", err)
	}
	if got.Status != "signed" || got.Payload.ID != cart.ID {
		t.Errorf("parseCandidate() = %+v, want status=signed payload.id=%s", got, cart.ID)
	}
}

func TestParseCandidate_EmptyArtifact(t *testing.T) {
	if _, err := parseCandidate(&a2a.Artifact{}); err == nil {
		t.Fatal("parseCandidate() error = nil, want error for an artifact with no parts")
	}
}

func TestPollCartMandate_ResolvesOnSignedStatus(t *testing.T) {
	cart := ap2.CartMandate{ID: "cart_1", Total: money.MustNew("19.99", "USD")}
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		status := "pending_merchant_signature"
		if requests > 1 {
			status = "signed"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "payload": cart})
	}))
	defer srv.Close()

	svc := newTestService(t)
	svc.merch = clients.NewMerchantClient(srv.URL)
	svc.cartPollInterval = time.Millisecond
	svc.cartPollTimeout = time.Second

	got, err := svc.pollCartMandate(context.Background(), "cart_1")
	if err != nil {
		t.Fatalf("pollCartMandate() error: %v", err)
	}
	if got.Status != "signed" || got.Payload.ID != "cart_1" {
		t.Errorf("pollCartMandate() = %+v, want status=signed payload.id=cart_1", got)
	}
	if requests < 2 {
		t.Errorf("pollCartMandate() made %d request(s), want at least 2 (one pending, one signed)", requests)
	}
}

func TestPollCartMandate_TimesOutWhileStillPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "pending_merchant_signature", "payload": ap2.CartMandate{ID: "cart_1"}})
	}))
	defer srv.Close()

	svc := newTestService(t)
	svc.merch = clients.NewMerchantClient(srv.URL)
	svc.cartPollInterval = time.Millisecond
	svc.cartPollTimeout = 5 * time.Millisecond

	_, err := svc.pollCartMandate(context.Background(), "cart_1")
	if err == nil {
		t.Fatal("pollCartMandate() error = nil, want a CartRejected timeout error")
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.ErrCode != apperr.CartRejected {
		t.Errorf("pollCartMandate() error = %v, want apperr.CartRejected", err)
	}
}
