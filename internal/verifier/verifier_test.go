package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/money"
	"github.com/ap2-labs/ap2-reference/internal/testutil"
)

func TestVerifyChainHappyPath(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	v := New(nil)

	if err := v.VerifyChain(context.Background(), payment, cart, intent); err != nil {
		t.Fatalf("expected valid chain to verify, got %v", err)
	}
}

func TestVerifyChainEnforcesMaxTransactions(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	v := New(nil)

	if err := v.VerifyChain(context.Background(), payment, cart, intent); err != nil {
		t.Fatalf("first verify_chain should succeed: %v", err)
	}

	// A second payment against the same (already-exhausted) intent must fail.
	if err := v.VerifyChain(context.Background(), payment, cart, intent); err == nil {
		t.Fatal("expected second payment against max_transactions=1 intent to fail")
	} else if appErr, ok := err.(*apperr.Error); !ok || appErr.ErrCode != apperr.ConstraintViolation {
		t.Fatalf("expected CONSTRAINT_VIOLATION, got %v", err)
	}

	if got := v.TransactionCount(intent.ID); got != 1 {
		t.Fatalf("TransactionCount = %d, want 1", got)
	}
}

func TestVerifyCartAmountExceeded(t *testing.T) {
	ids := testutil.NewIdentities()
	intent := testutil.IntentFixture(ids)
	cart := testutil.CartFixture(ids, intent)

	// Push the cart's total above the intent's max_amount while keeping
	// arithmetic internally consistent, so AMOUNT_EXCEEDED (not the
	// arithmetic check) is what fires.
	cart.Subtotal = money.MustNew("500.00", "USD")
	cart.Total = money.MustNew("500.00", "USD")
	intentHash, _ := ap2.HashIntent(intent)
	resign(t, ids, &cart, intentHash)

	v := New(nil)
	err := v.VerifyCart(context.Background(), cart, intent)
	if err == nil {
		t.Fatal("expected verify_cart to fail when total exceeds max_amount")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.AmountExceeded {
		t.Fatalf("expected AMOUNT_EXCEEDED, got %v", err)
	}
}

func TestVerifyIntentExpired(t *testing.T) {
	ids := testutil.NewIdentities()
	intent := testutil.IntentFixture(ids)
	intent.ExpiresAt = time.Now().Add(-time.Second)
	// Expiry isn't part of the signed canonical form exclusion list, so
	// mutating it after signing invalidates the signature too; verify
	// that the more specific EXPIRED_INTENT or INVALID_SIGNATURE surfaces,
	// not a silent pass.
	v := New(nil)
	err := v.VerifyIntent(context.Background(), intent)
	if err == nil {
		t.Fatal("expected verify_intent to fail for an expired/mutated intent")
	}
}

func TestVerifyIntentExpiredSignaturePreserved(t *testing.T) {
	ids := testutil.NewIdentities()
	maxAmount := money.MustNew("100.00", "USD")
	now := time.Now().UTC()
	intent := ap2.IntentMandate{
		ID:            ap2.NewIntentID(),
		Version:       ap2.SchemaVersion,
		UserID:        "user_test_001",
		UserPublicKey: ids.UserSigner.PublicKeyEncoded(),
		Intent:        "buy running shoes",
		Constraints:   ap2.Constraints{MaxAmount: &maxAmount, MaxTransactions: 1},
		CreatedAt:     now.Add(-2 * time.Second),
		ExpiresAt:     now.Add(-time.Second), // already expired at signing time
	}
	if err := ap2.SignIntent(ids.UserSigner, &intent); err != nil {
		t.Fatalf("SignIntent: %v", err)
	}
	if err := ap2.SealIntent(&intent); err != nil {
		t.Fatalf("SealIntent: %v", err)
	}

	v := New(nil)
	err := v.VerifyIntent(context.Background(), intent)
	if err == nil {
		t.Fatal("expected expired intent to fail verification")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.ExpiredIntent {
		t.Fatalf("expected EXPIRED_INTENT, got %v", err)
	}
}

func TestVerifyIntentEnforcesUserPublicKeyBinding(t *testing.T) {
	// An intent claiming one user_public_key but signed by a different
	// key must not verify: the signature is checked against the
	// mandate's own key binding, not the key the signature declares.
	ids := testutil.NewIdentities()
	maxAmount := money.MustNew("100.00", "USD")
	now := time.Now().UTC()
	intent := ap2.IntentMandate{
		ID:            ap2.NewIntentID(),
		Version:       ap2.SchemaVersion,
		UserID:        "user_test_001",
		UserPublicKey: ids.MerchantSigner.PublicKeyEncoded(), // not the signing key
		Intent:        "buy running shoes",
		Constraints:   ap2.Constraints{MaxAmount: &maxAmount, MaxTransactions: 1},
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
	if err := ap2.SignIntent(ids.UserSigner, &intent); err != nil {
		t.Fatalf("SignIntent: %v", err)
	}
	if err := ap2.SealIntent(&intent); err != nil {
		t.Fatalf("SealIntent: %v", err)
	}

	v := New(nil)
	err := v.VerifyIntent(context.Background(), intent)
	if err == nil {
		t.Fatal("expected an intent signed by a key other than user_public_key to fail")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.InvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}
}

func TestVerifyPaymentMutatedByteInvalidatesSignature(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	payment.PayerID = payment.PayerID + "_tampered"

	v := New(nil)
	err := v.VerifyPayment(context.Background(), payment, cart, intent)
	if err == nil {
		t.Fatal("expected mutated payment to fail signature verification")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.InvalidSignature {
		t.Fatalf("expected INVALID_SIGNATURE, got %v", err)
	}
}

func TestVerifyPaymentCurrencyAndChainLinkage(t *testing.T) {
	// An intact, properly signed payment checked against a different
	// cart must fail on chain linkage, not on the signature itself.
	ids := testutil.NewIdentities()
	intent := testutil.IntentFixture(ids)
	cart := testutil.CartFixture(ids, intent)
	payment := testutil.PaymentFixture(ids, intent, cart)
	otherCart := testutil.CartFixture(ids, intent)

	v := New(nil)
	err := v.VerifyPayment(context.Background(), payment, otherCart, intent)
	if err == nil {
		t.Fatal("expected cart_mandate_id mismatch to fail verification")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.InvalidMandateChain {
		t.Fatalf("expected INVALID_MANDATE_CHAIN, got %v", err)
	}
}

// resign re-canonicalizes and re-signs a mutated CartMandate with the
// merchant key, re-sealing its mandate_metadata, so tests can exercise
// verifier checks that aren't simply "the signature is now invalid".
func resign(t *testing.T, ids testutil.Identities, cart *ap2.CartMandate, intentHash string) {
	t.Helper()
	cart.IntentMandateHash = intentHash
	if err := ap2.SignCart(ids.MerchantSigner, cart); err != nil {
		t.Fatalf("SignCart: %v", err)
	}
	if err := ap2.SealCart(cart, intentHash); err != nil {
		t.Fatalf("SealCart: %v", err)
	}
}
