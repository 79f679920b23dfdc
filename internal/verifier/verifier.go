// Package verifier implements the role-agnostic Verifier: a pure
// function set validating any individual mandate or an entire chain
// against structural, cryptographic, temporal, and constraint-based
// rules. Errors are always a typed *apperr.Error carrying an
// enumerated code and a details map, never free-form text only.
package verifier

import (
	"context"
	"sync"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
)

// attestationMaxAge bounds device-attestation freshness when the
// Verifier re-verifies one inside VerifyPayment.
const attestationMaxAge = 300 * time.Second

// KeyResolver resolves a "<DID>#<fragment>" key id to a PEM public key,
// or "" if unresolvable.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, kid string) string
}

// Verifier runs the chain checks and records accepted payments against
// their intent_mandate_id for the max_transactions invariant.
type Verifier struct {
	keys KeyResolver

	mu       sync.Mutex
	byIntent map[string][]string // intent_mandate_id -> []payment_mandate_id
}

// New creates a Verifier backed by keys for public-key resolution.
func New(keys KeyResolver) *Verifier {
	return &Verifier{keys: keys, byIntent: make(map[string][]string)}
}

func resolveKey(ctx context.Context, keys KeyResolver, publicKeyField string) (string, error) {
	if len(publicKeyField) > 4 && publicKeyField[:4] == "did:" {
		resolved := ""
		if keys != nil {
			resolved = keys.ResolvePublicKey(ctx, publicKeyField)
		}
		if resolved == "" {
			return "", apperr.New(apperr.PublicKeyUnresolvable, "could not resolve public key", map[string]any{"kid": publicKeyField})
		}
		return resolved, nil
	}
	return publicKeyField, nil
}

// VerifyIntent checks signature validity, expiry, constraint sanity, and
// mandate_hash agreement.
func (v *Verifier) VerifyIntent(ctx context.Context, i ap2.IntentMandate) error {
	if i.UserSignature.Value == "" {
		return apperr.New(apperr.MissingSignature, "intent mandate has no user_signature", nil)
	}
	// The signature must hold against the mandate's own user_public_key,
	// not the key the signature declares about itself: that binding is
	// what ties the intent to the user identity it names.
	if i.UserPublicKey == "" {
		return apperr.New(apperr.PublicKeyUnresolvable, "intent mandate has no user_public_key", nil)
	}
	pubKey, err := resolveKey(ctx, v.keys, i.UserPublicKey)
	if err != nil {
		return err
	}
	if err := ap2.VerifyIntentSignature(i, pubKey); err != nil {
		return err
	}

	if time.Now().After(i.ExpiresAt) {
		return apperr.New(apperr.ExpiredIntent, "intent mandate has expired", map[string]any{"expires_at": i.ExpiresAt})
	}

	if i.Constraints.MaxAmount != nil && !i.Constraints.MaxAmount.Positive() {
		return apperr.New(apperr.InvalidAmount, "max_amount must be positive when present", nil)
	}

	if i.MandateMetadata.MandateHash != "" {
		computed, err := ap2.HashIntent(i)
		if err != nil {
			return apperr.New(apperr.InvalidRequest, "failed to recompute mandate_hash", nil)
		}
		if computed != i.MandateMetadata.MandateHash {
			return apperr.New(apperr.InvalidMandateChain, "mandate_hash does not match canonical form", map[string]any{
				"expected": i.MandateMetadata.MandateHash, "computed": computed,
			})
		}
	}
	return nil
}

// VerifyCart checks chain linkage, merchant (and optional user)
// signature, arithmetic, and constraint containment.
func (v *Verifier) VerifyCart(ctx context.Context, c ap2.CartMandate, i ap2.IntentMandate) error {
	if c.IntentMandateID != i.ID {
		return apperr.New(apperr.InvalidMandateChain, "cart.intent_mandate_id does not reference this intent", map[string]any{
			"cart_intent_id": c.IntentMandateID, "intent_id": i.ID,
		})
	}

	if c.MerchantSignature.Value == "" {
		return apperr.New(apperr.MissingSignature, "cart mandate has no merchant_signature", nil)
	}
	pubKey, err := resolveKey(ctx, v.keys, c.MerchantSignature.PublicKey)
	if err != nil {
		return err
	}
	if err := ap2.VerifyCartSignature(c, pubKey); err != nil {
		return err
	}

	if time.Now().After(c.ExpiresAt) {
		return apperr.New(apperr.ExpiredCart, "cart mandate has expired", map[string]any{"expires_at": c.ExpiresAt})
	}

	sum, err := c.Subtotal.Add(c.Tax)
	if err != nil {
		return apperr.New(apperr.InvalidAmount, "subtotal/tax currency mismatch", nil)
	}
	sum, err = sum.Add(c.ShippingInfo.Cost)
	if err != nil {
		return apperr.New(apperr.InvalidAmount, "shipping currency mismatch", nil)
	}
	if !sum.Equal(c.Total) {
		return apperr.New(apperr.InvalidAmount, "total does not equal subtotal+tax+shipping.cost", map[string]any{
			"computed": sum.CanonicalString(), "total": c.Total.CanonicalString(),
		})
	}

	if i.Constraints.MaxAmount != nil {
		ok, err := c.Total.LessThanOrEqual(*i.Constraints.MaxAmount)
		if err != nil || !ok {
			return apperr.New(apperr.AmountExceeded, "cart total exceeds intent max_amount", map[string]any{
				"total": c.Total.CanonicalString(), "max_amount": i.Constraints.MaxAmount.CanonicalString(),
			})
		}
	}

	if len(i.Constraints.Categories) > 0 {
		for _, item := range c.Items {
			if item.Category != "" && !contains(i.Constraints.Categories, item.Category) {
				return apperr.New(apperr.ConstraintViolation, "item category not permitted by intent constraints", map[string]any{"category": item.Category})
			}
		}
	}
	if len(i.Constraints.Brands) > 0 {
		for _, item := range c.Items {
			if item.Brand != "" && !contains(i.Constraints.Brands, item.Brand) {
				return apperr.New(apperr.ConstraintViolation, "item brand not permitted by intent constraints", map[string]any{"brand": item.Brand})
			}
		}
	}
	if len(i.Constraints.Merchants) > 0 && !contains(i.Constraints.Merchants, c.MerchantID) {
		return apperr.New(apperr.ConstraintViolation, "merchant not permitted by intent constraints", map[string]any{"merchant_id": c.MerchantID})
	}

	if c.MandateMetadata.PreviousMandateHash != "" {
		intentHash, err := ap2.HashIntent(i)
		if err == nil && c.MandateMetadata.PreviousMandateHash != intentHash {
			return apperr.New(apperr.InvalidMandateChain, "cart previous_mandate_hash does not match intent hash", nil)
		}
	}

	return nil
}

// VerifyPayment checks user signature validity, expiry, chain linkage,
// amount/currency equality, merchant signature inheritance, device
// attestation, and the max_transactions invariant.
func (v *Verifier) VerifyPayment(ctx context.Context, p ap2.PaymentMandate, c ap2.CartMandate, i ap2.IntentMandate) error {
	if p.UserSignature.Value == "" {
		return apperr.New(apperr.MissingSignature, "payment mandate has no user_signature", nil)
	}
	// The payment carries no user_public_key of its own; the payer's
	// authorizing key is the one the chain's IntentMandate binds.
	if i.UserPublicKey == "" {
		return apperr.New(apperr.PublicKeyUnresolvable, "intent mandate has no user_public_key", nil)
	}
	pubKey, err := resolveKey(ctx, v.keys, i.UserPublicKey)
	if err != nil {
		return err
	}
	if err := ap2.VerifyPaymentSignature(p, pubKey); err != nil {
		return err
	}

	if time.Now().After(p.ExpiresAt) {
		return apperr.New(apperr.ExpiredPayment, "payment mandate has expired", map[string]any{"expires_at": p.ExpiresAt})
	}

	if p.CartMandateID != c.ID {
		return apperr.New(apperr.InvalidMandateChain, "payment.cart_mandate_id does not reference this cart", nil)
	}
	if p.IntentMandateID != i.ID {
		return apperr.New(apperr.InvalidMandateChain, "payment.intent_mandate_id does not reference this intent", nil)
	}

	if !p.Amount.Equal(c.Total) {
		return apperr.New(apperr.InvalidAmount, "payment amount does not equal cart total", map[string]any{
			"payment_amount": p.Amount.CanonicalString(), "cart_total": c.Total.CanonicalString(),
		})
	}

	if p.MerchantSignature.Value == "" || p.MerchantSignature.Value != c.MerchantSignature.Value {
		return apperr.New(apperr.InvalidMandateChain, "payment merchant_signature does not match cart merchant_signature", nil)
	}

	if p.DeviceAttestation != nil {
		if err := ap2.VerifyDeviceAttestation(*p.DeviceAttestation, p.ID, attestationMaxAge); err != nil {
			return err
		}
	}

	maxTx := i.Constraints.MaxTransactions
	if maxTx <= 0 {
		maxTx = 1
	}
	v.mu.Lock()
	count := len(v.byIntent[i.ID])
	v.mu.Unlock()
	if count >= maxTx {
		return apperr.New(apperr.ConstraintViolation, "intent max_transactions reached", map[string]any{
			"intent_id": i.ID, "max_transactions": maxTx, "recorded": count,
		})
	}

	return nil
}

// VerifyChain runs VerifyIntent, VerifyCart, and VerifyPayment in order
// and, on success, records the transaction in the intent_id->[payment_id]
// ledger used for max_transactions enforcement.
func (v *Verifier) VerifyChain(ctx context.Context, p ap2.PaymentMandate, c ap2.CartMandate, i ap2.IntentMandate) error {
	if err := v.VerifyIntent(ctx, i); err != nil {
		return err
	}
	if err := v.VerifyCart(ctx, c, i); err != nil {
		return err
	}
	if err := v.VerifyPayment(ctx, p, c, i); err != nil {
		return err
	}

	v.mu.Lock()
	v.byIntent[i.ID] = append(v.byIntent[i.ID], p.ID)
	v.mu.Unlock()
	return nil
}

// TransactionCount returns how many payments have been recorded against
// intentID, used by the Credential Provider and Payment Processor for
// additional max_transactions checks outside of VerifyChain itself.
func (v *Verifier) TransactionCount(intentID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.byIntent[intentID])
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}
