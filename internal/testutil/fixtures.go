// Package testutil provides fixture builders and assertion helpers
// shared by this module's package tests: every fixture here builds a
// fully signed, hash-linked Intent/Cart/Payment mandate triple so
// package tests never hand-roll canonicalization or signing.
package testutil

import (
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/money"
)

// Identities bundles a generated ECDSA key pair with its signer, used to
// stand in for the user's passkey and the merchant's signing key in
// fixture chains.
type Identities struct {
	UserSigner     *ap2.ECDSASigner
	MerchantSigner *ap2.ECDSASigner
}

// NewIdentities generates fresh ECDSA-P256 key pairs for a fixture
// user and merchant.
func NewIdentities() Identities {
	userKey, err := ap2.GenerateECDSAKey()
	if err != nil {
		panic(err)
	}
	merchantKey, err := ap2.GenerateECDSAKey()
	if err != nil {
		panic(err)
	}
	return Identities{
		UserSigner:     ap2.NewECDSASigner(userKey),
		MerchantSigner: ap2.NewECDSASigner(merchantKey),
	}
}

// IntentFixture builds and seals a fully user-signed IntentMandate for
// user "user_test_001" authorizing up to 100.00 USD, one transaction.
func IntentFixture(ids Identities) ap2.IntentMandate {
	maxAmount := money.MustNew("100.00", "USD")
	now := time.Now().UTC()
	intent := ap2.IntentMandate{
		ID:            ap2.NewIntentID(),
		Type:          "IntentMandate",
		Version:       ap2.SchemaVersion,
		UserID:        "user_test_001",
		UserPublicKey: ids.UserSigner.PublicKeyEncoded(),
		Intent:        "buy running shoes under 100 USD",
		Constraints: ap2.Constraints{
			MaxAmount:       &maxAmount,
			MaxTransactions: 1,
		},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	if err := ap2.SignIntent(ids.UserSigner, &intent); err != nil {
		panic(err)
	}
	if err := ap2.SealIntent(&intent); err != nil {
		panic(err)
	}
	return intent
}

// CartFixture builds and seals a merchant-signed CartMandate referencing
// intent, with a single line item totaling 89.99 USD (the S1 happy-path
// scenario's cart).
func CartFixture(ids Identities, intent ap2.IntentMandate) ap2.CartMandate {
	unitPrice := money.MustNew("89.99", "USD")
	subtotal := money.MustNew("89.99", "USD")
	tax := money.MustNew("0.00", "USD")
	shippingCost := money.MustNew("0.00", "USD")
	total := money.MustNew("89.99", "USD")
	now := time.Now().UTC()

	cart := ap2.CartMandate{
		ID:              ap2.NewCartID(),
		IntentMandateID: intent.ID,
		Items: []ap2.CartItem{{
			ID:         "item_1",
			Name:       "Trail Runner Sneaker",
			Quantity:   1,
			UnitPrice:  unitPrice,
			TotalPrice: unitPrice,
			Category:   "footwear",
		}},
		Subtotal: subtotal,
		Tax:      tax,
		ShippingInfo: ap2.Shipping{
			Address:           "1 Test Way, Testville, CA",
			Method:            "standard",
			Cost:              shippingCost,
			EstimatedDelivery: now.Add(72 * time.Hour),
		},
		Total:        total,
		MerchantID:   "merchant_test_001",
		MerchantName: "Test Running Co.",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}

	intentHash, err := ap2.HashIntent(intent)
	if err != nil {
		panic(err)
	}
	cart.IntentMandateHash = intentHash

	if err := ap2.SignCart(ids.MerchantSigner, &cart); err != nil {
		panic(err)
	}
	if err := ap2.SealCart(&cart, intentHash); err != nil {
		panic(err)
	}
	return cart
}

// PaymentFixture builds and seals a user-signed PaymentMandate
// referencing cart and intent, with last4 "4242" (a non-injected,
// successful test card).
func PaymentFixture(ids Identities, intent ap2.IntentMandate, cart ap2.CartMandate) ap2.PaymentMandate {
	now := time.Now().UTC()
	payment := ap2.PaymentMandate{
		ID:              ap2.NewPaymentID(),
		CartMandateID:   cart.ID,
		IntentMandateID: intent.ID,
		PaymentMethod: ap2.PaymentMethod{
			Type:        "CARD",
			Token:       "tok_test_0000000000000000000000000000000000000000000000000000000000000000",
			Last4:       "4242",
			Brand:       "Visa",
			ExpiryMonth: 12,
			ExpiryYear:  2030,
		},
		Amount:            cart.Total,
		TransactionType:   ap2.TransactionUserPresent,
		AgentInvolved:     true,
		PayerID:           intent.UserID,
		PayeeID:           cart.MerchantID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(15 * time.Minute),
		MerchantSignature: cart.MerchantSignature,
	}

	cartHash, err := ap2.HashCart(cart)
	if err != nil {
		panic(err)
	}
	intentHash, err := ap2.HashIntent(intent)
	if err != nil {
		panic(err)
	}
	payment.CartMandateHash = cartHash
	payment.IntentMandateHash = intentHash

	if err := ap2.SignPayment(ids.UserSigner, &payment); err != nil {
		panic(err)
	}
	if err := ap2.SealPayment(&payment, cart, cartHash, intentHash); err != nil {
		panic(err)
	}
	return payment
}

// Chain builds a complete, mutually consistent Intent/Cart/Payment
// fixture triple in one call, for tests that only care about the end
// state (e.g. the verifier or the payment processor).
func Chain() (ap2.IntentMandate, ap2.CartMandate, ap2.PaymentMandate) {
	ids := NewIdentities()
	intent := IntentFixture(ids)
	cart := CartFixture(ids, intent)
	payment := PaymentFixture(ids, intent, cart)
	return intent, cart, payment
}
