package ap2

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// generateRandomID returns a random hex identifier (crypto/rand, not
// math/rand, since mandate and nonce identifiers must be unguessable).
func generateRandomID(prefix string, numBytes int) string {
	b := make([]byte, numBytes)
	_, _ = rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}

// NewNonce returns a random 128-bit hex nonce.
func NewNonce() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// NewIntentID, NewCartID, NewPaymentID mint mandate identifiers.
func NewIntentID() string  { return generateRandomID("intent", 12) }
func NewCartID() string    { return generateRandomID("cart", 12) }
func NewPaymentID() string { return generateRandomID("payment", 12) }

// SealIntent stamps mandate_metadata on an already-populated, already
// user-signed IntentMandate, computing the hash and building the audit
// trail after the caller-supplied signature is attached. IntentMandate construction must
// not embed server-generated signatures: the caller attaches
// UserSignature before calling SealIntent.
func SealIntent(i *IntentMandate) error {
	i.Type = "IntentMandate"
	if i.Version == "" {
		i.Version = SchemaVersion
	}
	i.MandateMetadata = MandateMetadata{
		SchemaVersion: SchemaVersion,
		Issuer:        i.UserID,
		IssuedAt:      time.Now().UTC(),
		Nonce:         NewNonce(),
		AuditTrail: []AuditTrailEntry{{
			Action:             "user_signature",
			SignerID:           i.UserID,
			SignedAt:           i.UserSignature.SignedAt,
			SignatureAlgorithm: i.UserSignature.Algorithm,
			MandateType:        "IntentMandate",
		}},
	}
	hash, err := HashIntent(*i)
	if err != nil {
		return fmt.Errorf("ap2: hash intent: %w", err)
	}
	i.MandateMetadata.MandateHash = hash
	return nil
}

// SealCart finalizes a CartMandate after the merchant has attached
// MerchantSignature, linking it to its IntentMandate by hash.
func SealCart(c *CartMandate, intentHash string) error {
	c.IntentMandateHash = intentHash
	c.MandateMetadata = MandateMetadata{
		SchemaVersion:       SchemaVersion,
		Issuer:              c.MerchantID,
		IssuedAt:            time.Now().UTC(),
		PreviousMandateHash: intentHash,
		Nonce:               NewNonce(),
		AuditTrail: []AuditTrailEntry{{
			Action:             "merchant_signature",
			SignerID:           c.MerchantID,
			SignedAt:           c.MerchantSignature.SignedAt,
			SignatureAlgorithm: c.MerchantSignature.Algorithm,
			MandateType:        "CartMandate",
			InheritedFrom:      intentHash,
		}},
	}
	hash, err := HashCart(*c)
	if err != nil {
		return fmt.Errorf("ap2: hash cart: %w", err)
	}
	c.MandateMetadata.MandateHash = hash
	return nil
}

// SealPayment finalizes a PaymentMandate, linking it to both its
// CartMandate and IntentMandate by hash and computing the opaque
// user_authorization binding token:
//
//	sha256(canonical(Cart)) || "_" || sha256(canonical(Payment\{user_authorization}))
func SealPayment(p *PaymentMandate, cart CartMandate, cartHash, intentHash string) error {
	p.CartMandateHash = cartHash
	p.IntentMandateHash = intentHash
	p.MandateMetadata = MandateMetadata{
		SchemaVersion:       SchemaVersion,
		Issuer:              p.PayerID,
		IssuedAt:            time.Now().UTC(),
		PreviousMandateHash: cartHash,
		Nonce:               NewNonce(),
		AuditTrail: []AuditTrailEntry{
			{
				Action:             "merchant_signature",
				SignerID:           cart.MerchantID,
				SignedAt:           cart.MerchantSignature.SignedAt,
				SignatureAlgorithm: cart.MerchantSignature.Algorithm,
				MandateType:        "PaymentMandate",
				InheritedFrom:      cartHash,
			},
			{
				Action:             "user_signature",
				SignerID:           p.PayerID,
				SignedAt:           p.UserSignature.SignedAt,
				SignatureAlgorithm: p.UserSignature.Algorithm,
				MandateType:        "PaymentMandate",
				InheritedFrom:      cartHash,
			},
		},
	}

	paymentHashForToken, err := MandateHash(*p, append(append([]string{}, PaymentExclude...), "user_authorization")...)
	if err != nil {
		return fmt.Errorf("ap2: hash payment for token: %w", err)
	}
	p.UserAuthorization = cartHash + "_" + paymentHashForToken

	hash, err := HashPayment(*p)
	if err != nil {
		return fmt.Errorf("ap2: hash payment: %w", err)
	}
	p.MandateMetadata.MandateHash = hash
	return nil
}
