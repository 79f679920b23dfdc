package ap2

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ap2-labs/ap2-reference/internal/canonical"
)

// Exclusion lists used when hashing each mandate type. Signature fields
// and the mandate's own mandate_hash are always excluded.
var (
	IntentExclude = []string{"user_signature", "mandate_metadata.mandate_hash"}
	CartExclude   = []string{"merchant_signature", "mandate_metadata.mandate_hash"}
	PaymentExclude = []string{
		"merchant_signature",
		"user_signature",
		"mandate_metadata.mandate_hash",
	}
)

// Exclusion lists used when producing or verifying a mandate signature.
// A signature covers the mandate with every signature-carrying field
// removed: the signature fields themselves and the whole
// mandate_metadata block, whose audit_trail records the signatures and
// whose nonce/issued_at are stamped by Seal* only after signing. The
// payment's user_authorization token is likewise derived after signing
// (it embeds a hash of the signed payment) and so is excluded; the
// hash-linkage fields cart_mandate_hash and intent_mandate_hash are NOT
// excluded and must be populated before signing so the signature binds
// the chain.
var (
	IntentSignExclude = []string{"user_signature", "mandate_metadata"}
	CartSignExclude   = []string{"merchant_signature", "mandate_metadata"}
	PaymentSignExclude = []string{
		"merchant_signature",
		"user_signature",
		"mandate_metadata",
		"user_authorization",
	}
)

// MandateHash returns the hex-encoded SHA-256 of v's canonical bytes with
// exclude stripped first.
func MandateHash(v interface{}, exclude ...string) (string, error) {
	b, err := canonical.Bytes(v, exclude...)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashIntent computes the canonical mandate_hash of an IntentMandate.
func HashIntent(i IntentMandate) (string, error) {
	return MandateHash(i, IntentExclude...)
}

// HashCart computes the canonical mandate_hash of a CartMandate.
func HashCart(c CartMandate) (string, error) {
	return MandateHash(c, CartExclude...)
}

// HashPayment computes the canonical mandate_hash of a PaymentMandate.
func HashPayment(p PaymentMandate) (string, error) {
	return MandateHash(p, PaymentExclude...)
}
