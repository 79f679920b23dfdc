package ap2

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/canonical"
)

// Signer produces a Signature over an arbitrary mandate's canonical bytes.
// Two concrete implementations are provided: ECDSASigner (P-256/SHA-256,
// for mandate signatures and JWT interop) and Ed25519Signer (for the
// A2A envelope).
type Signer interface {
	Algorithm() Algorithm
	PublicKeyEncoded() string
	Sign(canonicalBytes []byte) (string, error)
}

// ECDSASigner signs with ECDSA over P-256 and SHA-256.
type ECDSASigner struct {
	priv *ecdsa.PrivateKey
}

// NewECDSASigner wraps an existing P-256 private key.
func NewECDSASigner(priv *ecdsa.PrivateKey) *ECDSASigner {
	return &ECDSASigner{priv: priv}
}

// GenerateECDSAKey creates a fresh P-256 key pair.
func GenerateECDSAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func (s *ECDSASigner) Algorithm() Algorithm { return AlgorithmECDSAP256SHA256 }

func (s *ECDSASigner) PublicKeyEncoded() string {
	return encodeECDSAPublicKey(&s.priv.PublicKey)
}

func (s *ECDSASigner) Sign(canonicalBytes []byte) (string, error) {
	digest := sha256.Sum256(canonicalBytes)
	sig, err := ecdsa.SignASN1(rand.Reader, s.priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("ap2: ecdsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func encodeECDSAPublicKey(pub *ecdsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		// elliptic.Marshal never fails for a valid curve point; fall
		// back to the raw uncompressed point.
		return base64.StdEncoding.EncodeToString(elliptic.Marshal(pub.Curve, pub.X, pub.Y))
	}
	block := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return base64.StdEncoding.EncodeToString(block)
}

func decodeECDSAPublicKey(encoded string) (*ecdsa.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(raw); block != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("ap2: not an ECDSA public key")
		}
		return pub, nil
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, fmt.Errorf("ap2: invalid ECDSA public key encoding")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// Ed25519Signer signs with Ed25519, used for the A2A envelope.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

func GenerateEd25519Key() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

func (s *Ed25519Signer) Algorithm() Algorithm { return AlgorithmEd25519 }

func (s *Ed25519Signer) PublicKeyEncoded() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Sign returns the signature as unpadded base64url: Ed25519 is the A2A
// envelope algorithm, and the envelope wire format mandates base64url
// for signature values.
func (s *Ed25519Signer) Sign(canonicalBytes []byte) (string, error) {
	sig := ed25519.Sign(s.priv, canonicalBytes)
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifySignatureValue verifies signatureValue against canonicalBytes
// using the algorithm and encoded public key carried on the Signature
// itself. Unknown algorithms are rejected, never defaulted.
func VerifySignatureValue(algorithm Algorithm, publicKeyEncoded string, canonicalBytes []byte, signatureValue string) error {
	sigBytes, err := decodeSignatureValue(signatureValue)
	if err != nil {
		return apperr.New(apperr.InvalidSignature, "signature is not valid base64", nil)
	}

	switch algorithm {
	case AlgorithmECDSAP256SHA256:
		pub, err := decodeECDSAPublicKey(publicKeyEncoded)
		if err != nil {
			return apperr.New(apperr.PublicKeyUnresolvable, err.Error(), nil)
		}
		digest := sha256.Sum256(canonicalBytes)
		if !ecdsa.VerifyASN1(pub, digest[:], sigBytes) {
			return apperr.New(apperr.InvalidSignature, "ecdsa verification failed", nil)
		}
		return nil
	case AlgorithmEd25519:
		rawKey, err := base64.StdEncoding.DecodeString(publicKeyEncoded)
		if err != nil || len(rawKey) != ed25519.PublicKeySize {
			return apperr.New(apperr.PublicKeyUnresolvable, "invalid ed25519 public key", nil)
		}
		if !ed25519.Verify(ed25519.PublicKey(rawKey), canonicalBytes, sigBytes) {
			return apperr.New(apperr.InvalidSignature, "ed25519 verification failed", nil)
		}
		return nil
	default:
		return apperr.New(apperr.UnknownAlgorithm, fmt.Sprintf("unknown signature algorithm %q", algorithm), nil)
	}
}

// decodeSignatureValue accepts both the standard padded base64 used for
// mandate signatures and the unpadded base64url used on the
// A2A envelope. The two alphabets only diverge on characters
// the other decoder rejects, so trying them in order is unambiguous.
func decodeSignatureValue(value string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(value); err == nil {
		return b, nil
	}
	return base64.RawURLEncoding.DecodeString(value)
}

// Sign produces a populated Signature for canonicalBytes using signer.
func Sign(signer Signer, canonicalBytes []byte) (Signature, error) {
	value, err := signer.Sign(canonicalBytes)
	if err != nil {
		return Signature{}, err
	}
	return Signature{
		Algorithm: signer.Algorithm(),
		Value:     value,
		PublicKey: signer.PublicKeyEncoded(),
		SignedAt:  time.Now().UTC(),
	}, nil
}

// SignIntent attaches signer's signature to i, covering the canonical
// form minus IntentSignExclude. Seal* stamps mandate_metadata afterward.
func SignIntent(signer Signer, i *IntentMandate) error {
	b, err := canonical.Bytes(i, IntentSignExclude...)
	if err != nil {
		return fmt.Errorf("ap2: canonicalize intent for signing: %w", err)
	}
	sig, err := Sign(signer, b)
	if err != nil {
		return err
	}
	i.UserSignature = sig
	return nil
}

// SignCart attaches the merchant's signature to c. The cart's
// intent_mandate_hash must already be set: the signature binds it.
func SignCart(signer Signer, c *CartMandate) error {
	b, err := canonical.Bytes(c, CartSignExclude...)
	if err != nil {
		return fmt.Errorf("ap2: canonicalize cart for signing: %w", err)
	}
	sig, err := Sign(signer, b)
	if err != nil {
		return err
	}
	c.MerchantSignature = sig
	return nil
}

// SignPayment attaches the user's signature to p. The payment's
// cart_mandate_hash and intent_mandate_hash must already be set.
func SignPayment(signer Signer, p *PaymentMandate) error {
	b, err := canonical.Bytes(p, PaymentSignExclude...)
	if err != nil {
		return fmt.Errorf("ap2: canonicalize payment for signing: %w", err)
	}
	sig, err := Sign(signer, b)
	if err != nil {
		return err
	}
	p.UserSignature = sig
	return nil
}

// VerifyIntentSignature checks i.UserSignature against resolvedKey over
// the same canonical form SignIntent produced.
func VerifyIntentSignature(i IntentMandate, resolvedKey string) error {
	b, err := canonical.Bytes(i, IntentSignExclude...)
	if err != nil {
		return apperr.New(apperr.InvalidRequest, "canonicalization failed", nil)
	}
	return VerifySignatureValue(i.UserSignature.Algorithm, resolvedKey, b, i.UserSignature.Value)
}

// VerifyCartSignature checks c.MerchantSignature against resolvedKey.
func VerifyCartSignature(c CartMandate, resolvedKey string) error {
	b, err := canonical.Bytes(c, CartSignExclude...)
	if err != nil {
		return apperr.New(apperr.InvalidRequest, "canonicalization failed", nil)
	}
	return VerifySignatureValue(c.MerchantSignature.Algorithm, resolvedKey, b, c.MerchantSignature.Value)
}

// VerifyPaymentSignature checks p.UserSignature against resolvedKey.
func VerifyPaymentSignature(p PaymentMandate, resolvedKey string) error {
	b, err := canonical.Bytes(p, PaymentSignExclude...)
	if err != nil {
		return apperr.New(apperr.InvalidRequest, "canonicalization failed", nil)
	}
	return VerifySignatureValue(p.UserSignature.Algorithm, resolvedKey, b, p.UserSignature.Value)
}
