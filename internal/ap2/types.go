// Package ap2 implements the AP2 mandate data model: the three
// mandate types and their hash linkage, the signing and verification
// primitives, and the sealing helpers role services use to build
// Intent/Cart/Payment mandates.
package ap2

import (
	"time"

	"github.com/ap2-labs/ap2-reference/internal/money"
)

// Algorithm identifies a signature scheme. Unknown values must be
// rejected by verifiers, never defaulted.
type Algorithm string

const (
	AlgorithmECDSAP256SHA256 Algorithm = "ECDSA-P256-SHA256"
	AlgorithmEd25519         Algorithm = "Ed25519"
)

// TransactionType records whether the user was present for the
// payment; "human_present" is never emitted or accepted.
type TransactionType string

const (
	TransactionUserPresent    TransactionType = "user_present"
	TransactionUserNotPresent TransactionType = "user_not_present"
)

// Signature is computed over the canonical form of its owning object with
// all signature-carrying fields (including this one) excluded.
type Signature struct {
	Algorithm Algorithm `json:"algorithm"`
	Value     string    `json:"value"`      // base64(signature bytes)
	PublicKey string    `json:"public_key"` // base64(SPKI-PEM) or "<DID>#<fragment>"
	SignedAt  time.Time `json:"signed_at"`
}

// Constraints restricts what an IntentMandate authorizes.
type Constraints struct {
	MaxAmount             *money.Amount `json:"max_amount,omitempty"`
	Categories            []string      `json:"categories,omitempty"`
	Brands                []string      `json:"brands,omitempty"`
	Merchants             []string      `json:"merchants,omitempty"`
	SKUs                  []string      `json:"skus,omitempty"`
	ValidFrom             *time.Time    `json:"valid_from,omitempty"`
	ValidUntil            *time.Time    `json:"valid_until,omitempty"`
	MaxTransactions       int           `json:"max_transactions"`
	RequiresRefundability bool          `json:"requires_refundability,omitempty"`
}

// AuditTrailEntry records one signing/issuance step in a mandate's life.
type AuditTrailEntry struct {
	Action             string    `json:"action"`
	SignerID           string    `json:"signer_id"`
	SignedAt           time.Time `json:"signed_at"`
	SignatureAlgorithm Algorithm `json:"signature_algorithm,omitempty"`
	MandateType        string    `json:"mandate_type"`
	InheritedFrom      string    `json:"inherited_from,omitempty"`
}

// MandateMetadata is the chain primitive shared by all three mandate
// types.
type MandateMetadata struct {
	MandateHash         string            `json:"mandate_hash"`
	SchemaVersion       string            `json:"schema_version"`
	Issuer              string            `json:"issuer"`
	IssuedAt            time.Time         `json:"issued_at"`
	PreviousMandateHash string            `json:"previous_mandate_hash,omitempty"`
	Nonce               string            `json:"nonce"`
	AuditTrail          []AuditTrailEntry `json:"audit_trail"`
}

// IntentMandate is the user's signed authorization of shopping intent.
type IntentMandate struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Version         string          `json:"version"`
	UserID          string          `json:"user_id"`
	UserPublicKey   string          `json:"user_public_key"`
	Intent          string          `json:"intent"`
	Constraints     Constraints     `json:"constraints"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	UserSignature   Signature       `json:"user_signature"`
	MandateMetadata MandateMetadata `json:"mandate_metadata"`
	AgentSignal     string          `json:"agent_signal,omitempty"`
	RiskPayload     map[string]any  `json:"risk_payload,omitempty"`
}

// CartItem is a single line item in a CartMandate.
type CartItem struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Quantity   int          `json:"quantity"`
	UnitPrice  money.Amount `json:"unit_price"`
	TotalPrice money.Amount `json:"total_price"`
	Category   string       `json:"category,omitempty"`
	Brand      string       `json:"brand,omitempty"`
	SKU        string       `json:"sku,omitempty"`
}

// Shipping describes delivery terms for a CartMandate.
type Shipping struct {
	Address           string       `json:"address"`
	Method            string       `json:"method"`
	Cost              money.Amount `json:"cost"`
	EstimatedDelivery time.Time    `json:"estimated_delivery"`
}

// CartMandate is the merchant-signed offer derived from an IntentMandate.
type CartMandate struct {
	ID                string          `json:"id"`
	IntentMandateID   string          `json:"intent_mandate_id"`
	Items             []CartItem      `json:"items"`
	Subtotal          money.Amount    `json:"subtotal"`
	Tax               money.Amount    `json:"tax"`
	ShippingInfo      Shipping        `json:"shipping"`
	Total             money.Amount    `json:"total"`
	MerchantID        string          `json:"merchant_id"`
	MerchantName      string          `json:"merchant_name"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	MerchantSignature Signature       `json:"merchant_signature"`
	IntentMandateHash string          `json:"intent_mandate_hash"`
	MandateMetadata   MandateMetadata `json:"mandate_metadata"`
}

// PaymentMethod identifies the instrument used for a PaymentMandate.
type PaymentMethod struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	Last4       string `json:"last4,omitempty"`
	Brand       string `json:"brand,omitempty"`
	ExpiryMonth int    `json:"expiry_month,omitempty"`
	ExpiryYear  int    `json:"expiry_year,omitempty"`
}

// DeviceAttestation is a fresh device-bound signature proving user
// presence. The covered tuple is {device_id,
// payment_mandate_id, challenge, timestamp, attestation_type, platform}.
type DeviceAttestation struct {
	DeviceID         string    `json:"device_id"`
	AttestationType  string    `json:"attestation_type"`
	AttestationValue string    `json:"attestation_value"`
	Timestamp        time.Time `json:"timestamp"`
	DevicePublicKey  string    `json:"device_public_key"`
	Challenge        string    `json:"challenge"`
	Platform         string    `json:"platform"`
	OSVersion        string    `json:"os_version,omitempty"`
	AppVersion       string    `json:"app_version,omitempty"`
}

// PaymentMandate is the final signed authorization submitted to the
// Payment Processor.
type PaymentMandate struct {
	ID                string             `json:"id"`
	CartMandateID     string             `json:"cart_mandate_id"`
	IntentMandateID   string             `json:"intent_mandate_id"`
	PaymentMethod     PaymentMethod      `json:"payment_method"`
	Amount            money.Amount       `json:"amount"`
	TransactionType   TransactionType    `json:"transaction_type"`
	AgentInvolved     bool               `json:"agent_involved"`
	PayerID           string             `json:"payer_id"`
	PayeeID           string             `json:"payee_id"`
	CreatedAt         time.Time          `json:"created_at"`
	ExpiresAt         time.Time          `json:"expires_at"`
	MerchantSignature Signature          `json:"merchant_signature"`
	UserSignature     Signature          `json:"user_signature"`
	DeviceAttestation *DeviceAttestation `json:"device_attestation,omitempty"`
	RiskScore         *int               `json:"risk_score,omitempty"`
	FraudIndicators   []string           `json:"fraud_indicators,omitempty"`
	CartMandateHash   string             `json:"cart_mandate_hash"`
	IntentMandateHash string             `json:"intent_mandate_hash"`
	UserAuthorization string             `json:"user_authorization"`
	MandateMetadata   MandateMetadata    `json:"mandate_metadata"`
}

// TransactionResult is returned by the Payment Processor to the Shopping
// Agent at the end of authorize/capture.
type TransactionResult struct {
	TransactionID string    `json:"transaction_id"`
	Status        string    `json:"status"`
	ErrorCode     string    `json:"error_code,omitempty"`
	ReceiptURL    string    `json:"receipt_url,omitempty"`
	AuthorizedAt  time.Time `json:"authorized_at,omitempty"`
	CapturedAt    time.Time `json:"captured_at,omitempty"`
}

// SchemaVersion is stamped into every MandateMetadata.
const SchemaVersion = "ap2/0.1"
