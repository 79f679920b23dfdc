package audit

import "time"

// Envelope wraps every audit event published by a role service.
type Envelope struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	SchemaVersion  string         `json:"schema_version"`
	IdempotencyKey string         `json:"idempotency_key"`
	Timestamp      time.Time      `json:"timestamp"`
	Source         string         `json:"source"`
	Data           map[string]any `json:"data"`
}

// Mandate lifecycle events.
type MandateSignedData struct {
	MandateType string `json:"mandate_type"` // intent | cart | payment
	MandateID   string `json:"mandate_id"`
	MandateHash string `json:"mandate_hash"`
	SignerRole  string `json:"signer_role"`
}

type MandateRejectedData struct {
	MandateType string `json:"mandate_type"`
	MandateID   string `json:"mandate_id"`
	ErrorCode   string `json:"error_code"`
	ErrorMsg    string `json:"error_message"`
}

// Payment processor lifecycle events.
type PaymentAuthorizedData struct {
	TransactionID    string `json:"transaction_id"`
	PaymentMandateID string `json:"payment_mandate_id"`
	IntentMandateID  string `json:"intent_mandate_id"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	RiskScore        int    `json:"risk_score"`
}

type PaymentCapturedData struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type PaymentRefundedData struct {
	TransactionID string `json:"transaction_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason,omitempty"`
}

type PaymentFailedData struct {
	TransactionID string `json:"transaction_id"`
	ErrorCode     string `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

// Credential provider events.
type DeviceAttestationVerifiedData struct {
	PaymentMandateID string `json:"payment_mandate_id"`
	Outcome          string `json:"outcome"` // verified | challenge_required | rejected
}

type OTPChallengeIssuedData struct {
	TransactionID string `json:"transaction_id"`
	RiskScore     int    `json:"risk_score"`
}

// Event type constants, grouped by role.
const (
	EventMandateSigned   = "ap2.mandate.signed"
	EventMandateRejected = "ap2.mandate.rejected"

	EventPaymentAuthorized = "ap2.payment.authorized"
	EventPaymentCaptured   = "ap2.payment.captured"
	EventPaymentRefunded   = "ap2.payment.refunded"
	EventPaymentFailed     = "ap2.payment.failed"

	EventDeviceAttestationVerified = "ap2.credential.device_attestation_verified"
	EventOTPChallengeIssued        = "ap2.credential.otp_challenge_issued"
)
