// Package apperr defines the enumerated AP2 error codes shared by every
// role service and the Verifier. Every error surfaced across a
// service boundary carries one of these codes plus a structured details
// map, never free-form text only.
package apperr

// Code is one of the enumerated AP2 error codes.
type Code string

const (
	// Signature
	MissingSignature      Code = "MISSING_SIGNATURE"
	InvalidSignature      Code = "INVALID_SIGNATURE"
	UnknownAlgorithm      Code = "UNKNOWN_ALGORITHM"
	PublicKeyUnresolvable Code = "PUBLIC_KEY_UNRESOLVABLE"

	// Mandate structure / lifecycle
	ExpiredIntent       Code = "EXPIRED_INTENT"
	ExpiredCart         Code = "EXPIRED_CART"
	ExpiredPayment      Code = "EXPIRED_PAYMENT"
	InvalidMandateChain Code = "INVALID_MANDATE_CHAIN"
	ConstraintViolation Code = "CONSTRAINT_VIOLATION"
	InvalidAmount       Code = "INVALID_AMOUNT"
	AmountExceeded      Code = "AMOUNT_EXCEEDED"

	// A2A envelope
	MessageReplay        Code = "MESSAGE_REPLAY"
	MessageTimestampSkew Code = "MESSAGE_TIMESTAMP_SKEW"
	RecipientMismatch    Code = "RECIPIENT_MISMATCH"
	MethodNotFound       Code = "METHOD_NOT_FOUND"
	InvalidRequest       Code = "INVALID_REQUEST"

	// Payment
	InsufficientFunds Code = "INSUFFICIENT_FUNDS"
	CardDeclined      Code = "CARD_DECLINED"
	ExpiredCard       Code = "EXPIRED_CARD"
	FraudSuspected    Code = "FRAUD_SUSPECTED"
	ChallengeRequired Code = "CHALLENGE_REQUIRED"
	OTPInvalid        Code = "OTP_INVALID"
	TokenExpired      Code = "TOKEN_EXPIRED"

	// Inventory / merchant
	InsufficientInventory Code = "INSUFFICIENT_INVENTORY"
	MerchantUnknown       Code = "MERCHANT_UNKNOWN"
	CartRejected          Code = "CART_REJECTED"

	// Credential provider specific
	InvalidToken Code = "INVALID_TOKEN"
	OTPRequired  Code = "OTP_REQUIRED"

	// Internal
	InternalError Code = "INTERNAL_ERROR"
)

// Error is the structured error type carried across every service
// boundary: a typed code, a human-readable message, and a details map.
type Error struct {
	ErrCode    Code           `json:"error_code"`
	ErrMessage string         `json:"error_message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return string(e.ErrCode) + ": " + e.ErrMessage
}

// New builds an *Error with the given code, message, and details.
func New(code Code, message string, details map[string]any) *Error {
	return &Error{ErrCode: code, ErrMessage: message, Details: details}
}

// HTTPStatus maps an error code to the HTTP status used at the httpapi
// boundary.
func (c Code) HTTPStatus() int {
	switch c {
	case MissingSignature, InvalidSignature, UnknownAlgorithm, RecipientMismatch,
		MessageReplay, MessageTimestampSkew, InvalidRequest, InvalidAmount,
		AmountExceeded, ConstraintViolation, InvalidMandateChain,
		ExpiredIntent, ExpiredCart, ExpiredPayment, InvalidToken, TokenExpired,
		OTPInvalid, CartRejected, InsufficientInventory:
		return 400
	case PublicKeyUnresolvable, MerchantUnknown:
		return 404
	case ChallengeRequired, OTPRequired:
		return 402
	case MethodNotFound:
		return 404
	case InsufficientFunds, CardDeclined, ExpiredCard, FraudSuspected:
		return 402
	default:
		return 500
	}
}
