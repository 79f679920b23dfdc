// Package ledger persists Payment Processor transactions and the
// intent_mandate_id -> [payment_mandate_id] index. Both an in-memory
// store and a MongoDB-backed store are provided behind the Store
// interface.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
)

// State is a transaction's position in the authorize/capture/refund
// state machine.
type State string

const (
	StateInit        State = "INIT"
	StateAuthorizing State = "AUTHORIZING"
	StateAuthorized  State = "AUTHORIZED"
	StateCapturing   State = "CAPTURING"
	StateCaptured    State = "CAPTURED"
	StateRefunding   State = "REFUNDING"
	StateRefunded    State = "REFUNDED"
	StateFailed      State = "FAILED"
)

var (
	ErrNotFound      = errors.New("ledger: transaction not found")
	ErrAlreadyExists = errors.New("ledger: transaction already exists")
	ErrInvalidState  = errors.New("ledger: invalid state transition")
)

// Transaction is one row of the transaction ledger.
type Transaction struct {
	ID                  string                 `bson:"_id" json:"id"`
	PaymentMandateID    string                 `bson:"payment_mandate_id" json:"payment_mandate_id"`
	IntentMandateID     string                 `bson:"intent_mandate_id" json:"intent_mandate_id"`
	CartMandateID       string                 `bson:"cart_mandate_id" json:"cart_mandate_id"`
	Status              State                  `bson:"status" json:"status"`
	Amount              string                 `bson:"amount" json:"amount"`
	Currency            string                 `bson:"currency" json:"currency"`
	RiskScore           int                    `bson:"risk_score" json:"risk_score"`
	DeviceAttestation   *ap2.DeviceAttestation `bson:"device_attestation,omitempty" json:"device_attestation,omitempty"`
	AuthorizedAt        *time.Time             `bson:"authorized_at,omitempty" json:"authorized_at,omitempty"`
	CapturedAt          *time.Time             `bson:"captured_at,omitempty" json:"captured_at,omitempty"`
	RefundedAt          *time.Time             `bson:"refunded_at,omitempty" json:"refunded_at,omitempty"`
	ErrorCode           string                 `bson:"error,omitempty" json:"error,omitempty"`
	PendingOTPChallenge bool                   `bson:"pending_otp_challenge" json:"pending_otp_challenge"`
	CreatedAt           time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt           time.Time              `bson:"updated_at" json:"updated_at"`
}

// Store is the persistence interface each role-service main.go wires to
// either the in-memory or MongoDB implementation.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	CountByIntent(ctx context.Context, intentMandateID string) (int, error)
}
