// Package a2a implements the agent-to-agent message envelope: signing,
// verification, dispatch-by-type, and response/error-envelope builders.
// Routing is a registry keyed on dataPart.type; unknown types fail
// closed with method_not_found, never silently succeed.
package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/canonical"
	"github.com/ap2-labs/ap2-reference/internal/nonce"
	"github.com/google/uuid"
)

// FreshnessWindow bounds the allowed clock skew between a message's
// header.timestamp and the verifier's clock.
const FreshnessWindow = 300 * time.Second

// Header carries routing, identity, timestamp, and signature metadata
// for an A2A message.
type Header struct {
	MessageID     string         `json:"message_id"`
	Sender        string         `json:"sender"`
	Recipient     string         `json:"recipient"`
	Timestamp     time.Time      `json:"timestamp"`
	SchemaVersion string         `json:"schema_version"`
	Signature     *ap2.Signature `json:"signature,omitempty"`
}

// DataPart carries the typed payload of an A2A message.
type DataPart struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Message is the full A2A envelope.
type Message struct {
	Header   Header   `json:"header"`
	DataPart DataPart `json:"dataPart"`
}

// Artifact wraps a mandate or result inside an A2A dataPart payload.
type Artifact struct {
	ArtifactID string         `json:"artifactId"`
	Name       string         `json:"name"`
	Parts      []ArtifactPart `json:"parts"`
}

type ArtifactPart struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// KeyResolver resolves a public key from either an explicit signature
// public_key field or, if that looks like a DID reference, through the
// DID resolver. Implementations MUST return an error (never a zero-value
// success) when resolution fails.
type KeyResolver interface {
	ResolvePublicKey(ctx context.Context, kid string) string
}

// Handler processes one dataPart.type's payload once its envelope has
// been verified.
type Handler func(ctx context.Context, from string, payload json.RawMessage) (any, error)

// MessageHandler implements verify_message/dispatch/build_response/
// build_error_response.
type MessageHandler struct {
	selfDID string
	signer  ap2.Signer
	nonces  *nonce.Manager
	keys    KeyResolver
	routes  map[string]Handler
}

// New creates a MessageHandler for the service identified by selfDID.
func New(selfDID string, signer ap2.Signer, nonces *nonce.Manager, keys KeyResolver) *MessageHandler {
	return &MessageHandler{
		selfDID: selfDID,
		signer:  signer,
		nonces:  nonces,
		keys:    keys,
		routes:  make(map[string]Handler),
	}
}

// RegisterHandler binds dataType to handler, per the role's handler
// registration table.
func (h *MessageHandler) RegisterHandler(dataType string, handler Handler) {
	h.routes[dataType] = handler
}

// VerifyMessage canonicalizes msg with header.signature excluded,
// resolves the sender's public key, verifies the signature, enforces
// recipient==self, enforces the freshness window, and enforces nonce
// single-use.
func (h *MessageHandler) VerifyMessage(ctx context.Context, msg *Message) error {
	if msg.Header.Signature == nil {
		return apperr.New(apperr.MissingSignature, "A2A message has no header.signature", nil)
	}
	if msg.Header.Recipient != h.selfDID {
		return apperr.New(apperr.RecipientMismatch, "message recipient does not match this service", map[string]any{
			"expected": h.selfDID, "got": msg.Header.Recipient,
		})
	}
	if skew := time.Since(msg.Header.Timestamp); skew > FreshnessWindow || skew < -FreshnessWindow {
		return apperr.New(apperr.MessageTimestampSkew, "message timestamp outside freshness window", map[string]any{
			"skew_seconds": skew.Seconds(),
		})
	}

	pubKey := msg.Header.Signature.PublicKey
	if h.keys != nil && looksLikeDID(pubKey) {
		resolved := h.keys.ResolvePublicKey(ctx, pubKey)
		if resolved == "" {
			return apperr.New(apperr.PublicKeyUnresolvable, "could not resolve sender public key", map[string]any{"kid": pubKey})
		}
		pubKey = resolved
	}

	canonicalBytes, err := canonical.Bytes(msg, "header.signature")
	if err != nil {
		return apperr.New(apperr.InvalidRequest, "canonicalization failed", nil)
	}
	if err := ap2.VerifySignatureValue(msg.Header.Signature.Algorithm, pubKey, canonicalBytes, msg.Header.Signature.Value); err != nil {
		return err
	}

	if !h.nonces.CheckAndRecord(msg.Header.MessageID) {
		return apperr.New(apperr.MessageReplay, "message_id already seen within TTL", map[string]any{"message_id": msg.Header.MessageID})
	}
	return nil
}

func looksLikeDID(s string) bool {
	return len(s) > 4 && s[:4] == "did:"
}

// Dispatch looks up a handler by dataPart.type and invokes it. A missing
// handler yields a method_not_found error, never a silent success.
func (h *MessageHandler) Dispatch(ctx context.Context, msg *Message) (any, error) {
	handler, ok := h.routes[msg.DataPart.Type]
	if !ok {
		slog.WarnContext(ctx, "a2a: no handler registered", "type", msg.DataPart.Type)
		return nil, apperr.New(apperr.MethodNotFound, fmt.Sprintf("no handler for type %q", msg.DataPart.Type), nil)
	}
	return handler(ctx, msg.Header.Sender, msg.DataPart.Payload)
}

// BuildResponse populates a response envelope addressed to recipient,
// optionally signing it. When payload should be
// wrapped as an Artifact, the caller passes an *Artifact as data.
func (h *MessageHandler) BuildResponse(recipient string, dataType string, data any, sign bool) (*Message, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal response payload: %w", err)
	}

	msg := &Message{
		Header: Header{
			MessageID:     uuid.NewString(),
			Sender:        h.selfDID,
			Recipient:     recipient,
			Timestamp:     time.Now().UTC(),
			SchemaVersion: ap2.SchemaVersion,
		},
		DataPart: DataPart{
			Type:    dataType,
			ID:      uuid.NewString(),
			Payload: payload,
		},
	}

	if sign {
		if err := h.signEnvelope(msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// BuildArtifact wraps payload under the Artifact structure used when a
// response carries a signed mandate.
func BuildArtifact(name string, dataType string, payload any) (*Artifact, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var asMap map[string]any
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	return &Artifact{
		ArtifactID: uuid.NewString(),
		Name:       name,
		Parts: []ArtifactPart{{
			Kind: "data",
			Data: map[string]any{dataType: asMap},
		}},
	}, nil
}

// BuildErrorResponse constructs an ap2.errors.Error envelope.
func (h *MessageHandler) BuildErrorResponse(recipient string, code apperr.Code, message string, details map[string]any) (*Message, error) {
	errPayload := apperr.New(code, message, details)
	return h.BuildResponse(recipient, "ap2.errors.Error", errPayload, true)
}

func (h *MessageHandler) signEnvelope(msg *Message) error {
	if h.signer == nil {
		return fmt.Errorf("a2a: no signer configured")
	}
	canonicalBytes, err := canonical.Bytes(msg, "header.signature")
	if err != nil {
		return fmt.Errorf("a2a: canonicalize for signing: %w", err)
	}
	sig, err := ap2.Sign(h.signer, canonicalBytes)
	if err != nil {
		return err
	}
	msg.Header.Signature = &sig
	return nil
}
