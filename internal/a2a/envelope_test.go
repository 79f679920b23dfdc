package a2a

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/nonce"
)

func newSigner(t *testing.T) ap2.Signer {
	t.Helper()
	_, priv, err := ap2.GenerateEd25519Key()
	if err != nil {
		t.Fatalf("GenerateEd25519Key: %v", err)
	}
	return ap2.NewEd25519Signer(priv)
}

func signedMessage(t *testing.T, h *MessageHandler, recipient, dataType string, payload any) *Message {
	t.Helper()
	msg, err := h.BuildResponse(recipient, dataType, payload, true)
	if err != nil {
		t.Fatalf("BuildResponse: %v", err)
	}
	return msg
}

func TestVerifyMessageHappyPath(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()

	sender := New("did:ap2:agent:sa", signer, nonces, nil)
	recipient := New("did:ap2:agent:ma", signer, nonces, nil)

	msg := signedMessage(t, sender, "did:ap2:agent:ma", "ap2.requests.ProductSearch", map[string]string{"q": "shoes"})

	if err := recipient.VerifyMessage(context.Background(), msg); err != nil {
		t.Fatalf("expected valid message to verify, got %v", err)
	}
}

func TestVerifyMessageRejectsRecipientMismatch(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()

	sender := New("did:ap2:agent:sa", signer, nonces, nil)
	recipient := New("did:ap2:agent:ma", signer, nonces, nil)

	msg := signedMessage(t, sender, "did:ap2:agent:someone_else", "ap2.requests.ProductSearch", map[string]string{"q": "shoes"})

	err := recipient.VerifyMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("expected recipient mismatch to be rejected")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.RecipientMismatch {
		t.Fatalf("expected RECIPIENT_MISMATCH, got %v", err)
	}
}

func TestVerifyMessageRejectsStaleTimestamp(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()

	sender := New("did:ap2:agent:sa", signer, nonces, nil)
	recipient := New("did:ap2:agent:ma", signer, nonces, nil)

	msg := signedMessage(t, sender, "did:ap2:agent:ma", "ap2.requests.ProductSearch", map[string]string{"q": "shoes"})
	msg.Header.Timestamp = time.Now().Add(-301 * time.Second)
	// Re-sign since timestamp is covered by the signature.
	resignEnvelope(t, sender, msg)

	err := recipient.VerifyMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("expected stale timestamp to be rejected")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.MessageTimestampSkew {
		t.Fatalf("expected MESSAGE_TIMESTAMP_SKEW, got %v", err)
	}
}

func TestVerifyMessageRejectsReplay(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()

	sender := New("did:ap2:agent:sa", signer, nonces, nil)
	recipient := New("did:ap2:agent:ma", signer, nonces, nil)

	msg := signedMessage(t, sender, "did:ap2:agent:ma", "ap2.requests.ProductSearch", map[string]string{"q": "shoes"})

	if err := recipient.VerifyMessage(context.Background(), msg); err != nil {
		t.Fatalf("first delivery should verify: %v", err)
	}
	err := recipient.VerifyMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("expected replay of the same message_id to be rejected")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.MessageReplay {
		t.Fatalf("expected MESSAGE_REPLAY, got %v", err)
	}
}

func TestVerifyMessageRejectsMutatedPayload(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()

	sender := New("did:ap2:agent:sa", signer, nonces, nil)
	recipient := New("did:ap2:agent:ma", signer, nonces, nil)

	msg := signedMessage(t, sender, "did:ap2:agent:ma", "ap2.requests.ProductSearch", map[string]string{"q": "shoes"})
	msg.DataPart.Payload = json.RawMessage(`{"q":"tampered"}`)

	err := recipient.VerifyMessage(context.Background(), msg)
	if err == nil {
		t.Fatal("expected mutated payload to invalidate the envelope signature")
	}
}

func TestDispatchUnknownTypeFailsClosed(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()
	h := New("did:ap2:agent:ma", signer, nonces, nil)

	msg := &Message{
		Header:   Header{Sender: "did:ap2:agent:sa", Recipient: "did:ap2:agent:ma", Timestamp: time.Now()},
		DataPart: DataPart{Type: "ap2.mandates.Nonexistent"},
	}
	_, err := h.Dispatch(context.Background(), msg)
	if err == nil {
		t.Fatal("expected dispatch of an unregistered type to fail closed")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.ErrCode != apperr.MethodNotFound {
		t.Fatalf("expected METHOD_NOT_FOUND, got %v", err)
	}
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()
	h := New("did:ap2:agent:ma", signer, nonces, nil)

	called := false
	h.RegisterHandler("ap2.requests.ProductSearch", func(ctx context.Context, from string, payload json.RawMessage) (any, error) {
		called = true
		return map[string]string{"ok": "true"}, nil
	})

	msg := &Message{
		Header:   Header{Sender: "did:ap2:agent:sa", Recipient: "did:ap2:agent:ma", Timestamp: time.Now()},
		DataPart: DataPart{Type: "ap2.requests.ProductSearch"},
	}
	if _, err := h.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !called {
		t.Fatal("expected registered handler to be invoked")
	}
}

func TestBuildErrorResponseUsesErrorType(t *testing.T) {
	signer := newSigner(t)
	nonces := nonce.New(nonce.DefaultTTL)
	defer nonces.Close()
	h := New("did:ap2:agent:ma", signer, nonces, nil)

	msg, err := h.BuildErrorResponse("did:ap2:agent:sa", apperr.InvalidRequest, "bad request", nil)
	if err != nil {
		t.Fatalf("BuildErrorResponse: %v", err)
	}
	if msg.DataPart.Type != "ap2.errors.Error" {
		t.Fatalf("expected dataPart.type ap2.errors.Error, got %q", msg.DataPart.Type)
	}
	if msg.Header.Signature == nil {
		t.Fatal("expected error response to be signed")
	}
}

func resignEnvelope(t *testing.T, h *MessageHandler, msg *Message) {
	t.Helper()
	msg.Header.Signature = nil
	if err := h.signEnvelope(msg); err != nil {
		t.Fatalf("signEnvelope: %v", err)
	}
}
