package ap2

import "testing"

func TestHashIntentIsDeterministic(t *testing.T) {
	priv, err := GenerateECDSAKey()
	if err != nil {
		t.Fatalf("GenerateECDSAKey: %v", err)
	}
	signer := NewECDSASigner(priv)
	intent := IntentMandate{
		ID:            NewIntentID(),
		Type:          "IntentMandate",
		Version:       SchemaVersion,
		UserID:        "user_1",
		UserPublicKey: signer.PublicKeyEncoded(),
		Intent:        "buy shoes",
	}

	h1, err := HashIntent(intent)
	if err != nil {
		t.Fatalf("HashIntent: %v", err)
	}
	h2, err := HashIntent(intent)
	if err != nil {
		t.Fatalf("HashIntent: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d: %s", len(h1), h1)
	}
}

func TestHashIntentChangesWithContent(t *testing.T) {
	base := IntentMandate{ID: "intent_a", Intent: "buy shoes"}
	mutated := base
	mutated.Intent = "buy socks"

	h1, err := HashIntent(base)
	if err != nil {
		t.Fatalf("HashIntent: %v", err)
	}
	h2, err := HashIntent(mutated)
	if err != nil {
		t.Fatalf("HashIntent: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected different content to produce different hashes")
	}
}

func TestHashIntentExcludesSignatureAndOwnHash(t *testing.T) {
	intent := IntentMandate{ID: "intent_a", Intent: "buy shoes"}

	h1, err := HashIntent(intent)
	if err != nil {
		t.Fatalf("HashIntent: %v", err)
	}

	withSig := intent
	withSig.UserSignature = Signature{Value: "anything", Algorithm: AlgorithmEd25519}
	withSig.MandateMetadata.MandateHash = "deadbeef"

	h2, err := HashIntent(withSig)
	if err != nil {
		t.Fatalf("HashIntent: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("signature/mandate_hash fields leaked into the hash: %s vs %s", h1, h2)
	}
}
