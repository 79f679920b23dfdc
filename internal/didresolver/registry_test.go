package didresolver

import (
	"context"
	"testing"
)

func TestMerchantRegistryUpsertAndGet(t *testing.T) {
	r := NewMerchantRegistry()
	r.Upsert(MerchantRecord{
		DID:                  "did:ap2:merchant:shoes",
		Name:                 "Shoe Co.",
		Endpoint:             "http://localhost:8082",
		PublicKeyPEM:         "pem-bytes",
		VerificationMethodID: "did:ap2:merchant:shoes#mandate",
		Status:               "active",
		TrustScore:           0.8,
	})

	rec, ok := r.Get("did:ap2:merchant:shoes")
	if !ok {
		t.Fatal("expected registered merchant to be found")
	}
	if rec.TrustScore != 0.8 || rec.Status != "active" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be stamped")
	}
}

func TestMerchantRegistryUpsertPreservesCreatedAt(t *testing.T) {
	r := NewMerchantRegistry()
	r.Upsert(MerchantRecord{DID: "did:ap2:merchant:shoes", TrustScore: 0.5})
	first, _ := r.Get("did:ap2:merchant:shoes")

	r.Upsert(MerchantRecord{DID: "did:ap2:merchant:shoes", TrustScore: 0.9})
	second, _ := r.Get("did:ap2:merchant:shoes")

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("expected created_at to survive an upsert")
	}
	if second.TrustScore != 0.9 {
		t.Fatalf("expected trust score to update, got %v", second.TrustScore)
	}
}

func TestMerchantRecordDocumentSeedsResolver(t *testing.T) {
	rec := MerchantRecord{
		DID:                  "did:ap2:merchant:shoes",
		PublicKeyPEM:         "pem-bytes",
		VerificationMethodID: "did:ap2:merchant:shoes#mandate",
	}
	resolver := New()
	resolver.Register(rec.Document())

	got := resolver.ResolvePublicKey(context.Background(), "did:ap2:merchant:shoes#mandate")
	if got != "pem-bytes" {
		t.Fatalf("ResolvePublicKey = %q, want the registry row's key", got)
	}
}
