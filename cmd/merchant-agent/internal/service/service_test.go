package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/clients"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/money"
)

func testCatalog() []clients.Product {
	return []clients.Product{
		{SKU: "sku-1", Name: "Trail Runner Sneaker", Category: "footwear", Brand: "Acme", UnitPrice: money.MustNew("89.99", "USD"), InventoryCount: 10, PopularityRank: 1},
		{SKU: "sku-2", Name: "Road Runner Sneaker", Category: "footwear", Brand: "Acme", UnitPrice: money.MustNew("59.99", "USD"), InventoryCount: 10, PopularityRank: 2},
		{SKU: "sku-3", Name: "Ultra Marathon Sneaker", Category: "footwear", Brand: "Acme", UnitPrice: money.MustNew("149.99", "USD"), InventoryCount: 10, PopularityRank: 3},
		{SKU: "sku-4", Name: "Leather Belt", Category: "accessories", Brand: "Acme", UnitPrice: money.MustNew("19.99", "USD"), InventoryCount: 5, PopularityRank: 4},
	}
}

// fakeMerchant stands in for the Merchant's REST surface (GET
// /products, POST /sign/cart) so the Merchant Agent's candidate
// generation can be exercised without a live merchant.
func fakeMerchant(t *testing.T, catalog []clients.Product, signStatus func(ap2.CartMandate) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/products":
			_ = json.NewEncoder(w).Encode(map[string]any{"products": catalog})
		case "/sign/cart":
			var body struct {
				CartMandate ap2.CartMandate `json:"cart_mandate"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode sign/cart body: %v", err)
			}
			status := "signed"
			if signStatus != nil {
				status = signStatus(body.CartMandate)
			}
			cart := body.CartMandate
			if status == "signed" {
				cart.MerchantSignature = ap2.Signature{Algorithm: ap2.AlgorithmECDSAP256SHA256, Value: "fake-sig", PublicKey: "did:ap2:merchant:test#key-1"}
			}
			_ = json.NewEncoder(w).Encode(clients.SignCartResult{Status: status, Payload: cart})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestService(t *testing.T, catalog []clients.Product, signStatus func(ap2.CartMandate) string) (*Service, func()) {
	t.Helper()
	srv := fakeMerchant(t, catalog, signStatus)
	merchantClient := clients.NewMerchantClient(srv.URL)
	svc := New(merchantClient, nil, "merchant_test_001", time.Hour)
	return svc, srv.Close
}

func intentFor(text string, constraints ap2.Constraints) ap2.IntentMandate {
	maxAmount := money.MustNew("500.00", "USD")
	if constraints.MaxAmount == nil {
		constraints.MaxAmount = &maxAmount
	}
	now := time.Now().UTC()
	return ap2.IntentMandate{
		ID:          ap2.NewIntentID(),
		UserID:      "user_test_001",
		Intent:      text,
		Constraints: constraints,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
}

func TestGenerateCandidatesProducesUpToThreeStrategies(t *testing.T) {
	svc, closeSrv := newTestService(t, testCatalog(), nil)
	defer closeSrv()

	intent := intentFor("buy running sneakers", ap2.Constraints{})
	artifacts, err := svc.GenerateCandidates(context.Background(), intent)
	if err != nil {
		t.Fatalf("GenerateCandidates: %v", err)
	}
	if len(artifacts) == 0 || len(artifacts) > 3 {
		t.Fatalf("expected between 1 and 3 candidate artifacts, got %d", len(artifacts))
	}
	for _, a := range artifacts {
		if len(a.Parts) == 0 {
			t.Fatalf("expected each candidate artifact to carry at least one part, got %+v", a)
		}
	}
}

func TestGenerateCandidatesNoMatchingCatalogItemsFails(t *testing.T) {
	svc, closeSrv := newTestService(t, testCatalog(), nil)
	defer closeSrv()

	intent := intentFor("buy a spaceship", ap2.Constraints{Categories: []string{"spacecraft"}})
	if _, err := svc.GenerateCandidates(context.Background(), intent); err == nil {
		t.Fatal("expected no catalog items to match and GenerateCandidates to fail")
	}
}

func TestGenerateCandidatesPartialSigningFailureStillSucceeds(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	svc, closeSrv := newTestService(t, testCatalog(), func(ap2.CartMandate) string {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return "pending_merchant_signature"
		}
		return "signed"
	})
	defer closeSrv()

	intent := intentFor("buy running sneakers", ap2.Constraints{})
	artifacts, err := svc.GenerateCandidates(context.Background(), intent)
	if err != nil {
		t.Fatalf("GenerateCandidates: %v", err)
	}
	if len(artifacts) == 0 {
		t.Fatal("expected at least one candidate to succeed even with a pending-signature response mixed in")
	}
}

func TestGenerateCandidatesSKUAllowListIsExact(t *testing.T) {
	svc, closeSrv := newTestService(t, testCatalog(), nil)
	defer closeSrv()

	intent := intentFor("buy something", ap2.Constraints{SKUs: []string{"sku-4"}})
	artifacts, err := svc.GenerateCandidates(context.Background(), intent)
	if err != nil {
		t.Fatalf("GenerateCandidates: %v", err)
	}
	if len(artifacts) == 0 {
		t.Fatal("expected the sku allow-list to still match sku-4")
	}
}

func TestSearchProductsReturnsFullCatalog(t *testing.T) {
	svc, closeSrv := newTestService(t, testCatalog(), nil)
	defer closeSrv()

	products, err := svc.SearchProducts(context.Background())
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if len(products) != len(testCatalog()) {
		t.Fatalf("expected %d products, got %d", len(testCatalog()), len(products))
	}
}
