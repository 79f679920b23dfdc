package service

import (
	"context"
	"testing"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/store"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/money"
)

const testMerchantID = "merchant_test_001"

func newTestService(t *testing.T, manualApproval bool) (*Service, *store.Store) {
	t.Helper()
	st := store.New()
	st.SeedCatalog([]store.Product{
		{SKU: "shoe-trail-runner", Name: "Trail Runner Sneaker", Category: "footwear", UnitPrice: money.MustNew("89.99", "USD"), InventoryCount: 5},
	})
	key, err := ap2.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("GenerateECDSAKey() error: %v", err)
	}
	signer := ap2.NewECDSASigner(key)
	svc := New(st, signer, testMerchantID, "Test Running Co.", manualApproval, time.Hour, nil)
	return svc, st
}

func unsignedCart(t *testing.T) ap2.CartMandate {
	t.Helper()
	unitPrice := money.MustNew("89.99", "USD")
	total := money.MustNew("89.99", "USD")
	zero := money.MustNew("0.00", "USD")
	now := time.Now().UTC()
	return ap2.CartMandate{
		ID:              ap2.NewCartID(),
		IntentMandateID: ap2.NewIntentID(),
		Items: []ap2.CartItem{{
			ID: "item_1", Name: "Trail Runner Sneaker", Quantity: 1,
			UnitPrice: unitPrice, TotalPrice: unitPrice, Category: "footwear", SKU: "shoe-trail-runner",
		}},
		Subtotal: total,
		Tax:      zero,
		ShippingInfo: ap2.Shipping{
			Address: "1 Test Way", Method: "standard", Cost: zero, EstimatedDelivery: now.Add(72 * time.Hour),
		},
		Total:             total,
		MerchantID:        testMerchantID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(30 * time.Minute),
		IntentMandateHash: "deadbeef",
	}
}

func TestSignCart_ImmediateSuccess(t *testing.T) {
	svc, st := newTestService(t, false)
	cart := unsignedCart(t)

	rec, err := svc.SignCart(context.Background(), cart)
	if err != nil {
		t.Fatalf("SignCart() error: %v", err)
	}
	if rec.Status != store.CartSigned {
		t.Fatalf("SignCart() status = %v, want %v", rec.Status, store.CartSigned)
	}
	if rec.Cart.MerchantSignature.Value == "" {
		t.Fatal("SignCart() did not attach a merchant_signature")
	}
	if rec.Cart.MandateMetadata.MandateHash == "" {
		t.Fatal("SignCart() did not seal mandate_metadata")
	}

	p, ok := st.Product("shoe-trail-runner")
	if !ok || p.InventoryCount != 4 {
		t.Fatalf("inventory not decremented, got %+v", p)
	}
}

func TestSignCart_Idempotent(t *testing.T) {
	svc, _ := newTestService(t, false)
	cart := unsignedCart(t)

	first, err := svc.SignCart(context.Background(), cart)
	if err != nil {
		t.Fatalf("first SignCart() error: %v", err)
	}
	second, err := svc.SignCart(context.Background(), cart)
	if err != nil {
		t.Fatalf("second SignCart() error: %v", err)
	}
	if first.Cart.MerchantSignature.Value != second.Cart.MerchantSignature.Value {
		t.Fatal("repeated SignCart() produced a different signature instead of returning the original")
	}
}

func TestSignCart_InsufficientInventory(t *testing.T) {
	svc, _ := newTestService(t, false)
	cart := unsignedCart(t)
	cart.Items[0].Quantity = 99
	cart.Items[0].TotalPrice = money.MustNew("8909.01", "USD")

	_, err := svc.SignCart(context.Background(), cart)
	var appErr *apperr.Error
	if err == nil {
		t.Fatal("expected an error for oversized quantity")
	}
	if ok := asAppErr(err, &appErr); !ok || appErr.ErrCode != apperr.InsufficientInventory {
		t.Fatalf("SignCart() error = %v, want INSUFFICIENT_INVENTORY", err)
	}
}

func TestSignCart_WrongMerchant(t *testing.T) {
	svc, _ := newTestService(t, false)
	cart := unsignedCart(t)
	cart.MerchantID = "someone_else"

	_, err := svc.SignCart(context.Background(), cart)
	var appErr *apperr.Error
	if ok := asAppErr(err, &appErr); !ok || appErr.ErrCode != apperr.MerchantUnknown {
		t.Fatalf("SignCart() error = %v, want MERCHANT_UNKNOWN", err)
	}
}

func TestSignCart_ManualApprovalThenApprove(t *testing.T) {
	svc, st := newTestService(t, true)
	cart := unsignedCart(t)

	rec, err := svc.SignCart(context.Background(), cart)
	if err != nil {
		t.Fatalf("SignCart() error: %v", err)
	}
	if rec.Status != store.CartPendingSignature {
		t.Fatalf("SignCart() status = %v, want %v", rec.Status, store.CartPendingSignature)
	}
	if p, _ := st.Product("shoe-trail-runner"); p.InventoryCount != 4 {
		t.Fatal("manual-approval mode did not tentatively reserve inventory")
	}

	approved, err := svc.Approve(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	if approved.Status != store.CartSigned {
		t.Fatalf("Approve() status = %v, want %v", approved.Status, store.CartSigned)
	}
}

func TestSignCart_ManualApprovalReject(t *testing.T) {
	svc, st := newTestService(t, true)
	cart := unsignedCart(t)

	if _, err := svc.SignCart(context.Background(), cart); err != nil {
		t.Fatalf("SignCart() error: %v", err)
	}

	rejected, err := svc.Reject(context.Background(), cart.ID, "operator declined")
	if err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if rejected.Status != store.CartRejected {
		t.Fatalf("Reject() status = %v, want %v", rejected.Status, store.CartRejected)
	}
	if p, _ := st.Product("shoe-trail-runner"); p.InventoryCount != 5 {
		t.Fatal("Reject() did not release the tentative reservation")
	}
}

func TestSignCart_ArithmeticMismatch(t *testing.T) {
	svc, _ := newTestService(t, false)
	cart := unsignedCart(t)
	cart.Total = money.MustNew("999.99", "USD")

	_, err := svc.SignCart(context.Background(), cart)
	var appErr *apperr.Error
	if ok := asAppErr(err, &appErr); !ok || appErr.ErrCode != apperr.InvalidAmount {
		t.Fatalf("SignCart() error = %v, want INVALID_AMOUNT", err)
	}
}

func asAppErr(err error, target **apperr.Error) bool {
	if e, ok := err.(*apperr.Error); ok {
		*target = e
		return true
	}
	return false
}
