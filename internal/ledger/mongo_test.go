package ledger

import (
	"context"
	"testing"

	"github.com/ap2-labs/ap2-reference/internal/testutil"
)

// TestMongoStoreRoundTrip needs a reachable MongoDB; it skips itself
// otherwise (testutil.NewMongoTestContainer calls t.Skipf).
func TestMongoStoreRoundTrip(t *testing.T) {
	tc := testutil.NewMongoTestContainer(t)
	if tc == nil {
		return
	}
	defer tc.Cleanup(t)

	ctx := context.Background()
	store, err := NewMongoStore(ctx, tc.GetDatabase())
	testutil.AssertNoError(t, err, "NewMongoStore")

	tx := &Transaction{
		ID:               "txn_mongo_1",
		PaymentMandateID: "payment_1",
		IntentMandateID:  "intent_1",
		CartMandateID:    "cart_1",
		Status:           StateAuthorized,
		Amount:           "89.99",
		Currency:         "USD",
	}
	testutil.AssertNoError(t, store.Create(ctx, tx), "first create")
	testutil.AssertError(t, store.Create(ctx, tx), "duplicate transaction id must be rejected")

	got, err := store.Get(ctx, tx.ID)
	testutil.AssertNoError(t, err, "get")
	testutil.AssertEqual(t, StateAuthorized, got.Status)

	got.Status = StateCaptured
	testutil.AssertNoError(t, store.Update(ctx, got), "update")

	count, err := store.CountByIntent(ctx, "intent_1")
	testutil.AssertNoError(t, err, "count by intent")
	testutil.AssertEqual(t, 1, count)
}
