// Package service implements the Merchant role: unsigned
// CartMandate validation, atomic inventory reservation, merchant
// signing, and the manual-approval operator workflow.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/merchant/internal/store"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/audit"
)

type Service struct {
	store          *store.Store
	signer         *ap2.ECDSASigner
	merchantID     string
	merchantName   string
	manualApproval bool
	maxCartTTL     time.Duration
	audit          *audit.Publisher
}

func New(st *store.Store, signer *ap2.ECDSASigner, merchantID, merchantName string, manualApproval bool, maxCartTTL time.Duration, pub *audit.Publisher) *Service {
	return &Service{
		store:          st,
		signer:         signer,
		merchantID:     merchantID,
		merchantName:   merchantName,
		manualApproval: manualApproval,
		maxCartTTL:     maxCartTTL,
		audit:          pub,
	}
}

// SignCart validates an
// unsigned CartMandate candidate, reserves the line items' inventory,
// and either signs immediately or parks the cart
// pending_merchant_signature when the merchant runs in manual-approval
// mode. Repeated calls for the same cart.ID return the original record:
// cart_mandate_id is the idempotency key.
func (s *Service) SignCart(ctx context.Context, cart ap2.CartMandate) (*store.CartRecord, error) {
	if existing, ok := s.store.GetCart(cart.ID); ok {
		return existing, nil
	}

	if cart.MerchantID != s.merchantID {
		return nil, apperr.New(apperr.MerchantUnknown, "cart does not reference this merchant", map[string]any{
			"expected": s.merchantID, "got": cart.MerchantID,
		})
	}

	reservations := make([]store.Reservation, 0, len(cart.Items))
	for _, item := range cart.Items {
		if item.SKU == "" {
			continue
		}
		if p, ok := s.store.Product(item.SKU); !ok || p.InventoryCount < item.Quantity {
			return nil, apperr.New(apperr.InsufficientInventory, fmt.Sprintf("insufficient inventory for sku %q", item.SKU), map[string]any{"sku": item.SKU})
		}
		reservations = append(reservations, store.Reservation{SKU: item.SKU, Qty: item.Quantity})
	}

	if err := validateArithmetic(cart); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if !cart.ExpiresAt.After(now) {
		return nil, apperr.New(apperr.ExpiredCart, "cart expires_at must be in the future", nil)
	}
	if cart.ExpiresAt.Sub(cart.CreatedAt) > s.maxCartTTL {
		return nil, apperr.New(apperr.InvalidRequest, "cart validity window exceeds configured bound", map[string]any{
			"max_ttl": s.maxCartTTL.String(),
		})
	}

	// The Merchant has no independent view of Shopping Agent intents
	// in this reference topology, so intent_mandate_id is taken on
	// trust; chain verification happens downstream at the Payment
	// Processor.

	if !s.store.Reserve(reservations) {
		return nil, apperr.New(apperr.InsufficientInventory, "inventory changed concurrently, reservation failed", nil)
	}

	rec := &store.CartRecord{
		Status:       store.CartPendingSignature,
		Cart:         cart,
		Reservations: reservations,
		CreatedAt:    now,
	}
	s.store.PutCart(cart.ID, rec)

	if s.manualApproval {
		return rec, nil
	}

	signed, err := s.sign(cart)
	if err != nil {
		s.store.Release(reservations)
		rec.Status = store.CartRejected
		rec.RejectReason = err.Error()
		s.store.PutCart(cart.ID, rec)
		return nil, err
	}

	rec.Status = store.CartSigned
	rec.Cart = signed
	s.store.PutCart(cart.ID, rec)
	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventMandateSigned, cart.ID, map[string]any{
			"mandate_type": "cart",
			"mandate_id":   cart.ID,
			"mandate_hash": signed.MandateMetadata.MandateHash,
			"signer_role":  "merchant",
		})
	}
	return rec, nil
}

// Approve signs a cart left pending_merchant_signature by an operator's
// out-of-band decision.
func (s *Service) Approve(ctx context.Context, cartMandateID string) (*store.CartRecord, error) {
	rec, ok := s.store.GetCart(cartMandateID)
	if !ok {
		return nil, apperr.New(apperr.InvalidRequest, "unknown cart_mandate_id", nil)
	}
	if rec.Status != store.CartPendingSignature {
		return rec, nil
	}

	signed, err := s.sign(rec.Cart)
	if err != nil {
		s.store.Release(rec.Reservations)
		rec.Status = store.CartRejected
		rec.RejectReason = err.Error()
		s.store.PutCart(cartMandateID, rec)
		return nil, err
	}

	rec.Status = store.CartSigned
	rec.Cart = signed
	s.store.PutCart(cartMandateID, rec)
	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventMandateSigned, cartMandateID, map[string]any{
			"mandate_type": "cart",
			"mandate_id":   cartMandateID,
			"mandate_hash": signed.MandateMetadata.MandateHash,
			"signer_role":  "merchant",
		})
	}
	return rec, nil
}

// Reject releases a pending cart's reservation and marks it rejected.
func (s *Service) Reject(ctx context.Context, cartMandateID, reason string) (*store.CartRecord, error) {
	rec, ok := s.store.GetCart(cartMandateID)
	if !ok {
		return nil, apperr.New(apperr.InvalidRequest, "unknown cart_mandate_id", nil)
	}
	if rec.Status == store.CartPendingSignature {
		s.store.Release(rec.Reservations)
	}
	rec.Status = store.CartRejected
	rec.RejectReason = reason
	s.store.PutCart(cartMandateID, rec)
	if s.audit != nil {
		_ = s.audit.Publish(ctx, audit.EventMandateRejected, cartMandateID, map[string]any{
			"mandate_type": "cart",
			"mandate_id":   cartMandateID,
			"error_code":   string(apperr.CartRejected),
			"error_message": reason,
		})
	}
	return rec, nil
}

// Products returns a snapshot of the catalog for the Merchant Agent's
// candidate-generation strategies.
func (s *Service) Products() []store.Product {
	return s.store.Products()
}

// GetCart returns the current record for cartMandateID.
func (s *Service) GetCart(cartMandateID string) (*store.CartRecord, bool) {
	return s.store.GetCart(cartMandateID)
}

// Sweep releases stale pending reservations past ttl; intended to be
// run periodically by main.go.
func (s *Service) Sweep(ttl time.Duration) int {
	return s.store.SweepExpired(ttl)
}

func (s *Service) sign(cart ap2.CartMandate) (ap2.CartMandate, error) {
	cart.MerchantName = s.merchantName

	intentHash := cart.IntentMandateHash
	if err := ap2.SignCart(s.signer, &cart); err != nil {
		return ap2.CartMandate{}, apperr.New(apperr.InternalError, "signing failed", nil)
	}
	if err := ap2.SealCart(&cart, intentHash); err != nil {
		return ap2.CartMandate{}, apperr.New(apperr.InternalError, "failed to seal cart", nil)
	}
	return cart, nil
}

// validateArithmetic re-derives subtotal+tax+shipping.cost and compares
// it to total.
func validateArithmetic(cart ap2.CartMandate) error {
	sum, err := cart.Subtotal.Add(cart.Tax)
	if err != nil {
		return apperr.New(apperr.InvalidAmount, "subtotal/tax currency mismatch", nil)
	}
	sum, err = sum.Add(cart.ShippingInfo.Cost)
	if err != nil {
		return apperr.New(apperr.InvalidAmount, "shipping currency mismatch", nil)
	}
	if !sum.Equal(cart.Total) {
		return apperr.New(apperr.InvalidAmount, "total does not equal subtotal+tax+shipping.cost", map[string]any{
			"computed": sum.CanonicalString(), "total": cart.Total.CanonicalString(),
		})
	}
	return nil
}
