// Package service implements the Merchant Agent role:
// deterministic candidate-cart generation against one merchant's
// catalog, parallel merchant-signing fan-out, and forwarding of the
// shopper's assembled PaymentMandate on to the Payment Processor.
// Candidate signing fans out one goroutine per strategy; individual
// failures are logged and dropped as long as one candidate succeeds.
package service

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ap2-labs/ap2-reference/cmd/merchant-agent/internal/clients"
	"github.com/ap2-labs/ap2-reference/internal/a2a"
	"github.com/ap2-labs/ap2-reference/internal/ap2"
	"github.com/ap2-labs/ap2-reference/internal/apperr"
	"github.com/ap2-labs/ap2-reference/internal/money"
	"github.com/ap2-labs/ap2-reference/internal/risk"
)

// shippingCost is the flat standard-shipping fee stamped onto every
// generated candidate cart; the reference merchant catalog carries no
// per-product shipping rule.
const shippingFee = "5.99"

type Service struct {
	merchant   *clients.MerchantClient
	pp         *clients.PaymentProcessorClient
	merchantID string
	cartTTL    time.Duration
}

func New(merchant *clients.MerchantClient, pp *clients.PaymentProcessorClient, merchantID string, cartTTL time.Duration) *Service {
	return &Service{merchant: merchant, pp: pp, merchantID: merchantID, cartTTL: cartTTL}
}

// strategy is one of the three deterministic candidate-generation
// strategies: popular, budget, premium.
type strategy struct {
	name  string
	pick  func([]clients.Product) []clients.Product
}

func strategies() []strategy {
	return []strategy{
		{name: "popular", pick: func(p []clients.Product) []clients.Product {
			return topN(p, 3, func(i, j clients.Product) bool { return i.PopularityRank < j.PopularityRank })
		}},
		{name: "budget", pick: func(p []clients.Product) []clients.Product {
			return topN(p, 3, func(i, j clients.Product) bool { return i.UnitPrice.Value.LessThan(j.UnitPrice.Value) })
		}},
		{name: "premium", pick: func(p []clients.Product) []clients.Product {
			return topN(p, 2, func(i, j clients.Product) bool { return i.UnitPrice.Value.GreaterThan(j.UnitPrice.Value) })
		}},
	}
}

// SearchProducts returns the merchant's catalog unfiltered, backing the
// "ap2.requests.ProductSearch" handler.
func (s *Service) SearchProducts(ctx context.Context) ([]clients.Product, error) {
	return s.merchant.ListProducts(ctx)
}

// GenerateCandidates builds up to three candidate CartMandates from the
// merchant's catalog, signs each in parallel via the Merchant, and
// returns one Artifact per candidate that a strategy actually produced.
// Individual signing failures are logged and dropped, not propagated,
// as long as at least one candidate succeeds.
func (s *Service) GenerateCandidates(ctx context.Context, intent ap2.IntentMandate) ([]*a2a.Artifact, error) {
	catalog, err := s.merchant.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	matching := filterByIntent(catalog, intent)
	if len(matching) == 0 {
		return nil, apperr.New(apperr.InvalidRequest, "no catalog items match the intent", nil)
	}

	candidates := make([][]clients.Product, 0, 3)
	for _, strat := range strategies() {
		picked := strat.pick(matching)
		if len(picked) == 0 {
			continue
		}
		candidates = append(candidates, picked)
	}

	type signResult struct {
		artifact *a2a.Artifact
		err      error
	}
	results := make([]signResult, len(candidates))
	var wg sync.WaitGroup
	for i, items := range candidates {
		wg.Add(1)
		go func(idx int, items []clients.Product) {
			defer wg.Done()
			artifact, err := s.buildAndSignCandidate(ctx, intent, items)
			results[idx] = signResult{artifact: artifact, err: err}
		}(i, items)
	}
	wg.Wait()

	artifacts := make([]*a2a.Artifact, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			slog.ErrorContext(ctx, "candidate cart generation failed", "error", r.err)
			continue
		}
		artifacts = append(artifacts, r.artifact)
	}
	if len(artifacts) == 0 {
		return nil, apperr.New(apperr.InternalError, "no candidate cart could be signed", nil)
	}
	return artifacts, nil
}

func (s *Service) buildAndSignCandidate(ctx context.Context, intent ap2.IntentMandate, items []clients.Product) (*a2a.Artifact, error) {
	cart, err := s.buildUnsignedCart(intent, items)
	if err != nil {
		return nil, err
	}

	rec, err := s.merchant.SignCart(ctx, cart)
	if err != nil {
		return nil, err
	}

	dataType := "ap2.responses.SignedCartMandate"
	if rec.Status == "pending_merchant_signature" {
		dataType = "ap2.responses.CartMandatePending"
	}
	return a2a.BuildArtifact(rec.Payload.ID, dataType, rec)
}

func (s *Service) buildUnsignedCart(intent ap2.IntentMandate, items []clients.Product) (ap2.CartMandate, error) {
	currency := "USD"
	if intent.Constraints.MaxAmount != nil {
		currency = intent.Constraints.MaxAmount.Currency
	}

	cartItems := make([]ap2.CartItem, 0, len(items))
	subtotal := money.MustNew("0.00", currency)
	for _, p := range items {
		unit := p.UnitPrice
		sum, err := subtotal.Add(unit)
		if err != nil {
			return ap2.CartMandate{}, apperr.New(apperr.InvalidAmount, "catalog currency mismatch", map[string]any{"sku": p.SKU})
		}
		subtotal = sum
		cartItems = append(cartItems, ap2.CartItem{
			ID:         "item_" + p.SKU,
			Name:       p.Name,
			Quantity:   1,
			UnitPrice:  unit,
			TotalPrice: unit,
			Category:   p.Category,
			Brand:      p.Brand,
			SKU:        p.SKU,
		})
	}

	shipping := money.MustNew(shippingFee, currency)
	total, err := subtotal.Add(shipping)
	if err != nil {
		return ap2.CartMandate{}, apperr.New(apperr.InvalidAmount, "shipping currency mismatch", nil)
	}

	now := time.Now().UTC()
	return ap2.CartMandate{
		ID:              ap2.NewCartID(),
		IntentMandateID: intent.ID,
		Items:           cartItems,
		Subtotal:        subtotal,
		Tax:             money.MustNew("0.00", currency),
		ShippingInfo: ap2.Shipping{
			Address:           "on file",
			Method:            "standard",
			Cost:              shipping,
			EstimatedDelivery: now.Add(72 * time.Hour),
		},
		Total:             total,
		MerchantID:        s.merchantID,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.cartTTL),
		IntentMandateHash: intent.MandateMetadata.MandateHash,
	}, nil
}

// ForwardPayment relays a shopper-assembled PaymentMandate, with the
// cart and intent mandates it chains to, on to the Payment Processor.
func (s *Service) ForwardPayment(ctx context.Context, payment ap2.PaymentMandate, cart ap2.CartMandate, intent ap2.IntentMandate, riskResult *risk.Result, otp string) (*ap2.TransactionResult, error) {
	return s.pp.Authorize(ctx, payment, cart, intent, riskResult, otp)
}

// filterByIntent narrows the catalog to products matching the intent's
// free-text description and explicit constraints (categories, brands,
// skus). SKUs, when present, are an exact allow-list; otherwise category
// and brand constraints narrow the set, and free text is matched against
// product name/category as a final keyword filter.
func filterByIntent(catalog []clients.Product, intent ap2.IntentMandate) []clients.Product {
	c := intent.Constraints
	skuSet := toSet(c.SKUs)
	categorySet := toSet(c.Categories)
	brandSet := toSet(c.Brands)
	keywords := keywordsOf(intent.Intent)

	out := make([]clients.Product, 0, len(catalog))
	for _, p := range catalog {
		if len(skuSet) > 0 {
			if skuSet[p.SKU] {
				out = append(out, p)
			}
			continue
		}
		if len(categorySet) > 0 && !categorySet[strings.ToLower(p.Category)] {
			continue
		}
		if len(brandSet) > 0 && !brandSet[strings.ToLower(p.Brand)] {
			continue
		}
		if len(keywords) > 0 && !matchesKeywords(p, keywords) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesKeywords(p clients.Product, keywords []string) bool {
	haystack := strings.ToLower(p.Name + " " + p.Category + " " + p.Brand)
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// keywordsOf extracts words of length > 3 from free text, skipping the
// common filler words a shopping intent typically carries ("buy",
// "under", "for", currency amounts).
func keywordsOf(text string) []string {
	stop := map[string]bool{"under": true, "over": true, "less": true, "than": true, "with": true, "that": true}
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) <= 3 || stop[w] || isNumeric(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '$' {
			return false
		}
	}
	return len(s) > 0
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = true
	}
	return out
}

func topN(products []clients.Product, n int, less func(i, j clients.Product) bool) []clients.Product {
	sorted := make([]clients.Product, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
