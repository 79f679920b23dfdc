// Package risk implements the weighted risk-assessment engine: a set
// of pure factor scorers feeding one exported Assess entry point.
package risk

import (
	"math"
	"strings"
	"time"

	"github.com/ap2-labs/ap2-reference/internal/ap2"
)

// Recommendation is the risk engine's final verdict.
type Recommendation string

const (
	Approve Recommendation = "approve"
	Review  Recommendation = "review"
	Decline Recommendation = "decline"
)

// Result is the full output of an assessment.
type Result struct {
	RiskScore       int            `json:"risk_score"`
	FraudIndicators []string       `json:"fraud_indicators"`
	RiskFactors     map[string]int `json:"risk_factors"`
	Recommendation  Recommendation `json:"recommendation"`
}

// History summarizes a user's prior transactions, used by pattern_risk.
// ExceedsMaxTransactions short-circuits the whole assessment to decline
// when the intent's transaction budget is already spent.
type History struct {
	TransactionCount24h    int
	AverageAmount          float64
	IsNewUser              bool
	ExceedsMaxTransactions bool
}

const (
	weightAmount          = 2.5
	weightConstraint      = 2.0
	weightAgent           = 0.5
	weightTransactionType = 1.0
	weightPaymentMethod   = 1.2
	weightPattern         = 1.3
	weightShipping        = 0.8
	weightTemporal        = 0.7
)

// Assess scores a PaymentMandate in the context of its Cart and Intent
// mandates and the payer's transaction history.
func Assess(p ap2.PaymentMandate, c ap2.CartMandate, i ap2.IntentMandate, hist History) Result {
	if hist.ExceedsMaxTransactions {
		return Result{
			RiskScore:       100,
			FraudIndicators: []string{"max_transactions_exceeded"},
			RiskFactors:     map[string]int{"constraint_risk": 50},
			Recommendation:  Decline,
		}
	}

	factors := map[string]int{
		"amount_risk":           amountRisk(p),
		"constraint_risk":       constraintRisk(c, i),
		"agent_risk":            agentRisk(p),
		"transaction_type_risk": transactionTypeRisk(p),
		"payment_method_risk":   paymentMethodRisk(p),
		"pattern_risk":          patternRisk(hist),
		"shipping_risk":         shippingRisk(c),
		"temporal_risk":         temporalRisk(i, p),
	}

	weighted := float64(factors["amount_risk"])*weightAmount +
		float64(factors["constraint_risk"])*weightConstraint +
		float64(factors["agent_risk"])*weightAgent +
		float64(factors["transaction_type_risk"])*weightTransactionType +
		float64(factors["payment_method_risk"])*weightPaymentMethod +
		float64(factors["pattern_risk"])*weightPattern +
		float64(factors["shipping_risk"])*weightShipping +
		float64(factors["temporal_risk"])*weightTemporal

	totalWeight := weightAmount + weightConstraint + weightAgent + weightTransactionType +
		weightPaymentMethod + weightPattern + weightShipping + weightTemporal

	score := int(math.Round(weighted / totalWeight))
	score = clamp(score, 0, 100)

	var indicators []string
	if factors["pattern_risk"] > 0 {
		indicators = append(indicators, "unusual_transaction_pattern")
	}
	if factors["payment_method_risk"] > 0 {
		indicators = append(indicators, "payment_method_concern")
	}
	if factors["shipping_risk"] > 0 {
		indicators = append(indicators, "shipping_anomaly")
	}

	rec := Approve
	switch {
	case score >= 80:
		rec = Decline
	case score >= 30:
		rec = Review
	}

	return Result{
		RiskScore:       score,
		FraudIndicators: indicators,
		RiskFactors:     factors,
		Recommendation:  rec,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// amountRisk bands the payment amount at 50/100/500/1k/5k/10k units.
func amountRisk(p ap2.PaymentMandate) int {
	v, _ := p.Amount.Value.Float64()
	switch {
	case v < 50:
		return 0
	case v < 100:
		return 10
	case v < 500:
		return 25
	case v < 1000:
		return 40
	case v < 5000:
		return 60
	case v < 10000:
		return 70
	default:
		return 80
	}
}

func constraintRisk(c ap2.CartMandate, i ap2.IntentMandate) int {
	if i.Constraints.MaxAmount != nil {
		if ok, err := c.Total.LessThanOrEqual(*i.Constraints.MaxAmount); err != nil || !ok {
			return 50
		}
	}
	return 0
}

func agentRisk(p ap2.PaymentMandate) int {
	if p.AgentInvolved {
		return 5
	}
	return 0
}

func transactionTypeRisk(p ap2.PaymentMandate) int {
	if p.TransactionType == ap2.TransactionUserNotPresent {
		return 15
	}
	return 5
}

func paymentMethodRisk(p ap2.PaymentMandate) int {
	risk := 0
	if p.PaymentMethod.Token == "" {
		risk += 15
	}
	if p.PaymentMethod.ExpiryYear != 0 && p.PaymentMethod.ExpiryMonth != 0 {
		expiry := time.Date(p.PaymentMethod.ExpiryYear, time.Month(p.PaymentMethod.ExpiryMonth)+1, 0, 0, 0, 0, 0, time.UTC)
		if expiry.Sub(time.Now()) < 30*24*time.Hour {
			risk += 10
		}
	}
	if risk > 25 {
		risk = 25
	}
	return risk
}

func patternRisk(h History) int {
	risk := 0
	if h.IsNewUser {
		risk += 15
	}
	if h.TransactionCount24h > 5 {
		risk += 15
	}
	if risk > 30 {
		risk = 30
	}
	return risk
}

func shippingRisk(c ap2.CartMandate) int {
	addr := strings.ToLower(c.ShippingInfo.Address)
	risk := 0
	if strings.Contains(addr, "po box") || strings.Contains(addr, "p.o. box") {
		risk += 12
	}
	if strings.Contains(strings.ToLower(c.ShippingInfo.Method), "express") {
		risk += 8
	}
	if risk > 20 {
		risk = 20
	}
	return risk
}

func temporalRisk(i ap2.IntentMandate, p ap2.PaymentMandate) int {
	delta := p.CreatedAt.Sub(i.CreatedAt)
	if delta < 5*time.Second {
		return 15
	}
	if delta > time.Hour {
		return 15
	}
	return 0
}
