package risk

import (
	"testing"

	"github.com/ap2-labs/ap2-reference/internal/testutil"
)

func TestAssessLowRiskHappyPathApproves(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	result := Assess(payment, cart, intent, History{})

	if result.RiskScore < 0 || result.RiskScore > 100 {
		t.Fatalf("risk_score out of range: %d", result.RiskScore)
	}
	if result.Recommendation != Approve {
		t.Fatalf("expected a clean small transaction to be approved, got %s (score %d, factors %+v)",
			result.Recommendation, result.RiskScore, result.RiskFactors)
	}
}

func TestAssessHighRiskPatternsDecline(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	payment.TransactionType = "user_not_present"
	payment.PaymentMethod.Token = ""
	cart.ShippingInfo.Address = "PO Box 555"
	cart.ShippingInfo.Method = "express"

	hist := History{IsNewUser: true, TransactionCount24h: 10}
	result := Assess(payment, cart, intent, hist)

	if result.RiskScore <= 30 {
		t.Fatalf("expected elevated risk score for a pattern-heavy transaction, got %d", result.RiskScore)
	}
	if len(result.FraudIndicators) == 0 {
		t.Fatal("expected at least one fraud indicator to be raised")
	}
}

func TestAssessRecommendationThresholds(t *testing.T) {
	tests := []struct {
		score int
		want  Recommendation
	}{
		{0, Approve},
		{29, Approve},
		{30, Review},
		{79, Review},
		{80, Decline},
		{100, Decline},
	}
	for _, tt := range tests {
		rec := Approve
		switch {
		case tt.score >= 80:
			rec = Decline
		case tt.score >= 30:
			rec = Review
		}
		if rec != tt.want {
			t.Fatalf("score %d: got %s, want %s", tt.score, rec, tt.want)
		}
	}
}

func TestAssessExhaustedIntentShortCircuitsToDecline(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	result := Assess(payment, cart, intent, History{ExceedsMaxTransactions: true})
	if result.Recommendation != Decline {
		t.Fatalf("expected decline for an exhausted intent, got %s", result.Recommendation)
	}
	if result.RiskScore != 100 {
		t.Fatalf("expected score 100 on short-circuit, got %d", result.RiskScore)
	}
}

func TestAssessClampsScoreWithin0And100(t *testing.T) {
	intent, cart, payment := testutil.Chain()
	result := Assess(payment, cart, intent, History{IsNewUser: true, TransactionCount24h: 999})
	if result.RiskScore < 0 || result.RiskScore > 100 {
		t.Fatalf("risk_score %d escaped [0,100]", result.RiskScore)
	}
}

func TestAssessConstraintViolationRaisesRisk(t *testing.T) {
	intentOK, cart, payment := testutil.Chain()
	baseline := Assess(payment, cart, intentOK, History{})

	tooLow := intentOK
	maxAmount := cart.Total
	maxAmount.Value = maxAmount.Value.Sub(maxAmount.Value) // zero out
	tooLow.Constraints.MaxAmount = &maxAmount

	violating := Assess(payment, cart, tooLow, History{})
	if violating.RiskFactors["constraint_risk"] <= baseline.RiskFactors["constraint_risk"] {
		t.Fatalf("expected constraint_risk to increase when cart exceeds max_amount: baseline=%d violating=%d",
			baseline.RiskFactors["constraint_risk"], violating.RiskFactors["constraint_risk"])
	}
}
