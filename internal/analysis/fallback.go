package analysis

import (
	"fmt"
	"math"

	"github.com/project-million/scanner-cli/internal/model"
)

// Fallback values are a first-class contract: every dimension must always
// yield a usable result so a provider outage never stalls the batch. The
// constants here are the documented defaults; ratio fields are computed
// from the candidate's own numbers.

const (
	fallbackHealthScore     = 0.7
	fallbackValueScore      = 0.7
	fallbackRiskScore       = 0.4
	fallbackAutomationScore = 0.5
)

// FallbackFinancial returns the deterministic financial payload used when
// the financial provider fails.
func FallbackFinancial(l model.Listing) FinancialAnalysis {
	var margin, multiple float64
	if l.AnnualRevenue > 0 {
		margin = round2(float64(l.AnnualNetProfit) / float64(l.AnnualRevenue))
		multiple = round2(float64(l.AskingPrice) / float64(l.AnnualRevenue))
	}
	return FinancialAnalysis{
		HealthScore:                fallbackHealthScore,
		ProfitMargin:               margin,
		RevenueMultiple:            multiple,
		EarningsQuality:            "unverified",
		AutomationOpportunityScore: fallbackAutomationScore,
	}
}

// FallbackStrategic returns the deterministic strategic payload used when
// the strategic provider fails.
func FallbackStrategic(l model.Listing) StrategicAnalysis {
	return StrategicAnalysis{
		ValueScore:          fallbackValueScore,
		OwnershipModel:      string(model.OwnershipOwnerOperated),
		SellerFinancing:     false,
		GovernmentContracts: false,
		StrategicFlags:      []string{"requires_analysis"},
		GrowthOpportunities: []string{"operational_review"},
	}
}

// FallbackMarket returns the deterministic market payload used when the
// market provider fails.
func FallbackMarket(l model.Listing) MarketAnalysis {
	return MarketAnalysis{
		GrowthRate:       GrowthStable,
		CompetitionLevel: "moderate",
		MarketSize:       "unknown",
	}
}

// FallbackRisk returns the deterministic risk payload used when the risk
// provider fails.
func FallbackRisk(l model.Listing) RiskAnalysis {
	return RiskAnalysis{
		OverallScore:      fallbackRiskScore,
		KeyRisks:          []string{"limited_data"},
		ResilienceFactors: []string{"essential-service"},
	}
}

// FallbackThesis returns the templated investment thesis used when the
// narrative provider fails.
func FallbackThesis(l model.Listing) string {
	return fmt.Sprintf(
		"%s is a %s business in %s listed at %s with %s in annual net profit. "+
			"A full AI-generated thesis was unavailable for this analysis; the "+
			"composite score reflects structured metrics only.",
		l.BusinessName, l.Sector, l.Location,
		formatMoney(l.AskingPrice), formatMoney(l.AnnualNetProfit),
	)
}

// FallbackSummary returns the templated executive summary used when the
// narrative provider fails.
func FallbackSummary(l model.Listing) string {
	return fmt.Sprintf(
		"Automated summary unavailable for %s (%s). Review the structured "+
			"financial, market, strategic, and risk payloads for details.",
		l.BusinessName, l.Sector,
	)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
