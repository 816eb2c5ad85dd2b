package analysis

import (
	"math"

	"github.com/project-million/scanner-cli/internal/model"
)

// Market growth rates recognized by the composite score. Anything else
// maps to the lowest ordinal.
const (
	GrowthRapidlyGrowing = "rapidly_growing"
	GrowthGrowing        = "growing"
	GrowthStable         = "stable"
	GrowthDeclining      = "declining"
)

// FinancialAnalysis is the structured result of the financial dimension.
type FinancialAnalysis struct {
	HealthScore                float64 `json:"health_score"`
	ProfitMargin               float64 `json:"profit_margin"`
	RevenueMultiple            float64 `json:"revenue_multiple"`
	EarningsQuality            string  `json:"earnings_quality"`
	AutomationOpportunityScore float64 `json:"automation_opportunity_score"`
	Notes                      string  `json:"notes,omitempty"`
}

// StrategicAnalysis is the structured result of the strategic dimension.
type StrategicAnalysis struct {
	ValueScore          float64  `json:"value_score"`
	OwnershipModel      string   `json:"ownership_model"`
	SellerFinancing     bool     `json:"seller_financing"`
	GovernmentContracts bool     `json:"government_contracts"`
	StrategicFlags      []string `json:"strategic_flags"`
	GrowthOpportunities []string `json:"growth_opportunities"`
}

// MarketAnalysis is the structured result of the market dimension.
type MarketAnalysis struct {
	GrowthRate       string   `json:"growth_rate"`
	CompetitionLevel string   `json:"competition_level"`
	MarketSize       string   `json:"market_size"`
	Trends           []string `json:"trends,omitempty"`
}

// RiskAnalysis is the structured result of the risk dimension.
type RiskAnalysis struct {
	OverallScore      float64  `json:"overall_score"`
	KeyRisks          []string `json:"key_risks"`
	ResilienceFactors []string `json:"resilience_factors"`
}

// ComprehensiveAnalysis bundles the four dimensional payloads, the two
// narratives, the composite score, and the convenience fields promoted
// onto the business record.
type ComprehensiveAnalysis struct {
	Financial FinancialAnalysis `json:"financial"`
	Strategic StrategicAnalysis `json:"strategic"`
	Market    MarketAnalysis    `json:"market"`
	Risk      RiskAnalysis      `json:"risk"`

	InvestmentThesis string `json:"investment_thesis"`
	ExecutiveSummary string `json:"executive_summary"`

	CompositeScore float64 `json:"composite_score"`

	// Recomputed from the candidate's raw price/profit fields, never
	// taken from AI output.
	CapRate      float64 `json:"cap_rate"`
	PaybackYears float64 `json:"payback_years"`
}

// GrowthOrdinal maps a market growth rate onto the fixed ordinal scale
// used by the composite score.
func GrowthOrdinal(rate string) float64 {
	switch rate {
	case GrowthRapidlyGrowing:
		return 0.9
	case GrowthGrowing:
		return 0.7
	case GrowthStable:
		return 0.5
	default:
		return 0.3
	}
}

// CompositeScore computes the weighted figure of merit in [0,1]:
// 30% financial health, 30% strategic value, 20% market growth ordinal,
// 20% inverted risk. Rounded to two decimals.
func CompositeScore(fin FinancialAnalysis, strat StrategicAnalysis, market MarketAnalysis, risk RiskAnalysis) float64 {
	score := 0.3*fin.HealthScore +
		0.3*strat.ValueScore +
		0.2*GrowthOrdinal(market.GrowthRate) +
		0.2*(1-risk.OverallScore)
	return clamp01(math.Round(score*100) / 100)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ApplyTo promotes the analysis onto a business record: composite score,
// derived ratios, and the convenience fields lifted from the dimensional
// payloads.
func (ca *ComprehensiveAnalysis) ApplyTo(b *model.Business) {
	auto := clamp01(ca.Financial.AutomationOpportunityScore)
	composite := ca.CompositeScore
	capRate := ca.CapRate
	payback := ca.PaybackYears
	financing := ca.Strategic.SellerFinancing
	gov := ca.Strategic.GovernmentContracts

	b.AutomationOpportunityScore = &auto
	b.CompositeScore = &composite
	b.CapRate = &capRate
	b.PaybackYears = &payback
	b.SellerFinancing = &financing
	b.GovernmentContracts = &gov
	b.StrategicFlags = ca.Strategic.StrategicFlags
	b.ResilienceFactors = ca.Risk.ResilienceFactors

	ownership := model.OwnershipOwnerOperated
	if model.ValidOwnershipModel(ca.Strategic.OwnershipModel) {
		ownership = model.OwnershipModel(ca.Strategic.OwnershipModel)
	}
	b.OwnershipModel = &ownership
}
