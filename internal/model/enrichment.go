package model

import "time"

// EnrichmentRecord holds the AI-derived narrative and the four structured
// dimensional payloads for a business. One-to-one with Business, keyed by
// BusinessID, and replaced wholesale on every re-analysis — never patched
// field by field.
type EnrichmentRecord struct {
	ID         string `json:"id"`
	BusinessID string `json:"business_id"`

	AISummary string `json:"ai_summary,omitempty"`

	// Opaque structured payloads, stored as JSON columns. They are
	// produced as typed analysis structs and marshalled at the store
	// boundary.
	FinancialProjections []byte `json:"financial_projections,omitempty"`
	MarketAnalysis       []byte `json:"market_analysis,omitempty"`
	GrowthOpportunities  []byte `json:"growth_opportunities,omitempty"`
	RiskFactors          []byte `json:"risk_factors,omitempty"`

	// Mirrors the business's composite score.
	ConfidenceScore float64 `json:"confidence_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
