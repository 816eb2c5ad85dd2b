package model

import (
	"math"
	"time"
)

// OwnershipModel classifies how a business is operated day to day.
type OwnershipModel string

const (
	OwnershipOwnerOperated   OwnershipModel = "owner_operated"
	OwnershipManagerOperated OwnershipModel = "manager_operated"
	OwnershipFranchise       OwnershipModel = "franchise"
	OwnershipCorporate       OwnershipModel = "corporate"
	OwnershipPartnership     OwnershipModel = "partnership"
)

// ValidOwnershipModel reports whether s is a known ownership model value.
func ValidOwnershipModel(s string) bool {
	switch OwnershipModel(s) {
	case OwnershipOwnerOperated, OwnershipManagerOperated, OwnershipFranchise,
		OwnershipCorporate, OwnershipPartnership:
		return true
	}
	return false
}

// Listing is a raw business-for-sale record as produced by a discovery
// source, before any analysis. Name, price, revenue, profit, sector,
// location, and source are required at creation time.
type Listing struct {
	BusinessName    string `json:"business_name" yaml:"business_name"`
	AskingPrice     int64  `json:"asking_price" yaml:"asking_price"`
	AnnualRevenue   int64  `json:"annual_revenue" yaml:"annual_revenue"`
	AnnualNetProfit int64  `json:"annual_net_profit" yaml:"annual_net_profit"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	URL             string `json:"url,omitempty" yaml:"url,omitempty"`
	Source          string `json:"source" yaml:"source"`
	Sector          string `json:"sector" yaml:"sector"`
	Location        string `json:"location" yaml:"location"`
}

// Valid reports whether the listing carries every field required at
// creation. Monetary fields must be non-negative; profit and price must
// be positive so the derived ratios stay defined.
func (l Listing) Valid() bool {
	return l.BusinessName != "" &&
		l.Source != "" &&
		l.Sector != "" &&
		l.Location != "" &&
		l.AskingPrice > 0 &&
		l.AnnualRevenue >= 0 &&
		l.AnnualNetProfit > 0
}

// CapRate returns annual net profit over asking price as a percentage,
// rounded to one decimal.
func (l Listing) CapRate() float64 {
	if l.AskingPrice == 0 {
		return 0
	}
	return round1(float64(l.AnnualNetProfit) / float64(l.AskingPrice) * 100)
}

// PaybackYears returns asking price over annual net profit, rounded to
// one decimal.
func (l Listing) PaybackYears() float64 {
	if l.AnnualNetProfit == 0 {
		return 0
	}
	return round1(float64(l.AskingPrice) / float64(l.AnnualNetProfit))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Business is a candidate record under research: the listing plus every
// derived analysis field. The natural key is (business_name, source);
// rediscovery updates the existing row in place.
type Business struct {
	ID string `json:"id"`

	BusinessName    string `json:"business_name"`
	AskingPrice     int64  `json:"asking_price"`
	AnnualRevenue   int64  `json:"annual_revenue"`
	AnnualNetProfit int64  `json:"annual_net_profit"`
	Description     string `json:"description,omitempty"`
	URL             string `json:"url,omitempty"`
	Source          string `json:"source"`
	Sector          string `json:"sector"`
	Location        string `json:"location"`

	// Derived by analysis; unset until first analysis.
	AutomationOpportunityScore *float64        `json:"automation_opportunity_score,omitempty"`
	CompositeScore             *float64        `json:"composite_score,omitempty"`
	OwnershipModel             *OwnershipModel `json:"ownership_model,omitempty"`
	SellerFinancing            *bool           `json:"seller_financing,omitempty"`
	GovernmentContracts        *bool           `json:"government_contracts,omitempty"`
	StrategicFlags             []string        `json:"strategic_flags,omitempty"`
	ResilienceFactors          []string        `json:"resilience_factors,omitempty"`
	CapRate                    *float64        `json:"cap_rate,omitempty"`
	PaybackYears               *float64        `json:"payback_years,omitempty"`

	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"`
}

// FromListing builds a business record from a discovered listing. Derived
// fields stay unset until analysis fills them in.
func FromListing(l Listing) Business {
	return Business{
		BusinessName:    l.BusinessName,
		AskingPrice:     l.AskingPrice,
		AnnualRevenue:   l.AnnualRevenue,
		AnnualNetProfit: l.AnnualNetProfit,
		Description:     l.Description,
		URL:             l.URL,
		Source:          l.Source,
		Sector:          l.Sector,
		Location:        l.Location,
		IsActive:        true,
	}
}

// Listing reconstructs the raw listing portion of a business record.
func (b Business) Listing() Listing {
	return Listing{
		BusinessName:    b.BusinessName,
		AskingPrice:     b.AskingPrice,
		AnnualRevenue:   b.AnnualRevenue,
		AnnualNetProfit: b.AnnualNetProfit,
		Description:     b.Description,
		URL:             b.URL,
		Source:          b.Source,
		Sector:          b.Sector,
		Location:        b.Location,
	}
}
