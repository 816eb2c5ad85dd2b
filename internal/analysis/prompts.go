package analysis

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/project-million/scanner-cli/internal/model"
)

var moneyPrinter = message.NewPrinter(language.AmericanEnglish)

func formatMoney(v int64) string {
	return moneyPrinter.Sprintf("$%d", v)
}

const analystSystemText = "You are an expert business analyst specializing in acquisition opportunities. Always respond with valid JSON matching the requested schema. Use conservative estimates when data is limited."

func listingContext(l model.Listing) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Business: %s\n", l.BusinessName)
	fmt.Fprintf(&b, "Asking price: %s\n", formatMoney(l.AskingPrice))
	fmt.Fprintf(&b, "Annual revenue: %s\n", formatMoney(l.AnnualRevenue))
	fmt.Fprintf(&b, "Annual net profit: %s\n", formatMoney(l.AnnualNetProfit))
	fmt.Fprintf(&b, "Sector: %s\n", l.Sector)
	fmt.Fprintf(&b, "Location: %s\n", l.Location)
	if l.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", l.Description)
	}
	return b.String()
}

func financialPrompt(l model.Listing) string {
	return listingContext(l) + `
Assess the financial profile of this acquisition candidate. Respond with a JSON object:
{
  "health_score": <0-1 overall financial health>,
  "profit_margin": <net profit / revenue>,
  "revenue_multiple": <asking price / revenue>,
  "earnings_quality": "<verified|plausible|unverified>",
  "automation_opportunity_score": <0-1 opportunity to automate operations>,
  "notes": "<one-sentence observation>"
}`
}

func strategicPrompt(l model.Listing) string {
	return listingContext(l) + `
Assess the strategic value of acquiring this business. Respond with a JSON object:
{
  "value_score": <0-1 strategic attractiveness>,
  "ownership_model": "<owner_operated|manager_operated|franchise|corporate|partnership>",
  "seller_financing": <true if seller financing is likely>,
  "government_contracts": <true if government contracts are likely involved>,
  "strategic_flags": ["<short_tag>", ...],
  "growth_opportunities": ["<short_tag>", ...]
}`
}

func marketPrompt(l model.Listing) string {
	return listingContext(l) + `
Assess the market this business operates in. Respond with a JSON object:
{
  "growth_rate": "<rapidly_growing|growing|stable|declining>",
  "competition_level": "<low|moderate|high>",
  "market_size": "<short description>",
  "trends": ["<short_tag>", ...]
}`
}

func riskPrompt(l model.Listing) string {
	return listingContext(l) + `
Assess the acquisition risk of this business. Respond with a JSON object:
{
  "overall_score": <0-1 where 1 is highest risk>,
  "key_risks": ["<short_tag>", ...],
  "resilience_factors": ["<short_tag>", ...]
}`
}

func thesisPrompt(l model.Listing, fin FinancialAnalysis, strat StrategicAnalysis, market MarketAnalysis, risk RiskAnalysis) string {
	return fmt.Sprintf(`%s
Structured analysis results:
- financial health %.2f, profit margin %.2f, automation opportunity %.2f
- strategic value %.2f, ownership model %s
- market growth %s, competition %s
- risk score %.2f, key risks: %s

Write a 3-4 sentence investment thesis for acquiring this business. Plain prose, no JSON.`,
		listingContext(l),
		fin.HealthScore, fin.ProfitMargin, fin.AutomationOpportunityScore,
		strat.ValueScore, strat.OwnershipModel,
		market.GrowthRate, market.CompetitionLevel,
		risk.OverallScore, strings.Join(risk.KeyRisks, ", "),
	)
}

func summaryPrompt(l model.Listing, thesis string) string {
	return fmt.Sprintf(`%s
Investment thesis:
%s

Condense the above into a 2-sentence executive summary for a deal dashboard. Plain prose, no JSON.`,
		listingContext(l), thesis,
	)
}
