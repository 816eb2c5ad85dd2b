// Package analysis enriches a discovered listing with four concurrent
// dimensional AI assessments, two sequential narrative syntheses, and a
// deterministic composite score.
package analysis

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/project-million/scanner-cli/internal/config"
	"github.com/project-million/scanner-cli/internal/model"
	"github.com/project-million/scanner-cli/internal/monitoring"
	"github.com/project-million/scanner-cli/pkg/anthropic"
	"github.com/project-million/scanner-cli/pkg/gemini"
	"github.com/project-million/scanner-cli/pkg/openai"
	"github.com/project-million/scanner-cli/pkg/perplexity"
)

var promptTemperature = 0.3

// Analyzer fans a listing out to the four dimensional providers and
// synthesizes the narratives. Every provider failure degrades to the
// dimension's fallback payload; Analyze never returns an error.
type Analyzer struct {
	openai     openai.Client
	anthropic  anthropic.Client
	perplexity perplexity.Client
	gemini     gemini.Client

	openaiModel     string
	perplexityModel string
	sonnetModel     string
	haikuModel      string
	maxTokens       int64
}

// New creates an Analyzer from configured provider clients.
func New(cfg *config.Config, oa openai.Client, an anthropic.Client, px perplexity.Client, gm gemini.Client) *Analyzer {
	maxTokens := cfg.Anthropic.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &Analyzer{
		openai:          oa,
		anthropic:       an,
		perplexity:      px,
		gemini:          gm,
		openaiModel:     cfg.OpenAI.Model,
		perplexityModel: cfg.Perplexity.Model,
		sonnetModel:     cfg.Anthropic.SonnetModel,
		haikuModel:      cfg.Anthropic.HaikuModel,
		maxTokens:       maxTokens,
	}
}

// Models reports the provider model bound to each dimension, recorded
// into the run configuration.
func (a *Analyzer) Models() map[string]string {
	return map[string]string{
		"financial": a.openaiModel,
		"strategic": a.sonnetModel,
		"market":    a.perplexityModel,
		"risk":      "gemini",
		"narrative": a.haikuModel,
	}
}

// Analyze runs the full enrichment for one listing: the four dimensional
// calls concurrently, then the thesis, then the executive summary, then
// the composite score and recomputed ratios.
func (a *Analyzer) Analyze(ctx context.Context, l model.Listing) *ComprehensiveAnalysis {
	ca := &ComprehensiveAnalysis{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ca.Financial = a.analyzeFinancial(gctx, l)
		return nil
	})
	g.Go(func() error {
		ca.Strategic = a.analyzeStrategic(gctx, l)
		return nil
	})
	g.Go(func() error {
		ca.Market = a.analyzeMarket(gctx, l)
		return nil
	})
	g.Go(func() error {
		ca.Risk = a.analyzeRisk(gctx, l)
		return nil
	})
	// Dimensional goroutines absorb their own failures via fallbacks.
	_ = g.Wait()

	ca.InvestmentThesis = a.synthesizeThesis(ctx, l, ca)
	ca.ExecutiveSummary = a.synthesizeSummary(ctx, l, ca.InvestmentThesis)

	ca.CompositeScore = CompositeScore(ca.Financial, ca.Strategic, ca.Market, ca.Risk)
	ca.CapRate = l.CapRate()
	ca.PaybackYears = l.PaybackYears()

	return ca
}

func (a *Analyzer) analyzeFinancial(ctx context.Context, l model.Listing) FinancialAnalysis {
	resp, err := a.openai.ChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       a.openaiModel,
		System:      analystSystemText,
		User:        financialPrompt(l),
		Temperature: &promptTemperature,
		JSONMode:    true,
	})
	if err != nil {
		return fallbackWith(l, "financial", err, FallbackFinancial)
	}

	var fa FinancialAnalysis
	if err := decodeJSON(resp.Content, &fa); err != nil {
		return fallbackWith(l, "financial", err, FallbackFinancial)
	}
	fa.HealthScore = clamp01(fa.HealthScore)
	fa.AutomationOpportunityScore = clamp01(fa.AutomationOpportunityScore)
	return fa
}

func (a *Analyzer) analyzeStrategic(ctx context.Context, l model.Listing) StrategicAnalysis {
	resp, err := a.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.sonnetModel,
		MaxTokens:   a.maxTokens,
		System:      analystSystemText,
		Messages:    []anthropic.Message{{Role: "user", Content: strategicPrompt(l)}},
		Temperature: &promptTemperature,
	})
	if err != nil {
		return fallbackWith(l, "strategic", err, FallbackStrategic)
	}

	var sa StrategicAnalysis
	if err := decodeJSON(resp.Text(), &sa); err != nil {
		return fallbackWith(l, "strategic", err, FallbackStrategic)
	}
	sa.ValueScore = clamp01(sa.ValueScore)
	if !model.ValidOwnershipModel(sa.OwnershipModel) {
		sa.OwnershipModel = string(model.OwnershipOwnerOperated)
	}
	return sa
}

func (a *Analyzer) analyzeMarket(ctx context.Context, l model.Listing) MarketAnalysis {
	resp, err := a.perplexity.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: a.perplexityModel,
		Messages: []perplexity.Message{
			{Role: "system", Content: analystSystemText},
			{Role: "user", Content: marketPrompt(l)},
		},
		Temperature: &promptTemperature,
	})
	if err != nil {
		return fallbackWith(l, "market", err, FallbackMarket)
	}

	var ma MarketAnalysis
	if err := decodeJSON(resp.Text(), &ma); err != nil {
		return fallbackWith(l, "market", err, FallbackMarket)
	}
	return ma
}

func (a *Analyzer) analyzeRisk(ctx context.Context, l model.Listing) RiskAnalysis {
	resp, err := a.gemini.GenerateContent(ctx, gemini.GenerateContentRequest{
		Contents: []gemini.Content{
			{Role: "user", Parts: []gemini.Part{{Text: analystSystemText + "\n\n" + riskPrompt(l)}}},
		},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:      &promptTemperature,
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		return fallbackWith(l, "risk", err, FallbackRisk)
	}

	var ra RiskAnalysis
	if err := decodeJSON(resp.Text(), &ra); err != nil {
		return fallbackWith(l, "risk", err, FallbackRisk)
	}
	ra.OverallScore = clamp01(ra.OverallScore)
	return ra
}

func (a *Analyzer) synthesizeThesis(ctx context.Context, l model.Listing, ca *ComprehensiveAnalysis) string {
	resp, err := a.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.sonnetModel,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.Message{
			{Role: "user", Content: thesisPrompt(l, ca.Financial, ca.Strategic, ca.Market, ca.Risk)},
		},
	})
	if err != nil || strings.TrimSpace(resp.Text()) == "" {
		logFallback(l, "thesis", err)
		return FallbackThesis(l)
	}
	return strings.TrimSpace(resp.Text())
}

func (a *Analyzer) synthesizeSummary(ctx context.Context, l model.Listing, thesis string) string {
	resp, err := a.anthropic.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.haikuModel,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.Message{
			{Role: "user", Content: summaryPrompt(l, thesis)},
		},
	})
	if err != nil || strings.TrimSpace(resp.Text()) == "" {
		logFallback(l, "summary", err)
		return FallbackSummary(l)
	}
	return strings.TrimSpace(resp.Text())
}

func fallbackWith[T any](l model.Listing, dimension string, err error, fn func(model.Listing) T) T {
	logFallback(l, dimension, err)
	return fn(l)
}

func logFallback(l model.Listing, dimension string, err error) {
	monitoring.ProviderFallbacks.WithLabelValues(dimension).Inc()
	zap.L().Warn("analysis: provider degraded to fallback",
		zap.String("business", l.BusinessName),
		zap.String("dimension", dimension),
		zap.Error(err),
	)
}

// decodeJSON parses a provider response body that may wrap its JSON in
// markdown fences or surrounding prose.
func decodeJSON(s string, v any) error {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return json.Unmarshal([]byte(s), v)
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
