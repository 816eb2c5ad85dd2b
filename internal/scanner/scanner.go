// Package scanner runs the end-to-end scan pipeline: discover candidate
// listings, analyze each one, and upsert the results while tracking run
// progress in the store.
package scanner

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/project-million/scanner-cli/internal/analysis"
	"github.com/project-million/scanner-cli/internal/discovery"
	"github.com/project-million/scanner-cli/internal/model"
	"github.com/project-million/scanner-cli/internal/monitoring"
	"github.com/project-million/scanner-cli/internal/store"
)

// ErrScanInProgress is returned by Start and Run when another scan is
// already executing on this scanner.
var ErrScanInProgress = eris.New("scanner: scan already in progress")

// Analyzer produces a comprehensive analysis for a candidate listing.
// It never fails; provider errors degrade to fallback payloads.
type Analyzer interface {
	Analyze(ctx context.Context, l model.Listing) *analysis.ComprehensiveAnalysis
	Models() map[string]string
}

// Scanner orchestrates analysis runs. At most one run executes at a time
// per scanner instance.
type Scanner struct {
	store       store.Store
	source      discovery.Source
	sourceNames []string
	analyzer    Analyzer
	events      *Broadcaster
	delay       time.Duration
	running     atomic.Bool
}

// New creates a Scanner over the given sources. delaySeconds is the
// pause between candidates; zero disables pacing.
func New(st store.Store, sources []discovery.Source, an Analyzer, delaySeconds float64) *Scanner {
	return &Scanner{
		store:       st,
		source:      discovery.NewMulti(sources...),
		sourceNames: discovery.Names(sources),
		analyzer:    an,
		events:      NewBroadcaster(),
		delay:       time.Duration(delaySeconds * float64(time.Second)),
	}
}

// Events returns the broadcaster carrying this scanner's lifecycle events.
func (s *Scanner) Events() *Broadcaster {
	return s.events
}

// Start creates a run and executes it in the background, returning the
// pending run immediately. The scan itself is detached from ctx so an
// HTTP caller disconnecting does not abort it; baseCtx bounds the scan.
func (s *Scanner) Start(ctx, baseCtx context.Context) (*model.AnalysisRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	run, err := s.createRun(ctx)
	if err != nil {
		s.running.Store(false)
		return nil, err
	}
	go func() {
		defer s.running.Store(false)
		s.execute(baseCtx, run.ID)
	}()
	return run, nil
}

// Run creates a run and executes it synchronously, returning the final
// run record.
func (s *Scanner) Run(ctx context.Context) (*model.AnalysisRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.running.Store(false)

	run, err := s.createRun(ctx)
	if err != nil {
		return nil, err
	}
	s.execute(ctx, run.ID)
	return s.store.GetRun(ctx, run.ID)
}

func (s *Scanner) createRun(ctx context.Context) (*model.AnalysisRun, error) {
	cfg := &model.RunConfig{
		Sources: s.sourceNames,
		Models:  s.analyzer.Models(),
	}
	return s.store.CreateRun(ctx, cfg)
}

// execute drives a run from pending to a terminal state. Per-candidate
// failures are skipped; discovery failure and cancellation fail the run.
func (s *Scanner) execute(ctx context.Context, runID string) {
	start := time.Now()
	log := zap.L().With(zap.String("run_id", runID))

	if err := s.store.MarkRunProcessing(ctx, runID); err != nil {
		log.Error("scanner: mark processing", zap.Error(err))
		s.fail(runID, "failed to start run: "+err.Error(), log)
		return
	}
	s.events.Publish(Event{Type: EventRunStarted, RunID: runID})

	listings, err := s.source.Discover(ctx)
	if err != nil {
		log.Error("scanner: discovery", zap.Error(err))
		s.fail(runID, "discovery failed: "+err.Error(), log)
		return
	}
	log.Info("scanner: discovered candidates", zap.Int("count", len(listings)))

	var limiter *rate.Limiter
	if s.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(s.delay), 1)
	}

	var processed, added, updated int
	for _, l := range listings {
		if ctx.Err() != nil {
			s.fail(runID, "scan cancelled", log)
			return
		}
		// The limiter starts with a full token, so the first candidate
		// proceeds immediately and each later one waits out the delay.
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				s.fail(runID, "scan cancelled", log)
				return
			}
		}

		res, b, err := s.processCandidate(ctx, l)
		if err != nil {
			monitoring.CandidatesSkipped.Inc()
			log.Warn("scanner: skipping candidate",
				zap.String("business", l.BusinessName),
				zap.String("source", l.Source),
				zap.Error(err),
			)
		} else {
			monitoring.CandidatesProcessed.Inc()
			processed++
			if res.IsNew {
				added++
				s.events.Publish(Event{Type: EventBusinessAdded, RunID: runID, Payload: b})
			} else {
				updated++
				s.events.Publish(Event{Type: EventBusinessUpdated, RunID: runID, Payload: b})
			}
		}

		if err := s.store.UpdateRunProgress(ctx, runID, processed, added, updated); err != nil {
			log.Warn("scanner: persist progress", zap.Error(err))
		}
		s.events.Publish(Event{Type: EventProgress, RunID: runID, Payload: model.RunProgress{
			RunID:     runID,
			Processed: processed,
			Added:     added,
			Updated:   updated,
		}})
	}

	elapsed := time.Since(start)
	secs := int(elapsed.Seconds())
	if err := s.store.CompleteRun(ctx, runID, processed, added, updated, secs); err != nil {
		log.Error("scanner: complete run", zap.Error(err))
		s.fail(runID, "failed to finalize run: "+err.Error(), log)
		return
	}
	monitoring.ScansFinished.WithLabelValues("completed").Inc()
	monitoring.ScanDuration.Observe(elapsed.Seconds())
	s.events.Publish(Event{Type: EventRunCompleted, RunID: runID})
	log.Info("scanner: run completed",
		zap.Int("processed", processed),
		zap.Int("added", added),
		zap.Int("updated", updated),
		zap.Duration("elapsed", elapsed),
	)
}

// fail marks the run failed. It uses a fresh context so cancellation of
// the scan context cannot prevent the terminal state from persisting.
func (s *Scanner) fail(runID, message string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.FailRun(ctx, runID, message); err != nil {
		log.Error("scanner: fail run", zap.Error(err))
	}
	monitoring.ScansFinished.WithLabelValues("failed").Inc()
	s.events.Publish(Event{Type: EventRunFailed, RunID: runID, Payload: message})
}

// processCandidate analyzes one listing and persists the business and its
// enrichment record. An enrichment failure is logged without rolling back
// the business upsert; the candidate still counts.
func (s *Scanner) processCandidate(ctx context.Context, l model.Listing) (*store.UpsertResult, *model.Business, error) {
	ca := s.analyzer.Analyze(ctx, l)

	b := model.FromListing(l)
	ca.ApplyTo(&b)

	res, err := s.store.UpsertBusiness(ctx, &b)
	if err != nil {
		return nil, nil, eris.Wrap(err, "scanner: upsert business")
	}

	rec, err := buildEnrichment(res.ID, ca)
	if err == nil {
		err = s.store.UpsertEnrichment(ctx, rec)
	}
	if err != nil {
		zap.L().Warn("scanner: enrichment not persisted",
			zap.String("business_id", res.ID),
			zap.String("business", b.BusinessName),
			zap.Error(err),
		)
	}
	return res, &b, nil
}

// buildEnrichment packs the analysis payloads into an enrichment record.
// The summary column carries both narratives, thesis first. The
// confidence score mirrors the composite score.
func buildEnrichment(businessID string, ca *analysis.ComprehensiveAnalysis) (*model.EnrichmentRecord, error) {
	fin, err := json.Marshal(ca.Financial)
	if err != nil {
		return nil, eris.Wrap(err, "scanner: marshal financial analysis")
	}
	market, err := json.Marshal(ca.Market)
	if err != nil {
		return nil, eris.Wrap(err, "scanner: marshal market analysis")
	}
	growth, err := json.Marshal(ca.Strategic)
	if err != nil {
		return nil, eris.Wrap(err, "scanner: marshal strategic analysis")
	}
	risks, err := json.Marshal(ca.Risk)
	if err != nil {
		return nil, eris.Wrap(err, "scanner: marshal risk analysis")
	}
	summary := ca.ExecutiveSummary
	if ca.InvestmentThesis != "" {
		summary = ca.InvestmentThesis + "\n\n" + ca.ExecutiveSummary
	}
	return &model.EnrichmentRecord{
		BusinessID:           businessID,
		AISummary:            summary,
		FinancialProjections: fin,
		MarketAnalysis:       market,
		GrowthOpportunities:  growth,
		RiskFactors:          risks,
		ConfidenceScore:      ca.CompositeScore,
	}, nil
}
