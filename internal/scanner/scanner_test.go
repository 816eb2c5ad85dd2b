package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-million/scanner-cli/internal/analysis"
	"github.com/project-million/scanner-cli/internal/discovery"
	"github.com/project-million/scanner-cli/internal/model"
	"github.com/project-million/scanner-cli/internal/store"
)

// fakeStore is an in-memory Store for exercising the scan loop.
type fakeStore struct {
	mu          sync.Mutex
	businesses  map[string]*model.Business // keyed by natural key
	enrichments map[string]*model.EnrichmentRecord
	runs        map[string]*model.AnalysisRun
	nextID      int
	upsertErrOn string // business name that fails to upsert
	enrichErr   error  // forced UpsertEnrichment failure
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		businesses:  make(map[string]*model.Business),
		enrichments: make(map[string]*model.EnrichmentRecord),
		runs:        make(map[string]*model.AnalysisRun),
	}
}

func (f *fakeStore) naturalKey(name, source string) string { return name + "|" + source }

func (f *fakeStore) UpsertBusiness(_ context.Context, b *model.Business) (*store.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.BusinessName == f.upsertErrOn {
		return nil, eris.New("store unavailable")
	}
	key := f.naturalKey(b.BusinessName, b.Source)
	if existing, ok := f.businesses[key]; ok {
		b.ID = existing.ID
		f.businesses[key] = b
		return &store.UpsertResult{ID: existing.ID, IsNew: false}, nil
	}
	f.nextID++
	b.ID = string(rune('a' + f.nextID))
	f.businesses[key] = b
	return &store.UpsertResult{ID: b.ID, IsNew: true}, nil
}

func (f *fakeStore) GetBusiness(_ context.Context, id string) (*model.Business, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.businesses {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, eris.Errorf("business not found: %s", id)
}

func (f *fakeStore) ListBusinesses(_ context.Context, _ store.BusinessFilter) ([]model.Business, error) {
	return nil, nil
}

func (f *fakeStore) DeactivateBusiness(_ context.Context, _ string) error { return nil }

func (f *fakeStore) UpsertEnrichment(_ context.Context, rec *model.EnrichmentRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enrichErr != nil {
		return f.enrichErr
	}
	f.enrichments[rec.BusinessID] = rec
	return nil
}

func (f *fakeStore) GetEnrichment(_ context.Context, businessID string) (*model.EnrichmentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enrichments[businessID], nil
}

func (f *fakeStore) CreateRun(_ context.Context, cfg *model.RunConfig) (*model.AnalysisRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	run := &model.AnalysisRun{
		ID:        string(rune('0' + f.nextID)),
		Status:    model.RunStatusPending,
		StartedAt: time.Now().UTC(),
		RunConfig: cfg,
	}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) MarkRunProcessing(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.Status != model.RunStatusPending {
		return eris.Errorf("run not pending: %s", runID)
	}
	run.Status = model.RunStatusProcessing
	return nil
}

func (f *fakeStore) UpdateRunProgress(_ context.Context, runID string, processed, added, updated int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return eris.Errorf("run not found: %s", runID)
	}
	run.BusinessesProcessed = processed
	run.BusinessesAdded = added
	run.BusinessesUpdated = updated
	return nil
}

func (f *fakeStore) CompleteRun(_ context.Context, runID string, processed, added, updated, executionSeconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.Status != model.RunStatusProcessing {
		return eris.Errorf("run not processing: %s", runID)
	}
	now := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	run.BusinessesProcessed = processed
	run.BusinessesAdded = added
	run.BusinessesUpdated = updated
	run.ExecutionTimeSeconds = &executionSeconds
	return nil
}

func (f *fakeStore) FailRun(_ context.Context, runID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok || run.Status.Terminal() {
		return eris.Errorf("run already terminal: %s", runID)
	}
	now := time.Now().UTC()
	run.Status = model.RunStatusFailed
	run.CompletedAt = &now
	run.ErrorMessage = message
	return nil
}

func (f *fakeStore) GetRun(_ context.Context, runID string) (*model.AnalysisRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	copied := *run
	return &copied, nil
}

func (f *fakeStore) GetCurrentRun(_ context.Context) (*model.AnalysisRun, error) { return nil, nil }
func (f *fakeStore) GetLastRun(_ context.Context) (*model.AnalysisRun, error)   { return nil, nil }
func (f *fakeStore) ListRuns(_ context.Context, _ int) ([]model.AnalysisRun, error) {
	return nil, nil
}
func (f *fakeStore) Migrate(_ context.Context) error { return nil }
func (f *fakeStore) Ping(_ context.Context) error    { return nil }
func (f *fakeStore) Close() error                    { return nil }

// fakeAnalyzer returns fallback-shaped payloads without provider calls.
type fakeAnalyzer struct{}

func (fakeAnalyzer) Analyze(_ context.Context, l model.Listing) *analysis.ComprehensiveAnalysis {
	ca := &analysis.ComprehensiveAnalysis{
		Financial:        analysis.FallbackFinancial(l),
		Strategic:        analysis.FallbackStrategic(l),
		Market:           analysis.FallbackMarket(l),
		Risk:             analysis.FallbackRisk(l),
		InvestmentThesis: analysis.FallbackThesis(l),
		ExecutiveSummary: analysis.FallbackSummary(l),
		CapRate:          l.CapRate(),
		PaybackYears:     l.PaybackYears(),
	}
	ca.CompositeScore = analysis.CompositeScore(ca.Financial, ca.Strategic, ca.Market, ca.Risk)
	return ca
}

func (fakeAnalyzer) Models() map[string]string {
	return map[string]string{"financial": "stub"}
}

// stubSource yields fixed listings or a fixed error.
type stubSource struct {
	name     string
	listings []model.Listing
	err      error
}

func (s *stubSource) Name() string { return s.name }
func (s *stubSource) Discover(_ context.Context) ([]model.Listing, error) {
	return s.listings, s.err
}

func listing(name string) model.Listing {
	return model.Listing{
		BusinessName:    name,
		AskingPrice:     1_000_000,
		AnnualRevenue:   1_800_000,
		AnnualNetProfit: 250_000,
		Source:          "stub",
		Sector:          "trade-services",
		Location:        "Tulsa, OK",
	}
}

func newTestScanner(st store.Store, src discovery.Source) *Scanner {
	return New(st, []discovery.Source{src}, fakeAnalyzer{}, 0)
}

func TestRunProcessesAndCounts(t *testing.T) {
	st := newFakeStore()
	src := &stubSource{name: "stub", listings: []model.Listing{
		listing("Sunrise Plumbing Supply"),
		listing("Lakeside Laundromat"),
	}}
	sc := newTestScanner(st, src)

	run, err := sc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.BusinessesProcessed)
	assert.Equal(t, 2, run.BusinessesAdded)
	assert.Equal(t, 0, run.BusinessesUpdated)
	assert.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.RunConfig)
	assert.Equal(t, []string{"stub"}, run.RunConfig.Sources)

	// Every processed business carries an enrichment record whose
	// confidence mirrors the composite and whose summary bundles both
	// narratives, thesis first.
	assert.Len(t, st.enrichments, 2)
	for _, b := range st.businesses {
		rec := st.enrichments[b.ID]
		require.NotNil(t, rec)
		assert.Equal(t, *b.CompositeScore, rec.ConfidenceScore)
		assert.Contains(t, rec.AISummary, analysis.FallbackThesis(b.Listing()))
		assert.Contains(t, rec.AISummary, analysis.FallbackSummary(b.Listing()))
		assert.NotEmpty(t, rec.FinancialProjections)
	}
}

func TestRunRescanUpdatesInsteadOfAdding(t *testing.T) {
	st := newFakeStore()
	src := &stubSource{name: "stub", listings: []model.Listing{listing("Sunrise Plumbing Supply")}}
	sc := newTestScanner(st, src)

	first, err := sc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.BusinessesAdded)

	second, err := sc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.BusinessesProcessed)
	assert.Equal(t, 0, second.BusinessesAdded)
	assert.Equal(t, 1, second.BusinessesUpdated)

	assert.Len(t, st.businesses, 1)
}

func TestRunDiscoveryFailureFailsRun(t *testing.T) {
	st := newFakeStore()
	src := &stubSource{name: "stub", err: eris.New("connection refused")}
	sc := newTestScanner(st, src)

	run, err := sc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "discovery failed")
	assert.Contains(t, run.ErrorMessage, "connection refused")
	assert.Zero(t, run.BusinessesProcessed)
	assert.Zero(t, run.BusinessesAdded)
	assert.NotNil(t, run.CompletedAt)
}

func TestRunSkipsFailedCandidate(t *testing.T) {
	st := newFakeStore()
	st.upsertErrOn = "Lakeside Laundromat"
	src := &stubSource{name: "stub", listings: []model.Listing{
		listing("Sunrise Plumbing Supply"),
		listing("Lakeside Laundromat"),
		listing("Corner Bakery"),
	}}
	sc := newTestScanner(st, src)

	run, err := sc.Run(context.Background())
	require.NoError(t, err)

	// The failed candidate is skipped outright; it does not count toward
	// processed.
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.BusinessesProcessed)
	assert.Equal(t, 2, run.BusinessesAdded)
	assert.Equal(t, 0, run.BusinessesUpdated)
	assert.Len(t, st.businesses, 2)
}

func TestRunEnrichmentFailureKeepsCandidate(t *testing.T) {
	st := newFakeStore()
	st.enrichErr = eris.New("enrichment table locked")
	src := &stubSource{name: "stub", listings: []model.Listing{
		listing("Sunrise Plumbing Supply"),
		listing("Lakeside Laundromat"),
	}}
	sc := newTestScanner(st, src)

	run, err := sc.Run(context.Background())
	require.NoError(t, err)

	// Enrichment persistence is best-effort; the business upsert stands
	// and the candidate still counts.
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.BusinessesProcessed)
	assert.Equal(t, 2, run.BusinessesAdded)
	assert.Len(t, st.businesses, 2)
	assert.Empty(t, st.enrichments)
}

func TestRunPacesBetweenCandidates(t *testing.T) {
	st := newFakeStore()
	src := &stubSource{name: "stub", listings: []model.Listing{
		listing("Sunrise Plumbing Supply"),
		listing("Lakeside Laundromat"),
		listing("Corner Bakery"),
	}}
	sc := New(st, []discovery.Source{src}, fakeAnalyzer{}, 0.05)

	start := time.Now()
	run, err := sc.Run(context.Background())
	require.NoError(t, err)

	// Three candidates with a 50ms delay means two enforced pauses,
	// including the one between the first and second candidate.
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.BusinessesProcessed)
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestRunCancelledContextFailsRun(t *testing.T) {
	st := newFakeStore()
	src := &stubSource{name: "stub", listings: []model.Listing{listing("Sunrise Plumbing Supply")}}
	sc := newTestScanner(st, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := sc.Run(ctx)
	// GetRun at the end still works; the run itself is failed.
	if err == nil {
		assert.Equal(t, model.RunStatusFailed, run.Status)
	}
}

func TestRunSingleFlight(t *testing.T) {
	st := newFakeStore()
	release := make(chan struct{})
	src := &blockingSource{release: release}
	sc := newTestScanner(st, src)

	started, err := sc.Start(context.Background(), context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, started.ID)

	_, err = sc.Run(context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = sc.Start(context.Background(), context.Background())
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(release)
	require.Eventually(t, func() bool {
		run, err := st.GetRun(context.Background(), started.ID)
		return err == nil && run.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	// A new scan is allowed once the previous one finishes.
	require.Eventually(t, func() bool {
		_, err := sc.Run(context.Background())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

type blockingSource struct {
	release chan struct{}
}

func (s *blockingSource) Name() string { return "blocking" }
func (s *blockingSource) Discover(ctx context.Context) ([]model.Listing, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return nil, nil
}

func TestEventsPublishedDuringRun(t *testing.T) {
	st := newFakeStore()
	src := &stubSource{name: "stub", listings: []model.Listing{
		listing("Sunrise Plumbing Supply"),
		listing("Lakeside Laundromat"),
	}}
	sc := newTestScanner(st, src)

	events, cancel := sc.Events().Subscribe()
	defer cancel()

	_, err := sc.Run(context.Background())
	require.NoError(t, err)

	var types []EventType
	var lastProgress model.RunProgress
	for len(events) > 0 {
		e := <-events
		types = append(types, e.Type)
		if e.Type == EventProgress {
			lastProgress = e.Payload.(model.RunProgress)
		}
	}

	assert.Contains(t, types, EventRunStarted)
	assert.Contains(t, types, EventBusinessAdded)
	assert.Contains(t, types, EventRunCompleted)
	assert.Equal(t, 2, lastProgress.Processed)
	assert.Equal(t, 2, lastProgress.Added)
}
