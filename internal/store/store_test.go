package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-million/scanner-cli/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func analyzedBusiness(name, source string) *model.Business {
	composite := 0.72
	auto := 0.5
	capRate := 25.0
	payback := 4.0
	financing := true
	ownership := model.OwnershipOwnerOperated
	return &model.Business{
		BusinessName:               name,
		AskingPrice:                1_000_000,
		AnnualRevenue:              1_800_000,
		AnnualNetProfit:            250_000,
		Source:                     source,
		Sector:                     "trade-services",
		Location:                   "Tulsa, OK",
		CompositeScore:             &composite,
		AutomationOpportunityScore: &auto,
		CapRate:                    &capRate,
		PaybackYears:               &payback,
		SellerFinancing:            &financing,
		OwnershipModel:             &ownership,
		StrategicFlags:             []string{"recurring_revenue"},
		ResilienceFactors:          []string{"essential-service"},
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("UpsertBusinessInsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		b := analyzedBusiness("Sunrise Plumbing Supply", "bizbuysell")
		res, err := s.UpsertBusiness(ctx, b)
		require.NoError(t, err)
		assert.True(t, res.IsNew)
		assert.NotEmpty(t, res.ID)
		assert.Equal(t, res.ID, b.ID)

		got, err := s.GetBusiness(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, "Sunrise Plumbing Supply", got.BusinessName)
		assert.True(t, got.IsActive)
		assert.NotNil(t, got.LastAnalyzedAt)
		assert.Equal(t, 0.72, *got.CompositeScore)
		assert.Equal(t, model.OwnershipOwnerOperated, *got.OwnershipModel)
		assert.Equal(t, []string{"recurring_revenue"}, got.StrategicFlags)
		assert.Equal(t, []string{"essential-service"}, got.ResilienceFactors)
	})

	t.Run("UpsertBusinessDedupByNaturalKey", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := s.UpsertBusiness(ctx, analyzedBusiness("Sunrise Plumbing Supply", "bizbuysell"))
		require.NoError(t, err)
		require.True(t, first.IsNew)

		again := analyzedBusiness("Sunrise Plumbing Supply", "bizbuysell")
		newScore := 0.81
		again.CompositeScore = &newScore
		again.AskingPrice = 1_100_000

		second, err := s.UpsertBusiness(ctx, again)
		require.NoError(t, err)
		assert.False(t, second.IsNew)
		assert.Equal(t, first.ID, second.ID)

		got, err := s.GetBusiness(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.81, *got.CompositeScore)
		assert.Equal(t, int64(1_100_000), got.AskingPrice)
	})

	t.Run("UpsertBusinessSameNameDifferentSource", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.UpsertBusiness(ctx, analyzedBusiness("Sunrise Plumbing Supply", "bizbuysell"))
		require.NoError(t, err)
		b, err := s.UpsertBusiness(ctx, analyzedBusiness("Sunrise Plumbing Supply", "broker-direct"))
		require.NoError(t, err)

		assert.True(t, b.IsNew)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("UpsertReactivatesBusiness", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		res, err := s.UpsertBusiness(ctx, analyzedBusiness("Lakeside Laundromat", "bizbuysell"))
		require.NoError(t, err)
		require.NoError(t, s.DeactivateBusiness(ctx, res.ID))

		got, err := s.GetBusiness(ctx, res.ID)
		require.NoError(t, err)
		require.False(t, got.IsActive)

		_, err = s.UpsertBusiness(ctx, analyzedBusiness("Lakeside Laundromat", "bizbuysell"))
		require.NoError(t, err)

		got, err = s.GetBusiness(ctx, res.ID)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
	})

	t.Run("DeactivateBusinessNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.DeactivateBusiness(context.Background(), "nonexistent-id")
		require.Error(t, err)
	})

	t.Run("ListBusinessesFilters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cheap := analyzedBusiness("Corner Bakery", "bizbuysell")
		cheap.AskingPrice = 300_000
		cheap.Sector = "food-service"
		lowScore := 0.4
		cheap.CompositeScore = &lowScore
		_, err := s.UpsertBusiness(ctx, cheap)
		require.NoError(t, err)

		_, err = s.UpsertBusiness(ctx, analyzedBusiness("Sunrise Plumbing Supply", "bizbuysell"))
		require.NoError(t, err)

		inactive, err := s.UpsertBusiness(ctx, analyzedBusiness("Closed Shop", "bizbuysell"))
		require.NoError(t, err)
		require.NoError(t, s.DeactivateBusiness(ctx, inactive.ID))

		all, err := s.ListBusinesses(ctx, BusinessFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		withInactive, err := s.ListBusinesses(ctx, BusinessFilter{IncludeInactive: true})
		require.NoError(t, err)
		assert.Len(t, withInactive, 3)

		bySector, err := s.ListBusinesses(ctx, BusinessFilter{Sector: "food-service"})
		require.NoError(t, err)
		require.Len(t, bySector, 1)
		assert.Equal(t, "Corner Bakery", bySector[0].BusinessName)

		byPrice, err := s.ListBusinesses(ctx, BusinessFilter{MaxAskingPrice: 500_000})
		require.NoError(t, err)
		require.Len(t, byPrice, 1)
		assert.Equal(t, "Corner Bakery", byPrice[0].BusinessName)

		byScore, err := s.ListBusinesses(ctx, BusinessFilter{MinCompositeScore: 0.6})
		require.NoError(t, err)
		require.Len(t, byScore, 1)
		assert.Equal(t, "Sunrise Plumbing Supply", byScore[0].BusinessName)

		limited, err := s.ListBusinesses(ctx, BusinessFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("EnrichmentUpsertAndReplace", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		res, err := s.UpsertBusiness(ctx, analyzedBusiness("Sunrise Plumbing Supply", "bizbuysell"))
		require.NoError(t, err)

		fin, _ := json.Marshal(map[string]float64{"health_score": 0.8})
		rec := &model.EnrichmentRecord{
			BusinessID:           res.ID,
			AISummary:            "First summary.",
			FinancialProjections: fin,
			ConfidenceScore:      0.72,
		}
		require.NoError(t, s.UpsertEnrichment(ctx, rec))

		got, err := s.GetEnrichment(ctx, res.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "First summary.", got.AISummary)
		assert.JSONEq(t, `{"health_score": 0.8}`, string(got.FinancialProjections))
		assert.Nil(t, got.MarketAnalysis)

		replacement := &model.EnrichmentRecord{
			BusinessID:      res.ID,
			AISummary:       "Second summary.",
			ConfidenceScore: 0.81,
		}
		require.NoError(t, s.UpsertEnrichment(ctx, replacement))

		got, err = s.GetEnrichment(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, "Second summary.", got.AISummary)
		assert.Equal(t, 0.81, got.ConfidenceScore)
		assert.Nil(t, got.FinancialProjections)
	})

	t.Run("GetEnrichmentMissing", func(t *testing.T) {
		s := newStore(t)
		got, err := s.GetEnrichment(context.Background(), "nonexistent-id")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, &model.RunConfig{
			Sources: []string{"bizbuysell"},
			Models:  map[string]string{"financial": "gpt-4o-mini"},
		})
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusPending, run.Status)

		require.NoError(t, s.MarkRunProcessing(ctx, run.ID))

		current, err := s.GetCurrentRun(ctx)
		require.NoError(t, err)
		require.NotNil(t, current)
		assert.Equal(t, run.ID, current.ID)

		require.NoError(t, s.UpdateRunProgress(ctx, run.ID, 3, 2, 1))
		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, got.BusinessesProcessed)
		assert.Equal(t, 2, got.BusinessesAdded)
		assert.Equal(t, 1, got.BusinessesUpdated)
		require.NotNil(t, got.RunConfig)
		assert.Equal(t, []string{"bizbuysell"}, got.RunConfig.Sources)

		require.NoError(t, s.CompleteRun(ctx, run.ID, 5, 3, 2, 42))
		got, err = s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, got.Status)
		assert.NotNil(t, got.CompletedAt)
		require.NotNil(t, got.ExecutionTimeSeconds)
		assert.Equal(t, 42, *got.ExecutionTimeSeconds)

		current, err = s.GetCurrentRun(ctx)
		require.NoError(t, err)
		assert.Nil(t, current)

		last, err := s.GetLastRun(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, run.ID, last.ID)
	})

	t.Run("RunTransitionsAreMonotonic", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, nil)
		require.NoError(t, err)

		// Completing a pending run is not allowed.
		require.Error(t, s.CompleteRun(ctx, run.ID, 0, 0, 0, 0))

		require.NoError(t, s.MarkRunProcessing(ctx, run.ID))
		require.Error(t, s.MarkRunProcessing(ctx, run.ID))

		require.NoError(t, s.FailRun(ctx, run.ID, "discovery failed: connection refused"))
		require.Error(t, s.FailRun(ctx, run.ID, "again"))
		require.Error(t, s.CompleteRun(ctx, run.ID, 0, 0, 0, 0))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "discovery failed: connection refused", got.ErrorMessage)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("FailRunFromPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, nil)
		require.NoError(t, err)
		require.NoError(t, s.FailRun(ctx, run.ID, "failed to start"))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Zero(t, got.BusinessesProcessed)
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.CreateRun(ctx, nil)
			require.NoError(t, err)
		}

		runs, err := s.ListRuns(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, runs, 3)

		limited, err := s.ListRuns(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("GetLastRunEmpty", func(t *testing.T) {
		s := newStore(t)
		last, err := s.GetLastRun(context.Background())
		require.NoError(t, err)
		assert.Nil(t, last)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestSQLitePing(t *testing.T) {
	s := newTestSQLite(t)
	require.NoError(t, s.Ping(context.Background()))
}
