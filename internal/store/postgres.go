package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/project-million/scanner-cli/internal/db"
	"github.com/project-million/scanner-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements lists queries to prepare on each new connection for
// the hot path of the scan loop.
var preparedStatements = map[string]string{
	"find_business": `SELECT id FROM businesses WHERE business_name = $1 AND source = $2`,
	"update_run_progress": `UPDATE analysis_runs
		SET businesses_processed = $1, businesses_added = $2, businesses_updated = $3
		WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id                           TEXT PRIMARY KEY,
	business_name                TEXT NOT NULL,
	asking_price                 BIGINT NOT NULL,
	annual_revenue               BIGINT NOT NULL,
	annual_net_profit            BIGINT NOT NULL,
	description                  TEXT,
	url                          TEXT,
	source                       TEXT NOT NULL,
	sector                       TEXT NOT NULL,
	location                     TEXT NOT NULL,
	automation_opportunity_score DOUBLE PRECISION,
	composite_score              DOUBLE PRECISION,
	ownership_model              TEXT,
	seller_financing             BOOLEAN,
	government_contracts         BOOLEAN,
	strategic_flags              JSONB,
	resilience_factors           JSONB,
	cap_rate                     DOUBLE PRECISION,
	payback_years                DOUBLE PRECISION,
	is_active                    BOOLEAN NOT NULL DEFAULT TRUE,
	created_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_analyzed_at             TIMESTAMPTZ,
	UNIQUE (business_name, source)
);

CREATE INDEX IF NOT EXISTS idx_businesses_active_created ON businesses(is_active, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_businesses_sector ON businesses(sector);
CREATE INDEX IF NOT EXISTS idx_businesses_composite ON businesses(composite_score DESC);

CREATE TABLE IF NOT EXISTS enrichment_data (
	id                    TEXT PRIMARY KEY,
	business_id           TEXT NOT NULL UNIQUE REFERENCES businesses(id) ON DELETE CASCADE,
	ai_summary            TEXT,
	financial_projections JSONB,
	market_analysis       JSONB,
	growth_opportunities  JSONB,
	risk_factors          JSONB,
	confidence_score      DOUBLE PRECISION,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id                     TEXT PRIMARY KEY,
	status                 TEXT NOT NULL DEFAULT 'pending',
	started_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at           TIMESTAMPTZ,
	businesses_processed   INTEGER NOT NULL DEFAULT 0,
	businesses_added       INTEGER NOT NULL DEFAULT 0,
	businesses_updated     INTEGER NOT NULL DEFAULT 0,
	execution_time_seconds INTEGER,
	error_message          TEXT,
	run_config             JSONB
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_status ON analysis_runs(status);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const businessColumns = `id, business_name, asking_price, annual_revenue, annual_net_profit,
	description, url, source, sector, location,
	automation_opportunity_score, composite_score, ownership_model,
	seller_financing, government_contracts, strategic_flags, resilience_factors,
	cap_rate, payback_years, is_active, created_at, updated_at, last_analyzed_at`

func (s *PostgresStore) UpsertBusiness(ctx context.Context, b *model.Business) (*UpsertResult, error) {
	var existingID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM businesses WHERE business_name = $1 AND source = $2`,
		b.BusinessName, b.Source,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: find business by natural key")
	}

	now := time.Now().UTC()
	flagsJSON, factorsJSON, err := marshalTags(b)
	if err != nil {
		return nil, err
	}

	if existingID != "" {
		_, err := s.pool.Exec(ctx,
			`UPDATE businesses SET
				asking_price = $1, annual_revenue = $2, annual_net_profit = $3,
				description = $4, url = $5, sector = $6, location = $7,
				automation_opportunity_score = $8, composite_score = $9,
				ownership_model = $10, seller_financing = $11, government_contracts = $12,
				strategic_flags = $13, resilience_factors = $14,
				cap_rate = $15, payback_years = $16,
				is_active = TRUE, updated_at = $17, last_analyzed_at = $17
			WHERE id = $18`,
			b.AskingPrice, b.AnnualRevenue, b.AnnualNetProfit,
			b.Description, b.URL, b.Sector, b.Location,
			b.AutomationOpportunityScore, b.CompositeScore,
			b.OwnershipModel, b.SellerFinancing, b.GovernmentContracts,
			flagsJSON, factorsJSON,
			b.CapRate, b.PaybackYears,
			now, existingID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: update business %s", existingID)
		}
		b.ID = existingID
		b.UpdatedAt = now
		b.LastAnalyzedAt = &now
		return &UpsertResult{ID: existingID, IsNew: false}, nil
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, TRUE, $20, $20, $20)`,
		id, b.BusinessName, b.AskingPrice, b.AnnualRevenue, b.AnnualNetProfit,
		b.Description, b.URL, b.Source, b.Sector, b.Location,
		b.AutomationOpportunityScore, b.CompositeScore, b.OwnershipModel,
		b.SellerFinancing, b.GovernmentContracts, flagsJSON, factorsJSON,
		b.CapRate, b.PaybackYears, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert business")
	}
	b.ID = id
	b.IsActive = true
	b.CreatedAt = now
	b.UpdatedAt = now
	b.LastAnalyzedAt = &now
	return &UpsertResult{ID: id, IsNew: true}, nil
}

func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id,
	)
	b, err := scanBusiness(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get business %s", id)
	}
	return b, nil
}

func (s *PostgresStore) ListBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE TRUE`
	args := []any{}

	if !filter.IncludeInactive {
		query += ` AND is_active`
	}
	if filter.Sector != "" {
		args = append(args, filter.Sector)
		query += ` AND sector = $` + itoa(len(args))
	}
	if filter.MaxAskingPrice > 0 {
		args = append(args, filter.MaxAskingPrice)
		query += ` AND asking_price <= $` + itoa(len(args))
	}
	if filter.MinCompositeScore > 0 {
		args = append(args, filter.MinCompositeScore)
		query += ` AND composite_score >= $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list businesses")
	}
	defer rows.Close()

	var businesses []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan business")
		}
		businesses = append(businesses, *b)
	}
	return businesses, eris.Wrap(rows.Err(), "postgres: list businesses iterate")
}

func (s *PostgresStore) DeactivateBusiness(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET is_active = FALSE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: deactivate business %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("business not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_data
			(id, business_id, ai_summary, financial_projections, market_analysis,
			 growth_opportunities, risk_factors, confidence_score, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (business_id) DO UPDATE SET
			ai_summary = $3, financial_projections = $4, market_analysis = $5,
			growth_opportunities = $6, risk_factors = $7, confidence_score = $8,
			updated_at = $9`,
		rec.ID, rec.BusinessID, rec.AISummary,
		jsonOrNil(rec.FinancialProjections), jsonOrNil(rec.MarketAnalysis),
		jsonOrNil(rec.GrowthOpportunities), jsonOrNil(rec.RiskFactors),
		rec.ConfidenceScore, now,
	)
	return eris.Wrap(err, "postgres: upsert enrichment")
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, businessID string) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	var summary *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, business_id, ai_summary, financial_projections, market_analysis,
			growth_opportunities, risk_factors, confidence_score, created_at, updated_at
		FROM enrichment_data WHERE business_id = $1`,
		businessID,
	).Scan(&rec.ID, &rec.BusinessID, &summary,
		&rec.FinancialProjections, &rec.MarketAnalysis,
		&rec.GrowthOpportunities, &rec.RiskFactors,
		&rec.ConfidenceScore, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get enrichment for %s", businessID)
	}
	if summary != nil {
		rec.AISummary = *summary
	}
	return &rec, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, cfg *model.RunConfig) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var cfgJSON []byte
	if cfg != nil {
		var err error
		cfgJSON, err = json.Marshal(cfg)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal run config")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_runs (id, status, started_at, run_config) VALUES ($1, $2, $3, $4)`,
		id, string(model.RunStatusPending), now, cfgJSON,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.AnalysisRun{
		ID:        id,
		Status:    model.RunStatusPending,
		StartedAt: now,
		RunConfig: cfg,
	}, nil
}

func (s *PostgresStore) MarkRunProcessing(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs
		SET status = $1, businesses_processed = 0, businesses_added = 0, businesses_updated = 0
		WHERE id = $2 AND status = $3`,
		string(model.RunStatusProcessing), runID, string(model.RunStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark run processing %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not pending: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunProgress(ctx context.Context, runID string, processed, added, updated int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs
		SET businesses_processed = $1, businesses_added = $2, businesses_updated = $3
		WHERE id = $4`,
		processed, added, updated, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run progress %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, processed, added, updated, executionSeconds int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs
		SET status = $1, completed_at = $2, execution_time_seconds = $3,
			businesses_processed = $4, businesses_added = $5, businesses_updated = $6
		WHERE id = $7 AND status = $8`,
		string(model.RunStatusCompleted), time.Now().UTC(), executionSeconds,
		processed, added, updated, runID, string(model.RunStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not processing: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analysis_runs
		SET status = $1, completed_at = $2, error_message = $3
		WHERE id = $4 AND status IN ($5, $6)`,
		string(model.RunStatusFailed), time.Now().UTC(), message,
		runID, string(model.RunStatusPending), string(model.RunStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run already terminal: %s", runID)
	}
	return nil
}

const runColumns = `id, status, started_at, completed_at,
	businesses_processed, businesses_added, businesses_updated,
	execution_time_seconds, error_message, run_config`

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM analysis_runs WHERE id = $1`, runID,
	)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) GetCurrentRun(ctx context.Context) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM analysis_runs WHERE status = $1 ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusProcessing),
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get current run")
	}
	return r, nil
}

func (s *PostgresStore) GetLastRun(ctx context.Context) (*model.AnalysisRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM analysis_runs WHERE status IN ($1, $2) ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusCompleted), string(model.RunStatusFailed),
	)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get last run")
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM analysis_runs ORDER BY started_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBusiness(row rowScanner) (*model.Business, error) {
	var b model.Business
	var flagsJSON, factorsJSON []byte
	var description, url *string

	err := row.Scan(&b.ID, &b.BusinessName, &b.AskingPrice, &b.AnnualRevenue, &b.AnnualNetProfit,
		&description, &url, &b.Source, &b.Sector, &b.Location,
		&b.AutomationOpportunityScore, &b.CompositeScore, &b.OwnershipModel,
		&b.SellerFinancing, &b.GovernmentContracts, &flagsJSON, &factorsJSON,
		&b.CapRate, &b.PaybackYears, &b.IsActive, &b.CreatedAt, &b.UpdatedAt, &b.LastAnalyzedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		b.Description = *description
	}
	if url != nil {
		b.URL = *url
	}
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &b.StrategicFlags); err != nil {
			return nil, eris.Wrap(err, "unmarshal strategic flags")
		}
	}
	if len(factorsJSON) > 0 {
		if err := json.Unmarshal(factorsJSON, &b.ResilienceFactors); err != nil {
			return nil, eris.Wrap(err, "unmarshal resilience factors")
		}
	}
	return &b, nil
}

func scanRun(row rowScanner) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var cfgJSON []byte
	var errMsg *string

	err := row.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.BusinessesProcessed, &r.BusinessesAdded, &r.BusinessesUpdated,
		&r.ExecutionTimeSeconds, &errMsg, &cfgJSON)
	if err != nil {
		return nil, err
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	if len(cfgJSON) > 0 {
		r.RunConfig = &model.RunConfig{}
		if err := json.Unmarshal(cfgJSON, r.RunConfig); err != nil {
			return nil, eris.Wrap(err, "unmarshal run config")
		}
	}
	return &r, nil
}

func marshalTags(b *model.Business) (flags, factors []byte, err error) {
	if b.StrategicFlags != nil {
		flags, err = json.Marshal(b.StrategicFlags)
		if err != nil {
			return nil, nil, eris.Wrap(err, "marshal strategic flags")
		}
	}
	if b.ResilienceFactors != nil {
		factors, err = json.Marshal(b.ResilienceFactors)
		if err != nil {
			return nil, nil, eris.Wrap(err, "marshal resilience factors")
		}
	}
	return flags, factors, nil
}

func jsonOrNil(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
