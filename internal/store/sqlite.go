package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/project-million/scanner-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// zero-infrastructure backend for local scans and tests.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id                           TEXT PRIMARY KEY,
	business_name                TEXT NOT NULL,
	asking_price                 INTEGER NOT NULL,
	annual_revenue               INTEGER NOT NULL,
	annual_net_profit            INTEGER NOT NULL,
	description                  TEXT,
	url                          TEXT,
	source                       TEXT NOT NULL,
	sector                       TEXT NOT NULL,
	location                     TEXT NOT NULL,
	automation_opportunity_score REAL,
	composite_score              REAL,
	ownership_model              TEXT,
	seller_financing             BOOLEAN,
	government_contracts         BOOLEAN,
	strategic_flags              TEXT,
	resilience_factors           TEXT,
	cap_rate                     REAL,
	payback_years                REAL,
	is_active                    BOOLEAN NOT NULL DEFAULT 1,
	created_at                   DATETIME NOT NULL,
	updated_at                   DATETIME NOT NULL,
	last_analyzed_at             DATETIME,
	UNIQUE (business_name, source)
);

CREATE INDEX IF NOT EXISTS idx_businesses_active_created ON businesses(is_active, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_businesses_sector ON businesses(sector);
CREATE INDEX IF NOT EXISTS idx_businesses_composite ON businesses(composite_score DESC);

CREATE TABLE IF NOT EXISTS enrichment_data (
	id                    TEXT PRIMARY KEY,
	business_id           TEXT NOT NULL UNIQUE REFERENCES businesses(id) ON DELETE CASCADE,
	ai_summary            TEXT,
	financial_projections TEXT,
	market_analysis       TEXT,
	growth_opportunities  TEXT,
	risk_factors          TEXT,
	confidence_score      REAL,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_runs (
	id                     TEXT PRIMARY KEY,
	status                 TEXT NOT NULL DEFAULT 'pending',
	started_at             DATETIME NOT NULL,
	completed_at           DATETIME,
	businesses_processed   INTEGER NOT NULL DEFAULT 0,
	businesses_added       INTEGER NOT NULL DEFAULT 0,
	businesses_updated     INTEGER NOT NULL DEFAULT 0,
	execution_time_seconds INTEGER,
	error_message          TEXT,
	run_config             TEXT
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_status ON analysis_runs(status);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_started ON analysis_runs(started_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertBusiness(ctx context.Context, b *model.Business) (*UpsertResult, error) {
	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM businesses WHERE business_name = ? AND source = ?`,
		b.BusinessName, b.Source,
	).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return nil, eris.Wrap(err, "sqlite: find business by natural key")
	}

	now := time.Now().UTC()
	flagsJSON, factorsJSON, err := marshalTags(b)
	if err != nil {
		return nil, err
	}

	if existingID != "" {
		_, err := s.db.ExecContext(ctx,
			`UPDATE businesses SET
				asking_price = ?, annual_revenue = ?, annual_net_profit = ?,
				description = ?, url = ?, sector = ?, location = ?,
				automation_opportunity_score = ?, composite_score = ?,
				ownership_model = ?, seller_financing = ?, government_contracts = ?,
				strategic_flags = ?, resilience_factors = ?,
				cap_rate = ?, payback_years = ?,
				is_active = 1, updated_at = ?, last_analyzed_at = ?
			WHERE id = ?`,
			b.AskingPrice, b.AnnualRevenue, b.AnnualNetProfit,
			b.Description, b.URL, b.Sector, b.Location,
			b.AutomationOpportunityScore, b.CompositeScore,
			b.OwnershipModel, b.SellerFinancing, b.GovernmentContracts,
			nullableJSON(flagsJSON), nullableJSON(factorsJSON),
			b.CapRate, b.PaybackYears,
			now, now, existingID,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: update business %s", existingID)
		}
		b.ID = existingID
		b.UpdatedAt = now
		b.LastAnalyzedAt = &now
		return &UpsertResult{ID: existingID, IsNew: false}, nil
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?)`,
		id, b.BusinessName, b.AskingPrice, b.AnnualRevenue, b.AnnualNetProfit,
		b.Description, b.URL, b.Source, b.Sector, b.Location,
		b.AutomationOpportunityScore, b.CompositeScore, b.OwnershipModel,
		b.SellerFinancing, b.GovernmentContracts,
		nullableJSON(flagsJSON), nullableJSON(factorsJSON),
		b.CapRate, b.PaybackYears, now, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert business")
	}
	b.ID = id
	b.IsActive = true
	b.CreatedAt = now
	b.UpdatedAt = now
	b.LastAnalyzedAt = &now
	return &UpsertResult{ID: id, IsNew: true}, nil
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id,
	)
	b, err := scanBusinessSQLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get business %s", id)
	}
	return b, nil
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context, filter BusinessFilter) ([]model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE 1=1`
	args := []any{}

	if !filter.IncludeInactive {
		query += ` AND is_active = 1`
	}
	if filter.Sector != "" {
		query += ` AND sector = ?`
		args = append(args, filter.Sector)
	}
	if filter.MaxAskingPrice > 0 {
		query += ` AND asking_price <= ?`
		args = append(args, filter.MaxAskingPrice)
	}
	if filter.MinCompositeScore > 0 {
		query += ` AND composite_score >= ?`
		args = append(args, filter.MinCompositeScore)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list businesses")
	}
	defer rows.Close()

	var businesses []model.Business
	for rows.Next() {
		b, err := scanBusinessSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan business")
		}
		businesses = append(businesses, *b)
	}
	return businesses, eris.Wrap(rows.Err(), "sqlite: list businesses iterate")
}

func (s *SQLiteStore) DeactivateBusiness(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET is_active = 0, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: deactivate business %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("business not found: %s", id)
	}
	return nil
}

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, rec *model.EnrichmentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_data
			(id, business_id, ai_summary, financial_projections, market_analysis,
			 growth_opportunities, risk_factors, confidence_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (business_id) DO UPDATE SET
			ai_summary = excluded.ai_summary,
			financial_projections = excluded.financial_projections,
			market_analysis = excluded.market_analysis,
			growth_opportunities = excluded.growth_opportunities,
			risk_factors = excluded.risk_factors,
			confidence_score = excluded.confidence_score,
			updated_at = excluded.updated_at`,
		rec.ID, rec.BusinessID, rec.AISummary,
		nullableJSON(rec.FinancialProjections), nullableJSON(rec.MarketAnalysis),
		nullableJSON(rec.GrowthOpportunities), nullableJSON(rec.RiskFactors),
		rec.ConfidenceScore, now, now,
	)
	return eris.Wrap(err, "sqlite: upsert enrichment")
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, businessID string) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	var summary, fin, market, growth, risks sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, business_id, ai_summary, financial_projections, market_analysis,
			growth_opportunities, risk_factors, confidence_score, created_at, updated_at
		FROM enrichment_data WHERE business_id = ?`,
		businessID,
	).Scan(&rec.ID, &rec.BusinessID, &summary,
		&fin, &market, &growth, &risks,
		&rec.ConfidenceScore, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get enrichment for %s", businessID)
	}
	rec.AISummary = summary.String
	rec.FinancialProjections = bytesOrNil(fin)
	rec.MarketAnalysis = bytesOrNil(market)
	rec.GrowthOpportunities = bytesOrNil(growth)
	rec.RiskFactors = bytesOrNil(risks)
	return &rec, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, cfg *model.RunConfig) (*model.AnalysisRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var cfgJSON []byte
	if cfg != nil {
		var err error
		cfgJSON, err = json.Marshal(cfg)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal run config")
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (id, status, started_at, run_config) VALUES (?, ?, ?, ?)`,
		id, string(model.RunStatusPending), now, nullableJSON(cfgJSON),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.AnalysisRun{
		ID:        id,
		Status:    model.RunStatusPending,
		StartedAt: now,
		RunConfig: cfg,
	}, nil
}

func (s *SQLiteStore) MarkRunProcessing(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs
		SET status = ?, businesses_processed = 0, businesses_added = 0, businesses_updated = 0
		WHERE id = ? AND status = ?`,
		string(model.RunStatusProcessing), runID, string(model.RunStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark run processing %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not pending: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) UpdateRunProgress(ctx context.Context, runID string, processed, added, updated int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs
		SET businesses_processed = ?, businesses_added = ?, businesses_updated = ?
		WHERE id = ?`,
		processed, added, updated, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run progress %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, processed, added, updated, executionSeconds int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs
		SET status = ?, completed_at = ?, execution_time_seconds = ?,
			businesses_processed = ?, businesses_added = ?, businesses_updated = ?
		WHERE id = ? AND status = ?`,
		string(model.RunStatusCompleted), time.Now().UTC(), executionSeconds,
		processed, added, updated, runID, string(model.RunStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run not processing: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_runs
		SET status = ?, completed_at = ?, error_message = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.RunStatusFailed), time.Now().UTC(), message,
		runID, string(model.RunStatusPending), string(model.RunStatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("run already terminal: %s", runID)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM analysis_runs WHERE id = ?`, runID,
	)
	r, err := scanRunSQLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) GetCurrentRun(ctx context.Context) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM analysis_runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusProcessing),
	)
	r, err := scanRunSQLite(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get current run")
	}
	return r, nil
}

func (s *SQLiteStore) GetLastRun(ctx context.Context) (*model.AnalysisRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM analysis_runs WHERE status IN (?, ?) ORDER BY started_at DESC LIMIT 1`,
		string(model.RunStatusCompleted), string(model.RunStatusFailed),
	)
	r, err := scanRunSQLite(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get last run")
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM analysis_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AnalysisRun
	for rows.Next() {
		r, err := scanRunSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func scanBusinessSQLite(row rowScanner) (*model.Business, error) {
	var b model.Business
	var description, url, flags, factors sql.NullString

	err := row.Scan(&b.ID, &b.BusinessName, &b.AskingPrice, &b.AnnualRevenue, &b.AnnualNetProfit,
		&description, &url, &b.Source, &b.Sector, &b.Location,
		&b.AutomationOpportunityScore, &b.CompositeScore, &b.OwnershipModel,
		&b.SellerFinancing, &b.GovernmentContracts, &flags, &factors,
		&b.CapRate, &b.PaybackYears, &b.IsActive, &b.CreatedAt, &b.UpdatedAt, &b.LastAnalyzedAt)
	if err != nil {
		return nil, err
	}
	b.Description = description.String
	b.URL = url.String
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &b.StrategicFlags); err != nil {
			return nil, eris.Wrap(err, "unmarshal strategic flags")
		}
	}
	if factors.Valid && factors.String != "" {
		if err := json.Unmarshal([]byte(factors.String), &b.ResilienceFactors); err != nil {
			return nil, eris.Wrap(err, "unmarshal resilience factors")
		}
	}
	return &b, nil
}

func scanRunSQLite(row rowScanner) (*model.AnalysisRun, error) {
	var r model.AnalysisRun
	var errMsg, cfgJSON sql.NullString

	err := row.Scan(&r.ID, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.BusinessesProcessed, &r.BusinessesAdded, &r.BusinessesUpdated,
		&r.ExecutionTimeSeconds, &errMsg, &cfgJSON)
	if err != nil {
		return nil, err
	}
	r.ErrorMessage = errMsg.String
	if cfgJSON.Valid && cfgJSON.String != "" {
		r.RunConfig = &model.RunConfig{}
		if err := json.Unmarshal([]byte(cfgJSON.String), r.RunConfig); err != nil {
			return nil, eris.Wrap(err, "unmarshal run config")
		}
	}
	return &r, nil
}

// nullableJSON maps empty payloads to NULL so that absent analysis data
// does not round-trip as an empty string.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func bytesOrNil(ns sql.NullString) []byte {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return []byte(ns.String)
}
