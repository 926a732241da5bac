package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/parcelworks/cma-engine/internal/db"
	"github.com/parcelworks/cma-engine/internal/model"
)

// PostgresStore implements Store using pgxpool. The property search view is
// refreshed by the surrounding platform; this store only reads it.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_report": `INSERT INTO market_reports (id, website_id, subject_property_id, report_type, status, title, radius_km, currency, agent_name, company_name, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"get_report":    `SELECT id, website_id, subject_property_id, report_type, status, title, radius_km, currency, agent_name, company_name, executive_summary, ai_insights, suggested_price_low_cents, suggested_price_high_cents, generation_request_id, created_at, updated_at FROM market_reports WHERE website_id = $1 AND id = $2`,
	"insert_generation_request": `INSERT INTO generation_requests (id, report_id, status, model, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
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

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., the inventory loader).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// postgresMigration creates the engine-owned tables. property_search is the
// platform's denormalized inventory view and is intentionally absent here.
const postgresMigration = `
CREATE TABLE IF NOT EXISTS market_reports (
	id                         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	website_id                 TEXT NOT NULL,
	subject_property_id        TEXT NOT NULL,
	report_type                TEXT NOT NULL DEFAULT 'cma',
	status                     TEXT NOT NULL DEFAULT 'draft',
	title                      TEXT,
	radius_km                  DOUBLE PRECISION NOT NULL,
	currency                   TEXT NOT NULL,
	agent_name                 TEXT,
	company_name               TEXT,
	executive_summary          TEXT,
	ai_insights                JSONB,
	suggested_price_low_cents  BIGINT,
	suggested_price_high_cents BIGINT,
	generation_request_id      TEXT,
	created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS generation_requests (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	report_id     TEXT NOT NULL REFERENCES market_reports(id) ON DELETE CASCADE,
	status        TEXT NOT NULL DEFAULT 'pending',
	model         TEXT NOT NULL,
	output        JSONB,
	error         TEXT,
	input_tokens  BIGINT NOT NULL DEFAULT 0,
	output_tokens BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS render_jobs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	report_id     TEXT NOT NULL,
	website_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 5,
	next_retry_at TIMESTAMPTZ NOT NULL,
	last_error    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_market_reports_website ON market_reports(website_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_market_reports_status ON market_reports(website_id, status);
CREATE INDEX IF NOT EXISTS idx_generation_requests_report ON generation_requests(report_id);
CREATE INDEX IF NOT EXISTS idx_render_jobs_due ON render_jobs(status, next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
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

const subjectPropertyColumns = `id, website_id, property_type, latitude, longitude, bedrooms, bathrooms, area_sqm, year_built, street, city, state, postal_code, price_cents, currency`

func (s *PostgresStore) GetSubjectProperty(ctx context.Context, websiteID, propertyID string) (*model.SubjectProperty, error) {
	var p model.SubjectProperty
	err := s.pool.QueryRow(ctx,
		`SELECT `+subjectPropertyColumns+` FROM property_search WHERE website_id = $1 AND id = $2`,
		websiteID, propertyID,
	).Scan(
		&p.ID, &p.WebsiteID, &p.Type, &p.Latitude, &p.Longitude,
		&p.Bedrooms, &p.Bathrooms, &p.AreaSqm, &p.YearBuilt,
		&p.Street, &p.City, &p.State, &p.PostalCode, &p.PriceCents, &p.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("property not found: %s", propertyID)
		}
		return nil, eris.Wrapf(err, "postgres: get subject property %s", propertyID)
	}
	return &p, nil
}

func (s *PostgresStore) FindCandidates(ctx context.Context, websiteID string, q CandidateQuery) ([]model.CandidateProperty, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, website_id, property_type, latitude, longitude, bedrooms, bathrooms, area_sqm, year_built,
		        street, city, postal_code, price_cents, currency, listed_at
		 FROM property_search
		 WHERE website_id = $1
		   AND status = 'listed' AND visible
		   AND property_type = $2
		   AND listed_at >= $3
		   AND id <> $4
		   AND ST_DWithin(
		         ST_SetSRID(ST_MakePoint(longitude, latitude), 4326)::geography,
		         ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography,
		         $7)
		 ORDER BY listed_at DESC
		 LIMIT $8`,
		websiteID, string(q.PropertyType), q.ListedAfter, q.ExcludeID,
		q.Longitude, q.Latitude, q.RadiusKm*1000, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find candidates")
	}
	defer rows.Close()

	var candidates []model.CandidateProperty
	for rows.Next() {
		var c model.CandidateProperty
		if err := rows.Scan(
			&c.ID, &c.WebsiteID, &c.Type, &c.Latitude, &c.Longitude,
			&c.Bedrooms, &c.Bathrooms, &c.AreaSqm, &c.YearBuilt,
			&c.Street, &c.City, &c.PostalCode, &c.PriceCents, &c.Currency, &c.ListedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		candidates = append(candidates, c)
	}
	return candidates, eris.Wrap(rows.Err(), "postgres: find candidates iterate")
}

func (s *PostgresStore) CreateReport(ctx context.Context, report model.MarketReport) (*model.MarketReport, error) {
	report.ID = uuid.New().String()
	report.ReportType = model.ReportTypeCMA
	report.Status = model.ReportStatusDraft
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_reports (id, website_id, subject_property_id, report_type, status, title, radius_km, currency, agent_name, company_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		report.ID, report.WebsiteID, report.SubjectPropertyID, report.ReportType,
		string(report.Status), report.Title, report.RadiusKm, report.Currency,
		report.AgentName, report.CompanyName, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert report")
	}
	return &report, nil
}

func (s *PostgresStore) CompleteReport(ctx context.Context, reportID string, completion ReportCompletion) error {
	insightsJSON, err := json.Marshal(completion.Insights)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal insights")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE market_reports
		 SET status = $1, executive_summary = $2, ai_insights = $3,
		     suggested_price_low_cents = $4, suggested_price_high_cents = $5,
		     generation_request_id = $6, updated_at = $7
		 WHERE id = $8`,
		string(model.ReportStatusCompleted), completion.ExecutiveSummary, insightsJSON,
		completion.SuggestedPriceLowCents, completion.SuggestedPriceHighCents,
		completion.GenerationRequestID, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete report %s", reportID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("report not found: %s", reportID)
	}
	return nil
}

const reportColumns = `id, website_id, subject_property_id, report_type, status, title, radius_km, currency, agent_name, company_name, executive_summary, ai_insights, suggested_price_low_cents, suggested_price_high_cents, generation_request_id, created_at, updated_at`

func (s *PostgresStore) GetReport(ctx context.Context, websiteID, reportID string) (*model.MarketReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+reportColumns+` FROM market_reports WHERE website_id = $1 AND id = $2`,
		websiteID, reportID,
	)
	r, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("report not found: %s", reportID)
		}
		return nil, eris.Wrapf(err, "postgres: get report %s", reportID)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.MarketReport, error) {
	if filter.WebsiteID == "" {
		return nil, eris.New("store: website id is required")
	}

	query := `SELECT ` + reportColumns + ` FROM market_reports WHERE website_id = $1`
	args := []any{filter.WebsiteID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.MarketReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) CreateGenerationRequest(ctx context.Context, reportID, aiModel string) (*model.GenerationRequest, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO generation_requests (id, report_id, status, model, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, reportID, string(model.GenerationStatusPending), aiModel, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert generation request for report %s", reportID)
	}

	return &model.GenerationRequest{
		ID:        id,
		ReportID:  reportID,
		Status:    model.GenerationStatusPending,
		Model:     aiModel,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteGenerationRequest(ctx context.Context, id string, output []byte, inputTokens, outputTokens int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_requests
		 SET status = $1, output = $2, input_tokens = $3, output_tokens = $4, updated_at = $5
		 WHERE id = $6 AND status = $7`,
		string(model.GenerationStatusCompleted), output, inputTokens, outputTokens,
		time.Now().UTC(), id, string(model.GenerationStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete generation request %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("generation request not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailGenerationRequest(ctx context.Context, id, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generation_requests SET status = $1, error = $2, updated_at = $3 WHERE id = $4 AND status = $5`,
		string(model.GenerationStatusFailed), errMsg, time.Now().UTC(), id,
		string(model.GenerationStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail generation request %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("generation request not pending: %s", id)
	}
	return nil
}

func (s *PostgresStore) EnqueueRender(ctx context.Context, reportID, websiteID string, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO render_jobs (id, report_id, website_id, status, retry_count, max_retries, next_retry_at, created_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, $7)`,
		uuid.New().String(), reportID, websiteID, string(model.RenderJobStatusQueued),
		maxRetries, time.Now().UTC(), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue render job")
}

func (s *PostgresStore) DueRenderJobs(ctx context.Context, limit int) ([]model.RenderJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, report_id, website_id, status, retry_count, max_retries, next_retry_at, last_error, created_at
		 FROM render_jobs
		 WHERE status = $1 AND next_retry_at <= now() AND retry_count < max_retries
		 ORDER BY next_retry_at ASC
		 LIMIT $2`,
		string(model.RenderJobStatusQueued), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: due render jobs")
	}
	defer rows.Close()

	var jobs []model.RenderJob
	for rows.Next() {
		var j model.RenderJob
		var lastErr *string
		if err := rows.Scan(&j.ID, &j.ReportID, &j.WebsiteID, &j.Status,
			&j.RetryCount, &j.MaxRetries, &j.NextRetryAt, &lastErr, &j.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan render job")
		}
		if lastErr != nil {
			j.LastError = *lastErr
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: due render jobs iterate")
}

func (s *PostgresStore) CompleteRenderJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE render_jobs SET status = $1 WHERE id = $2`,
		string(model.RenderJobStatusDone), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete render job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("render job not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RescheduleRenderJob(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE render_jobs
		 SET retry_count = retry_count + 1, next_retry_at = $1, last_error = $2
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: reschedule render job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("render job not found: %s", id)
	}
	return nil
}

// scanReport reads one market_reports row from a pgx row or rows cursor.
func scanReport(row pgx.Row) (*model.MarketReport, error) {
	var r model.MarketReport
	var title, agentName, companyName, execSummary, genReqID *string
	var insightsJSON []byte
	var lowCents, highCents *int64

	err := row.Scan(
		&r.ID, &r.WebsiteID, &r.SubjectPropertyID, &r.ReportType, &r.Status,
		&title, &r.RadiusKm, &r.Currency, &agentName, &companyName,
		&execSummary, &insightsJSON, &lowCents, &highCents, &genReqID,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if title != nil {
		r.Title = *title
	}
	if agentName != nil {
		r.AgentName = *agentName
	}
	if companyName != nil {
		r.CompanyName = *companyName
	}
	if execSummary != nil {
		r.ExecutiveSummary = *execSummary
	}
	if genReqID != nil {
		r.GenerationRequestID = *genReqID
	}
	if lowCents != nil {
		r.SuggestedPriceLowCents = *lowCents
	}
	if highCents != nil {
		r.SuggestedPriceHighCents = *highCents
	}
	if len(insightsJSON) > 0 {
		r.Insights = &model.CmaInsights{}
		if err := json.Unmarshal(insightsJSON, r.Insights); err != nil {
			return nil, eris.Wrap(err, "unmarshal insights")
		}
	}
	return &r, nil
}
