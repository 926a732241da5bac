package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/parcelworks/cma-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; spatial filtering is a bounding-box prefilter plus
// an exact haversine check, since SQLite has no geography type.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteMigration includes a local property_search table; in production that
// view belongs to the platform, but a dev database needs its own copy.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS market_reports (
	id                         TEXT PRIMARY KEY,
	website_id                 TEXT NOT NULL,
	subject_property_id        TEXT NOT NULL,
	report_type                TEXT NOT NULL DEFAULT 'cma',
	status                     TEXT NOT NULL DEFAULT 'draft',
	title                      TEXT,
	radius_km                  REAL NOT NULL,
	currency                   TEXT NOT NULL,
	agent_name                 TEXT,
	company_name               TEXT,
	executive_summary          TEXT,
	ai_insights                TEXT,
	suggested_price_low_cents  INTEGER,
	suggested_price_high_cents INTEGER,
	generation_request_id      TEXT,
	created_at                 DATETIME NOT NULL,
	updated_at                 DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS generation_requests (
	id            TEXT PRIMARY KEY,
	report_id     TEXT NOT NULL REFERENCES market_reports(id) ON DELETE CASCADE,
	status        TEXT NOT NULL DEFAULT 'pending',
	model         TEXT NOT NULL,
	output        TEXT,
	error         TEXT,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS render_jobs (
	id            TEXT PRIMARY KEY,
	report_id     TEXT NOT NULL,
	website_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'queued',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 5,
	next_retry_at DATETIME NOT NULL,
	last_error    TEXT,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS property_search (
	id            TEXT PRIMARY KEY,
	website_id    TEXT NOT NULL,
	property_type TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'listed',
	visible       INTEGER NOT NULL DEFAULT 1,
	latitude      REAL NOT NULL,
	longitude     REAL NOT NULL,
	bedrooms      INTEGER NOT NULL DEFAULT 0,
	bathrooms     REAL NOT NULL DEFAULT 0,
	area_sqm      REAL NOT NULL DEFAULT 0,
	year_built    INTEGER NOT NULL DEFAULT 0,
	street        TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	postal_code   TEXT NOT NULL DEFAULT '',
	price_cents   INTEGER NOT NULL,
	currency      TEXT NOT NULL,
	listed_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_market_reports_website ON market_reports(website_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_generation_requests_report ON generation_requests(report_id);
CREATE INDEX IF NOT EXISTS idx_render_jobs_due ON render_jobs(status, next_retry_at);
CREATE INDEX IF NOT EXISTS idx_property_search_website ON property_search(website_id, property_type, listed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for test fixtures.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) GetSubjectProperty(ctx context.Context, websiteID, propertyID string) (*model.SubjectProperty, error) {
	var p model.SubjectProperty
	err := s.db.QueryRowContext(ctx,
		`SELECT id, website_id, property_type, latitude, longitude, bedrooms, bathrooms, area_sqm, year_built,
		        street, city, state, postal_code, price_cents, currency
		 FROM property_search WHERE website_id = ? AND id = ?`,
		websiteID, propertyID,
	).Scan(
		&p.ID, &p.WebsiteID, &p.Type, &p.Latitude, &p.Longitude,
		&p.Bedrooms, &p.Bathrooms, &p.AreaSqm, &p.YearBuilt,
		&p.Street, &p.City, &p.State, &p.PostalCode, &p.PriceCents, &p.Currency,
	)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("property not found: %s", propertyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get subject property %s", propertyID)
	}
	return &p, nil
}

func (s *SQLiteStore) FindCandidates(ctx context.Context, websiteID string, q CandidateQuery) ([]model.CandidateProperty, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	// Bounding-box prefilter; 1 degree latitude is ~111 km.
	latDelta := q.RadiusKm / 111.0
	lonDelta := q.RadiusKm / (111.0 * math.Max(math.Cos(q.Latitude*math.Pi/180), 0.01))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, website_id, property_type, latitude, longitude, bedrooms, bathrooms, area_sqm, year_built,
		        street, city, postal_code, price_cents, currency, listed_at
		 FROM property_search
		 WHERE website_id = ?
		   AND status = 'listed' AND visible = 1
		   AND property_type = ?
		   AND listed_at >= ?
		   AND id <> ?
		   AND latitude BETWEEN ? AND ?
		   AND longitude BETWEEN ? AND ?
		 ORDER BY listed_at DESC`,
		websiteID, string(q.PropertyType), q.ListedAfter, q.ExcludeID,
		q.Latitude-latDelta, q.Latitude+latDelta,
		q.Longitude-lonDelta, q.Longitude+lonDelta,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find candidates")
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
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		// Exact radius check; the box corners overshoot.
		if haversineKm(q.Latitude, q.Longitude, c.Latitude, c.Longitude) > q.RadiusKm {
			continue
		}
		candidates = append(candidates, c)
		if len(candidates) >= limit {
			break
		}
	}
	return candidates, eris.Wrap(rows.Err(), "sqlite: find candidates iterate")
}

// haversineKm returns the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func (s *SQLiteStore) CreateReport(ctx context.Context, report model.MarketReport) (*model.MarketReport, error) {
	report.ID = uuid.New().String()
	report.ReportType = model.ReportTypeCMA
	report.Status = model.ReportStatusDraft
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO market_reports (id, website_id, subject_property_id, report_type, status, title, radius_km, currency, agent_name, company_name, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID, report.WebsiteID, report.SubjectPropertyID, report.ReportType,
		string(report.Status), report.Title, report.RadiusKm, report.Currency,
		report.AgentName, report.CompanyName, report.CreatedAt, report.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert report")
	}
	return &report, nil
}

func (s *SQLiteStore) CompleteReport(ctx context.Context, reportID string, completion ReportCompletion) error {
	insightsJSON, err := json.Marshal(completion.Insights)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal insights")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE market_reports
		 SET status = ?, executive_summary = ?, ai_insights = ?,
		     suggested_price_low_cents = ?, suggested_price_high_cents = ?,
		     generation_request_id = ?, updated_at = ?
		 WHERE id = ?`,
		string(model.ReportStatusCompleted), completion.ExecutiveSummary, string(insightsJSON),
		completion.SuggestedPriceLowCents, completion.SuggestedPriceHighCents,
		completion.GenerationRequestID, time.Now().UTC(), reportID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete report %s", reportID)
	}
	return checkRowsAffected(res, "report", reportID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, websiteID, reportID string) (*model.MarketReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, website_id, subject_property_id, report_type, status, title, radius_km, currency,
		        agent_name, company_name, executive_summary, ai_insights,
		        suggested_price_low_cents, suggested_price_high_cents, generation_request_id,
		        created_at, updated_at
		 FROM market_reports WHERE website_id = ? AND id = ?`,
		websiteID, reportID,
	)
	r, err := scanSQLiteReport(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("report not found: %s", reportID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %s", reportID)
	}
	return r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.MarketReport, error) {
	if filter.WebsiteID == "" {
		return nil, eris.New("store: website id is required")
	}

	query := `SELECT id, website_id, subject_property_id, report_type, status, title, radius_km, currency,
	                 agent_name, company_name, executive_summary, ai_insights,
	                 suggested_price_low_cents, suggested_price_high_cents, generation_request_id,
	                 created_at, updated_at
	          FROM market_reports WHERE website_id = ?`
	args := []any{filter.WebsiteID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var reports []model.MarketReport
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) CreateGenerationRequest(ctx context.Context, reportID, aiModel string) (*model.GenerationRequest, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_requests (id, report_id, status, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, reportID, string(model.GenerationStatusPending), aiModel, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert generation request for report %s", reportID)
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

func (s *SQLiteStore) CompleteGenerationRequest(ctx context.Context, id string, output []byte, inputTokens, outputTokens int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_requests
		 SET status = ?, output = ?, input_tokens = ?, output_tokens = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(model.GenerationStatusCompleted), string(output), inputTokens, outputTokens,
		time.Now().UTC(), id, string(model.GenerationStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete generation request %s", id)
	}
	return checkGenerationTransition(res, id)
}

func (s *SQLiteStore) FailGenerationRequest(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE generation_requests SET status = ?, error = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.GenerationStatusFailed), errMsg, time.Now().UTC(), id,
		string(model.GenerationStatusPending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail generation request %s", id)
	}
	return checkGenerationTransition(res, id)
}

// GetGenerationRequest reads one audit record. Used by tests and the CLI.
func (s *SQLiteStore) GetGenerationRequest(ctx context.Context, id string) (*model.GenerationRequest, error) {
	var gr model.GenerationRequest
	var output, errMsg sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, report_id, status, model, output, error, input_tokens, output_tokens, created_at, updated_at
		 FROM generation_requests WHERE id = ?`,
		id,
	).Scan(&gr.ID, &gr.ReportID, &gr.Status, &gr.Model, &output, &errMsg,
		&gr.InputTokens, &gr.OutputTokens, &gr.CreatedAt, &gr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("generation request not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get generation request %s", id)
	}
	if output.Valid {
		gr.Output = []byte(output.String)
	}
	if errMsg.Valid {
		gr.Error = errMsg.String
	}
	return &gr, nil
}

func (s *SQLiteStore) EnqueueRender(ctx context.Context, reportID, websiteID string, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO render_jobs (id, report_id, website_id, status, retry_count, max_retries, next_retry_at, created_at)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		uuid.New().String(), reportID, websiteID, string(model.RenderJobStatusQueued),
		maxRetries, now, now,
	)
	return eris.Wrap(err, "sqlite: enqueue render job")
}

func (s *SQLiteStore) DueRenderJobs(ctx context.Context, limit int) ([]model.RenderJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, website_id, status, retry_count, max_retries, next_retry_at, last_error, created_at
		 FROM render_jobs
		 WHERE status = ? AND next_retry_at <= ? AND retry_count < max_retries
		 ORDER BY next_retry_at ASC
		 LIMIT ?`,
		string(model.RenderJobStatusQueued), time.Now().UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: due render jobs")
	}
	defer rows.Close()

	var jobs []model.RenderJob
	for rows.Next() {
		var j model.RenderJob
		var lastErr sql.NullString
		if err := rows.Scan(&j.ID, &j.ReportID, &j.WebsiteID, &j.Status,
			&j.RetryCount, &j.MaxRetries, &j.NextRetryAt, &lastErr, &j.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan render job")
		}
		if lastErr.Valid {
			j.LastError = lastErr.String
		}
		jobs = append(jobs, j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: due render jobs iterate")
}

func (s *SQLiteStore) CompleteRenderJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE render_jobs SET status = ? WHERE id = ?`,
		string(model.RenderJobStatusDone), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete render job %s", id)
	}
	return checkRowsAffected(res, "render job", id)
}

func (s *SQLiteStore) RescheduleRenderJob(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE render_jobs
		 SET retry_count = retry_count + 1, next_retry_at = ?, last_error = ?
		 WHERE id = ?`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: reschedule render job %s", id)
	}
	return checkRowsAffected(res, "render job", id)
}

// InsertProperty seeds one property_search row. Dev/test fixture helper.
func (s *SQLiteStore) InsertProperty(ctx context.Context, c model.CandidateProperty, status string, visible bool) error {
	if status == "" {
		status = "listed"
	}
	vis := 0
	if visible {
		vis = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO property_search (id, website_id, property_type, status, visible, latitude, longitude,
		        bedrooms, bathrooms, area_sqm, year_built, street, city, postal_code, price_cents, currency, listed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WebsiteID, string(c.Type), status, vis, c.Latitude, c.Longitude,
		c.Bedrooms, c.Bathrooms, c.AreaSqm, c.YearBuilt, c.Street, c.City, c.PostalCode,
		c.PriceCents, c.Currency, c.ListedAt,
	)
	return eris.Wrap(err, "sqlite: insert property")
}

// helpers

// checkGenerationTransition distinguishes the guarded status update: zero
// rows means the record already left pending.
func checkGenerationTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("generation request not pending: %s", id)
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row scannable) (*model.MarketReport, error) {
	var r model.MarketReport
	var title, agentName, companyName, execSummary, genReqID, insightsJSON sql.NullString
	var lowCents, highCents sql.NullInt64

	err := row.Scan(
		&r.ID, &r.WebsiteID, &r.SubjectPropertyID, &r.ReportType, &r.Status,
		&title, &r.RadiusKm, &r.Currency, &agentName, &companyName,
		&execSummary, &insightsJSON, &lowCents, &highCents, &genReqID,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Title = title.String
	r.AgentName = agentName.String
	r.CompanyName = companyName.String
	r.ExecutiveSummary = execSummary.String
	r.GenerationRequestID = genReqID.String
	r.SuggestedPriceLowCents = lowCents.Int64
	r.SuggestedPriceHighCents = highCents.Int64
	if insightsJSON.Valid && insightsJSON.String != "" && insightsJSON.String != "null" {
		r.Insights = &model.CmaInsights{}
		if err := json.Unmarshal([]byte(insightsJSON.String), r.Insights); err != nil {
			return nil, eris.Wrap(err, "unmarshal insights")
		}
	}
	return &r, nil
}
