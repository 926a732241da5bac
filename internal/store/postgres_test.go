package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/cma-engine/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresFromPool(mock), mock
}

func TestPostgresStore_GetSubjectProperty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM property_search WHERE website_id = \$1 AND id = \$2`).
		WithArgs("site-1", "prop-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "website_id", "property_type", "latitude", "longitude",
			"bedrooms", "bathrooms", "area_sqm", "year_built",
			"street", "city", "state", "postal_code", "price_cents", "currency",
		}).AddRow(
			"prop-1", "site-1", "house", 40.4168, -3.7038,
			3, 2.0, 120.0, 2010,
			"Calle Mayor 1", "Madrid", "", "28013", int64(35_000_000), "EUR",
		))

	p, err := s.GetSubjectProperty(context.Background(), "site-1", "prop-1")
	require.NoError(t, err)

	assert.Equal(t, "prop-1", p.ID)
	assert.Equal(t, model.PropertyTypeHouse, p.Type)
	assert.Equal(t, int64(35_000_000), p.PriceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSubjectProperty_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM property_search WHERE website_id = \$1 AND id = \$2`).
		WithArgs("site-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSubjectProperty(context.Background(), "site-1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "property not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindCandidates_TenantScoped(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	listedAfter := time.Now().AddDate(0, -6, 0)
	listedAt := time.Now().AddDate(0, -1, 0)

	mock.ExpectQuery(`SELECT .+ FROM property_search\s+WHERE website_id = \$1\s+AND status = 'listed' AND visible\s+AND property_type = \$2.+ST_DWithin`).
		WithArgs("site-1", "house", listedAfter, "prop-1", -3.7038, 40.4168, 5000.0, 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "website_id", "property_type", "latitude", "longitude",
			"bedrooms", "bathrooms", "area_sqm", "year_built",
			"street", "city", "postal_code", "price_cents", "currency", "listed_at",
		}).AddRow(
			"cand-1", "site-1", "house", 40.4178, -3.7048,
			3, 2.0, 118.0, 2012,
			"Calle Mayor 2", "Madrid", "28013", int64(34_000_000), "EUR", listedAt,
		))

	candidates, err := s.FindCandidates(context.Background(), "site-1", CandidateQuery{
		PropertyType: model.PropertyTypeHouse,
		ListedAfter:  listedAfter,
		Latitude:     40.4168,
		Longitude:    -3.7038,
		RadiusKm:     5,
		ExcludeID:    "prop-1",
		Limit:        50,
	})
	require.NoError(t, err)

	require.Len(t, candidates, 1)
	assert.Equal(t, "cand-1", candidates[0].ID)
	assert.Equal(t, int64(34_000_000), candidates[0].PriceCents)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateReport(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO market_reports`).
		WithArgs(pgxmock.AnyArg(), "site-1", "prop-1", "cma", "draft", "My Report",
			5.0, "EUR", "Jane", "Parcelworks", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	report, err := s.CreateReport(context.Background(), model.MarketReport{
		WebsiteID:         "site-1",
		SubjectPropertyID: "prop-1",
		Title:             "My Report",
		RadiusKm:          5,
		Currency:          "EUR",
		AgentName:         "Jane",
		CompanyName:       "Parcelworks",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, model.ReportStatusDraft, report.Status)
	assert.Equal(t, model.ReportTypeCMA, report.ReportType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteReport_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE market_reports`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteReport(context.Background(), "missing", ReportCompletion{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "report not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetReport_RoundTripsInsights(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	insightsJSON := []byte(`{"executive_summary":"Summary.","market_position":"Mid.","pricing_rationale":"Because.","recommendation":"List.","suggested_price_low_cents":100,"suggested_price_high_cents":200,"confidence_level":"high"}`)

	title := "My Report"
	mock.ExpectQuery(`SELECT .+ FROM market_reports WHERE website_id = \$1 AND id = \$2`).
		WithArgs("site-1", "rep-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "website_id", "subject_property_id", "report_type", "status",
			"title", "radius_km", "currency", "agent_name", "company_name",
			"executive_summary", "ai_insights", "suggested_price_low_cents",
			"suggested_price_high_cents", "generation_request_id", "created_at", "updated_at",
		}).AddRow(
			"rep-1", "site-1", "prop-1", "cma", "completed",
			&title, 5.0, "EUR", nil, nil,
			nil, insightsJSON, nil, nil, nil, now, now,
		))

	report, err := s.GetReport(context.Background(), "site-1", "rep-1")
	require.NoError(t, err)

	assert.Equal(t, "My Report", report.Title)
	assert.Equal(t, model.ReportStatusCompleted, report.Status)
	require.NotNil(t, report.Insights)
	assert.Equal(t, "high", report.Insights.ConfidenceLevel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteGenerationRequest_NotPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE generation_requests`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), "gen-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteGenerationRequest(context.Background(), "gen-1", []byte(`{}`), 100, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailGenerationRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE generation_requests SET status = \$1, error = \$2`).
		WithArgs("failed", "timeout", pgxmock.AnyArg(), "gen-1", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailGenerationRequest(context.Background(), "gen-1", "timeout"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateGenerationRequest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO generation_requests`).
		WithArgs(pgxmock.AnyArg(), "rep-1", "pending", "claude-sonnet-4-5-20250929",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	req, err := s.CreateGenerationRequest(context.Background(), "rep-1", "claude-sonnet-4-5-20250929")
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.GenerationStatusPending, req.Status)
	assert.Equal(t, "rep-1", req.ReportID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueRender(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO render_jobs`).
		WithArgs(pgxmock.AnyArg(), "rep-1", "site-1", "queued", 3,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.EnqueueRender(context.Background(), "rep-1", "site-1", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DueRenderJobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT .+ FROM render_jobs\s+WHERE status = \$1 AND next_retry_at <= now\(\) AND retry_count < max_retries`).
		WithArgs("queued", 20).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "report_id", "website_id", "status", "retry_count",
			"max_retries", "next_retry_at", "last_error", "created_at",
		}).AddRow(
			"job-1", "rep-1", "site-1", "queued", 1, 5, now, nil, now,
		))

	jobs, err := s.DueRenderJobs(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, 1, jobs[0].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RescheduleRenderJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	next := time.Now().Add(2 * time.Minute)
	mock.ExpectExec(`UPDATE render_jobs\s+SET retry_count = retry_count \+ 1`).
		WithArgs(next, "boom", "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.RescheduleRenderJob(context.Background(), "job-1", next, "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
