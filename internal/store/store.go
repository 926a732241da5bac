package store

import (
	"context"
	"time"

	"github.com/parcelworks/cma-engine/internal/model"
)

// CandidateQuery specifies the comparable-selection query shape. WebsiteID is
// passed separately on every call: tenant scoping is a security invariant
// enforced at the query layer, never ambient state.
type CandidateQuery struct {
	PropertyType model.PropertyType `json:"property_type"`
	ListedAfter  time.Time          `json:"listed_after"`
	Latitude     float64            `json:"latitude"`
	Longitude    float64            `json:"longitude"`
	RadiusKm     float64            `json:"radius_km"`
	ExcludeID    string             `json:"exclude_id"`
	Limit        int                `json:"limit"`
}

// ReportFilter specifies criteria for listing market reports. WebsiteID is
// required; listing across tenants is not supported.
type ReportFilter struct {
	WebsiteID string             `json:"website_id"`
	Status    model.ReportStatus `json:"status,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

// ReportCompletion carries the fields persisted onto a report when insight
// generation succeeds.
type ReportCompletion struct {
	ExecutiveSummary        string
	Insights                *model.CmaInsights
	SuggestedPriceLowCents  int64
	SuggestedPriceHighCents int64
	GenerationRequestID     string
}

// Store defines the persistence interface for the CMA report engine.
type Store interface {
	// Inventory reads (served by the denormalized property search view).
	GetSubjectProperty(ctx context.Context, websiteID, propertyID string) (*model.SubjectProperty, error)
	FindCandidates(ctx context.Context, websiteID string, q CandidateQuery) ([]model.CandidateProperty, error)

	// Market reports
	CreateReport(ctx context.Context, report model.MarketReport) (*model.MarketReport, error)
	CompleteReport(ctx context.Context, reportID string, completion ReportCompletion) error
	GetReport(ctx context.Context, websiteID, reportID string) (*model.MarketReport, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]model.MarketReport, error)

	// Generation audit records
	CreateGenerationRequest(ctx context.Context, reportID, aiModel string) (*model.GenerationRequest, error)
	CompleteGenerationRequest(ctx context.Context, id string, output []byte, inputTokens, outputTokens int64) error
	FailGenerationRequest(ctx context.Context, id, errMsg string) error

	// Render queue
	EnqueueRender(ctx context.Context, reportID, websiteID string, maxRetries int) error
	DueRenderJobs(ctx context.Context, limit int) ([]model.RenderJob, error)
	CompleteRenderJob(ctx context.Context, id string) error
	RescheduleRenderJob(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
