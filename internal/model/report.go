package model

import "time"

// ReportStatus tracks a market report's lifecycle. A report stays in draft
// when comparable search comes up empty or insight generation fails.
type ReportStatus string

const (
	ReportStatusDraft     ReportStatus = "draft"
	ReportStatusCompleted ReportStatus = "completed"
)

// ReportTypeCMA is the only report type the engine produces today.
const ReportTypeCMA = "cma"

// CmaInsights is the structured narrative returned by the generation
// provider and persisted on the report.
type CmaInsights struct {
	ExecutiveSummary        string   `json:"executive_summary"`
	MarketPosition          string   `json:"market_position"`
	PricingRationale        string   `json:"pricing_rationale"`
	Strengths               []string `json:"strengths,omitempty"`
	Considerations          []string `json:"considerations,omitempty"`
	Recommendation          string   `json:"recommendation"`
	EstimatedTimeToSell     string   `json:"estimated_time_to_sell,omitempty"`
	SuggestedPriceLowCents  int64    `json:"suggested_price_low_cents"`
	SuggestedPriceHighCents int64    `json:"suggested_price_high_cents"`
	ConfidenceLevel         string   `json:"confidence_level"`
}

// MarketReport is the persisted, tenant-owned report artifact. Created in
// draft at the start of a generation call and mutated once on success.
type MarketReport struct {
	ID                      string       `json:"id"`
	WebsiteID               string       `json:"website_id"`
	SubjectPropertyID       string       `json:"subject_property_id"`
	ReportType              string       `json:"report_type"`
	Status                  ReportStatus `json:"status"`
	Title                   string       `json:"title,omitempty"`
	RadiusKm                float64      `json:"radius_km"`
	Currency                string       `json:"currency"`
	AgentName               string       `json:"agent_name,omitempty"`
	CompanyName             string       `json:"company_name,omitempty"`
	ExecutiveSummary        string       `json:"executive_summary,omitempty"`
	Insights                *CmaInsights `json:"ai_insights,omitempty"`
	SuggestedPriceLowCents  int64        `json:"suggested_price_low_cents,omitempty"`
	SuggestedPriceHighCents int64        `json:"suggested_price_high_cents,omitempty"`
	GenerationRequestID     string       `json:"generation_request_id,omitempty"`
	CreatedAt               time.Time    `json:"created_at"`
	UpdatedAt               time.Time    `json:"updated_at"`
}

// GenerationStatus tracks one provider call's lifecycle. Exactly one
// transition out of pending happens per call.
type GenerationStatus string

const (
	GenerationStatusPending   GenerationStatus = "pending"
	GenerationStatusCompleted GenerationStatus = "completed"
	GenerationStatusFailed    GenerationStatus = "failed"
)

// GenerationRequest is the persisted audit record for one generation call.
type GenerationRequest struct {
	ID           string           `json:"id"`
	ReportID     string           `json:"report_id"`
	Status       GenerationStatus `json:"status"`
	Model        string           `json:"model"`
	Output       []byte           `json:"output,omitempty"`
	Error        string           `json:"error,omitempty"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// RenderJobStatus tracks a queued PDF render hand-off.
type RenderJobStatus string

const (
	RenderJobStatusQueued RenderJobStatus = "queued"
	RenderJobStatusDone   RenderJobStatus = "done"
)

// RenderJob is a fire-and-forget PDF rendering job keyed by report and
// tenant. Retried by its own queue with exponential backoff, never awaited
// by the generation pipeline.
type RenderJob struct {
	ID          string          `json:"id"`
	ReportID    string          `json:"report_id"`
	WebsiteID   string          `json:"website_id"`
	Status      RenderJobStatus `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
