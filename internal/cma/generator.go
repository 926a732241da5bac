package cma

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/internal/store"
)

// noComparablesMessage is surfaced on successful runs that found nothing to
// compare against. The report stays in draft.
const noComparablesMessage = "No comparable properties found matching the search criteria. Try widening the search radius or the listing window."

// Options tunes one report generation run. Zero fields fall back to the
// engine defaults.
type Options struct {
	Title          string
	RadiusKm       float64
	MonthsBack     int
	MaxComparables int
	AgentName      string
	CompanyName    string
	GeneratePDF    bool
}

// Result is the full outcome of one generation run.
type Result struct {
	Success     bool                     `json:"success"`
	Report      *model.MarketReport      `json:"report,omitempty"`
	Comparables []model.ComparableResult `json:"comparables,omitempty"`
	Statistics  model.Statistics         `json:"statistics"`
	Insights    *model.CmaInsights       `json:"insights,omitempty"`
	Error       string                   `json:"error,omitempty"`
}

// Defaults carries the branding and currency fallbacks applied when a run
// does not specify them.
type Defaults struct {
	Currency    string
	AgentName   string
	CompanyName string
	MaxRetries  int // render job retry budget
}

// Generator orchestrates a full report run: subject lookup, comparable
// search, statistics, AI insights, persistence, and the optional render
// hand-off.
type Generator struct {
	store    store.Store
	finder   *ComparablesFinder
	insights *InsightsGenerator
	defaults Defaults
}

// NewGenerator wires the orchestrator.
func NewGenerator(st store.Store, finder *ComparablesFinder, insights *InsightsGenerator, defaults Defaults) *Generator {
	if defaults.Currency == "" {
		defaults.Currency = "USD"
	}
	if defaults.MaxRetries <= 0 {
		defaults.MaxRetries = 5
	}
	return &Generator{store: st, finder: finder, insights: insights, defaults: defaults}
}

// Generate runs the full pipeline for one subject property. The report is
// created in draft before the provider call and completed only when insight
// generation succeeds, so a crash or provider failure can never publish an
// unfinished report. ErrProviderNotConfigured propagates to the caller;
// transient provider failures come back as Success false with the draft
// report attached.
func (g *Generator) Generate(ctx context.Context, websiteID, propertyID string, opts Options) (*Result, error) {
	subject, err := g.store.GetSubjectProperty(ctx, websiteID, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "cma: load subject property %s", propertyID)
	}

	found, err := g.finder.Find(ctx, *subject, websiteID, FindOptions{
		MaxComparables: opts.MaxComparables,
		RadiusKm:       opts.RadiusKm,
		MonthsBack:     opts.MonthsBack,
	})
	if err != nil {
		return nil, err
	}

	currency := subject.Currency
	if currency == "" {
		currency = g.defaults.Currency
	}
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("CMA Report - %s", subject.Address())
	}
	agentName := opts.AgentName
	if agentName == "" {
		agentName = g.defaults.AgentName
	}
	companyName := opts.CompanyName
	if companyName == "" {
		companyName = g.defaults.CompanyName
	}

	now := time.Now().UTC()
	report, err := g.store.CreateReport(ctx, model.MarketReport{
		ID:                uuid.NewString(),
		WebsiteID:         websiteID,
		SubjectPropertyID: subject.ID,
		ReportType:        model.ReportTypeCMA,
		Status:            model.ReportStatusDraft,
		Title:             title,
		RadiusKm:          found.Criteria.RadiusKm,
		Currency:          currency,
		AgentName:         agentName,
		CompanyName:       companyName,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, eris.Wrap(err, "cma: create report")
	}

	if len(found.Comparables) == 0 {
		zap.L().Info("cma: no comparables found",
			zap.String("website_id", websiteID),
			zap.String("report_id", report.ID),
			zap.Float64("radius_km", found.Criteria.RadiusKm),
		)
		return &Result{
			Success: true,
			Report:  report,
			Error:   noComparablesMessage,
		}, nil
	}

	stats := CalculateStatistics(found.Comparables, currency)

	insightsResult, err := g.insights.Generate(ctx, report.ID, *subject, found.Comparables, stats)
	if err != nil {
		// Config and audit-store errors propagate; the report stays in draft.
		return nil, err
	}

	if !insightsResult.Success {
		return &Result{
			Success:     false,
			Report:      report,
			Comparables: found.Comparables,
			Statistics:  stats,
			Error:       insightsResult.Error,
		}, nil
	}

	completion := store.ReportCompletion{
		ExecutiveSummary:        insightsResult.Insights.ExecutiveSummary,
		Insights:                insightsResult.Insights,
		SuggestedPriceLowCents:  insightsResult.Insights.SuggestedPriceLowCents,
		SuggestedPriceHighCents: insightsResult.Insights.SuggestedPriceHighCents,
		GenerationRequestID:     insightsResult.RequestID,
	}
	if err := g.store.CompleteReport(ctx, report.ID, completion); err != nil {
		return nil, eris.Wrap(err, "cma: complete report")
	}

	report.Status = model.ReportStatusCompleted
	report.ExecutiveSummary = completion.ExecutiveSummary
	report.Insights = completion.Insights
	report.SuggestedPriceLowCents = completion.SuggestedPriceLowCents
	report.SuggestedPriceHighCents = completion.SuggestedPriceHighCents
	report.GenerationRequestID = completion.GenerationRequestID
	report.UpdatedAt = time.Now().UTC()

	if opts.GeneratePDF {
		// Fire-and-forget: an enqueue failure never fails a completed report.
		if err := g.store.EnqueueRender(ctx, report.ID, websiteID, g.defaults.MaxRetries); err != nil {
			zap.L().Error("cma: enqueue render job",
				zap.String("report_id", report.ID),
				zap.Error(err),
			)
		}
	}

	zap.L().Info("cma: report completed",
		zap.String("website_id", websiteID),
		zap.String("report_id", report.ID),
		zap.Int("comparables", len(found.Comparables)),
		zap.Float64("avg_similarity", stats.AverageSimilarity),
	)

	return &Result{
		Success:     true,
		Report:      report,
		Comparables: found.Comparables,
		Statistics:  stats,
		Insights:    insightsResult.Insights,
	}, nil
}
