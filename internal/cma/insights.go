package cma

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/pkg/anthropic"
)

// ErrProviderNotConfigured is returned when insight generation is requested
// without a configured AI provider. It is raised before any generation
// request record is created, so a misconfigured deployment leaves no audit
// noise behind.
var ErrProviderNotConfigured = eris.New("cma: ai provider not configured")

// AuditStore records the lifecycle of each provider call. Satisfied by
// store.Store.
type AuditStore interface {
	CreateGenerationRequest(ctx context.Context, reportID, aiModel string) (*model.GenerationRequest, error)
	CompleteGenerationRequest(ctx context.Context, id string, output []byte, inputTokens, outputTokens int64) error
	FailGenerationRequest(ctx context.Context, id, errMsg string) error
}

// InsightsResult is the outcome of one insight generation attempt. A
// transient provider failure yields Success false with the audit RequestID
// still set; callers decide whether the surrounding report completes anyway.
type InsightsResult struct {
	Success   bool
	Insights  *model.CmaInsights
	RequestID string
	Error     string
	Usage     anthropic.TokenUsage
}

// InsightsGenerator produces the AI narrative for a report. Every attempt is
// audited: a pending record is written before the provider call and moves to
// completed or failed exactly once.
type InsightsGenerator struct {
	client    anthropic.Client
	audit     AuditStore
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// NewInsightsGenerator creates a generator. client may be nil when no
// provider is configured; Generate then returns ErrProviderNotConfigured.
func NewInsightsGenerator(client anthropic.Client, audit AuditStore, aiModel string, maxTokens int64, requestsPerMinute int) *InsightsGenerator {
	var limiter *rate.Limiter
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &InsightsGenerator{
		client:    client,
		audit:     audit,
		model:     aiModel,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

// Generate builds the prompt, calls the provider, and parses the response.
// Configuration errors propagate to the caller; provider and parse errors
// are recorded on the audit record and reported as Success false.
func (g *InsightsGenerator) Generate(ctx context.Context, reportID string, subject model.SubjectProperty, comparables []model.ComparableResult, stats model.Statistics) (*InsightsResult, error) {
	if g.client == nil {
		return nil, ErrProviderNotConfigured
	}

	req, err := g.audit.CreateGenerationRequest(ctx, reportID, g.model)
	if err != nil {
		return nil, eris.Wrap(err, "cma: create generation request")
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return g.fail(ctx, req.ID, eris.Wrap(err, "cma: rate limit wait"))
		}
	}

	prompt := BuildInsightsPrompt(subject, comparables, stats)
	resp, err := g.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		System:    insightsSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return g.fail(ctx, req.ID, eris.Wrap(err, "cma: provider call"))
	}

	insights, err := parseInsights(resp.Text())
	if err != nil {
		return g.fail(ctx, req.ID, err)
	}

	output, err := json.Marshal(insights)
	if err != nil {
		return g.fail(ctx, req.ID, eris.Wrap(err, "cma: marshal insights"))
	}

	if err := g.audit.CompleteGenerationRequest(ctx, req.ID, output, resp.Usage.InputTokens, resp.Usage.OutputTokens); err != nil {
		return nil, eris.Wrap(err, "cma: complete generation request")
	}

	resp.Usage.LogCost(g.model, reportID)

	return &InsightsResult{
		Success:   true,
		Insights:  insights,
		RequestID: req.ID,
		Usage:     resp.Usage,
	}, nil
}

// fail moves the audit record to failed and returns a non-success result.
// The audit write error, if any, is logged rather than masking the original
// failure.
func (g *InsightsGenerator) fail(ctx context.Context, requestID string, cause error) (*InsightsResult, error) {
	msg := eris.ToString(cause, false)
	if msg == "" {
		msg = cause.Error()
	}
	msg = strings.TrimSpace(msg)

	if err := g.audit.FailGenerationRequest(ctx, requestID, msg); err != nil {
		zap.L().Error("cma: failed to mark generation request failed",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}

	zap.L().Warn("cma: insight generation failed",
		zap.String("request_id", requestID),
		zap.Error(cause),
	)

	return &InsightsResult{
		Success:   false,
		RequestID: requestID,
		Error:     msg,
	}, nil
}
