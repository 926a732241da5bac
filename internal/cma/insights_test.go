package cma

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcelworks/cma-engine/internal/model"
)

func insightsFixtures() (model.SubjectProperty, []model.ComparableResult, model.Statistics) {
	subject := testSubject()
	comps := []model.ComparableResult{
		comparableWithPrice("c1", 34_000_000, 35_500_000, 92, 120),
	}
	return subject, comps, CalculateStatistics(comps, "EUR")
}

func TestInsightsGenerator_Success(t *testing.T) {
	subject, comps, stats := insightsFixtures()
	client := &fakeClient{response: textResponse(validInsightsJSON)}
	audit := newFakeAudit()

	gen := NewInsightsGenerator(client, audit, "claude-sonnet-4-5-20250929", 2048, 0)

	result, err := gen.Generate(context.Background(), "report-1", subject, comps, stats)
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.Insights)
	assert.Equal(t, int64(33_500_000), result.Insights.SuggestedPriceLowCents)
	assert.Equal(t, int64(500), result.Usage.InputTokens)

	req := audit.requests[result.RequestID]
	require.NotNil(t, req)
	assert.Equal(t, model.GenerationStatusCompleted, req.Status)
	assert.Equal(t, "report-1", req.ReportID)
	assert.NotEmpty(t, req.Output)

	// The provider received both prompts.
	assert.NotEmpty(t, client.lastRequest.System)
	require.Len(t, client.lastRequest.Messages, 1)
	assert.Contains(t, client.lastRequest.Messages[0].Content, "Subject property")
}

func TestInsightsGenerator_ProviderNotConfigured(t *testing.T) {
	subject, comps, stats := insightsFixtures()
	audit := newFakeAudit()

	gen := NewInsightsGenerator(nil, audit, "claude-sonnet-4-5-20250929", 2048, 0)

	_, err := gen.Generate(context.Background(), "report-1", subject, comps, stats)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)

	// No audit record is left behind for a configuration error.
	assert.Empty(t, audit.requests)
}

func TestInsightsGenerator_ProviderError(t *testing.T) {
	subject, comps, stats := insightsFixtures()
	client := &fakeClient{err: eris.New("529 overloaded")}
	audit := newFakeAudit()

	gen := NewInsightsGenerator(client, audit, "claude-sonnet-4-5-20250929", 2048, 0)

	result, err := gen.Generate(context.Background(), "report-1", subject, comps, stats)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "529")

	req := audit.requests[result.RequestID]
	require.NotNil(t, req)
	assert.Equal(t, model.GenerationStatusFailed, req.Status)
	assert.NotEmpty(t, req.Error)
}

func TestInsightsGenerator_MalformedResponse(t *testing.T) {
	subject, comps, stats := insightsFixtures()
	client := &fakeClient{response: textResponse("not json at all")}
	audit := newFakeAudit()

	gen := NewInsightsGenerator(client, audit, "claude-sonnet-4-5-20250929", 2048, 0)

	result, err := gen.Generate(context.Background(), "report-1", subject, comps, stats)
	require.NoError(t, err)

	assert.False(t, result.Success)
	req := audit.requests[result.RequestID]
	require.NotNil(t, req)
	assert.Equal(t, model.GenerationStatusFailed, req.Status)
}

func TestInsightsGenerator_AuditCreateErrorPropagates(t *testing.T) {
	subject, comps, stats := insightsFixtures()
	client := &fakeClient{response: textResponse(validInsightsJSON)}
	audit := newFakeAudit()
	audit.createErr = eris.New("connection refused")

	gen := NewInsightsGenerator(client, audit, "claude-sonnet-4-5-20250929", 2048, 0)

	_, err := gen.Generate(context.Background(), "report-1", subject, comps, stats)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create generation request")
}
