package cma

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/internal/store"
	"github.com/parcelworks/cma-engine/pkg/anthropic"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testSubject() model.SubjectProperty {
	return model.SubjectProperty{
		ID:         "prop-1",
		WebsiteID:  "site-1",
		Type:       model.PropertyTypeHouse,
		Latitude:   40.4168,
		Longitude:  -3.7038,
		Bedrooms:   3,
		Bathrooms:  2,
		AreaSqm:    120,
		YearBuilt:  2010,
		Street:     "Calle Mayor 1",
		City:       "Madrid",
		PostalCode: "28013",
		PriceCents: 35_000_000,
		Currency:   "EUR",
	}
}

func testCandidate(id string) model.CandidateProperty {
	return model.CandidateProperty{
		ID:         id,
		WebsiteID:  "site-1",
		Type:       model.PropertyTypeHouse,
		Latitude:   40.4178,
		Longitude:  -3.7048,
		Bedrooms:   3,
		Bathrooms:  2,
		AreaSqm:    120,
		YearBuilt:  2010,
		Street:     "Calle Mayor 2",
		City:       "Madrid",
		PostalCode: "28013",
		PriceCents: 34_000_000,
		Currency:   "EUR",
		ListedAt:   time.Now().AddDate(0, -1, 0),
	}
}

// fakeSource returns a fixed candidate slice and records the last query.
type fakeSource struct {
	candidates []model.CandidateProperty
	err        error

	lastWebsiteID string
	lastQuery     store.CandidateQuery
}

func (f *fakeSource) FindCandidates(_ context.Context, websiteID string, q store.CandidateQuery) ([]model.CandidateProperty, error) {
	f.lastWebsiteID = websiteID
	f.lastQuery = q
	return f.candidates, f.err
}

// fakeAudit is an in-memory AuditStore tracking transitions.
type fakeAudit struct {
	createErr error
	requests  map[string]*model.GenerationRequest
	seq       int
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{requests: map[string]*model.GenerationRequest{}}
}

func (f *fakeAudit) CreateGenerationRequest(_ context.Context, reportID, aiModel string) (*model.GenerationRequest, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	req := &model.GenerationRequest{
		ID:       fmt.Sprintf("gen-%d", f.seq),
		ReportID: reportID,
		Status:   model.GenerationStatusPending,
		Model:    aiModel,
	}
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeAudit) CompleteGenerationRequest(_ context.Context, id string, output []byte, inputTokens, outputTokens int64) error {
	req, ok := f.requests[id]
	if !ok || req.Status != model.GenerationStatusPending {
		return fmt.Errorf("generation request not pending: %s", id)
	}
	req.Status = model.GenerationStatusCompleted
	req.Output = output
	req.InputTokens = inputTokens
	req.OutputTokens = outputTokens
	return nil
}

func (f *fakeAudit) FailGenerationRequest(_ context.Context, id, errMsg string) error {
	req, ok := f.requests[id]
	if !ok || req.Status != model.GenerationStatusPending {
		return fmt.Errorf("generation request not pending: %s", id)
	}
	req.Status = model.GenerationStatusFailed
	req.Error = errMsg
	return nil
}

// fakeClient returns a canned response or error.
type fakeClient struct {
	response *anthropic.MessageResponse
	err      error

	lastRequest anthropic.MessageRequest
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.lastRequest = req
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg-1",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 200},
	}
}

const validInsightsJSON = `{
	"executive_summary": "Well positioned property in a stable market.",
	"market_position": "Mid-range for the area.",
	"pricing_rationale": "Comparable adjusted prices cluster around the asking price.",
	"strengths": ["Recent construction", "Central location"],
	"considerations": ["Limited outdoor space"],
	"recommendation": "List at 345,000 EUR.",
	"estimated_time_to_sell": "30-45 days",
	"suggested_price_low_cents": 33500000,
	"suggested_price_high_cents": 35500000,
	"confidence_level": "high"
}`
