package cma

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/parcelworks/cma-engine/internal/model"
	"github.com/parcelworks/cma-engine/internal/store"
)

// CandidateSource is the inventory query capability the finder needs.
// Satisfied by store.Store.
type CandidateSource interface {
	FindCandidates(ctx context.Context, websiteID string, q store.CandidateQuery) ([]model.CandidateProperty, error)
}

// FindOptions tunes one comparable search. Zero fields fall back to the
// engine defaults; unknown concerns simply have no field here.
type FindOptions struct {
	MaxComparables int
	RadiusKm       float64
	MonthsBack     int
	PropertyType   model.PropertyType
}

// FinderDefaults are the post-defaulting values applied to FindOptions.
type FinderDefaults struct {
	MaxComparables int
	RadiusKm       float64
	MonthsBack     int
	CandidateLimit int
}

// ComparablesFinder selects, scores, and ranks comparables for a subject
// property within one tenant's inventory.
type ComparablesFinder struct {
	source   CandidateSource
	scorer   *SimilarityScorer
	defaults FinderDefaults
}

// NewComparablesFinder creates a finder over the given candidate source.
func NewComparablesFinder(source CandidateSource, scorer *SimilarityScorer, defaults FinderDefaults) *ComparablesFinder {
	if defaults.MaxComparables <= 0 {
		defaults.MaxComparables = 5
	}
	if defaults.RadiusKm <= 0 {
		defaults.RadiusKm = 5
	}
	if defaults.MonthsBack <= 0 {
		defaults.MonthsBack = 6
	}
	if defaults.CandidateLimit <= 0 {
		defaults.CandidateLimit = 50
	}
	return &ComparablesFinder{source: source, scorer: scorer, defaults: defaults}
}

// Find returns the ranked comparable set for the subject. The subject must
// belong to websiteID; candidates are queried tenant-scoped so listings from
// other tenants can never appear regardless of proximity. An empty result is
// returned as TotalFound 0, not as an error.
func (f *ComparablesFinder) Find(ctx context.Context, subject model.SubjectProperty, websiteID string, opts FindOptions) (*model.FindResult, error) {
	if subject.WebsiteID != websiteID {
		return nil, eris.Errorf("cma: subject property %s does not belong to website %s", subject.ID, websiteID)
	}

	criteria := f.applyDefaults(subject, opts)

	candidates, err := f.source.FindCandidates(ctx, websiteID, store.CandidateQuery{
		PropertyType: criteria.PropertyType,
		ListedAfter:  time.Now().UTC().AddDate(0, -criteria.MonthsBack, 0),
		Latitude:     subject.Latitude,
		Longitude:    subject.Longitude,
		RadiusKm:     criteria.RadiusKm,
		ExcludeID:    subject.ID,
		Limit:        f.defaults.CandidateLimit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "cma: find candidates")
	}

	comparables := make([]model.ComparableResult, 0, len(candidates))
	for _, c := range candidates {
		if c.ID == subject.ID {
			// The query excludes the subject already; keep the guard local too.
			continue
		}
		score, adjustments := f.scorer.Score(subject, c)
		comparables = append(comparables, model.ComparableResult{
			PropertyID:         c.ID,
			Address:            c.Address(),
			City:               c.City,
			PriceCents:         c.PriceCents,
			Currency:           c.Currency,
			SimilarityScore:    score,
			Adjustments:        adjustments,
			AdjustedPriceCents: c.PriceCents + adjustments.TotalCents(),
			DistanceKm:         HaversineKm(subject.Latitude, subject.Longitude, c.Latitude, c.Longitude),
			Bedrooms:           c.Bedrooms,
			Bathrooms:          c.Bathrooms,
			AreaSqm:            c.AreaSqm,
			YearBuilt:          c.YearBuilt,
			ListedAt:           c.ListedAt,
		})
	}

	// Rank: similarity desc, then nearer, then more recently listed.
	sort.SliceStable(comparables, func(i, j int) bool {
		if comparables[i].SimilarityScore != comparables[j].SimilarityScore {
			return comparables[i].SimilarityScore > comparables[j].SimilarityScore
		}
		if comparables[i].DistanceKm != comparables[j].DistanceKm {
			return comparables[i].DistanceKm < comparables[j].DistanceKm
		}
		return comparables[i].ListedAt.After(comparables[j].ListedAt)
	})

	totalFound := len(comparables)
	if totalFound > criteria.MaxComparables {
		comparables = comparables[:criteria.MaxComparables]
	}

	zap.L().Debug("cma: comparable search complete",
		zap.String("website_id", websiteID),
		zap.String("subject_id", subject.ID),
		zap.Int("total_found", totalFound),
		zap.Int("returned", len(comparables)),
		zap.Float64("radius_km", criteria.RadiusKm),
	)

	return &model.FindResult{
		Comparables: comparables,
		TotalFound:  totalFound,
		Criteria:    criteria,
	}, nil
}

// applyDefaults resolves zero option fields to engine defaults. The returned
// criteria are reported back on the result for transparency.
func (f *ComparablesFinder) applyDefaults(subject model.SubjectProperty, opts FindOptions) model.SearchCriteria {
	criteria := model.SearchCriteria{
		RadiusKm:       opts.RadiusKm,
		MonthsBack:     opts.MonthsBack,
		PropertyType:   opts.PropertyType,
		MaxComparables: opts.MaxComparables,
	}
	if criteria.RadiusKm <= 0 {
		criteria.RadiusKm = f.defaults.RadiusKm
	}
	if criteria.MonthsBack <= 0 {
		criteria.MonthsBack = f.defaults.MonthsBack
	}
	if criteria.MaxComparables <= 0 {
		criteria.MaxComparables = f.defaults.MaxComparables
	}
	if criteria.PropertyType == "" {
		criteria.PropertyType = subject.Type
	}
	return criteria
}
