package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/parcelworks/cma-engine/internal/cma"
	"github.com/parcelworks/cma-engine/internal/store"
	anthropicpkg "github.com/parcelworks/cma-engine/pkg/anthropic"
)

// engineEnv holds the initialized store and pipeline components needed by
// the generate/serve/reports commands.
type engineEnv struct {
	Store     store.Store
	Finder    *cma.ComparablesFinder
	Generator *cma.Generator
}

// Close releases resources held by the engine environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "cma.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool.MaxConns, cfg.Store.Pool.MinConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEngine sets up the store and builds the report generator. Callers
// should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	scorer := cma.NewSimilarityScorer(cma.AdjustmentRates{
		BedroomCents:  cfg.CMA.BedroomAdjustmentCents,
		BathroomCents: cfg.CMA.BathroomAdjustmentCents,
		AreaCents:     cfg.CMA.AreaAdjustmentCents,
		AgeCents:      cfg.CMA.AgeAdjustmentCents,
	})

	finder := cma.NewComparablesFinder(st, scorer, cma.FinderDefaults{
		MaxComparables: cfg.CMA.DefaultMaxComparables,
		RadiusKm:       cfg.CMA.DefaultRadiusKm,
		MonthsBack:     cfg.CMA.DefaultMonthsBack,
		CandidateLimit: cfg.CMA.CandidateLimit,
	})

	var client anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		client = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}
	insights := cma.NewInsightsGenerator(client, st, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens, cfg.Anthropic.RequestsPerMinute)

	generator := cma.NewGenerator(st, finder, insights, cma.Defaults{
		Currency:    cfg.CMA.DefaultCurrency,
		AgentName:   cfg.CMA.DefaultAgentName,
		CompanyName: cfg.CMA.DefaultCompanyName,
		MaxRetries:  cfg.Render.MaxRetries,
	})

	return &engineEnv{
		Store:     st,
		Finder:    finder,
		Generator: generator,
	}, nil
}
