package main

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/hydrosight/groundwater-cli/internal/config"
	"github.com/hydrosight/groundwater-cli/internal/fetcher"
	"github.com/hydrosight/groundwater-cli/internal/store"
	"github.com/hydrosight/groundwater-cli/pkg/calgw"
	"github.com/hydrosight/groundwater-cli/pkg/usgs"
)

func newFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:   cfg.Fetch.MaxRetries,
		RateLimiters: fetcher.DefaultRateLimiters(),
	})
}

func newUSGSClient() *usgs.Client {
	return usgs.NewClient(newFetcher(), cfg.USGS.BaseURL)
}

func newCalGWClient() *calgw.Client {
	return calgw.NewClient(newFetcher(), calgwEndpoints(cfg))
}

// calgwEndpoints maps the CalGW config block onto client endpoints. The CKAN
// action URLs derive from the configured base.
func calgwEndpoints(cfg *config.Config) calgw.Endpoints {
	eps := calgw.Endpoints{
		CurrentLevels:        cfg.CalGW.CurrentLevelsURL,
		PercentileStats:      cfg.CalGW.PercentileStatsURL,
		SeasonalChange:       cfg.CalGW.SeasonalChangeURL,
		LongTermTrend:        cfg.CalGW.LongTermTrendsURL,
		StationsResource:     cfg.CalGW.StationsResource,
		MeasurementsResource: cfg.CalGW.MeasurementResource,
	}
	if base := strings.TrimSuffix(cfg.CalGW.CKANBaseURL, "/"); base != "" {
		eps.CKANSearch = base + "/datastore_search"
		eps.CKANSQL = base + "/datastore_search_sql"
	}
	return eps
}

func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := store.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
