package main

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/opted/inventory/internal/activity"
	"github.com/opted/inventory/internal/config"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/geocode"
	"github.com/opted/inventory/internal/graphstore"
)

// bind lets a flag override key only when it was set on the command line.
func bind(v *viper.Viper, f *pflag.Flag, key string) {
	if err := v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", f.Name, err))
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openStore returns the graph store selected by cfg.
func openStore(cfg *config.Config, preds []dql.PredicateDef, logger *slog.Logger) (graphstore.Store, io.Closer, error) {
	if cfg.StoreMemory {
		logger.Warn("serving from the in-memory graph; data is lost on exit")
		return graphstore.NewMemory(preds), closerFunc(func() error { return nil }), nil
	}
	d, err := graphstore.DialDgraph(cfg.DgraphEndpoint, logger)
	if err != nil {
		return nil, nil, err
	}
	return d, d, nil
}

// openActivity returns the activity store selected by cfg.
func openActivity(ctx context.Context, cfg *config.Config) (activity.Store, io.Closer, error) {
	if cfg.ActivityDSN == "" {
		return activity.NewMemoryStore(), closerFunc(func() error { return nil }), nil
	}
	db, err := stdsql.Open("sqlite", cfg.ActivityDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening activity database: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := activity.NewSQLStore(db)
	if err := s.CreateTable(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// openGeocoder returns the geocoder selected by cfg. An empty base URL
// disables geocoding.
func openGeocoder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (geocode.Geocoder, io.Closer, error) {
	noop := closerFunc(func() error { return nil })
	if cfg.GeocodeBaseURL == "" {
		return geocode.Disabled{}, noop, nil
	}
	var (
		cache  geocode.Cache = geocode.NewMemoryCache()
		closer io.Closer     = noop
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		cache, closer = geocode.NewRedisCache(client, "inventory:geocode:"), client
	}
	return geocode.NewNominatim(cfg.GeocodeBaseURL, cfg.GeocodeUserAgent,
		geocode.WithTimeout(cfg.GeocodeTimeout),
		geocode.WithCache(cache, cfg.GeocodeCacheTTL),
		geocode.WithLogger(logger),
	), closer, nil
}
