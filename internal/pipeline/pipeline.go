// Package pipeline assembles the enrichment pipeline from
// configuration: cache backend, document store, providers, rate
// limiter, orchestrator, and indexer.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/cache"
	"github.com/tnguyen-sec/iocpipe/internal/config"
	"github.com/tnguyen-sec/iocpipe/internal/enrich"
	"github.com/tnguyen-sec/iocpipe/internal/index"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
	"github.com/tnguyen-sec/iocpipe/internal/score"
)

// Pipeline bundles the assembled components for the entrypoints.
type Pipeline struct {
	Cache        cache.Cache
	Store        index.Store
	Indexer      *index.Indexer
	Orchestrator *enrich.Orchestrator

	closers []func() error
}

// Build assembles the pipeline. journal may be nil; metrics may be
// nil.
func Build(ctx context.Context, cfg *config.Config, journal *enrich.Journal, logger *zap.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	p := &Pipeline{}

	c, redisClient, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.Cache = c
	p.closers = append(p.closers, c.Close)

	store, err := index.New(cfg.Store.Type, cfg.Store.DSN)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	p.Store = store
	p.closers = append(p.closers, store.Close)

	thresholds := score.Thresholds{
		High:   cfg.Scoring.HighThreshold,
		Medium: cfg.Scoring.MediumThreshold,
	}
	indexer, err := index.NewIndexer(ctx, store, thresholds, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	indexer.SetMetrics(metrics)
	p.Indexer = indexer

	providers, closers, err := buildProviders(cfg, redisClient, logger)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, closers...)

	opts := enrich.Options{
		Concurrency:  cfg.Pipeline.Concurrency,
		BatchSize:    cfg.Pipeline.BatchSize,
		Limit:        cfg.Pipeline.Limit,
		SkipWhois:    cfg.Pipeline.SkipWhois,
		SkipExternal: cfg.Pipeline.SkipExternal,
		BundleTTL:    cfg.Cache.BundleTTL,
		StepTTL: map[enrich.Step]time.Duration{
			enrich.StepDNS:        cfg.Cache.DNSTTL,
			enrich.StepReverseDNS: cfg.Cache.DNSTTL,
			enrich.StepGeoIP:      cfg.Cache.GeoTTL,
			enrich.StepWhois:      cfg.Cache.WhoisTTL,
			enrich.StepAbuseIPDB:  cfg.Cache.ReputationTTL,
			enrich.StepOTX:        cfg.Cache.ReputationTTL,
		},
	}
	orch := enrich.New(providers, c, journal, logger, opts)
	orch.SetMetrics(metrics)
	p.Orchestrator = orch

	return p, nil
}

// Close releases every component in reverse construction order.
func (p *Pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func buildCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, *redis.Client, error) {
	if cfg.Cache.Backend != "redis" {
		return cache.NewMemory(), nil, nil
	}

	r, err := cache.NewRedis(ctx, cache.RedisOptions{
		Addr:     cfg.Cache.Addr,
		Password: os.Getenv(cfg.Cache.PasswordEnv),
		DB:       cfg.Cache.DB,
		PoolSize: cfg.Cache.PoolSize,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return r, r.Client(), nil
}

func buildProviders(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (enrich.Providers, []func() error, error) {
	var providers enrich.Providers
	var closers []func() error
	limiter := enrich.NewLimiter(redisClient, logger)

	if cfg.Providers.DNS.Enabled {
		dns := enrich.NewDNSProvider(cfg.Providers.DNS.Timeout)
		providers.DNS = dns
		providers.Reverse = enrich.NewReverseProvider(cfg.Providers.DNS.Timeout)
	}
	if cfg.Providers.Whois.Enabled {
		providers.Whois = enrich.NewWhoisProvider(cfg.Providers.Whois.Server, cfg.Providers.Whois.Timeout)
	}
	if cfg.Providers.GeoIP.Enabled {
		geo, err := enrich.NewGeoProvider(cfg.Providers.GeoIP.MMDBPath)
		if err != nil {
			return providers, closers, fmt.Errorf("initializing geoip provider: %w", err)
		}
		providers.Geo = geo
		closers = append(closers, geo.Close)
	}
	if cfg.Providers.AbuseIPDB.Enabled {
		abuse, err := enrich.NewAbuseIPDBProvider(enrich.AbuseIPDBConfig{
			ProviderConfig: enrich.ProviderConfig{
				APIKeyEnv: cfg.Providers.AbuseIPDB.APIKeyEnv,
				BaseURL:   cfg.Providers.AbuseIPDB.BaseURL,
				Timeout:   cfg.Providers.AbuseIPDB.Timeout,
				RateLimit: cfg.Providers.AbuseIPDB.RateLimit,
			},
			MaxAgeInDays: cfg.Providers.AbuseIPDB.MaxAgeInDays,
		}, limiter)
		if err != nil {
			return providers, closers, fmt.Errorf("initializing abuseipdb provider: %w", err)
		}
		providers.AbuseIPDB = abuse
	}
	if cfg.Providers.OTX.Enabled {
		otx, err := enrich.NewOTXProvider(enrich.OTXConfig{
			ProviderConfig: enrich.ProviderConfig{
				APIKeyEnv: cfg.Providers.OTX.APIKeyEnv,
				BaseURL:   cfg.Providers.OTX.BaseURL,
				Timeout:   cfg.Providers.OTX.Timeout,
				RateLimit: cfg.Providers.OTX.RateLimit,
			},
		}, limiter)
		if err != nil {
			return providers, closers, fmt.Errorf("initializing otx provider: %w", err)
		}
		providers.OTX = otx
	}

	return providers, closers, nil
}
