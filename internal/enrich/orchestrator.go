package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/cache"
	"github.com/tnguyen-sec/iocpipe/internal/canonical"
	"github.com/tnguyen-sec/iocpipe/internal/model"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
)

// Options tunes an enrichment run.
type Options struct {
	// Concurrency caps in-flight indicators. Values below 1 run
	// sequentially.
	Concurrency int
	// BatchSize is how many results accumulate before a journal flush.
	BatchSize int
	// Limit truncates the candidate set after priority ordering.
	// Zero means no limit.
	Limit int
	// SkipWhois disables the WHOIS step for domains.
	SkipWhois bool
	// SkipExternal disables the HTTP reputation steps (AbuseIPDB, OTX).
	SkipExternal bool

	// BundleTTL is the checkpoint lifetime of a fully assembled bundle.
	BundleTTL time.Duration
	// StepTTL maps a provider step to its cache lifetime. Steps absent
	// from the map fall back to BundleTTL.
	StepTTL map[Step]time.Duration
}

// DefaultOptions mirrors the batch runner defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency: 8,
		BatchSize:   100,
		BundleTTL:   24 * time.Hour,
		StepTTL: map[Step]time.Duration{
			StepDNS:        6 * time.Hour,
			StepReverseDNS: 6 * time.Hour,
			StepGeoIP:      7 * 24 * time.Hour,
			StepWhois:      7 * 24 * time.Hour,
			StepAbuseIPDB:  12 * time.Hour,
			StepOTX:        12 * time.Hour,
		},
	}
}

// Orchestrator drives bounded-concurrency enrichment of a candidate
// set: priority ordering, cached-bundle short-circuiting, the
// per-type provider step sequence, progress events, and batched
// journal flushes.
type Orchestrator struct {
	providers Providers
	cache     cache.Cache
	journal   *Journal
	logger    *zap.Logger
	metrics   *observability.Metrics
	opts      Options
}

// New creates an orchestrator. journal may be nil to skip journaling
// (the server's on-demand path does this); metrics may be nil.
func New(providers Providers, c cache.Cache, journal *Journal, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.BundleTTL <= 0 {
		opts.BundleTTL = 24 * time.Hour
	}
	return &Orchestrator{
		providers: providers,
		cache:     c,
		journal:   journal,
		logger:    logger,
		opts:      opts,
	}
}

// SetMetrics attaches Prometheus instruments to the orchestrator.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

// Run enriches the candidates and returns results in priority order.
// Candidates are canonicalized, sorted by descending sources_count
// (stable, so equal-priority inputs keep their submission order) and
// truncated to opts.Limit. Results flush to the journal in batches;
// a journal write failure aborts the run but the results gathered so
// far are still returned. Cancelling ctx stops admitting new
// indicators; in-flight ones finish and the final partial batch is
// still flushed.
func (o *Orchestrator) Run(ctx context.Context, candidates []model.Indicator, progress chan<- Event) ([]Result, error) {
	if progress != nil {
		defer close(progress)
	}

	queue := make([]model.Indicator, len(candidates))
	for i, ind := range candidates {
		queue[i] = canonical.Canonicalize(ind)
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].SourcesCount > queue[j].SourcesCount
	})
	if o.opts.Limit > 0 && len(queue) > o.opts.Limit {
		queue = queue[:o.opts.Limit]
	}

	total := len(queue)
	results := make([]Result, total)
	done := make([]bool, total)
	sem := make(chan struct{}, o.opts.Concurrency)

	var out []Result
	for start := 0; start < total; start += o.opts.BatchSize {
		end := start + o.opts.BatchSize
		if end > total {
			end = total
		}

		var wg sync.WaitGroup
		cancelled := false
		for i := start; i < end; i++ {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				cancelled = true
			}
			if cancelled {
				break
			}
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer func() { <-sem }()
				results[idx] = o.enrichOne(ctx, idx+1, total, queue[idx], progress)
				done[idx] = true
			}(i)
		}
		wg.Wait()

		batch := make([]Result, 0, end-start)
		for i := start; i < end; i++ {
			if done[i] {
				batch = append(batch, results[i])
			}
		}
		out = append(out, batch...)

		if o.journal != nil && len(batch) > 0 {
			if err := o.journal.Append(batch); err != nil {
				return out, fmt.Errorf("flushing enrichment batch: %w", err)
			}
			if o.metrics != nil {
				o.metrics.BatchesFlushed.Inc()
			}
			o.logger.Info("flushed enrichment batch",
				zap.Int("batch_size", len(batch)),
				zap.Int("completed", len(out)),
				zap.Int("total", total))
		}

		if cancelled || ctx.Err() != nil {
			return out, ctx.Err()
		}
	}
	return out, nil
}

// Enrich assembles the bundle for a single indicator without
// journaling. Used by the API server's on-demand lookup path.
func (o *Orchestrator) Enrich(ctx context.Context, ind model.Indicator) Result {
	return o.enrichOne(ctx, 1, 1, canonical.Canonicalize(ind), nil)
}

func (o *Orchestrator) enrichOne(ctx context.Context, index, total int, ind model.Indicator, progress chan<- Event) Result {
	key := ind.Key()

	if bundle, ok := o.cachedBundle(ctx, key); ok {
		bundle.SourcesCount = maxInt(bundle.SourcesCount, ind.SourcesCount)
		o.emit(progress, index, total, key, StepCached, StatusDone)
		o.emit(progress, index, total, key, StepComplete, StatusDone)
		if o.metrics != nil {
			o.metrics.CacheHits.WithLabelValues("bundle").Inc()
		}
		return Result{Indicator: ind, Bundle: bundle, Cached: true}
	}

	var bundle model.Bundle
	switch ind.Type {
	case model.IndicatorTypeDomain:
		o.enrichDomain(ctx, index, total, ind, &bundle, progress)
	case model.IndicatorTypeIP:
		o.enrichIP(ctx, index, total, ind, &bundle, progress)
	default:
		// Hashes have no providers yet: an empty bundle still flows
		// through indexing and scoring.
	}
	bundle.SourcesCount = maxInt(1, ind.SourcesCount)

	o.storeBundle(ctx, key, bundle)
	o.emit(progress, index, total, key, StepComplete, StatusDone)
	if o.metrics != nil {
		o.metrics.IndicatorsEnriched.WithLabelValues(string(ind.Type)).Inc()
	}
	return Result{Indicator: ind, Bundle: bundle}
}

func (o *Orchestrator) enrichDomain(ctx context.Context, index, total int, ind model.Indicator, bundle *model.Bundle, progress chan<- Event) {
	key := ind.Key()

	if o.providers.DNS != nil {
		res, status := runStep(o, ctx, StepDNS, "dns:"+ind.Value, func(ctx context.Context) (model.DNSResult, error) {
			return o.providers.DNS.LookupDomain(ctx, ind.Value)
		}, func(r *model.DNSResult, msg string) { r.Error = msg })
		bundle.DNS = res
		o.emit(progress, index, total, key, StepDNS, status)
	}

	if !o.opts.SkipWhois && o.providers.Whois != nil {
		res, status := runStep(o, ctx, StepWhois, "whois:"+ind.Value, func(ctx context.Context) (model.WhoisResult, error) {
			return o.providers.Whois.LookupDomain(ctx, ind.Value)
		}, func(r *model.WhoisResult, msg string) { r.Error = msg })
		bundle.Whois = res
		o.emit(progress, index, total, key, StepWhois, status)
	}

	if !o.opts.SkipExternal && o.providers.OTX != nil {
		res, status := runStep(o, ctx, StepOTX, "otx:"+ind.Value, func(ctx context.Context) (otxStepResult, error) {
			otx, pdns, err := o.providers.OTX.LookupDomain(ctx, ind.Value)
			return otxStepResult{OTX: otx, PassiveDNS: pdns}, err
		}, func(r *otxStepResult, msg string) { r.OTX.Error = msg })
		bundle.OTX = res.OTX
		bundle.PassiveDNS = res.PassiveDNS
		o.emit(progress, index, total, key, StepOTX, status)
	}
}

func (o *Orchestrator) enrichIP(ctx context.Context, index, total int, ind model.Indicator, bundle *model.Bundle, progress chan<- Event) {
	key := ind.Key()

	if o.providers.Reverse != nil {
		res, status := runStep(o, ctx, StepReverseDNS, "rptr:"+ind.Value, func(ctx context.Context) (model.ReverseResult, error) {
			return o.providers.Reverse.LookupAddr(ctx, ind.Value)
		}, func(r *model.ReverseResult, msg string) { r.Error = msg })
		bundle.Reverse = res
		o.emit(progress, index, total, key, StepReverseDNS, status)
	}

	if o.providers.Geo != nil {
		res, status := runStep(o, ctx, StepGeoIP, "geoip:"+ind.Value, func(ctx context.Context) (model.GeoResult, error) {
			return o.providers.Geo.LookupIP(ctx, ind.Value)
		}, func(r *model.GeoResult, msg string) { r.Error = msg })
		bundle.GeoIP = res
		o.emit(progress, index, total, key, StepGeoIP, status)
	}

	if !o.opts.SkipExternal && o.providers.AbuseIPDB != nil {
		res, status := runStep(o, ctx, StepAbuseIPDB, "abuseipdb:"+ind.Value, func(ctx context.Context) (model.AbuseIPDBResult, error) {
			return o.providers.AbuseIPDB.LookupIP(ctx, ind.Value)
		}, func(r *model.AbuseIPDBResult, msg string) { r.Error = msg })
		bundle.AbuseIPDB = res
		o.emit(progress, index, total, key, StepAbuseIPDB, status)
	}
}

// otxStepResult bundles the two artifacts of the OTX lookup so it can
// move through the generic step runner and step cache as one value.
type otxStepResult struct {
	OTX        model.OTXResult          `json:"otx"`
	PassiveDNS []model.PassiveDNSRecord `json:"passive_dns,omitempty"`
}

// runStep executes one provider lookup behind the per-step cache. A
// lookup error is downgraded to an empty result carrying the error
// marker; failed lookups are never cached, so a later run retries.
func runStep[T any](o *Orchestrator, ctx context.Context, step Step, cacheKey string, lookup func(context.Context) (T, error), markError func(*T, string)) (T, Status) {
	var zero T

	if data, ok := o.cache.Get(ctx, cacheKey); ok {
		var cached T
		if err := json.Unmarshal(data, &cached); err == nil {
			if o.metrics != nil {
				o.metrics.CacheHits.WithLabelValues(string(step)).Inc()
			}
			return cached, StatusDone
		}
		o.logger.Warn("discarding undecodable cache entry", zap.String("key", cacheKey))
	}

	started := time.Now()
	res, err := lookup(ctx)
	if o.metrics != nil {
		o.metrics.EnrichmentDuration.WithLabelValues(string(step)).Observe(time.Since(started).Seconds())
	}
	if err != nil {
		o.logger.Warn("enrichment step failed",
			zap.String("step", string(step)),
			zap.String("key", cacheKey),
			zap.Error(err))
		if o.metrics != nil {
			o.metrics.EnrichmentSteps.WithLabelValues(string(step), string(StatusError)).Inc()
		}
		markError(&zero, err.Error())
		return zero, StatusError
	}

	if data, err := json.Marshal(res); err == nil {
		o.cache.Set(ctx, cacheKey, data, o.stepTTL(step))
	}
	if o.metrics != nil {
		o.metrics.EnrichmentSteps.WithLabelValues(string(step), string(StatusDone)).Inc()
	}
	return res, StatusDone
}

func (o *Orchestrator) stepTTL(step Step) time.Duration {
	if ttl, ok := o.opts.StepTTL[step]; ok && ttl > 0 {
		return ttl
	}
	return o.opts.BundleTTL
}

func (o *Orchestrator) cachedBundle(ctx context.Context, key string) (model.Bundle, bool) {
	data, ok := o.cache.Get(ctx, "bundle:"+key)
	if !ok {
		return model.Bundle{}, false
	}
	var bundle model.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		o.logger.Warn("discarding undecodable bundle checkpoint", zap.String("key", key))
		return model.Bundle{}, false
	}
	return bundle, true
}

func (o *Orchestrator) storeBundle(ctx context.Context, key string, bundle model.Bundle) {
	data, err := json.Marshal(bundle)
	if err != nil {
		return
	}
	o.cache.Set(ctx, "bundle:"+key, data, o.opts.BundleTTL)
}

func (o *Orchestrator) emit(progress chan<- Event, index, total int, id string, step Step, status Status) {
	if progress == nil {
		return
	}
	progress <- Event{Index: index, Total: total, ID: id, Step: step, Status: status}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
