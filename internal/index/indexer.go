package index

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/willf/bloom"
	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/canonical"
	"github.com/tnguyen-sec/iocpipe/internal/model"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
	"github.com/tnguyen-sec/iocpipe/internal/score"
)

const (
	bloomCapacity  = 1 << 20
	bloomErrorRate = 0.001
)

// Indexer deduplicates enriched indicators into the document store
// and rescores on every write. A bloom filter warm-loaded from the
// store's keys skips the read-before-write for first-seen indicators;
// per-key locks serialize concurrent upserts of the same indicator.
type Indexer struct {
	store      Store
	thresholds score.Thresholds
	logger     *zap.Logger
	metrics    *observability.Metrics

	seen       *bloom.BloomFilter
	warmCounts map[string]int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewIndexer creates an indexer over the store and warms the bloom
// prefilter from the existing document keys.
func NewIndexer(ctx context.Context, store Store, thresholds score.Thresholds, logger *zap.Logger) (*Indexer, error) {
	idx := &Indexer{
		store:      store,
		thresholds: thresholds,
		logger:     logger,
		seen:       bloom.NewWithEstimates(bloomCapacity, bloomErrorRate),
		locks:      make(map[string]*sync.Mutex),
	}

	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("warming index prefilter: %w", err)
	}
	idx.warmCounts = make(map[string]int)
	for _, key := range keys {
		idx.seen.AddString(key)
		if typ, _, ok := strings.Cut(key, "::"); ok {
			idx.warmCounts[typ]++
		}
	}
	logger.Info("index prefilter warmed", zap.Int("documents", len(keys)))
	return idx, nil
}

// SetMetrics attaches Prometheus instruments to the indexer and seeds
// the per-type document gauge from the warm-load counts.
func (idx *Indexer) SetMetrics(m *observability.Metrics) {
	idx.metrics = m
	if m == nil {
		return
	}
	for typ, n := range idx.warmCounts {
		m.DocumentsIndexed.WithLabelValues(typ).Set(float64(n))
	}
}

// Upsert merges an enriched indicator into the store and returns the
// resulting document. created reports whether the indicator was
// first-seen. Identity is the canonical "type::value" key; repeated
// upserts of the same observation converge on the same document.
func (idx *Indexer) Upsert(ctx context.Context, ind model.Indicator, bundle model.Bundle, now time.Time) (*model.Document, bool, error) {
	ind = canonical.Canonicalize(ind)
	if ind.Type == "" || ind.Value == "" {
		return nil, false, ErrInvalidIndicator
	}
	id := ind.Key()

	unlock := idx.lockKey(id)
	defer unlock()

	var existing *model.Document
	if idx.seen.TestString(id) {
		doc, err := idx.store.Get(ctx, id)
		switch {
		case err == nil:
			existing = doc
		case err == ErrNotFound:
			// Bloom false positive: treat as first-seen.
		default:
			return nil, false, fmt.Errorf("reading document %s: %w", id, err)
		}
	}

	doc, created := idx.mergeDocument(existing, ind, bundle, now)

	confidence, breakdown := score.Compute(doc, now)
	// Confidence is monotone across merges: recency and domain-age
	// signals decay with time, and a re-observation carrying more
	// evidence must never lower the stored score.
	if existing != nil && existing.Confidence > confidence {
		confidence = existing.Confidence
	}
	doc.Confidence = confidence
	doc.ScoreBreakdown = breakdown
	doc.RiskBucket = idx.thresholds.Bucket(confidence)
	doc.ClusterID = score.ClusterID(doc)

	if err := idx.store.Put(ctx, doc); err != nil {
		return nil, false, fmt.Errorf("writing document %s: %w", id, err)
	}
	idx.seen.AddString(id)

	if idx.metrics != nil {
		idx.metrics.DocumentsUpserted.WithLabelValues(string(doc.RiskBucket)).Inc()
		if created {
			idx.metrics.DocumentsIndexed.WithLabelValues(string(doc.Type)).Inc()
		}
	}
	idx.logger.Debug("document upserted",
		zap.String("id", id),
		zap.Bool("created", created),
		zap.Int("confidence", confidence),
		zap.String("bucket", string(doc.RiskBucket)))
	return doc, created, nil
}

// mergeDocument folds a new observation into the existing document, or
// creates one. FirstSeen is write-once; counters and confidence inputs
// only ever grow.
func (idx *Indexer) mergeDocument(existing *model.Document, ind model.Indicator, bundle model.Bundle, now time.Time) (*model.Document, bool) {
	if existing == nil {
		sources := ind.SourcesCount
		if bundle.SourcesCount > sources {
			sources = bundle.SourcesCount
		}
		if sources < 1 {
			sources = 1
		}
		return &model.Document{
			ID:           ind.Key(),
			Type:         ind.Type,
			Value:        ind.Value,
			Source:       ind.Source,
			FirstSeen:    now,
			LastSeen:     now,
			Enrichment:   bundle,
			SourcesCount: sources,
		}, true
	}

	doc := *existing
	doc.LastSeen = now
	if ind.Source != "" {
		doc.Source = ind.Source
	}
	doc.Enrichment = doc.Enrichment.Merge(bundle)

	sources := doc.SourcesCount
	for _, n := range []int{ind.SourcesCount, bundle.SourcesCount, doc.Enrichment.SourcesCount} {
		if n > sources {
			sources = n
		}
	}
	doc.SourcesCount = sources
	return &doc, false
}

// Get returns the document for a canonical indicator.
func (idx *Indexer) Get(ctx context.Context, typ model.IndicatorType, value string) (*model.Document, error) {
	ind := canonical.Canonicalize(model.Indicator{Type: typ, Value: value})
	return idx.store.Get(ctx, ind.Key())
}

// List returns documents matching the filter, ordered by descending
// confidence.
func (idx *Indexer) List(ctx context.Context, filter Filter) ([]*model.Document, error) {
	return idx.store.List(ctx, filter)
}

// Count returns the number of indexed documents.
func (idx *Indexer) Count(ctx context.Context) (int, error) {
	return idx.store.Count(ctx)
}

// Stats summarizes the index by risk bucket.
type Stats struct {
	Total   int            `json:"total"`
	Buckets map[string]int `json:"buckets"`
}

// Stats walks the index and tallies documents per bucket.
func (idx *Indexer) Stats(ctx context.Context) (*Stats, error) {
	docs, err := idx.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: len(docs), Buckets: make(map[string]int)}
	for _, doc := range docs {
		stats.Buckets[string(doc.RiskBucket)]++
	}
	return stats, nil
}

func (idx *Indexer) lockKey(id string) func() {
	idx.mu.Lock()
	lock, ok := idx.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		idx.locks[id] = lock
	}
	idx.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
