package index

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/model"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
	"github.com/tnguyen-sec/iocpipe/internal/score"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testIndexer(t *testing.T) *Indexer {
	t.Helper()
	idx, err := NewIndexer(context.Background(), NewMemory(), score.DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	return idx
}

func abuseBundle(confidence, reports int) model.Bundle {
	return model.Bundle{
		AbuseIPDB: model.AbuseIPDBResult{
			AbuseConfidenceScore: confidence,
			TotalReports:         reports,
		},
	}
}

func TestUpsertCreatesDocument(t *testing.T) {
	idx := testIndexer(t)

	ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "abuseipdb"}
	doc, created, err := idx.Upsert(context.Background(), ind, abuseBundle(100, 12000), testNow)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !created {
		t.Error("expected created = true for first-seen indicator")
	}
	if doc.ID != "ip::203.0.113.7" {
		t.Errorf("ID = %q", doc.ID)
	}
	if !doc.FirstSeen.Equal(testNow) || !doc.LastSeen.Equal(testNow) {
		t.Errorf("FirstSeen/LastSeen = %v/%v, want both %v", doc.FirstSeen, doc.LastSeen, testNow)
	}
	if doc.SourcesCount != 1 {
		t.Errorf("SourcesCount = %d, want 1", doc.SourcesCount)
	}
	if doc.RiskBucket != model.RiskHigh {
		t.Errorf("RiskBucket = %s, want high (confidence %d)", doc.RiskBucket, doc.Confidence)
	}
	if doc.ClusterID == "" || len(doc.ScoreBreakdown) == 0 {
		t.Error("expected cluster ID and score breakdown to be populated")
	}
}

func TestUpsertConvergesOnCanonicalKey(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()

	variants := []string{"Evil.Example.COM", "evil.example.com.", "https://evil.example.com/path"}
	for _, v := range variants {
		ind := model.Indicator{Type: model.IndicatorTypeDomain, Value: v, Source: "urlhaus"}
		if _, _, err := idx.Upsert(ctx, ind, model.Bundle{}, testNow); err != nil {
			t.Fatalf("Upsert(%q) error = %v", v, err)
		}
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1 (all variants share one canonical key)", count)
	}
}

func TestUpsertPreservesFirstSeen(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()
	ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7"}

	if _, _, err := idx.Upsert(ctx, ind, model.Bundle{}, testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	later := testNow.Add(48 * time.Hour)
	doc, created, err := idx.Upsert(ctx, ind, model.Bundle{}, later)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if created {
		t.Error("expected created = false for repeat upsert")
	}
	if !doc.FirstSeen.Equal(testNow) {
		t.Errorf("FirstSeen = %v, want original %v", doc.FirstSeen, testNow)
	}
	if !doc.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", doc.LastSeen, later)
	}
}

func TestUpsertMergesEnrichment(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()
	ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7"}

	first := model.Bundle{
		Reverse: model.ReverseResult{PTR: "old.example.net"},
		GeoIP:   model.GeoResult{Country: "Netherlands", CountryISO: "NL"},
	}
	if _, _, err := idx.Upsert(ctx, ind, first, testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	second := model.Bundle{
		Reverse:   model.ReverseResult{PTR: "new.example.net"},
		AbuseIPDB: model.AbuseIPDBResult{AbuseConfidenceScore: 80, TotalReports: 40},
	}
	doc, _, err := idx.Upsert(ctx, ind, second, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if doc.Enrichment.Reverse.PTR != "new.example.net" {
		t.Errorf("PTR = %q, want newer value", doc.Enrichment.Reverse.PTR)
	}
	if doc.Enrichment.GeoIP.CountryISO != "NL" {
		t.Errorf("CountryISO = %q, want earlier value retained", doc.Enrichment.GeoIP.CountryISO)
	}
	if doc.Enrichment.AbuseIPDB.Empty() {
		t.Error("expected abuseipdb data merged in")
	}
}

func TestUpsertSourcesCountMonotonic(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()

	ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", SourcesCount: 5}
	if _, _, err := idx.Upsert(ctx, ind, model.Bundle{}, testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// A later observation with fewer sources must not shrink the count.
	ind.SourcesCount = 2
	doc, _, err := idx.Upsert(ctx, ind, model.Bundle{}, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if doc.SourcesCount != 5 {
		t.Errorf("SourcesCount = %d, want 5", doc.SourcesCount)
	}
}

func TestUpsertConfidenceMonotonic(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()
	ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "abuseipdb"}

	// Fresh abuse reports: the recency tier is at its maximum.
	first, _, err := idx.Upsert(ctx, ind, model.Bundle{
		AbuseIPDB: model.AbuseIPDBResult{
			AbuseConfidenceScore: 90,
			TotalReports:         140,
			NumDistinctUsers:     40,
			LastReportedAt:       testNow.Add(-48 * time.Hour).Format(time.RFC3339),
		},
	}, testNow)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// Much later the recency signal has decayed entirely, but the
	// re-observation adds evidence; the stored score must not drop.
	later := testNow.Add(400 * 24 * time.Hour)
	second, _, err := idx.Upsert(ctx, ind, model.Bundle{
		GeoIP: model.GeoResult{Country: "Russia", CountryISO: "RU"},
	}, later)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if second.Confidence < first.Confidence {
		t.Errorf("confidence dropped on merge: %d -> %d", first.Confidence, second.Confidence)
	}
	if second.RiskBucket != first.RiskBucket && second.Confidence == first.Confidence {
		t.Errorf("bucket changed without a score change: %s -> %s", first.RiskBucket, second.RiskBucket)
	}
}

func TestUpsertIdempotent(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()
	ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "urlhaus"}
	bundle := model.Bundle{
		Reverse: model.ReverseResult{PTR: "scanner.example.net"},
		GeoIP:   model.GeoResult{Country: "Netherlands", CountryISO: "NL"},
	}

	first, _, err := idx.Upsert(ctx, ind, bundle, testNow)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	second, _, err := idx.Upsert(ctx, ind, bundle, testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	// The repeat observation may only move LastSeen.
	a, b := *first, *second
	a.LastSeen, b.LastSeen = time.Time{}, time.Time{}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("repeated upsert changed the document:\n first: %+v\nsecond: %+v", a, b)
	}
}

func TestUpsertRejectsInvalidIndicator(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()

	for _, ind := range []model.Indicator{
		{Type: "", Value: "orphan.example.com"},
		{Type: model.IndicatorTypeDomain, Value: ""},
		{Type: model.IndicatorTypeDomain, Value: "   "},
	} {
		if _, _, err := idx.Upsert(ctx, ind, model.Bundle{}, testNow); err != ErrInvalidIndicator {
			t.Errorf("Upsert(%+v) error = %v, want ErrInvalidIndicator", ind, err)
		}
	}

	count, _ := idx.Count(ctx)
	if count != 0 {
		t.Errorf("count = %d, want 0 (nothing indexed)", count)
	}
}

func TestUpsertConcurrentSameKey(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ind := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", SourcesCount: n}
			if _, _, err := idx.Upsert(ctx, ind, model.Bundle{}, testNow); err != nil {
				t.Errorf("Upsert() error = %v", err)
			}
		}(i + 1)
	}
	wg.Wait()

	count, _ := idx.Count(ctx)
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
	doc, err := idx.Get(ctx, model.IndicatorTypeIP, "203.0.113.7")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if doc.SourcesCount != 20 {
		t.Errorf("SourcesCount = %d, want 20 (max wins under concurrency)", doc.SourcesCount)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()

	high := model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "abuseipdb"}
	if _, _, err := idx.Upsert(ctx, high, abuseBundle(100, 12000), testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		low := model.Indicator{Type: model.IndicatorTypeDomain, Value: fmt.Sprintf("quiet-%d.example.com", i)}
		if _, _, err := idx.Upsert(ctx, low, model.Bundle{}, testNow); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	all, err := idx.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List() returned %d docs, want 4", len(all))
	}
	if all[0].ID != "ip::203.0.113.7" {
		t.Errorf("expected highest-confidence doc first, got %s", all[0].ID)
	}

	highOnly, err := idx.List(ctx, Filter{Bucket: model.RiskHigh})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(highOnly) != 1 {
		t.Errorf("bucket filter returned %d docs, want 1", len(highOnly))
	}

	domains, err := idx.List(ctx, Filter{Type: model.IndicatorTypeDomain, Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(domains) != 2 {
		t.Errorf("type+limit filter returned %d docs, want 2", len(domains))
	}
}

func TestStats(t *testing.T) {
	idx := testIndexer(t)
	ctx := context.Background()

	if _, _, err := idx.Upsert(ctx,
		model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "abuseipdb"},
		abuseBundle(100, 12000), testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if _, _, err := idx.Upsert(ctx,
		model.Indicator{Type: model.IndicatorTypeDomain, Value: "quiet.example.com"},
		model.Bundle{}, testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	stats, err := idx.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if stats.Buckets["high"] != 1 || stats.Buckets["low"] != 1 {
		t.Errorf("Buckets = %v", stats.Buckets)
	}
}

func TestDocumentsIndexedGauge(t *testing.T) {
	telemetry, err := observability.New(observability.Config{MetricsEnabled: true})
	if err != nil {
		t.Fatalf("observability.New() error = %v", err)
	}
	m := telemetry.Metrics()

	store := NewMemory()
	idx, err := NewIndexer(context.Background(), store, score.DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	idx.SetMetrics(m)
	ctx := context.Background()

	for _, v := range []string{"203.0.113.7", "198.51.100.9"} {
		if _, _, err := idx.Upsert(ctx, model.Indicator{Type: model.IndicatorTypeIP, Value: v}, model.Bundle{}, testNow); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if _, _, err := idx.Upsert(ctx, model.Indicator{Type: model.IndicatorTypeDomain, Value: "evil.example.com"}, model.Bundle{}, testNow); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	// A merge must not move the gauge.
	if _, _, err := idx.Upsert(ctx, model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7"}, model.Bundle{}, testNow.Add(time.Hour)); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if got := testutil.ToFloat64(m.DocumentsIndexed.WithLabelValues("ip")); got != 2 {
		t.Errorf("documents_indexed{ip} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DocumentsIndexed.WithLabelValues("domain")); got != 1 {
		t.Errorf("documents_indexed{domain} = %v, want 1", got)
	}

	// A second indexer over the same store seeds the gauge from the
	// persisted keys when metrics attach.
	warm, err := NewIndexer(context.Background(), store, score.DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	warm.SetMetrics(m)
	if got := testutil.ToFloat64(m.DocumentsIndexed.WithLabelValues("ip")); got != 2 {
		t.Errorf("documents_indexed{ip} after warm load = %v, want 2", got)
	}
}

func TestGetNotFound(t *testing.T) {
	idx := testIndexer(t)
	if _, err := idx.Get(context.Background(), model.IndicatorTypeIP, "192.0.2.1"); err != ErrNotFound {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}
