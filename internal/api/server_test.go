package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/enrich"
	"github.com/tnguyen-sec/iocpipe/internal/index"
	"github.com/tnguyen-sec/iocpipe/internal/model"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
	"github.com/tnguyen-sec/iocpipe/internal/score"
)

type stubEnricher struct {
	bundle model.Bundle
}

func (s *stubEnricher) Enrich(_ context.Context, ind model.Indicator) enrich.Result {
	return enrich.Result{Indicator: ind, Bundle: s.bundle}
}

func testAPI(t *testing.T, enricher Enricher) (*API, *index.Indexer) {
	t.Helper()
	idx, err := index.NewIndexer(context.Background(), index.NewMemory(), score.DefaultThresholds(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	return New(idx, enricher, zap.NewNop(), nil, "test"), idx
}

func seed(t *testing.T, idx *index.Indexer, ind model.Indicator, bundle model.Bundle) *model.Document {
	t.Helper()
	doc, _, err := idx.Upsert(context.Background(), ind, bundle, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("seeding document: %v", err)
	}
	return doc
}

func doRequest(t *testing.T, a *API, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	a, _ := testAPI(t, nil)
	rec := doRequest(t, a, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestGetIOC(t *testing.T) {
	a, idx := testAPI(t, nil)
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "abuseipdb"},
		model.Bundle{AbuseIPDB: model.AbuseIPDBResult{AbuseConfidenceScore: 100, TotalReports: 12000}})

	rec := doRequest(t, a, http.MethodGet, "/api/v1/iocs/ip/203.0.113.7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var doc model.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if doc.ID != "ip::203.0.113.7" {
		t.Errorf("ID = %q", doc.ID)
	}
	if doc.RiskBucket != model.RiskHigh {
		t.Errorf("RiskBucket = %s, want high", doc.RiskBucket)
	}
}

func TestGetIOCNotFound(t *testing.T) {
	a, _ := testAPI(t, nil)
	rec := doRequest(t, a, http.MethodGet, "/api/v1/iocs/ip/192.0.2.1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListIOCsWithFilters(t *testing.T) {
	a, idx := testAPI(t, nil)
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7", Source: "abuseipdb"},
		model.Bundle{AbuseIPDB: model.AbuseIPDBResult{AbuseConfidenceScore: 100, TotalReports: 12000}})
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeDomain, Value: "quiet.example.com"}, model.Bundle{})

	rec := doRequest(t, a, http.MethodGet, "/api/v1/iocs?bucket=high", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		IOCs  []model.Document `json:"iocs"`
		Count int              `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("count = %d, want 1", resp.Count)
	}
	if len(resp.IOCs) != 1 || resp.IOCs[0].RiskBucket != model.RiskHigh {
		t.Errorf("iocs = %+v", resp.IOCs)
	}
}

func TestListRejectsBadParams(t *testing.T) {
	a, _ := testAPI(t, nil)
	rec := doRequest(t, a, http.MethodGet, "/api/v1/iocs?min_score=abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExport(t *testing.T) {
	a, idx := testAPI(t, nil)
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeDomain, Value: "a.example.com"}, model.Bundle{})
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeDomain, Value: "b.example.com"}, model.Bundle{})

	rec := doRequest(t, a, http.MethodGet, "/api/v1/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var docs []model.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("decoding export: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("exported %d docs, want 2", len(docs))
	}
}

func TestStats(t *testing.T) {
	a, idx := testAPI(t, nil)
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeDomain, Value: "quiet.example.com"}, model.Bundle{})

	rec := doRequest(t, a, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats index.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Total != 1 || stats.Buckets["low"] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUpsertCreatesDocument(t *testing.T) {
	a, _ := testAPI(t, nil)
	rec := doRequest(t, a, http.MethodPost, "/api/v1/iocs",
		`{"type":"domain","value":"Evil.Example.COM","source":"urlhaus"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var doc model.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if doc.ID != "domain::evil.example.com" {
		t.Errorf("ID = %q, want canonicalized key", doc.ID)
	}

	// Second upsert of the same indicator is a merge, not a create.
	rec = doRequest(t, a, http.MethodPost, "/api/v1/iocs",
		`{"type":"domain","value":"evil.example.com"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("repeat upsert status = %d, want 200", rec.Code)
	}
}

func TestUpsertWithEnrichment(t *testing.T) {
	enricher := &stubEnricher{bundle: model.Bundle{
		AbuseIPDB: model.AbuseIPDBResult{AbuseConfidenceScore: 100, TotalReports: 12000},
	}}
	a, _ := testAPI(t, enricher)

	rec := doRequest(t, a, http.MethodPost, "/api/v1/iocs",
		`{"type":"ip","value":"203.0.113.7","source":"abuseipdb","enrich":true}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var doc model.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if doc.Enrichment.AbuseIPDB.Empty() {
		t.Error("expected enrichment applied on upsert")
	}
	if doc.RiskBucket != model.RiskHigh {
		t.Errorf("RiskBucket = %s, want high", doc.RiskBucket)
	}
}

func TestRequestMetricsRecorded(t *testing.T) {
	telemetry, err := observability.New(observability.Config{MetricsEnabled: true})
	if err != nil {
		t.Fatalf("observability.New() error = %v", err)
	}
	m := telemetry.Metrics()

	a, idx := testAPI(t, nil)
	a.SetMetrics(m)
	seed(t, idx, model.Indicator{Type: model.IndicatorTypeIP, Value: "203.0.113.7"}, model.Bundle{})

	if rec := doRequest(t, a, http.MethodGet, "/api/v1/iocs/ip/203.0.113.7", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec := doRequest(t, a, http.MethodGet, "/api/v1/iocs/ip/192.0.2.1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	pattern := "/api/v1/iocs/{type}/{value}"
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", pattern, "200")); got != 1 {
		t.Errorf("requests_total{200} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", pattern, "404")); got != 1 {
		t.Errorf("requests_total{404} = %v, want 1", got)
	}
}

func TestUpsertRejectsInvalidBody(t *testing.T) {
	a, _ := testAPI(t, nil)
	if rec := doRequest(t, a, http.MethodPost, "/api/v1/iocs", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec := doRequest(t, a, http.MethodPost, "/api/v1/iocs", `{"value":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing type: status = %d, want 400", rec.Code)
	}
}
