// Package api exposes the indexed documents over HTTP: point lookups
// by canonical key, filtered listings, export, stats, and on-demand
// enrichment upserts.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tnguyen-sec/iocpipe/internal/enrich"
	"github.com/tnguyen-sec/iocpipe/internal/index"
	"github.com/tnguyen-sec/iocpipe/internal/model"
	"github.com/tnguyen-sec/iocpipe/internal/observability"
)

// Enricher is the on-demand enrichment surface the upsert endpoint
// uses. nil disables enrichment on upsert.
type Enricher interface {
	Enrich(ctx context.Context, ind model.Indicator) enrich.Result
}

// API serves the query surface over the index.
type API struct {
	indexer        *index.Indexer
	enricher       Enricher
	logger         *zap.Logger
	metricsHandler http.Handler
	metrics        *observability.Metrics
	version        string
}

// New creates the API. metricsHandler may be nil to disable /metrics.
func New(indexer *index.Indexer, enricher Enricher, logger *zap.Logger, metricsHandler http.Handler, version string) *API {
	return &API{
		indexer:        indexer,
		enricher:       enricher,
		logger:         logger,
		metricsHandler: metricsHandler,
		version:        version,
	}
}

// SetMetrics attaches Prometheus instruments; requests are then
// counted and timed per method and route pattern.
func (a *API) SetMetrics(m *observability.Metrics) { a.metrics = m }

// Router builds the chi router for the API.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(a.instrument)

	r.Get("/health", a.handleHealth)
	if a.metricsHandler != nil {
		r.Handle("/metrics", a.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/iocs", a.handleList)
		r.Get("/iocs/{type}/{value}", a.handleGet)
		r.Post("/iocs", a.handleUpsert)
		r.Get("/export", a.handleExport)
		r.Get("/stats", a.handleStats)
	})

	return r
}

// instrument records request counts and latencies by method and chi
// route pattern. A no-op until SetMetrics is called.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		a.metrics.RequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		a.metrics.RequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(started).Seconds())
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": a.version,
	})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	typ := model.IndicatorType(chi.URLParam(r, "type"))
	value := chi.URLParam(r, "value")

	doc, err := a.indexer.Get(r.Context(), typ, value)
	if err == index.ErrNotFound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "indicator not found"})
		return
	}
	if err != nil {
		a.logger.Error("document lookup failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if filter.Limit == 0 {
		filter.Limit = 100
	}

	docs, err := a.indexer.List(r.Context(), filter)
	if err != nil {
		a.logger.Error("document list failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"iocs":  docs,
		"count": len(docs),
	})
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	docs, err := a.indexer.List(r.Context(), filter)
	if err != nil {
		a.logger.Error("export failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "export failed"})
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.indexer.Stats(r.Context())
	if err != nil {
		a.logger.Error("stats failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "stats failed"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// upsertRequest is the body of POST /api/v1/iocs.
type upsertRequest struct {
	Type         model.IndicatorType `json:"type"`
	Value        string              `json:"value"`
	Source       string              `json:"source,omitempty"`
	SourcesCount int                 `json:"sources_count,omitempty"`
	Enrich       bool                `json:"enrich,omitempty"`
}

func (a *API) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Type == "" || req.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type and value are required"})
		return
	}

	ind := model.Indicator{
		Type:         req.Type,
		Value:        req.Value,
		Source:       req.Source,
		SourcesCount: req.SourcesCount,
	}

	var bundle model.Bundle
	if req.Enrich && a.enricher != nil {
		bundle = a.enricher.Enrich(r.Context(), ind).Bundle
	}

	doc, created, err := a.indexer.Upsert(r.Context(), ind, bundle, time.Now().UTC())
	if err != nil {
		a.logger.Error("upsert failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "upsert failed"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, doc)
}

func parseFilter(r *http.Request) (index.Filter, error) {
	var filter index.Filter
	q := r.URL.Query()

	filter.Type = model.IndicatorType(q.Get("type"))
	filter.Bucket = model.RiskBucket(q.Get("bucket"))

	for name, dst := range map[string]*int{
		"min_score": &filter.MinConfidence,
		"limit":     &filter.Limit,
		"offset":    &filter.Offset,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return index.Filter{}, errInvalidParam(name)
		}
		*dst = n
	}
	return filter, nil
}

type errInvalidParam string

func (e errInvalidParam) Error() string { return "invalid query parameter: " + string(e) }

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
