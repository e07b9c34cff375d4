// Package model defines the shared data types for the IOC enrichment
// pipeline: raw indicators, the typed per-provider enrichment bundle,
// and the persisted indexed document.
package model

import "time"

// IndicatorType represents the type of indicator of compromise.
type IndicatorType string

const (
	IndicatorTypeIP     IndicatorType = "ip"
	IndicatorTypeDomain IndicatorType = "domain"
	IndicatorTypeHash   IndicatorType = "hash"
)

// Indicator is a single raw observable as received from a feed.
// It is immutable once read; canonicalization returns a copy.
type Indicator struct {
	Type         IndicatorType `json:"type"`
	Value        string        `json:"value"`
	Source       string        `json:"source"`
	SourcesCount int           `json:"sources_count,omitempty"`
}

// Key returns the canonical identity key "type::value". Callers are
// expected to canonicalize the indicator first.
func (i Indicator) Key() string {
	return string(i.Type) + "::" + i.Value
}

// RiskBucket is the categorical label derived from the confidence score.
type RiskBucket string

const (
	RiskHigh   RiskBucket = "high"
	RiskMedium RiskBucket = "medium"
	RiskLow    RiskBucket = "low"
)

// Breakdown itemizes every raw signal and clamped contribution that
// went into a confidence score, keyed by signal name.
type Breakdown map[string]float64

// Document is the persisted unit of the dedup store. ID equals the
// canonical key and is immutable once assigned; FirstSeen is set once
// at creation and never overwritten.
type Document struct {
	ID             string        `json:"id"`
	Type           IndicatorType `json:"type"`
	Value          string        `json:"value"`
	Source         string        `json:"source,omitempty"`
	FirstSeen      time.Time     `json:"first_seen"`
	LastSeen       time.Time     `json:"last_seen"`
	Enrichment     Bundle        `json:"enrichment"`
	SourcesCount   int           `json:"sources_count"`
	Confidence     int           `json:"confidence"`
	RiskBucket     RiskBucket    `json:"risk_bucket"`
	ClusterID      string        `json:"cluster_id"`
	ScoreBreakdown Breakdown     `json:"score_breakdown,omitempty"`
}
