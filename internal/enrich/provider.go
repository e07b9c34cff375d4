// Package enrich drives indicator enrichment: pluggable lookup
// providers, the cache-fronted orchestration of per-indicator steps,
// and the progress event stream consumed by callers.
package enrich

import (
	"context"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// Provider lookups are small single-method interfaces so tests and
// alternate backends can swap them independently. Every lookup must
// complete or fail within its own bounded time budget; errors are
// returned to the orchestrator, which downgrades them to empty results
// with an error marker. No lookup failure ever crosses the
// orchestration boundary as a pipeline error.

// DNSLookuper resolves forward records for a domain.
type DNSLookuper interface {
	LookupDomain(ctx context.Context, domain string) (model.DNSResult, error)
}

// ReverseLookuper resolves the PTR record for an IP.
type ReverseLookuper interface {
	LookupAddr(ctx context.Context, ip string) (model.ReverseResult, error)
}

// GeoLookuper resolves geolocation and ASN data for an IP.
type GeoLookuper interface {
	LookupIP(ctx context.Context, ip string) (model.GeoResult, error)
}

// WhoisLookuper resolves registration data for a domain.
type WhoisLookuper interface {
	LookupDomain(ctx context.Context, domain string) (model.WhoisResult, error)
}

// AbuseIPDBLookuper resolves the AbuseIPDB reputation report for an IP.
type AbuseIPDBLookuper interface {
	LookupIP(ctx context.Context, ip string) (model.AbuseIPDBResult, error)
}

// OTXLookuper resolves the OTX pulse summary and any passive DNS
// observations for a domain.
type OTXLookuper interface {
	LookupDomain(ctx context.Context, domain string) (model.OTXResult, []model.PassiveDNSRecord, error)
}

// Providers bundles the lookup services the orchestrator drives. A nil
// member disables that step for every indicator.
type Providers struct {
	DNS       DNSLookuper
	Reverse   ReverseLookuper
	Geo       GeoLookuper
	Whois     WhoisLookuper
	AbuseIPDB AbuseIPDBLookuper
	OTX       OTXLookuper
}

// ProviderConfig holds settings common to the HTTP reputation
// providers.
type ProviderConfig struct {
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit int           `yaml:"rate_limit"`
}
