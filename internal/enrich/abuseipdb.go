package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

const abuseIPDBDefaultBaseURL = "https://api.abuseipdb.com"

// ErrRateLimited marks a lookup skipped by the local rate budget. The
// orchestrator treats it like any other provider failure.
var ErrRateLimited = errors.New("provider rate limit exceeded")

// AbuseIPDBProvider implements reputation lookups against the
// AbuseIPDB v2 check endpoint.
type AbuseIPDBProvider struct {
	config     AbuseIPDBConfig
	httpClient *http.Client
	limiter    *Limiter
}

// AbuseIPDBConfig holds AbuseIPDB-specific configuration.
type AbuseIPDBConfig struct {
	ProviderConfig `yaml:",inline"`
	MaxAgeInDays   int `yaml:"max_age_in_days"`
}

// DefaultAbuseIPDBConfig returns sensible defaults for AbuseIPDB.
func DefaultAbuseIPDBConfig() AbuseIPDBConfig {
	return AbuseIPDBConfig{
		ProviderConfig: ProviderConfig{
			APIKeyEnv: "ABUSEIPDB_API_KEY",
			BaseURL:   abuseIPDBDefaultBaseURL,
			Timeout:   12 * time.Second,
			RateLimit: 60,
		},
		MaxAgeInDays: 90,
	}
}

// NewAbuseIPDBProvider creates an AbuseIPDB provider. The API key is
// read from the configured environment variable at request time.
func NewAbuseIPDBProvider(config AbuseIPDBConfig, limiter *Limiter) (*AbuseIPDBProvider, error) {
	if os.Getenv(config.APIKeyEnv) == "" {
		return nil, fmt.Errorf("AbuseIPDB API key not found in env var: %s", config.APIKeyEnv)
	}
	if config.BaseURL == "" {
		config.BaseURL = abuseIPDBDefaultBaseURL
	}
	return &AbuseIPDBProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
	}, nil
}

// abuseIPDBResponse is the envelope of the v2 check endpoint.
type abuseIPDBResponse struct {
	Data struct {
		AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
		TotalReports         int    `json:"totalReports"`
		NumDistinctUsers     int    `json:"numDistinctUsers"`
		ISP                  string `json:"isp"`
		UsageType            string `json:"usageType"`
		CountryCode          string `json:"countryCode"`
		LastReportedAt       string `json:"lastReportedAt"`
	} `json:"data"`
}

// LookupIP fetches the reputation report for an IP.
func (p *AbuseIPDBProvider) LookupIP(ctx context.Context, ip string) (model.AbuseIPDBResult, error) {
	if p.limiter != nil && !p.limiter.Allow(ctx, "abuseipdb", p.config.RateLimit) {
		return model.AbuseIPDBResult{}, ErrRateLimited
	}

	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/api/v2/check"
	q := url.Values{}
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", strconv.Itoa(p.config.MaxAgeInDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return model.AbuseIPDBResult{}, fmt.Errorf("creating abuseipdb request: %w", err)
	}
	req.Header.Set("Key", os.Getenv(p.config.APIKeyEnv))
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return model.AbuseIPDBResult{}, fmt.Errorf("abuseipdb lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.AbuseIPDBResult{}, fmt.Errorf("abuseipdb returned status %d", resp.StatusCode)
	}

	var parsed abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.AbuseIPDBResult{}, fmt.Errorf("decoding abuseipdb response: %w", err)
	}

	return model.AbuseIPDBResult{
		AbuseConfidenceScore: parsed.Data.AbuseConfidenceScore,
		TotalReports:         parsed.Data.TotalReports,
		NumDistinctUsers:     parsed.Data.NumDistinctUsers,
		ISP:                  parsed.Data.ISP,
		UsageType:            parsed.Data.UsageType,
		CountryCode:          parsed.Data.CountryCode,
		LastReportedAt:       parsed.Data.LastReportedAt,
	}, nil
}
