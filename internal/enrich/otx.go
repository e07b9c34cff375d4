package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

const otxDefaultBaseURL = "https://otx.alienvault.com"

// OTXProvider implements reputation lookups against AlienVault OTX
// (Open Threat Exchange), a free community threat intelligence
// platform.
type OTXProvider struct {
	config     OTXConfig
	httpClient *http.Client
	limiter    *Limiter
}

// OTXConfig holds OTX-specific configuration.
type OTXConfig struct {
	ProviderConfig `yaml:",inline"`
}

// DefaultOTXConfig returns sensible defaults for OTX.
func DefaultOTXConfig() OTXConfig {
	return OTXConfig{
		ProviderConfig: ProviderConfig{
			APIKeyEnv: "OTX_API_KEY",
			BaseURL:   otxDefaultBaseURL,
			Timeout:   12 * time.Second,
			RateLimit: 60, // OTX allows ~60 requests/minute
		},
	}
}

// NewOTXProvider creates an OTX provider.
func NewOTXProvider(config OTXConfig, limiter *Limiter) (*OTXProvider, error) {
	if os.Getenv(config.APIKeyEnv) == "" {
		return nil, fmt.Errorf("OTX API key not found in env var: %s", config.APIKeyEnv)
	}
	if config.BaseURL == "" {
		config.BaseURL = otxDefaultBaseURL
	}
	return &OTXProvider{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    limiter,
	}, nil
}

// otxGeneralResponse is the subset of /indicators/domain/{d}/general
// we consume.
type otxGeneralResponse struct {
	Reputation int    `json:"reputation"`
	ASN        string `json:"asn,omitempty"`
	PulseInfo  struct {
		Count  int `json:"count"`
		Pulses []struct {
			Tags []string `json:"tags"`
		} `json:"pulses"`
	} `json:"pulse_info"`
	PassiveDNS []struct {
		Hostname string `json:"hostname"`
		Address  string `json:"address"`
		First    string `json:"first"`
		Last     string `json:"last"`
	} `json:"passive_dns,omitempty"`
}

// LookupDomain fetches the pulse summary for a domain. A 404 means the
// indicator is unknown to OTX and yields a successful empty result.
func (p *OTXProvider) LookupDomain(ctx context.Context, domain string) (model.OTXResult, []model.PassiveDNSRecord, error) {
	if p.limiter != nil && !p.limiter.Allow(ctx, "otx", p.config.RateLimit) {
		return model.OTXResult{}, nil, ErrRateLimited
	}

	path := fmt.Sprintf("/api/v1/indicators/domain/%s/general", url.PathEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimSuffix(p.config.BaseURL, "/")+path, nil)
	if err != nil {
		return model.OTXResult{}, nil, fmt.Errorf("creating otx request: %w", err)
	}
	req.Header.Set("X-OTX-API-KEY", os.Getenv(p.config.APIKeyEnv))
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return model.OTXResult{}, nil, fmt.Errorf("otx lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.OTXResult{}, nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return model.OTXResult{}, nil, fmt.Errorf("otx returned status %d", resp.StatusCode)
	}

	var parsed otxGeneralResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return model.OTXResult{}, nil, fmt.Errorf("decoding otx response: %w", err)
	}

	out := model.OTXResult{
		PulseCount: parsed.PulseInfo.Count,
		Reputation: parsed.Reputation,
		ASN:        parsed.ASN,
	}
	seen := make(map[string]bool)
	for _, pulse := range parsed.PulseInfo.Pulses {
		for _, tag := range pulse.Tags {
			if !seen[tag] {
				seen[tag] = true
				out.Tags = append(out.Tags, tag)
			}
		}
	}

	var pdns []model.PassiveDNSRecord
	for _, rec := range parsed.PassiveDNS {
		pdns = append(pdns, model.PassiveDNSRecord{
			Hostname: rec.Hostname,
			Address:  rec.Address,
			First:    rec.First,
			Last:     rec.Last,
		})
	}
	return out, pdns, nil
}
