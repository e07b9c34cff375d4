package model

// Bundle is the per-provider enrichment attached to an indicator.
// Every member is always present, possibly as its zero value, so merge
// logic can treat "no data" uniformly. A provider failure is recorded
// in the member's Error field rather than omitting the member.
type Bundle struct {
	DNS          DNSResult          `json:"dns"`
	Reverse      ReverseResult      `json:"reverse"`
	GeoIP        GeoResult          `json:"geoip"`
	Whois        WhoisResult        `json:"whois"`
	AbuseIPDB    AbuseIPDBResult    `json:"abuseipdb"`
	OTX          OTXResult          `json:"otx"`
	PassiveDNS   []PassiveDNSRecord `json:"passive_dns,omitempty"`
	SourcesCount int                `json:"sources_count,omitempty"`
}

// DNSResult holds forward DNS records for a domain.
type DNSResult struct {
	A     []string `json:"a,omitempty"`
	AAAA  []string `json:"aaaa,omitempty"`
	MX    []string `json:"mx,omitempty"`
	TXT   []string `json:"txt,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Empty reports whether the result carries no records.
func (r DNSResult) Empty() bool {
	return len(r.A) == 0 && len(r.AAAA) == 0 && len(r.MX) == 0 && len(r.TXT) == 0
}

// ReverseResult holds the PTR record for an IP.
type ReverseResult struct {
	PTR   string `json:"ptr,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r ReverseResult) Empty() bool { return r.PTR == "" }

// GeoResult holds GeoIP data for an IP.
type GeoResult struct {
	City       string   `json:"city,omitempty"`
	Country    string   `json:"country,omitempty"`
	CountryISO string   `json:"country_iso,omitempty"`
	Location   *LatLon  `json:"location,omitempty"`
	ASN        uint     `json:"asn,omitempty"`
	Org        string   `json:"org,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// LatLon is a geographic coordinate pair.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (r GeoResult) Empty() bool {
	return r.Country == "" && r.CountryISO == "" && r.ASN == 0
}

// WhoisResult holds registration data for a domain.
type WhoisResult struct {
	Registrar      string   `json:"registrar,omitempty"`
	CreationDate   string   `json:"creation_date,omitempty"`
	ExpirationDate string   `json:"expiration_date,omitempty"`
	Registrant     string   `json:"registrant,omitempty"`
	NameServers    []string `json:"name_servers,omitempty"`
	Raw            string   `json:"raw,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func (r WhoisResult) Empty() bool {
	return r.Registrar == "" && r.CreationDate == "" && r.Raw == ""
}

// AbuseIPDBResult holds the reputation report for an IP.
type AbuseIPDBResult struct {
	AbuseConfidenceScore int    `json:"abuseConfidenceScore,omitempty"`
	TotalReports         int    `json:"totalReports,omitempty"`
	NumDistinctUsers     int    `json:"numDistinctUsers,omitempty"`
	ISP                  string `json:"isp,omitempty"`
	UsageType            string `json:"usageType,omitempty"`
	CountryCode          string `json:"countryCode,omitempty"`
	LastReportedAt       string `json:"lastReportedAt,omitempty"`
	Error                string `json:"error,omitempty"`
}

func (r AbuseIPDBResult) Empty() bool {
	return r.AbuseConfidenceScore == 0 && r.TotalReports == 0 && r.NumDistinctUsers == 0 && r.ISP == ""
}

// OTXResult holds the pulse association summary for an indicator.
type OTXResult struct {
	PulseCount int      `json:"pulse_count,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Reputation int      `json:"reputation,omitempty"`
	ASN        string   `json:"asn,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func (r OTXResult) Empty() bool { return r.PulseCount == 0 && len(r.Tags) == 0 }

// PassiveDNSRecord is a single passive DNS observation.
type PassiveDNSRecord struct {
	Hostname string `json:"hostname,omitempty"`
	Address  string `json:"address,omitempty"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
}
