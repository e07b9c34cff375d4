package enrich

// Step identifies one enrichment stage in an indicator's progress
// stream. The vocabulary is closed: consumers can switch exhaustively.
type Step string

const (
	StepDNS        Step = "DNS"
	StepWhois      Step = "WHOIS"
	StepReverseDNS Step = "REVERSE_DNS"
	StepGeoIP      Step = "GEOIP"
	StepAbuseIPDB  Step = "ABUSEIPDB"
	StepOTX        Step = "OTX"
	StepCached     Step = "CACHED"
	StepComplete   Step = "COMPLETE"
)

// Status reports how a step resolved.
type Status string

const (
	StatusDone  Status = "done"
	StatusError Status = "error"
)

// Event is a single progress report. Events for one indicator arrive
// in the fixed type-dependent step order ending with COMPLETE; events
// across different indicators interleave arbitrarily under
// concurrency.
type Event struct {
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	ID     string `json:"id"`
	Step   Step   `json:"step"`
	Status Status `json:"status"`
}
