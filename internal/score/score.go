// Package score computes the deterministic confidence score for an
// indexed document. Compute is a pure function of the document and the
// supplied clock instant: no I/O, no hidden state, and every raw
// signal and clamped contribution is itemized in the breakdown so a
// score can be replayed and audited.
package score

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// Contribution caps and constants. Each signal is clamped
// independently before summation so a single anomalous input cannot
// dominate the total.
const (
	baseScore = 10

	sourceWeightAbuseIPDB = 20
	sourceWeightURLHaus   = 12
	sourceWeightOTX       = 10
	sourceWeightDefault   = 5

	abuseConfCap     = 25
	totalReportsCap  = 18
	distinctUsersCap = 10
	densityCap       = 8
	passiveDNSCap    = 8
	otxCap           = 8

	ptrSuspiciousBonus = 12
	cloudPenalty       = 8
	whoisPresentBonus  = 6
	noSignalsPenalty   = 5
	highRiskCountry    = 5
)

// Thresholds holds the risk bucket boundaries. They are configuration,
// not part of the scoring algorithm itself.
type Thresholds struct {
	High   int
	Medium int
}

// DefaultThresholds returns the standard bucket boundaries.
func DefaultThresholds() Thresholds { return Thresholds{High: 70, Medium: 40} }

// Bucket maps a score to its risk bucket.
func (t Thresholds) Bucket(score int) model.RiskBucket {
	switch {
	case score >= t.High:
		return model.RiskHigh
	case score >= t.Medium:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

var ptrSuspiciousKeywords = []string{
	"scan", "security", "scanner", "ipip", "bot",
	"malicious", "suspicious", "spam", "proxy", "tor", "vpn",
}

var cloudKeywords = []string{
	"amazon", "aws", "google", "gcp", "microsoft", "azure", "digitalocean",
	"ovh", "linode", "vultr", "cloudflare", "cloud", "ucloud", "vps", "hosting",
	"hetzner", "scaleway", "rackspace", "oracle", "aliyun", "tencent",
}

var highRiskCountries = map[string]bool{
	"IR": true, "RU": true, "CN": true, "KP": true, "SY": true, "VN": true,
}

// Compute maps a document's enrichment bundle to a confidence score in
// [0,100] plus a fully itemized contribution breakdown. The caller
// supplies now so age-based tiers stay replayable.
func Compute(doc *model.Document, now time.Time) (int, model.Breakdown) {
	enr := doc.Enrichment
	b := model.Breakdown{}
	total := float64(baseScore)
	b["base"] = baseScore

	sw := sourceWeight(doc.Source)
	b["source_weight"] = float64(sw)
	total += float64(sw)

	// AbuseIPDB confidence, linearly scaled down.
	abuseConf := enr.AbuseIPDB.AbuseConfidenceScore
	abuseContrib := math.Min(abuseConfCap, math.Round(float64(abuseConf)*0.25))
	b["abuse_confidence"] = float64(abuseConf)
	b["abuse_contrib"] = abuseContrib
	total += abuseContrib

	// Report volume, log-scaled.
	reports := enr.AbuseIPDB.TotalReports
	reportsContrib := logContrib(reports, 4.0, totalReportsCap)
	b["total_reports"] = float64(reports)
	b["total_reports_contrib"] = reportsContrib
	total += reportsContrib

	// Distinct reporters, log-scaled.
	users := enr.AbuseIPDB.NumDistinctUsers
	usersContrib := logContrib(users, 3.2, distinctUsersCap)
	b["distinct_users"] = float64(users)
	b["distinct_users_contrib"] = usersContrib
	total += usersContrib

	// Reports per reporter: high density is more suspicious.
	var density, densityContrib float64
	if users > 0 {
		density = float64(reports) / float64(users)
		densityContrib = math.Min(densityCap, math.Round(math.Log10(density+1)*2.5))
	}
	b["reports_per_user"] = density
	b["reports_per_user_contrib"] = densityContrib
	total += densityContrib

	pdns := len(enr.PassiveDNS)
	pdnsContrib := math.Min(passiveDNSCap, float64(pdns))
	b["passive_dns_count"] = float64(pdns)
	b["passive_dns_contrib"] = pdnsContrib
	total += pdnsContrib

	otxCount := enr.OTX.PulseCount
	otxContrib := math.Min(otxCap, float64(2*otxCount))
	b["otx_count"] = float64(otxCount)
	b["otx_contrib"] = otxContrib
	total += otxContrib

	var ptrContrib float64
	if suspiciousPTR(enr.Reverse.PTR) {
		ptrContrib = ptrSuspiciousBonus
	}
	b["ptr_contrib"] = ptrContrib
	total += ptrContrib

	// Cloud/hosting ISPs generate noisy reports; penalize them.
	var cloudFlag, cloudContrib float64
	if isCloudISP(enr.AbuseIPDB.ISP) {
		cloudFlag = 1
		cloudContrib = -cloudPenalty
	}
	b["cloud_flag"] = cloudFlag
	b["cloud_penalty"] = cloudContrib
	total += cloudContrib

	whoisContrib, ageContrib, ageDays, whoisPresent := whoisSignals(doc.Type, enr.Whois, now)
	b["whois_present"] = boolToFloat(whoisPresent)
	b["whois_contrib"] = whoisContrib
	b["domain_age_days"] = ageDays
	b["domain_age_contrib"] = ageContrib
	total += whoisContrib + ageContrib

	recencyContrib, recencyDays := recencySignal(enr.AbuseIPDB.LastReportedAt, now)
	b["last_reported_days"] = recencyDays
	b["recency_contrib"] = recencyContrib
	total += recencyContrib

	var countryContrib float64
	iso := strings.ToUpper(enr.GeoIP.CountryISO)
	if highRiskCountries[iso] {
		countryContrib = highRiskCountry
	}
	b["country_contrib"] = countryContrib
	total += countryContrib

	// Flat penalty when every signal above is absent.
	var noSignals float64
	signals := abuseConf != 0 || reports != 0 || users != 0 || pdns != 0 ||
		otxCount != 0 || ptrContrib != 0 || whoisPresent
	if !signals {
		noSignals = -noSignalsPenalty
		total += noSignals
	}
	b["no_signals_penalty"] = noSignals

	b["final_score_raw"] = total
	final := int(math.Max(0, math.Min(100, math.Round(total))))
	b["final_score"] = float64(final)
	return final, b
}

func sourceWeight(source string) int {
	s := strings.ToLower(source)
	switch {
	case strings.Contains(s, "abuseipdb"):
		return sourceWeightAbuseIPDB
	case strings.Contains(s, "urlhaus"):
		return sourceWeightURLHaus
	case strings.Contains(s, "otx"), strings.Contains(s, "alienvault"):
		return sourceWeightOTX
	default:
		return sourceWeightDefault
	}
}

func logContrib(n int, mult, limit float64) float64 {
	if n <= 0 {
		return 0
	}
	return math.Min(limit, math.Round(math.Log10(float64(n)+1)*mult))
}

func suspiciousPTR(ptr string) bool {
	if ptr == "" {
		return false
	}
	p := strings.ToLower(ptr)
	for _, kw := range ptrSuspiciousKeywords {
		if strings.Contains(p, kw) {
			return true
		}
	}
	return false
}

func isCloudISP(isp string) bool {
	if isp == "" {
		return false
	}
	s := strings.ToLower(isp)
	for _, kw := range cloudKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// whoisSignals rewards WHOIS presence for domains and weights young
// domains: registrations under 30 days old are the strongest signal.
func whoisSignals(typ model.IndicatorType, w model.WhoisResult, now time.Time) (whoisContrib, ageContrib, ageDays float64, present bool) {
	ageDays = -1
	if typ != model.IndicatorTypeDomain {
		return 0, 0, ageDays, false
	}
	if w.Registrar == "" && w.CreationDate == "" && w.Raw == "" {
		return 0, 0, ageDays, false
	}
	present = true
	whoisContrib = whoisPresentBonus
	if created, ok := parseDate(w.CreationDate); ok {
		days := now.Sub(created).Hours() / 24
		ageDays = math.Floor(days)
		switch {
		case days <= 30:
			ageContrib = 8
		case days <= 365:
			ageContrib = 4
		}
	}
	return whoisContrib, ageContrib, ageDays, present
}

// recencySignal favors recently reported indicators in day buckets.
func recencySignal(lastReported string, now time.Time) (contrib, days float64) {
	days = -1
	last, ok := parseDate(lastReported)
	if !ok {
		return 0, days
	}
	d := now.Sub(last).Hours() / 24
	days = math.Floor(d)
	switch {
	case d <= 7:
		contrib = 10
	case d <= 30:
		contrib = 7
	case d <= 90:
		contrib = 4
	case d <= 365:
		contrib = 2
	}
	return contrib, days
}

var dateOnlyRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)

// parseDate accepts the timestamp shapes seen across providers:
// RFC 3339, bare ISO date-times, and anything containing a
// YYYY-MM-DD prefix.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if m := dateOnlyRe.FindString(s); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
