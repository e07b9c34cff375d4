package model

// Merge combines two bundles field by field, preferring non-zero
// values from the newer bundle. Numeric aggregates (SourcesCount) use
// max so that repeated observations never lose evidence, which keeps
// merge order-independent for the fields downstream scoring relies on.
func (b Bundle) Merge(n Bundle) Bundle {
	out := b
	out.DNS = b.DNS.merge(n.DNS)
	out.Reverse = b.Reverse.merge(n.Reverse)
	out.GeoIP = b.GeoIP.merge(n.GeoIP)
	out.Whois = b.Whois.merge(n.Whois)
	out.AbuseIPDB = b.AbuseIPDB.merge(n.AbuseIPDB)
	out.OTX = b.OTX.merge(n.OTX)
	if len(n.PassiveDNS) > 0 {
		out.PassiveDNS = n.PassiveDNS
	}
	if n.SourcesCount > out.SourcesCount {
		out.SourcesCount = n.SourcesCount
	}
	return out
}

func (r DNSResult) merge(n DNSResult) DNSResult {
	if len(n.A) > 0 {
		r.A = n.A
	}
	if len(n.AAAA) > 0 {
		r.AAAA = n.AAAA
	}
	if len(n.MX) > 0 {
		r.MX = n.MX
	}
	if len(n.TXT) > 0 {
		r.TXT = n.TXT
	}
	if n.Error != "" && r.Empty() {
		r.Error = n.Error
	}
	return r
}

func (r ReverseResult) merge(n ReverseResult) ReverseResult {
	if n.PTR != "" {
		r.PTR = n.PTR
		r.Error = ""
	} else if n.Error != "" && r.Empty() {
		r.Error = n.Error
	}
	return r
}

func (r GeoResult) merge(n GeoResult) GeoResult {
	if n.City != "" {
		r.City = n.City
	}
	if n.Country != "" {
		r.Country = n.Country
	}
	if n.CountryISO != "" {
		r.CountryISO = n.CountryISO
	}
	if n.Location != nil {
		r.Location = n.Location
	}
	if n.ASN != 0 {
		r.ASN = n.ASN
	}
	if n.Org != "" {
		r.Org = n.Org
	}
	if n.Error != "" && r.Empty() {
		r.Error = n.Error
	}
	return r
}

func (r WhoisResult) merge(n WhoisResult) WhoisResult {
	if n.Registrar != "" {
		r.Registrar = n.Registrar
	}
	if n.CreationDate != "" {
		r.CreationDate = n.CreationDate
	}
	if n.ExpirationDate != "" {
		r.ExpirationDate = n.ExpirationDate
	}
	if n.Registrant != "" {
		r.Registrant = n.Registrant
	}
	if len(n.NameServers) > 0 {
		r.NameServers = n.NameServers
	}
	if n.Raw != "" {
		r.Raw = n.Raw
	}
	if n.Error != "" && r.Empty() {
		r.Error = n.Error
	}
	return r
}

func (r AbuseIPDBResult) merge(n AbuseIPDBResult) AbuseIPDBResult {
	if n.AbuseConfidenceScore != 0 {
		r.AbuseConfidenceScore = n.AbuseConfidenceScore
	}
	if n.TotalReports != 0 {
		r.TotalReports = n.TotalReports
	}
	if n.NumDistinctUsers != 0 {
		r.NumDistinctUsers = n.NumDistinctUsers
	}
	if n.ISP != "" {
		r.ISP = n.ISP
	}
	if n.UsageType != "" {
		r.UsageType = n.UsageType
	}
	if n.CountryCode != "" {
		r.CountryCode = n.CountryCode
	}
	if n.LastReportedAt != "" {
		r.LastReportedAt = n.LastReportedAt
	}
	if n.Error != "" && r.Empty() {
		r.Error = n.Error
	}
	return r
}

func (r OTXResult) merge(n OTXResult) OTXResult {
	if n.PulseCount != 0 {
		r.PulseCount = n.PulseCount
	}
	if len(n.Tags) > 0 {
		r.Tags = n.Tags
	}
	if n.Reputation != 0 {
		r.Reputation = n.Reputation
	}
	if n.ASN != "" {
		r.ASN = n.ASN
	}
	if n.Error != "" && r.Empty() {
		r.Error = n.Error
	}
	return r
}
