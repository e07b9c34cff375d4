package enrich

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// GeoProvider resolves geolocation and ASN data from a local MaxMind
// GeoLite2 database. Reads are local and effectively instant; the
// context parameter exists only to match the provider shape.
type GeoProvider struct {
	reader *maxminddb.Reader
}

// geoRecord mirrors the subset of the GeoLite2-City schema we read.
type geoRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Location struct {
		Latitude  float64 `maxminddb:"latitude"`
		Longitude float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
	Traits struct {
		ASN uint   `maxminddb:"autonomous_system_number"`
		Org string `maxminddb:"autonomous_system_organization"`
	} `maxminddb:"traits"`
}

// NewGeoProvider opens the mmdb at the given path.
func NewGeoProvider(mmdbPath string) (*GeoProvider, error) {
	reader, err := maxminddb.Open(mmdbPath)
	if err != nil {
		return nil, fmt.Errorf("opening geoip database: %w", err)
	}
	return &GeoProvider{reader: reader}, nil
}

// LookupIP reads the city record for the IP. An IP absent from the
// database yields a successful empty result.
func (p *GeoProvider) LookupIP(_ context.Context, ip string) (model.GeoResult, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return model.GeoResult{}, fmt.Errorf("invalid ip %q", ip)
	}

	var rec geoRecord
	if err := p.reader.Lookup(parsed, &rec); err != nil {
		return model.GeoResult{}, fmt.Errorf("geoip lookup for %s: %w", ip, err)
	}

	out := model.GeoResult{
		City:       rec.City.Names["en"],
		Country:    rec.Country.Names["en"],
		CountryISO: rec.Country.ISOCode,
		ASN:        rec.Traits.ASN,
		Org:        rec.Traits.Org,
	}
	if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
		out.Location = &model.LatLon{Lat: rec.Location.Latitude, Lon: rec.Location.Longitude}
	}
	return out, nil
}

// Close releases the mmdb mapping.
func (p *GeoProvider) Close() error { return p.reader.Close() }
