package canonical

import (
	"testing"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

func TestCanonicalize_Domain(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "EXAMPLE.COM", "example.com"},
		{"scheme stripped", "https://example.com", "example.com"},
		{"http scheme stripped", "http://example.com", "example.com"},
		{"path stripped", "https://example.com/malware/payload.exe", "example.com"},
		{"port stripped", "example.com:8080", "example.com"},
		{"trailing slash", "example.com/", "example.com"},
		{"trailing dot", "example.com.", "example.com"},
		{"whitespace", "  example.com\n", "example.com"},
		{"already canonical", "example.com", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(model.Indicator{Type: model.IndicatorTypeDomain, Value: tt.in})
			if got.Value != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got.Value, tt.want)
			}
		})
	}
}

func TestCanonicalize_IP(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain ipv4", "46.161.50.108", "46.161.50.108"},
		{"ipv6 compressed", "2001:0db8:0000:0000:0000:0000:0000:0001", "2001:db8::1"},
		{"unparsable passes through", "999.999.999.999", "999.999.999.999"},
		{"garbage passes through", "not-an-ip", "not-an-ip"},
		{"whitespace trimmed", " 8.8.8.8 ", "8.8.8.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Canonicalize(model.Indicator{Type: model.IndicatorTypeIP, Value: tt.in})
			if got.Value != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got.Value, tt.want)
			}
		})
	}
}

func TestCanonicalize_Hash(t *testing.T) {
	got := Canonicalize(model.Indicator{Type: model.IndicatorTypeHash, Value: "D41D8CD98F00B204E9800998ECF8427E"})
	if got.Value != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Errorf("hash not lowercased: %q", got.Value)
	}
}

func TestCanonicalize_UnknownType(t *testing.T) {
	got := Canonicalize(model.Indicator{Type: "email", Value: "  Someone@Example.com "})
	if got.Value != "Someone@Example.com" {
		t.Errorf("unknown type should only trim whitespace, got %q", got.Value)
	}
}

// TestCanonicalize_Idempotent verifies canon(canon(x)) == canon(x) for
// a sample of every indicator type, including malformed values.
func TestCanonicalize_Idempotent(t *testing.T) {
	samples := []model.Indicator{
		{Type: model.IndicatorTypeDomain, Value: "HTTPS://Evil.Example.COM:443/path"},
		{Type: model.IndicatorTypeDomain, Value: "example.com"},
		{Type: model.IndicatorTypeIP, Value: "46.161.50.108"},
		{Type: model.IndicatorTypeIP, Value: "2001:0DB8::1"},
		{Type: model.IndicatorTypeIP, Value: "totally-broken"},
		{Type: model.IndicatorTypeHash, Value: "ABCDEF0123456789"},
		{Type: "unknown", Value: " raw value "},
	}

	for _, s := range samples {
		once := Canonicalize(s)
		twice := Canonicalize(once)
		if once != twice {
			t.Errorf("canonicalization not idempotent for %+v: %+v != %+v", s, once, twice)
		}
	}
}

func TestKey(t *testing.T) {
	got := Key(model.Indicator{Type: model.IndicatorTypeDomain, Value: "https://Example.com/x"})
	if got != "domain::example.com" {
		t.Errorf("Key = %q, want domain::example.com", got)
	}
}
