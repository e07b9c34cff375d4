// Package canonical normalizes raw indicators into a stable identity
// form used for deduplication. Canonicalization is pure, total, and
// idempotent: every input produces a key, and malformed values pass
// through unchanged rather than being dropped.
package canonical

import (
	"net/netip"
	"strings"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// Canonicalize returns a normalized copy of the indicator.
//
//   - domain: lowercased, scheme/path/port stripped
//   - ip: re-serialized through the strict netip parser; unparsable
//     values are left as-is (non-fatal — the indexer decides whether a
//     malformed key is usable)
//   - hash: lowercased
//   - anything else: whitespace trimmed, value otherwise untouched
func Canonicalize(in model.Indicator) model.Indicator {
	out := in
	v := strings.TrimSpace(in.Value)

	switch in.Type {
	case model.IndicatorTypeDomain:
		out.Value = canonicalDomain(v)
	case model.IndicatorTypeIP:
		out.Value = canonicalIP(v)
	case model.IndicatorTypeHash:
		out.Value = strings.ToLower(v)
	default:
		out.Value = v
	}
	return out
}

// Key canonicalizes the indicator and returns its identity key.
func Key(in model.Indicator) string {
	return Canonicalize(in).Key()
}

func canonicalDomain(v string) string {
	v = strings.ToLower(v)
	if rest, ok := strings.CutPrefix(v, "http://"); ok {
		v = rest
	} else if rest, ok := strings.CutPrefix(v, "https://"); ok {
		v = rest
	}
	// Drop any path component, then trailing slashes and dots.
	if i := strings.IndexByte(v, '/'); i >= 0 {
		v = v[:i]
	}
	v = strings.Trim(v, "/. ")
	// Drop a leftover port. IPv6-in-domain is not a concern here: the
	// first colon separates host from port for the feed formats we see.
	if i := strings.IndexByte(v, ':'); i >= 0 {
		v = v[:i]
	}
	return v
}

func canonicalIP(v string) string {
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return v
	}
	return addr.String()
}
