package enrich

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// DNSProvider resolves A/AAAA/MX/TXT records through the system
// resolver with a per-lookup deadline.
type DNSProvider struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewDNSProvider creates a DNS provider with the given per-lookup
// timeout.
func NewDNSProvider(timeout time.Duration) *DNSProvider {
	return &DNSProvider{resolver: net.DefaultResolver, timeout: timeout}
}

// LookupDomain resolves forward records for the domain. Individual
// record types that fail to resolve contribute empty lists; the call
// only errors when every record type fails, so "domain with no MX"
// and "resolver unreachable" stay distinguishable.
func (p *DNSProvider) LookupDomain(ctx context.Context, domain string) (model.DNSResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var out model.DNSResult
	var lastErr error
	failed := 0

	ips, err := p.resolver.LookupIP(ctx, "ip", domain)
	if err != nil {
		failed++
		lastErr = err
	} else {
		for _, ip := range ips {
			if ip.To4() != nil {
				out.A = append(out.A, ip.String())
			} else {
				out.AAAA = append(out.AAAA, ip.String())
			}
		}
	}

	mxs, err := p.resolver.LookupMX(ctx, domain)
	if err != nil {
		failed++
		lastErr = err
	} else {
		for _, mx := range mxs {
			out.MX = append(out.MX, strings.TrimSuffix(mx.Host, "."))
		}
	}

	txts, err := p.resolver.LookupTXT(ctx, domain)
	if err != nil {
		failed++
		lastErr = err
	} else {
		out.TXT = txts
	}

	if failed == 3 {
		return model.DNSResult{}, lastErr
	}
	return out, nil
}

// ReverseProvider resolves PTR records through the system resolver.
type ReverseProvider struct {
	resolver *net.Resolver
	timeout  time.Duration
}

// NewReverseProvider creates a reverse DNS provider with the given
// per-lookup timeout.
func NewReverseProvider(timeout time.Duration) *ReverseProvider {
	return &ReverseProvider{resolver: net.DefaultResolver, timeout: timeout}
}

// LookupAddr resolves the PTR record for the IP. An NXDOMAIN answer is
// a successful empty result, not a failure.
func (p *ReverseProvider) LookupAddr(ctx context.Context, ip string) (model.ReverseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	names, err := p.resolver.LookupAddr(ctx, ip)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return model.ReverseResult{}, nil
		}
		return model.ReverseResult{}, err
	}
	if len(names) == 0 {
		return model.ReverseResult{}, nil
	}
	return model.ReverseResult{PTR: strings.TrimSuffix(names[0], ".")}, nil
}
