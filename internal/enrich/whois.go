package enrich

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

const (
	whoisPort        = "43"
	defaultWhoisHost = "whois.iana.org"
	whoisRawLimit    = 4000
)

// WhoisProvider queries WHOIS over TCP port 43, following one
// registrar referral from the IANA root, and extracts the fields
// scoring cares about (registrar, creation/expiration dates, name
// servers).
type WhoisProvider struct {
	server  string
	timeout time.Duration
	dial    func(ctx context.Context, addr string) (net.Conn, error)
}

// NewWhoisProvider creates a WHOIS provider. server overrides the IANA
// root when non-empty (mainly for tests and TLD-pinned deployments).
func NewWhoisProvider(server string, timeout time.Duration) *WhoisProvider {
	if server == "" {
		server = defaultWhoisHost
	}
	var d net.Dialer
	return &WhoisProvider{
		server:  server,
		timeout: timeout,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// LookupDomain queries WHOIS for the domain.
func (p *WhoisProvider) LookupDomain(ctx context.Context, domain string) (model.WhoisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.query(ctx, p.server, domain)
	if err != nil {
		return model.WhoisResult{}, err
	}

	// Follow a single referral when the first server only points at
	// the registry responsible for the TLD.
	if refer := whoisField(raw, "refer", "whois server", "registrar whois server"); refer != "" && !strings.EqualFold(refer, p.server) {
		if referred, err := p.query(ctx, refer, domain); err == nil && referred != "" {
			raw = referred
		}
	}

	return parseWhois(raw), nil
}

func (p *WhoisProvider) query(ctx context.Context, server, domain string) (string, error) {
	conn, err := p.dial(ctx, net.JoinHostPort(server, whoisPort))
	if err != nil {
		return "", fmt.Errorf("whois dial %s: %w", server, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", fmt.Errorf("whois write: %w", err)
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
		if sb.Len() > whoisRawLimit {
			break
		}
	}
	if err := scanner.Err(); err != nil && sb.Len() == 0 {
		return "", fmt.Errorf("whois read: %w", err)
	}
	return sb.String(), nil
}

func parseWhois(raw string) model.WhoisResult {
	out := model.WhoisResult{
		Registrar:      whoisField(raw, "registrar"),
		CreationDate:   whoisField(raw, "creation date", "created", "registered on"),
		ExpirationDate: whoisField(raw, "registry expiry date", "expiration date", "expiry date"),
		Registrant:     whoisField(raw, "registrant organization", "registrant name", "org"),
	}
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := splitWhoisLine(line)
		if ok && k == "name server" && v != "" {
			out.NameServers = append(out.NameServers, strings.ToLower(v))
		}
	}
	if len(raw) > whoisRawLimit {
		raw = raw[:whoisRawLimit]
	}
	out.Raw = raw
	return out
}

// whoisField returns the value of the first matching key, checked in
// order. Keys are compared case-insensitively.
func whoisField(raw string, keys ...string) string {
	for _, line := range strings.Split(raw, "\n") {
		k, v, ok := splitWhoisLine(line)
		if !ok || v == "" {
			continue
		}
		for _, key := range keys {
			if k == key {
				return v
			}
		}
	}
	return ""
}

func splitWhoisLine(line string) (key, value string, ok bool) {
	k, v, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v), true
}
