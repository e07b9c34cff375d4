package score

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/tnguyen-sec/iocpipe/internal/model"
)

// ClusterID derives a deterministic grouping fingerprint from a
// document's enrichment (ASN, org, registrar, passive DNS hostnames).
// It is recomputed on every upsert rather than persisted
// independently, so it always reflects the merged enrichment state.
// This is a fingerprint for downstream correlation, not a clustering
// algorithm.
func ClusterID(doc *model.Document) string {
	enr := doc.Enrichment
	var parts []string

	if enr.GeoIP.ASN != 0 {
		parts = append(parts, strconv.FormatUint(uint64(enr.GeoIP.ASN), 10))
	}
	if enr.GeoIP.Org != "" {
		parts = append(parts, enr.GeoIP.Org)
	}
	if enr.Whois.Registrar != "" {
		parts = append(parts, enr.Whois.Registrar)
	}
	if len(enr.PassiveDNS) > 0 {
		hosts := make([]string, 0, len(enr.PassiveDNS))
		for _, rec := range enr.PassiveDNS {
			if rec.Hostname != "" {
				hosts = append(hosts, rec.Hostname)
			}
		}
		sort.Strings(hosts)
		parts = append(parts, hosts...)
	}
	// The indicator identity anchors documents with no shared
	// enrichment into singleton clusters.
	parts = append(parts, string(doc.Type)+":"+doc.Value)

	sum := sha1.Sum([]byte(strings.Join(parts, "::")))
	return "cluster-" + hex.EncodeToString(sum[:])[:12]
}
