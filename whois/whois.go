package whois

import (
	"context"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/openrdap/rdap"

	"github.com/treemana/goprobe/config"
	"github.com/treemana/goprobe/log"
	"github.com/treemana/goprobe/model"
)

// Store is the cache side of the persistence layer the job writes to.
type Store interface {
	IPsWithoutWhois(limit int) ([]string, error)
	UpsertWhois(entry *model.WhoisCacheEntry) error
}

// Enricher fills WHOIS cache gaps in rate limited batches. It is the only
// writer of whois_cache; the analysis cycle just reads it.
type Enricher struct {
	cfg    config.Config
	store  Store
	rdap   *rdap.Client
	client *dns.Client

	lookup func(ctx context.Context, ip string) (*model.WhoisCacheEntry, error)
}

func New(cfg config.Config, store Store) *Enricher {
	e := &Enricher{
		cfg:    cfg,
		store:  store,
		rdap:   &rdap.Client{},
		client: &dns.Client{Net: "udp", Timeout: cfg.Timeout()},
	}
	e.lookup = e.Lookup
	return e
}

// Run enriches up to the configured batch size of IPs that have results
// but no cache entry, pausing between registry lookups. Returns the number
// of entries written.
func (e *Enricher) Run(ctx context.Context) (int, error) {
	ips, err := e.store.IPsWithoutWhois(e.cfg.WhoisBatchSize)
	if err != nil {
		return 0, err
	}
	log.Sugar.Infof("whois enrichment: %d IPs to look up", len(ips))

	var enriched int
	for i, ip := range ips {
		select {
		case <-ctx.Done():
			log.Sugar.Warnf("whois enrichment interrupted after %d/%d", i, len(ips))
			return enriched, ctx.Err()
		default:
		}

		entry, err := e.lookup(ctx, ip)
		if err != nil {
			// the IP stays absent from the cache, which reads as
			// unknown, and gets retried on the next run
			log.Sugar.Warnf("%s registry lookup failed: %v", ip, err)
		} else if err = e.store.UpsertWhois(entry); err != nil {
			log.Sugar.Warnf("%s whois upsert failed: %v", ip, err)
		} else {
			enriched++
		}

		if delay := e.cfg.WhoisDelay(); delay > 0 && i < len(ips)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	log.Sugar.Infof("whois enrichment: %d/%d entries written", enriched, len(ips))
	return enriched, nil
}

// Lookup resolves ownership of one IP: organization and country over RDAP,
// ASN and its description through the Team Cymru DNS zones.
func (e *Enricher) Lookup(ctx context.Context, ip string) (*model.WhoisCacheEntry, error) {
	entry := &model.WhoisCacheEntry{ServerIP: ip}

	network, rdapErr := e.rdap.QueryIP(ip)
	if rdapErr == nil && network != nil {
		if len(network.Name) > 0 {
			name := network.Name
			entry.Organization = &name
		}
		if len(network.Country) > 0 {
			country := network.Country
			entry.Country = &country
		}
	}

	asn, country := e.originASN(ctx, ip)
	if len(asn) > 0 {
		entry.ASN = &asn
		if desc := e.asnDescription(ctx, asn); len(desc) > 0 {
			entry.ASNDescription = &desc
		}
	}
	if entry.Country == nil && len(country) > 0 {
		entry.Country = &country
	}

	if rdapErr != nil && entry.ASN == nil {
		return nil, rdapErr
	}
	return entry, nil
}

// originASN queries <reversed>.origin.asn.cymru.com and returns the ASN
// and country code, empty on failure.
func (e *Enricher) originASN(ctx context.Context, ip string) (string, string) {
	reversed := ReverseIPv4(ip)
	if len(reversed) == 0 {
		return "", ""
	}

	fields := splitCymru(e.txt(ctx, reversed+".origin.asn.cymru.com"))
	if len(fields) < 3 {
		return "", ""
	}

	// multi-origin prefixes list several ASNs, keep the first
	asn := strings.Fields(fields[0])
	if len(asn) == 0 {
		return "", ""
	}
	return asn[0], fields[2]
}

// asnDescription queries AS<asn>.asn.cymru.com for the registry
// description, the last pipe separated field.
func (e *Enricher) asnDescription(ctx context.Context, asn string) string {
	fields := splitCymru(e.txt(ctx, "AS"+asn+".asn.cymru.com"))
	if len(fields) < 5 {
		return ""
	}
	return fields[4]
}

func (e *Enricher) txt(ctx context.Context, name string) string {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.RecursionDesired = true

	resp, _, err := e.client.ExchangeContext(ctx, m, e.cfg.WhoisResolver)
	if err != nil || resp == nil || resp.Rcode != dns.RcodeSuccess {
		return ""
	}

	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			return strings.Join(txt.Txt, "")
		}
	}
	return ""
}

// splitCymru splits "15169 | 8.8.8.0/24 | US | arin | 2000-03-30" into
// trimmed fields.
func splitCymru(payload string) []string {
	if len(payload) == 0 {
		return nil
	}

	parts := strings.Split(payload, "|")
	var fields = make([]string, 0, len(parts))
	for _, part := range parts {
		fields = append(fields, strings.TrimSpace(part))
	}
	return fields
}

// ReverseIPv4 turns "1.2.3.4" into "4.3.2.1" for the Cymru origin zone.
// Returns "" for anything that is not dotted-quad IPv4.
func ReverseIPv4(ip string) string {
	octets := strings.Split(ip, ".")
	if len(octets) != 4 {
		return ""
	}

	for i, j := 0, len(octets)-1; i < j; i, j = i+1, j-1 {
		octets[i], octets[j] = octets[j], octets[i]
	}
	return strings.Join(octets, ".")
}
