package checker

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/goprobe/config"
	"github.com/treemana/goprobe/log"
	"github.com/treemana/goprobe/model"
)

// WhoisReader is the cache-only ownership lookup consulted during
// measurement. Implementations never perform a live registry query.
type WhoisReader interface {
	GetWhois(ip string) (*model.WhoisCacheEntry, error)
}

// Checker runs the bounded probe sequence against one server at a time.
type Checker struct {
	cfg    config.Config
	whois  WhoisReader
	client *dns.Client
}

func New(cfg config.Config, whois WhoisReader) *Checker {
	return &Checker{
		cfg:   cfg,
		whois: whois,
		client: &dns.Client{
			Net:     "udp",
			Timeout: cfg.Timeout(),
			UDPSize: dns.DefaultMsgSize,
		},
	}
}

// probe is the raw outcome of one exchange.
type probe struct {
	resp  *dns.Msg
	rtt   time.Duration
	rcode string
	err   error
}

func (c *Checker) exchange(ctx context.Context, serverIP, domain string, do bool) probe {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	m.RecursionDesired = true
	if do {
		m.SetEdns0(dns.DefaultMsgSize, true)
	}

	addr := net.JoinHostPort(serverIP, strconv.Itoa(c.cfg.ProbePort))
	resp, rtt, err := c.client.ExchangeContext(ctx, m, addr)

	var p = probe{resp: resp, rtt: rtt, err: err}
	switch {
	case err == nil && resp != nil:
		p.rcode = dns.RcodeToString[resp.Rcode]
	case isTimeout(err):
		p.rcode = "TIMEOUT"
	default:
		p.rcode = "ERROR"
	}

	return p
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return err == context.DeadlineExceeded
}

func (c *Checker) entry(serverIP, domain, queryFlags string, testType model.TestType, p probe) model.DNSQueryLog {
	e := model.DNSQueryLog{
		ServerIP:      serverIP,
		QueryType:     "A",
		QueryName:     domain,
		QueryFlags:    queryFlags,
		ResponseRcode: p.rcode,
		ResponseFlags: flagString(p.resp),
		Timestamp:     time.Now().UTC(),
		TestType:      testType,
	}

	if p.err == nil {
		rtt := p.rtt.Seconds()
		e.ResponseTime = &rtt
	}

	if p.resp != nil && len(p.resp.Answer) > 0 {
		ttl := p.resp.Answer[0].Header().Ttl
		e.ResponseTTL = &ttl

		var lines = make([]string, 0, len(p.resp.Answer))
		for _, rr := range p.resp.Answer {
			lines = append(lines, rr.String())
		}
		answer := strings.Join(lines, "\n")
		e.ResponseAnswer = &answer
	}

	return e
}

func flagString(m *dns.Msg) string {
	if m == nil {
		return "N/A"
	}

	var parts []string
	if m.Authoritative {
		parts = append(parts, "AA")
	}
	if m.Truncated {
		parts = append(parts, "TC")
	}
	if m.RecursionDesired {
		parts = append(parts, "RD")
	}
	if m.RecursionAvailable {
		parts = append(parts, "RA")
	}
	if m.AuthenticatedData {
		parts = append(parts, "AD")
	}
	if m.CheckingDisabled {
		parts = append(parts, "CD")
	}

	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Check runs recursion, latency, dnssec and malicious probes in order, then
// the WHOIS cache consult. It always returns a summary and exactly one log
// entry per probe; probe failures end up as negative or nil fields, never
// as an error.
func (c *Checker) Check(ctx context.Context, serverIP string, ispAssigned bool, hostname string, publicIP *string) (*model.ServerResult, []model.DNSQueryLog) {
	start := time.Now().UTC()
	var logs = make([]model.DNSQueryLog, 0, 4)

	// recursion
	rec := c.exchange(ctx, serverIP, c.cfg.RecursionDomain, false)
	logs = append(logs, c.entry(serverIP, c.cfg.RecursionDomain, "RD", model.TestRecursion, rec))
	raFlag := rec.resp != nil && rec.resp.RecursionAvailable
	recursive := raFlag && rec.resp.Rcode == dns.RcodeSuccess && len(rec.resp.Answer) > 0
	log.Sugar.Debugf("%s recursion recursive=%t ra=%t rcode=%s", serverIP, recursive, raFlag, rec.rcode)

	// latency
	lat := c.exchange(ctx, serverIP, c.cfg.LatencyDomain, false)
	logs = append(logs, c.entry(serverIP, c.cfg.LatencyDomain, "RD", model.TestLatency, lat))
	var latency *float64
	if lat.err == nil && lat.resp != nil && lat.resp.Rcode == dns.RcodeSuccess {
		v := lat.rtt.Seconds()
		latency = &v
	}
	responsive := latency != nil
	reliability, failureReason := classifyReliability(lat.rcode, responsive)
	if !responsive {
		log.Sugar.Warnf("%s latency probe failed rcode=%s, summary marked %s", serverIP, lat.rcode, reliability)
	}

	// dnssec
	sec := c.exchange(ctx, serverIP, c.cfg.DNSSECDomain, true)
	logs = append(logs, c.entry(serverIP, c.cfg.DNSSECDomain, "RD|DO", model.TestDNSSEC, sec))
	adFlag := sec.resp != nil && sec.resp.AuthenticatedData
	validated := adFlag && sec.resp.Rcode == dns.RcodeSuccess

	// malicious
	mal := c.exchange(ctx, serverIP, c.cfg.MaliciousDomain, false)
	logs = append(logs, c.entry(serverIP, c.cfg.MaliciousDomain, "RD", model.TestMalicious, mal))
	blocked := classifyMalicious(mal, responsive)

	result := &model.ServerResult{
		ServerIP:         serverIP,
		Hostname:         hostname,
		PublicIP:         publicIP,
		Timestamp:        start,
		Recursive:        recursive,
		RAFlag:           raFlag,
		Latency:          latency,
		Responsiveness:   c.classifyResponsiveness(latency),
		Reliability:      reliability,
		Responsive:       responsive,
		FailureReason:    failureReason,
		DNSSECValidated:  validated,
		ADFlag:           adFlag,
		DNSSECRcode:      sec.rcode,
		MaliciousBlocked: blocked,
		MaliciousRcode:   mal.rcode,
		ISPAssigned:      ispAssigned,
	}

	// whois cache consult, read only and logless
	if c.whois != nil {
		cached, err := c.whois.GetWhois(serverIP)
		switch {
		case err != nil:
			log.Sugar.Warnf("%s whois cache read failed: %v", serverIP, err)
		case cached != nil:
			result.Organization = cached.Organization
			result.ASN = cached.ASN
			result.ASNDescription = cached.ASNDescription
			result.Country = cached.Country
			if !result.ISPAssigned {
				result.ISPAssigned = c.matchesISPOrg(cached.Organization)
			}
		}
	}

	return result, logs
}

func (c *Checker) classifyResponsiveness(latency *float64) model.Responsiveness {
	switch {
	case latency == nil:
		return model.Unresponsive
	case *latency < c.cfg.FastThreshold:
		return model.Fast
	case *latency < c.cfg.NormalThreshold:
		return model.Normal
	default:
		return model.Slow
	}
}

func classifyReliability(latencyRcode string, responsive bool) (model.Reliability, *string) {
	if responsive {
		return model.Reliable, nil
	}

	var reason string
	var r model.Reliability
	switch latencyRcode {
	case "TIMEOUT":
		r = model.UnreliableTimeout
		reason = "server timeout, not responding to queries"
	case "REFUSED":
		r = model.UnreliableRefused
		reason = "server refused queries"
	default:
		r = model.UnreliableServerDown
		reason = "server not responding properly, rcode " + latencyRcode
	}
	return r, &reason
}

// classifyMalicious maps the malicious probe outcome to a tri-state flag.
// NXDOMAIN, an empty answer or a sinkhole address mean blocked; timeouts,
// refusals and server failures stay unknown since they happen to broken
// servers regardless of filtering.
func classifyMalicious(p probe, responsive bool) *bool {
	if !responsive || p.err != nil || p.resp == nil {
		return nil
	}

	var v bool
	switch p.resp.Rcode {
	case dns.RcodeNameError:
		v = true
	case dns.RcodeSuccess:
		v = len(p.resp.Answer) == 0 || sinkholed(p.resp.Answer)
	default:
		// REFUSED, SERVFAIL and friends cannot be told apart from an
		// unrelated failure
		return nil
	}
	return &v
}

func sinkholed(answers []dns.RR) bool {
	for _, rr := range answers {
		a, ok := rr.(*dns.A)
		if !ok {
			continue
		}
		if a.A.IsUnspecified() || a.A.IsLoopback() {
			return true
		}
	}
	return false
}

func (c *Checker) matchesISPOrg(org *string) bool {
	if org == nil {
		return false
	}
	lower := strings.ToLower(*org)
	for _, keyword := range c.cfg.ISPOrgKeywords {
		if strings.Contains(lower, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
