package analyzer

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"strings"
	"time"

	"github.com/treemana/goprobe/config"
	"github.com/treemana/goprobe/log"
	"github.com/treemana/goprobe/model"
	"github.com/treemana/goprobe/util"
)

// Store is the slice of the persistence layer the orchestrator needs.
type Store interface {
	LogQueries([]model.DNSQueryLog) error
	SaveResult(*model.ServerResult) error
	CoverageStats() (model.CoverageStats, error)
	UpsertHost(*model.MeasurementHost) error
}

// Checker probes one server and never fails past its own boundary.
type Checker interface {
	Check(ctx context.Context, serverIP string, ispAssigned bool, hostname string, publicIP *string) (*model.ServerResult, []model.DNSQueryLog)
}

// HostLookup resolves registry ownership for the measurement host's own
// public IP. Optional.
type HostLookup func(ip string) (*model.WhoisCacheEntry, error)

type Analyzer struct {
	cfg     config.Config
	store   Store
	checker Checker

	// ispSet holds system resolver and DHCP server IPs.
	ispSet map[string]struct{}

	hostLookup HostLookup
	publicIP   func() net.IP
}

func New(cfg config.Config, store Store, checker Checker, ispRelated []string, hostLookup HostLookup) *Analyzer {
	a := &Analyzer{
		cfg:        cfg,
		store:      store,
		checker:    checker,
		ispSet:     make(map[string]struct{}, len(ispRelated)),
		hostLookup: hostLookup,
		publicIP:   util.GetPublicIP,
	}
	for _, ip := range ispRelated {
		a.ispSet[ip] = struct{}{}
	}
	return a
}

// LoadServers reads the input file. An unreadable file is an error, but a
// readable file of the wrong shape just yields zero servers.
func LoadServers(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	ips := ParseServers(raw)
	log.Sugar.Infof("loaded %d server IPs from %s", len(ips), path)
	return ips, nil
}

// ParseServers accepts an array of IP strings, an array of {"ip": ...} or
// {"servers": [...]} objects, or a top-level {"servers": [...]} object.
// Anything else yields an empty list.
func ParseServers(raw []byte) []string {
	var ips []string
	seen := make(map[string]struct{})
	add := func(ip string) {
		ip = strings.TrimSpace(ip)
		if len(ip) == 0 {
			return
		}
		if _, ok := seen[ip]; ok {
			return
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}

	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		addElements(list, add)
		return ips
	}

	var obj struct {
		Servers []json.RawMessage `json:"servers"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		addElements(obj.Servers, add)
	}

	return ips
}

func addElements(items []json.RawMessage, add func(string)) {
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			add(s)
			continue
		}

		var withIP struct {
			IP string `json:"ip"`
		}
		if json.Unmarshal(item, &withIP) == nil && len(withIP.IP) > 0 {
			add(withIP.IP)
			continue
		}

		var nested struct {
			Servers []json.RawMessage `json:"servers"`
		}
		if json.Unmarshal(item, &nested) == nil {
			addElements(nested.Servers, add)
		}
	}
}

// Merge puts the system resolvers ahead of the loaded list and drops
// duplicates, preserving encounter order.
func Merge(system, loaded []string) []string {
	var out = make([]string, 0, len(system)+len(loaded))
	seen := make(map[string]struct{}, len(system)+len(loaded))

	for _, group := range [][]string{system, loaded} {
		for _, ip := range group {
			if _, ok := seen[ip]; ok {
				continue
			}
			seen[ip] = struct{}{}
			out = append(out, ip)
		}
	}

	return out
}

// RunCycle analyzes every server once, strictly sequentially, sleeping
// delay between servers. Each server's writes are isolated; a failing
// server never stops the cycle.
func (a *Analyzer) RunCycle(ctx context.Context, servers []string, delay time.Duration) model.CycleSummary {
	start := time.Now()
	summary := model.CycleSummary{Total: len(servers)}

	hostname := util.Hostname()
	var publicIP *string
	if ip := a.publicIP(); ip != nil {
		s := ip.String()
		publicIP = &s
	}
	log.Sugar.Infof("cycle start: host=%s public_ip=%v servers=%d", hostname, publicIP, len(servers))

	a.recordHostIdentity(hostname, publicIP)

	if stats, err := a.store.CoverageStats(); err != nil {
		log.Sugar.Warnf("whois coverage stats unavailable: %v", err)
	} else {
		log.Sugar.Infof("whois cache coverage: total=%d cached=%d missing=%d",
			stats.TotalKnownIPs, stats.CachedIPs, stats.MissingIPs)
	}

	for i, ip := range servers {
		select {
		case <-ctx.Done():
			log.Sugar.Warnf("cycle interrupted after %d/%d servers", i, len(servers))
			summary.Elapsed = time.Since(start)
			return summary
		default:
		}

		_, isp := a.ispSet[ip]
		log.Sugar.Infof("[%d/%d] analyzing %s", i+1, len(servers), ip)

		result, logs := a.checker.Check(ctx, ip, isp, hostname, publicIP)

		ok := true
		if err := a.store.LogQueries(logs); err != nil {
			log.Sugar.Warnf("%s query logs skipped: %v", ip, err)
			ok = false
		}
		if err := a.store.SaveResult(result); err != nil {
			log.Sugar.Warnf("%s result skipped: %v", ip, err)
			ok = false
		}

		if ok {
			summary.Succeeded++
			log.Sugar.Infof("%s recursive=%t responsiveness=%s reliability=%s",
				ip, result.Recursive, result.Responsiveness, result.Reliability)
		} else {
			summary.Failed++
		}

		if delay > 0 && i < len(servers)-1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	summary.Elapsed = time.Since(start)
	log.Sugar.Infof("cycle complete: %d/%d succeeded, %d failed, elapsed %s",
		summary.Succeeded, summary.Total, summary.Failed, summary.Elapsed.Round(time.Millisecond))
	return summary
}

func (a *Analyzer) recordHostIdentity(hostname string, publicIP *string) {
	if publicIP == nil {
		log.Sugar.Warn("public IP unknown, skipping host identity record")
		return
	}

	host := &model.MeasurementHost{
		Hostname: hostname,
		PublicIP: *publicIP,
	}

	if a.hostLookup != nil {
		if entry, err := a.hostLookup(*publicIP); err != nil {
			log.Sugar.Warnf("host ownership lookup failed: %v", err)
		} else if entry != nil {
			host.Organization = entry.Organization
			host.ASN = entry.ASN
			host.ASNDescription = entry.ASNDescription
			host.Country = entry.Country
		}
	}

	if err := a.store.UpsertHost(host); err != nil {
		log.Sugar.Warnf("host identity record failed: %v", err)
	}
}
