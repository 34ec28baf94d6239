package checker

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/goprobe/config"
	"github.com/treemana/goprobe/log"
	"github.com/treemana/goprobe/model"
)

func TestMain(m *testing.M) {
	_ = log.Init(log.Config{STDOUT: true, Level: 1})
	os.Exit(m.Run())
}

// localServer runs a miekg/dns server on a random loopback port and returns
// the port.
func localServer(t *testing.T, handler dns.Handler) int {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &dns.Server{PacketConn: pc, Handler: handler}
	go func() { _ = srv.ActivateAndServe() }()
	t.Cleanup(func() { _ = srv.Shutdown() })

	return pc.LocalAddr().(*net.UDPAddr).Port
}

func aRecord(name, ip string, ttl uint32) dns.RR {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   net.ParseIP(ip),
	}
}

// openResolver answers every A query with an answer, RA set, and AD set
// when the query carried DO.
func openResolver(w dns.ResponseWriter, req *dns.Msg) {
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.RecursionAvailable = true
	if opt := req.IsEdns0(); opt != nil && opt.Do() {
		resp.AuthenticatedData = true
	}
	resp.Answer = append(resp.Answer, aRecord(req.Question[0].Name, "93.184.216.34", 300))
	_ = w.WriteMsg(resp)
}

func testConfig(port int) config.Config {
	cfg := config.Default()
	cfg.ProbePort = port
	cfg.TimeoutSeconds = 1
	return cfg
}

type fakeWhois struct {
	entry *model.WhoisCacheEntry
}

func (f *fakeWhois) GetWhois(string) (*model.WhoisCacheEntry, error) { return f.entry, nil }

func TestCheckOpenResolver(t *testing.T) {
	port := localServer(t, dns.HandlerFunc(openResolver))
	c := New(testConfig(port), nil)

	result, logs := c.Check(context.Background(), "127.0.0.1", false, "test-host", nil)

	if len(logs) != 4 {
		t.Fatalf("logs = %d, want 4", len(logs))
	}
	wantOrder := []model.TestType{model.TestRecursion, model.TestLatency, model.TestDNSSEC, model.TestMalicious}
	for i, want := range wantOrder {
		if logs[i].TestType != want {
			t.Errorf("logs[%d].TestType = %s, want %s", i, logs[i].TestType, want)
		}
	}

	if !result.Recursive || !result.RAFlag {
		t.Errorf("Recursive = %t RAFlag = %t, want both true", result.Recursive, result.RAFlag)
	}
	if result.Latency == nil {
		t.Fatal("Latency = nil, want measured value")
	}
	if result.Responsiveness == model.Unresponsive {
		t.Errorf("Responsiveness = %s for a responding server", result.Responsiveness)
	}
	if result.Reliability != model.Reliable {
		t.Errorf("Reliability = %s, want reliable", result.Reliability)
	}
	if !result.DNSSECValidated || !result.ADFlag {
		t.Errorf("DNSSECValidated = %t ADFlag = %t, want both true", result.DNSSECValidated, result.ADFlag)
	}
	// the open resolver answers the malicious domain for real
	if result.MaliciousBlocked == nil || *result.MaliciousBlocked {
		t.Errorf("MaliciousBlocked = %v, want false", result.MaliciousBlocked)
	}
}

func TestCheckTimeout(t *testing.T) {
	// a handler that never answers
	port := localServer(t, dns.HandlerFunc(func(dns.ResponseWriter, *dns.Msg) {}))

	cfg := testConfig(port)
	cfg.TimeoutSeconds = 0.2
	c := New(cfg, nil)

	result, logs := c.Check(context.Background(), "127.0.0.1", false, "test-host", nil)

	if len(logs) != 4 {
		t.Fatalf("logs = %d, want 4", len(logs))
	}
	for i, l := range logs {
		if l.ResponseRcode != "TIMEOUT" {
			t.Errorf("logs[%d].ResponseRcode = %s, want TIMEOUT", i, l.ResponseRcode)
		}
		if l.ResponseTime != nil {
			t.Errorf("logs[%d].ResponseTime = %v, want nil", i, *l.ResponseTime)
		}
	}

	if result.Recursive || result.RAFlag {
		t.Error("timed out server reported recursive")
	}
	if result.Latency != nil {
		t.Errorf("Latency = %v, want nil", *result.Latency)
	}
	if result.Responsiveness != model.Unresponsive {
		t.Errorf("Responsiveness = %s, want unresponsive", result.Responsiveness)
	}
	if result.Reliability != model.UnreliableTimeout {
		t.Errorf("Reliability = %s, want unreliable_timeout", result.Reliability)
	}
	if result.DNSSECValidated {
		t.Error("DNSSECValidated = true for a timed out server")
	}
	if result.MaliciousBlocked != nil {
		t.Errorf("MaliciousBlocked = %v, want nil (unknown)", *result.MaliciousBlocked)
	}
	if result.FailureReason == nil {
		t.Error("FailureReason = nil, want populated")
	}
}

func TestCheckMaliciousBlocked(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		name    string
		handler func(dns.ResponseWriter, *dns.Msg)
		want    *bool
	}{
		{
			name: "nxdomain",
			handler: func(w dns.ResponseWriter, req *dns.Msg) {
				resp := new(dns.Msg)
				resp.SetReply(req)
				resp.RecursionAvailable = true
				if req.Question[0].Name == dns.Fqdn(cfg.MaliciousDomain) {
					resp.Rcode = dns.RcodeNameError
				} else {
					resp.Answer = append(resp.Answer, aRecord(req.Question[0].Name, "93.184.216.34", 300))
				}
				_ = w.WriteMsg(resp)
			},
			want: boolPtr(true),
		},
		{
			name: "sinkhole",
			handler: func(w dns.ResponseWriter, req *dns.Msg) {
				resp := new(dns.Msg)
				resp.SetReply(req)
				resp.RecursionAvailable = true
				ip := "93.184.216.34"
				if req.Question[0].Name == dns.Fqdn(cfg.MaliciousDomain) {
					ip = "0.0.0.0"
				}
				resp.Answer = append(resp.Answer, aRecord(req.Question[0].Name, ip, 300))
				_ = w.WriteMsg(resp)
			},
			want: boolPtr(true),
		},
		{
			name: "refused stays unknown",
			handler: func(w dns.ResponseWriter, req *dns.Msg) {
				resp := new(dns.Msg)
				resp.SetReply(req)
				resp.RecursionAvailable = true
				if req.Question[0].Name == dns.Fqdn(cfg.MaliciousDomain) {
					resp.Rcode = dns.RcodeRefused
				} else {
					resp.Answer = append(resp.Answer, aRecord(req.Question[0].Name, "93.184.216.34", 300))
				}
				_ = w.WriteMsg(resp)
			},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := localServer(t, dns.HandlerFunc(tt.handler))
			c := New(testConfig(port), nil)

			result, _ := c.Check(context.Background(), "127.0.0.1", false, "test-host", nil)

			switch {
			case tt.want == nil && result.MaliciousBlocked != nil:
				t.Errorf("MaliciousBlocked = %v, want nil", *result.MaliciousBlocked)
			case tt.want != nil && (result.MaliciousBlocked == nil || *result.MaliciousBlocked != *tt.want):
				t.Errorf("MaliciousBlocked = %v, want %v", result.MaliciousBlocked, *tt.want)
			}
		})
	}
}

func TestCheckWhoisConsult(t *testing.T) {
	port := localServer(t, dns.HandlerFunc(openResolver))

	org := "Example Broadband Ltd"
	asn := "64500"
	whois := &fakeWhois{entry: &model.WhoisCacheEntry{
		ServerIP:     "127.0.0.1",
		Organization: &org,
		ASN:          &asn,
	}}

	c := New(testConfig(port), whois)
	result, _ := c.Check(context.Background(), "127.0.0.1", false, "test-host", nil)

	if result.Organization == nil || *result.Organization != org {
		t.Errorf("Organization = %v, want %q", result.Organization, org)
	}
	if result.ASN == nil || *result.ASN != asn {
		t.Errorf("ASN = %v, want %q", result.ASN, asn)
	}
	// "broadband" in the org name marks the server ISP assigned
	if !result.ISPAssigned {
		t.Error("ISPAssigned = false, want true via org keyword")
	}
}

func TestCheckWhoisMiss(t *testing.T) {
	port := localServer(t, dns.HandlerFunc(openResolver))
	c := New(testConfig(port), &fakeWhois{})

	result, _ := c.Check(context.Background(), "127.0.0.1", false, "test-host", nil)

	if result.Organization != nil || result.ASN != nil || result.Country != nil {
		t.Error("ownership fields should stay nil on a cache miss")
	}
}

func TestClassifyResponsiveness(t *testing.T) {
	cfg := config.Default()
	cfg.FastThreshold = 0.05
	cfg.NormalThreshold = 0.2
	c := New(cfg, nil)

	tests := []struct {
		name    string
		latency *float64
		want    model.Responsiveness
	}{
		{name: "nil is unresponsive", latency: nil, want: model.Unresponsive},
		{name: "fast", latency: floatPtr(0.01), want: model.Fast},
		{name: "normal", latency: floatPtr(0.1), want: model.Normal},
		{name: "slow", latency: floatPtr(0.5), want: model.Slow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.classifyResponsiveness(tt.latency); got != tt.want {
				t.Errorf("classifyResponsiveness() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCheckIsBounded(t *testing.T) {
	port := localServer(t, dns.HandlerFunc(func(dns.ResponseWriter, *dns.Msg) {}))

	cfg := testConfig(port)
	cfg.TimeoutSeconds = 0.1
	c := New(cfg, nil)

	start := time.Now()
	_, _ = c.Check(context.Background(), "127.0.0.1", false, "test-host", nil)
	elapsed := time.Since(start)

	// four probes, each bounded by the timeout, plus slack
	if elapsed > 2*time.Second {
		t.Errorf("Check took %s, want bounded by probe count x timeout", elapsed)
	}
}

func boolPtr(v bool) *bool { return &v }

func floatPtr(v float64) *float64 { return &v }
