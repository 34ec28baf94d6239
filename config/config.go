package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every knob of the analyzer. A value is built once in main
// and handed to the other packages, nothing reads it from globals.
type Config struct {
	Log struct {
		File    string `json:"file"`
		STDOUT  bool   `json:"stdout"`
		Verbose bool   `json:"verbose"`
	} `json:"log"`

	// TimeoutSeconds bounds every single DNS probe.
	TimeoutSeconds float64 `json:"timeout_seconds"`

	// ProbePort is the DNS port queried on every target server.
	ProbePort int `json:"probe_port"`

	// Test domains, one per probe.
	RecursionDomain string `json:"recursion_domain"`
	LatencyDomain   string `json:"latency_domain"`
	DNSSECDomain    string `json:"dnssec_domain"`
	MaliciousDomain string `json:"malicious_domain"`

	// Latency classification thresholds in seconds. A latency below
	// FastThreshold is "fast", below NormalThreshold "normal",
	// anything else "slow". A missing latency is "unresponsive".
	FastThreshold   float64 `json:"fast_threshold"`
	NormalThreshold float64 `json:"normal_threshold"`

	// ISPOrgKeywords mark a server as ISP assigned when one of them
	// appears in the cached WHOIS organization (case-insensitive).
	ISPOrgKeywords []string `json:"isp_org_keywords"`

	InputFile string `json:"input_file"`

	// DelaySeconds is the pause between two servers within a cycle.
	DelaySeconds float64 `json:"delay_seconds"`

	// WHOIS enrichment batch settings.
	WhoisBatchSize    int     `json:"whois_batch_size"`
	WhoisDelaySeconds float64 `json:"whois_delay_seconds"`

	// WhoisResolver answers the Team Cymru ASN TXT lookups.
	WhoisResolver string `json:"whois_resolver"`
}

// DB holds the PostgreSQL connection settings. All fields come from the
// environment and all of them are mandatory.
type DB struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
}

func Default() Config {
	var c Config
	c.Log.STDOUT = true
	c.TimeoutSeconds = 5
	c.ProbePort = 53
	c.RecursionDomain = "google.com"
	c.LatencyDomain = "google.com"
	c.DNSSECDomain = "iifon.org"
	c.MaliciousDomain = "008k.com"
	c.FastThreshold = 0.05
	c.NormalThreshold = 0.2
	c.ISPOrgKeywords = []string{"telecom", "broadband", "communications", "isp"}
	c.InputFile = "servers.json"
	c.DelaySeconds = 0.1
	c.WhoisBatchSize = 100
	c.WhoisDelaySeconds = 1
	c.WhoisResolver = "1.1.1.1:53"
	return c
}

// Load merges a JSON config file over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (Config, error) {
	c := Default()
	if len(path) == 0 {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}

	if err = json.Unmarshal(raw, &c); err != nil {
		return c, err
	}

	return c, c.validate()
}

func (c Config) validate() error {
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds %v must be positive", c.TimeoutSeconds)
	}
	if c.ProbePort <= 0 || c.ProbePort > 65535 {
		return fmt.Errorf("probe_port %d out of range", c.ProbePort)
	}
	if c.FastThreshold <= 0 || c.NormalThreshold <= c.FastThreshold {
		return fmt.Errorf("thresholds fast=%v normal=%v must satisfy 0 < fast < normal", c.FastThreshold, c.NormalThreshold)
	}
	for _, domain := range []string{c.RecursionDomain, c.LatencyDomain, c.DNSSECDomain, c.MaliciousDomain} {
		if len(domain) == 0 {
			return fmt.Errorf("test domain missing")
		}
	}
	return nil
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds * float64(time.Second))
}

func (c Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

func (c Config) WhoisDelay() time.Duration {
	return time.Duration(c.WhoisDelaySeconds * float64(time.Second))
}

// DBFromEnv reads the five mandatory DB_* variables. Any missing variable
// is reported so startup can fail with a clear message.
func DBFromEnv() (DB, error) {
	var db = DB{
		Host:     os.Getenv("DB_HOST"),
		Port:     os.Getenv("DB_PORT"),
		Name:     os.Getenv("DB_NAME"),
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
	}

	for _, kv := range []struct{ key, value string }{
		{"DB_HOST", db.Host},
		{"DB_PORT", db.Port},
		{"DB_NAME", db.Name},
		{"DB_USER", db.User},
		{"DB_PASSWORD", db.Password},
	} {
		if len(kv.value) == 0 {
			return DB{}, fmt.Errorf("environment variable %s not set", kv.key)
		}
	}

	return db, nil
}

func (d DB) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name)
}
