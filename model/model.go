package model

import "time"

// TestType names the probe that produced a query log entry.
type TestType string

const (
	TestRecursion TestType = "recursion"
	TestLatency   TestType = "latency"
	TestDNSSEC    TestType = "dnssec"
	TestMalicious TestType = "malicious"
)

// Responsiveness classifies a server by measured latency.
type Responsiveness string

const (
	Fast         Responsiveness = "fast"
	Normal       Responsiveness = "normal"
	Slow         Responsiveness = "slow"
	Unresponsive Responsiveness = "unresponsive"
)

// Reliability tells how much the other flags of a result can be trusted.
type Reliability string

const (
	Reliable             Reliability = "reliable"
	UnreliableTimeout    Reliability = "unreliable_timeout"
	UnreliableRefused    Reliability = "unreliable_refused"
	UnreliableServerDown Reliability = "unreliable_server_down"
)

// DNSQueryLog is one raw DNS query issued against a target server.
// Rows are append-only.
type DNSQueryLog struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ServerIP       string    `gorm:"size:45;not null;index"`
	QueryType      string    `gorm:"size:10;not null"`
	QueryName      string    `gorm:"size:255;not null"`
	QueryFlags     string    `gorm:"size:64"`
	ResponseRcode  string    `gorm:"size:50;not null"`
	ResponseFlags  string    `gorm:"size:128"`
	ResponseAnswer *string   `gorm:"type:text"`
	ResponseTTL    *uint32
	ResponseTime   *float64  // seconds, nil on timeout or error
	Timestamp      time.Time `gorm:"not null;index"`
	TestType       TestType  `gorm:"size:50;not null;index"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (DNSQueryLog) TableName() string { return "dns_query_logs" }

// ServerResult summarizes one full probe sequence for one server. One row
// per (server, run); history accumulates, nothing is overwritten.
type ServerResult struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ServerIP  string    `gorm:"size:45;not null;index;uniqueIndex:idx_result_run,priority:1"`
	Hostname  string    `gorm:"size:255"`
	PublicIP  *string   `gorm:"size:45"`
	Timestamp time.Time `gorm:"not null;index;uniqueIndex:idx_result_run,priority:2"`

	Recursive bool `gorm:"not null"`
	RAFlag    bool `gorm:"not null"`

	Latency        *float64       // seconds, nil when the latency probe failed
	Responsiveness Responsiveness `gorm:"size:20;not null"`
	Reliability    Reliability    `gorm:"size:50;not null;index"`
	Responsive     bool
	FailureReason  *string `gorm:"type:text"`

	DNSSECValidated bool `gorm:"not null"`
	ADFlag          bool
	DNSSECRcode     string `gorm:"size:50"`

	// MaliciousBlocked is nil when the probe could not tell (timeout,
	// refusal), never conflated with "not blocked".
	MaliciousBlocked *bool
	MaliciousRcode   string `gorm:"size:50"`

	ISPAssigned bool `gorm:"index"`

	// WHOIS fields denormalized from whois_cache at write time.
	Organization   *string `gorm:"size:255"`
	ASN            *string `gorm:"size:20"`
	ASNDescription *string `gorm:"type:text"`
	Country        *string `gorm:"size:10"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (ServerResult) TableName() string { return "server_analysis_results" }

// WhoisCacheEntry caches registry ownership per IP. At most one row per IP;
// a missing row means unknown.
type WhoisCacheEntry struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	ServerIP       string    `gorm:"size:45;uniqueIndex;not null"`
	Organization   *string   `gorm:"size:255"`
	ASN            *string   `gorm:"size:20"`
	ASNDescription *string   `gorm:"type:text"`
	Country        *string   `gorm:"size:10"`
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

func (WhoisCacheEntry) TableName() string { return "whois_cache" }

// MeasurementHost records the identity of the machine running the probes.
type MeasurementHost struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	Hostname       string    `gorm:"size:255;not null;uniqueIndex:idx_host,priority:1"`
	PublicIP       string    `gorm:"size:45;not null;uniqueIndex:idx_host,priority:2"`
	Organization   *string   `gorm:"size:255"`
	ASN            *string   `gorm:"size:20"`
	ASNDescription *string   `gorm:"type:text"`
	Country        *string   `gorm:"size:10"`
	FirstSeen      time.Time `gorm:"autoCreateTime"`
	LastSeen       time.Time
}

func (MeasurementHost) TableName() string { return "measurement_hosts" }

// CoverageStats is the pre-cycle WHOIS cache observability snapshot.
// CachedIPs + MissingIPs always equals TotalKnownIPs.
type CoverageStats struct {
	TotalKnownIPs int64
	CachedIPs     int64
	MissingIPs    int64
}

// CycleSummary counts the outcome of one analysis cycle.
type CycleSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}
