package store

import (
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/treemana/goprobe/config"
	"github.com/treemana/goprobe/model"
)

// Store owns the database connection and the schema. Nothing outside this
// package touches a raw connection handle.
type Store struct {
	db *gorm.DB
}

func Open(cfg config.DB) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// New wraps an already opened gorm handle, used by tests.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates tables and indexes when absent. Safe to call on
// every process start.
func (s *Store) EnsureSchema() error {
	return s.db.AutoMigrate(
		&model.DNSQueryLog{},
		&model.WhoisCacheEntry{},
		&model.ServerResult{},
		&model.MeasurementHost{},
	)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// retry runs fn twice before giving up, enough to ride out a dropped
// connection that the pool re-establishes.
func retry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	time.Sleep(200 * time.Millisecond)
	return fn()
}

// LogQueries appends raw query log rows in one batch.
func (s *Store) LogQueries(logs []model.DNSQueryLog) error {
	if len(logs) == 0 {
		return nil
	}
	return retry(func() error {
		return s.db.Create(&logs).Error
	})
}

// SaveResult writes one summarized result. The (server_ip, timestamp) pair
// identifies the run; saving the same run again refreshes the row instead
// of duplicating it.
func (s *Store) SaveResult(result *model.ServerResult) error {
	return retry(func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "server_ip"}, {Name: "timestamp"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"hostname", "public_ip",
				"recursive", "ra_flag",
				"latency", "responsiveness", "reliability", "responsive", "failure_reason",
				"dns_sec_validated", "ad_flag", "dns_sec_rcode",
				"malicious_blocked", "malicious_rcode",
				"isp_assigned",
				"organization", "asn", "asn_description", "country",
			}),
		}).Create(result).Error
	})
}

// GetWhois returns the cached ownership for ip, or nil when the cache has
// no entry. A miss is not an error.
func (s *Store) GetWhois(ip string) (*model.WhoisCacheEntry, error) {
	var entry model.WhoisCacheEntry
	err := s.db.Where("server_ip = ?", ip).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertWhois inserts or refreshes the single cache row for the entry's IP.
// The row level conflict clause keeps concurrent writers from losing
// updates.
func (s *Store) UpsertWhois(entry *model.WhoisCacheEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	return retry(func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "server_ip"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"organization", "asn", "asn_description", "country", "updated_at",
			}),
		}).Create(entry).Error
	})
}

// CoverageStats reports how many result-bearing IPs have a cache entry.
// CachedIPs + MissingIPs == TotalKnownIPs holds in every state.
func (s *Store) CoverageStats() (model.CoverageStats, error) {
	var stats model.CoverageStats

	err := s.db.Model(&model.ServerResult{}).
		Distinct("server_ip").
		Count(&stats.TotalKnownIPs).Error
	if err != nil {
		return stats, err
	}

	cachedIPs := s.db.Model(&model.WhoisCacheEntry{}).Select("server_ip")
	err = s.db.Model(&model.ServerResult{}).
		Where("server_ip IN (?)", cachedIPs).
		Distinct("server_ip").
		Count(&stats.CachedIPs).Error
	if err != nil {
		return stats, err
	}

	stats.MissingIPs = stats.TotalKnownIPs - stats.CachedIPs
	return stats, nil
}

// IPsWithoutWhois lists up to limit distinct result IPs that have no cache
// entry yet, the work queue of the enrichment job.
func (s *Store) IPsWithoutWhois(limit int) ([]string, error) {
	var ips []string
	cachedIPs := s.db.Model(&model.WhoisCacheEntry{}).Select("server_ip")
	err := s.db.Model(&model.ServerResult{}).
		Where("server_ip NOT IN (?)", cachedIPs).
		Distinct().
		Limit(limit).
		Pluck("server_ip", &ips).Error
	return ips, err
}

// UpsertHost records the measurement host identity, refreshing ownership
// fields and last_seen on repeat runs.
func (s *Store) UpsertHost(host *model.MeasurementHost) error {
	host.LastSeen = time.Now().UTC()
	return retry(func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "hostname"}, {Name: "public_ip"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"organization", "asn", "asn_description", "country", "last_seen",
			}),
		}).Create(host).Error
	})
}
