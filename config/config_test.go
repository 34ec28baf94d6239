package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goprobe.json")
	raw := `{"timeout_seconds": 2, "malicious_domain": "bad.example", "delay_seconds": 0}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.TimeoutSeconds != 2 {
		t.Errorf("TimeoutSeconds = %v, want 2", c.TimeoutSeconds)
	}
	if c.MaliciousDomain != "bad.example" {
		t.Errorf("MaliciousDomain = %q, want bad.example", c.MaliciousDomain)
	}
	// untouched fields keep their defaults
	if c.RecursionDomain != Default().RecursionDomain {
		t.Errorf("RecursionDomain = %q, want default", c.RecursionDomain)
	}
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		raw  string
	}{
		{name: "zero timeout", raw: `{"timeout_seconds": 0}`},
		{name: "inverted thresholds", raw: `{"fast_threshold": 1, "normal_threshold": 0.5}`},
		{name: "empty domain", raw: `{"dnssec_domain": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if err := os.WriteFile(path, []byte(tt.raw), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("Load() expected validation error")
			}
		})
	}
}

func TestDBFromEnv(t *testing.T) {
	keys := []string{"DB_HOST", "DB_PORT", "DB_NAME", "DB_USER", "DB_PASSWORD"}
	for _, k := range keys {
		t.Setenv(k, "x")
	}

	db, err := DBFromEnv()
	if err != nil {
		t.Fatalf("DBFromEnv() error = %v", err)
	}
	if len(db.DSN()) == 0 {
		t.Error("DSN() empty")
	}

	t.Setenv("DB_PASSWORD", "")
	if _, err = DBFromEnv(); err == nil {
		t.Error("DBFromEnv() expected error for missing DB_PASSWORD")
	}
}
