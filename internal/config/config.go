// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Główny config aplikacji
type Config struct {
	AutoStart    bool                       `json:"auto_start"` // integracje tła startują razem z procesem
	LogLevel     string                     `json:"log_level"`
	HTTP         HTTPConfig                 `json:"http"`
	Database     DatabaseConfig             `json:"database"`
	Sync         SyncConfig                 `json:"sync"`
	Export       ExportConfig               `json:"export"`
	Redis        RedisConfig                `json:"redis"`
	Integrations map[string]json.RawMessage `json:"integrations"` // nazwa -> surowy JSON integracji
}

type HTTPConfig struct {
	Listen           string `json:"listen"`
	PollIntervalSec  int    `json:"poll_interval_sec"`  // podpowiedź dla klienta portalu
	PollTimeoutMin   int    `json:"poll_timeout_min"`   // po tylu minutach UI przestaje pytać
	ShutdownTimeoutS int    `json:"shutdown_timeout_s"` // graceful stop serwera
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // sqlite | sqlite-pure | mysql | postgres
	DSN    string `json:"dsn"`    // pusty dla sqlite = plik w katalogu aplikacji
}

type SyncConfig struct {
	Workers                int     `json:"workers"`
	RetryAttempts          int     `json:"retry_attempts"`
	RetryBackoffMs         int     `json:"retry_backoff_ms"`
	MaxConsecutiveFailures int     `json:"max_consecutive_failures"`
	PreviewTTLMinutes      int     `json:"preview_ttl_minutes"`
	RemoteTimeoutSec       int     `json:"remote_timeout_sec"`
	RemoteRequestsPerSec   float64 `json:"remote_requests_per_sec"`
	RunTimeoutMinutes      int     `json:"run_timeout_minutes"`
}

type ExportConfig struct {
	MaxProducts         int    `json:"max_products"`
	RateLimitPerHour    int    `json:"rate_limit_per_hour"`
	IncludeSupplierInfo bool   `json:"include_supplier_info"`
	SupplierExternalID  string `json:"supplier_external_id"` // np. __import__.supplier_partner
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTLMin   int    `json:"ttl_min"`
}

// Przykładowe configi integracji (używane do domyślnego JSON-a)
type importerDefaults struct {
	WatchDir string `json:"watch_dir"`
	PollSec  int    `json:"poll_sec"`
}

type reconcilerDefaults struct {
	PollSec  int `json:"poll_sec"`
	PageSize int `json:"page_size"`
}

type janitorDefaults struct {
	PollSec         int `json:"poll_sec"`
	KeepStatusMins  int `json:"keep_status_minutes"`
	KeepHistoryDays int `json:"keep_history_days"`
}

func Default() *Config {
	rawImp, _ := json.Marshal(importerDefaults{WatchDir: "~/catalog2erp/feeds", PollSec: 30})
	rawRec, _ := json.Marshal(reconcilerDefaults{PollSec: 3600, PageSize: 200})
	rawJan, _ := json.Marshal(janitorDefaults{PollSec: 60, KeepStatusMins: 30, KeepHistoryDays: 90})

	return &Config{
		AutoStart: false,
		LogLevel:  "info",
		HTTP: HTTPConfig{
			Listen:           "127.0.0.1:8069",
			PollIntervalSec:  2,
			PollTimeoutMin:   10,
			ShutdownTimeoutS: 10,
		},
		Database: DatabaseConfig{Driver: "sqlite"},
		Sync: SyncConfig{
			Workers:                2,
			RetryAttempts:          3,
			RetryBackoffMs:         500,
			MaxConsecutiveFailures: 10,
			PreviewTTLMinutes:      30,
			RemoteTimeoutSec:       30,
			RemoteRequestsPerSec:   10,
			RunTimeoutMinutes:      120,
		},
		Export: ExportConfig{
			MaxProducts:         1000,
			RateLimitPerHour:    10,
			IncludeSupplierInfo: false,
			SupplierExternalID:  "__import__.supplier_partner",
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379", TTLMin: 60},
		Integrations: map[string]json.RawMessage{
			"importer":   rawImp,
			"reconciler": rawRec,
			"janitor":    rawJan,
		},
	}
}

func LoadOrCreate(path string) (*Config, bool, error) {
	// upewnij się, że katalog istnieje
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("save default config: %w", err)
			}
			applyEnv(cfg, filepath.Dir(path))
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	cfg.Integrations = nil
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, false, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Integrations == nil {
		cfg.Integrations = map[string]json.RawMessage{}
	}
	applyEnv(cfg, filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// applyEnv nadpisuje wybrane pola zmiennymi środowiskowymi (.env obok configa też się liczy).
func applyEnv(cfg *Config, dir string) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	if v := os.Getenv("CATALOG_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("CATALOG_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CATALOG_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("CATALOG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CATALOG_SYNC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.Workers = n
		}
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite-pure", "mysql", "postgres":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if (c.Database.Driver == "mysql" || c.Database.Driver == "postgres") && c.Database.DSN == "" {
		return fmt.Errorf("config: database.dsn required for %s", c.Database.Driver)
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("config: sync.workers must be > 0")
	}
	if c.Sync.RetryAttempts < 0 {
		return fmt.Errorf("config: sync.retry_attempts must be >= 0")
	}
	return nil
}

// Helper do odczytu konkretnej integracji do struktury docelowej
func (c *Config) UnmarshalIntegration(name string, v any) error {
	raw, ok := c.Integrations[name]
	if !ok {
		return fmt.Errorf("integration %q missing in config", name)
	}
	return json.Unmarshal(raw, v)
}

func (s SyncConfig) PreviewTTL() time.Duration {
	if s.PreviewTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.PreviewTTLMinutes) * time.Minute
}

func (s SyncConfig) RemoteTimeout() time.Duration {
	if s.RemoteTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.RemoteTimeoutSec) * time.Second
}

func (s SyncConfig) RetryBackoff() time.Duration {
	if s.RetryBackoffMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(s.RetryBackoffMs) * time.Millisecond
}

func (s SyncConfig) RunTimeout() time.Duration {
	if s.RunTimeoutMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(s.RunTimeoutMinutes) * time.Minute
}
