package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"juxction/core"
	"juxction/core/providers"
	"juxction/logger"
	"juxction/steam"
	"juxction/storage"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Core     core.Config              `yaml:",inline"`
	Supabase providers.SupabaseConfig `yaml:"supabase"`
	Steam    steam.Config             `yaml:"steam"`
	Cache    CacheConfig              `yaml:"cache"`
	Accounts AccountsConfig           `yaml:"accounts"`
	Log      logger.Config            `yaml:"log"`
}

type CacheConfig struct {
	Backend    string `yaml:"backend"` // sqlite | memory
	SQLitePath string `yaml:"sqlite_path"`
}

type AccountsConfig struct {
	Backend     string            `yaml:"backend"` // postgrest | postgres | ydb
	PostgresDSN string            `yaml:"postgres_dsn"`
	YDB         storage.YDBConfig `yaml:"ydb"`
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Core:     core.DefaultConfig(),
		Cache:    CacheConfig{Backend: "sqlite"},
		Accounts: AccountsConfig{Backend: "postgrest"},
		Log:      logger.Config{Env: "dev", Level: "info", ServiceName: "juxction"},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error.
func loadConfig(path string) (*AppConfig, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if cfg.Cache.SQLitePath == "" {
		cfg.Cache.SQLitePath = defaultSQLitePath()
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	setFromEnv(&cfg.Supabase.URL, "SUPABASE_URL", "VITE_SUPABASE_URL")
	setFromEnv(&cfg.Supabase.AnonKey, "SUPABASE_ANON_KEY", "VITE_SUPABASE_ANON_KEY")
	setFromEnv(&cfg.Supabase.JWTSecret, "SUPABASE_JWT_SECRET")
	setFromEnv(&cfg.Steam.APIKey, "STEAM_API_KEY")
	setFromEnv(&cfg.Core.Crypto.EncryptionKey, "JUXCTION_ENCRYPTION_KEY")
	setFromEnv(&cfg.Accounts.PostgresDSN, "DATABASE_URL")
	setFromEnv(&cfg.Log.Level, "LOG_LEVEL")
}

// setFromEnv takes the first non-empty variable among keys.
func setFromEnv(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

func (c *AppConfig) validate() error {
	if c.Supabase.URL == "" || c.Supabase.AnonKey == "" {
		return errors.New("supabase url and anon key are required (SUPABASE_URL, SUPABASE_ANON_KEY)")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unsupported cache backend %q (supported: sqlite, memory)", c.Cache.Backend)
	}
	switch strings.ToLower(c.Accounts.Backend) {
	case "postgrest":
	case "postgres":
		if c.Accounts.PostgresDSN == "" {
			return errors.New("accounts.postgres_dsn is required for the postgres backend")
		}
	case "ydb":
		if c.Accounts.YDB.DSN == "" {
			return errors.New("accounts.ydb.dsn is required for the ydb backend")
		}
	default:
		return fmt.Errorf("unsupported accounts backend %q (supported: postgrest, postgres, ydb)", c.Accounts.Backend)
	}
	return nil
}

func defaultSQLitePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "juxction", "juxction.db")
}
