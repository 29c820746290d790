// Package config loads process configuration from the environment, with an
// optional YAML file and .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds configuration shared by the api and reconciler binaries
type Config struct {
	Port               int           `yaml:"port"`
	StoreBackend       string        `yaml:"storeBackend"`
	DatabaseURL        string        `yaml:"databaseUrl"`
	BadgerPath         string        `yaml:"badgerPath"`
	ProviderBaseURL    string        `yaml:"providerBaseUrl"`
	JWKSURL            string        `yaml:"jwksUrl"`
	AdminEmails        []string      `yaml:"adminEmails"`
	AppBaseURL         string        `yaml:"appBaseUrl"`
	NATSURL            string        `yaml:"natsUrl"`
	CORSOrigins        []string      `yaml:"corsOrigins"`
	TickInterval       time.Duration `yaml:"tickInterval"`
	EmbeddedReconciler bool          `yaml:"embeddedReconciler"`
}

// Default returns the baseline configuration
func Default() *Config {
	return &Config{
		Port:            8080,
		StoreBackend:    "postgres",
		DatabaseURL:     "postgres://localhost:5432/gpuctl?sslmode=disable",
		BadgerPath:      "/var/lib/gpuctl/badger",
		ProviderBaseURL: "https://cloud.lambdalabs.com/api/v1",
		AppBaseURL:      "http://localhost:8080",
		CORSOrigins:     []string{"http://localhost:3000"},
		TickInterval:    1 * time.Minute,
	}
}

// Load builds the configuration: defaults, then the optional YAML file named
// by CONFIG_FILE, then environment variables
func Load() (*Config, error) {
	// .env is a local-dev convenience; absence is fine
	_ = godotenv.Load()

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("BADGER_PATH"); v != "" {
		cfg.BadgerPath = v
	}
	if v := os.Getenv("PROVIDER_BASE_URL"); v != "" {
		cfg.ProviderBaseURL = v
	}
	if v := os.Getenv("JWKS_URL"); v != "" {
		cfg.JWKSURL = v
	}
	if v := os.Getenv("ADMIN_EMAILS"); v != "" {
		cfg.AdminEmails = splitList(v)
	}
	if v := os.Getenv("APP_BASE_URL"); v != "" {
		cfg.AppBaseURL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TICK_INTERVAL %q", v)
		}
		cfg.TickInterval = d
	}
	if v := os.Getenv("RECONCILER_EMBEDDED"); v != "" {
		cfg.EmbeddedReconciler = v == "true" || v == "1"
	}

	switch cfg.StoreBackend {
	case "postgres", "badger", "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
