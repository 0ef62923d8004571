// Package config loads settings from the environment. A .env file in the
// working directory is read first when present; variables already set in
// the environment win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	LogLevel  string
	LogFormat string

	Backend       string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	StoreName    string
	StoreVersion string
	StoreTable   string

	IDStrategy string
	Telemetry  string

	LegacyChainID          string
	LegacyBatchName        string
	LegacyTxBuilderVersion string
	LegacySafeAddress      string
	LegacyChecksum         string

	BulkConcurrency int
	MaxImportBytes  int64

	Port               string
	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
	CORSAllowedMethods []string
	CORSDebug          bool

	OutputDir   string
	ImportToken string
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	l := log.WithFields(log.Fields{
		"package": "config",
		"func":    "Load",
	})
	if err := godotenv.Load(); err == nil {
		l.Debug("loaded .env file")
	}
	c := &Config{
		LogLevel:               getenv("LOG_LEVEL", "info"),
		LogFormat:              getenv("LOG_FORMAT", "text"),
		Backend:                getenv("STORE_BACKEND", "redis"),
		RedisHost:              getenv("REDIS_HOST", "localhost"),
		RedisPort:              getenv("REDIS_PORT", "6379"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		StoreName:              getenv("STORE_NAME", "tx-builder"),
		StoreVersion:           getenv("STORE_VERSION", "1"),
		StoreTable:             getenv("STORE_TABLE", "batch_transactions"),
		IDStrategy:             getenv("ID_STRATEGY", "random"),
		Telemetry:              getenv("TELEMETRY", "log"),
		LegacyChainID:          getenv("LEGACY_CHAIN_ID", "5"),
		LegacyBatchName:        getenv("LEGACY_BATCH_NAME", "Transactions Batch"),
		LegacyTxBuilderVersion: getenv("LEGACY_TX_BUILDER_VERSION", "1.14.1"),
		LegacySafeAddress:      getenv("LEGACY_SAFE_ADDRESS", "0x4f3e63c1B60B88eEEc2BA7551C502b0a07D857Ed"),
		LegacyChecksum:         getenv("LEGACY_CHECKSUM", "fixed"),
		Port:                   getenv("PORT", "8080"),
		CORSAllowedOrigins:     splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		CORSAllowedHeaders:     splitList(os.Getenv("CORS_ALLOWED_HEADERS")),
		CORSAllowedMethods:     splitList(os.Getenv("CORS_ALLOWED_METHODS")),
		CORSDebug:              os.Getenv("CORS_DEBUG") == "true",
		OutputDir:              getenv("OUTPUT_DIR", "."),
		ImportToken:            os.Getenv("IMPORT_TOKEN"),
	}
	var err error
	if c.RedisDB, err = atoi("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if c.BulkConcurrency, err = atoi("BULK_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	maxBytes, err := atoi("MAX_IMPORT_BYTES", 10<<20)
	if err != nil {
		return nil, err
	}
	c.MaxImportBytes = int64(maxBytes)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values with a fixed set of choices that are out of range.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value string
		allow []string
	}{
		{"LOG_FORMAT", c.LogFormat, []string{"text", "json"}},
		{"STORE_BACKEND", c.Backend, []string{"redis", "memory"}},
		{"ID_STRATEGY", c.IDStrategy, []string{"random", "uuid", "ulid"}},
		{"TELEMETRY", c.Telemetry, []string{"log", "prometheus", "none"}},
		{"LEGACY_CHECKSUM", c.LegacyChecksum, []string{"fixed", "computed"}},
	}
	for _, ch := range checks {
		if !contains(ch.allow, ch.value) {
			return fmt.Errorf("invalid %s %q: must be one of %s", ch.name, ch.value, strings.Join(ch.allow, ", "))
		}
	}
	if c.BulkConcurrency < 1 {
		return fmt.Errorf("invalid BULK_CONCURRENCY %d: must be positive", c.BulkConcurrency)
	}
	if c.MaxImportBytes < 1 {
		return fmt.Errorf("invalid MAX_IMPORT_BYTES %d: must be positive", c.MaxImportBytes)
	}
	return nil
}

// RedisAddr is host:port of the redis server.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// SetupLogging applies the log level and format to the global logger.
func (c *Config) SetupLogging() {
	ll, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		ll = log.InfoLevel
	}
	log.SetLevel(ll)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func getenv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoi(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
