package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrNoRPC is returned when neither RPC_URL nor INFURA_KEY is set.
var ErrNoRPC = errors.New("no RPC endpoint configured: set RPC_URL or INFURA_KEY")

// Config holds the runtime settings read from the environment
type Config struct {
	Chain    ChainConfig
	Explorer ExplorerConfig
	Compiler CompilerConfig
	Verify   VerifyConfig
	Storage  StorageConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
	Status   StatusConfig
}

// ChainConfig holds ledger connection settings
type ChainConfig struct {
	PrivateKey string
	RPCURL     string
	InfuraKey  string
	// ChainID overrides the chain ID derived from the plan's network.
	ChainID int64
}

// ExplorerConfig holds block explorer settings
type ExplorerConfig struct {
	APIKey string
	// URL overrides the endpoint derived from the plan's network.
	URL string
	// RequestsPerSecond caps explorer API calls; zero disables the cap.
	RequestsPerSecond float64
}

// CompilerConfig holds compiler toolchain settings
type CompilerConfig struct {
	SolcPath string
}

// VerifyConfig bounds the verification poll loop
type VerifyConfig struct {
	PollInterval time.Duration
	MaxPolls     int
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type     string // "sqlite", "postgres" or "none"
	Postgres PostgresConfig
	SQLite   SQLiteConfig
}

// PostgresConfig holds Postgres connection settings
type PostgresConfig struct {
	URL string
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// MetricsConfig holds Prometheus settings
type MetricsConfig struct {
	Enabled bool
}

// StatusConfig holds the optional status server settings
type StatusConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Chain: ChainConfig{
			PrivateKey: getEnv("PRIVATE_KEY", ""),
			RPCURL:     getEnv("RPC_URL", ""),
			InfuraKey:  getEnv("INFURA_KEY", ""),
			ChainID:    int64(getEnvInt("CHAIN_ID", 0)),
		},
		Explorer: ExplorerConfig{
			APIKey:            getEnv("ETHERSCAN_KEY", ""),
			URL:               getEnv("EXPLORER_URL", ""),
			RequestsPerSecond: getEnvFloat("EXPLORER_RPS", 5),
		},
		Compiler: CompilerConfig{
			SolcPath: getEnv("SOLC_PATH", "solc"),
		},
		Verify: VerifyConfig{
			PollInterval: getEnvDuration("VERIFY_POLL_INTERVAL", 5*time.Second),
			MaxPolls:     getEnvInt("VERIFY_MAX_POLLS", 60),
		},
		Storage: StorageConfig{
			Type: getEnv("STORAGE_TYPE", "sqlite"),
			Postgres: PostgresConfig{
				URL: getEnv("DATABASE_URL", ""),
			},
			SQLite: SQLiteConfig{
				Path: getEnv("SQLITE_PATH", "./data/contradeploy.db"),
			},
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", false),
		},
		Status: StatusConfig{
			Addr: getEnv("STATUS_ADDR", ""),
		},
	}

	// If DATABASE_URL is set, default to postgres
	if cfg.Storage.Postgres.URL != "" && cfg.Storage.Type == "sqlite" {
		cfg.Storage.Type = "postgres"
	}

	switch cfg.Storage.Type {
	case "sqlite", "postgres", "none":
	default:
		return nil, fmt.Errorf("invalid STORAGE_TYPE %q", cfg.Storage.Type)
	}
	if cfg.Verify.MaxPolls <= 0 {
		return nil, fmt.Errorf("VERIFY_MAX_POLLS must be positive, got %d", cfg.Verify.MaxPolls)
	}

	return cfg, nil
}

// RPCURLFor returns the ledger endpoint for network. RPC_URL wins over an
// Infura project key.
func (c ChainConfig) RPCURLFor(network string) (string, error) {
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	if c.InfuraKey != "" {
		return fmt.Sprintf("https://%s.infura.io/v3/%s", network, c.InfuraKey), nil
	}
	return "", ErrNoRPC
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
