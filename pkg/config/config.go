package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all process-level configuration for the proxy.
type Config struct {
	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Chain & EVM program configuration
	ChainRPCURL    string
	EVMProgramID   string
	ChainID        int64
	EmulatorRPCURL string

	// Indexer database configuration (individual fields, mirrors client.go)
	DBHost            string
	DBPort            int
	DBUser            string
	DBPassword        string
	DBName            string
	DBSSLMode         string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Indexer Loop (C7, §4.7/§6)
	StartSlot        string // LATEST | CONTINUE | <integer>
	IndexerCheckMsec int

	// Strategy Ladder (C4, §4.4)
	RetryOnFail     int
	TreasuryPoolMax uint32

	// Gas-less permit thresholds (§6 CLI surface; permit lookup itself
	// is an external collaborator per §1 Non-goals)
	GasLessTxMaxNonce uint64
	GasLessTxMaxGas   uint64

	// API surface gating (§6)
	EnableSendTxAPI              bool
	EnablePrivateAPI             bool
	UseEarliestBlockIfZeroPassed bool

	// Operator resources (§3 OpRes pool)
	OperatorKeypairPaths []string

	LogLevel string
}

// Load populates Config from the process environment, following the
// teacher's getEnv/getEnvInt/getEnvBool/getEnvDuration helper idiom.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		ChainRPCURL:    getEnv("CHAIN_RPC_URL", ""),
		EVMProgramID:   getEnv("EVM_PROGRAM_ID", ""),
		ChainID:        getEnvInt64("CHAIN_ID", 245022934),
		EmulatorRPCURL: getEnv("EMULATOR_RPC_URL", ""),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnvInt("DB_PORT", 5432),
		DBUser:            getEnv("DB_USER", "neon_proxy"),
		DBPassword:        getEnv("DB_PASSWORD", ""),
		DBName:            getEnv("DB_NAME", "neon_proxy_indexer"),
		DBSSLMode:         getEnv("DB_SSL_MODE", "require"),
		DBMaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),

		StartSlot:        getEnv("START_SLOT", "LATEST"),
		IndexerCheckMsec: getEnvInt("INDEXER_CHECK_MSEC", 200),

		RetryOnFail:     getEnvInt("RETRY_ON_FAIL", 3),
		TreasuryPoolMax: uint32(getEnvInt("TREASURY_POOL_MAX", 128)),

		GasLessTxMaxNonce: uint64(getEnvInt("GAS_LESS_TX_MAX_NONCE", 0)),
		GasLessTxMaxGas:   uint64(getEnvInt("GAS_LESS_TX_MAX_GAS", 0)),

		EnableSendTxAPI:              getEnvBool("ENABLE_SEND_TX_API", true),
		EnablePrivateAPI:             getEnvBool("ENABLE_PRIVATE_API", false),
		UseEarliestBlockIfZeroPassed: getEnvBool("USE_EARLIEST_BLOCK_IF_0_PASSED", false),

		OperatorKeypairPaths: parseCommaSeparated(getEnv("OPERATOR_KEYPAIR_PATHS", "")),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate checks that configuration required to actually serve traffic
// is present. Must be called after Load() before starting the service.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainRPCURL == "" {
		errs = append(errs, "CHAIN_RPC_URL is required but not set")
	}
	if c.EVMProgramID == "" {
		errs = append(errs, "EVM_PROGRAM_ID is required but not set")
	}
	if c.EmulatorRPCURL == "" {
		errs = append(errs, "EMULATOR_RPC_URL is required but not set")
	}
	if c.EnableSendTxAPI && len(c.OperatorKeypairPaths) == 0 {
		errs = append(errs, "OPERATOR_KEYPAIR_PATHS must name at least one operator resource when ENABLE_SEND_TX_API is true")
	}

	if _, err := parseStartSlotRaw(c.StartSlot); err != nil {
		errs = append(errs, fmt.Sprintf("START_SLOT: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development, where nothing submits to a real Chain.
func (c *Config) ValidateForDevelopment() error {
	if _, err := parseStartSlotRaw(c.StartSlot); err != nil {
		return fmt.Errorf("development configuration validation failed:\n  - START_SLOT: %v", err)
	}
	return nil
}

func parseStartSlotRaw(raw string) (string, error) {
	switch raw {
	case "LATEST", "CONTINUE":
		return raw, nil
	default:
		if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
			return "", fmt.Errorf("must be LATEST, CONTINUE, or a decimal integer, got %q", raw)
		}
		return raw, nil
	}
}

func parseCommaSeparated(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
