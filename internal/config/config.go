package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/plagtech/spraay-solana-gateway/internal/domain/model"
	"github.com/shopspring/decimal"
)

type Config struct {
	DB       DBConfig
	Redis    RedisConfig
	Solana   SolanaConfig
	Treasury TreasuryConfig
	Batch    BatchConfig
	RPC      RPCConfig
	Tokens   TokenConfig
	Alert    AlertConfig
	Tracing  TracingConfig
	Server   ServerConfig
	Log      LogConfig
}

// DBConfig is optional; an empty URL disables the batch audit ledger.
type DBConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

// RedisConfig is optional; an empty URL keeps idempotency keys in memory.
type RedisConfig struct {
	URL            string
	IdempotencyTTL time.Duration
}

type SolanaConfig struct {
	RPCURL  string
	Network model.Network
}

type TreasuryConfig struct {
	PrivateKey Secret
	Wallet     string
}

type BatchConfig struct {
	MaxRecipients         int
	MaxInstructionsNative int
	MaxInstructionsToken  int
	ResolveConcurrency    int
	ConfirmPollInterval   time.Duration
	ConfirmTimeout        time.Duration
	ServiceFeePercent     decimal.Decimal
}

type RPCConfig struct {
	Timeout                 time.Duration
	RateLimitRPS            float64
	RateLimitBurst          int
	ReadRetries             int
	ReadRetryBaseDelay      time.Duration
	BreakerFailureThreshold int
	BreakerOpenTimeout      time.Duration
	MintCacheSize           int
	MintCacheTTL            time.Duration
}

type TokenConfig struct {
	USDCMintMainnet string
	USDCMintDevnet  string
	RegistryPath    string
	Registry        *TokenRegistry
}

type AlertConfig struct {
	SlackWebhookURL string
	WebhookURL      string
	Cooldown        time.Duration
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type ServerConfig struct {
	Port            int
	RateLimitRPS    float64
	RateLimitBurst  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

type LogConfig struct {
	Level string
}

// Secret holds a credential that must never reach logs.
type Secret string

func (s Secret) String() string { return "[REDACTED]" }

func (s Secret) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

// Reveal returns the raw value.
func (s Secret) Reveal() string { return string(s) }

const (
	defaultUSDCMintMainnet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	defaultUSDCMintDevnet  = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

	// Every token recipient group may be [createATA, transfer].
	minInstructionsPerTx = 2
)

func defaultRPCURL(network model.Network) string {
	switch network {
	case model.NetworkMainnetBeta:
		return "https://api.mainnet-beta.solana.com"
	case model.NetworkTestnet:
		return "https://api.testnet.solana.com"
	default:
		return "https://api.devnet.solana.com"
	}
}

func Load() (*Config, error) {
	network := model.Network(getEnv("SOLANA_NETWORK", string(model.NetworkDevnet)))

	cfg := &Config{
		DB: DBConfig{
			URL:             getEnv("DB_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
			MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL:            getEnv("REDIS_URL", ""),
			IdempotencyTTL: time.Duration(getEnvInt("IDEMPOTENCY_TTL_SEC", 86400)) * time.Second,
		},
		Solana: SolanaConfig{
			RPCURL:  getEnv("SOLANA_RPC_URL", defaultRPCURL(network)),
			Network: network,
		},
		Treasury: TreasuryConfig{
			PrivateKey: Secret(strings.TrimSpace(os.Getenv("TREASURY_PRIVATE_KEY"))),
			Wallet:     strings.TrimSpace(getEnv("TREASURY_WALLET", "")),
		},
		Batch: BatchConfig{
			MaxRecipients:         getEnvInt("MAX_RECIPIENTS", 1000),
			MaxInstructionsNative: getEnvInt("MAX_INSTRUCTIONS_PER_TX", 14),
			MaxInstructionsToken:  getEnvInt("MAX_INSTRUCTIONS_PER_TX_TOKEN", 7),
			ResolveConcurrency:    getEnvInt("RESOLVE_CONCURRENCY", 8),
			ConfirmPollInterval:   time.Duration(getEnvInt("CONFIRM_POLL_INTERVAL_MS", 500)) * time.Millisecond,
			ConfirmTimeout:        time.Duration(getEnvInt("CONFIRM_TIMEOUT_SEC", 60)) * time.Second,
			ServiceFeePercent:     getEnvDecimal("GATEWAY_FEE_PERCENT", decimal.RequireFromString("0.3")),
		},
		RPC: RPCConfig{
			Timeout:                 time.Duration(getEnvInt("RPC_TIMEOUT_SEC", 30)) * time.Second,
			RateLimitRPS:            getEnvFloat("RPC_RATE_LIMIT_RPS", 20),
			RateLimitBurst:          getEnvInt("RPC_RATE_LIMIT_BURST", 40),
			ReadRetries:             getEnvInt("RPC_READ_RETRIES", 2),
			ReadRetryBaseDelay:      time.Duration(getEnvInt("RPC_READ_RETRY_BASE_MS", 200)) * time.Millisecond,
			BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			BreakerOpenTimeout:      time.Duration(getEnvInt("BREAKER_OPEN_TIMEOUT_SEC", 30)) * time.Second,
			MintCacheSize:           getEnvInt("MINT_CACHE_SIZE", 1024),
			MintCacheTTL:            time.Duration(getEnvInt("MINT_CACHE_TTL_SEC", 3600)) * time.Second,
		},
		Tokens: TokenConfig{
			USDCMintMainnet: getEnv("USDC_MINT_MAINNET", defaultUSDCMintMainnet),
			USDCMintDevnet:  getEnv("USDC_MINT_DEVNET", defaultUSDCMintDevnet),
			RegistryPath:    getEnv("TOKEN_REGISTRY_PATH", ""),
		},
		Alert: AlertConfig{
			SlackWebhookURL: getEnv("ALERT_SLACK_WEBHOOK_URL", ""),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			Cooldown:        time.Duration(getEnvInt("ALERT_COOLDOWN_SEC", 300)) * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "localhost:4317"),
			Insecure:    getEnvBool("TRACING_INSECURE", true),
			SampleRatio: getEnvFloat("TRACING_SAMPLE_RATIO", 1),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 3000),
			RateLimitRPS:    getEnvFloat("HTTP_RATE_LIMIT_RPS", 5),
			RateLimitBurst:  getEnvInt("HTTP_RATE_LIMIT_BURST", 10),
			ReadTimeout:     time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SEC", 15)) * time.Second,
			WriteTimeout:    time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SEC", 120)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvInt("HTTP_SHUTDOWN_TIMEOUT_SEC", 30)) * time.Second,
			MaxBodyBytes:    int64(getEnvInt("HTTP_MAX_BODY_BYTES", 1<<20)),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	registry, err := LoadTokenRegistry(cfg.Tokens.RegistryPath, cfg.Solana.Network, cfg.usdcMint())
	if err != nil {
		return nil, err
	}
	cfg.Tokens.Registry = registry
	return cfg, nil
}

func (c *Config) usdcMint() string {
	if c.Solana.Network == model.NetworkMainnetBeta {
		return c.Tokens.USDCMintMainnet
	}
	return c.Tokens.USDCMintDevnet
}

func (c *Config) validate() error {
	if !c.Solana.Network.Valid() {
		return fmt.Errorf("SOLANA_NETWORK must be one of mainnet-beta, devnet, testnet (got %q)", c.Solana.Network)
	}
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}
	if c.Treasury.PrivateKey == "" {
		return fmt.Errorf("TREASURY_PRIVATE_KEY is required")
	}
	if c.Batch.MaxRecipients < 1 {
		return fmt.Errorf("MAX_RECIPIENTS must be >= 1")
	}
	if c.Batch.MaxInstructionsNative < minInstructionsPerTx {
		return fmt.Errorf("MAX_INSTRUCTIONS_PER_TX must be >= %d", minInstructionsPerTx)
	}
	if c.Batch.MaxInstructionsToken < minInstructionsPerTx {
		return fmt.Errorf("MAX_INSTRUCTIONS_PER_TX_TOKEN must be >= %d", minInstructionsPerTx)
	}
	if c.Batch.ResolveConcurrency < 1 {
		return fmt.Errorf("RESOLVE_CONCURRENCY must be >= 1")
	}
	if c.Batch.ConfirmPollInterval <= 0 || c.Batch.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_POLL_INTERVAL_MS and CONFIRM_TIMEOUT_SEC must be positive")
	}
	if c.Batch.ServiceFeePercent.IsNegative() {
		return fmt.Errorf("GATEWAY_FEE_PERCENT must not be negative")
	}
	if c.RPC.ReadRetries < 0 {
		return fmt.Errorf("RPC_READ_RETRIES must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}
