package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BORROWBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
//
// A [networks.<name>] table in the file replaces the default table of the
// same name as a whole.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	return &cfg, nil
}

func normalize(cfg *Config) {
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Network = strings.ToLower(strings.TrimSpace(cfg.Network))
	cfg.Borrow.RateMode = strings.ToLower(strings.TrimSpace(cfg.Borrow.RateMode))

	nets := make(map[string]NetworkConfig, len(cfg.Networks))
	for name, n := range cfg.Networks {
		nets[strings.ToLower(strings.TrimSpace(name))] = n
	}
	cfg.Networks = nets
}

// applyEnvOverrides reads well-known BORROWBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "BORROWBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeyFile, "BORROWBOT_WALLET_KEY_FILE")
	setStr(&cfg.Wallet.KeyPassword, "BORROWBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "BORROWBOT_CHAIN_RPC_URL")
	setInt(&cfg.Chain.Confirmations, "BORROWBOT_CHAIN_CONFIRMATIONS")
	setDuration(&cfg.Chain.PollInterval, "BORROWBOT_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.ConfirmTimeout, "BORROWBOT_CHAIN_CONFIRM_TIMEOUT")
	setDuration(&cfg.Chain.ReadTimeout, "BORROWBOT_CHAIN_READ_TIMEOUT")
	setInt(&cfg.Chain.GasBufferPercent, "BORROWBOT_CHAIN_GAS_BUFFER_PERCENT")
	setDuration(&cfg.Chain.MaxOracleStaleness, "BORROWBOT_CHAIN_MAX_ORACLE_STALENESS")

	// ── Borrow ──
	setStr(&cfg.Borrow.WrapAmount, "BORROWBOT_BORROW_WRAP_AMOUNT")
	setStr(&cfg.Borrow.SafetyFactor, "BORROWBOT_BORROW_SAFETY_FACTOR")
	setStr(&cfg.Borrow.RateMode, "BORROWBOT_BORROW_RATE_MODE")
	setBool(&cfg.Borrow.ApproveDebt, "BORROWBOT_BORROW_APPROVE_DEBT")
	setBool(&cfg.Borrow.Repay, "BORROWBOT_BORROW_REPAY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "BORROWBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "BORROWBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "BORROWBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BORROWBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BORROWBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BORROWBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BORROWBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BORROWBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BORROWBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BORROWBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BORROWBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BORROWBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BORROWBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BORROWBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BORROWBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BORROWBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BORROWBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BORROWBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "BORROWBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "BORROWBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "BORROWBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BORROWBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "BORROWBOT_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "BORROWBOT_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "BORROWBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BORROWBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BORROWBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BORROWBOT_S3_FORCE_PATH_STYLE")

	// ── Metrics ──
	setStr(&cfg.Metrics.PushgatewayURL, "BORROWBOT_METRICS_PUSHGATEWAY_URL")
	setStr(&cfg.Metrics.Job, "BORROWBOT_METRICS_JOB")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BORROWBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BORROWBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BORROWBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BORROWBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Network, "BORROWBOT_NETWORK")
	setStr(&cfg.Mode, "BORROWBOT_MODE")
	setStr(&cfg.LogLevel, "BORROWBOT_LOG_LEVEL")
	setStr(&cfg.LogFile, "BORROWBOT_LOG_FILE")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
