// Package config defines the borrowbot configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BORROWBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig             `toml:"wallet"`
	Chain    ChainConfig              `toml:"chain"`
	Network  string                   `toml:"network"`
	Networks map[string]NetworkConfig `toml:"networks"`
	Borrow   BorrowConfig             `toml:"borrow"`
	Postgres PostgresConfig           `toml:"postgres"`
	Redis    RedisConfig              `toml:"redis"`
	S3       S3Config                 `toml:"s3"`
	Metrics  MetricsConfig            `toml:"metrics"`
	Notify   NotifyConfig             `toml:"notify"`
	Mode     string                   `toml:"mode"`
	LogLevel string                   `toml:"log_level"`
	LogFile  string                   `toml:"log_file"`
}

// WalletConfig says where the signing key comes from.
type WalletConfig struct {
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// ChainConfig holds RPC and confirmation parameters.
type ChainConfig struct {
	RPCURL           string   `toml:"rpc_url"`
	Confirmations    int      `toml:"confirmations"`
	PollInterval     duration `toml:"poll_interval"`
	ConfirmTimeout   duration `toml:"confirm_timeout"`
	ReadTimeout      duration `toml:"read_timeout"`
	GasBufferPercent int      `toml:"gas_buffer_percent"`
	// MaxOracleStaleness rejects price rounds older than this; zero disables
	// the age check.
	MaxOracleStaleness duration `toml:"max_oracle_staleness"`
}

// NetworkConfig is one [networks.<name>] table.
type NetworkConfig struct {
	ChainID               int64  `toml:"chain_id"`
	WrappedNative         string `toml:"wrapped_native"`
	DebtToken             string `toml:"debt_token"`
	PriceFeed             string `toml:"price_feed"`
	PoolAddressesProvider string `toml:"pool_addresses_provider"`
}

// BorrowConfig sizes the run.
type BorrowConfig struct {
	WrapAmount   string `toml:"wrap_amount"`
	SafetyFactor string `toml:"safety_factor"`
	RateMode     string `toml:"rate_mode"`
	ApproveDebt  bool   `toml:"approve_debt"`
	Repay        bool   `toml:"repay"`
}

// PostgresConfig holds run-journal database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the run lock.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	// LockTTL is the run lock's lease. The holder renews it while the run
	// lasts, so it only bounds how long a crashed run blocks the account.
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for run reports.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MetricsConfig points at a Prometheus Pushgateway. An empty URL disables
// the push.
type MetricsConfig struct {
	PushgatewayURL string `toml:"pushgateway_url"`
	Job            string `toml:"job"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding.
type duration struct {
	time.Duration
}

// UnmarshalText parses duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	mainnet := NetworkConfig{
		ChainID:               1,
		WrappedNative:         "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		DebtToken:             "0x6B175474E89094C44Da98b954EedeAC495271d0F",
		PriceFeed:             "0x773616E4d11A78F511299002da57A0a94577F1f4",
		PoolAddressesProvider: "0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e",
	}
	// a local mainnet fork keeps mainnet's contracts
	localhost := mainnet
	localhost.ChainID = 31337

	return Config{
		Chain: ChainConfig{
			RPCURL:             "http://127.0.0.1:8545",
			Confirmations:      1,
			PollInterval:       duration{2 * time.Second},
			ConfirmTimeout:     duration{3 * time.Minute},
			ReadTimeout:        duration{30 * time.Second},
			GasBufferPercent:   20,
			MaxOracleStaleness: duration{24 * time.Hour},
		},
		Network: "localhost",
		Networks: map[string]NetworkConfig{
			"mainnet":   mainnet,
			"localhost": localhost,
		},
		Borrow: BorrowConfig{
			WrapAmount:   "0.02",
			SafetyFactor: "0.95",
			RateMode:     "variable",
			Repay:        true,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "borrowbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  0,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   4,
			MaxRetries: 3,
			LockTTL:    duration{time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "borrowbot-reports",
			Prefix:         "runs",
			ForcePathStyle: true,
		},
		Metrics: MetricsConfig{
			Job: "borrowbot",
		},
		Notify: NotifyConfig{
			Events: []string{"run_succeeded", "run_failed"},
		},
		Mode:     "borrow",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
// minLockTTL leaves room for a renewal round trip inside a third of the lease.
const minLockTTL = 3 * time.Second

var validModes = map[string]bool{
	"wrap":     true,
	"position": true,
	"borrow":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validRateModes = map[string]bool{
	"":         true,
	"variable": true,
	"stable":   true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: wrap, position, borrow)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.PrivateKey == "" && c.Wallet.KeyFile == "" {
		errs = append(errs, "wallet: either private_key or key_file must be set")
	}
	if c.Wallet.KeyFile != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when key_file is set")
	}

	// Chain
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.Confirmations < 1 {
		errs = append(errs, "chain: confirmations must be >= 1")
	}
	if c.Chain.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "chain: confirm_timeout must be > 0")
	}
	if c.Chain.ReadTimeout.Duration <= 0 {
		errs = append(errs, "chain: read_timeout must be > 0")
	}
	if c.Chain.GasBufferPercent < 0 {
		errs = append(errs, "chain: gas_buffer_percent must be >= 0")
	}

	// Networks
	if _, ok := c.Networks[strings.ToLower(c.Network)]; !ok {
		errs = append(errs, fmt.Sprintf("network %q has no [networks.%s] table", c.Network, c.Network))
	}
	for name, n := range c.Networks {
		if n.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("networks.%s: chain_id must be positive", name))
		}
		for field, v := range map[string]string{
			"wrapped_native":          n.WrappedNative,
			"debt_token":              n.DebtToken,
			"price_feed":              n.PriceFeed,
			"pool_addresses_provider": n.PoolAddressesProvider,
		} {
			if !common.IsHexAddress(v) {
				errs = append(errs, fmt.Sprintf("networks.%s: %s %q is not an address", name, field, v))
			}
		}
	}

	// Borrow
	if w, err := decimal.NewFromString(c.Borrow.WrapAmount); err != nil || !w.IsPositive() {
		errs = append(errs, fmt.Sprintf("borrow: wrap_amount %q must be a positive decimal", c.Borrow.WrapAmount))
	}
	if f, err := decimal.NewFromString(c.Borrow.SafetyFactor); err != nil || !f.IsPositive() || f.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("borrow: safety_factor %q must be in (0, 1]", c.Borrow.SafetyFactor))
	}
	if !validRateModes[strings.ToLower(c.Borrow.RateMode)] {
		errs = append(errs, fmt.Sprintf("borrow: unknown rate_mode %q (valid: variable, stable)", c.Borrow.RateMode))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration < minLockTTL {
			errs = append(errs, fmt.Sprintf("redis: lock_ttl must be at least %s", minLockTTL))
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Metrics
	if c.Metrics.PushgatewayURL != "" && c.Metrics.Job == "" {
		errs = append(errs, "metrics: job must not be empty when pushgateway_url is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SelectedNetwork returns the active [networks.<name>] table.
func (c *Config) SelectedNetwork() (string, NetworkConfig, bool) {
	name := strings.ToLower(c.Network)
	n, ok := c.Networks[name]
	return name, n, ok
}
