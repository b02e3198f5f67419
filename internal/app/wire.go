package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/borrowbot/internal/blob/s3"
	"github.com/alanyoungcy/borrowbot/internal/borrow"
	"github.com/alanyoungcy/borrowbot/internal/cache/redis"
	"github.com/alanyoungcy/borrowbot/internal/chain"
	"github.com/alanyoungcy/borrowbot/internal/config"
	"github.com/alanyoungcy/borrowbot/internal/crypto"
	"github.com/alanyoungcy/borrowbot/internal/domain"
	"github.com/alanyoungcy/borrowbot/internal/metrics"
	"github.com/alanyoungcy/borrowbot/internal/network"
	"github.com/alanyoungcy/borrowbot/internal/notify"
	"github.com/alanyoungcy/borrowbot/internal/platform/aave"
	"github.com/alanyoungcy/borrowbot/internal/platform/chainlink"
	"github.com/alanyoungcy/borrowbot/internal/platform/erc20"
	"github.com/alanyoungcy/borrowbot/internal/store/postgres"
)

// RunLocker serialises runs per (network, account).
type RunLocker interface {
	AcquireRun(ctx context.Context, network, account string, ttl time.Duration) (func(), error)
}

// Dependencies bundles everything a mode needs. The chain-facing adapters are
// always present; the backends below them are nil unless enabled in config.
type Dependencies struct {
	Addresses domain.NetworkAddresses
	Account   common.Address

	// Chain adapters
	Wrapper  borrow.Wrapper
	Approver borrow.Approver
	Pool     borrow.LendingPool
	Oracle   borrow.PriceOracle
	Receipts borrow.ReceiptLookup

	// Optional backends
	Journal domain.RunJournal
	Audit   domain.AuditStore
	Locks   RunLocker
	Reports domain.BlobWriter
	Metrics *metrics.Recorder

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Network and signer (no I/O yet) ---
	registry, err := network.NewRegistry(networkEntries(cfg.Networks))
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	addrs, err := registry.Lookup(cfg.Network)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Addresses = addrs

	signer, err := crypto.LoadSigner(crypto.KeySource{
		RawKey:   cfg.Wallet.PrivateKey,
		KeyFile:  cfg.Wallet.KeyFile,
		Password: cfg.Wallet.KeyPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: signer: %w", err)
	}
	deps.Account = signer.Address()

	rateMode, err := aave.ParseRateMode(cfg.Borrow.RateMode)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	// --- RPC ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL, addrs.ChainID)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	closers = append(closers, client.Close)

	tx := chain.NewTransactor(client, signer, chain.Options{
		ChainID:          addrs.ChainID,
		Confirmations:    uint64(cfg.Chain.Confirmations),
		PollInterval:     cfg.Chain.PollInterval.Duration,
		ConfirmTimeout:   cfg.Chain.ConfirmTimeout.Duration,
		ReadTimeout:      cfg.Chain.ReadTimeout.Duration,
		GasBufferPercent: uint64(cfg.Chain.GasBufferPercent),
	}, logger)

	pool, err := aave.ResolvePool(ctx, tx, addrs.PoolAddressesProvider, rateMode, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}
	deps.Pool = pool
	deps.Wrapper = erc20.NewWrapper(tx, addrs.WrappedNative, logger)
	deps.Approver = erc20.NewApprover(tx, logger)
	deps.Oracle = chainlink.NewFeed(tx, cfg.Chain.MaxOracleStaleness.Duration, logger)
	deps.Receipts = tx

	// --- PostgreSQL run journal ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.Journal = postgres.NewRunStore(pgClient.Pool())
		deps.Audit = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- Redis run lock ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- S3 run reports ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: %w", err)
		}
		deps.Reports = s3blob.NewWriter(s3Client, cfg.S3.Prefix)
	}

	// --- Metrics ---
	deps.Metrics = metrics.New(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job, addrs.Name, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

func networkEntries(in map[string]config.NetworkConfig) map[string]network.Entry {
	out := make(map[string]network.Entry, len(in))
	for name, n := range in {
		out[name] = network.Entry{
			ChainID:               n.ChainID,
			WrappedNative:         n.WrappedNative,
			DebtToken:             n.DebtToken,
			PriceFeed:             n.PriceFeed,
			PoolAddressesProvider: n.PoolAddressesProvider,
		}
	}
	return out
}
