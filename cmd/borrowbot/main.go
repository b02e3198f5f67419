// Command borrowbot runs one collateralized borrow sequence against an Aave
// v3 pool: it loads configuration, validates it, wires dependencies and
// executes the configured mode once. The exit code is 0 when the run reached
// its final state and 1 otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alanyoungcy/borrowbot/internal/app"
	"github.com/alanyoungcy/borrowbot/internal/config"
	"github.com/alanyoungcy/borrowbot/internal/crypto"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (optional; defaults and BORROWBOT_* env apply)")
	network := flag.String("network", "", "network name, overrides the config")
	mode := flag.String("mode", "", "wrap, position or borrow; overrides the config")
	encryptKey := flag.String("encrypt-key", "", "write the configured private key, encrypted with the key password, to this path and exit")
	flag.Parse()

	logger := newLogger(os.Stdout, "info", "")
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		return 1
	}
	if *network != "" {
		cfg.Network = strings.ToLower(*network)
	}
	if *mode != "" {
		cfg.Mode = strings.ToLower(*mode)
	}

	logger = newLogger(os.Stdout, cfg.LogLevel, cfg.LogFile)
	slog.SetDefault(logger)

	if *encryptKey != "" {
		if err := crypto.WriteKeyFile(*encryptKey, cfg.Wallet.PrivateKey, cfg.Wallet.KeyPassword); err != nil {
			logger.Error("failed to write key file", slog.String("error", err.Error()))
			return 1
		}
		logger.Info("encrypted key written", slog.String("path", *encryptKey))
		return 0
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}
	logger.Debug("configuration", slog.Any("config", config.RedactedConfig(cfg)))

	logger.Info("borrowbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("network", cfg.Network),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("run interrupted", slog.String("error", err.Error()))
		} else {
			logger.Error("run failed", slog.String("error", err.Error()))
		}
		fmt.Fprintf(os.Stderr, "borrowbot: %v\n", err)
		return 1
	}

	logger.Info("borrowbot finished")
	return 0
}

// newLogger builds the JSON logger. When file is set, output is also written
// to a size-rotated log file.
func newLogger(stdout io.Writer, level, file string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	w := stdout
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err == nil {
			w = io.MultiWriter(stdout, &lumberjack.Logger{
				Filename:   file,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
				Compress:   true,
			})
		}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}
