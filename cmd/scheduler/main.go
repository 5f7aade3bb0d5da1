// Command scheduler drives the batch engine on a one-minute cadence. It
// reads its configuration from the environment (an optional .env file is
// honored for local runs) and keeps running until signalled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"algorunner/internal/broker"
	"algorunner/internal/config"
	"algorunner/internal/sched"
	"algorunner/internal/store"
)

func main() {
	logLevel := flag.String("log-level", "INFO", "log level (DEBUG, INFO, WARNING, ERROR)")
	runOnce := flag.Bool("once", false, "run a single evaluation and exit")
	flag.Parse()

	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if err := run(*runOnce, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(once bool, logger *slog.Logger) error {
	alpaca := config.AlpacaConfig{
		APIKey:    os.Getenv("ALPACA_API_KEY"),
		SecretKey: os.Getenv("ALPACA_SECRET_KEY"),
		BaseURL:   os.Getenv("ALPACA_BASE_URL"),
	}
	if alpaca.BaseURL == "" {
		alpaca.BaseURL = "https://paper-api.alpaca.markets"
	}
	if alpaca.APIKey == "" || alpaca.SecretKey == "" {
		return fmt.Errorf("ALPACA_API_KEY and ALPACA_SECRET_KEY must be set")
	}

	storeURL := os.Getenv("STORE_API_URL")
	if storeURL == "" {
		return fmt.Errorf("STORE_API_URL must be set")
	}

	client := broker.NewClient(alpaca, logger)
	storeClient := store.NewClient(storeURL, logger)
	eng := sched.New(client, storeClient, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if once {
		return eng.RunOnce(ctx)
	}

	c := cron.New()
	_, err := c.AddFunc("@every 1m", func() {
		if err := eng.RunOnce(ctx); err != nil {
			logger.Error("scheduled run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	c.Start()
	logger.Info("scheduler started", "cadence", "1m")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Let an in-flight run finish before exiting.
	<-c.Stop().Done()
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARNING", "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
