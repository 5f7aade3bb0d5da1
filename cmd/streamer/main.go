// Command streamer runs the real-time trading engine: it connects to the
// market-data stream, evaluates the configured strategies on every tick,
// and submits guarded orders to the paper brokerage.
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
	"time"

	"algorunner/internal/broker"
	"algorunner/internal/config"
	"algorunner/internal/engine"
	"algorunner/internal/indicator"
	"algorunner/internal/orders"
	"algorunner/internal/store"
	"algorunner/internal/strategy"
)

const tickMaxAge = 120 * time.Second

func main() {
	configDir := flag.String("config", "config", "directory containing settings.yaml and strategies.yaml")
	logLevel := flag.String("log-level", "", "override log level (DEBUG, INFO, WARNING, ERROR)")
	flag.Parse()

	settings, strategyConfigs, err := config.Load(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	level := settings.Logging.Level
	if *logLevel != "" {
		level = *logLevel
	}
	logger := newLogger(level, settings.Logging.Format)
	slog.SetDefault(logger)

	if err := run(settings, strategyConfigs, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(settings *config.Settings, strategyConfigs []config.StrategyConfig, logger *slog.Logger) error {
	strategies := make([]strategy.Strategy, 0, len(strategyConfigs))
	for _, sc := range strategyConfigs {
		st, err := strategy.FromConfig(sc)
		if err != nil {
			return fmt.Errorf("strategy %q: %w", sc.Name, err)
		}
		strategies = append(strategies, st)
	}
	if len(strategies) == 0 {
		return fmt.Errorf("no strategies configured")
	}

	client := broker.NewClient(settings.Alpaca, logger)
	manager, err := orders.NewManager(client, settings.Alpaca, settings.Safety, logger)
	if err != nil {
		return err
	}

	// An unexpanded ${...} token means no store was configured.
	var recorder engine.TradeRecorder
	if url := settings.Store.APIURL; url != "" && !strings.HasPrefix(url, "${") {
		recorder = store.NewClient(url, logger)
	}

	buffer := indicator.NewBuffer(tickMaxAge)
	stream := broker.NewStream(settings.Alpaca, symbolUnion(strategies), logger)
	eng := engine.New(stream, buffer, manager, recorder, strategies, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("engine start: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case <-stream.Done():
		logger.Error("stream disconnected")
	}

	eng.Stop()
	return nil
}

// symbolUnion deduplicates symbols across enabled strategies, preserving
// first-seen order for stable subscribe payloads.
func symbolUnion(strategies []strategy.Strategy) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, st := range strategies {
		if !st.Enabled() {
			continue
		}
		for _, sym := range st.Symbols() {
			if !seen[sym] {
				seen[sym] = true
				symbols = append(symbols, sym)
			}
		}
	}
	return symbols
}

func newLogger(level, format string) *slog.Logger {
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

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
