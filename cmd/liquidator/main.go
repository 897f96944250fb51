package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/alejandrodnm/liquidator/config"
	"github.com/alejandrodnm/liquidator/internal/adapters/chainrpc"
	"github.com/alejandrodnm/liquidator/internal/adapters/jito"
	"github.com/alejandrodnm/liquidator/internal/adapters/jupiter"
	"github.com/alejandrodnm/liquidator/internal/adapters/keystore"
	"github.com/alejandrodnm/liquidator/internal/adapters/notify"
	"github.com/alejandrodnm/liquidator/internal/adapters/solend"
	"github.com/alejandrodnm/liquidator/internal/adapters/storage"
	"github.com/alejandrodnm/liquidator/internal/domain"
	"github.com/alejandrodnm/liquidator/internal/execution"
	"github.com/alejandrodnm/liquidator/internal/health"
	"github.com/alejandrodnm/liquidator/internal/liquidation"
	"github.com/alejandrodnm/liquidator/internal/metrics"
	"github.com/alejandrodnm/liquidator/internal/oracle"
	"github.com/alejandrodnm/liquidator/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file (empty: env and defaults only)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full epoch tables (default: compact 1-line)")
	epochs := flag.Int("epochs", -1, "stop after N epochs (overrides config, 0 runs forever)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *epochs >= 0 {
		cfg.Orchestrator.MaxEpochs = *epochs
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid command-line override", "err", err)
		os.Exit(1)
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	if err := run(cfg, *table); err != nil {
		slog.Error("liquidator exited with error", "err", err)
		closeLog()
		os.Exit(1)
	}
	slog.Info("liquidator stopped cleanly")
}

func run(cfg *config.Config, table bool) error {
	key, err := keystore.Load(cfg.Wallet.SecretPath)
	if err != nil {
		return err
	}
	policy, err := health.ParseMissingPricePolicy(cfg.Oracle.MissingPricePolicy)
	if err != nil {
		return err
	}

	slog.Info("liquidator starting",
		"mode", cfg.Mode,
		"wallet", key.PublicKey(),
		"rpc", cfg.RPC.Endpoint,
		"relay", cfg.Relay.Endpoint,
		"program", cfg.ProgramID(),
		"bundle", *cfg.Liquidation.UseBundle,
		"max_epochs", cfg.Orchestrator.MaxEpochs,
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tally := metrics.New(reg)

	rpcClient := chainrpc.New(cfg.RPC.Endpoint, cfg.RPC.RatePerSecond)
	relay := jito.New(cfg.Relay.Endpoint, jito.Options{
		AuthUUID:  cfg.Relay.AuthUUID,
		PlainSend: cfg.Relay.PlainSend,
		Timeout:   time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
	})

	execCfg := execution.DefaultConfig()
	execCfg.Limiter.BurstPerSecond = cfg.Relay.BurstPerSecond
	execCfg.Limiter.DailyLimit = cfg.Relay.DailyLimit
	execCfg.Limiter.MonthlyLimit = cfg.Relay.MonthlyLimit
	execCfg.Breaker = execution.BreakerConfig{
		MinRequests:    cfg.Relay.MinRequests,
		ErrorThreshold: cfg.Relay.ErrorThreshold,
		Cooldown:       time.Duration(cfg.Relay.CooldownSeconds) * time.Second,
	}
	execCfg.Retry.MaxAttempts = cfg.Relay.RetryAttempts
	execCfg.Retry.BaseDelay = time.Duration(cfg.Relay.RetryBaseMs) * time.Millisecond
	execCfg.TipAccounts = cfg.TipAccounts()
	chain := execution.New(execCfg, rpcClient, relay, execution.SystemClock)

	oracleCfg := oracle.DefaultConfig()
	oracleCfg.CacheTTL = time.Duration(cfg.Oracle.CacheTTLSeconds) * time.Second
	oracleCfg.StalenessThreshold = time.Duration(cfg.Oracle.StalenessSeconds) * time.Second
	oracleCfg.MaxConfidenceBps = decimal.NewFromFloat(cfg.Oracle.MaxConfidenceBps)
	oracleCfg.SecondaryRetries = cfg.Oracle.SecondaryRetries
	prices := oracle.New(oracleCfg, chain, execution.SystemClock)

	program := cfg.ProgramID()
	swap := jupiter.NewClient(cfg.Swap.BaseURL)

	liqCfg := liquidation.DefaultConfig()
	liqCfg.FlashBuffer = decimal.NewFromFloat(cfg.Liquidation.FlashBuffer)
	liqCfg.SlippageBps = uint16(cfg.Swap.SlippageBps)
	liqCfg.ComputeUnits = uint32(cfg.Liquidation.ComputeUnits)
	liqCfg.PriorityFee = cfg.Liquidation.PriorityFee
	liqCfg.TipLamports = cfg.Liquidation.TipLamports
	liqCfg.UseBundle = *cfg.Liquidation.UseBundle
	liqCfg.ConfirmTimeout = cfg.ConfirmTimeout()
	composer := liquidation.NewComposer(liqCfg, chain, solend.NewInstructions(program), swap, key)

	convCfg := liquidation.DefaultConvertConfig()
	convCfg.PriorityFee = cfg.Liquidation.PriorityFee
	convCfg.ConfirmTimeout = cfg.ConfirmTimeout()
	converter := liquidation.NewConverter(convCfg, chain, swap, key)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	orchCfg := orchestrator.Config{
		BatchSize:          cfg.Orchestrator.BatchSize,
		MaxPasses:          cfg.Orchestrator.MaxPasses,
		LiquidationRetries: cfg.Orchestrator.LiquidationRetries,
		RetryDelay:         cfg.RetryDelay(),
		CloseFactorPct:     uint8(cfg.Orchestrator.CloseFactorPct),
		ErrorThreshold:     cfg.Orchestrator.ErrorThreshold,
		Cooldown:           cfg.Cooldown(),
		Throttle:           cfg.Throttle(),
		EpochDelay:         cfg.EpochDelay(),
		MaxEpochs:          cfg.Orchestrator.MaxEpochs,
		MinSOLBalance:      cfg.MinSOLLamports(),
		ConvertSymbol:      cfg.Liquidation.ConvertSymbol,
		MinConvertUSD:      decimal.NewFromFloat(cfg.Liquidation.MinConvertUSD),
		MissingPrice:       policy,
	}
	orch := orchestrator.New(orchCfg, orchestrator.Deps{
		Markets:    solend.NewMarketClient(cfg.Markets.URL, cfg.Markets.Attempts, time.Duration(cfg.Markets.BackoffMs)*time.Millisecond),
		Chain:      chain,
		Codec:      solend.NewCodec(program),
		Prices:     prices,
		Liquidator: composer,
		Converter:  converter,
		Store:      store,
		Reporter:   notify.NewConsole(table),
		Metrics:    tally,
		Clock:      execution.SystemClock,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, reg)
		defer stop()
	}

	if err := orch.Startup(ctx); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			slog.Error("wallet below minimum balance, fund it before starting",
				"wallet", composer.Wallet(), "min_lamports", orchCfg.MinSOLBalance)
		}
		return err
	}

	return orch.Run(ctx)
}

// serveMetrics exposes reg on addr/metrics until the returned stop is called.
func serveMetrics(addr string, reg *prometheus.Registry) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// setupLogger installs the default slog handler. With a log file configured,
// output goes to a rotated file as well as stdout.
func setupLogger(cfg config.LogConfig) (closeFn func()) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn = func() {}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSizeMB,
			MaxAge:   cfg.MaxAgeDays,
			Compress: true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}
