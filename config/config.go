package config

// config.go: YAML file, then .env, then environment overrides, then defaults.
// Validate runs last; every failure wraps domain.ErrConfiguration and is
// fatal at startup.

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/liquidator/internal/domain"
)

// Deployment modes.
const (
	ModeProduction = "production"
	ModeDev        = "dev"
)

// Lending program ids per deployment.
const (
	mainnetProgramID = "So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo"
	devnetProgramID  = "ALend7Ketfx5bxh6ghsCDXAoDrhvEmsXT3cynB6aPLgx"
)

// Config is the complete liquidator configuration.
type Config struct {
	Mode         string             `yaml:"mode"` // production | dev
	RPC          RPCConfig          `yaml:"rpc"`
	Relay        RelayConfig        `yaml:"relay"`
	Markets      MarketsConfig      `yaml:"markets"`
	Swap         SwapConfig         `yaml:"swap"`
	Wallet       WalletConfig       `yaml:"wallet"`
	Oracle       OracleConfig       `yaml:"oracle"`
	Liquidation  LiquidationConfig  `yaml:"liquidation"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Storage      StorageConfig      `yaml:"storage"`
	Log          LogConfig          `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// RPCConfig is the regular chain-RPC endpoint.
type RPCConfig struct {
	Endpoint      string `yaml:"endpoint"`
	RatePerSecond int    `yaml:"rate_per_second"`
}

// RelayConfig is the bundle relay and the client-side budget guarding it.
type RelayConfig struct {
	Endpoint        string   `yaml:"endpoint"`
	AuthUUID        string   `yaml:"auth_uuid"`
	PlainSend       bool     `yaml:"plain_send"`
	TimeoutSeconds  int      `yaml:"timeout_seconds"`
	BurstPerSecond  int      `yaml:"burst_per_second"`
	DailyLimit      int      `yaml:"daily_limit"`
	MonthlyLimit    int      `yaml:"monthly_limit"`
	ErrorThreshold  float64  `yaml:"error_threshold"` // breaker opens above this error ratio
	MinRequests     int      `yaml:"min_requests"`
	CooldownSeconds int      `yaml:"cooldown_seconds"`
	RetryAttempts   int      `yaml:"retry_attempts"`
	RetryBaseMs     int      `yaml:"retry_base_ms"`
	TipAccounts     []string `yaml:"tip_accounts"` // empty uses the relay's published list
}

// MarketsConfig locates the market config service and the lending program.
type MarketsConfig struct {
	URL       string `yaml:"url"`
	Attempts  int    `yaml:"attempts"`
	BackoffMs int    `yaml:"backoff_ms"`
	ProgramID string `yaml:"program_id"`
}

// SwapConfig is the DEX aggregator.
type SwapConfig struct {
	BaseURL     string `yaml:"base_url"`
	SlippageBps int    `yaml:"slippage_bps"`
}

// WalletConfig locates the signing key.
type WalletConfig struct {
	SecretPath    string  `yaml:"secret_path"`
	MinSOLBalance float64 `yaml:"min_sol_balance"` // whole SOL
}

// OracleConfig tunes price resolution.
type OracleConfig struct {
	CacheTTLSeconds    int     `yaml:"cache_ttl_seconds"`
	StalenessSeconds   int     `yaml:"staleness_seconds"`
	MaxConfidenceBps   float64 `yaml:"max_confidence_bps"`
	SecondaryRetries   int     `yaml:"secondary_retries"`
	MissingPricePolicy string  `yaml:"missing_price_policy"` // skip-obligation | zero-value | abort-scan
}

// LiquidationConfig tunes the transaction composer and profit conversion.
type LiquidationConfig struct {
	FlashBuffer           float64 `yaml:"flash_buffer"`
	ComputeUnits          int     `yaml:"compute_units"`
	PriorityFee           uint64  `yaml:"priority_fee"` // micro-lamports per compute unit
	TipLamports           uint64  `yaml:"tip_lamports"`
	UseBundle             *bool   `yaml:"use_bundle"`
	ConfirmTimeoutSeconds int     `yaml:"confirm_timeout_seconds"`
	ConvertSymbol         string  `yaml:"convert_symbol"`
	MinConvertUSD         float64 `yaml:"min_convert_usd"`
}

// OrchestratorConfig tunes the epoch loop.
type OrchestratorConfig struct {
	BatchSize          int `yaml:"batch_size"`
	MaxPasses          int `yaml:"max_passes"`
	LiquidationRetries int `yaml:"liquidation_retries"`
	RetryDelayMs       int `yaml:"retry_delay_ms"`
	CloseFactorPct     int `yaml:"close_factor_pct"`
	ErrorThreshold     int `yaml:"error_threshold"` // consecutive market errors
	CooldownSeconds    int `yaml:"cooldown_seconds"`
	ThrottleMs         int `yaml:"throttle_ms"`
	EpochDelayMs       int `yaml:"epoch_delay_ms"`
	MaxEpochs          int `yaml:"max_epochs"` // 0 runs forever
}

// StorageConfig controls where attempts are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // SQLite file path, or ":memory:"
}

// LogConfig controls logging format, level and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // empty logs to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables /metrics
}

// Load reads the YAML file at path (skipped when path is empty), loads .env
// if present, applies environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w: %w", path, domain.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w: %w", domain.ErrConfiguration, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides overrides YAML values with environment variables.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"APP_MODE":             &cfg.Mode,
		"RPC_ENDPOINT":         &cfg.RPC.Endpoint,
		"RELAY_ENDPOINT":       &cfg.Relay.Endpoint,
		"RELAY_AUTH_UUID":      &cfg.Relay.AuthUUID,
		"MARKETS_URL":          &cfg.Markets.URL,
		"PROGRAM_ID":           &cfg.Markets.ProgramID,
		"SWAP_API_URL":         &cfg.Swap.BaseURL,
		"SECRET_PATH":          &cfg.Wallet.SecretPath,
		"MISSING_PRICE_POLICY": &cfg.Oracle.MissingPricePolicy,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_FORMAT":           &cfg.Log.Format,
		"LOG_FILE":             &cfg.Log.File,
		"METRICS_ADDR":         &cfg.Metrics.Addr,
		"DB_PATH":              &cfg.Storage.DSN,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BATCH_SIZE":       &cfg.Orchestrator.BatchSize,
		"THROTTLE_MS":      &cfg.Orchestrator.ThrottleMs,
		"MAX_EPOCHS":       &cfg.Orchestrator.MaxEpochs,
		"COOLDOWN_SECONDS": &cfg.Orchestrator.CooldownSeconds,
		"RELAY_BURST":      &cfg.Relay.BurstPerSecond,
		"RELAY_DAILY":      &cfg.Relay.DailyLimit,
		"RELAY_MONTHLY":    &cfg.Relay.MonthlyLimit,
	}
	var errs []error
	for name, dst := range ints {
		v := os.Getenv(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: not an integer", name, v))
			continue
		}
		*dst = n
	}
	if v := os.Getenv("MIN_SOL_BALANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MIN_SOL_BALANCE=%q: not a number", v))
		} else {
			cfg.Wallet.MinSOLBalance = f
		}
	}
	if v := os.Getenv("USE_BUNDLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("USE_BUNDLE=%q: not a boolean", v))
		} else {
			cfg.Liquidation.UseBundle = &b
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("environment: %w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// setDefaults fills every unset value. Endpoints depend on the mode.
func setDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeProduction
	}
	dev := cfg.Mode == ModeDev

	if cfg.RPC.Endpoint == "" {
		cfg.RPC.Endpoint = "https://api.mainnet-beta.solana.com"
		if dev {
			cfg.RPC.Endpoint = "https://api.devnet.solana.com"
		}
	}
	if cfg.RPC.RatePerSecond <= 0 {
		cfg.RPC.RatePerSecond = 40
	}

	if cfg.Relay.Endpoint == "" {
		cfg.Relay.Endpoint = "https://frankfurt.mainnet.block-engine.jito.wtf"
		if dev {
			cfg.Relay.Endpoint = "https://dallas.testnet.block-engine.jito.wtf"
		}
	}
	if cfg.Relay.TimeoutSeconds <= 0 {
		cfg.Relay.TimeoutSeconds = 10
	}
	if cfg.Relay.BurstPerSecond == 0 {
		cfg.Relay.BurstPerSecond = 5
	}
	if cfg.Relay.DailyLimit == 0 {
		cfg.Relay.DailyLimit = 100_000
	}
	if cfg.Relay.MonthlyLimit == 0 {
		cfg.Relay.MonthlyLimit = 2_500_000
	}
	if cfg.Relay.ErrorThreshold == 0 {
		cfg.Relay.ErrorThreshold = 0.10
	}
	if cfg.Relay.MinRequests <= 0 {
		cfg.Relay.MinRequests = 100
	}
	if cfg.Relay.CooldownSeconds <= 0 {
		cfg.Relay.CooldownSeconds = 30
	}
	if cfg.Relay.RetryAttempts <= 0 {
		cfg.Relay.RetryAttempts = 3
	}
	if cfg.Relay.RetryBaseMs <= 0 {
		cfg.Relay.RetryBaseMs = 500
	}

	if cfg.Markets.URL == "" {
		cfg.Markets.URL = "https://api.solend.fi/v1/markets/configs?scope=all&deployment=production"
		if dev {
			cfg.Markets.URL = "https://api.solend.fi/v1/markets/configs?scope=all&deployment=devnet"
		}
	}
	if cfg.Markets.Attempts <= 0 {
		cfg.Markets.Attempts = 10
	}
	if cfg.Markets.BackoffMs <= 0 {
		cfg.Markets.BackoffMs = 1000
	}
	if cfg.Markets.ProgramID == "" {
		cfg.Markets.ProgramID = mainnetProgramID
		if dev {
			cfg.Markets.ProgramID = devnetProgramID
		}
	}

	if cfg.Swap.BaseURL == "" {
		cfg.Swap.BaseURL = "https://quote-api.jup.ag/v6"
	}
	if cfg.Swap.SlippageBps == 0 {
		cfg.Swap.SlippageBps = 100
	}

	if cfg.Wallet.SecretPath == "" {
		cfg.Wallet.SecretPath = "/run/secrets/liquidator-keypair"
	}
	if cfg.Wallet.MinSOLBalance == 0 {
		cfg.Wallet.MinSOLBalance = 0.1
	}

	if cfg.Oracle.CacheTTLSeconds <= 0 {
		cfg.Oracle.CacheTTLSeconds = 60
	}
	if cfg.Oracle.StalenessSeconds <= 0 {
		cfg.Oracle.StalenessSeconds = 30
	}
	if cfg.Oracle.MaxConfidenceBps <= 0 {
		cfg.Oracle.MaxConfidenceBps = 200
	}
	if cfg.Oracle.SecondaryRetries <= 0 {
		cfg.Oracle.SecondaryRetries = 3
	}
	if cfg.Oracle.MissingPricePolicy == "" {
		cfg.Oracle.MissingPricePolicy = "skip-obligation"
	}

	if cfg.Liquidation.FlashBuffer == 0 {
		cfg.Liquidation.FlashBuffer = 1.3
	}
	if cfg.Liquidation.ComputeUnits <= 0 {
		cfg.Liquidation.ComputeUnits = 1_400_000
	}
	if cfg.Liquidation.TipLamports == 0 {
		cfg.Liquidation.TipLamports = 10_000
	}
	if cfg.Liquidation.UseBundle == nil {
		useBundle := true
		cfg.Liquidation.UseBundle = &useBundle
	}
	if cfg.Liquidation.ConfirmTimeoutSeconds <= 0 {
		cfg.Liquidation.ConfirmTimeoutSeconds = 60
	}
	if cfg.Liquidation.ConvertSymbol == "" {
		cfg.Liquidation.ConvertSymbol = "USDC"
	}
	if cfg.Liquidation.MinConvertUSD <= 0 {
		cfg.Liquidation.MinConvertUSD = 1
	}

	if cfg.Orchestrator.BatchSize == 0 {
		cfg.Orchestrator.BatchSize = 3
	}
	if cfg.Orchestrator.MaxPasses <= 0 {
		cfg.Orchestrator.MaxPasses = 10
	}
	if cfg.Orchestrator.LiquidationRetries <= 0 {
		cfg.Orchestrator.LiquidationRetries = 3
	}
	if cfg.Orchestrator.RetryDelayMs <= 0 {
		cfg.Orchestrator.RetryDelayMs = 2000
	}
	if cfg.Orchestrator.CloseFactorPct == 0 {
		cfg.Orchestrator.CloseFactorPct = 20
	}
	if cfg.Orchestrator.ErrorThreshold <= 0 {
		cfg.Orchestrator.ErrorThreshold = 5
	}
	if cfg.Orchestrator.CooldownSeconds <= 0 {
		cfg.Orchestrator.CooldownSeconds = 300
	}
	if cfg.Orchestrator.ThrottleMs < 0 {
		cfg.Orchestrator.ThrottleMs = 0
	}
	if cfg.Orchestrator.EpochDelayMs <= 0 {
		cfg.Orchestrator.EpochDelayMs = 5000
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "liquidator.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxAgeDays <= 0 {
		cfg.Log.MaxAgeDays = 14
	}
}

// Validate rejects values the process cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Mode == ModeProduction || c.Mode == ModeDev, "mode %q: want production or dev", c.Mode)
	check(c.RPC.Endpoint != "", "rpc.endpoint is required")
	check(c.Relay.Endpoint != "", "relay.endpoint is required")
	check(c.Markets.URL != "", "markets.url is required")
	check(c.Wallet.SecretPath != "", "wallet.secret_path is required")

	check(c.Orchestrator.BatchSize >= 1, "orchestrator.batch_size %d: must be at least 1", c.Orchestrator.BatchSize)
	check(c.Orchestrator.CloseFactorPct >= 1 && c.Orchestrator.CloseFactorPct <= 100,
		"orchestrator.close_factor_pct %d: must be in [1, 100]", c.Orchestrator.CloseFactorPct)
	check(c.Orchestrator.MaxEpochs >= 0, "orchestrator.max_epochs %d: must not be negative", c.Orchestrator.MaxEpochs)
	check(c.Relay.BurstPerSecond >= 1, "relay.burst_per_second %d: must be at least 1", c.Relay.BurstPerSecond)
	check(c.Relay.DailyLimit >= 0 && c.Relay.MonthlyLimit >= 0, "relay limits must not be negative")
	check(c.Relay.ErrorThreshold > 0 && c.Relay.ErrorThreshold < 1,
		"relay.error_threshold %v: must be in (0, 1)", c.Relay.ErrorThreshold)
	check(c.Swap.SlippageBps >= 1 && c.Swap.SlippageBps <= 10_000,
		"swap.slippage_bps %d: must be in [1, 10000]", c.Swap.SlippageBps)
	check(c.Liquidation.FlashBuffer >= 1, "liquidation.flash_buffer %v: must be at least 1", c.Liquidation.FlashBuffer)
	check(c.Liquidation.ComputeUnits <= 1_400_000, "liquidation.compute_units %d: above the 1.4M cap", c.Liquidation.ComputeUnits)
	check(c.Wallet.MinSOLBalance >= 0, "wallet.min_sol_balance %v: must not be negative", c.Wallet.MinSOLBalance)

	switch c.Oracle.MissingPricePolicy {
	case "skip-obligation", "zero-value", "abort-scan":
	default:
		errs = append(errs, fmt.Errorf("oracle.missing_price_policy %q: want skip-obligation, zero-value or abort-scan",
			c.Oracle.MissingPricePolicy))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q: want debug, info, warn or error", c.Log.Level))
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q: want text or json", c.Log.Format)

	if _, err := solana.PublicKeyFromBase58(c.Markets.ProgramID); err != nil {
		errs = append(errs, fmt.Errorf("markets.program_id %q: %v", c.Markets.ProgramID, err))
	}
	for _, s := range c.Relay.TipAccounts {
		if _, err := solana.PublicKeyFromBase58(s); err != nil {
			errs = append(errs, fmt.Errorf("relay.tip_accounts %q: %v", s, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

// ProgramID returns the lending program id. Validate has checked it.
func (c *Config) ProgramID() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Markets.ProgramID)
}

// TipAccounts returns the configured tip allow-list, nil for the default.
func (c *Config) TipAccounts() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(c.Relay.TipAccounts))
	for _, s := range c.Relay.TipAccounts {
		out = append(out, solana.MustPublicKeyFromBase58(s))
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MinSOLLamports converts the SOL minimum to lamports.
func (c *Config) MinSOLLamports() uint64 {
	return uint64(c.Wallet.MinSOLBalance * float64(solana.LAMPORTS_PER_SOL))
}

func ms(n int) time.Duration      { return time.Duration(n) * time.Millisecond }
func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// EpochDelay is the pause between epochs.
func (c *Config) EpochDelay() time.Duration { return ms(c.Orchestrator.EpochDelayMs) }

// Throttle is the pause between markets.
func (c *Config) Throttle() time.Duration { return ms(c.Orchestrator.ThrottleMs) }

// RetryDelay is the pause between liquidation retries.
func (c *Config) RetryDelay() time.Duration { return ms(c.Orchestrator.RetryDelayMs) }

// Cooldown is the pause after too many consecutive market errors.
func (c *Config) Cooldown() time.Duration { return seconds(c.Orchestrator.CooldownSeconds) }

// ConfirmTimeout bounds how long a landing is awaited.
func (c *Config) ConfirmTimeout() time.Duration { return seconds(c.Liquidation.ConfirmTimeoutSeconds) }
