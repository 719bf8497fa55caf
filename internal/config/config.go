package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the optional config file next to the binary
const DefaultPath = "config.yml"

// ErrMissingCredentials is returned when live trading lacks wallet or CLOB credentials
var ErrMissingCredentials = errors.New("missing live trading credentials")

// Config holds all configuration for the bot
type Config struct {
	// Trading
	Size             decimal.Decimal // dollars per trade
	ThresholdBps     int64
	WindowSecs       int
	MinEdgeCents     int64
	CooldownSecs     int
	DryRun           bool
	Asset            string // empty = all series
	PricingModel     string // linear | binary
	AnnualVol        float64
	DecisionInterval time.Duration

	// Circuit breaker
	MaxOrderFailures    int // 0 disables
	BreakerCooldownSecs int

	// Endpoints
	GammaAPIURL     string
	CLOBURL         string
	PolygonWSURL    string
	PolymarketWSURL string
	PolygonAPIKey   string

	// CLOB Credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Wallet
	WalletPrivateKey string
	FunderAddress    string
	SignatureType    int

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Ambient
	DatabasePath string // empty disables the journal
	MetricsAddr  string // empty disables /metrics
	LogLevel     string
}

// fileConfig is the config.yml layout; secrets come from the environment only
type fileConfig struct {
	Size               float64 `yaml:"size"`
	ThresholdBps       int64   `yaml:"threshold_bps"`
	WindowSecs         int     `yaml:"window_secs"`
	MinEdgeCents       int64   `yaml:"min_edge_cents"`
	CooldownSecs       int     `yaml:"cooldown_secs"`
	DryRun             bool    `yaml:"dry_run"`
	Asset              string  `yaml:"asset"`
	PricingModel       string  `yaml:"pricing_model"`
	AnnualVol          float64 `yaml:"annual_vol"`
	DecisionIntervalMs int     `yaml:"decision_interval_ms"`

	MaxOrderFailures    int `yaml:"max_order_failures"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs"`

	GammaAPIURL     string `yaml:"gamma_api_url"`
	CLOBURL         string `yaml:"clob_url"`
	PolygonWSURL    string `yaml:"polygon_ws_url"`
	PolymarketWSURL string `yaml:"polymarket_ws_url"`
	SignatureType   int    `yaml:"signature_type"`
	FunderAddress   string `yaml:"funder_address"`

	DatabasePath string `yaml:"database_path"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`
}

func defaults() fileConfig {
	return fileConfig{
		Size:               25,
		ThresholdBps:       15,
		WindowSecs:         5,
		MinEdgeCents:       3,
		CooldownSecs:       30,
		DryRun:             true,
		PricingModel:       "linear",
		AnnualVol:          0.50,
		DecisionIntervalMs: 100,

		MaxOrderFailures:    3,
		BreakerCooldownSecs: 300,

		GammaAPIURL:     "https://gamma-api.polymarket.com",
		CLOBURL:         "https://clob.polymarket.com",
		PolygonWSURL:    "wss://socket.polygon.io/crypto",
		PolymarketWSURL: "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		LogLevel:        "info",
	}
}

// Load reads .env, then the optional YAML file at path, then environment
// overrides. A missing file at DefaultPath is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	fc := defaults()
	if path == "" {
		path = DefaultPath
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := &Config{
		// Trading
		Size:             getEnvDecimal("SIZE", decimal.NewFromFloat(fc.Size)),
		ThresholdBps:     int64(getEnvInt("THRESHOLD_BPS", int(fc.ThresholdBps))),
		WindowSecs:       getEnvInt("WINDOW_SECS", fc.WindowSecs),
		MinEdgeCents:     int64(getEnvInt("MIN_EDGE_CENTS", int(fc.MinEdgeCents))),
		CooldownSecs:     getEnvInt("COOLDOWN_SECS", fc.CooldownSecs),
		DryRun:           getEnvBool("DRY_RUN", fc.DryRun),
		Asset:            strings.ToUpper(getEnv("ASSET", fc.Asset)),
		PricingModel:     strings.ToLower(getEnv("PRICING_MODEL", fc.PricingModel)),
		AnnualVol:        getEnvFloat("ANNUAL_VOL", fc.AnnualVol),
		DecisionInterval: time.Duration(getEnvInt("DECISION_INTERVAL_MS", fc.DecisionIntervalMs)) * time.Millisecond,

		// Circuit breaker
		MaxOrderFailures:    getEnvInt("MAX_ORDER_FAILURES", fc.MaxOrderFailures),
		BreakerCooldownSecs: getEnvInt("BREAKER_COOLDOWN_SECS", fc.BreakerCooldownSecs),

		// Endpoints
		GammaAPIURL:     getEnv("GAMMA_API_URL", fc.GammaAPIURL),
		CLOBURL:         getEnv("CLOB_URL", fc.CLOBURL),
		PolygonWSURL:    getEnv("POLYGON_WS_URL", fc.PolygonWSURL),
		PolymarketWSURL: getEnv("POLYMARKET_WS_URL", fc.PolymarketWSURL),
		PolygonAPIKey:   os.Getenv("POLYGON_API_KEY"),

		// CLOB Credentials
		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		// Wallet
		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		FunderAddress:    getEnv("FUNDER_ADDRESS", fc.FunderAddress),
		SignatureType:    getEnvInt("SIGNATURE_TYPE", fc.SignatureType),

		// Telegram
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		// Ambient
		DatabasePath: getEnv("DATABASE_PATH", fc.DatabasePath),
		MetricsAddr:  getEnv("METRICS_ADDR", fc.MetricsAddr),
		LogLevel:     getEnv("LOG_LEVEL", fc.LogLevel),
	}

	if getEnvBool("DEBUG", false) {
		cfg.LogLevel = "debug"
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and live-mode credentials
func (c *Config) Validate() error {
	switch {
	case !c.Size.IsPositive():
		return fmt.Errorf("size must be positive, got %s", c.Size)
	case c.ThresholdBps <= 0:
		return fmt.Errorf("threshold_bps must be positive, got %d", c.ThresholdBps)
	case c.WindowSecs <= 0 || time.Duration(c.WindowSecs)*time.Second > 60*time.Second:
		return fmt.Errorf("window_secs must be in 1..60, got %d", c.WindowSecs)
	case c.MinEdgeCents < 0:
		return fmt.Errorf("min_edge_cents must not be negative, got %d", c.MinEdgeCents)
	case c.CooldownSecs < 0:
		return fmt.Errorf("cooldown_secs must not be negative, got %d", c.CooldownSecs)
	case c.DecisionInterval <= 0:
		return fmt.Errorf("decision_interval_ms must be positive")
	case c.PricingModel != "linear" && c.PricingModel != "binary":
		return fmt.Errorf("pricing_model must be linear or binary, got %q", c.PricingModel)
	case c.AnnualVol < 0:
		return fmt.Errorf("annual_vol must not be negative")
	case c.MaxOrderFailures < 0 || c.BreakerCooldownSecs < 0:
		return fmt.Errorf("circuit breaker settings must not be negative")
	case c.PolygonAPIKey == "":
		return fmt.Errorf("POLYGON_API_KEY is required")
	}

	if c.DryRun {
		return nil
	}

	var missing []string
	for name, v := range map[string]string{
		"WALLET_PRIVATE_KEY": c.WalletPrivateKey,
		"CLOB_API_KEY":       c.CLOBApiKey,
		"CLOB_API_SECRET":    c.CLOBApiSecret,
		"CLOB_PASSPHRASE":    c.CLOBPassphrase,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// Cooldown returns the cooldown as a duration
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// BreakerCooldown returns the circuit breaker cooldown as a duration
func (c *Config) BreakerCooldown() time.Duration {
	return time.Duration(c.BreakerCooldownSecs) * time.Second
}

// Mode returns "DRY RUN" or "LIVE"
func (c *Config) Mode() string {
	if c.DryRun {
		return "DRY RUN"
	}
	return "LIVE"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
