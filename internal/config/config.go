package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the typed view over the process environment. Load reads .env when
// present, then the environment; every field has a default so the binary runs
// with the in-memory adapters out of the box.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Addr           string

	// Empty means the in-memory adapters are used.
	DatabaseURL  string
	KafkaBrokers []string
	KafkaTopic   string

	StripeSecretKey     string
	StripeWebhookSecret string

	Currency               string
	TaxRate                decimal.Decimal
	ShippingFee            decimal.Decimal
	FreeShippingThreshold  decimal.Decimal
	PlatformCommissionRate decimal.Decimal

	GatewayTimeout      time.Duration
	GatewayMaxRetries   int
	UnpaidOrderTTL      time.Duration
	AutoDeliverAfter    time.Duration
	SweepInterval       time.Duration
	InitialStock        int
	ShutdownGracePeriod time.Duration
}

func Load() (*Config, error) {
	// Missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName:    getString("SERVICE_NAME", "marketplace"),
		ServiceVersion: getString("SERVICE_VERSION", "dev"),
		Environment:    getString("ENVIRONMENT", "development"),
		Addr:           getString("ADDR", ":8080"),

		DatabaseURL: getString("DATABASE_URL", ""),
		KafkaTopic:  getString("KAFKA_TOPIC", "marketplace.events"),

		StripeSecretKey:     getString("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getString("STRIPE_WEBHOOK_SECRET", ""),

		Currency: getString("CURRENCY", "USD"),
	}

	if brokers := getString("KAFKA_BROKERS", ""); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.TaxRate, err = getDecimal("TAX_RATE", "0.10"); err != nil {
		return nil, err
	}
	if cfg.ShippingFee, err = getDecimal("SHIPPING_FEE", "10.00"); err != nil {
		return nil, err
	}
	if cfg.FreeShippingThreshold, err = getDecimal("FREE_SHIPPING_THRESHOLD", "50.00"); err != nil {
		return nil, err
	}
	if cfg.PlatformCommissionRate, err = getDecimal("PLATFORM_COMMISSION_RATE", "0.05"); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayMaxRetries, err = getInt("GATEWAY_MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.UnpaidOrderTTL, err = getDuration("UNPAID_ORDER_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AutoDeliverAfter, err = getDuration("AUTO_DELIVER_AFTER", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.InitialStock, err = getInt("INITIAL_STOCK", 0); err != nil {
		return nil, err
	}
	if cfg.ShutdownGracePeriod, err = getDuration("SHUTDOWN_GRACE_PERIOD", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.TaxRate.IsNegative() || cfg.PlatformCommissionRate.IsNegative() {
		return nil, fmt.Errorf("config: rates must not be negative")
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key, def string) (decimal.Decimal, error) {
	v := getString(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
