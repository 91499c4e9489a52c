// Package config содержит логику чтения конфигурации книжного магазина.
package config

import (
	"errors"
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/bookstore-coins/internal/gateway"
	"github.com/mmeshcher/bookstore-coins/internal/pricing"
)

// Config содержит параметры конфигурации книжного магазина.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	NotifyURL   string `env:"NOTIFY_URL"`

	GatewayURL        string `env:"GATEWAY_URL" envDefault:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	GatewayTmnCode    string `env:"GATEWAY_TMN_CODE"`
	GatewayHashSecret string `env:"GATEWAY_HASH_SECRET"`
	GatewayReturnURL  string `env:"GATEWAY_RETURN_URL" envDefault:"http://localhost:8080/api/payments/vnpay/return"`

	CoinExchangeRate     int64 `env:"COIN_EXCHANGE_RATE" envDefault:"1000"`
	LoyaltyRewardPercent int64 `env:"LOYALTY_REWARD_PERCENT" envDefault:"1"`

	ShippingFreeThreshold    int64 `env:"SHIPPING_FREE_THRESHOLD" envDefault:"500000"`
	ShippingReducedThreshold int64 `env:"SHIPPING_REDUCED_THRESHOLD" envDefault:"200000"`
	ShippingReducedFee       int64 `env:"SHIPPING_REDUCED_FEE" envDefault:"30000"`
	ShippingStandardFee      int64 `env:"SHIPPING_STANDARD_FEE" envDefault:"50000"`

	CallbackRateLimit float64 `env:"CALLBACK_RATE_LIMIT" envDefault:"20"`
	CallbackRateBurst int     `env:"CALLBACK_RATE_BURST" envDefault:"40"`

	NotifyQueueSize int `env:"NOTIFY_QUEUE_SIZE" envDefault:"256"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envNotifyURL := cfg.NotifyURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "token signing secret shared with the auth service")
	flag.StringVar(&cfg.NotifyURL, "n", "", "notification service address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envNotifyURL != "" {
		cfg.NotifyURL = envNotifyURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AuthSecret == "" {
		return errors.New("AUTH_SECRET is required to verify access tokens")
	}
	if c.CoinExchangeRate <= 0 {
		return fmt.Errorf("COIN_EXCHANGE_RATE must be positive, got %d", c.CoinExchangeRate)
	}
	if c.LoyaltyRewardPercent < 0 || c.LoyaltyRewardPercent > 100 {
		return fmt.Errorf("LOYALTY_REWARD_PERCENT must be within 0..100, got %d", c.LoyaltyRewardPercent)
	}
	if c.ShippingReducedThreshold > c.ShippingFreeThreshold {
		return fmt.Errorf("shipping thresholds out of order: reduced %d > free %d",
			c.ShippingReducedThreshold, c.ShippingFreeThreshold)
	}
	return nil
}

// Gateway возвращает настройки платёжного шлюза.
func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		PaymentURL: c.GatewayURL,
		TmnCode:    c.GatewayTmnCode,
		HashSecret: c.GatewayHashSecret,
		ReturnURL:  c.GatewayReturnURL,
	}
}

// Shipping возвращает пороги стоимости доставки.
func (c *Config) Shipping() pricing.ShippingPolicy {
	return pricing.ShippingPolicy{
		FreeThreshold:    c.ShippingFreeThreshold,
		ReducedThreshold: c.ShippingReducedThreshold,
		ReducedFee:       c.ShippingReducedFee,
		StandardFee:      c.ShippingStandardFee,
	}
}
