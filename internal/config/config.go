package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"vault_ledger/internal/domain"
	"vault_ledger/pkg/crypto"
	"vault_ledger/pkg/units"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	OracleModeManual    = "manual"
	OracleModeChainlink = "chainlink"
)

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string

	// Limits in unit-of-account base units (6 fractional digits).
	BankCapValue         string
	WithdrawalLimitValue string

	ReferenceAsset string
	AdminAddresses []string
	AdminSecret    string
	StrictPegging  bool
	PeggedAssets   []string

	OracleMode            string
	OracleManualPrice     string
	EthRPCURL             string
	PriceFeedAddress      string
	OracleMonitorSchedule string
	// OracleManualRefresh republishes the manual price so it never ages past the heartbeat.
	OracleManualRefresh   string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	EventStream       string
	EventStreamMaxLen int64
	EventWorkers      int
}

// Load reads configuration from the environment, an optional .env file and,
// when path is set, a config file. Environment values win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		HTTPAddr:              v.GetString("HTTP_ADDR"),
		MetricsAddr:           v.GetString("METRICS_ADDR"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		BankCapValue:          v.GetString("BANK_CAP_VALUE"),
		WithdrawalLimitValue:  v.GetString("WITHDRAWAL_LIMIT_VALUE"),
		ReferenceAsset:        v.GetString("REFERENCE_ASSET"),
		AdminAddresses:        splitList(v.GetString("ADMIN_ADDRESSES")),
		AdminSecret:           v.GetString("ADMIN_SECRET"),
		StrictPegging:         v.GetBool("STRICT_PEGGING"),
		PeggedAssets:          splitList(v.GetString("PEGGED_ASSETS")),
		OracleMode:            strings.ToLower(v.GetString("ORACLE_MODE")),
		OracleManualPrice:     v.GetString("ORACLE_MANUAL_PRICE"),
		EthRPCURL:             v.GetString("ETH_RPC_URL"),
		PriceFeedAddress:      v.GetString("PRICE_FEED_ADDRESS"),
		OracleMonitorSchedule: v.GetString("ORACLE_MONITOR_SCHEDULE"),
		OracleManualRefresh:   v.GetString("ORACLE_MANUAL_REFRESH"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		EventStream:           v.GetString("EVENT_STREAM"),
		EventStreamMaxLen:     v.GetInt64("EVENT_STREAM_MAXLEN"),
		EventWorkers:          v.GetInt("EVENT_WORKERS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("BANK_CAP_VALUE", "10000000000000")
	v.SetDefault("WITHDRAWAL_LIMIT_VALUE", "1000000000000")
	v.SetDefault("REFERENCE_ASSET", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	v.SetDefault("ORACLE_MODE", OracleModeManual)
	v.SetDefault("ORACLE_MANUAL_PRICE", "2000")
	v.SetDefault("ORACLE_MONITOR_SCHEDULE", "@every 1m")
	v.SetDefault("ORACLE_MANUAL_REFRESH", "@every 10m")
	v.SetDefault("EVENT_STREAM", "vault:events")
	v.SetDefault("EVENT_STREAM_MAXLEN", 100000)
	v.SetDefault("EVENT_WORKERS", 3)
}

func (c *Config) Validate() error {
	var errs []error

	if _, err := c.BankLimits(); err != nil {
		errs = append(errs, err)
	}
	if !common.IsHexAddress(c.ReferenceAsset) {
		errs = append(errs, fmt.Errorf("REFERENCE_ASSET %q is not an address", c.ReferenceAsset))
	}
	for _, a := range c.AdminAddresses {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Errorf("ADMIN_ADDRESSES entry %q is not an address", a))
		}
	}
	if len(c.AdminAddresses) > 0 && len(c.AdminSecret) < crypto.MinSecretLength {
		errs = append(errs, fmt.Errorf("ADMIN_SECRET must be at least %d characters when ADMIN_ADDRESSES is set", crypto.MinSecretLength))
	}
	for _, a := range c.PeggedAssets {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Errorf("PEGGED_ASSETS entry %q is not an address", a))
		}
	}

	switch c.OracleMode {
	case OracleModeManual:
		if _, err := c.ManualPrice(); err != nil {
			errs = append(errs, err)
		}
	case OracleModeChainlink:
		if c.EthRPCURL == "" {
			errs = append(errs, fmt.Errorf("ETH_RPC_URL is required in chainlink mode"))
		}
		if !common.IsHexAddress(c.PriceFeedAddress) {
			errs = append(errs, fmt.Errorf("PRICE_FEED_ADDRESS %q is not an address", c.PriceFeedAddress))
		}
	default:
		errs = append(errs, fmt.Errorf("ORACLE_MODE %q must be %s or %s", c.OracleMode, OracleModeManual, OracleModeChainlink))
	}

	if c.EventWorkers <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_WORKERS must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c *Config) BankLimits() (domain.BankLimits, error) {
	bankCap, err := units.ParseInteger(c.BankCapValue)
	if err != nil {
		return domain.BankLimits{}, fmt.Errorf("BANK_CAP_VALUE: %w", err)
	}
	limit, err := units.ParseInteger(c.WithdrawalLimitValue)
	if err != nil {
		return domain.BankLimits{}, fmt.Errorf("WITHDRAWAL_LIMIT_VALUE: %w", err)
	}
	return domain.NewBankLimits(bankCap, limit)
}

// ManualPrice parses ORACLE_MANUAL_PRICE, given in dollars, at oracle precision.
func (c *Config) ManualPrice() (*big.Int, error) {
	price, err := units.Parse(c.OracleManualPrice, domain.OracleDecimals)
	if err != nil {
		return nil, fmt.Errorf("ORACLE_MANUAL_PRICE: %w", err)
	}
	if price.Sign() == 0 {
		return nil, fmt.Errorf("ORACLE_MANUAL_PRICE: %w", domain.ErrInvalidPrice)
	}
	return price, nil
}

func (c *Config) ReferenceAssetAddress() common.Address {
	return common.HexToAddress(c.ReferenceAsset)
}

func (c *Config) Admins() []common.Address {
	return toAddresses(c.AdminAddresses)
}

func (c *Config) Pegged() []common.Address {
	return toAddresses(c.PeggedAssets)
}

func (c *Config) PriceFeed() common.Address {
	return common.HexToAddress(c.PriceFeedAddress)
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func toAddresses(in []string) []common.Address {
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
