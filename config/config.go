// Package config loads the bot configuration: a yaml list of strategy
// blocks, each naming a venue (or two, for arbitrage) and the quoting
// parameters.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/quoter/internal/domain"
)

const (
	StrategyMaker     = "maker"
	StrategyArbitrage = "arbitrage"
)

// Venue is the parsed connection block for one exchange.
type Venue struct {
	Name            string
	Pair            domain.Pair
	AccessKey       string
	SecretKey       string
	BaseURL         string
	SocketURL       string
	ProxyURL        string
	NonceOffset     int64
	WalletAddress   string
	IssuerAddress   string
	PricePrecision  int32
	AmountPrecision int32
	DepthLimit      int
	MinDepthLevels  int
	SellPrice       decimal.Decimal
}

type Config struct {
	Strategy string
	Venue    Venue
	BaseLeg  Venue
	ArbLeg   Venue

	OperativeAmount decimal.Decimal
	MinWall         decimal.Decimal
	MaxWall         decimal.Decimal
	MinDifference   decimal.Decimal
	MinPriceUpdate  decimal.Decimal
	MinOrderAmount  decimal.Decimal
	MinAvgVolume    decimal.Decimal
	MaxAvgVolume    decimal.Decimal
	Threshold       decimal.Decimal

	SweepEvery  int
	MinInterval time.Duration
	MaxInterval time.Duration
	WalDir      string
}

// VenueTmp is the yaml shape of a venue block. Decimal-valued parameters
// are strings so yaml rounding never touches them.
type VenueTmp struct {
	Name            string `yaml:"name"`
	Pair            string `yaml:"pair"`
	AccessKey       string `yaml:"access_key,omitempty"`
	SecretKey       string `yaml:"secret_key,omitempty"`
	BaseURL         string `yaml:"base_url,omitempty"`
	SocketURL       string `yaml:"socket_url,omitempty"`
	ProxyURL        string `yaml:"proxy_url,omitempty"`
	NonceOffset     int64  `yaml:"nonce_offset,omitempty"`
	WalletAddress   string `yaml:"wallet_address,omitempty"`
	IssuerAddress   string `yaml:"issuer_address,omitempty"`
	PricePrecision  int32  `yaml:"price_precision,omitempty"`
	AmountPrecision int32  `yaml:"amount_precision,omitempty"`
	DepthLimit      int    `yaml:"depth_limit,omitempty"`
	MinDepthLevels  int    `yaml:"min_depth_levels,omitempty"`
	SellPrice       string `yaml:"sell_price,omitempty"`
}

type ConfigTmp struct {
	Strategy string   `yaml:"strategy"`
	Venue    VenueTmp `yaml:"venue,omitempty"`
	BaseLeg  VenueTmp `yaml:"base_leg,omitempty"`
	ArbLeg   VenueTmp `yaml:"arb_leg,omitempty"`

	OperativeAmount string `yaml:"operative_amount,omitempty"`
	MinWall         string `yaml:"min_wall,omitempty"`
	MaxWall         string `yaml:"max_wall,omitempty"`
	MinDifference   string `yaml:"min_difference,omitempty"`
	MinPriceUpdate  string `yaml:"min_price_update,omitempty"`
	MinOrderAmount  string `yaml:"min_order_amount,omitempty"`
	MinAvgVolume    string `yaml:"min_avg_volume,omitempty"`
	MaxAvgVolume    string `yaml:"max_avg_volume,omitempty"`
	Threshold       string `yaml:"amount_threshold,omitempty"`

	SweepEvery  int           `yaml:"sweep_every,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
	MaxInterval time.Duration `yaml:"max_interval,omitempty"`
	WalDir      string        `yaml:"wal_dir,omitempty"`
}

// Get reads and parses the yaml config at path.
func Get(path string) ([]Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tmp []ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return nil, err
	}

	configs := make([]Config, 0, len(tmp))
	for i, c := range tmp {
		parsed, err := parse(c)
		if err != nil {
			return nil, fmt.Errorf("config block %d: %w", i, err)
		}
		configs = append(configs, parsed)
	}
	return configs, nil
}

func parse(c ConfigTmp) (Config, error) {
	cfg := Config{
		Strategy:    c.Strategy,
		SweepEvery:  c.SweepEvery,
		MinInterval: c.MinInterval,
		MaxInterval: c.MaxInterval,
		WalDir:      c.WalDir,
	}

	var err error
	switch c.Strategy {
	case StrategyMaker:
		if cfg.Venue, err = parseVenue(c.Venue); err != nil {
			return Config{}, fmt.Errorf("venue: %w", err)
		}
	case StrategyArbitrage:
		if cfg.BaseLeg, err = parseVenue(c.BaseLeg); err != nil {
			return Config{}, fmt.Errorf("base_leg: %w", err)
		}
		if cfg.ArbLeg, err = parseVenue(c.ArbLeg); err != nil {
			return Config{}, fmt.Errorf("arb_leg: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unknown strategy %q", c.Strategy)
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
		key string
		def string
	}{
		{&cfg.OperativeAmount, c.OperativeAmount, "operative_amount", "0"},
		{&cfg.MinWall, c.MinWall, "min_wall", "0"},
		{&cfg.MaxWall, c.MaxWall, "max_wall", "0"},
		{&cfg.MinDifference, c.MinDifference, "min_difference", "0"},
		{&cfg.MinPriceUpdate, c.MinPriceUpdate, "min_price_update", "0"},
		{&cfg.MinOrderAmount, c.MinOrderAmount, "min_order_amount", "0"},
		{&cfg.MinAvgVolume, c.MinAvgVolume, "min_avg_volume", "0"},
		{&cfg.MaxAvgVolume, c.MaxAvgVolume, "max_avg_volume", "0"},
		{&cfg.Threshold, c.Threshold, "amount_threshold", "0"},
	}
	for _, f := range fields {
		if *f.dst, err = parseDecimal(f.src, f.def); err != nil {
			return Config{}, fmt.Errorf("incorrect %q param: %w", f.key, err)
		}
	}

	if c.Strategy == StrategyMaker && cfg.OperativeAmount.IsZero() {
		return Config{}, fmt.Errorf("maker strategy requires a non-zero 'operative_amount'")
	}
	return cfg, nil
}

func parseVenue(v VenueTmp) (Venue, error) {
	if v.Name == "" {
		return Venue{}, fmt.Errorf("missing 'name' param")
	}
	pair, err := PairFromString(v.Pair)
	if err != nil {
		return Venue{}, err
	}
	sellPrice, err := parseDecimal(v.SellPrice, "0")
	if err != nil {
		return Venue{}, fmt.Errorf("incorrect 'sell_price' param: %w", err)
	}
	return Venue{
		Name:            v.Name,
		Pair:            pair,
		AccessKey:       v.AccessKey,
		SecretKey:       v.SecretKey,
		BaseURL:         v.BaseURL,
		SocketURL:       v.SocketURL,
		ProxyURL:        v.ProxyURL,
		NonceOffset:     v.NonceOffset,
		WalletAddress:   v.WalletAddress,
		IssuerAddress:   v.IssuerAddress,
		PricePrecision:  v.PricePrecision,
		AmountPrecision: v.AmountPrecision,
		DepthLimit:      v.DepthLimit,
		MinDepthLevels:  v.MinDepthLevels,
		SellPrice:       sellPrice,
	}, nil
}

func parseDecimal(s, def string) (decimal.Decimal, error) {
	if s == "" {
		s = def
	}
	return decimal.NewFromString(s)
}

// PairFromString parses "BASE_QUOTE" into a domain pair.
func PairFromString(pairStr string) (domain.Pair, error) {
	parts := strings.Split(pairStr, "_")
	if len(parts) != 2 {
		return domain.Pair{}, fmt.Errorf("invalid pair param %q, expected BASE_QUOTE", pairStr)
	}
	return domain.Pair{Base: parts[0], Quote: parts[1]}, nil
}
