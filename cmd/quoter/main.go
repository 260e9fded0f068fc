package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/quoter/config"
	"github.com/vadiminshakov/quoter/internal/gateway"
	"github.com/vadiminshakov/quoter/internal/gateway/binance"
	"github.com/vadiminshakov/quoter/internal/gateway/bitfinex"
	"github.com/vadiminshakov/quoter/internal/gateway/bybit"
	"github.com/vadiminshakov/quoter/internal/gateway/ripple"
	"github.com/vadiminshakov/quoter/internal/lifecycle"
	"github.com/vadiminshakov/quoter/internal/pricing"
	"github.com/vadiminshakov/quoter/internal/registry"
	"github.com/vadiminshakov/quoter/internal/setup"
	"github.com/vadiminshakov/quoter/internal/strategy"
	"github.com/vadiminshakov/quoter/internal/strategy/arbitrage"
	"github.com/vadiminshakov/quoter/internal/strategy/maker"
)

const defaultWalDir = "./wal"

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	configPath := flag.String("config", "", "path to yaml config")
	flag.Parse()

	path := *configPath
	if path == "" {
		if _, err := os.Stat(setup.GeneratedConfigFile); err != nil {
			if err := setup.RunTUI(); err != nil {
				logger.Fatal("setup cancelled", zap.Error(err))
			}
		}
		path = setup.GeneratedConfigFile
	}

	configs, err := config.Get(path)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runners := make([]*strategy.Runner, 0, len(configs))
	for i, c := range configs {
		runner, err := buildRunner(c, logger)
		if err != nil {
			logger.Fatal("failed to build strategy",
				zap.Int("config_block", i), zap.Error(err))
		}
		runners = append(runners, runner)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown requested")
		for _, r := range runners {
			r.Kill()
		}
	}()

	g := new(errgroup.Group)
	for _, r := range runners {
		g.Go(func() error { return r.Run(ctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error("strategy loop failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildRunner(c config.Config, logger *zap.Logger) (*strategy.Runner, error) {
	switch c.Strategy {
	case config.StrategyMaker:
		return buildMaker(c, logger)
	case config.StrategyArbitrage:
		return buildArbitrage(c, logger)
	default:
		return nil, fmt.Errorf("unknown strategy %q", c.Strategy)
	}
}

func buildMaker(c config.Config, logger *zap.Logger) (*strategy.Runner, error) {
	gw, err := buildGateway(c.Venue, logger)
	if err != nil {
		return nil, err
	}
	manager, err := buildManager(c, c.Venue, gw, logger)
	if err != nil {
		return nil, err
	}

	engine := &pricing.Engine{
		OperativeAmount: c.OperativeAmount,
		MinWall:         c.MinWall,
		MaxWall:         c.MaxWall,
		MinDifference:   c.MinDifference,
		MinPriceUpdate:  c.MinPriceUpdate,
		PricePrecision:  c.Venue.PricePrecision,
	}

	s := maker.New(maker.Config{
		Pair:         c.Venue.Pair,
		MinAvgVolume: c.MinAvgVolume,
		MaxAvgVolume: c.MaxAvgVolume,
		MinInterval:  c.MinInterval,
		MaxInterval:  c.MaxInterval,
	}, gw, manager, engine, logger)

	return strategy.NewRunner(s, []gateway.Gateway{gw}, logger), nil
}

func buildArbitrage(c config.Config, logger *zap.Logger) (*strategy.Runner, error) {
	buildLeg := func(v config.Venue) (arbitrage.Leg, gateway.Gateway, error) {
		gw, err := buildGateway(v, logger)
		if err != nil {
			return arbitrage.Leg{}, nil, err
		}
		manager, err := buildManager(c, v, gw, logger)
		if err != nil {
			return arbitrage.Leg{}, nil, err
		}
		return arbitrage.Leg{
			Gateway:   gw,
			Manager:   manager,
			Pair:      v.Pair,
			SellPrice: v.SellPrice,
		}, gw, nil
	}

	base, baseGw, err := buildLeg(c.BaseLeg)
	if err != nil {
		return nil, err
	}
	arb, arbGw, err := buildLeg(c.ArbLeg)
	if err != nil {
		return nil, err
	}

	s := arbitrage.New(base, arb, c.Threshold, logger)
	return strategy.NewRunner(s, []gateway.Gateway{baseGw, arbGw}, logger), nil
}

func buildManager(c config.Config, v config.Venue, gw gateway.Gateway, logger *zap.Logger) (*lifecycle.Manager, error) {
	reg, err := registry.New(walDir(c, v))
	if err != nil {
		return nil, err
	}
	return lifecycle.NewManager(gw, reg, lifecycle.Config{
		MinOrderAmount:  c.MinOrderAmount,
		PricePrecision:  v.PricePrecision,
		AmountPrecision: v.AmountPrecision,
		SweepEvery:      c.SweepEvery,
	}, logger), nil
}

// walDir scopes each venue's order registry to its own directory so two
// legs of one strategy never share a WAL.
func walDir(c config.Config, v config.Venue) string {
	root := c.WalDir
	if root == "" {
		root = defaultWalDir
	}
	suffix := v.Name + "_" + v.Pair.String()
	if v.IssuerAddress != "" {
		suffix += "_" + v.IssuerAddress
	}
	return filepath.Join(root, suffix)
}

func buildGateway(v config.Venue, logger *zap.Logger) (gateway.Gateway, error) {
	switch v.Name {
	case "bitfinex":
		return bitfinex.New(bitfinex.Config{
			BaseURL:         v.BaseURL,
			AccessKey:       v.AccessKey,
			SecretKey:       v.SecretKey,
			NonceOffset:     v.NonceOffset,
			ProxyURL:        v.ProxyURL,
			DepthLimit:      v.DepthLimit,
			MinDepthLevels:  v.MinDepthLevels,
			PricePrecision:  v.PricePrecision,
			AmountPrecision: v.AmountPrecision,
		}, logger)
	case "ripple":
		return ripple.New(ripple.Config{
			SocketURL:      v.SocketURL,
			WalletAddress:  v.WalletAddress,
			SecretKey:      v.SecretKey,
			IssuerAddress:  v.IssuerAddress,
			DepthLimit:     v.DepthLimit,
			MinDepthLevels: v.MinDepthLevels,
		}, logger)
	case "binance":
		return binance.New(binance.Config{
			AccessKey:       v.AccessKey,
			SecretKey:       v.SecretKey,
			DepthLimit:      v.DepthLimit,
			MinDepthLevels:  v.MinDepthLevels,
			PricePrecision:  v.PricePrecision,
			AmountPrecision: v.AmountPrecision,
		}, logger), nil
	case "bybit":
		return bybit.New(bybit.Config{
			AccessKey:       v.AccessKey,
			SecretKey:       v.SecretKey,
			DepthLimit:      v.DepthLimit,
			MinDepthLevels:  v.MinDepthLevels,
			PricePrecision:  v.PricePrecision,
			AmountPrecision: v.AmountPrecision,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown venue %q", v.Name)
	}
}
