package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vadiminshakov/quoter/internal/gateway"
)

const defaultCooldown = 10 * time.Minute

// Runner drives one strategy in a synchronous loop: tick, log the actions,
// sleep the strategy-chosen interval, repeat. A tick that fails is treated
// as a probably-transient venue issue: the error is logged once together
// with the last raw responses, then the loop cools down and resumes. The
// kill flag is checked between ticks only; in-flight calls complete or time
// out on their own.
type Runner struct {
	strategy Strategy
	gateways []gateway.Gateway
	cooldown time.Duration
	logger   *zap.Logger

	killed   chan struct{}
	killOnce sync.Once
}

func NewRunner(s Strategy, gateways []gateway.Gateway, logger *zap.Logger) *Runner {
	return &Runner{
		strategy: s,
		gateways: gateways,
		cooldown: defaultCooldown,
		logger: logger.With(
			zap.String("strategy", s.Name()),
			zap.String("run_id", uuid.NewString())),
		killed: make(chan struct{}),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	defer r.closeGateways()

	r.logger.Info("strategy loop started")
	for {
		if r.stopped(ctx) {
			r.logger.Info("strategy loop stopped")
			return nil
		}

		events, err := r.strategy.Tick(ctx)
		for _, e := range events {
			r.logger.Info("action", zap.String("event", e.String()))
		}
		if err != nil {
			r.logErr(err)
			if !r.sleep(ctx, r.cooldown) {
				r.logger.Info("strategy loop stopped")
				return nil
			}
			continue
		}

		if !r.sleep(ctx, r.strategy.Interval()) {
			r.logger.Info("strategy loop stopped")
			return nil
		}
	}
}

// Kill requests a graceful stop: the loop exits before its next tick and
// the venue connections are closed.
func (r *Runner) Kill() {
	r.killOnce.Do(func() { close(r.killed) })
}

func (r *Runner) logErr(err error) {
	fields := []zap.Field{zap.Error(err)}
	for _, gw := range r.gateways {
		if raw := gw.LastResponse(); len(raw) > 0 {
			fields = append(fields, zap.ByteString("last_response_"+gw.Name(), raw))
		}
	}
	fields = append(fields, zap.Duration("cooldown", r.cooldown))
	r.logger.Error("tick failed, cooling down", fields...)
}

func (r *Runner) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-r.killed:
		return true
	default:
		return false
	}
}

func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.killed:
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) closeGateways() {
	for _, gw := range r.gateways {
		if err := gw.Close(); err != nil {
			r.logger.Warn("failed to close gateway",
				zap.String("venue", gw.Name()), zap.Error(err))
		}
	}
}
