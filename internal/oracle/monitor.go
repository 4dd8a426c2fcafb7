package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"vault_ledger/internal/domain"

	"github.com/robfig/cron/v3"
)

type PriceObserver interface {
	ObserveOraclePrice(price *big.Int, age time.Duration)
	ObserveOracleFailure(reason string)
}

// Monitor probes the gateway on a cron schedule so feed staleness shows up in
// logs and metrics before a deposit or withdrawal trips over it.
type Monitor struct {
	gateway  *Gateway
	observer PriceObserver
	cron     *cron.Cron
	timeout  time.Duration
	logger   *slog.Logger
}

func NewMonitor(gateway *Gateway, observer PriceObserver, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		gateway:  gateway,
		observer: observer,
		cron:     cron.New(),
		timeout:  10 * time.Second,
		logger:   logger,
	}
}

// Start schedules Probe using a standard cron expression or descriptor such as "@every 1m".
func (m *Monitor) Start(schedule string) error {
	_, err := m.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		_ = m.Probe(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule oracle monitor %q: %w", schedule, err)
	}

	m.cron.Start()
	m.logger.Info("Oracle monitor started", slog.String("schedule", schedule))
	return nil
}

// KeepFresh republishes feed's price on schedule. It is only meaningful for a
// manual feed, whose rounds otherwise age out after the heartbeat.
func (m *Monitor) KeepFresh(schedule string, feed *ManualFeed) error {
	_, err := m.cron.AddFunc(schedule, func() {
		if !feed.Refresh() {
			m.logger.Warn("Manual price feed has no price to republish")
			return
		}
		m.logger.Debug("Manual price republished")
	})
	if err != nil {
		return fmt.Errorf("schedule manual price refresh %q: %w", schedule, err)
	}
	m.logger.Info("Manual price refresh scheduled", slog.String("schedule", schedule))
	return nil
}

// Stop halts scheduling and waits for a running probe up to ctx's deadline.
func (m *Monitor) Stop(ctx context.Context) {
	done := m.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		m.logger.Warn("Oracle monitor stop timed out")
	}
}

func (m *Monitor) Probe(ctx context.Context) error {
	price, age, err := m.gateway.CurrentUnitPrice(ctx, domain.NativeAsset)
	if err != nil {
		reason := failureReason(err)
		if m.observer != nil {
			m.observer.ObserveOracleFailure(reason)
		}
		m.logger.WarnContext(ctx, "Oracle probe failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return err
	}

	if m.observer != nil {
		m.observer.ObserveOraclePrice(price, age)
	}
	m.logger.DebugContext(ctx, "Oracle probe ok",
		slog.String("price", price.String()),
		slog.Duration("age", age))
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrStaleOracleData):
		return "stale"
	case errors.Is(err, domain.ErrInvalidPrice):
		return "invalid_price"
	default:
		return "source"
	}
}
