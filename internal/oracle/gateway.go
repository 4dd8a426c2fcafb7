package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// PriceSource reports the latest sample of an external USD price feed.
type PriceSource interface {
	LatestRoundData(ctx context.Context) (domain.PriceSample, error)
}

// Gateway wraps a single price source and enforces the heartbeat on every read.
// Nothing is cached between calls.
type Gateway struct {
	source    PriceSource
	heartbeat time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type GatewayOption func(*Gateway)

// WithClock overrides the time source used to age samples.
func WithClock(now func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGateway(source PriceSource, logger *slog.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		source:    source,
		heartbeat: domain.OracleHeartbeat,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CurrentUnitPrice returns the native asset's USD price at oracle precision
// together with the age of the sample it came from.
func (g *Gateway) CurrentUnitPrice(ctx context.Context, asset common.Address) (*big.Int, time.Duration, error) {
	if !domain.IsNative(asset) {
		return nil, 0, fmt.Errorf("%w: no price feed for %s", domain.ErrInvalidAsset, asset.Hex())
	}

	sample, err := g.source.LatestRoundData(ctx)
	if err != nil {
		g.logger.ErrorContext(ctx, "Failed to read price feed",
			slog.String("error", err.Error()))
		return nil, 0, fmt.Errorf("read price feed: %w", err)
	}

	age, err := g.checkFreshness(sample)
	if err != nil {
		g.logger.WarnContext(ctx, "Rejected price sample",
			slog.String("round_id", bigString(sample.RoundID)),
			slog.String("answered_in_round", bigString(sample.AnsweredInRound)),
			slog.Time("updated_at", sample.UpdatedAt),
			slog.String("error", err.Error()))
		return nil, 0, err
	}

	if sample.Price == nil || sample.Price.Sign() <= 0 {
		return nil, 0, fmt.Errorf("%w: feed answered %s", domain.ErrInvalidPrice, bigString(sample.Price))
	}

	return new(big.Int).Set(sample.Price), age, nil
}

func (g *Gateway) checkFreshness(sample domain.PriceSample) (time.Duration, error) {
	if sample.RoundID == nil || sample.AnsweredInRound == nil {
		return 0, fmt.Errorf("%w: missing round data", domain.ErrStaleOracleData)
	}
	if sample.AnsweredInRound.Cmp(sample.RoundID) < 0 {
		return 0, fmt.Errorf("%w: answered in round %s before round %s",
			domain.ErrStaleOracleData, sample.AnsweredInRound, sample.RoundID)
	}
	if sample.UpdatedAt.IsZero() {
		return 0, fmt.Errorf("%w: round %s incomplete", domain.ErrStaleOracleData, sample.RoundID)
	}

	age := g.now().Sub(sample.UpdatedAt)
	if age > g.heartbeat {
		return age, fmt.Errorf("%w: sample is %s old, heartbeat %s",
			domain.ErrStaleOracleData, age.Truncate(time.Second), g.heartbeat)
	}
	if age < 0 {
		age = 0
	}
	return age, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.String()
}
