package oracle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"vault_ledger/internal/domain"
)

// ManualFeed is an operator-driven price source. Each Set opens a new round.
type ManualFeed struct {
	mu     sync.RWMutex
	sample domain.PriceSample
	err    error
	now    func() time.Time
}

func NewManualFeed(price *big.Int) *ManualFeed {
	f := &ManualFeed{now: time.Now}
	f.sample.RoundID = new(big.Int)
	f.sample.AnsweredInRound = new(big.Int)
	if price != nil {
		f.Set(price)
	}
	return f
}

// Set publishes price as a complete round stamped with the current time.
func (f *ManualFeed) Set(price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	round := big.NewInt(1)
	if f.sample.RoundID != nil {
		round.Add(round, f.sample.RoundID)
	}
	f.sample = domain.PriceSample{
		Price:           new(big.Int).Set(price),
		RoundID:         round,
		AnsweredInRound: new(big.Int).Set(round),
		StartedAt:       now,
		UpdatedAt:       now,
	}
	f.err = nil
}

// Refresh republishes the last price as a new round so an unchanged operator
// price does not age past the heartbeat. It reports false when no price has
// been set.
func (f *ManualFeed) Refresh() bool {
	f.mu.RLock()
	price := f.sample.Price
	f.mu.RUnlock()

	if price == nil {
		return false
	}
	f.Set(price)
	return true
}

// SetRound replaces the current sample verbatim.
func (f *ManualFeed) SetRound(sample domain.PriceSample) {
	f.mu.Lock()
	f.sample = sample.Clone()
	f.mu.Unlock()
}

// SetError makes subsequent reads fail with err until the next Set.
func (f *ManualFeed) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *ManualFeed) LatestRoundData(ctx context.Context) (domain.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceSample{}, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.err != nil {
		return domain.PriceSample{}, f.err
	}
	return f.sample.Clone(), nil
}
