package oracle

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

var (
	baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	feedAddr = common.HexToAddress("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419")
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sampleAt(price int64, round int64, answeredIn int64, updated time.Time) domain.PriceSample {
	return domain.PriceSample{
		Price:           big.NewInt(price),
		RoundID:         big.NewInt(round),
		AnsweredInRound: big.NewInt(answeredIn),
		StartedAt:       updated,
		UpdatedAt:       updated,
	}
}

func TestGateway_FreshSample(t *testing.T) {
	feed := NewManualFeed(nil)
	feed.SetRound(sampleAt(2000_00000000, 7, 7, baseTime.Add(-10*time.Minute)))
	gw := NewGateway(feed, nil, WithClock(fixedClock(baseTime)))

	price, age, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price.Cmp(big.NewInt(2000_00000000)) != 0 {
		t.Errorf("expected price 2000e8, got %s", price)
	}
	if age != 10*time.Minute {
		t.Errorf("expected age 10m, got %s", age)
	}
}

func TestGateway_HeartbeatBoundary(t *testing.T) {
	feed := NewManualFeed(nil)
	gw := NewGateway(feed, nil, WithClock(fixedClock(baseTime)))

	feed.SetRound(sampleAt(1, 1, 1, baseTime.Add(-domain.OracleHeartbeat)))
	if _, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset); err != nil {
		t.Errorf("sample exactly at the heartbeat must be accepted, got %v", err)
	}

	feed.SetRound(sampleAt(1, 1, 1, baseTime.Add(-domain.OracleHeartbeat-time.Second)))
	if _, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset); !errors.Is(err, domain.ErrStaleOracleData) {
		t.Errorf("expected ErrStaleOracleData past the heartbeat, got %v", err)
	}
}

func TestGateway_IncompleteRound(t *testing.T) {
	feed := NewManualFeed(nil)
	feed.SetRound(sampleAt(2000_00000000, 9, 8, baseTime))
	gw := NewGateway(feed, nil, WithClock(fixedClock(baseTime)))

	_, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)

	if !errors.Is(err, domain.ErrStaleOracleData) {
		t.Errorf("expected ErrStaleOracleData, got %v", err)
	}
}

func TestGateway_ZeroUpdatedAt(t *testing.T) {
	feed := NewManualFeed(nil)
	feed.SetRound(sampleAt(2000_00000000, 3, 3, time.Time{}))
	gw := NewGateway(feed, nil, WithClock(fixedClock(baseTime)))

	_, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)

	if !errors.Is(err, domain.ErrStaleOracleData) {
		t.Errorf("expected ErrStaleOracleData, got %v", err)
	}
}

func TestGateway_NonPositivePrice(t *testing.T) {
	feed := NewManualFeed(nil)
	feed.SetRound(sampleAt(0, 3, 3, baseTime))
	gw := NewGateway(feed, nil, WithClock(fixedClock(baseTime)))

	_, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)

	if !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestGateway_OnlyPricesNativeAsset(t *testing.T) {
	gw := NewGateway(NewManualFeed(big.NewInt(1)), nil)

	_, _, err := gw.CurrentUnitPrice(context.Background(), common.HexToAddress("0x01"))

	if !errors.Is(err, domain.ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestGateway_ReadsEveryCall(t *testing.T) {
	feed := NewManualFeed(big.NewInt(2000_00000000))
	gw := NewGateway(feed, nil)

	first, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	feed.Set(big.NewInt(2100_00000000))
	second, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.Cmp(second) == 0 {
		t.Errorf("expected a fresh read after Set, got %s twice", first)
	}
}

func TestGateway_SourceError(t *testing.T) {
	feed := NewManualFeed(big.NewInt(1))
	boom := errors.New("rpc unavailable")
	feed.SetError(boom)
	gw := NewGateway(feed, nil)

	_, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)

	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
}

func TestManualFeed_SetOpensNewRound(t *testing.T) {
	feed := NewManualFeed(big.NewInt(5))
	feed.Set(big.NewInt(6))

	sample, err := feed.LatestRoundData(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sample.RoundID.Int64() != 2 || sample.AnsweredInRound.Cmp(sample.RoundID) != 0 {
		t.Errorf("expected complete round 2, got round=%s answered=%s", sample.RoundID, sample.AnsweredInRound)
	}
	sample.Price.SetInt64(0)
	again, _ := feed.LatestRoundData(context.Background())
	if again.Price.Int64() != 6 {
		t.Errorf("feed state mutated through returned sample: %s", again.Price)
	}
}

type fakeCaller struct {
	latest []byte
	dec    []byte
	err    error
	lastTo common.Address
}

func (c *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	if call.To != nil {
		c.lastTo = *call.To
	}
	if bytes.Equal(call.Data[:4], aggregatorABI.Methods["decimals"].ID) {
		return c.dec, nil
	}
	return c.latest, nil
}

func packLatest(t *testing.T, round, answer, started, updated, answeredIn int64) []byte {
	t.Helper()
	out, err := aggregatorABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(round), big.NewInt(answer), big.NewInt(started), big.NewInt(updated), big.NewInt(answeredIn))
	if err != nil {
		t.Fatalf("pack latestRoundData: %v", err)
	}
	return out
}

func TestChainlinkFeed_LatestRoundData(t *testing.T) {
	updated := baseTime.Unix()
	caller := &fakeCaller{latest: packLatest(t, 42, 3150_12345678, updated-5, updated, 42)}
	feed := NewChainlinkFeed(caller, feedAddr)

	sample, err := feed.LatestRoundData(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sample.Price.Cmp(big.NewInt(3150_12345678)) != 0 {
		t.Errorf("unexpected price %s", sample.Price)
	}
	if sample.RoundID.Int64() != 42 || sample.AnsweredInRound.Int64() != 42 {
		t.Errorf("unexpected rounds %s/%s", sample.RoundID, sample.AnsweredInRound)
	}
	if !sample.UpdatedAt.Equal(baseTime) {
		t.Errorf("expected updatedAt %s, got %s", baseTime, sample.UpdatedAt)
	}
	if caller.lastTo != feedAddr {
		t.Errorf("expected call to %s, got %s", feedAddr.Hex(), caller.lastTo.Hex())
	}
}

func TestChainlinkFeed_ThroughGatewayStale(t *testing.T) {
	updated := baseTime.Add(-2 * time.Hour).Unix()
	caller := &fakeCaller{latest: packLatest(t, 10, 2000_00000000, updated, updated, 10)}
	gw := NewGateway(NewChainlinkFeed(caller, feedAddr), nil, WithClock(fixedClock(baseTime)))

	_, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)

	if !errors.Is(err, domain.ErrStaleOracleData) {
		t.Errorf("expected ErrStaleOracleData, got %v", err)
	}
}

func TestChainlinkFeed_VerifyDecimals(t *testing.T) {
	good, _ := aggregatorABI.Methods["decimals"].Outputs.Pack(uint8(8))
	bad, _ := aggregatorABI.Methods["decimals"].Outputs.Pack(uint8(18))

	if err := NewChainlinkFeed(&fakeCaller{dec: good}, feedAddr).VerifyDecimals(context.Background()); err != nil {
		t.Errorf("expected 8 decimals to verify, got %v", err)
	}
	if err := NewChainlinkFeed(&fakeCaller{dec: bad}, feedAddr).VerifyDecimals(context.Background()); !errors.Is(err, domain.ErrInvalidPrice) {
		t.Errorf("expected ErrInvalidPrice for 18 decimals, got %v", err)
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	prices   []*big.Int
	failures []string
}

func (o *recordingObserver) ObserveOraclePrice(price *big.Int, age time.Duration) {
	o.mu.Lock()
	o.prices = append(o.prices, price)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveOracleFailure(reason string) {
	o.mu.Lock()
	o.failures = append(o.failures, reason)
	o.mu.Unlock()
}

func TestMonitor_Probe(t *testing.T) {
	feed := NewManualFeed(nil)
	feed.SetRound(sampleAt(2000_00000000, 1, 1, baseTime))
	obs := &recordingObserver{}
	m := NewMonitor(NewGateway(feed, nil, WithClock(fixedClock(baseTime))), obs, nil)

	if err := m.Probe(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	feed.SetRound(sampleAt(2000_00000000, 2, 1, baseTime))
	if err := m.Probe(context.Background()); !errors.Is(err, domain.ErrStaleOracleData) {
		t.Fatalf("expected ErrStaleOracleData, got %v", err)
	}

	if len(obs.prices) != 1 {
		t.Errorf("expected 1 observed price, got %d", len(obs.prices))
	}
	if len(obs.failures) != 1 || obs.failures[0] != "stale" {
		t.Errorf("expected one stale failure, got %v", obs.failures)
	}
}

func TestMonitor_StartRejectsBadSchedule(t *testing.T) {
	m := NewMonitor(NewGateway(NewManualFeed(big.NewInt(1)), nil), nil, nil)

	if err := m.Start("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestManualFeed_RefreshRestartsHeartbeat(t *testing.T) {
	feed := NewManualFeed(nil)
	if feed.Refresh() {
		t.Fatal("expected Refresh without a price to report false")
	}

	feed.now = fixedClock(baseTime.Add(-2 * domain.OracleHeartbeat))
	feed.Set(big.NewInt(2000_00000000))
	gw := NewGateway(feed, nil, WithClock(fixedClock(baseTime)))
	if _, _, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset); !errors.Is(err, domain.ErrStaleOracleData) {
		t.Fatalf("expected ErrStaleOracleData before refresh, got %v", err)
	}

	feed.now = fixedClock(baseTime)
	if !feed.Refresh() {
		t.Fatal("expected Refresh to republish the last price")
	}

	price, age, err := gw.CurrentUnitPrice(context.Background(), domain.NativeAsset)
	if err != nil {
		t.Fatalf("unexpected error after refresh: %v", err)
	}
	if price.Cmp(big.NewInt(2000_00000000)) != 0 || age != 0 {
		t.Errorf("expected unchanged price with zero age, got %s aged %s", price, age)
	}
	sample, _ := feed.LatestRoundData(context.Background())
	if sample.RoundID.Int64() != 2 {
		t.Errorf("expected refresh to open round 2, got %s", sample.RoundID)
	}
}

func TestMonitor_KeepFresh(t *testing.T) {
	feed := NewManualFeed(big.NewInt(2000_00000000))
	m := NewMonitor(NewGateway(feed, nil), nil, nil)

	if err := m.KeepFresh("not a schedule", feed); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
	if err := m.KeepFresh("@every 1s", feed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Start("@every 1h"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer m.Stop(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sample, _ := feed.LatestRoundData(context.Background())
		if sample.RoundID.Int64() > 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("expected the scheduled refresh to open a new round")
}
