package conversion

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	dai  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

type staticPrecisions map[common.Address]uint8

func (p staticPrecisions) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	d, ok := p[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s not configured", domain.ErrInvalidAsset, asset.Hex())
	}
	return d, nil
}

type stubGateway struct {
	price *big.Int
	err   error
	calls int
}

func (g *stubGateway) CurrentUnitPrice(ctx context.Context, asset common.Address) (*big.Int, time.Duration, error) {
	g.calls++
	if g.err != nil {
		return nil, 0, g.err
	}
	return new(big.Int).Set(g.price), 0, nil
}

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Pow10(18))
}

func newTestConverter(gw *stubGateway, opts ...Option) *Converter {
	precisions := staticPrecisions{
		domain.NativeAsset: domain.NativeDecimals,
		usdc:               6,
		dai:                18,
	}
	return NewConverter(precisions, gw, usdc, opts...)
}

func TestNormalize_TruncatesTowardZero(t *testing.T) {
	amount, _ := new(big.Int).SetString("1999999999999", 10)

	got, err := Normalize(amount, 18)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("expected 1 after truncation, got %s", got)
	}
}

func TestNormalize_DustBecomesZero(t *testing.T) {
	got, err := Normalize(big.NewInt(999_999_999_999), 18)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("expected dust to truncate to 0, got %s", got)
	}
}

func TestNormalize_ReferencePrecisionIsIdentity(t *testing.T) {
	got, err := Normalize(big.NewInt(123_456), 6)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(123_456)) != 0 {
		t.Errorf("expected identity, got %s", got)
	}
}

func TestNormalize_RejectsUnsupportedPrecision(t *testing.T) {
	for _, decimals := range []uint8{0, 2, 5, domain.MaxDecimals + 1} {
		_, err := Normalize(big.NewInt(1), decimals)
		if !errors.Is(err, domain.ErrInvalidAsset) {
			t.Errorf("decimals=%d: expected ErrInvalidAsset, got %v", decimals, err)
		}
	}
}

func TestConverter_ToUnitValue_Native(t *testing.T) {
	gw := &stubGateway{price: big.NewInt(2000_00000000)}
	c := newTestConverter(gw)

	got, err := c.ToUnitValue(context.Background(), domain.NativeAsset, ether(1))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(2000_000000)) != 0 {
		t.Errorf("expected 2000.000000 USD, got %s", got)
	}
	if gw.calls != 1 {
		t.Errorf("expected one price read, got %d", gw.calls)
	}
}

func TestConverter_ToUnitValue_FractionalPrice(t *testing.T) {
	gw := &stubGateway{price: big.NewInt(1234_56789012)}
	c := newTestConverter(gw)
	amount, _ := new(big.Int).SetString("2500000000000000000", 10)

	got, err := c.ToUnitValue(context.Background(), domain.NativeAsset, amount)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2.5 ETH * 1234.56789012 = 3086.4197253, truncated at 6 digits
	if got.Cmp(big.NewInt(3086_419725)) != 0 {
		t.Errorf("expected 3086419725, got %s", got)
	}
}

func TestConverter_ToUnitValue_ReferenceSkipsOracle(t *testing.T) {
	gw := &stubGateway{err: domain.ErrStaleOracleData}
	c := newTestConverter(gw)

	got, err := c.ToUnitValue(context.Background(), usdc, big.NewInt(5_000_000))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Errorf("expected parity value, got %s", got)
	}
	if gw.calls != 0 {
		t.Errorf("reference asset must not read the oracle, got %d calls", gw.calls)
	}
}

func TestConverter_ToUnitValue_OtherAssetParity(t *testing.T) {
	c := newTestConverter(&stubGateway{})

	got, err := c.ToUnitValue(context.Background(), dai, ether(3))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Cmp(big.NewInt(3_000_000)) != 0 {
		t.Errorf("expected 3.000000 at parity, got %s", got)
	}
}

func TestConverter_ToUnitValue_StrictPeggingRejectsUnlisted(t *testing.T) {
	c := newTestConverter(&stubGateway{}, WithStrictPegging())

	_, err := c.ToUnitValue(context.Background(), dai, ether(1))

	if !errors.Is(err, domain.ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}

	listed := newTestConverter(&stubGateway{}, WithStrictPegging(dai))
	if _, err := listed.ToUnitValue(context.Background(), dai, ether(1)); err != nil {
		t.Errorf("expected allow-listed asset to convert, got %v", err)
	}
}

func TestConverter_ToUnitValue_UnconfiguredAsset(t *testing.T) {
	c := newTestConverter(&stubGateway{})
	unknown := common.HexToAddress("0x1111111111111111111111111111111111111111")

	_, err := c.ToUnitValue(context.Background(), unknown, big.NewInt(1))

	if !errors.Is(err, domain.ErrInvalidAsset) {
		t.Errorf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestConverter_ToUnitValue_StalePricePropagates(t *testing.T) {
	c := newTestConverter(&stubGateway{err: fmt.Errorf("%w: too old", domain.ErrStaleOracleData)})

	_, err := c.ToUnitValue(context.Background(), domain.NativeAsset, ether(1))

	if !errors.Is(err, domain.ErrStaleOracleData) {
		t.Errorf("expected ErrStaleOracleData, got %v", err)
	}
}

func TestConverter_ToNativeAmount(t *testing.T) {
	c := newTestConverter(&stubGateway{price: big.NewInt(2000_00000000)})

	got, err := c.ToNativeAmount(context.Background(), big.NewInt(500_000))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(250), Pow10(12))
	if got.Cmp(want) != 0 {
		t.Errorf("expected %s wei, got %s", want, got)
	}
}

func TestConverter_RoundTripWithinTruncationBound(t *testing.T) {
	c := newTestConverter(&stubGateway{price: big.NewInt(1873_42000000)})
	amount, _ := new(big.Int).SetString("3141592653589793238", 10)

	value, err := c.ToUnitValue(context.Background(), domain.NativeAsset, amount)
	if err != nil {
		t.Fatalf("unexpected error on ToUnitValue: %v", err)
	}
	back, err := c.ToNativeAmount(context.Background(), value)
	if err != nil {
		t.Fatalf("unexpected error on ToNativeAmount: %v", err)
	}

	if back.Cmp(amount) > 0 {
		t.Fatalf("round trip must never exceed the original: %s > %s", back, amount)
	}
	// one normalization unit (1e12 wei) plus one unit-of-account step at this price
	bound := new(big.Int).Add(Pow10(12), new(big.Int).Quo(new(big.Int).Mul(Pow10(8), Pow10(12)), big.NewInt(1873_42000000)))
	bound.Add(bound, Pow10(12))
	loss := new(big.Int).Sub(amount, back)
	if loss.Cmp(bound) > 0 {
		t.Errorf("round trip loss %s exceeds bound %s", loss, bound)
	}
}

func TestConverter_ToNativeAmount_RejectsNegative(t *testing.T) {
	c := newTestConverter(&stubGateway{price: big.NewInt(1)})

	_, err := c.ToNativeAmount(context.Background(), big.NewInt(-1))

	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}
