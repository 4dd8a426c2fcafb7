package conversion

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

type PrecisionSource interface {
	Decimals(ctx context.Context, asset common.Address) (uint8, error)
}

type PriceGateway interface {
	CurrentUnitPrice(ctx context.Context, asset common.Address) (*big.Int, time.Duration, error)
}

// precisionScale is applied during the price multiply and divided back out last.
var precisionScale = Pow10(18)

type Converter struct {
	precisions     PrecisionSource
	prices         PriceGateway
	referenceAsset common.Address
	strictPegging  bool
	pegged         map[common.Address]struct{}
	logger         *slog.Logger
}

type Option func(*Converter)

// WithStrictPegging restricts parity pricing to the reference asset and the listed assets.
func WithStrictPegging(assets ...common.Address) Option {
	return func(c *Converter) {
		c.strictPegging = true
		for _, asset := range assets {
			c.pegged[asset] = struct{}{}
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewConverter(precisions PrecisionSource, prices PriceGateway, referenceAsset common.Address, opts ...Option) *Converter {
	c := &Converter{
		precisions:     precisions,
		prices:         prices,
		referenceAsset: referenceAsset,
		pegged:         make(map[common.Address]struct{}),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ToUnitValue converts a native amount of asset into unit-of-account.
func (c *Converter) ToUnitValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error) {
	decimals, err := c.precisions.Decimals(ctx, asset)
	if err != nil {
		return nil, err
	}

	normalized, err := Normalize(amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", asset.Hex(), err)
	}

	switch {
	case domain.IsNative(asset):
		price, _, err := c.prices.CurrentUnitPrice(ctx, asset)
		if err != nil {
			return nil, err
		}
		value := new(big.Int).Mul(normalized, price)
		value.Mul(value, precisionScale)
		value.Quo(value, Pow10(domain.OracleDecimals))
		value.Quo(value, precisionScale)
		return checkBounds(value)
	case asset == c.referenceAsset:
		return normalized, nil
	default:
		if c.strictPegging {
			if _, ok := c.pegged[asset]; !ok {
				return nil, fmt.Errorf("%w: %s has no price feed and is not pegged", domain.ErrInvalidAsset, asset.Hex())
			}
		}
		c.logger.DebugContext(ctx, "Valuing asset at parity",
			slog.String("asset", asset.Hex()))
		return normalized, nil
	}
}

// ToNativeAmount converts a unit-of-account value into native-asset base units at the current price.
func (c *Converter) ToNativeAmount(ctx context.Context, unitValue *big.Int) (*big.Int, error) {
	if unitValue == nil || unitValue.Sign() < 0 {
		return nil, fmt.Errorf("%w: unit value must be non-negative", domain.ErrInvalidAmount)
	}

	price, _, err := c.prices.CurrentUnitPrice(ctx, domain.NativeAsset)
	if err != nil {
		return nil, err
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidPrice, price)
	}

	amount := new(big.Int).Mul(unitValue, Pow10(domain.OracleDecimals))
	amount.Mul(amount, Pow10(domain.NativeDecimals-domain.ReferenceDecimals))
	amount.Quo(amount, price)

	return checkBounds(amount)
}

func checkBounds(v *big.Int) (*big.Int, error) {
	if v.Cmp(math.MaxBig256) > 0 {
		return nil, fmt.Errorf("%w: %d-bit value", domain.ErrOverflow, v.BitLen())
	}
	return v, nil
}
