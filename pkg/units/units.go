// Package units converts between integer base units and human-readable
// decimal strings.
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var ErrInvalidUnits = errors.New("invalid units")

// Format renders amount base units with exactly decimals fractional digits.
func Format(amount *big.Int, decimals uint8) string {
	if amount == nil {
		amount = new(big.Int)
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).StringFixed(int32(decimals))
}

// Parse reads a decimal string such as "1.5" into base units. Inputs with
// more fractional digits than decimals are rejected rather than rounded.
func Parse(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidUnits, s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidUnits, s)
	}

	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d fractional digits", ErrInvalidUnits, s, decimals)
	}
	return shifted.BigInt(), nil
}

// ParseInteger reads a base-10 integer amount of base units.
func ParseInteger(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidUnits, s)
	}
	return v, nil
}
