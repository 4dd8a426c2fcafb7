package conversion

import (
	"fmt"
	"math/big"

	"vault_ledger/internal/domain"
)

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Normalize rescales a native amount to the reference precision. The division
// truncates toward zero; dust below one reference unit is dropped.
func Normalize(amount *big.Int, decimals uint8) (*big.Int, error) {
	if decimals == 0 {
		return nil, fmt.Errorf("%w: precision not configured", domain.ErrInvalidAsset)
	}
	if decimals < domain.ReferenceDecimals || decimals > domain.MaxDecimals {
		return nil, fmt.Errorf("%w: precision %d outside [%d, %d]",
			domain.ErrInvalidAsset, decimals, domain.ReferenceDecimals, domain.MaxDecimals)
	}
	if amount == nil {
		return new(big.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount %s", domain.ErrInvalidAmount, amount)
	}

	return new(big.Int).Quo(amount, Pow10(decimals-domain.ReferenceDecimals)), nil
}
