package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const (
	ReferenceDecimals uint8 = 6
	OracleDecimals    uint8 = 8
	NativeDecimals    uint8 = 18
	MaxDecimals       uint8 = 36

	OracleHeartbeat = 3600 * time.Second
)

// NativeAsset is the reserved identifier of the chain's base currency.
var NativeAsset = common.Address{}

func IsNative(asset common.Address) bool {
	return asset == NativeAsset
}

type AssetConfig struct {
	Asset     common.Address `json:"asset"`
	Decimals  uint8          `json:"decimals"`
	UpdatedAt time.Time      `json:"updated_at"`
	Version   int            `json:"version"`
}
