package custody

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Custody moves funds between users and the shared pool. Native transfers use
// the zero address as the asset.
//
// Implementations must hand ctx to anything that can call back into the
// ledger. The ledger marks ctx for the duration of an operation and refuses
// nested calls carrying it immediately; a callback on an unrelated context is
// only refused after the ledger's callout wait.
type Custody interface {
	// ReceiveNative takes amount of the native asset attached by from into the pool.
	ReceiveNative(ctx context.Context, from common.Address, amount *big.Int) error
	SendNative(ctx context.Context, to common.Address, amount *big.Int) error
	Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	// TransferFrom pulls a pre-approved token amount from owner into the pool.
	TransferFrom(ctx context.Context, token, owner common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
}

type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Movement describes a transfer about to settle.
type Movement struct {
	Direction    Direction
	Asset        common.Address
	Counterparty common.Address
	Amount       *big.Int
}

// TransferHook runs before a movement settles. Returning an error rejects it.
type TransferHook func(ctx context.Context, m Movement) error
