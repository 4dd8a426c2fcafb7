package repository

import (
	"context"
	"errors"
	"math/big"
	"time"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type AssetRepository interface {
	Save(ctx context.Context, cfg *domain.AssetConfig) error
	GetByAsset(ctx context.Context, asset common.Address) (*domain.AssetConfig, error)
	GetAll(ctx context.Context) ([]*domain.AssetConfig, error)
}

type VaultRepository interface {
	GetBalance(ctx context.Context, key domain.VaultKey) (*big.Int, error)
	Credit(ctx context.Context, key domain.VaultKey, amount *big.Int) error
	Debit(ctx context.Context, key domain.VaultKey, amount *big.Int) error
	GetByUser(ctx context.Context, user common.Address) (map[common.Address]*big.Int, error)
	SumByAsset(ctx context.Context, asset common.Address) (*big.Int, error)
}

type EventRepository interface {
	Save(ctx context.Context, event *domain.LedgerEvent) error
	GetByID(ctx context.Context, id string) (*domain.LedgerEvent, error)
	GetByUser(ctx context.Context, user common.Address, limit, offset int) ([]*domain.LedgerEvent, error)
	GetByPeriod(ctx context.Context, from, to time.Time) ([]*domain.LedgerEvent, error)
}

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)
