package memory

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

type VaultRepository struct {
	mu        sync.RWMutex
	balances  map[domain.VaultKey]*big.Int
	userIndex map[common.Address][]common.Address
}

func NewVaultRepository() *VaultRepository {
	return &VaultRepository{
		balances:  make(map[domain.VaultKey]*big.Int),
		userIndex: make(map[common.Address][]common.Address),
	}
}

// GetBalance returns zero for rows that were never credited.
func (r *VaultRepository) GetBalance(ctx context.Context, key domain.VaultKey) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	balance, exists := r.balances[key]
	if !exists {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func (r *VaultRepository) Credit(ctx context.Context, key domain.VaultKey, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: credit %s", domain.ErrInvalidAmount, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	balance, exists := r.balances[key]
	if !exists {
		balance = new(big.Int)
		r.balances[key] = balance
		r.userIndex[key.User] = append(r.userIndex[key.User], key.Asset)
	}
	balance.Add(balance, amount)

	return nil
}

func (r *VaultRepository) Debit(ctx context.Context, key domain.VaultKey, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: debit %s", domain.ErrInvalidAmount, key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	balance, exists := r.balances[key]
	if !exists || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: vault %s", domain.ErrInsufficientBalance, key)
	}
	balance.Sub(balance, amount)

	return nil
}

func (r *VaultRepository) GetByUser(ctx context.Context, user common.Address) (map[common.Address]*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[common.Address]*big.Int, len(r.userIndex[user]))
	for _, asset := range r.userIndex[user] {
		result[asset] = new(big.Int).Set(r.balances[domain.VaultKey{User: user, Asset: asset}])
	}

	return result, nil
}

func (r *VaultRepository) SumByAsset(ctx context.Context, asset common.Address) (*big.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := new(big.Int)
	for key, balance := range r.balances {
		if key.Asset == asset {
			total.Add(total, balance)
		}
	}

	return total, nil
}
