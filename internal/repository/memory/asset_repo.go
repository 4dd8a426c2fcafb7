package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"vault_ledger/internal/domain"
	"vault_ledger/internal/repository"

	"github.com/ethereum/go-ethereum/common"
)

type AssetRepository struct {
	mu     sync.RWMutex
	assets map[common.Address]*domain.AssetConfig
}

func NewAssetRepository() *AssetRepository {
	return &AssetRepository{
		assets: make(map[common.Address]*domain.AssetConfig),
	}
}

// Save inserts or replaces the precision entry; entries are never deleted.
func (r *AssetRepository) Save(ctx context.Context, cfg *domain.AssetConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *cfg
	if existing, exists := r.assets[cfg.Asset]; exists {
		stored.Version = existing.Version + 1
	} else {
		stored.Version = 1
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	r.assets[cfg.Asset] = &stored
	cfg.Version = stored.Version

	return nil
}

func (r *AssetRepository) GetByAsset(ctx context.Context, asset common.Address) (*domain.AssetConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, exists := r.assets[asset]
	if !exists {
		return nil, fmt.Errorf("%w: asset %s", repository.ErrNotFound, asset.Hex())
	}
	clone := *cfg
	return &clone, nil
}

func (r *AssetRepository) GetAll(ctx context.Context) ([]*domain.AssetConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.AssetConfig, 0, len(r.assets))
	for _, cfg := range r.assets {
		clone := *cfg
		result = append(result, &clone)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Asset.Cmp(result[j].Asset) < 0
	})

	return result, nil
}
