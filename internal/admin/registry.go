package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vault_ledger/internal/domain"
	"vault_ledger/internal/repository"

	"github.com/ethereum/go-ethereum/common"
)

// Registry owns per-asset precision and the set of addresses allowed to change it.
type Registry struct {
	mu     sync.RWMutex
	admins map[common.Address]struct{}
	assets repository.AssetRepository
	logger *slog.Logger
}

func NewRegistry(assets repository.AssetRepository, admins []common.Address, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		admins: make(map[common.Address]struct{}, len(admins)),
		assets: assets,
		logger: logger,
	}
	for _, a := range admins {
		r.admins[a] = struct{}{}
	}
	return r
}

func (r *Registry) IsAdmin(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.admins[addr]
	return ok
}

// Grant adds grantee to the admin set. Only an existing admin may grant.
func (r *Registry) Grant(caller, grantee common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[caller]; !ok {
		return fmt.Errorf("%w: %s is not an admin", domain.ErrUnauthorized, caller.Hex())
	}
	r.admins[grantee] = struct{}{}
	r.logger.Info("Admin granted",
		slog.String("caller", caller.Hex()),
		slog.String("grantee", grantee.Hex()))
	return nil
}

// Revoke removes target from the admin set. The last admin cannot be removed.
func (r *Registry) Revoke(caller, target common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.admins[caller]; !ok {
		return fmt.Errorf("%w: %s is not an admin", domain.ErrUnauthorized, caller.Hex())
	}
	if _, ok := r.admins[target]; ok && len(r.admins) == 1 {
		return fmt.Errorf("%w: cannot revoke the last admin", domain.ErrUnauthorized)
	}
	delete(r.admins, target)
	r.logger.Info("Admin revoked",
		slog.String("caller", caller.Hex()),
		slog.String("target", target.Hex()))
	return nil
}

// SetAssetPrecision configures how many fractional digits asset uses. The
// change applies to operations started afterwards; existing balances are not
// rescaled.
func (r *Registry) SetAssetPrecision(ctx context.Context, caller, asset common.Address, decimals uint8) error {
	if !r.IsAdmin(caller) {
		r.logger.WarnContext(ctx, "Rejected precision update",
			slog.String("caller", caller.Hex()),
			slog.String("asset", asset.Hex()))
		return fmt.Errorf("%w: %s is not an admin", domain.ErrUnauthorized, caller.Hex())
	}

	if err := r.Seed(ctx, asset, decimals); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "Asset precision updated",
		slog.String("caller", caller.Hex()),
		slog.String("asset", asset.Hex()),
		slog.Int("decimals", int(decimals)))
	return nil
}

// Seed stores a precision entry without a capability check. It is meant for
// bootstrap configuration.
func (r *Registry) Seed(ctx context.Context, asset common.Address, decimals uint8) error {
	if err := validateDecimals(decimals); err != nil {
		return err
	}
	if domain.IsNative(asset) && decimals != domain.NativeDecimals {
		return fmt.Errorf("%w: native asset precision is fixed at %d", domain.ErrInvalidAsset, domain.NativeDecimals)
	}

	cfg := &domain.AssetConfig{
		Asset:     asset,
		Decimals:  decimals,
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.assets.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save precision for %s: %w", asset.Hex(), err)
	}
	return nil
}

// Decimals returns the configured precision of asset.
func (r *Registry) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	cfg, err := r.assets.GetByAsset(ctx, asset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return 0, fmt.Errorf("%w: precision for %s not configured", domain.ErrInvalidAsset, asset.Hex())
		}
		return 0, err
	}
	return cfg.Decimals, nil
}

func (r *Registry) Assets(ctx context.Context) ([]*domain.AssetConfig, error) {
	return r.assets.GetAll(ctx)
}

func validateDecimals(decimals uint8) error {
	if decimals == 0 || decimals > domain.MaxDecimals {
		return fmt.Errorf("%w: precision %d outside [1, %d]", domain.ErrInvalidAsset, decimals, domain.MaxDecimals)
	}
	return nil
}
