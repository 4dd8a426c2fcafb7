package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"vault_ledger/internal/domain"
	"vault_ledger/internal/repository"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	usdc  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

func TestVaultRepository_CreditAndGetBalance(t *testing.T) {
	repo := NewVaultRepository()
	key := domain.VaultKey{User: alice, Asset: usdc}

	if err := repo.Credit(context.Background(), key, big.NewInt(150)); err != nil {
		t.Fatalf("unexpected error on Credit: %v", err)
	}
	got, err := repo.GetBalance(context.Background(), key)

	if err != nil {
		t.Fatalf("unexpected error on GetBalance: %v", err)
	}
	if got.Cmp(big.NewInt(150)) != 0 {
		t.Errorf("expected balance 150, got %s", got)
	}
}

func TestVaultRepository_UnknownRowIsZero(t *testing.T) {
	repo := NewVaultRepository()

	got, err := repo.GetBalance(context.Background(), domain.VaultKey{User: bob, Asset: domain.NativeAsset})

	if err != nil {
		t.Fatalf("unexpected error on GetBalance: %v", err)
	}
	if got.Sign() != 0 {
		t.Errorf("expected zero balance, got %s", got)
	}
}

func TestVaultRepository_DebitInsufficient(t *testing.T) {
	repo := NewVaultRepository()
	key := domain.VaultKey{User: alice, Asset: usdc}
	_ = repo.Credit(context.Background(), key, big.NewInt(10))

	err := repo.Debit(context.Background(), key, big.NewInt(11))

	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	got, _ := repo.GetBalance(context.Background(), key)
	if got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("expected balance untouched at 10, got %s", got)
	}
}

func TestVaultRepository_RowStaysAddressableAtZero(t *testing.T) {
	repo := NewVaultRepository()
	key := domain.VaultKey{User: alice, Asset: usdc}
	_ = repo.Credit(context.Background(), key, big.NewInt(5))
	_ = repo.Debit(context.Background(), key, big.NewInt(5))

	byUser, err := repo.GetByUser(context.Background(), alice)

	if err != nil {
		t.Fatalf("unexpected error on GetByUser: %v", err)
	}
	balance, ok := byUser[usdc]
	if !ok || balance.Sign() != 0 {
		t.Errorf("expected zero row for usdc, got %v (present=%v)", balance, ok)
	}
}

func TestVaultRepository_ReturnedBalanceIsACopy(t *testing.T) {
	repo := NewVaultRepository()
	key := domain.VaultKey{User: alice, Asset: usdc}
	_ = repo.Credit(context.Background(), key, big.NewInt(7))

	got, _ := repo.GetBalance(context.Background(), key)
	got.SetInt64(1000)

	again, _ := repo.GetBalance(context.Background(), key)
	if again.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("stored balance mutated through returned value: %s", again)
	}
}

func TestVaultRepository_SumByAsset(t *testing.T) {
	repo := NewVaultRepository()
	_ = repo.Credit(context.Background(), domain.VaultKey{User: alice, Asset: usdc}, big.NewInt(30))
	_ = repo.Credit(context.Background(), domain.VaultKey{User: bob, Asset: usdc}, big.NewInt(12))
	_ = repo.Credit(context.Background(), domain.VaultKey{User: bob, Asset: domain.NativeAsset}, big.NewInt(99))

	total, err := repo.SumByAsset(context.Background(), usdc)

	if err != nil {
		t.Fatalf("unexpected error on SumByAsset: %v", err)
	}
	if total.Cmp(big.NewInt(42)) != 0 {
		t.Errorf("expected total 42, got %s", total)
	}
}

func TestAssetRepository_SaveUpdatesVersion(t *testing.T) {
	repo := NewAssetRepository()
	ctx := context.Background()

	_ = repo.Save(ctx, &domain.AssetConfig{Asset: usdc, Decimals: 6})
	_ = repo.Save(ctx, &domain.AssetConfig{Asset: usdc, Decimals: 8})
	got, err := repo.GetByAsset(ctx, usdc)

	if err != nil {
		t.Fatalf("unexpected error on GetByAsset: %v", err)
	}
	if got.Decimals != 8 || got.Version != 2 {
		t.Errorf("expected decimals 8 version 2, got %+v", got)
	}
}

func TestAssetRepository_GetByAssetNotFound(t *testing.T) {
	repo := NewAssetRepository()

	_, err := repo.GetByAsset(context.Background(), usdc)

	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEventRepository_GetByUserNewestFirst(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()
	now := time.Now()

	older := domain.NewLedgerEvent(domain.EventDeposit, alice, usdc, big.NewInt(1), big.NewInt(1))
	older.OccurredAt = now.Add(-time.Minute)
	newer := domain.NewLedgerEvent(domain.EventWithdrawal, alice, usdc, big.NewInt(1), big.NewInt(1))
	newer.OccurredAt = now
	_ = repo.Save(ctx, older)
	_ = repo.Save(ctx, newer)

	events, err := repo.GetByUser(ctx, alice, 10, 0)

	if err != nil {
		t.Fatalf("unexpected error on GetByUser: %v", err)
	}
	if len(events) != 2 || events[0].ID != newer.ID {
		t.Fatalf("expected newest event first, got %+v", events)
	}
	if err := repo.Save(ctx, older); !errors.Is(err, repository.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on second save, got %v", err)
	}
}

func TestEventRepository_GetByPeriod(t *testing.T) {
	repo := NewEventRepository()
	ctx := context.Background()
	now := time.Now()

	inside := domain.NewLedgerEvent(domain.EventDeposit, bob, usdc, big.NewInt(3), big.NewInt(3))
	inside.OccurredAt = now
	outside := domain.NewLedgerEvent(domain.EventDeposit, bob, usdc, big.NewInt(4), big.NewInt(4))
	outside.OccurredAt = now.Add(-48 * time.Hour)
	_ = repo.Save(ctx, inside)
	_ = repo.Save(ctx, outside)

	events, err := repo.GetByPeriod(ctx, now.Add(-time.Hour), now.Add(time.Hour))

	if err != nil {
		t.Fatalf("unexpected error on GetByPeriod: %v", err)
	}
	if len(events) != 1 || events[0].ID != inside.ID {
		t.Errorf("expected only the recent event, got %+v", events)
	}
}
