package custody

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"vault_ledger/internal/domain"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryPool is an in-process custody backend. It keeps user wallets, token
// allowances granted to the pool, and what the pool holds per asset.
type MemoryPool struct {
	mu         sync.Mutex
	wallets    map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
	held       map[common.Address]*big.Int
	hook       TransferHook
	failing    bool
	logger     *slog.Logger
}

var _ Custody = (*MemoryPool)(nil)

func NewMemoryPool(logger *slog.Logger) *MemoryPool {
	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryPool{
		wallets:    make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
		held:       make(map[common.Address]*big.Int),
		logger:     logger,
	}
}

// OnTransfer installs hook for every movement. Hooks run without the pool lock
// held, so they may call back into the ledger.
func (p *MemoryPool) OnTransfer(hook TransferHook) {
	p.mu.Lock()
	p.hook = hook
	p.mu.Unlock()
}

// SetFailing makes every movement fail until reset.
func (p *MemoryPool) SetFailing(failing bool) {
	p.mu.Lock()
	p.failing = failing
	p.mu.Unlock()
}

// Fund credits a user's wallet outside the pool.
func (p *MemoryPool) Fund(asset, owner common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	add(p.wallets, asset, owner, amount)
}

// Approve sets the allowance owner grants the pool for token.
func (p *MemoryPool) Approve(token, owner common.Address, amount *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allowances[token] == nil {
		p.allowances[token] = make(map[common.Address]*big.Int)
	}
	p.allowances[token][owner] = new(big.Int).Set(amount)
}

func (p *MemoryPool) WalletBalance(asset, owner common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(get(p.wallets, asset, owner))
}

// Held reports how much of asset the pool currently custodies.
func (p *MemoryPool) Held(asset common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.held[asset]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (p *MemoryPool) ReceiveNative(ctx context.Context, from common.Address, amount *big.Int) error {
	return p.pull(ctx, domain.NativeAsset, from, amount, false)
}

func (p *MemoryPool) SendNative(ctx context.Context, to common.Address, amount *big.Int) error {
	return p.push(ctx, domain.NativeAsset, to, amount)
}

func (p *MemoryPool) Allowance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(get(p.allowances, token, owner)), nil
}

func (p *MemoryPool) TransferFrom(ctx context.Context, token, owner common.Address, amount *big.Int) error {
	return p.pull(ctx, token, owner, amount, true)
}

func (p *MemoryPool) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	return p.push(ctx, token, to, amount)
}

func (p *MemoryPool) pull(ctx context.Context, asset, from common.Address, amount *big.Int, needsAllowance bool) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", domain.ErrTransferFailed)
	}

	p.mu.Lock()
	if err := p.checkPull(asset, from, amount, needsAllowance); err != nil {
		p.mu.Unlock()
		return err
	}
	hook := p.hook
	p.mu.Unlock()

	m := Movement{Direction: DirectionIn, Asset: asset, Counterparty: from, Amount: new(big.Int).Set(amount)}
	if err := runHook(ctx, hook, m); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// the hook ran unlocked, so balances may have moved
	if err := p.checkPull(asset, from, amount, needsAllowance); err != nil {
		return err
	}
	sub(p.wallets, asset, from, amount)
	if needsAllowance {
		sub(p.allowances, asset, from, amount)
	}
	p.addHeld(asset, amount)

	p.logger.DebugContext(ctx, "Pulled into pool",
		slog.String("asset", asset.Hex()),
		slog.String("from", from.Hex()),
		slog.String("amount", amount.String()))
	return nil
}

func (p *MemoryPool) checkPull(asset, from common.Address, amount *big.Int, needsAllowance bool) error {
	if p.failing {
		return fmt.Errorf("%w: custody unavailable", domain.ErrTransferFailed)
	}
	if needsAllowance && get(p.allowances, asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s approved less than %s", domain.ErrInsufficientAllowance, from.Hex(), amount)
	}
	if get(p.wallets, asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds less than %s", domain.ErrTransferFailed, from.Hex(), amount)
	}
	return nil
}

func (p *MemoryPool) push(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: non-positive amount", domain.ErrTransferFailed)
	}

	p.mu.Lock()
	if err := p.checkPush(asset, amount); err != nil {
		p.mu.Unlock()
		return err
	}
	hook := p.hook
	p.mu.Unlock()

	m := Movement{Direction: DirectionOut, Asset: asset, Counterparty: to, Amount: new(big.Int).Set(amount)}
	if err := runHook(ctx, hook, m); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkPush(asset, amount); err != nil {
		return err
	}
	p.held[asset].Sub(p.held[asset], amount)
	add(p.wallets, asset, to, amount)

	p.logger.DebugContext(ctx, "Paid out of pool",
		slog.String("asset", asset.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()))
	return nil
}

func (p *MemoryPool) checkPush(asset common.Address, amount *big.Int) error {
	if p.failing {
		return fmt.Errorf("%w: custody unavailable", domain.ErrTransferFailed)
	}
	held, ok := p.held[asset]
	if !ok || held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: pool holds less than %s of %s", domain.ErrTransferFailed, amount, asset.Hex())
	}
	return nil
}

func (p *MemoryPool) addHeld(asset common.Address, amount *big.Int) {
	if _, ok := p.held[asset]; !ok {
		p.held[asset] = new(big.Int)
	}
	p.held[asset].Add(p.held[asset], amount)
}

func runHook(ctx context.Context, hook TransferHook, m Movement) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx, m); err != nil {
		return fmt.Errorf("%w: receiver rejected %s transfer: %w", domain.ErrTransferFailed, m.Direction, err)
	}
	return nil
}

func get(book map[common.Address]map[common.Address]*big.Int, asset, owner common.Address) *big.Int {
	if v, ok := book[asset][owner]; ok {
		return v
	}
	return new(big.Int)
}

func add(book map[common.Address]map[common.Address]*big.Int, asset, owner common.Address, amount *big.Int) {
	if book[asset] == nil {
		book[asset] = make(map[common.Address]*big.Int)
	}
	if _, ok := book[asset][owner]; !ok {
		book[asset][owner] = new(big.Int)
	}
	book[asset][owner].Add(book[asset][owner], amount)
}

func sub(book map[common.Address]map[common.Address]*big.Int, asset, owner common.Address, amount *big.Int) {
	book[asset][owner].Sub(book[asset][owner], amount)
}
