package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"vault_ledger/internal/custody"
	"vault_ledger/internal/domain"
	"vault_ledger/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/event"
)

type ValueConverter interface {
	ToUnitValue(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
	ToNativeAmount(ctx context.Context, unitValue *big.Int) (*big.Int, error)
}

type Recorder interface {
	RecordOperation(operation, outcome string, duration time.Duration)
	SetTotals(deposited, withdrawn *big.Int)
}

// Ledger is the single writer of vault balances and cumulative totals.
// Deposits and withdrawals are serialized and either apply in full or not at all.
type Ledger struct {
	mu          sync.RWMutex
	writer      chan struct{}
	callout     atomic.Pointer[string]
	calloutWait time.Duration

	limits    domain.BankLimits
	totals    domain.LedgerTotals
	vaults    repository.VaultRepository
	converter ValueConverter
	custody   custody.Custody
	events    event.Feed
	recorder  Recorder
	logger    *slog.Logger
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithCalloutWait bounds how long a caller arriving during a custody call waits
// before it is treated as a reentrant callback.
func WithCalloutWait(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.calloutWait = d
		}
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(l *Ledger) {
		l.recorder = recorder
	}
}

func New(
	limits domain.BankLimits,
	vaults repository.VaultRepository,
	converter ValueConverter,
	pool custody.Custody,
	opts ...Option,
) (*Ledger, error) {
	checked, err := domain.NewBankLimits(limits.BankCapValue, limits.WithdrawalLimitValue)
	if err != nil {
		return nil, err
	}

	l := &Ledger{
		writer:      make(chan struct{}, 1),
		calloutWait: 10 * time.Second,
		limits:      checked,
		totals:      domain.NewLedgerTotals(),
		vaults:      vaults,
		converter:   converter,
		custody:     pool,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SubscribeEvents delivers every committed deposit and withdrawal to ch.
// Delivery is synchronous, so subscribers must keep ch drained.
func (l *Ledger) SubscribeEvents(ch chan<- *domain.LedgerEvent) event.Subscription {
	return l.events.Subscribe(ch)
}

func (l *Ledger) Deposit(ctx context.Context, req domain.DepositRequest) (evt *domain.LedgerEvent, err error) {
	start := time.Now()
	defer func() { l.record("deposit", start, err) }()

	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}

	ctx, release, err := l.enter(ctx, "deposit")
	if err != nil {
		return nil, err
	}
	defer release()

	l.logger.InfoContext(ctx, "Processing deposit",
		slog.String("user", req.User.Hex()),
		slog.String("asset", req.Asset.Hex()),
		slog.String("amount", req.Amount.String()))

	if err := l.pull(ctx, req); err != nil {
		return nil, err
	}

	unitValue, err := l.converter.ToUnitValue(ctx, req.Asset, req.Amount)
	if err != nil {
		l.refund(ctx, req)
		return nil, err
	}

	newTotal := new(big.Int).Add(l.totals.TotalDepositedValue, unitValue)
	if newTotal.Cmp(l.limits.BankCapValue) > 0 {
		l.refund(ctx, req)
		return nil, fmt.Errorf("%w: %s + %s > %s", domain.ErrCapExceeded,
			l.totals.TotalDepositedValue, unitValue, l.limits.BankCapValue)
	}

	key := domain.VaultKey{User: req.User, Asset: req.Asset}
	if err := l.vaults.Credit(ctx, key, req.Amount); err != nil {
		l.refund(ctx, req)
		return nil, fmt.Errorf("credit vault %s: %w", key, err)
	}
	l.totals.TotalDepositedValue = newTotal

	evt = domain.NewLedgerEvent(domain.EventDeposit, req.User, req.Asset, req.Amount, unitValue)
	l.publish(ctx, evt)

	l.logger.InfoContext(ctx, "Deposit completed successfully",
		slog.String("event_id", evt.ID),
		slog.String("unit_value", unitValue.String()))
	return evt, nil
}

func (l *Ledger) Withdraw(ctx context.Context, req domain.WithdrawRequest) (evt *domain.LedgerEvent, err error) {
	start := time.Now()
	defer func() { l.record("withdraw", start, err) }()

	if err := checkAmount(req.Amount); err != nil {
		return nil, err
	}

	ctx, release, err := l.enter(ctx, "withdraw")
	if err != nil {
		return nil, err
	}
	defer release()

	l.logger.InfoContext(ctx, "Processing withdrawal",
		slog.String("user", req.User.Hex()),
		slog.String("asset", req.Asset.Hex()),
		slog.String("amount", req.Amount.String()))

	key := domain.VaultKey{User: req.User, Asset: req.Asset}
	balance, err := l.vaults.GetBalance(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read vault %s: %w", key, err)
	}
	if balance.Cmp(req.Amount) < 0 {
		return nil, fmt.Errorf("%w: %s holds %s, requested %s", domain.ErrInsufficientBalance, key, balance, req.Amount)
	}

	unitValue, err := l.converter.ToUnitValue(ctx, req.Asset, req.Amount)
	if err != nil {
		return nil, err
	}
	if unitValue.Cmp(l.limits.WithdrawalLimitValue) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", domain.ErrWithdrawalLimitExceeded, unitValue, l.limits.WithdrawalLimitValue)
	}

	if err := l.vaults.Debit(ctx, key, req.Amount); err != nil {
		return nil, fmt.Errorf("debit vault %s: %w", key, err)
	}
	previous := new(big.Int).Set(l.totals.TotalWithdrawnValue)
	l.totals.TotalWithdrawnValue.Add(l.totals.TotalWithdrawnValue, unitValue)

	if err := l.payOut(ctx, req); err != nil {
		l.totals.TotalWithdrawnValue = previous
		if restoreErr := l.vaults.Credit(ctx, key, req.Amount); restoreErr != nil {
			l.logger.ErrorContext(ctx, "Failed to restore vault after payout failure",
				slog.String("vault", key.String()),
				slog.String("amount", req.Amount.String()),
				slog.String("error", restoreErr.Error()))
		}
		return nil, err
	}

	evt = domain.NewLedgerEvent(domain.EventWithdrawal, req.User, req.Asset, req.Amount, unitValue)
	l.publish(ctx, evt)

	l.logger.InfoContext(ctx, "Withdrawal completed successfully",
		slog.String("event_id", evt.ID),
		slog.String("unit_value", unitValue.String()))
	return evt, nil
}

func (l *Ledger) VaultBalance(ctx context.Context, user, asset common.Address) (*big.Int, error) {
	unlock := l.readLock(ctx)
	defer unlock()
	return l.vaults.GetBalance(ctx, domain.VaultKey{User: user, Asset: asset})
}

// Vaults returns every asset user has ever deposited, including emptied vaults.
func (l *Ledger) Vaults(ctx context.Context, user common.Address) (map[common.Address]*big.Int, error) {
	unlock := l.readLock(ctx)
	defer unlock()
	return l.vaults.GetByUser(ctx, user)
}

func (l *Ledger) Stats(ctx context.Context) domain.LedgerTotals {
	unlock := l.readLock(ctx)
	defer unlock()
	return l.totals.Clone()
}

func (l *Ledger) Limits() domain.BankLimits {
	return l.limits.Clone()
}

// TotalBalanceUSD values each listed vault of user independently and sums the
// results. Every listed asset is converted, so an unpriceable asset fails the
// whole call even when its vault is empty.
func (l *Ledger) TotalBalanceUSD(ctx context.Context, user common.Address, assets []common.Address) (*big.Int, error) {
	unlock := l.readLock(ctx)
	defer unlock()

	total := new(big.Int)
	for _, asset := range assets {
		balance, err := l.vaults.GetBalance(ctx, domain.VaultKey{User: user, Asset: asset})
		if err != nil {
			return nil, err
		}
		value, err := l.converter.ToUnitValue(ctx, asset, balance)
		if err != nil {
			return nil, fmt.Errorf("value %s: %w", asset.Hex(), err)
		}
		total.Add(total, value)
		if total.Cmp(math.MaxBig256) > 0 {
			return nil, fmt.Errorf("%w: total balance of %s", domain.ErrOverflow, user.Hex())
		}
	}
	return total, nil
}

func (l *Ledger) ConvertUnitValueToNative(ctx context.Context, unitValue *big.Int) (*big.Int, error) {
	return l.converter.ToNativeAmount(ctx, unitValue)
}

func (l *Ledger) pull(ctx context.Context, req domain.DepositRequest) error {
	attached := req.AttachedValue
	if attached == nil {
		attached = new(big.Int)
	}

	if domain.IsNative(req.Asset) {
		if attached.Cmp(req.Amount) != 0 {
			return fmt.Errorf("%w: declared %s, attached %s", domain.ErrNativeValueMismatch, req.Amount, attached)
		}
		err := l.external("receive native", func() error {
			return l.custody.ReceiveNative(ctx, req.User, req.Amount)
		})
		if err != nil {
			return transferError("receive native", err)
		}
		return nil
	}

	if attached.Sign() != 0 {
		return fmt.Errorf("%w: %s attached to a token deposit", domain.ErrNativeValueMismatch, attached)
	}
	allowance, err := l.custody.Allowance(ctx, req.Asset, req.User)
	if err != nil {
		return transferError("read allowance", err)
	}
	if allowance.Cmp(req.Amount) < 0 {
		return fmt.Errorf("%w: approved %s, requested %s", domain.ErrInsufficientAllowance, allowance, req.Amount)
	}
	err = l.external("pull "+req.Asset.Hex(), func() error {
		return l.custody.TransferFrom(ctx, req.Asset, req.User, req.Amount)
	})
	if err != nil {
		return transferError("pull "+req.Asset.Hex(), err)
	}
	return nil
}

// refund returns a pulled deposit whose accounting was rejected.
func (l *Ledger) refund(ctx context.Context, req domain.DepositRequest) {
	err := l.send(ctx, "refund", req.Asset, req.User, req.Amount)
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to refund rejected deposit",
			slog.String("user", req.User.Hex()),
			slog.String("asset", req.Asset.Hex()),
			slog.String("amount", req.Amount.String()),
			slog.String("error", err.Error()))
	}
}

func (l *Ledger) payOut(ctx context.Context, req domain.WithdrawRequest) error {
	if err := l.send(ctx, "pay out", req.Asset, req.User, req.Amount); err != nil {
		return transferError("pay out "+req.Asset.Hex(), err)
	}
	return nil
}

func (l *Ledger) send(ctx context.Context, step string, asset, to common.Address, amount *big.Int) error {
	return l.external(step+" "+asset.Hex(), func() error {
		if domain.IsNative(asset) {
			return l.custody.SendNative(ctx, to, amount)
		}
		return l.custody.Transfer(ctx, asset, to, amount)
	})
}

func (l *Ledger) publish(ctx context.Context, evt *domain.LedgerEvent) {
	if l.recorder != nil {
		l.recorder.SetTotals(l.totals.TotalDepositedValue, l.totals.TotalWithdrawnValue)
	}
	delivered := l.events.Send(evt)
	l.logger.DebugContext(ctx, "Ledger event published",
		slog.String("event_id", evt.ID),
		slog.Int("subscribers", delivered))
}

func (l *Ledger) record(operation string, start time.Time, err error) {
	if l.recorder == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = domain.ErrorCode(err)
	}
	l.recorder.RecordOperation(operation, outcome, time.Since(start))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return domain.ErrZeroAmount
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("%w: negative amount %s", domain.ErrInvalidAmount, amount)
	}
	return nil
}

func transferError(step string, err error) error {
	if errors.Is(err, domain.ErrTransferFailed) || errors.Is(err, domain.ErrInsufficientAllowance) {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTransferFailed, step, err)
}
