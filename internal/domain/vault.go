package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type VaultKey struct {
	User  common.Address
	Asset common.Address
}

func (k VaultKey) String() string {
	return fmt.Sprintf("%s/%s", k.User.Hex(), k.Asset.Hex())
}

// LedgerTotals are cumulative activity counters in unit-of-account, not a net balance.
type LedgerTotals struct {
	TotalDepositedValue *big.Int `json:"total_deposited_value"`
	TotalWithdrawnValue *big.Int `json:"total_withdrawn_value"`
}

func NewLedgerTotals() LedgerTotals {
	return LedgerTotals{
		TotalDepositedValue: new(big.Int),
		TotalWithdrawnValue: new(big.Int),
	}
}

func (t LedgerTotals) Clone() LedgerTotals {
	return LedgerTotals{
		TotalDepositedValue: new(big.Int).Set(t.TotalDepositedValue),
		TotalWithdrawnValue: new(big.Int).Set(t.TotalWithdrawnValue),
	}
}

type BankLimits struct {
	BankCapValue         *big.Int `json:"bank_cap_value"`
	WithdrawalLimitValue *big.Int `json:"withdrawal_limit_value"`
}

// NewBankLimits enforces 0 < withdrawalLimit <= bankCap.
func NewBankLimits(bankCap, withdrawalLimit *big.Int) (BankLimits, error) {
	if bankCap == nil || withdrawalLimit == nil {
		return BankLimits{}, fmt.Errorf("%w: bank cap and withdrawal limit are required", ErrCapExceeded)
	}
	if withdrawalLimit.Sign() <= 0 {
		return BankLimits{}, fmt.Errorf("%w: withdrawal limit must be positive", ErrCapExceeded)
	}
	if withdrawalLimit.Cmp(bankCap) > 0 {
		return BankLimits{}, fmt.Errorf("%w: withdrawal limit %s above bank cap %s", ErrCapExceeded, withdrawalLimit, bankCap)
	}
	return BankLimits{
		BankCapValue:         new(big.Int).Set(bankCap),
		WithdrawalLimitValue: new(big.Int).Set(withdrawalLimit),
	}, nil
}

func (l BankLimits) Clone() BankLimits {
	return BankLimits{
		BankCapValue:         new(big.Int).Set(l.BankCapValue),
		WithdrawalLimitValue: new(big.Int).Set(l.WithdrawalLimitValue),
	}
}

// PriceSample mirrors an aggregator round. It is read fresh on every pricing call.
type PriceSample struct {
	Price           *big.Int
	RoundID         *big.Int
	AnsweredInRound *big.Int
	StartedAt       time.Time
	UpdatedAt       time.Time
}

func (s PriceSample) Clone() PriceSample {
	clone := PriceSample{StartedAt: s.StartedAt, UpdatedAt: s.UpdatedAt}
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	}
	if s.RoundID != nil {
		clone.RoundID = new(big.Int).Set(s.RoundID)
	}
	if s.AnsweredInRound != nil {
		clone.AnsweredInRound = new(big.Int).Set(s.AnsweredInRound)
	}
	return clone
}

type DepositRequest struct {
	User          common.Address
	Asset         common.Address
	Amount        *big.Int
	AttachedValue *big.Int
}

type WithdrawRequest struct {
	User   common.Address
	Asset  common.Address
	Amount *big.Int
}
