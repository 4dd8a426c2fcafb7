package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type EventType string

const (
	EventDeposit    EventType = "deposit"
	EventWithdrawal EventType = "withdrawal"
)

type LedgerEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	User       common.Address `json:"user"`
	Asset      common.Address `json:"asset"`
	Amount     *big.Int       `json:"amount"`
	UnitValue  *big.Int       `json:"unit_value"`
	OccurredAt time.Time      `json:"occurred_at"`
}

func NewLedgerEvent(t EventType, user, asset common.Address, amount, unitValue *big.Int) *LedgerEvent {
	return &LedgerEvent{
		ID:         uuid.NewString(),
		Type:       t,
		User:       user,
		Asset:      asset,
		Amount:     new(big.Int).Set(amount),
		UnitValue:  new(big.Int).Set(unitValue),
		OccurredAt: time.Now().UTC(),
	}
}
