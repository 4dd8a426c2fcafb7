package domain

import (
	"errors"
)

var (
	ErrInvalidAsset            = errors.New("invalid asset")
	ErrCapExceeded             = errors.New("bank cap exceeded")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInsufficientAllowance   = errors.New("insufficient allowance")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrZeroAmount              = errors.New("zero amount")
	ErrWithdrawalLimitExceeded = errors.New("withdrawal limit exceeded")
	ErrStaleOracleData         = errors.New("stale oracle data")

	ErrInvalidAmount       = errors.New("invalid amount")
	ErrNativeValueMismatch = errors.New("native value mismatch")
	ErrInvalidPrice        = errors.New("invalid oracle price")
	ErrReentrantCall       = errors.New("reentrant call")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrOverflow            = errors.New("arithmetic overflow")
)

var errorCodes = []struct {
	err  error
	code string
}{
	// first: a receiver rejecting a transfer may wrap another ledger error
	{ErrTransferFailed, "TRANSFER_FAILED"},
	{ErrInvalidAsset, "INVALID_ASSET"},
	{ErrCapExceeded, "CAP_EXCEEDED"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrInsufficientAllowance, "INSUFFICIENT_ALLOWANCE"},
	{ErrZeroAmount, "ZERO_AMOUNT"},
	{ErrWithdrawalLimitExceeded, "WITHDRAWAL_LIMIT_EXCEEDED"},
	{ErrStaleOracleData, "STALE_ORACLE_DATA"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrNativeValueMismatch, "NATIVE_VALUE_MISMATCH"},
	{ErrInvalidPrice, "INVALID_PRICE"},
	{ErrReentrantCall, "REENTRANT_CALL"},
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrOverflow, "OVERFLOW"},
}

// ErrorCode maps a ledger error to a stable machine-readable code.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL"
}
