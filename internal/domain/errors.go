package domain

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Error kinds. Components wrap them with %w so callers classify with errors.Is.
var (
	ErrConfiguration     = errors.New("configuration error")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrRPC               = errors.New("rpc error")
	ErrTimeout           = errors.New("timeout")
	ErrTransaction       = errors.New("transaction error")
	ErrSwap              = errors.New("swap error")
	ErrBundleFailed      = errors.New("bundle failed")
	ErrInvalidBundle     = errors.New("invalid bundle")
	ErrCircuitOpen       = errors.New("circuit breaker open")
	ErrPriceNotFound     = errors.New("price not found")
	ErrIndeterminate     = errors.New("obligation indeterminate")
	ErrAccountNotFound   = errors.New("account not found")
)

// LiquidationError wraps any failure inside one obligation's pipeline.
type LiquidationError struct {
	Obligation solana.PublicKey
	Pass       int
	Err        error
}

func (e *LiquidationError) Error() string {
	return fmt.Sprintf("liquidation %s (pass %d): %v", e.Obligation, e.Pass, e.Err)
}

func (e *LiquidationError) Unwrap() error { return e.Err }
