package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// PriceSource tags where a resolved price came from.
type PriceSource string

const (
	SourcePrimary   PriceSource = "primary"
	SourceSecondary PriceSource = "secondary"
	SourceFallback  PriceSource = "fallback"
)

// TokenOracleData is a resolved USD price for one reserve's liquidity token.
type TokenOracleData struct {
	Symbol     string
	Mint       solana.PublicKey
	Reserve    solana.PublicKey
	Decimals   uint8
	Price      decimal.Decimal
	Confidence decimal.NullDecimal // only set by the primary oracle
	Source     PriceSource
	FetchedAt  time.Time
}

// PriceMap indexes resolved prices by reserve address.
type PriceMap map[solana.PublicKey]TokenOracleData
