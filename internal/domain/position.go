package domain

import "math/big"

// QuoteDecimals is the fixed-point precision of the lending protocol's base
// currency (USD with 8 decimals).
const QuoteDecimals uint8 = 8

// AccountPosition is a snapshot of an account's standing in the lending pool.
// The Base fields are denominated in the protocol's base currency. A snapshot
// is never modified; a fresh one replaces it after each state change.
type AccountPosition struct {
	TotalCollateralBase         *big.Int
	TotalDebtBase               *big.Int
	AvailableBorrowsBase        *big.Int
	CurrentLiquidationThreshold *big.Int // basis points
	LTV                         *big.Int // basis points
	HealthFactor                *big.Int // 18 decimals
}

// Collateral returns TotalCollateralBase as a quote-precision Amount.
func (p AccountPosition) Collateral() Amount { return NewAmount(p.TotalCollateralBase, QuoteDecimals) }

// Debt returns TotalDebtBase as a quote-precision Amount.
func (p AccountPosition) Debt() Amount { return NewAmount(p.TotalDebtBase, QuoteDecimals) }

// AvailableBorrows returns AvailableBorrowsBase as a quote-precision Amount.
func (p AccountPosition) AvailableBorrows() Amount {
	return NewAmount(p.AvailableBorrowsBase, QuoteDecimals)
}
