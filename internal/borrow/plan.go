package borrow

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/borrowbot/internal/domain"
	"github.com/alanyoungcy/borrowbot/internal/units"
)

// DefaultSafetyFactor keeps the borrow 5% below the available credit.
var DefaultSafetyFactor = decimal.RequireFromString("0.95")

// ComputeBorrowPlan scales availableBase by safetyFactor, truncating to a
// whole quote unit. safetyFactor must be in (0, 1].
func ComputeBorrowPlan(availableBase *big.Int, safetyFactor decimal.Decimal) (*big.Int, error) {
	if availableBase == nil || availableBase.Sign() < 0 {
		return nil, fmt.Errorf("borrow: %w: available borrows must be non-negative", domain.ErrInvalidAmount)
	}
	if !safetyFactor.IsPositive() || safetyFactor.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("borrow: %w: safety factor %s outside (0, 1]", domain.ErrInvalidAmount, safetyFactor)
	}
	return decimal.NewFromBigInt(availableBase, 0).Mul(safetyFactor).Truncate(0).BigInt(), nil
}

// PlanBorrow sizes the borrow. The quote-denominated credit is scaled by the
// safety factor and rescaled into the debt token's precision. A plan that is
// not below the account's whole collateral, both in quote precision, is
// rejected: no loan-to-value allows it and it means the position read is off.
// The oracle rate prices the result in native units for reporting.
func PlanBorrow(position domain.AccountPosition, safetyFactor decimal.Decimal, rate domain.ExchangeRate, debtDecimals, nativeDecimals uint8) (domain.BorrowPlan, error) {
	available := position.AvailableBorrows()
	quote, err := ComputeBorrowPlan(available.Int(), safetyFactor)
	if err != nil {
		return domain.BorrowPlan{}, err
	}
	quoteAmt := domain.Amount{Value: quote, Decimals: available.Decimals}

	debt := units.Rescale(quoteAmt, debtDecimals)
	if debt.Sign() <= 0 {
		return domain.BorrowPlan{}, fmt.Errorf("borrow: %w: nothing to borrow (available %s)", domain.ErrInvalidAmount, available)
	}
	collateral := position.Collateral()
	c, err := quoteAmt.Cmp(collateral)
	if err != nil {
		return domain.BorrowPlan{}, err
	}
	if c >= 0 {
		return domain.BorrowPlan{}, fmt.Errorf("borrow: %w: plan of %s is not below collateral %s",
			domain.ErrInvalidAmount, quoteAmt, collateral)
	}
	if rate.Rate.Sign() <= 0 {
		return domain.BorrowPlan{}, fmt.Errorf("borrow: %w: exchange rate %s", domain.ErrOracleUnavailable, rate.Rate)
	}

	native, err := units.ToAmount(debt.Decimal().Mul(rate.Rate.Decimal()), nativeDecimals)
	if err != nil {
		return domain.BorrowPlan{}, fmt.Errorf("borrow: price plan: %w", err)
	}

	return domain.BorrowPlan{
		AvailableBase: domain.NewAmount(available.Int(), available.Decimals),
		QuoteAmount:   quoteAmt,
		DebtAmount:    debt,
		NativeValue:   native,
		SafetyFactor:  safetyFactor,
		Rate:          rate,
	}, nil
}
