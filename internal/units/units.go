// Package units converts between integer base-unit amounts and human-scale
// decimal values for tokens of a given precision.
//
// All arithmetic is done on arbitrary-precision decimals. Conversions into
// base units truncate toward zero, so a value with more fractional digits
// than the token supports loses at most one base unit (10^-decimals).
package units

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// MaxDecimals is the largest precision accepted by the converter.
const MaxDecimals uint8 = 18

// ToBaseUnits converts v into an integer count of base units at the given
// precision.
func ToBaseUnits(v decimal.Decimal, decimals uint8) (*big.Int, error) {
	if decimals > MaxDecimals {
		return nil, fmt.Errorf("units: %w: precision %d exceeds %d", domain.ErrInvalidAmount, decimals, MaxDecimals)
	}
	if v.IsNegative() {
		return nil, fmt.Errorf("units: %w: negative value %s", domain.ErrInvalidAmount, v)
	}
	return v.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// ToDecimal converts base units back into a human-scale value. The result is
// exact.
func ToDecimal(base *big.Int, decimals uint8) decimal.Decimal {
	if base == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(base, -int32(decimals))
}

// ToAmount is ToBaseUnits returning a domain.Amount.
func ToAmount(v decimal.Decimal, decimals uint8) (domain.Amount, error) {
	base, err := ToBaseUnits(v, decimals)
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.Amount{Value: base, Decimals: decimals}, nil
}

// FromFloat turns a float into a decimal, rejecting NaN and infinities.
// The float is rendered with the shortest representation that round-trips,
// so 0.02 becomes exactly 0.02.
func FromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Decimal{}, fmt.Errorf("units: %w: %v is not finite", domain.ErrInvalidAmount, f)
	}
	if f < 0 {
		return decimal.Decimal{}, fmt.Errorf("units: %w: negative value %v", domain.ErrInvalidAmount, f)
	}
	return decimal.NewFromFloat(f), nil
}

// Parse reads a decimal string such as "0.02".
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("units: %w: %q: %v", domain.ErrInvalidAmount, s, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("units: %w: negative value %s", domain.ErrInvalidAmount, s)
	}
	return d, nil
}

// Rescale moves a to the target precision. Scaling down truncates.
func Rescale(a domain.Amount, to uint8) domain.Amount {
	v := a.Int()
	switch {
	case to == a.Decimals:
		return domain.NewAmount(v, to)
	case to > a.Decimals:
		f := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-a.Decimals)), nil)
		return domain.Amount{Value: new(big.Int).Mul(v, f), Decimals: to}
	default:
		f := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(a.Decimals-to)), nil)
		return domain.Amount{Value: new(big.Int).Quo(v, f), Decimals: to}
	}
}

// Epsilon is the largest error ToBaseUnits can introduce at a precision.
func Epsilon(decimals uint8) decimal.Decimal {
	return decimal.New(1, -int32(decimals))
}
