package domain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is an integer quantity of base units together with the decimal
// precision of the token it denominates. Two amounts can only be compared or
// combined when their precisions match.
type Amount struct {
	Value    *big.Int
	Decimals uint8
}

// NewAmount copies v into a new Amount. A nil v is treated as zero.
func NewAmount(v *big.Int, decimals uint8) Amount {
	if v == nil {
		return Amount{Value: new(big.Int), Decimals: decimals}
	}
	return Amount{Value: new(big.Int).Set(v), Decimals: decimals}
}

// ZeroAmount returns a zero amount at the given precision.
func ZeroAmount(decimals uint8) Amount {
	return Amount{Value: new(big.Int), Decimals: decimals}
}

// Int returns the base-unit value, never nil.
func (a Amount) Int() *big.Int {
	if a.Value == nil {
		return new(big.Int)
	}
	return a.Value
}

func (a Amount) IsZero() bool { return a.Int().Sign() == 0 }

func (a Amount) Sign() int { return a.Int().Sign() }

// Cmp compares a and b. It fails with ErrDecimalsMismatch when the
// precisions differ.
func (a Amount) Cmp(b Amount) (int, error) {
	if a.Decimals != b.Decimals {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDecimalsMismatch, a.Decimals, b.Decimals)
	}
	return a.Int().Cmp(b.Int()), nil
}

// Add returns a+b.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Decimals != b.Decimals {
		return Amount{}, fmt.Errorf("%w: %d vs %d", ErrDecimalsMismatch, a.Decimals, b.Decimals)
	}
	return Amount{Value: new(big.Int).Add(a.Int(), b.Int()), Decimals: a.Decimals}, nil
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) (Amount, error) {
	if a.Decimals != b.Decimals {
		return Amount{}, fmt.Errorf("%w: %d vs %d", ErrDecimalsMismatch, a.Decimals, b.Decimals)
	}
	return Amount{Value: new(big.Int).Sub(a.Int(), b.Int()), Decimals: a.Decimals}, nil
}

// Decimal returns the human-scale value. The conversion is exact.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(a.Int(), -int32(a.Decimals))
}

// String renders the human-scale value, e.g. "0.02".
func (a Amount) String() string {
	return a.Decimal().String()
}
