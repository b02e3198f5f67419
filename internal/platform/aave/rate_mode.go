package aave

import (
	"fmt"
	"math/big"
	"strings"
)

// RateMode selects the interest-rate model of a borrow. Stable-rate borrowing
// is disabled on most v3 deployments, so variable is the default.
type RateMode uint8

const (
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

// ParseRateMode accepts "variable" or "stable" (case-insensitive). An empty
// string selects variable.
func ParseRateMode(s string) (RateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "variable":
		return RateModeVariable, nil
	case "stable":
		return RateModeStable, nil
	default:
		return 0, fmt.Errorf("aave: unknown rate mode %q (valid: variable, stable)", s)
	}
}

func (m RateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	default:
		return fmt.Sprintf("RateMode(%d)", uint8(m))
	}
}

func (m RateMode) big() *big.Int { return big.NewInt(int64(m)) }
