package domain

import "errors"

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrDecimalsMismatch     = errors.New("amount decimals mismatch")
	ErrUnknownNetwork       = errors.New("unknown network")
	ErrPoolResolutionFailed = errors.New("pool resolution failed")
	ErrTransactionReverted  = errors.New("transaction reverted")
	ErrConfirmationTimeout  = errors.New("confirmation timeout")
	ErrOracleUnavailable    = errors.New("oracle unavailable")
	ErrStaleData            = errors.New("stale oracle data")
	ErrReadFailed           = errors.New("read failed")
	ErrOrderingViolation    = errors.New("dependent call issued before approval was confirmed")
	ErrRunInProgress        = errors.New("run already in progress for account")
	ErrLockHeld             = errors.New("lock already held")
)

// Kind returns the short name of the taxonomy error wrapped by err, or
// "internal" when err does not wrap any of them. It is used as a metric and
// journal label.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrDecimalsMismatch):
		return "invalid_amount"
	case errors.Is(err, ErrUnknownNetwork):
		return "unknown_network"
	case errors.Is(err, ErrPoolResolutionFailed):
		return "pool_resolution_failed"
	case errors.Is(err, ErrTransactionReverted):
		return "transaction_reverted"
	case errors.Is(err, ErrConfirmationTimeout):
		return "confirmation_timeout"
	case errors.Is(err, ErrOracleUnavailable):
		return "oracle_unavailable"
	case errors.Is(err, ErrStaleData):
		return "stale_data"
	case errors.Is(err, ErrReadFailed):
		return "read_failed"
	case errors.Is(err, ErrOrderingViolation):
		return "ordering_violation"
	case errors.Is(err, ErrRunInProgress), errors.Is(err, ErrLockHeld):
		return "run_in_progress"
	default:
		return "internal"
	}
}
