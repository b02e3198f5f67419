package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// NetworkAddresses are the contracts a run talks to on one network.
type NetworkAddresses struct {
	Name                  string
	ChainID               int64
	WrappedNative         common.Address
	DebtToken             common.Address
	PriceFeed             common.Address
	PoolAddressesProvider common.Address
}

// ExchangeRate is the oracle snapshot of native-asset units per one unit of
// the debt asset. It is read once per run and never refreshed.
type ExchangeRate struct {
	Rate      Amount // native per debt unit, at the feed's precision
	RoundID   *big.Int
	UpdatedAt time.Time
}

// Receipt describes a state-changing call that reached its confirmation
// depth.
type Receipt struct {
	TxHash        common.Hash
	BlockNumber   uint64
	GasUsed       uint64
	Confirmations uint64
}

// Confirmed reports whether the receipt carries at least one confirmation.
func (r Receipt) Confirmed() bool {
	return r.TxHash != (common.Hash{}) && r.Confirmations > 0
}

// WrapResult is the outcome of wrapping native currency.
type WrapResult struct {
	Receipt    Receipt
	NewBalance Amount
}

// BorrowPlan is the borrow sizing derived from the account position and the
// oracle rate.
type BorrowPlan struct {
	AvailableBase Amount          // quote precision
	QuoteAmount   Amount          // AvailableBase x SafetyFactor, quote precision
	DebtAmount    Amount          // debt asset precision
	NativeValue   Amount          // DebtAmount priced in native units at Rate
	SafetyFactor  decimal.Decimal
	Rate          ExchangeRate
}

// PendingTx is a submitted call that has not yet been confirmed.
type PendingTx struct {
	Hash        common.Hash
	Nonce       uint64
	SubmittedAt time.Time
}
