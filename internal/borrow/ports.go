package borrow

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Wrapper converts native currency into its ERC-20 form.
type Wrapper interface {
	Token() common.Address
	Wrap(ctx context.Context, amount domain.Amount) (domain.WrapResult, error)
	Balance(ctx context.Context) (domain.Amount, error)
}

// Approver manages ERC-20 allowances and token metadata.
type Approver interface {
	Approve(ctx context.Context, token, spender common.Address, amount domain.Amount) (domain.Receipt, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (domain.Amount, error)
	Decimals(ctx context.Context, token common.Address) (uint8, error)
}

// LendingPool is the lending protocol's pool contract.
type LendingPool interface {
	Address() common.Address
	Deposit(ctx context.Context, token common.Address, amount domain.Amount, onBehalfOf common.Address) (domain.Receipt, error)
	Borrow(ctx context.Context, token common.Address, amount domain.Amount, onBehalfOf common.Address) (domain.Receipt, error)
	Repay(ctx context.Context, token common.Address, amount domain.Amount, onBehalfOf common.Address) (domain.Receipt, error)
	GetAccountData(ctx context.Context, user common.Address) (domain.AccountPosition, error)
}

// PriceOracle reads the native-per-debt-asset exchange rate.
type PriceOracle interface {
	GetExchangeRate(ctx context.Context, feed common.Address) (domain.ExchangeRate, error)
}

// ReceiptLookup finds what became of a transaction after its confirmation
// wait gave up.
type ReceiptLookup interface {
	// Lookup reports whether hash has been mined successfully. A mined but
	// failed transaction returns domain.ErrTransactionReverted.
	Lookup(ctx context.Context, hash common.Hash) (domain.Receipt, bool, error)
}
