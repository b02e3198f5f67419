package aave

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/chain"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// referralCode is unused by the protocol today.
const referralCode uint16 = 0

// Pool is a resolved lending pool.
type Pool struct {
	exec     chain.Executor
	address  common.Address
	rateMode RateMode
	logger   *slog.Logger
}

// ResolvePool asks the addresses provider for the active pool and binds it.
func ResolvePool(ctx context.Context, exec chain.Executor, provider common.Address, rateMode RateMode, logger *slog.Logger) (*Pool, error) {
	out, err := chain.Call(ctx, exec, provider, ProviderABI, "getPool")
	if err != nil {
		return nil, fmt.Errorf("aave: resolve pool via %s: %w: %w", provider.Hex(), domain.ErrPoolResolutionFailed, err)
	}
	addr := out[0].(common.Address)
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("aave: provider %s returned the zero address: %w", provider.Hex(), domain.ErrPoolResolutionFailed)
	}
	return NewPool(exec, addr, rateMode, logger), nil
}

// NewPool binds the pool at address.
func NewPool(exec chain.Executor, address common.Address, rateMode RateMode, logger *slog.Logger) *Pool {
	return &Pool{
		exec:     exec,
		address:  address,
		rateMode: rateMode,
		logger: logger.With(
			slog.String("component", "aave_pool"),
			slog.String("pool", address.Hex()),
		),
	}
}

// Address returns the pool contract address; it is the spender for deposits
// and repayments.
func (p *Pool) Address() common.Address { return p.address }

// RateMode returns the interest-rate mode used for borrow and repay.
func (p *Pool) RateMode() RateMode { return p.rateMode }

// Deposit supplies amount of token as collateral for onBehalfOf. The pool
// must already hold an allowance for amount.
func (p *Pool) Deposit(ctx context.Context, token common.Address, amount domain.Amount, onBehalfOf common.Address) (domain.Receipt, error) {
	return p.submit(ctx, "supply", amount, token, amount.Int(), onBehalfOf, referralCode)
}

// Borrow draws amount of token against onBehalfOf's collateral.
func (p *Pool) Borrow(ctx context.Context, token common.Address, amount domain.Amount, onBehalfOf common.Address) (domain.Receipt, error) {
	return p.submit(ctx, "borrow", amount, token, amount.Int(), p.rateMode.big(), referralCode, onBehalfOf)
}

// Repay returns amount of token against onBehalfOf's debt. The pool must
// already hold an allowance for amount.
func (p *Pool) Repay(ctx context.Context, token common.Address, amount domain.Amount, onBehalfOf common.Address) (domain.Receipt, error) {
	return p.submit(ctx, "repay", amount, token, amount.Int(), p.rateMode.big(), onBehalfOf)
}

func (p *Pool) submit(ctx context.Context, method string, amount domain.Amount, args ...any) (domain.Receipt, error) {
	if amount.Sign() <= 0 {
		return domain.Receipt{}, fmt.Errorf("aave: %s: %w: amount must be positive", method, domain.ErrInvalidAmount)
	}
	data, err := PoolABI.Pack(method, args...)
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("aave: pack %s: %w", method, err)
	}
	rcpt, err := p.exec.Execute(ctx, p.address, nil, data)
	if err != nil {
		return rcpt, fmt.Errorf("aave: %s %s: %w", method, amount, err)
	}
	p.logger.InfoContext(ctx, "pool call confirmed",
		slog.String("method", method),
		slog.String("amount", amount.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
		slog.Uint64("block", rcpt.BlockNumber),
	)
	return rcpt, nil
}

// GetAccountData reads user's position.
func (p *Pool) GetAccountData(ctx context.Context, user common.Address) (domain.AccountPosition, error) {
	out, err := chain.Call(ctx, p.exec, p.address, PoolABI, "getUserAccountData", user)
	if err != nil {
		return domain.AccountPosition{}, fmt.Errorf("aave: account data for %s: %w: %w", user.Hex(), domain.ErrReadFailed, err)
	}
	if len(out) != 6 {
		return domain.AccountPosition{}, fmt.Errorf("aave: account data: %w: %d outputs", domain.ErrReadFailed, len(out))
	}
	return domain.AccountPosition{
		TotalCollateralBase:         out[0].(*big.Int),
		TotalDebtBase:               out[1].(*big.Int),
		AvailableBorrowsBase:        out[2].(*big.Int),
		CurrentLiquidationThreshold: out[3].(*big.Int),
		LTV:                         out[4].(*big.Int),
		HealthFactor:                out[5].(*big.Int),
	}, nil
}
