package erc20

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/chain"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Approver grants spenders allowances on tokens held by the executor's
// account.
type Approver struct {
	exec   chain.Executor
	logger *slog.Logger
}

// NewApprover creates an Approver submitting through exec.
func NewApprover(exec chain.Executor, logger *slog.Logger) *Approver {
	return &Approver{
		exec:   exec,
		logger: logger.With(slog.String("component", "approver")),
	}
}

// Approve sets spender's allowance on token to exactly amount and waits for
// the confirmation.
func (a *Approver) Approve(ctx context.Context, token, spender common.Address, amount domain.Amount) (domain.Receipt, error) {
	if amount.Sign() < 0 {
		return domain.Receipt{}, fmt.Errorf("erc20: approve: %w: negative amount", domain.ErrInvalidAmount)
	}
	data, err := TokenABI.Pack("approve", spender, amount.Int())
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("erc20: pack approve: %w", err)
	}
	rcpt, err := a.exec.Execute(ctx, token, nil, data)
	if err != nil {
		return rcpt, fmt.Errorf("erc20: approve %s for %s: %w", token.Hex(), spender.Hex(), err)
	}
	a.logger.InfoContext(ctx, "allowance set",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	return rcpt, nil
}

// Allowance reads the allowance owner granted spender, at the token's
// precision.
func (a *Approver) Allowance(ctx context.Context, token, owner, spender common.Address) (domain.Amount, error) {
	decimals, err := a.Decimals(ctx, token)
	if err != nil {
		return domain.Amount{}, err
	}
	out, err := chain.Call(ctx, a.exec, token, TokenABI, "allowance", owner, spender)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("erc20: allowance: %w: %w", domain.ErrReadFailed, err)
	}
	return domain.NewAmount(out[0].(*big.Int), decimals), nil
}

// Decimals reads the token's precision.
func (a *Approver) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	return decimalsOf(ctx, a.exec, token)
}

// BalanceOf reads owner's balance of token.
func (a *Approver) BalanceOf(ctx context.Context, token, owner common.Address) (domain.Amount, error) {
	return balanceOf(ctx, a.exec, token, owner)
}

func decimalsOf(ctx context.Context, c chain.Caller, token common.Address) (uint8, error) {
	out, err := chain.Call(ctx, c, token, TokenABI, "decimals")
	if err != nil {
		return 0, fmt.Errorf("erc20: decimals of %s: %w: %w", token.Hex(), domain.ErrReadFailed, err)
	}
	return out[0].(uint8), nil
}

func balanceOf(ctx context.Context, c chain.Caller, token, owner common.Address) (domain.Amount, error) {
	decimals, err := decimalsOf(ctx, c, token)
	if err != nil {
		return domain.Amount{}, err
	}
	out, err := chain.Call(ctx, c, token, TokenABI, "balanceOf", owner)
	if err != nil {
		return domain.Amount{}, fmt.Errorf("erc20: balance of %s: %w: %w", owner.Hex(), domain.ErrReadFailed, err)
	}
	return domain.NewAmount(out[0].(*big.Int), decimals), nil
}
