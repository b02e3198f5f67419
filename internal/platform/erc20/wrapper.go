package erc20

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/chain"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Wrapper wraps native currency through a WETH9-style contract. Wrapping is
// not idempotent: every call moves funds again.
type Wrapper struct {
	exec   chain.Executor
	token  common.Address
	logger *slog.Logger
}

// NewWrapper creates a Wrapper for the wrapped-native token at token.
func NewWrapper(exec chain.Executor, token common.Address, logger *slog.Logger) *Wrapper {
	return &Wrapper{
		exec:   exec,
		token:  token,
		logger: logger.With(slog.String("component", "wrapper")),
	}
}

// Token returns the wrapped-native token address.
func (w *Wrapper) Token() common.Address {
	return w.token
}

// Wrap sends amount of native currency to deposit(), waits for the
// confirmation and reads back the caller's token balance.
func (w *Wrapper) Wrap(ctx context.Context, amount domain.Amount) (domain.WrapResult, error) {
	if amount.Sign() <= 0 {
		return domain.WrapResult{}, fmt.Errorf("erc20: wrap: %w: amount must be positive", domain.ErrInvalidAmount)
	}
	data, err := TokenABI.Pack("deposit")
	if err != nil {
		return domain.WrapResult{}, fmt.Errorf("erc20: pack deposit: %w", err)
	}
	rcpt, err := w.exec.Execute(ctx, w.token, amount.Int(), data)
	if err != nil {
		return domain.WrapResult{Receipt: rcpt}, fmt.Errorf("erc20: wrap %s: %w", amount, err)
	}

	balance, err := w.Balance(ctx)
	if err != nil {
		return domain.WrapResult{Receipt: rcpt}, err
	}
	w.logger.InfoContext(ctx, "wrapped native currency",
		slog.String("amount", amount.String()),
		slog.String("balance", balance.String()),
		slog.String("tx", rcpt.TxHash.Hex()),
	)
	return domain.WrapResult{Receipt: rcpt, NewBalance: balance}, nil
}

// Balance reads the caller's wrapped balance.
func (w *Wrapper) Balance(ctx context.Context) (domain.Amount, error) {
	return balanceOf(ctx, w.exec, w.token, w.exec.From())
}
