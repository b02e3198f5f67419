package erc20

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/borrowbot/internal/chain/chaintest"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

var (
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testWETH    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testPool    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeToken struct {
	balances   map[common.Address]*big.Int
	allowances map[[2]common.Address]*big.Int
}

func newFakeToken(exec *chaintest.Executor, addr common.Address) *fakeToken {
	tok := &fakeToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[[2]common.Address]*big.Int),
	}
	from := exec.From()
	exec.Register(addr, TokenABI, map[string]chaintest.Handler{
		"deposit": func(_ []any, value *big.Int) ([]any, error) {
			tok.balances[from] = new(big.Int).Add(tok.balanceOf(from), value)
			return nil, nil
		},
		"balanceOf": func(args []any, _ *big.Int) ([]any, error) {
			return []any{tok.balanceOf(args[0].(common.Address))}, nil
		},
		"approve": func(args []any, _ *big.Int) ([]any, error) {
			tok.allowances[[2]common.Address{from, args[0].(common.Address)}] = args[1].(*big.Int)
			return []any{true}, nil
		},
		"allowance": func(args []any, _ *big.Int) ([]any, error) {
			v, ok := tok.allowances[[2]common.Address{args[0].(common.Address), args[1].(common.Address)}]
			if !ok {
				v = new(big.Int)
			}
			return []any{v}, nil
		},
		"decimals": func([]any, *big.Int) ([]any, error) {
			return []any{uint8(18)}, nil
		},
	})
	return tok
}

func (t *fakeToken) balanceOf(a common.Address) *big.Int {
	if v, ok := t.balances[a]; ok {
		return v
	}
	return new(big.Int)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWrapper_Wrap(t *testing.T) {
	exec := chaintest.NewExecutor(testAccount)
	newFakeToken(exec, testWETH)
	w := NewWrapper(exec, testWETH, discard())

	amount := domain.NewAmount(big.NewInt(20_000_000_000_000_000), 18)
	res, err := w.Wrap(context.Background(), amount)
	require.NoError(t, err)
	require.True(t, res.Receipt.Confirmed())
	require.Equal(t, "0.02", res.NewBalance.String())

	// a second call wraps again
	res, err = w.Wrap(context.Background(), amount)
	require.NoError(t, err)
	require.Equal(t, "0.04", res.NewBalance.String())

	require.Equal(t, []string{"deposit", "deposit"}, exec.Writes())
	require.Equal(t, "20000000000000000", exec.Calls()[0].Value.String())
}

func TestWrapper_RejectsNonPositive(t *testing.T) {
	exec := chaintest.NewExecutor(testAccount)
	newFakeToken(exec, testWETH)
	w := NewWrapper(exec, testWETH, discard())

	_, err := w.Wrap(context.Background(), domain.ZeroAmount(18))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	require.Empty(t, exec.Calls())
}

func TestWrapper_Revert(t *testing.T) {
	exec := chaintest.NewExecutor(testAccount)
	newFakeToken(exec, testWETH)
	exec.Fail["deposit"] = errors.Join(domain.ErrTransactionReverted, errors.New("insufficient funds"))
	w := NewWrapper(exec, testWETH, discard())

	_, err := w.Wrap(context.Background(), domain.NewAmount(big.NewInt(1), 18))
	require.ErrorIs(t, err, domain.ErrTransactionReverted)
}

func TestApprover_SetsExactAllowance(t *testing.T) {
	exec := chaintest.NewExecutor(testAccount)
	newFakeToken(exec, testWETH)
	a := NewApprover(exec, discard())
	ctx := context.Background()

	_, err := a.Approve(ctx, testWETH, testPool, domain.NewAmount(big.NewInt(500), 18))
	require.NoError(t, err)
	rcpt, err := a.Approve(ctx, testWETH, testPool, domain.NewAmount(big.NewInt(200), 18))
	require.NoError(t, err)
	require.True(t, rcpt.Confirmed())

	got, err := a.Allowance(ctx, testWETH, testAccount, testPool)
	require.NoError(t, err)
	require.Equal(t, "200", got.Int().String(), "approve replaces rather than adds")
	require.Equal(t, uint8(18), got.Decimals)
}

func TestApprover_ConfirmationTimeout(t *testing.T) {
	exec := chaintest.NewExecutor(testAccount)
	newFakeToken(exec, testWETH)
	exec.Timeout["approve"] = true
	a := NewApprover(exec, discard())

	_, err := a.Approve(context.Background(), testWETH, testPool, domain.NewAmount(big.NewInt(1), 18))
	require.ErrorIs(t, err, domain.ErrConfirmationTimeout)
}
