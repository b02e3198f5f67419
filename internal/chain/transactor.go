package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Signer signs transactions for exactly one account.
type Signer interface {
	Address() common.Address
	SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// Caller performs read-only contract calls.
type Caller interface {
	Read(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Executor submits state-changing calls from one account and blocks until
// they are confirmed.
type Executor interface {
	Caller
	From() common.Address
	Execute(ctx context.Context, to common.Address, value *big.Int, data []byte) (domain.Receipt, error)
}

// Options tunes submission and confirmation.
type Options struct {
	ChainID        int64
	Confirmations  uint64
	PollInterval   time.Duration
	ConfirmTimeout time.Duration
	ReadTimeout    time.Duration
	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent uint64
}

func (o Options) withDefaults() Options {
	if o.Confirmations == 0 {
		o.Confirmations = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 3 * time.Minute
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	return o
}

// Transactor implements Executor on top of a Backend.
type Transactor struct {
	backend Backend
	signer  Signer
	chainID *big.Int
	opts    Options
	logger  *slog.Logger
}

// NewTransactor creates a Transactor that signs with signer.
func NewTransactor(backend Backend, signer Signer, opts Options, logger *slog.Logger) *Transactor {
	opts = opts.withDefaults()
	return &Transactor{
		backend: backend,
		signer:  signer,
		chainID: big.NewInt(opts.ChainID),
		opts:    opts,
		logger:  logger.With(slog.String("component", "transactor")),
	}
}

// From returns the submitting account.
func (t *Transactor) From() common.Address {
	return t.signer.Address()
}

// Read performs an eth_call against the latest block.
func (t *Transactor) Read(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.ReadTimeout)
	defer cancel()

	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{
		From: t.From(),
		To:   &to,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", to.Hex(), err)
	}
	return out, nil
}

// Execute submits a call and waits for it to reach the configured
// confirmation depth.
func (t *Transactor) Execute(ctx context.Context, to common.Address, value *big.Int, data []byte) (domain.Receipt, error) {
	pending, err := t.Submit(ctx, to, value, data)
	if err != nil {
		return domain.Receipt{}, err
	}
	return t.Wait(ctx, pending)
}

// Submit signs and broadcasts a dynamic-fee transaction. A gas estimate the
// node rejects means the call would revert and is reported as
// domain.ErrTransactionReverted without broadcasting anything; an estimate
// that could not be obtained is domain.ErrReadFailed.
func (t *Transactor) Submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (domain.PendingTx, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.ReadTimeout)
	defer cancel()

	if value == nil {
		value = new(big.Int)
	}
	from := t.From()

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		kind := domain.ErrReadFailed
		if wouldRevert(err) {
			kind = domain.ErrTransactionReverted
		}
		return domain.PendingTx{}, fmt.Errorf("chain: estimate gas for %s: %w: %v", to.Hex(), kind, err)
	}
	gas += gas * t.opts.GasBufferPercent / 100

	nonce, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("chain: pending nonce: %w", err)
	}
	tip, err := t.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("chain: suggest tip: %w", err)
	}
	head, err := t.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("chain: latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head != nil && head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := gethtypes.NewTx(&gethtypes.DynamicFeeTx{
		ChainID:   t.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := t.signer.SignTx(tx, t.chainID)
	if err != nil {
		return domain.PendingTx{}, fmt.Errorf("chain: sign: %w", err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return domain.PendingTx{}, fmt.Errorf("chain: send: %w", err)
	}

	t.logger.DebugContext(ctx, "transaction submitted",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
	)

	return domain.PendingTx{Hash: signed.Hash(), Nonce: nonce, SubmittedAt: time.Now().UTC()}, nil
}

// Wait blocks until the transaction has the configured number of
// confirmations. It returns domain.ErrTransactionReverted for a failed
// receipt and domain.ErrConfirmationTimeout when the wait is cut short; in the
// latter case the transaction may or may not have been mined.
func (t *Transactor) Wait(ctx context.Context, pending domain.PendingTx) (domain.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, t.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, done, err := t.poll(waitCtx, pending.Hash)
		if err != nil {
			return rcpt, err
		}
		if done {
			return rcpt, nil
		}

		select {
		case <-waitCtx.Done():
			return domain.Receipt{TxHash: pending.Hash}, fmt.Errorf("chain: wait for %s: %w (%w)",
				pending.Hash.Hex(), domain.ErrConfirmationTimeout, waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (t *Transactor) poll(ctx context.Context, hash common.Hash) (domain.Receipt, bool, error) {
	receipt, err := t.backend.TransactionReceipt(ctx, hash)
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			t.logger.DebugContext(ctx, "receipt lookup failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		return domain.Receipt{}, false, nil
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return domain.Receipt{}, false, nil
	}

	rcpt := domain.Receipt{
		TxHash:      hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return rcpt, false, fmt.Errorf("chain: tx %s in block %d: %w", hash.Hex(), rcpt.BlockNumber, domain.ErrTransactionReverted)
	}

	head, err := t.backend.BlockNumber(ctx)
	if err != nil || head < rcpt.BlockNumber {
		return rcpt, false, nil
	}
	rcpt.Confirmations = head - rcpt.BlockNumber + 1
	return rcpt, rcpt.Confirmations >= t.opts.Confirmations, nil
}

// Lookup fetches the receipt for hash without waiting. It reports false while
// the transaction is pending or unknown to the node.
func (t *Transactor) Lookup(ctx context.Context, hash common.Hash) (domain.Receipt, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opts.ReadTimeout)
	defer cancel()

	receipt, err := t.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return domain.Receipt{TxHash: hash}, false, nil
	}
	if err != nil {
		return domain.Receipt{TxHash: hash}, false, fmt.Errorf("chain: receipt %s: %w: %v", hash.Hex(), domain.ErrReadFailed, err)
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return domain.Receipt{TxHash: hash}, false, nil
	}

	rcpt := domain.Receipt{
		TxHash:      hash,
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return rcpt, false, fmt.Errorf("chain: tx %s in block %d: %w", hash.Hex(), rcpt.BlockNumber, domain.ErrTransactionReverted)
	}
	if head, err := t.backend.BlockNumber(ctx); err == nil && head >= rcpt.BlockNumber {
		rcpt.Confirmations = head - rcpt.BlockNumber + 1
	}
	return rcpt, true, nil
}

// wouldRevert tells a node rejecting the call apart from a node that could
// not be asked.
func wouldRevert(err error) bool {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}
