// Package chaintest provides an in-memory chain.Executor that dispatches
// ABI-encoded calls to Go handlers, for testing contract adapters without a
// node.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Handler implements one contract method. value is nil for reads.
type Handler func(args []any, value *big.Int) ([]any, error)

// Call is one recorded invocation.
type Call struct {
	To     common.Address
	Method string
	Args   []any
	Value  *big.Int
	Write  bool
}

type contract struct {
	abi      abi.ABI
	handlers map[string]Handler
}

// Executor is a fake chain.Executor.
type Executor struct {
	mu        sync.Mutex
	from      common.Address
	contracts map[common.Address]*contract
	calls     []Call
	block     uint64
	mined     map[common.Hash]domain.Receipt

	// Fail forces Execute of the named method to return the error without
	// running the handler.
	Fail map[string]error
	// Timeout makes Execute of the named method run the handler (the call
	// lands) and then report domain.ErrConfirmationTimeout.
	Timeout map[string]bool
	// Unmined makes Execute of the named method report
	// domain.ErrConfirmationTimeout without running the handler. The hash it
	// returns is never mined.
	Unmined map[string]bool
}

// NewExecutor returns an Executor submitting as from.
func NewExecutor(from common.Address) *Executor {
	return &Executor{
		from:      from,
		contracts: make(map[common.Address]*contract),
		block:     1000,
		mined:     make(map[common.Hash]domain.Receipt),
		Fail:      make(map[string]error),
		Timeout:   make(map[string]bool),
		Unmined:   make(map[string]bool),
	}
}

// Register installs handlers for the contract at addr.
func (e *Executor) Register(addr common.Address, contractABI abi.ABI, handlers map[string]Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contracts[addr] = &contract{abi: contractABI, handlers: handlers}
}

func (e *Executor) From() common.Address { return e.from }

func (e *Executor) Read(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	method, args, h, err := e.decode(to, data)
	if err != nil {
		return nil, err
	}
	e.calls = append(e.calls, Call{To: to, Method: method.Name, Args: args})
	out, err := h(args, nil)
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(out...)
}

func (e *Executor) Execute(_ context.Context, to common.Address, value *big.Int, data []byte) (domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	method, args, h, err := e.decode(to, data)
	if err != nil {
		return domain.Receipt{}, err
	}
	e.calls = append(e.calls, Call{To: to, Method: method.Name, Args: args, Value: value, Write: true})
	if ferr, ok := e.Fail[method.Name]; ok {
		return domain.Receipt{}, ferr
	}
	if e.Unmined[method.Name] {
		hash := crypto.Keccak256Hash([]byte("unmined"), data)
		return domain.Receipt{TxHash: hash}, fmt.Errorf("chaintest: %s: %w", method.Name, domain.ErrConfirmationTimeout)
	}
	if _, err := h(args, value); err != nil {
		return domain.Receipt{}, fmt.Errorf("%w: %v", domain.ErrTransactionReverted, err)
	}
	e.block++
	rcpt := domain.Receipt{
		TxHash:        common.BigToHash(new(big.Int).SetUint64(e.block)),
		BlockNumber:   e.block,
		GasUsed:       21_000,
		Confirmations: 1,
	}
	e.mined[rcpt.TxHash] = rcpt
	if e.Timeout[method.Name] {
		return domain.Receipt{TxHash: rcpt.TxHash}, fmt.Errorf("chaintest: %s: %w", method.Name, domain.ErrConfirmationTimeout)
	}
	return rcpt, nil
}

// Lookup returns the receipt of a transaction Execute mined.
func (e *Executor) Lookup(_ context.Context, hash common.Hash) (domain.Receipt, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, Call{Method: "receipt", Args: []any{hash}})
	rcpt, ok := e.mined[hash]
	if !ok {
		return domain.Receipt{TxHash: hash}, false, nil
	}
	return rcpt, true, nil
}

// Calls returns every recorded call in order.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Call(nil), e.calls...)
}

// Writes returns the method names of state-changing calls in order.
func (e *Executor) Writes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, c := range e.calls {
		if c.Write {
			out = append(out, c.Method)
		}
	}
	return out
}

func (e *Executor) decode(to common.Address, data []byte) (*abi.Method, []any, Handler, error) {
	c, ok := e.contracts[to]
	if !ok {
		return nil, nil, nil, fmt.Errorf("chaintest: no contract at %s", to.Hex())
	}
	if len(data) < 4 {
		return nil, nil, nil, fmt.Errorf("chaintest: short calldata")
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("chaintest: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("chaintest: unpack %s: %w", method.Name, err)
	}
	h, ok := c.handlers[method.Name]
	if !ok {
		return nil, nil, nil, fmt.Errorf("chaintest: %s not implemented at %s", method.Name, to.Hex())
	}
	return method, args, h, nil
}
