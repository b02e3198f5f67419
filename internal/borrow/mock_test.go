package borrow_test

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/borrow"
	"github.com/alanyoungcy/borrowbot/internal/domain"
)

var (
	weth    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	dai     = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	feed    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	pool    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	account = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	testAddrs = domain.NetworkAddresses{
		Name:          "testnet",
		ChainID:       31337,
		WrappedNative: weth,
		DebtToken:     dai,
		PriceFeed:     feed,
	}
)

// fakeMarket plays wrapper, approver, pool, oracle and receipt lookup at once
// and records every call. ETH is priced at 2000 USD, DAI at 1 USD and the LTV
// is 80%.
type fakeMarket struct {
	mu    sync.Mutex
	calls []string
	tx    int64
	mined map[common.Hash]domain.Receipt

	balance    *big.Int // wei
	allowance  map[common.Address]*big.Int
	collateral *big.Int // 8 decimals
	debt       *big.Int // 8 decimals

	// err* make the named call fail; apply* decide whether the state
	// change still happens when it does.
	errWrap, errApprove, errDeposit, errBorrow, errRepay error
	applyWrap, applyApprove, applyDeposit, applyBorrow   bool
	applyRepay                                           bool
	errAccount, errRate, errDecimals                     error
	unconfirmedApprove                                   bool
	rate                                                 domain.ExchangeRate
	errLookup                                            error

	// accrual is added to non-zero collateral and debt on every position
	// read, the way interest shows up between blocks.
	accrual int64
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		balance:    new(big.Int),
		allowance:  make(map[common.Address]*big.Int),
		collateral: new(big.Int),
		debt:       new(big.Int),
		mined:      make(map[common.Hash]domain.Receipt),
		rate: domain.ExchangeRate{
			// 0.0005 ETH per DAI
			Rate:      domain.NewAmount(big.NewInt(500_000_000_000_000), 18),
			RoundID:   big.NewInt(7),
			UpdatedAt: time.Unix(1_700_000_000, 0),
		},
	}
}

func (m *fakeMarket) log(format string, args ...any) {
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

func (m *fakeMarket) receipt() domain.Receipt {
	m.tx++
	return domain.Receipt{
		TxHash:        common.BigToHash(big.NewInt(m.tx)),
		BlockNumber:   uint64(100 + m.tx),
		GasUsed:       50_000,
		Confirmations: 1,
	}
}

// mine marks rc as included in a block.
func (m *fakeMarket) mine(rc domain.Receipt) {
	m.mined[rc.TxHash] = rc
}

// Lookup finds a receipt by hash; transactions whose effect was withheld were
// never mined.
func (m *fakeMarket) Lookup(_ context.Context, hash common.Hash) (domain.Receipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("receipt")
	if m.errLookup != nil {
		return domain.Receipt{TxHash: hash}, false, m.errLookup
	}
	rc, ok := m.mined[hash]
	if !ok {
		return domain.Receipt{TxHash: hash}, false, nil
	}
	return rc, true, nil
}

// Calls returns the recorded calls.
func (m *fakeMarket) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeMarket) called(name string) bool {
	for _, c := range m.Calls() {
		if c == name {
			return true
		}
	}
	return false
}

func (m *fakeMarket) Token() common.Address { return weth }

func (m *fakeMarket) Wrap(_ context.Context, amount domain.Amount) (domain.WrapResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("wrap")
	rc := m.receipt()
	if m.errWrap != nil {
		if m.applyWrap {
			m.balance.Add(m.balance, amount.Int())
			m.mine(rc)
		}
		return domain.WrapResult{Receipt: domain.Receipt{TxHash: rc.TxHash}}, m.errWrap
	}
	m.balance.Add(m.balance, amount.Int())
	m.mine(rc)
	return domain.WrapResult{Receipt: rc, NewBalance: domain.NewAmount(m.balance, 18)}, nil
}

func (m *fakeMarket) Balance(context.Context) (domain.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("balance")
	return domain.NewAmount(m.balance, 18), nil
}

func (m *fakeMarket) tokenName(token common.Address) string {
	if token == weth {
		return "weth"
	}
	return "dai"
}

func (m *fakeMarket) Approve(_ context.Context, token, spender common.Address, amount domain.Amount) (domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("approve:%s", m.tokenName(token))
	rc := m.receipt()
	if m.errApprove != nil {
		if m.applyApprove {
			m.allowance[token] = new(big.Int).Set(amount.Int())
			m.mine(rc)
		}
		return domain.Receipt{TxHash: rc.TxHash}, m.errApprove
	}
	if m.unconfirmedApprove {
		return domain.Receipt{TxHash: rc.TxHash}, nil
	}
	m.allowance[token] = new(big.Int).Set(amount.Int())
	m.mine(rc)
	return rc, nil
}

func (m *fakeMarket) Allowance(_ context.Context, token, _, _ common.Address) (domain.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("allowance:%s", m.tokenName(token))
	return domain.NewAmount(m.allowance[token], 18), nil
}

func (m *fakeMarket) Decimals(context.Context, common.Address) (uint8, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("decimals")
	return 18, m.errDecimals
}

func (m *fakeMarket) Address() common.Address { return pool }

// toBase converts 18-decimal token units into 8-decimal USD at price usd.
func toBase(amount *big.Int, usd int64) *big.Int {
	v := new(big.Int).Mul(amount, big.NewInt(usd))
	return v.Quo(v, big.NewInt(10_000_000_000))
}

func (m *fakeMarket) Deposit(_ context.Context, _ common.Address, amount domain.Amount, _ common.Address) (domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("deposit")
	rc := m.receipt()
	if m.errDeposit != nil && !m.applyDeposit {
		return domain.Receipt{TxHash: rc.TxHash}, m.errDeposit
	}
	m.collateral.Add(m.collateral, toBase(amount.Int(), 2000))
	m.balance.Sub(m.balance, amount.Int())
	delete(m.allowance, weth)
	m.mine(rc)
	if m.errDeposit != nil {
		return domain.Receipt{TxHash: rc.TxHash}, m.errDeposit
	}
	return rc, nil
}

func (m *fakeMarket) Borrow(_ context.Context, _ common.Address, amount domain.Amount, _ common.Address) (domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("borrow")
	rc := m.receipt()
	if m.errBorrow != nil && !m.applyBorrow {
		return domain.Receipt{TxHash: rc.TxHash}, m.errBorrow
	}
	m.debt.Add(m.debt, toBase(amount.Int(), 1))
	m.mine(rc)
	if m.errBorrow != nil {
		return domain.Receipt{TxHash: rc.TxHash}, m.errBorrow
	}
	return rc, nil
}

func (m *fakeMarket) Repay(_ context.Context, _ common.Address, amount domain.Amount, _ common.Address) (domain.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("repay")
	rc := m.receipt()
	if m.errRepay != nil && !m.applyRepay {
		return domain.Receipt{TxHash: rc.TxHash}, m.errRepay
	}
	m.debt.Sub(m.debt, toBase(amount.Int(), 1))
	if m.debt.Sign() < 0 {
		m.debt.SetInt64(0)
	}
	delete(m.allowance, dai)
	m.mine(rc)
	if m.errRepay != nil {
		return domain.Receipt{TxHash: rc.TxHash}, m.errRepay
	}
	return rc, nil
}

func (m *fakeMarket) GetAccountData(context.Context, common.Address) (domain.AccountPosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("account")
	if m.errAccount != nil {
		return domain.AccountPosition{}, m.errAccount
	}
	for _, v := range []*big.Int{m.collateral, m.debt} {
		if v.Sign() > 0 {
			v.Add(v, big.NewInt(m.accrual))
		}
	}
	limit := new(big.Int).Mul(m.collateral, big.NewInt(8000))
	limit.Quo(limit, big.NewInt(10_000))
	avail := new(big.Int).Sub(limit, m.debt)
	if avail.Sign() < 0 {
		avail.SetInt64(0)
	}
	return domain.AccountPosition{
		TotalCollateralBase:         new(big.Int).Set(m.collateral),
		TotalDebtBase:               new(big.Int).Set(m.debt),
		AvailableBorrowsBase:        avail,
		CurrentLiquidationThreshold: big.NewInt(8250),
		LTV:                         big.NewInt(8000),
		HealthFactor:                new(big.Int).Lsh(big.NewInt(1), 255),
	}, nil
}

func (m *fakeMarket) GetExchangeRate(context.Context, common.Address) (domain.ExchangeRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log("rate")
	return m.rate, m.errRate
}

// recordingReporter keeps every event it receives.
type recordingReporter struct {
	mu       sync.Mutex
	events   []borrow.StepEvent
	summary  *borrow.Summary
	finished int
}

func (r *recordingReporter) StepCompleted(_ context.Context, ev borrow.StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) RunFinished(_ context.Context, s borrow.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary = &s
	r.finished++
}

func (r *recordingReporter) steps() []borrow.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]borrow.State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Step)
	}
	return out
}
