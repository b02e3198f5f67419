// Package aave binds the lending pool of an Aave v3 deployment: pool
// resolution through the addresses provider, collateral deposits, borrows,
// repayments and account data.
package aave

import "github.com/alanyoungcy/borrowbot/internal/chain"

// ProviderABI is the slice of IPoolAddressesProvider used to find the pool.
var ProviderABI = chain.MustParseABI(`[
	{"type":"function","name":"getPool","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
]`)

// PoolABI is the slice of IPool used by the adapter.
var PoolABI = chain.MustParseABI(`[
	{"type":"function","name":"supply","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"onBehalfOf","type":"address"},
		{"name":"referralCode","type":"uint16"}
	],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"borrow","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"interestRateMode","type":"uint256"},
		{"name":"referralCode","type":"uint16"},
		{"name":"onBehalfOf","type":"address"}
	],"outputs":[],"stateMutability":"nonpayable"},
	{"type":"function","name":"repay","inputs":[
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"interestRateMode","type":"uint256"},
		{"name":"onBehalfOf","type":"address"}
	],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"getUserAccountData","inputs":[{"name":"user","type":"address"}],"outputs":[
		{"name":"totalCollateralBase","type":"uint256"},
		{"name":"totalDebtBase","type":"uint256"},
		{"name":"availableBorrowsBase","type":"uint256"},
		{"name":"currentLiquidationThreshold","type":"uint256"},
		{"name":"ltv","type":"uint256"},
		{"name":"healthFactor","type":"uint256"}
	],"stateMutability":"view"}
]`)
