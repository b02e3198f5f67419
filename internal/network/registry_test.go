package network

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

func validEntry() Entry {
	return Entry{
		ChainID:               1,
		WrappedNative:         "0x1111111111111111111111111111111111111111",
		DebtToken:             "0x2222222222222222222222222222222222222222",
		PriceFeed:             "0x3333333333333333333333333333333333333333",
		PoolAddressesProvider: "0x4444444444444444444444444444444444444444",
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r, err := NewRegistry(map[string]Entry{"Mainnet": validEntry()})
	require.NoError(t, err)

	addrs, err := r.Lookup("mainnet")
	require.NoError(t, err)
	require.Equal(t, "mainnet", addrs.Name)
	require.Equal(t, common.HexToAddress("0x2222222222222222222222222222222222222222"), addrs.DebtToken)
	require.Equal(t, int64(1), addrs.ChainID)

	_, err = r.Lookup("goerli")
	require.ErrorIs(t, err, domain.ErrUnknownNetwork)
}

func TestRegistry_RejectsBadEntries(t *testing.T) {
	bad := validEntry()
	bad.PriceFeed = "not-an-address"
	bad.DebtToken = "0x0000000000000000000000000000000000000000"
	bad.ChainID = 0

	_, err := NewRegistry(map[string]Entry{"local": bad})
	require.Error(t, err)
	require.Contains(t, err.Error(), "local.price_feed")
	require.Contains(t, err.Error(), "local.debt_token: zero address")
	require.Contains(t, err.Error(), "local.chain_id")
}
