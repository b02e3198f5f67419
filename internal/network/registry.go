// Package network resolves a network name to the contract addresses a run
// needs. The table is injected from configuration.
package network

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/borrowbot/internal/domain"
)

// Entry is the hex-string form of one network's addresses, as read from
// configuration.
type Entry struct {
	ChainID               int64
	WrappedNative         string
	DebtToken             string
	PriceFeed             string
	PoolAddressesProvider string
}

// Registry maps network names to addresses.
type Registry struct {
	networks map[string]domain.NetworkAddresses
}

// NewRegistry validates entries and builds a Registry. Names are
// case-insensitive.
func NewRegistry(entries map[string]Entry) (*Registry, error) {
	r := &Registry{networks: make(map[string]domain.NetworkAddresses, len(entries))}
	var errs []string
	for name, e := range entries {
		key := strings.ToLower(strings.TrimSpace(name))
		addrs := domain.NetworkAddresses{Name: key, ChainID: e.ChainID}
		for _, f := range []struct {
			field string
			raw   string
			dst   *common.Address
		}{
			{"wrapped_native", e.WrappedNative, &addrs.WrappedNative},
			{"debt_token", e.DebtToken, &addrs.DebtToken},
			{"price_feed", e.PriceFeed, &addrs.PriceFeed},
			{"pool_addresses_provider", e.PoolAddressesProvider, &addrs.PoolAddressesProvider},
		} {
			if !common.IsHexAddress(f.raw) {
				errs = append(errs, fmt.Sprintf("%s.%s: %q is not an address", key, f.field, f.raw))
				continue
			}
			*f.dst = common.HexToAddress(f.raw)
			if *f.dst == (common.Address{}) {
				errs = append(errs, fmt.Sprintf("%s.%s: zero address", key, f.field))
			}
		}
		if e.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("%s.chain_id: must be positive", key))
		}
		r.networks[key] = addrs
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("network: invalid entries:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return r, nil
}

// Lookup returns the addresses for name or domain.ErrUnknownNetwork.
func (r *Registry) Lookup(name string) (domain.NetworkAddresses, error) {
	addrs, ok := r.networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return domain.NetworkAddresses{}, fmt.Errorf("network: %q (known: %s): %w",
			name, strings.Join(r.Names(), ", "), domain.ErrUnknownNetwork)
	}
	return addrs, nil
}

// Names lists the known networks in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.networks))
	for n := range r.networks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
