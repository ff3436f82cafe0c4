// Package chain connects the settlement workflow to the EVM market
// contract: reading markets, submitting reports and watching for
// SettlementRequested events.
package chain

import (
	"fmt"
	"sort"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// Network is an EVM chain the market contract can live on.
type Network struct {
	SelectorName string
	ChainID      int64
	Testnet      bool
}

var networks = map[string]Network{
	"ethereum-mainnet":                    {ChainID: 1},
	"ethereum-mainnet-base-1":             {ChainID: 8453},
	"ethereum-mainnet-arbitrum-1":         {ChainID: 42161},
	"ethereum-mainnet-optimism-1":         {ChainID: 10},
	"polygon-mainnet":                     {ChainID: 137},
	"avalanche-mainnet":                   {ChainID: 43114},
	"ethereum-testnet-sepolia":            {ChainID: 11155111, Testnet: true},
	"ethereum-testnet-sepolia-base-1":     {ChainID: 84532, Testnet: true},
	"ethereum-testnet-sepolia-arbitrum-1": {ChainID: 421614, Testnet: true},
	"ethereum-testnet-sepolia-optimism-1": {ChainID: 11155420, Testnet: true},
	"polygon-testnet-amoy":                {ChainID: 80002, Testnet: true},
	"avalanche-testnet-fuji":              {ChainID: 43113, Testnet: true},
}

// LookupNetwork resolves a chain selector name such as
// "ethereum-testnet-sepolia-base-1".
func LookupNetwork(selectorName string) (Network, error) {
	n, ok := networks[selectorName]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q", domain.ErrUnknownNetwork, selectorName)
	}
	n.SelectorName = selectorName
	return n, nil
}

// NetworkNames lists every known selector name, sorted.
func NetworkNames() []string {
	out := make([]string, 0, len(networks))
	for name := range networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
