package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketABI covers the parts of the market contract and report receiver the
// executor touches.
const marketABI = `[
  {"type":"function","name":"markets","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[
     {"name":"question","type":"string"},
     {"name":"marketType","type":"uint8"},
     {"name":"deadline","type":"uint256"},
     {"name":"resolutionSource","type":"string"},
     {"name":"status","type":"uint8"},
     {"name":"winningOutcome","type":"uint8"},
     {"name":"totalPool","type":"uint256"},
     {"name":"creator","type":"address"}]},
  {"type":"function","name":"getMarketOptions","stateMutability":"view",
   "inputs":[{"name":"marketId","type":"uint256"}],
   "outputs":[{"name":"","type":"string[]"}]},
  {"type":"function","name":"onReport","stateMutability":"nonpayable",
   "inputs":[{"name":"metadata","type":"bytes"},{"name":"report","type":"bytes"}],
   "outputs":[]},
  {"type":"event","name":"SettlementRequested","anonymous":false,
   "inputs":[{"name":"marketId","type":"uint256","indexed":true}]}
]`

// MarketABI is the parsed contract ABI.
var MarketABI = mustParseABI(marketABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse market ABI: %v", err))
	}
	return parsed
}

// SettlementRequestedTopic is topic[0] of SettlementRequested logs.
var SettlementRequestedTopic = MarketABI.Events["SettlementRequested"].ID
