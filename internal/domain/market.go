package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus mirrors the uint8 status enum stored by the market contract.
type MarketStatus uint8

const (
	MarketStatusOpen               MarketStatus = 0
	MarketStatusAwaitingSettlement MarketStatus = 1
	MarketStatusSettled            MarketStatus = 2
)

// String returns the lowercase status name used in logs and API responses.
func (s MarketStatus) String() string {
	switch s {
	case MarketStatusOpen:
		return "open"
	case MarketStatusAwaitingSettlement:
		return "awaiting_settlement"
	case MarketStatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// MarketType mirrors the uint8 market type enum stored by the market contract.
type MarketType uint8

const (
	MarketTypeBinary      MarketType = 0
	MarketTypeMultiChoice MarketType = 1
)

// Option count bounds enforced on every snapshot.
const (
	MinOptions = 2
	MaxOptions = 6
)

// MarketInfo is the full markets(uint256) tuple as returned by the ledger.
type MarketInfo struct {
	Question         string
	Type             MarketType
	Deadline         time.Time
	ResolutionSource string
	Status           MarketStatus
	WinningOutcome   uint8
	TotalPool        *big.Int
	Creator          common.Address
}

// MarketSnapshot is the immutable view of a market used by one settlement
// attempt. It is re-read for every attempt and never cached.
type MarketSnapshot struct {
	MarketID         *big.Int
	Question         string
	Options          []string // ordered; index 0 is the status-quo option for binary markets
	ResolutionSource string
}

// OptionCount returns the number of options in the snapshot.
func (s MarketSnapshot) OptionCount() int {
	return len(s.Options)
}
