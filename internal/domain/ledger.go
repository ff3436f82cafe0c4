package domain

import (
	"context"
	"math/big"
)

// LedgerReader reads market state from the market contract.
type LedgerReader interface {
	GetMarket(ctx context.Context, marketID *big.Int) (MarketInfo, error)
	GetMarketOptions(ctx context.Context, marketID *big.Int) ([]string, error)
}

// LedgerWriter submits a signed settlement report. Implementations must
// report anything other than a confirmed success as TxStatusFailure.
type LedgerWriter interface {
	SubmitReport(ctx context.Context, report SignedReport) (WriteResult, error)
}

// ReportSigner signs the digest of an encoded report.
type ReportSigner interface {
	SignDigest(digest [32]byte) ([]byte, error)
	Address() string
}

// Oracle sends a prompt to the language model and returns its raw text.
type Oracle interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// SettlementRequest is a finalized SettlementRequested(marketId) event.
type SettlementRequest struct {
	MarketID    *big.Int
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}
