package domain

import "math/big"

// Outcome is the oracle's validated answer for a market.
type Outcome struct {
	Index      int    `json:"outcome"`
	Confidence int    `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

// Prompt is the pair of messages sent to the oracle. System is empty for
// templates that do not use a system message.
type Prompt struct {
	System string
	User   string
}

// SettlementReport is the only state that crosses into the ledger write.
type SettlementReport struct {
	MarketID *big.Int
	Outcome  uint8
}

// SignedReport is an encoded report together with the executor's signature
// over its digest.
type SignedReport struct {
	Report    SettlementReport
	Payload   []byte
	Digest    [32]byte
	Signature []byte
}

// TxStatus is the outcome of a ledger write.
type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailure TxStatus = "failure"
)

// WriteResult is what the ledger writer reports back after submission.
type WriteResult struct {
	Status       TxStatus
	TxHash       string
	ErrorMessage string
}
