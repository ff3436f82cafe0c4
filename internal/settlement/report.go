package settlement

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// ReportSize is the length of an encoded report: two 32-byte ABI words.
const ReportSize = 64

var reportArgs = newReportArgs()

func newReportArgs() abi.Arguments {
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	uint8Type, err := abi.NewType("uint8", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{
		{Name: "marketId", Type: uint256},
		{Name: "outcome", Type: uint8Type},
	}
}

// NewReport builds the report for a validated outcome.
func NewReport(marketID *big.Int, outcome domain.Outcome) (domain.SettlementReport, error) {
	if outcome.Index < 0 || outcome.Index > 255 {
		return domain.SettlementReport{}, fmt.Errorf("%w: outcome %d does not fit uint8", domain.ErrOutOfRangeOutcome, outcome.Index)
	}
	return domain.SettlementReport{
		MarketID: new(big.Int).Set(marketID),
		Outcome:  uint8(outcome.Index),
	}, nil
}

// EncodeReport packs the report as abi.encode(uint256 marketId, uint8 outcome).
func EncodeReport(r domain.SettlementReport) ([]byte, error) {
	if r.MarketID == nil || r.MarketID.Sign() < 0 || r.MarketID.BitLen() > 256 {
		return nil, fmt.Errorf("settlement: encode report: market id %v outside uint256", r.MarketID)
	}
	payload, err := reportArgs.Pack(r.MarketID, r.Outcome)
	if err != nil {
		return nil, fmt.Errorf("settlement: encode report: %w", err)
	}
	return payload, nil
}

// DecodeReport is the inverse of EncodeReport.
func DecodeReport(payload []byte) (domain.SettlementReport, error) {
	if len(payload) != ReportSize {
		return domain.SettlementReport{}, fmt.Errorf("settlement: decode report: want %d bytes, got %d", ReportSize, len(payload))
	}
	values, err := reportArgs.Unpack(payload)
	if err != nil {
		return domain.SettlementReport{}, fmt.Errorf("settlement: decode report: %w", err)
	}
	id, ok := values[0].(*big.Int)
	if !ok {
		return domain.SettlementReport{}, fmt.Errorf("settlement: decode report: market id has type %T", values[0])
	}
	outcome, ok := values[1].(uint8)
	if !ok {
		return domain.SettlementReport{}, fmt.Errorf("settlement: decode report: outcome has type %T", values[1])
	}
	return domain.SettlementReport{MarketID: id, Outcome: outcome}, nil
}

// ReportDigest is the keccak256 hash executors compare and sign.
func ReportDigest(payload []byte) [32]byte {
	return crypto.Keccak256Hash(payload)
}

// DigestHex renders a digest as 0x-prefixed hex.
func DigestHex(d [32]byte) string {
	return "0x" + hex.EncodeToString(d[:])
}
