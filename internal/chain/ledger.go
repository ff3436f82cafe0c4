package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// ContractCaller is the read side of an RPC client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Ledger reads market state from the market contract. Calls run against
// the latest block.
type Ledger struct {
	caller  ContractCaller
	address common.Address
}

// NewLedger creates a Ledger for the contract at address.
func NewLedger(caller ContractCaller, address common.Address) *Ledger {
	return &Ledger{caller: caller, address: address}
}

// GetMarket returns the markets(uint256) tuple.
func (l *Ledger) GetMarket(ctx context.Context, marketID *big.Int) (domain.MarketInfo, error) {
	out, err := l.call(ctx, "markets", marketID)
	if err != nil {
		return domain.MarketInfo{}, err
	}
	return decodeMarket(out)
}

// GetMarketOptions returns the ordered option labels of a market.
func (l *Ledger) GetMarketOptions(ctx context.Context, marketID *big.Int) ([]string, error) {
	out, err := l.call(ctx, "getMarketOptions", marketID)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: getMarketOptions: %d return values", len(out))
	}
	options, ok := out[0].([]string)
	if !ok {
		return nil, fmt.Errorf("chain: getMarketOptions: unexpected type %T", out[0])
	}
	return options, nil
}

func (l *Ledger) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := MarketABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	to := l.address
	raw, err := l.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	out, err := MarketABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return out, nil
}

func decodeMarket(out []any) (domain.MarketInfo, error) {
	if len(out) != 8 {
		return domain.MarketInfo{}, fmt.Errorf("chain: markets: %d return values", len(out))
	}
	var (
		info     domain.MarketInfo
		ok       bool
		mtype    uint8
		deadline *big.Int
		status   uint8
	)
	if info.Question, ok = out[0].(string); !ok {
		return info, fmt.Errorf("chain: markets: question has type %T", out[0])
	}
	if mtype, ok = out[1].(uint8); !ok {
		return info, fmt.Errorf("chain: markets: marketType has type %T", out[1])
	}
	if deadline, ok = out[2].(*big.Int); !ok {
		return info, fmt.Errorf("chain: markets: deadline has type %T", out[2])
	}
	if info.ResolutionSource, ok = out[3].(string); !ok {
		return info, fmt.Errorf("chain: markets: resolutionSource has type %T", out[3])
	}
	if status, ok = out[4].(uint8); !ok {
		return info, fmt.Errorf("chain: markets: status has type %T", out[4])
	}
	if info.WinningOutcome, ok = out[5].(uint8); !ok {
		return info, fmt.Errorf("chain: markets: winningOutcome has type %T", out[5])
	}
	if info.TotalPool, ok = out[6].(*big.Int); !ok {
		return info, fmt.Errorf("chain: markets: totalPool has type %T", out[6])
	}
	if info.Creator, ok = out[7].(common.Address); !ok {
		return info, fmt.Errorf("chain: markets: creator has type %T", out[7])
	}
	info.Type = domain.MarketType(mtype)
	info.Status = domain.MarketStatus(status)
	if deadline.IsInt64() {
		info.Deadline = time.Unix(deadline.Int64(), 0).UTC()
	}
	return info, nil
}

// Compile-time interface check.
var _ domain.LedgerReader = (*Ledger)(nil)
