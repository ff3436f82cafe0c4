package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// TxBackend is the subset of ethclient.Client the writer needs.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Receiver     common.Address // contract exposing onReport(bytes,bytes)
	ChainID      *big.Int
	GasLimit     uint64 // zero means estimate
	ReceiptPoll  time.Duration
	ReceiptWait  time.Duration
	GasFeeFactor int64 // fee cap = base fee * factor + tip; zero means 2
}

// Writer submits signed reports as EIP-1559 transactions calling
// onReport(metadata, report), with the report signature as metadata.
type Writer struct {
	backend TxBackend
	key     *ecdsa.PrivateKey
	from    common.Address
	cfg     WriterConfig
	logger  *slog.Logger
}

// NewWriter creates a Writer that signs transactions with key.
func NewWriter(backend TxBackend, key *ecdsa.PrivateKey, cfg WriterConfig, logger *slog.Logger) *Writer {
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.ReceiptWait <= 0 {
		cfg.ReceiptWait = 2 * time.Minute
	}
	if cfg.GasFeeFactor <= 0 {
		cfg.GasFeeFactor = 2
	}
	return &Writer{
		backend: backend,
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "ledger_writer")),
	}
}

// SubmitReport sends the report and waits for its receipt. A reverted
// transaction is returned as TxStatusFailure with a nil error; transport
// problems are returned as errors.
func (w *Writer) SubmitReport(ctx context.Context, report domain.SignedReport) (domain.WriteResult, error) {
	data, err := MarketABI.Pack("onReport", report.Signature, report.Payload)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("chain: pack onReport: %w", err)
	}

	tx, err := w.buildTx(ctx, data)
	if err != nil {
		return domain.WriteResult{}, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.cfg.ChainID), w.key)
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("chain: sign tx: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return domain.WriteResult{}, fmt.Errorf("chain: send tx: %w", err)
	}

	hash := signed.Hash()
	w.logger.InfoContext(ctx, "report transaction sent",
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("nonce", signed.Nonce()),
	)

	receipt, err := w.waitReceipt(ctx, hash)
	if err != nil {
		return domain.WriteResult{TxHash: hash.Hex(), Status: domain.TxStatusFailure, ErrorMessage: err.Error()}, err
	}
	res := domain.WriteResult{TxHash: hash.Hex(), Status: domain.TxStatusSuccess}
	if receipt.Status != types.ReceiptStatusSuccessful {
		res.Status = domain.TxStatusFailure
		res.ErrorMessage = fmt.Sprintf("transaction reverted in block %s", receipt.BlockNumber)
	}
	return res, nil
}

func (w *Writer) buildTx(ctx context.Context, data []byte) (*types.Transaction, error) {
	nonce, err := w.backend.PendingNonceAt(ctx, w.from)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w", err)
	}
	tip, err := w.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest tip: %w", err)
	}
	head, err := w.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(w.cfg.GasFeeFactor)))
	}

	to := w.cfg.Receiver
	gas := w.cfg.GasLimit
	if gas == 0 {
		gas, err = w.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:      w.from,
			To:        &to,
			GasFeeCap: feeCap,
			GasTipCap: tip,
			Data:      data,
		})
		if err != nil {
			return nil, fmt.Errorf("chain: estimate gas: %w", err)
		}
	}

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      data,
	}), nil
}

func (w *Writer) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.ReceiptWait)
	defer cancel()

	ticker := time.NewTicker(w.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := w.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Compile-time interface check.
var _ domain.LedgerWriter = (*Writer)(nil)
