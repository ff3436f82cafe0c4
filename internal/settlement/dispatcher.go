package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// DefaultLockTTL bounds how long one worker may hold a market.
const DefaultLockTTL = 5 * time.Minute

// StageError is returned by Settle when an attempt fails. Stage is the state
// the attempt was trying to reach.
type StageError struct {
	Stage domain.AttemptState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("settlement: %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage domain.AttemptState, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// Decision is everything Compute derived for one snapshot. Fields are filled
// in pipeline order, so a failed Compute returns a partial Decision.
type Decision struct {
	Snapshot    domain.MarketSnapshot
	Route       domain.Route
	Bundle      domain.DataBundle
	Strategy    PromptStrategy
	Prompt      domain.Prompt
	RawResponse string
	Outcome     domain.Outcome
	Report      domain.SettlementReport
	Payload     []byte
	Digest      [32]byte
	reached     domain.AttemptState
}

// Reached returns the last state the decision got to.
func (d Decision) Reached() domain.AttemptState { return d.reached }

// DispatcherConfig wires the dispatcher's collaborators. Locks and Observers
// are optional.
type DispatcherConfig struct {
	Ledger    domain.LedgerReader
	Fetcher   *Fetcher
	Oracle    domain.Oracle
	Signer    domain.ReportSigner
	Writer    domain.LedgerWriter
	Locks     domain.LockManager
	LockTTL   time.Duration
	Observers []Observer
}

// Dispatcher drives one settlement attempt per call through the state
// machine Idle → ContextLoaded → DataGathered → PromptBuilt → OracleAnswered
// → Validated → ReportSubmitted, or Failed at the first error.
type Dispatcher struct {
	ledger    domain.LedgerReader
	fetcher   *Fetcher
	oracle    domain.Oracle
	signer    domain.ReportSigner
	writer    domain.LedgerWriter
	locks     domain.LockManager
	lockTTL   time.Duration
	observers []Observer
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Dispatcher{
		ledger:    cfg.Ledger,
		fetcher:   cfg.Fetcher,
		oracle:    cfg.Oracle,
		signer:    cfg.Signer,
		writer:    cfg.Writer,
		locks:     cfg.Locks,
		lockTTL:   ttl,
		observers: cfg.Observers,
		logger:    logger.With(slog.String("component", "dispatcher")),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// LoadSnapshot reads the market context for one attempt. The snapshot is
// never reused across attempts.
func LoadSnapshot(ctx context.Context, ledger domain.LedgerReader, marketID *big.Int) (domain.MarketSnapshot, error) {
	if marketID == nil || marketID.Sign() < 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: invalid market id %v", domain.ErrInvalidMarket, marketID)
	}
	info, err := ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("settlement: get market %s: %w", marketID, err)
	}
	options, err := ledger.GetMarketOptions(ctx, marketID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("settlement: get market options %s: %w", marketID, err)
	}
	if len(options) < domain.MinOptions || len(options) > domain.MaxOptions {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: market %s has %d options", domain.ErrInvalidMarket, marketID, len(options))
	}
	return domain.MarketSnapshot{
		MarketID:         new(big.Int).Set(marketID),
		Question:         info.Question,
		Options:          append([]string(nil), options...),
		ResolutionSource: info.ResolutionSource,
	}, nil
}

// Compute runs the decision half of the pipeline for a loaded snapshot: route,
// fetch, prompt, oracle and validation, ending with the encoded report. It
// reads no clock and holds no state between calls.
func (d *Dispatcher) Compute(ctx context.Context, snap domain.MarketSnapshot) (Decision, error) {
	dec := Decision{Snapshot: snap, reached: domain.StateContextLoaded}

	dec.Route = Route(snap.ResolutionSource)
	if d.fetcher != nil {
		dec.Bundle = d.fetcher.Gather(ctx, dec.Route)
	} else {
		dec.Bundle = domain.NewDataBundle()
		for _, p := range ProvidersFor(dec.Route) {
			dec.Bundle.MarkUnavailable(p, domain.ErrNetworkUnavailable)
		}
	}
	if err := ctx.Err(); err != nil {
		return dec, stageErr(domain.StateDataGathered, err)
	}
	dec.reached = domain.StateDataGathered

	dec.Strategy = StrategyFor(dec.Route, dec.Bundle)
	dec.Prompt = BuildPrompt(snap, dec.Strategy)
	dec.reached = domain.StatePromptBuilt

	raw, err := d.oracle.Complete(ctx, dec.Prompt)
	if err != nil {
		return dec, stageErr(domain.StateOracleAnswered, err)
	}
	dec.RawResponse = raw
	dec.reached = domain.StateOracleAnswered

	outcome, err := ParseOutcome(raw, snap.OptionCount())
	if err != nil {
		return dec, stageErr(domain.StateValidated, err)
	}
	dec.Outcome = outcome

	report, err := NewReport(snap.MarketID, outcome)
	if err != nil {
		return dec, stageErr(domain.StateValidated, err)
	}
	payload, err := EncodeReport(report)
	if err != nil {
		return dec, stageErr(domain.StateValidated, err)
	}
	dec.Report = report
	dec.Payload = payload
	dec.Digest = ReportDigest(payload)
	dec.reached = domain.StateValidated
	return dec, nil
}

// Settle runs one full attempt for marketID and submits the report. The
// returned attempt is also handed to every observer. Errors other than a
// held lock are *StageError values.
func (d *Dispatcher) Settle(ctx context.Context, marketID *big.Int, trigger domain.Trigger) (domain.Attempt, error) {
	if d.locks != nil && marketID != nil {
		unlock, err := d.locks.Acquire(ctx, "settle:"+marketID.String(), d.lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				d.logger.InfoContext(ctx, "market locked by another worker, skipping",
					slog.String("market_id", marketID.String()),
				)
			}
			return domain.Attempt{}, err
		}
		defer unlock()
	}

	att := domain.Attempt{
		ID:        d.newID(),
		MarketID:  fmt.Sprint(marketID),
		Trigger:   trigger,
		State:     domain.StateIdle,
		StartedAt: d.now().UTC(),
	}
	log := d.logger.With(
		slog.String("attempt_id", att.ID),
		slog.String("market_id", att.MarketID),
	)
	log.InfoContext(ctx, "settlement attempt started", slog.String("trigger", string(trigger)))

	snap, err := LoadSnapshot(ctx, d.ledger, marketID)
	if err != nil {
		return d.finish(ctx, log, att, Decision{reached: domain.StateIdle}, stageErr(domain.StateContextLoaded, err))
	}
	att.ResolutionSource = snap.ResolutionSource

	dec, err := d.Compute(ctx, snap)
	if err != nil {
		return d.finish(ctx, log, att, dec, err)
	}

	res, err := d.submit(ctx, dec)
	if err != nil {
		return d.finish(ctx, log, att, dec, stageErr(domain.StateReportSubmitted, err))
	}
	att.TxHash = res.TxHash
	dec.reached = domain.StateReportSubmitted
	return d.finish(ctx, log, att, dec, nil)
}

func (d *Dispatcher) submit(ctx context.Context, dec Decision) (domain.WriteResult, error) {
	signed := domain.SignedReport{
		Report:  dec.Report,
		Payload: dec.Payload,
		Digest:  dec.Digest,
	}
	if d.signer != nil {
		sig, err := d.signer.SignDigest(dec.Digest)
		if err != nil {
			return domain.WriteResult{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
		}
		signed.Signature = sig
	}

	res, err := d.writer.SubmitReport(ctx, signed)
	if err != nil {
		if errors.Is(err, domain.ErrWriteFailed) {
			return res, err
		}
		return res, fmt.Errorf("%w: %v", domain.ErrWriteFailed, err)
	}
	if res.Status != domain.TxStatusSuccess {
		msg := res.ErrorMessage
		if msg == "" {
			msg = "status " + string(res.Status)
		}
		return res, fmt.Errorf("%w: %s", domain.ErrWriteFailed, msg)
	}
	return res, nil
}

func (d *Dispatcher) finish(ctx context.Context, log *slog.Logger, att domain.Attempt, dec Decision, err error) (domain.Attempt, error) {
	att.FinishedAt = d.now().UTC()
	att.Route = routeName(dec)
	for _, p := range domain.AllProviders {
		if _, failed := dec.Bundle.Failed[p]; failed {
			att.Unavailable = append(att.Unavailable, string(p))
		}
	}
	if dec.Prompt.User != "" {
		att.PromptDigest = DigestHex(crypto.Keccak256Hash([]byte(dec.Prompt.System + "\n" + dec.Prompt.User)))
	}
	if dec.reached == domain.StateValidated || dec.reached == domain.StateReportSubmitted {
		idx := dec.Outcome.Index
		att.Outcome = &idx
		att.Confidence = dec.Outcome.Confidence
		att.Reasoning = dec.Outcome.Reasoning
		att.ReportDigest = DigestHex(dec.Digest)
	}

	if err != nil {
		att.State = domain.StateFailed
		att.LastGoodState = dec.reached
		att.Error = err.Error()
		log.ErrorContext(ctx, "settlement attempt failed",
			slog.String("reached", string(dec.reached)),
			slog.String("error", err.Error()),
		)
	} else {
		att.State = domain.StateReportSubmitted
		att.LastGoodState = domain.StateReportSubmitted
		log.InfoContext(ctx, "settlement report submitted",
			slog.Int("outcome", dec.Outcome.Index),
			slog.Int("confidence", dec.Outcome.Confidence),
			slog.String("report_digest", att.ReportDigest),
			slog.String("tx_hash", att.TxHash),
		)
	}

	d.observe(ctx, log, att, evidenceFor(att, dec))
	return att, err
}

// observe hands the finished attempt to every observer. Observer failures
// are logged only.
func (d *Dispatcher) observe(ctx context.Context, log *slog.Logger, att domain.Attempt, ev domain.AttemptEvidence) {
	if len(d.observers) == 0 {
		return
	}
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	for _, o := range d.observers {
		if err := o.ObserveAttempt(octx, att, ev); err != nil {
			log.WarnContext(ctx, "attempt observer failed", slog.String("error", err.Error()))
		}
	}
}

func routeName(dec Decision) string {
	if dec.reached == domain.StateIdle {
		return ""
	}
	return dec.Route.Name()
}

func evidenceFor(att domain.Attempt, dec Decision) domain.AttemptEvidence {
	ev := domain.AttemptEvidence{
		AttemptID:   att.ID,
		MarketID:    att.MarketID,
		Question:    dec.Snapshot.Question,
		Options:     dec.Snapshot.Options,
		Source:      dec.Snapshot.ResolutionSource,
		System:      dec.Prompt.System,
		User:        dec.Prompt.User,
		RawResponse: dec.RawResponse,
		CapturedAt:  att.FinishedAt,
	}
	if dec.Bundle.Len() > 0 {
		ev.Payloads = make(map[string]string, dec.Bundle.Len())
		for p, v := range dec.Bundle.Payloads {
			ev.Payloads[string(p)] = v
		}
	}
	return ev
}
