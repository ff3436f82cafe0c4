package settlement

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

type harness struct {
	ledger   *fakeLedger
	oracle   *fakeOracle
	writer   *fakeWriter
	observer *recordingObserver
	d        *Dispatcher
}

func newHarness(source string, options []string, answer string, sources map[domain.Provider]SourceFunc) *harness {
	h := &harness{
		ledger: &fakeLedger{
			info: domain.MarketInfo{
				Question:         "Will Kalshi list a token market this year?",
				ResolutionSource: source,
				Status:           domain.MarketStatusAwaitingSettlement,
			},
			options: options,
		},
		oracle:   &fakeOracle{answer: answer},
		writer:   &fakeWriter{result: domain.WriteResult{Status: domain.TxStatusSuccess, TxHash: "0xabc"}},
		observer: &recordingObserver{},
	}
	h.d = NewDispatcher(DispatcherConfig{
		Ledger:    h.ledger,
		Fetcher:   NewFetcher(sources, FetcherOptions{}, discardLogger()),
		Oracle:    h.oracle,
		Signer:    fakeSigner{},
		Writer:    h.writer,
		Observers: []Observer{h.observer},
	}, discardLogger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.d.now = func() time.Time { return fixed }
	h.d.newID = func() string { return "attempt-1" }
	return h
}

func TestSettle_ScenarioA_AISearch(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"},
		`{"outcome":0,"confidence":80,"reasoning":"no announcement found"}`, nil)

	att, err := h.d.Settle(context.Background(), big.NewInt(7), domain.TriggerEvent)
	require.NoError(t, err)
	assert.Equal(t, domain.StateReportSubmitted, att.State)
	require.NotNil(t, att.Outcome)
	assert.Equal(t, 0, *att.Outcome)
	assert.Equal(t, 80, att.Confidence)
	assert.Equal(t, "ai_search", att.Route)
	assert.Equal(t, "0xabc", att.TxHash)

	require.Len(t, h.oracle.prompts, 1)
	assert.NotEmpty(t, h.oracle.prompts[0].System)

	require.Len(t, h.writer.submitted, 1)
	sub := h.writer.submitted[0]
	assert.Equal(t, uint8(0), sub.Report.Outcome)
	assert.Zero(t, sub.Report.MarketID.Cmp(big.NewInt(7)))
	assert.Equal(t, ReportDigest(sub.Payload), sub.Digest)
	assert.Len(t, sub.Signature, 65)
	assert.Equal(t, DigestHex(sub.Digest), att.ReportDigest)

	require.Len(t, h.observer.attempts, 1)
	assert.Equal(t, att, h.observer.attempts[0])
}

func TestSettle_ScenarioB_KalshiUnavailable(t *testing.T) {
	h := newHarness("polymarket_kalshi_data", []string{"Yes", "No"},
		`Here you go: {"outcome":1,"confidence":65,"reasoning":"volume says no"}`,
		map[domain.Provider]SourceFunc{
			domain.ProviderPolymarketEvents:  staticSource(`[{"title":"Top event"}]`),
			domain.ProviderPolymarketMarkets: staticSource(`[{"question":"Top market"}]`),
			domain.ProviderKalshiMarkets:     failingSource(),
			domain.ProviderKalshiTrades:      failingSource(),
		})

	att, err := h.d.Settle(context.Background(), big.NewInt(9), domain.TriggerEvent)
	require.NoError(t, err)
	require.NotNil(t, att.Outcome)
	assert.Equal(t, 1, *att.Outcome)
	assert.Equal(t, []string{"kalshi_markets", "kalshi_trades"}, att.Unavailable)

	require.Len(t, h.oracle.prompts, 1)
	user := h.oracle.prompts[0].User
	assert.Contains(t, user, "Kalshi markets API unavailable")
	assert.Contains(t, user, "Kalshi trades API unavailable")
	assert.Contains(t, user, `[{"title":"Top event"}]`)
	assert.Empty(t, h.oracle.prompts[0].System)

	ev := h.observer.evidence[0]
	assert.Equal(t, "Kalshi trades API unavailable", ev.Payloads["kalshi_trades"])
	assert.Equal(t, h.oracle.answer, ev.RawResponse)
}

func TestSettle_ScenarioC_Prose(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, "I believe the answer is Yes.", nil)

	att, err := h.d.Settle(context.Background(), big.NewInt(1), domain.TriggerEvent)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.StateValidated, se.Stage)

	assert.Equal(t, domain.StateFailed, att.State)
	assert.Equal(t, domain.StateOracleAnswered, att.LastGoodState)
	assert.Nil(t, att.Outcome)
	assert.Empty(t, h.writer.submitted)
}

func TestSettle_ScenarioD_OutOfRange(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, `{"outcome":7,"confidence":90,"reasoning":"?"}`, nil)

	att, err := h.d.Settle(context.Background(), big.NewInt(1), domain.TriggerEvent)
	assert.ErrorIs(t, err, domain.ErrOutOfRangeOutcome)
	assert.Equal(t, domain.StateFailed, att.State)
	assert.Empty(t, h.writer.submitted)
}

func TestSettle_ScenarioE_WriteFailed(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, `{"outcome":1,"confidence":90,"reasoning":"done"}`, nil)
	h.writer.result = domain.WriteResult{Status: domain.TxStatusFailure, TxHash: "0xdead", ErrorMessage: "execution reverted"}

	att, err := h.d.Settle(context.Background(), big.NewInt(5), domain.TriggerEvent)
	assert.ErrorIs(t, err, domain.ErrWriteFailed)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.StateReportSubmitted, se.Stage)

	// A well-formed report was assembled and handed to the writer.
	require.Len(t, h.writer.submitted, 1)
	assert.Len(t, h.writer.submitted[0].Payload, ReportSize)
	assert.Equal(t, domain.StateFailed, att.State)
	assert.Equal(t, domain.StateValidated, att.LastGoodState)
	assert.NotEmpty(t, att.ReportDigest)
	assert.Contains(t, att.Error, "execution reverted")
}

func TestSettle_WriterErrorIsWriteFailed(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, `{"outcome":1}`, nil)
	h.writer.err = errors.New("nonce too low")

	_, err := h.d.Settle(context.Background(), big.NewInt(5), domain.TriggerManual)
	assert.ErrorIs(t, err, domain.ErrWriteFailed)
}

func TestSettle_OracleUnavailable(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, "", nil)
	h.oracle.err = domain.ErrNetworkUnavailable

	att, err := h.d.Settle(context.Background(), big.NewInt(2), domain.TriggerEvent)
	assert.ErrorIs(t, err, domain.ErrNetworkUnavailable)
	assert.Equal(t, domain.StatePromptBuilt, att.LastGoodState)
	assert.NotEmpty(t, att.PromptDigest)
	assert.Empty(t, h.writer.submitted)
}

func TestSettle_InvalidOptionCount(t *testing.T) {
	for _, opts := range [][]string{{"Only"}, {"a", "b", "c", "d", "e", "f", "g"}} {
		h := newHarness("ai_search", opts, `{"outcome":0}`, nil)
		att, err := h.d.Settle(context.Background(), big.NewInt(3), domain.TriggerEvent)
		assert.ErrorIs(t, err, domain.ErrInvalidMarket)
		assert.Equal(t, domain.StateIdle, att.LastGoodState)
		assert.Empty(t, h.oracle.prompts)
	}
}

func TestSettle_LedgerReadFails(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, `{"outcome":0}`, nil)
	h.ledger.err = errors.New("rpc timeout")

	_, err := h.d.Settle(context.Background(), big.NewInt(3), domain.TriggerEvent)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, domain.StateContextLoaded, se.Stage)
}

func TestSettle_ReadsSnapshotEveryAttempt(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, `{"outcome":0}`, nil)
	_, err := h.d.Settle(context.Background(), big.NewInt(3), domain.TriggerEvent)
	require.NoError(t, err)
	_, err = h.d.Settle(context.Background(), big.NewInt(3), domain.TriggerEvent)
	require.NoError(t, err)
	assert.Equal(t, 2, h.ledger.calls)
}

func TestSettle_LockHeldSkips(t *testing.T) {
	h := newHarness("ai_search", []string{"Yes", "No"}, `{"outcome":0}`, nil)
	h.d.locks = heldLocks{}

	_, err := h.d.Settle(context.Background(), big.NewInt(3), domain.TriggerEvent)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, h.ledger.calls)
	assert.Empty(t, h.observer.attempts)
}

func TestCompute_SameInputsSameReport(t *testing.T) {
	sources := map[domain.Provider]SourceFunc{
		domain.ProviderKalshiMarkets: staticSource(`{"markets":[{"ticker":"X"}]}`),
		domain.ProviderKalshiTrades:  staticSource(`{"trades":[]}`),
	}
	a := newHarness("kalshi_markets", []string{"Yes", "No", "Maybe"}, `{"outcome":2,"confidence":55,"reasoning":"r"}`, sources)
	b := newHarness("kalshi_markets", []string{"Yes", "No", "Maybe"}, `{"outcome":2,"confidence":55,"reasoning":"r"}`, sources)

	snap := snapshot("kalshi_markets", "Yes", "No", "Maybe")
	da, err := a.d.Compute(context.Background(), snap)
	require.NoError(t, err)
	db, err := b.d.Compute(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, da.Prompt, db.Prompt)
	assert.Equal(t, da.Payload, db.Payload)
	assert.Equal(t, domain.StateValidated, da.Reached())
}

func TestNotifyObserver(t *testing.T) {
	var got []string
	n := notifierFunc(func(_ context.Context, event, title, msg string) error {
		got = append(got, event, title, msg)
		return nil
	})
	idx := 1
	ok := domain.Attempt{MarketID: "4", State: domain.StateReportSubmitted, Outcome: &idx, Confidence: 70, TxHash: "0x1"}
	require.NoError(t, NotifyObserver(n).ObserveAttempt(context.Background(), ok, domain.AttemptEvidence{Question: "Q?", Options: []string{"Yes", "No"}}))
	assert.Equal(t, EventSettled, got[0])
	assert.Contains(t, got[2], "Outcome: 1 (No)")

	got = nil
	failed := domain.Attempt{MarketID: "4", State: domain.StateFailed, LastGoodState: domain.StatePromptBuilt, Error: "boom"}
	require.NoError(t, NotifyObserver(n).ObserveAttempt(context.Background(), failed, domain.AttemptEvidence{}))
	assert.Equal(t, EventSettlementFailed, got[0])
	assert.Contains(t, got[2], "boom")
}

type notifierFunc func(ctx context.Context, event, title, msg string) error

func (f notifierFunc) Notify(ctx context.Context, event, title, msg string) error {
	return f(ctx, event, title, msg)
}
