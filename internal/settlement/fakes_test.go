package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLedger struct {
	info    domain.MarketInfo
	options []string
	err     error
	calls   int
}

func (f *fakeLedger) GetMarket(_ context.Context, _ *big.Int) (domain.MarketInfo, error) {
	f.calls++
	if f.err != nil {
		return domain.MarketInfo{}, f.err
	}
	return f.info, nil
}

func (f *fakeLedger) GetMarketOptions(_ context.Context, _ *big.Int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.options, nil
}

type fakeOracle struct {
	answer  string
	err     error
	prompts []domain.Prompt
}

func (f *fakeOracle) Complete(_ context.Context, p domain.Prompt) (string, error) {
	f.prompts = append(f.prompts, p)
	return f.answer, f.err
}

type fakeWriter struct {
	result    domain.WriteResult
	err       error
	submitted []domain.SignedReport
}

func (f *fakeWriter) SubmitReport(_ context.Context, r domain.SignedReport) (domain.WriteResult, error) {
	f.submitted = append(f.submitted, r)
	return f.result, f.err
}

type fakeSigner struct{}

func (fakeSigner) SignDigest(d [32]byte) ([]byte, error) {
	sig := make([]byte, 65)
	copy(sig, d[:])
	return sig, nil
}

func (fakeSigner) Address() string { return "0x0000000000000000000000000000000000000001" }

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	sets int
	fail bool
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.fail {
		return nil, false, errors.New("cache down")
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.fail {
		return errors.New("cache down")
	}
	c.data[key] = value
	return nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type recordingObserver struct {
	attempts []domain.Attempt
	evidence []domain.AttemptEvidence
}

func (r *recordingObserver) ObserveAttempt(_ context.Context, a domain.Attempt, ev domain.AttemptEvidence) error {
	r.attempts = append(r.attempts, a)
	r.evidence = append(r.evidence, ev)
	return nil
}

func staticSource(body string) SourceFunc {
	return func(context.Context) ([]byte, error) { return []byte(body), nil }
}

func failingSource() SourceFunc {
	return func(context.Context) ([]byte, error) { return nil, errors.New("connection refused") }
}
