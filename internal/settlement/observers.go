package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// AttemptsChannel is the signal bus channel attempt events are published on.
const AttemptsChannel = "settlements"

// Notification event types.
const (
	EventSettled          = "settled"
	EventSettlementFailed = "settlement_failed"
)

// Observer receives every finished attempt.
type Observer interface {
	ObserveAttempt(ctx context.Context, a domain.Attempt, ev domain.AttemptEvidence) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, a domain.Attempt, ev domain.AttemptEvidence) error

func (f ObserverFunc) ObserveAttempt(ctx context.Context, a domain.Attempt, ev domain.AttemptEvidence) error {
	return f(ctx, a, ev)
}

// JournalObserver records attempts in an AttemptStore.
func JournalObserver(store domain.AttemptStore) Observer {
	return ObserverFunc(func(ctx context.Context, a domain.Attempt, _ domain.AttemptEvidence) error {
		return store.Record(ctx, a)
	})
}

// ArchiveObserver uploads attempt evidence. Attempts that never built a
// prompt have nothing worth keeping and are skipped.
func ArchiveObserver(archive domain.EvidenceArchive) Observer {
	return ObserverFunc(func(ctx context.Context, _ domain.Attempt, ev domain.AttemptEvidence) error {
		if ev.User == "" {
			return nil
		}
		_, err := archive.Archive(ctx, ev)
		return err
	})
}

// AttemptEvent is the JSON document published for each finished attempt.
type AttemptEvent struct {
	ID           string    `json:"id"`
	MarketID     string    `json:"market_id"`
	Trigger      string    `json:"trigger"`
	State        string    `json:"state"`
	Route        string    `json:"route,omitempty"`
	Outcome      *int      `json:"outcome,omitempty"`
	Confidence   int       `json:"confidence,omitempty"`
	ReportDigest string    `json:"report_digest,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	Error        string    `json:"error,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// NewAttemptEvent summarises an attempt for publication.
func NewAttemptEvent(a domain.Attempt) AttemptEvent {
	return AttemptEvent{
		ID:           a.ID,
		MarketID:     a.MarketID,
		Trigger:      string(a.Trigger),
		State:        string(a.State),
		Route:        a.Route,
		Outcome:      a.Outcome,
		Confidence:   a.Confidence,
		ReportDigest: a.ReportDigest,
		TxHash:       a.TxHash,
		Error:        a.Error,
		FinishedAt:   a.FinishedAt,
	}
}

// BusObserver publishes an AttemptEvent on AttemptsChannel.
func BusObserver(bus domain.SignalBus) Observer {
	return ObserverFunc(func(ctx context.Context, a domain.Attempt, _ domain.AttemptEvidence) error {
		data, err := json.Marshal(NewAttemptEvent(a))
		if err != nil {
			return fmt.Errorf("settlement: marshal attempt event: %w", err)
		}
		return bus.Publish(ctx, AttemptsChannel, data)
	})
}

// EventNotifier is satisfied by notify.Notifier.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifyObserver sends a settled or settlement_failed notification.
func NotifyObserver(n EventNotifier) Observer {
	return ObserverFunc(func(ctx context.Context, a domain.Attempt, ev domain.AttemptEvidence) error {
		event, title, msg := describeAttempt(a, ev)
		return n.Notify(ctx, event, title, msg)
	})
}

func describeAttempt(a domain.Attempt, ev domain.AttemptEvidence) (event, title, message string) {
	var b strings.Builder
	fmt.Fprintf(&b, "Market %s", a.MarketID)
	if ev.Question != "" {
		fmt.Fprintf(&b, ": %s", ev.Question)
	}
	b.WriteString("\n")

	if a.Succeeded() {
		label := ""
		if a.Outcome != nil && *a.Outcome < len(ev.Options) {
			label = ev.Options[*a.Outcome]
		}
		fmt.Fprintf(&b, "Outcome: %d (%s), confidence %d\n", derefInt(a.Outcome), label, a.Confidence)
		fmt.Fprintf(&b, "Tx: %s", a.TxHash)
		return EventSettled, "Market settled", b.String()
	}

	fmt.Fprintf(&b, "Failed after %s: %s", a.LastGoodState, a.Error)
	return EventSettlementFailed, "Settlement failed", b.String()
}

func derefInt(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
