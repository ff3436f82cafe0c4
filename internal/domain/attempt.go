package domain

import "time"

// AttemptState is a state of the settlement state machine.
type AttemptState string

const (
	StateIdle            AttemptState = "idle"
	StateContextLoaded   AttemptState = "context_loaded"
	StateDataGathered    AttemptState = "data_gathered"
	StatePromptBuilt     AttemptState = "prompt_built"
	StateOracleAnswered  AttemptState = "oracle_answered"
	StateValidated       AttemptState = "validated"
	StateReportSubmitted AttemptState = "report_submitted"
	StateFailed          AttemptState = "failed"
)

// Trigger says what started an attempt.
type Trigger string

const (
	TriggerEvent  Trigger = "event"
	TriggerManual Trigger = "manual"
	TriggerOnce   Trigger = "once"
)

// Attempt is the journal record of one settlement attempt. It is written
// after the attempt finishes and is never read back by the pipeline.
type Attempt struct {
	ID               string
	MarketID         string
	Trigger          Trigger
	State            AttemptState
	LastGoodState    AttemptState // last state reached before failing
	ResolutionSource string
	Route            string
	Unavailable      []string // providers that degraded to the sentinel
	Outcome          *int
	Confidence       int
	Reasoning        string
	PromptDigest     string
	ReportDigest     string
	TxHash           string
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Succeeded reports whether the attempt reached ReportSubmitted.
func (a Attempt) Succeeded() bool {
	return a.State == StateReportSubmitted
}

// AttemptEvidence is everything the oracle saw and said for one attempt.
type AttemptEvidence struct {
	AttemptID   string            `json:"attempt_id"`
	MarketID    string            `json:"market_id"`
	Question    string            `json:"question"`
	Options     []string          `json:"options"`
	Source      string            `json:"resolution_source"`
	System      string            `json:"system_prompt,omitempty"`
	User        string            `json:"user_prompt"`
	RawResponse string            `json:"raw_response"`
	Payloads    map[string]string `json:"payloads,omitempty"`
	CapturedAt  time.Time         `json:"captured_at"`
}
