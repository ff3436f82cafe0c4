package settlement

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

type rawOutcome struct {
	Outcome    json.RawMessage `json:"outcome"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// ParseOutcome extracts the oracle's answer from text and validates it
// against the option count. A missing or undecodable object wraps
// domain.ErrMalformedResponse; an index outside [0, optionCount) wraps
// domain.ErrOutOfRangeOutcome. Values are never clamped.
func ParseOutcome(text string, optionCount int) (domain.Outcome, error) {
	match, ok := findOutcomeObject(text)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: no JSON object with an outcome key in %q", domain.ErrMalformedResponse, abbreviate(text))
	}

	var raw rawOutcome
	if err := json.Unmarshal(match, &raw); err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: decode %q: %v", domain.ErrMalformedResponse, match, err)
	}

	index, err := parseInteger(raw.Outcome)
	if errors.Is(err, strconv.ErrRange) {
		return domain.Outcome{}, fmt.Errorf("%w: outcome %s for %d options", domain.ErrOutOfRangeOutcome, raw.Outcome, optionCount)
	}
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("%w: outcome: %v", domain.ErrMalformedResponse, err)
	}
	if index < 0 || index >= int64(optionCount) {
		return domain.Outcome{}, fmt.Errorf("%w: outcome %d for %d options", domain.ErrOutOfRangeOutcome, index, optionCount)
	}

	confidence := 0
	if len(raw.Confidence) > 0 && !isNull(raw.Confidence) {
		c, err := strconv.ParseFloat(string(raw.Confidence), 64)
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("%w: confidence %s is not a number", domain.ErrMalformedResponse, raw.Confidence)
		}
		if c < 0 || c > 100 {
			return domain.Outcome{}, fmt.Errorf("%w: confidence %v outside 0-100", domain.ErrMalformedResponse, c)
		}
		confidence = int(c)
	}

	return domain.Outcome{
		Index:      int(index),
		Confidence: confidence,
		Reasoning:  raw.Reasoning,
	}, nil
}

// findOutcomeObject returns the first top-level JSON object in text that has
// an outcome key. Objects without one are skipped whole, along with anything
// nested inside them.
func findOutcomeObject(text string) (json.RawMessage, bool) {
	for i := 0; i < len(text); {
		start := strings.IndexByte(text[i:], '{')
		if start < 0 {
			return nil, false
		}
		i += start

		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			i++
			continue
		}
		end := i + int(dec.InputOffset())
		if _, ok := obj["outcome"]; ok {
			return json.RawMessage(text[i:end]), true
		}
		i = end
	}
	return nil, false
}

// parseInteger accepts only a bare JSON integer literal. An integer too
// large for int64 wraps strconv.ErrRange.
func parseInteger(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || isNull(raw) {
		return 0, fmt.Errorf("missing")
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%s: %w", raw, strconv.ErrRange)
	}
	if err != nil {
		return 0, fmt.Errorf("%s is not an integer", raw)
	}
	return n, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func abbreviate(s string) string {
	return Truncate(s, 200)
}
