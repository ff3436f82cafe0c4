package settlement

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// MaxPayloadChars is the per-provider truncation bound, in characters.
const MaxPayloadChars = 3000

// PromptStrategy selects one of the two prompt templates. It is either
// SearchFirst or DataConditioned.
type PromptStrategy interface {
	Name() string
	promptStrategy()
}

// SearchFirst asks the oracle to search the web and defaults to the
// status-quo option when nothing has been announced.
type SearchFirst struct{}

// DataConditioned embeds fetched provider payloads in the prompt.
type DataConditioned struct {
	Bundle domain.DataBundle
}

func (SearchFirst) Name() string        { return "search_first" }
func (DataConditioned) Name() string    { return "data_conditioned" }
func (SearchFirst) promptStrategy()     {}
func (DataConditioned) promptStrategy() {}

// StrategyFor picks the template for a route.
func StrategyFor(route domain.Route, bundle domain.DataBundle) PromptStrategy {
	if route.AISearchOnly {
		return SearchFirst{}
	}
	return DataConditioned{Bundle: bundle}
}

const (
	oracleRole = "You are a prediction market settlement oracle."

	searchSystem = oracleRole + " Search the web thoroughly before answering. Use the most recent and reliable sources available."

	responseFormat = `Respond with ONLY a JSON object: {"outcome": <0-based index>, "confidence": <0-100>, "reasoning": "<brief>"}
Do not output anything before or after the JSON object.`

	searchGuidance = `This question is about the prediction market industry (tokens, airdrops, launches, partnerships and similar). Search the web for:
- Official announcements from the platforms mentioned
- Recent news articles about the topic
- Posts from the platforms' official social accounts
- Blog posts or press releases

Based on your findings, determine the most likely outcome.`

	searchDefault = `If there is no clear evidence yet (for example, no announcement has been made), choose the option that represents "No" or the status quo.`
)

// sectionTitles pairs each provider with its heading and the line used when
// the route did not fetch it.
var sectionTitles = map[domain.Provider][2]string{
	domain.ProviderPolymarketEvents:  {"POLYMARKET DATA (Top Events by Volume)", "No Polymarket data fetched for this market type."},
	domain.ProviderPolymarketMarkets: {"POLYMARKET DATA (Top Markets by Volume)", "No Polymarket data fetched for this market type."},
	domain.ProviderKalshiMarkets:     {"KALSHI DATA (Open Markets)", "No Kalshi data fetched for this market type."},
	domain.ProviderKalshiTrades:      {"KALSHI DATA (Recent Trades)", "No Kalshi data fetched for this market type."},
}

// BuildPrompt renders the prompt for a snapshot. It is a pure function of its
// inputs: identical snapshots and bundles yield identical bytes.
func BuildPrompt(snap domain.MarketSnapshot, strategy PromptStrategy) domain.Prompt {
	switch s := strategy.(type) {
	case DataConditioned:
		return domain.Prompt{User: dataConditionedPrompt(snap, s.Bundle)}
	default:
		return domain.Prompt{System: searchSystem, User: searchFirstPrompt(snap)}
	}
}

func searchFirstPrompt(snap domain.MarketSnapshot) string {
	var b strings.Builder
	b.WriteString(oracleRole)
	b.WriteString(" You must determine the outcome for the following market by searching the web for the latest news and announcements.\n\n")
	fmt.Fprintf(&b, "Market Question: %s\n", snap.Question)
	fmt.Fprintf(&b, "Market Options: %s\n\n", FormatOptions(snap.Options))
	b.WriteString(searchGuidance)
	b.WriteString("\n\n")
	b.WriteString(searchDefault)
	b.WriteString("\n\n")
	b.WriteString(responseFormat)
	return b.String()
}

func dataConditionedPrompt(snap domain.MarketSnapshot, bundle domain.DataBundle) string {
	var b strings.Builder
	b.WriteString(oracleRole)
	b.WriteString(" Determine the outcome for the following market.\n\n")
	fmt.Fprintf(&b, "Market Question: %s\n", snap.Question)
	fmt.Fprintf(&b, "Market Options: %s\n", FormatOptions(snap.Options))
	fmt.Fprintf(&b, "Resolution Source: %s\n", snap.ResolutionSource)

	for _, p := range domain.AllProviders {
		titles := sectionTitles[p]
		payload, ok := bundle.Get(p)
		if !ok {
			payload = titles[1]
		}
		fmt.Fprintf(&b, "\n=== %s ===\n%s\n", titles[0], Truncate(payload, MaxPayloadChars))
	}

	b.WriteString("\nBased on ALL the data above, determine the outcome.\n")
	b.WriteString(responseFormat)
	return b.String()
}

// FormatOptions renders options as "0 = Yes, 1 = No".
func FormatOptions(options []string) string {
	parts := make([]string, len(options))
	for i, o := range options {
		parts[i] = fmt.Sprintf("%d = %s", i, o)
	}
	return strings.Join(parts, ", ")
}

// Truncate returns at most n characters of s, never splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
