package settlement

import (
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

var optionLabels = []string{"Alpha", "Bravo", "Charlie", "Delta", "Echo", "Foxtrot"}

func snapshot(source string, options ...string) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		MarketID:         big.NewInt(42),
		Question:         "Will Polymarket launch a token before 2027?",
		Options:          options,
		ResolutionSource: source,
	}
}

func TestBuildPrompt_EnumeratesEveryOptionOnce(t *testing.T) {
	for n := domain.MinOptions; n <= domain.MaxOptions; n++ {
		snap := snapshot("polymarket_volume", optionLabels[:n]...)
		strategies := []PromptStrategy{SearchFirst{}, DataConditioned{Bundle: domain.NewDataBundle()}}
		for _, s := range strategies {
			t.Run(fmt.Sprintf("%s/%d", s.Name(), n), func(t *testing.T) {
				p := BuildPrompt(snap, s)
				for i, label := range snap.Options {
					assert.Equal(t, 1, strings.Count(p.User, fmt.Sprintf("%d = %s", i, label)))
				}
				assert.NotContains(t, p.User, fmt.Sprintf("%d = ", n))
			})
		}
	}
}

func TestBuildPrompt_Idempotent(t *testing.T) {
	snap := snapshot("polymarket_kalshi_data", "Yes", "No")
	bundle := domain.NewDataBundle()
	bundle.Set(domain.ProviderPolymarketEvents, `[{"title":"e"}]`)
	bundle.MarkUnavailable(domain.ProviderKalshiTrades, domain.ErrNetworkUnavailable)

	first := BuildPrompt(snap, DataConditioned{Bundle: bundle})
	second := BuildPrompt(snap, DataConditioned{Bundle: bundle})
	assert.Equal(t, first, second)

	assert.Equal(t, BuildPrompt(snap, SearchFirst{}), BuildPrompt(snap, SearchFirst{}))
}

func TestBuildPrompt_SearchFirst(t *testing.T) {
	p := BuildPrompt(snapshot("ai_search", "Yes", "No"), SearchFirst{})
	assert.NotEmpty(t, p.System)
	assert.Contains(t, p.User, "Market Question: Will Polymarket launch a token before 2027?")
	assert.Contains(t, p.User, "Market Options: 0 = Yes, 1 = No")
	assert.Contains(t, p.User, `status quo`)
	assert.Contains(t, p.User, `"outcome"`)
	assert.NotContains(t, p.User, "===")
}

func TestBuildPrompt_DataConditioned(t *testing.T) {
	bundle := domain.NewDataBundle()
	bundle.Set(domain.ProviderPolymarketEvents, strings.Repeat("é", MaxPayloadChars+50))
	bundle.Set(domain.ProviderPolymarketMarkets, `{"markets":[]}`)
	bundle.MarkUnavailable(domain.ProviderKalshiMarkets, domain.ErrNetworkUnavailable)

	p := BuildPrompt(snapshot("polymarket_volume", "Yes", "No"), DataConditioned{Bundle: bundle})
	assert.Empty(t, p.System)
	assert.Contains(t, p.User, "Resolution Source: polymarket_volume")
	assert.Contains(t, p.User, "=== POLYMARKET DATA (Top Events by Volume) ===")
	assert.Contains(t, p.User, `{"markets":[]}`)
	assert.Contains(t, p.User, "Kalshi markets API unavailable")
	assert.Contains(t, p.User, "No Kalshi data fetched for this market type.")
	assert.NotContains(t, p.User, "status quo")

	assert.Contains(t, p.User, strings.Repeat("é", MaxPayloadChars))
	assert.NotContains(t, p.User, strings.Repeat("é", MaxPayloadChars+1))
}

func TestStrategyFor(t *testing.T) {
	_, ok := StrategyFor(Route("ai_search"), domain.NewDataBundle()).(SearchFirst)
	assert.True(t, ok)
	_, ok = StrategyFor(Route("unrecognised"), domain.NewDataBundle()).(SearchFirst)
	assert.True(t, ok)
	_, ok = StrategyFor(Route("kalshi_markets"), domain.NewDataBundle()).(DataConditioned)
	assert.True(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abc", 2))
	got := Truncate("日本語テキスト", 3)
	require.Equal(t, "日本語", got)
	assert.Equal(t, "", Truncate("abc", 0))
}
