package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		tag  string
		want domain.Route
	}{
		{"ai_search", domain.Route{AISearchOnly: true}},
		{"polymarket_volume", domain.Route{NeedsPolymarket: true}},
		{"polymarket_traders", domain.Route{NeedsPolymarket: true}},
		{"kalshi_markets", domain.Route{NeedsKalshi: true}},
		{"polymarket_kalshi_data", domain.Route{NeedsPolymarket: true, NeedsKalshi: true}},
		{"polymarket_markets", domain.Route{NeedsPolymarket: true}},
		{"kalshi_volume", domain.Route{NeedsKalshi: true}},
		{"kalshi_traders", domain.Route{NeedsKalshi: true}},
		{"all", domain.Route{NeedsPolymarket: true, NeedsKalshi: true}},
		{"", domain.Route{AISearchOnly: true}},
		{"twitter_sentiment", domain.Route{AISearchOnly: true}},
		{"Polymarket_Volume", domain.Route{AISearchOnly: true}},
		{" kalshi_markets", domain.Route{AISearchOnly: true}},
	}
	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			assert.Equal(t, tt.want, Route(tt.tag))
		})
	}
}

func TestProvidersFor(t *testing.T) {
	assert.Empty(t, ProvidersFor(Route("ai_search")))
	assert.Equal(t, []domain.Provider{domain.ProviderKalshiMarkets, domain.ProviderKalshiTrades},
		ProvidersFor(Route("kalshi_markets")))
	assert.Equal(t, domain.AllProviders, ProvidersFor(Route("polymarket_kalshi_data")))
}
