// Package settlement implements the settlement decision workflow: routing a
// market's resolution source to data providers, gathering that data,
// prompting the oracle, validating its answer and assembling the report that
// every executor must reproduce byte for byte.
package settlement

import "github.com/alanyoungcy/marketsettler/internal/domain"

// polymarketSources and kalshiSources are membership sets, not priorities.
var (
	polymarketSources = map[string]bool{
		domain.SourcePolymarketVolume:     true,
		domain.SourcePolymarketTraders:    true,
		domain.SourcePolymarketKalshiData: true,
		domain.SourcePolymarketMarkets:    true,
		domain.SourceAll:                  true,
	}
	kalshiSources = map[string]bool{
		domain.SourceKalshiMarkets:        true,
		domain.SourcePolymarketKalshiData: true,
		domain.SourceKalshiVolume:         true,
		domain.SourceKalshiTraders:        true,
		domain.SourceAll:                  true,
	}
)

// Route maps a resolution source tag to the data it needs. Tags are matched
// exactly. A tag that needs no quantitative data, including every unknown
// tag, degrades to AI search rather than failing.
func Route(tag string) domain.Route {
	r := domain.Route{
		NeedsPolymarket: polymarketSources[tag],
		NeedsKalshi:     kalshiSources[tag],
	}
	r.AISearchOnly = !r.NeedsPolymarket && !r.NeedsKalshi
	return r
}
