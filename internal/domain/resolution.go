package domain

// Recognised resolution source tags. The set is open-ended; unknown tags are
// routed to AI search.
const (
	SourceAISearch             = "ai_search"
	SourcePolymarketVolume     = "polymarket_volume"
	SourcePolymarketTraders    = "polymarket_traders"
	SourceKalshiMarkets        = "kalshi_markets"
	SourcePolymarketKalshiData = "polymarket_kalshi_data"

	// Aliases accepted by older market creation forms.
	SourcePolymarketMarkets = "polymarket_markets"
	SourceKalshiVolume      = "kalshi_volume"
	SourceKalshiTraders     = "kalshi_traders"
	SourceAll               = "all"
)

// Route says which external data a resolution source tag needs.
type Route struct {
	NeedsPolymarket bool
	NeedsKalshi     bool
	AISearchOnly    bool
}

// Name returns a short label for logs.
func (r Route) Name() string {
	if r.AISearchOnly {
		return "ai_search"
	}
	return "api_data"
}
