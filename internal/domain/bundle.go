package domain

// Provider names a single external data source.
type Provider string

const (
	ProviderPolymarketEvents  Provider = "polymarket_events"
	ProviderPolymarketMarkets Provider = "polymarket_markets"
	ProviderKalshiMarkets     Provider = "kalshi_markets"
	ProviderKalshiTrades      Provider = "kalshi_trades"
)

// AllProviders lists every provider in the order they appear in prompts.
var AllProviders = []Provider{
	ProviderPolymarketEvents,
	ProviderPolymarketMarkets,
	ProviderKalshiMarkets,
	ProviderKalshiTrades,
}

// UnavailablePayload returns the sentinel text stored in a bundle when the
// provider could not be reached.
func UnavailablePayload(p Provider) string {
	switch p {
	case ProviderPolymarketEvents:
		return "Polymarket events API unavailable"
	case ProviderPolymarketMarkets:
		return "Polymarket markets API unavailable"
	case ProviderKalshiMarkets:
		return "Kalshi markets API unavailable"
	case ProviderKalshiTrades:
		return "Kalshi trades API unavailable"
	default:
		return string(p) + " unavailable"
	}
}

// DataBundle maps providers to their raw payloads. A provider that was not
// required is absent; one that failed holds its UnavailablePayload.
type DataBundle struct {
	Payloads map[Provider]string
	Failed   map[Provider]error
}

// NewDataBundle returns an empty bundle.
func NewDataBundle() DataBundle {
	return DataBundle{
		Payloads: make(map[Provider]string),
		Failed:   make(map[Provider]error),
	}
}

// Set stores a successful payload.
func (b DataBundle) Set(p Provider, payload string) {
	b.Payloads[p] = payload
	delete(b.Failed, p)
}

// MarkUnavailable stores the unavailable sentinel for p and records why.
func (b DataBundle) MarkUnavailable(p Provider, err error) {
	b.Payloads[p] = UnavailablePayload(p)
	b.Failed[p] = err
}

// Get returns the payload for p and whether the provider was fetched at all.
func (b DataBundle) Get(p Provider) (string, bool) {
	v, ok := b.Payloads[p]
	return v, ok
}

// Available reports whether p was fetched successfully.
func (b DataBundle) Available(p Provider) bool {
	_, fetched := b.Payloads[p]
	_, failed := b.Failed[p]
	return fetched && !failed
}

// Len returns the number of providers present in the bundle.
func (b DataBundle) Len() int {
	return len(b.Payloads)
}
