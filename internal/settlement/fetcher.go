package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// DefaultCacheTTL bounds how long a provider payload is reused. Executors
// that run the same workflow inside this window read the same bytes.
const DefaultCacheTTL = 60 * time.Second

// SourceFunc fetches the raw payload of a single provider.
type SourceFunc func(ctx context.Context) ([]byte, error)

// FetcherOptions tunes the data fetcher.
type FetcherOptions struct {
	Cache    domain.ResponseCache // optional
	CacheTTL time.Duration
	// RequestsPerSecond paces outbound provider calls; zero disables pacing.
	RequestsPerSecond float64
}

// Fetcher gathers provider payloads for a route. A provider that fails
// degrades to its unavailable sentinel instead of failing the attempt.
type Fetcher struct {
	sources map[domain.Provider]SourceFunc
	cache   domain.ResponseCache
	ttl     time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher over the given provider sources.
func NewFetcher(sources map[domain.Provider]SourceFunc, opts FetcherOptions, logger *slog.Logger) *Fetcher {
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), len(domain.AllProviders))
	}
	return &Fetcher{
		sources: sources,
		cache:   opts.Cache,
		ttl:     ttl,
		limiter: limiter,
		logger:  logger.With(slog.String("component", "fetcher")),
	}
}

// ProvidersFor returns the providers a route needs, in prompt order.
func ProvidersFor(route domain.Route) []domain.Provider {
	var out []domain.Provider
	if route.NeedsPolymarket {
		out = append(out, domain.ProviderPolymarketEvents, domain.ProviderPolymarketMarkets)
	}
	if route.NeedsKalshi {
		out = append(out, domain.ProviderKalshiMarkets, domain.ProviderKalshiTrades)
	}
	return out
}

// Gather fetches every provider the route needs, one request each, with no
// retries. The returned bundle is empty for AI-search routes.
func (f *Fetcher) Gather(ctx context.Context, route domain.Route) domain.DataBundle {
	bundle := domain.NewDataBundle()
	for _, p := range ProvidersFor(route) {
		payload, err := f.fetchOne(ctx, p)
		if err != nil {
			f.logger.WarnContext(ctx, "provider unavailable, continuing with sentinel",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
			bundle.MarkUnavailable(p, err)
			continue
		}
		bundle.Set(p, string(payload))
	}
	return bundle
}

func (f *Fetcher) fetchOne(ctx context.Context, p domain.Provider) ([]byte, error) {
	key := cacheKey(p)
	if f.cache != nil {
		cached, ok, err := f.cache.Get(ctx, key)
		if err != nil {
			f.logger.DebugContext(ctx, "cache read failed",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
		} else if ok {
			return cached, nil
		}
	}

	src, ok := f.sources[p]
	if !ok || src == nil {
		return nil, fmt.Errorf("%w: provider %s not configured", domain.ErrNetworkUnavailable, p)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetworkUnavailable, p, err)
		}
	}

	body, err := src(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNetworkUnavailable) {
			err = fmt.Errorf("%w: %s: %v", domain.ErrNetworkUnavailable, p, err)
		}
		return nil, err
	}

	if f.cache != nil {
		if err := f.cache.Set(ctx, key, body, f.ttl); err != nil {
			f.logger.DebugContext(ctx, "cache write failed",
				slog.String("provider", string(p)),
				slog.String("error", err.Error()),
			)
		}
	}
	return body, nil
}

func cacheKey(p domain.Provider) string {
	return "settle:provider:" + string(p)
}
