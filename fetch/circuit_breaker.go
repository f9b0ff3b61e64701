package fetch

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"

	"github.com/git-pkgs/outdated/internal/core"
)

// DefaultBreakerThreshold is the number of consecutive transient failures that
// trips a registry's breaker.
const DefaultBreakerThreshold = 5

// CircuitBreakerFetcher wraps a Doer with per-registry circuit breakers.
// Only transient failures (5xx, network, timeout) count toward tripping.
type CircuitBreakerFetcher struct {
	fetcher   core.Doer
	threshold int64
	breakers  map[string]*circuit.Breaker
	mu        sync.RWMutex
}

// NewCircuitBreakerFetcher creates a new circuit breaker wrapper for a fetcher.
// A threshold of zero or less uses DefaultBreakerThreshold.
func NewCircuitBreakerFetcher(f core.Doer, threshold int) *CircuitBreakerFetcher {
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	return &CircuitBreakerFetcher{
		fetcher:   f,
		threshold: int64(threshold),
		breakers:  make(map[string]*circuit.Breaker),
	}
}

// getBreaker returns or creates a circuit breaker for the given registry.
func (cbf *CircuitBreakerFetcher) getBreaker(registry string) *circuit.Breaker {
	cbf.mu.RLock()
	breaker, exists := cbf.breakers[registry]
	cbf.mu.RUnlock()

	if exists {
		return breaker
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()

	if breaker, exists := cbf.breakers[registry]; exists {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ConsecutiveTripFunc(cbf.threshold),
	})

	cbf.breakers[registry] = breaker
	return breaker
}

// Fetch wraps the underlying fetcher's Fetch with circuit breaker logic.
func (cbf *CircuitBreakerFetcher) Fetch(ctx context.Context, req *core.Request) ([]byte, error) {
	registry := extractRegistry(req.URL)
	breaker := cbf.getBreaker(registry)

	if !breaker.Ready() {
		return nil, &core.ResolveError{
			URL: req.URL,
			Err: fmt.Errorf("circuit breaker open for registry %s: %w", registry, core.ErrUpstreamDown),
		}
	}

	body, err := cbf.fetcher.Fetch(ctx, req)
	switch {
	case err == nil:
		breaker.Success()
	case Retryable(err) && ctx.Err() == nil:
		breaker.Fail()
	default:
		// 4xx and configuration failures say nothing about registry health.
		breaker.Success()
	}
	return body, err
}

// extractRegistry extracts a registry identifier from a URL for circuit breaker grouping.
func extractRegistry(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// BreakerState returns the current state of circuit breakers (for health checks).
func (cbf *CircuitBreakerFetcher) BreakerState() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string)
	for registry, breaker := range cbf.breakers {
		if breaker.Tripped() {
			states[registry] = "open"
		} else {
			states[registry] = "closed"
		}
	}
	return states
}
