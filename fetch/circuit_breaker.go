package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// ErrCircuitOpen is returned without contacting a host whose breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerFetcher wraps a Getter with per-host circuit breakers, so a
// repository that keeps failing is skipped quickly while later repositories
// are still consulted.
type CircuitBreakerFetcher struct {
	getter    Getter
	threshold int64
	breakers  map[string]*circuit.Breaker
	mu        sync.RWMutex
}

// NewCircuitBreakerFetcher creates a new circuit breaker wrapper for g.
func NewCircuitBreakerFetcher(g Getter) *CircuitBreakerFetcher {
	return &CircuitBreakerFetcher{
		getter:    g,
		threshold: 5,
		breakers:  make(map[string]*circuit.Breaker),
	}
}

// getBreaker returns or creates a circuit breaker for the given host.
func (cbf *CircuitBreakerFetcher) getBreaker(host string) *circuit.Breaker {
	cbf.mu.RLock()
	breaker, exists := cbf.breakers[host]
	cbf.mu.RUnlock()

	if exists {
		return breaker
	}

	cbf.mu.Lock()
	defer cbf.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := cbf.breakers[host]; exists {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	opts := &circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(cbf.threshold),
	}
	breaker = circuit.NewBreakerWithOptions(opts)

	cbf.breakers[host] = breaker
	return breaker
}

// Get wraps the underlying Getter with circuit breaker logic. Not-found
// answers prove the host is up and never count as failures.
func (cbf *CircuitBreakerFetcher) Get(ctx context.Context, fetchURL string) ([]byte, error) {
	host := extractHost(fetchURL)
	breaker := cbf.getBreaker(host)

	if !breaker.Ready() {
		return nil, fmt.Errorf("%w for %s: %w", ErrCircuitOpen, host, ErrUpstreamDown)
	}

	var body []byte
	var passThrough error
	err := breaker.Call(func() error {
		var getErr error
		body, getErr = cbf.getter.Get(ctx, fetchURL)
		if getErr != nil && (errors.Is(getErr, ErrNotFound) || errors.Is(getErr, ErrTooLarge)) {
			passThrough = getErr
			return nil
		}
		return getErr
	}, 0)

	if passThrough != nil {
		return nil, passThrough
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

// extractHost extracts a host identifier from a URL for circuit breaker grouping.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		// Fallback to simple truncation
		if len(rawURL) > 50 {
			return rawURL[:50]
		}
		return rawURL
	}
	return parsed.Host
}

// BreakerStates returns the state of every breaker, keyed by host.
func (cbf *CircuitBreakerFetcher) BreakerStates() map[string]string {
	cbf.mu.RLock()
	defer cbf.mu.RUnlock()

	states := make(map[string]string)
	for host, breaker := range cbf.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
