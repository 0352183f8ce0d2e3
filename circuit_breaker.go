package minicache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pior/minicache/protocol"
)

// CircuitBreaker guards the requests sent to one server.
type CircuitBreaker = gobreaker.CircuitBreaker[*protocol.Response]

// NewCircuitBreakerFunc creates the circuit breaker of a server.
type NewCircuitBreakerFunc func(serverAddr string) *CircuitBreaker

// NewCircuitBreakerConfig returns a NewCircuitBreakerFunc for the common case:
// the breaker opens once at least 3 requests were seen in the interval and
// 60% of them failed, and lets maxRequests probes through after timeout.
//
// Only transport failures count: error lines from the server and caller
// cancellations leave the breaker alone.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) NewCircuitBreakerFunc {
	return func(serverAddr string) *CircuitBreaker {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: isBreakerSuccess,
		}
		return gobreaker.NewCircuitBreaker[*protocol.Response](settings)
	}
}

func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var keyErr *protocol.InvalidKeyError
	return errors.As(err, &keyErr)
}
