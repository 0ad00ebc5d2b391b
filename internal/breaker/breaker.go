// Package breaker builds the circuit breakers that guard outbound HTTP
// collaborators (geocoder, image endpoint, event backend).
package breaker

import (
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	appLog "aircal/internal/log"
	"aircal/internal/metrics"
)

// Settings tunes a breaker. Zero values select the defaults below.
type Settings struct {
	// MinRequests is the number of requests in Interval before the failure
	// ratio is considered.
	MinRequests uint32
	// FailureRatio opens the circuit once reached.
	FailureRatio float64
	Interval     time.Duration
	// Timeout is how long the circuit stays open before probing again.
	Timeout time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.MinRequests == 0 {
		s.MinRequests = 5
	}
	if s.FailureRatio <= 0 {
		s.FailureRatio = 0.6
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = 2 * time.Minute
	}
	return s
}

// New returns a breaker named name that logs and exports its state changes.
func New[T any](name string, s Settings) *gobreaker.CircuitBreaker[T] {
	s = s.withDefaults()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= s.FailureRatio {
				appLog.Warn("circuit breaker opening", "name", name, "failures", counts.TotalFailures, "requests", counts.Requests)
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			appLog.Info("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
