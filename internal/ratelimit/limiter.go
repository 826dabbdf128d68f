// Package ratelimit paces outgoing calls to the history server.
package ratelimit

import (
	"golang.org/x/time/rate"
)

// New returns a token bucket refilling at rps per second with a burst of
// one second's worth of tokens (at least one). A non-positive rps means
// unlimited.
func New(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
