package main

import "golang.org/x/time/rate"

// newInboundLimiter builds the per-connection inbound frame limiter. This
// replaces the teacher's hand-rolled token bucket (internal/single/limits)
// with golang.org/x/time/rate, already a direct dependency. It throttles
// frames arriving from one client; it is not a delivery-backpressure
// mechanism and does not affect fan-out.
func newInboundLimiter(framesPerSec float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(framesPerSec), burst)
}
