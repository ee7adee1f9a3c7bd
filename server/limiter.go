package server

import "golang.org/x/time/rate"

// requestLimiter applies a token-bucket budget to incoming requests.
// A nil limiter admits everything.
type requestLimiter struct {
	limiter *rate.Limiter
}

// newRequestLimiter builds a limiter for rps requests per second with the
// given burst. rps <= 0 disables limiting.
func newRequestLimiter(rps float64, burst int) *requestLimiter {
	if rps <= 0 {
		return &requestLimiter{}
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &requestLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether one more request fits the budget.
func (rl *requestLimiter) Allow() bool {
	if rl.limiter == nil {
		return true
	}
	return rl.limiter.Allow()
}
