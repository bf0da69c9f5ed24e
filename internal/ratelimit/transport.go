package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// IPLimiter enforces per-IP and global request rate limits at the HTTP
// transport. Uses token bucket algorithm via golang.org/x/time/rate.
type IPLimiter struct {
	mu      sync.Mutex
	global  *rate.Limiter
	perIP   rate.Limit
	burst   int
	sources map[string]*rate.Limiter
}

// NewIPLimiter creates a transport limiter.
// globalRPM is the total requests/minute across all sources.
// perIPRPM is the per-source requests/minute.
func NewIPLimiter(globalRPM, perIPRPM int) *IPLimiter {
	globalRate := rate.Limit(float64(globalRPM) / 60.0)
	ipRate := rate.Limit(float64(perIPRPM) / 60.0)
	globalBurst := globalRPM
	if globalBurst < 1 {
		globalBurst = 1
	}
	ipBurst := perIPRPM
	if ipBurst < 1 {
		ipBurst = 1
	}
	return &IPLimiter{
		global:  rate.NewLimiter(globalRate, globalBurst),
		perIP:   ipRate,
		burst:   ipBurst,
		sources: make(map[string]*rate.Limiter),
	}
}

// Allow checks whether a request from the given source IP is allowed.
func (l *IPLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		return false
	}
	l.mu.Lock()
	limiter, ok := l.sources[ip]
	if !ok {
		limiter = rate.NewLimiter(l.perIP, l.burst)
		l.sources[ip] = limiter
	}
	l.mu.Unlock()
	return limiter.Allow()
}
