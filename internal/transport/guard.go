package transport

import (
	"sync/atomic"

	"golang.org/x/time/rate"
)

// guard enforces static connection-admission limits: a hard cap on
// concurrently open connections and a rate limit on how fast new
// connections are accepted. This is a trimmed-down adaptation of the
// teacher's ResourceGuard (src/resource_guard.go) — the static, deterministic
// half of that design. The original's CPU-based dynamic capacity tuning
// (src/capacity.go's DynamicCapacityManager) has no counterpart here: this
// protocol has no notion of a variable capacity target, so only admission
// control survives the port.
type guard struct {
	maxConnections int64
	current        int64
	limiter        *rate.Limiter
}

func newGuard(maxConnections int, acceptRatePerSec float64) *guard {
	var limiter *rate.Limiter
	if acceptRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(acceptRatePerSec), int(acceptRatePerSec)*2+1)
	}
	return &guard{
		maxConnections: int64(maxConnections),
		limiter:        limiter,
	}
}

// tryAdmit reports whether a newly accepted connection may proceed. On
// rejection, the caller must not call release.
func (g *guard) tryAdmit() bool {
	if g.limiter != nil && !g.limiter.Allow() {
		return false
	}
	if g.maxConnections > 0 && atomic.AddInt64(&g.current, 1) > g.maxConnections {
		atomic.AddInt64(&g.current, -1)
		return false
	}
	return true
}

func (g *guard) release() {
	atomic.AddInt64(&g.current, -1)
}
