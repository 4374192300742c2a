package corevm

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// warnLimiter throttles repeated warning-level log lines per
// category so a pathological
// workload cannot turn a single misbehaving Task into an unbounded
// logging flood. Its only caller is the scheduler's steal-exhausted
// warning; native panics are logged directly, unthrottled.
type warnLimiter struct {
	limiter *catrate.Limiter
	log     *vmLogger
}

// newWarnLimiter allows at most 1 warning per category per second,
// and at most 20 per category per minute; bursts beyond that are
// dropped silently rather than queued or batched.
func newWarnLimiter(log *vmLogger) *warnLimiter {
	return &warnLimiter{
		limiter: catrate.NewLimiter(map[time.Duration]int{
			time.Second: 1,
			time.Minute: 20,
		}),
		log: log,
	}
}

// warn logs message under category if the limiter admits it,
// otherwise drops it.
func (w *warnLimiter) warn(category, message string) {
	if w == nil {
		return
	}
	if _, ok := w.limiter.Allow(category); ok {
		w.log.warnRateLimited(category, message)
	}
}
