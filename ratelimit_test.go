package corevm

import "testing"

import "github.com/stretchr/testify/assert"

func TestWarnLimiter_ThrottlesBursts(t *testing.T) {
	w := newWarnLimiter(noopVMLogger())
	// Not directly observable via the logger (stumpy writes to stderr by
	// default), but warn must never panic regardless of admission, and
	// the underlying catrate.Limiter is exercised either way.
	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			w.warn("steal_exhausted", "message")
		}
	})
}

func TestWarnLimiter_NilReceiverIsNoop(t *testing.T) {
	var w *warnLimiter
	assert.NotPanics(t, func() { w.warn("cat", "msg") })
}

func TestWarnLimiter_DistinctCategoriesIndependent(t *testing.T) {
	w := newWarnLimiter(noopVMLogger())
	assert.NotPanics(t, func() {
		w.warn("a", "msg")
		w.warn("b", "msg")
	})
}
