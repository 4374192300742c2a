package corevm

import (
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

const (
	injectorRingSize          = 4096
	injectorSeqSkip           = uint64(1) << 63
	injectorOverflowInitCap   = 1024
	injectorOverflowCompactAt = 512
)

// injectorQueue is the scheduler-wide queue every spawned Task lands
// on (whether spawned by the embedder or by SPAWN inside a worker),
// as does every Task handed off by AWAIT/mutex wakeups that fire from
// a goroutine other than a worker. It is the same lock-free MPSC ring design as
// the event loop's MicrotaskRing, generalized from func() to *Task,
// with the same R101 validity-flag fix to avoid sequence-wraparound
// ambiguity and the same mutex-protected overflow slice for when the
// ring is saturated.
//
// Concurrency model: Multiple Producers, Single Consumer per Pop
// call — but unlike the event loop (one consumer goroutine), any idle
// worker may call Pop, so Pop itself takes a lock-free fast path but
// callers must still be prepared to race each other for the same
// slot; the CAS on head below makes that race safe.
type injectorQueue struct {
	buffer [injectorRingSize]*Task
	valid  [injectorRingSize]atomic.Bool
	seq    [injectorRingSize]atomic.Uint64
	head   atomic.Uint64
	tail   atomic.Uint64
	tailSeq atomic.Uint64

	overflowMu      sync.Mutex
	overflow        []*Task
	overflowHead    int
	overflowPending atomic.Bool
}

func newInjectorQueue() *injectorQueue {
	q := &injectorQueue{}
	for i := range q.seq {
		q.seq[i].Store(injectorSeqSkip)
	}
	return q
}

func (r *injectorQueue) Push(t *Task) {
	if r.overflowPending.Load() {
		r.overflowMu.Lock()
		if len(r.overflow)-r.overflowHead > 0 {
			r.overflow = append(r.overflow, t)
			r.overflowMu.Unlock()
			return
		}
		r.overflowMu.Unlock()
	}

	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail-head >= injectorRingSize {
			break
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			seq := r.tailSeq.Add(1)
			idx := tail % injectorRingSize
			r.buffer[idx] = t
			r.valid[idx].Store(true)
			r.seq[idx].Store(seq)
			return
		}
	}

	r.overflowMu.Lock()
	if r.overflow == nil {
		r.overflow = make([]*Task, 0, injectorOverflowInitCap)
	}
	r.overflow = append(r.overflow, t)
	r.overflowPending.Store(true)
	r.overflowMu.Unlock()
}

// Pop removes and returns a Task, or (nil, false) if empty. Safe to
// call from multiple goroutines concurrently (unlike MicrotaskRing,
// whose Pop was single-consumer-only), since head advances via CAS.
func (r *injectorQueue) Pop() (*Task, bool) {
	for {
		head := r.head.Load()
		tail := r.tail.Load()
		if head >= tail {
			break
		}
		idx := head % injectorRingSize
		seq := r.seq[idx].Load()
		if seq == injectorSeqSkip || !r.valid[idx].Load() {
			runtime.Gosched()
			continue
		}
		if !r.head.CompareAndSwap(head, head+1) {
			continue
		}
		t := r.buffer[idx]
		r.buffer[idx] = nil
		r.valid[idx].Store(false)
		r.seq[idx].Store(injectorSeqSkip)
		if t == nil {
			continue
		}
		return t, true
	}

	if !r.overflowPending.Load() {
		return nil, false
	}

	r.overflowMu.Lock()
	defer r.overflowMu.Unlock()

	count := len(r.overflow) - r.overflowHead
	if count == 0 {
		r.overflowPending.Store(false)
		return nil, false
	}
	t := r.overflow[r.overflowHead]
	r.overflow[r.overflowHead] = nil
	r.overflowHead++

	if r.overflowHead > len(r.overflow)/2 && r.overflowHead > injectorOverflowCompactAt {
		copy(r.overflow, r.overflow[r.overflowHead:])
		r.overflow = slices.Delete(r.overflow, len(r.overflow)-r.overflowHead, len(r.overflow))
		r.overflowHead = 0
	}
	if r.overflowHead >= len(r.overflow) {
		r.overflowPending.Store(false)
	}
	return t, true
}

func (r *injectorQueue) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	n := 0
	if tail > head {
		n = int(tail - head)
	}
	r.overflowMu.Lock()
	n += len(r.overflow) - r.overflowHead
	r.overflowMu.Unlock()
	return n
}
