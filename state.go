package corevm

import "sync/atomic"

// TaskState is the lifecycle of a Task, per the data model.
//
// State Machine:
//
//	Ready (0)     → Running (1)    [scheduler dispatch]
//	Running (1)   → Suspended (2)  [AWAIT on pending Task / MUTEX_LOCK contended]
//	Running (1)   → Ready (0)      [YIELD / quantum expiry; re-enqueued at once]
//	Running (1)   → Completed (3)  [RETURN reaches the outermost frame]
//	Running (1)   → Failed (4)     [uncaught exception reaches handler-stack bottom]
//	Suspended (2) → Ready (0)      [awaited Task settles / mutex acquired / re-enqueued]
//
// Completed and Failed are terminal.
type TaskState uint32

const (
	TaskReady TaskState = iota
	TaskRunning
	TaskSuspended
	TaskCompleted
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskReady:
		return "Ready"
	case TaskRunning:
		return "Running"
	case TaskSuspended:
		return "Suspended"
	case TaskCompleted:
		return "Completed"
	case TaskFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s TaskState) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// GCPhase is the collector's global phase, observed by allocators at
// every safepoint.
type GCPhase uint32

const (
	GCIdle GCPhase = iota
	GCMarking
	GCSweeping
)

func (p GCPhase) String() string {
	switch p {
	case GCIdle:
		return "Idle"
	case GCMarking:
		return "Marking"
	case GCSweeping:
		return "Sweeping"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free, cache-line-padded atomic state cell used
// for both per-Task state and the GC's global phase. The padding
// prevents false sharing between a Task's state (frequently polled by
// its own worker and by awaiters) and neighboring fields.
type fastState struct { //nolint:govet
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

func newFastState(initial uint32) *fastState {
	s := &fastState{}
	s.v.Store(initial)
	return s
}

func (s *fastState) load() uint32 { return s.v.Load() }

func (s *fastState) store(v uint32) { s.v.Store(v) }

func (s *fastState) compareAndSwap(from, to uint32) bool {
	return s.v.CompareAndSwap(from, to)
}
