package corevm

import (
	"sync"
	"weak"
)

// taskRecord is the settled snapshot kept for a Task once it leaves
// the scheduler's live set: just enough for AWAIT and the embedder
// Await/outcome path to answer, without retaining the Task's operand
// stack and call-frame stack (which a long-settled Task has no more
// use for, but a strong *Task pointer would keep alive regardless).
type taskRecord struct {
	state   TaskState
	result  Value
	failure error
}

// taskRegistry is the scheduler's directory of every Task a
// taskHandle Value might still reference, adapted from the reference
// runtime's weak-pointer promise registry: a Task stays a weak
// pointer for as long as it might still be running (so this registry
// never competes with the scheduler's own strong reference for Go GC
// purposes), and collapses to a small strong taskRecord the instant
// it settles.
type taskRegistry struct {
	mu   sync.RWMutex
	live map[uint64]weak.Pointer[Task]
	done map[uint64]*taskRecord
}

func newTaskRegistry() *taskRegistry {
	return &taskRegistry{
		live: make(map[uint64]weak.Pointer[Task]),
		done: make(map[uint64]*taskRecord),
	}
}

func (r *taskRegistry) register(t *Task) {
	r.mu.Lock()
	r.live[t.id] = weak.Make(t)
	r.mu.Unlock()
}

// settle replaces a Task's weak live entry with a strong settled
// record; called once from Task.complete/Task.fail.
func (r *taskRegistry) settle(id uint64, state TaskState, result Value, failure error) {
	r.mu.Lock()
	delete(r.live, id)
	r.done[id] = &taskRecord{state: state, result: result, failure: failure}
	r.mu.Unlock()
}

// lookup resolves a Task id to either its still-live Task or its
// settled record. Both are absent only if id was never registered
// (a malformed or forged handle).
func (r *taskRegistry) lookup(id uint64) (live *Task, rec *taskRecord, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if wp, found := r.live[id]; found {
		if t := wp.Value(); t != nil {
			return t, nil, true
		}
	}
	if rec, found := r.done[id]; found {
		return nil, rec, true
	}
	return nil, nil, false
}

// rootValue reports a settled Task's result (or failure exception),
// for Heap.mark to keep reachable through any surviving taskHandle —
// a live Task is instead rooted transitively via the scheduler's own
// LiveTasks, so this only ever has work to do once settled.
func (r *taskRegistry) rootValue(id uint64) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.done[id]
	if !ok {
		return Value{}, false
	}
	if tf, isFailure := rec.failure.(*TaskFailure); isFailure {
		return tf.Exception, true
	}
	return rec.result, true
}
