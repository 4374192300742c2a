package corevm

// taskHandle is the heap Value SPAWN produces: an opaque reference to
// a Task that AWAIT resolves back to the concrete Task (or, once
// settled, its taskRecord) through the owning VM's taskRegistry — by
// id, not by a strong *Task pointer, so a handle sitting unread on
// some other Task's operand stack never keeps a settled Task's bulk
// state (its operand stack and call frames) alive any longer than the
// registry's own settled record needs to.
type taskHandle struct {
	Header
	id      uint64
	handles *taskRegistry
}

func newTaskHandle(t *Task) *taskHandle {
	return &taskHandle{Header: newHeader(objTask, 0), id: t.id, handles: t.vm.taskHandles}
}

// handleValue wraps t in a heap-allocated handle Value, registering it
// with the owning VM's heap so the handle itself participates in GC
// like any other object (it is reachable only through whichever Task
// holds it on its operand stack or in a local).
func (t *Task) handleValue() Value {
	return t.vm.heap.Allocate(newTaskHandle(t))
}

// resolve returns the live Task this handle refers to, if it hasn't
// settled yet.
func (h *taskHandle) resolve() (*Task, bool) {
	live, _, ok := h.handles.lookup(h.id)
	return live, ok && live != nil
}

// state reports the referenced Task's current state without requiring
// the caller to distinguish the live-vs-settled storage split.
func (h *taskHandle) state() TaskState {
	live, rec, ok := h.handles.lookup(h.id)
	if !ok {
		return TaskFailed
	}
	if live != nil {
		return live.State()
	}
	return rec.state
}

// settled returns the settled record, if any.
func (h *taskHandle) settled() (*taskRecord, bool) {
	_, rec, ok := h.handles.lookup(h.id)
	if !ok || rec == nil {
		return nil, false
	}
	return rec, true
}
