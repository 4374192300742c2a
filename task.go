package corevm

import (
	"sync"
	"sync/atomic"
)

// ExceptionHandler is the record TRY pushes onto a Task's handler
// stack: where to transfer control on throw, and the operand-stack
// depth, call-frame count, and held-mutex count to restore to before
// doing so.
type ExceptionHandler struct {
	CatchOffset   int // -1 (sentinel) = none
	FinallyOffset int // -1 (sentinel) = none
	StackSize     int
	FrameCount    int
	MutexCount    int
}

const noOffset = -1

// Task is a cooperatively scheduled green thread: its own operand
// stack, call-frame stack, instruction pointer, handler stack, held
// mutexes, and a list of waiters observing its completion.
//
// Task deliberately does not itself know about the Scheduler; the
// scheduler drives it by calling into the interpreter with the
// Task's saved state, so a Task is equally at home being resumed on
// any worker goroutine (this is the "thread-safe in transit"
// requirement from the concurrency model).
type Task struct {
	id uint64

	state *fastState

	ip int // byte offset into the top frame's Code

	operands *operandStack
	frames   *frameStack
	handlers []*ExceptionHandler

	currentException Value
	hasException     bool

	heldMutexes []uint64 // mutex IDs, in acquisition (LIFO-release) order

	mu      sync.Mutex
	result  Value
	failure error // non-nil iff state is TaskFailed
	waiters []chan struct{}

	// unwindTarget, when non-nil, is the handler a finally block is
	// currently executing on behalf of; it lets the interpreter tell
	// an ordinary END_TRY apart from the finally-block terminator
	// (see the exception subsystem's resolution of the open question).
	unwindTarget *ExceptionHandler

	vm *VM
}

var taskIDCounter atomic.Uint64

func newTask(vm *VM, entry *Function, args []Value) *Task {
	t := &Task{
		id:       taskIDCounter.Add(1),
		state:    newFastState(uint32(TaskReady)),
		operands: newOperandStack(),
		frames:   newFrameStack(),
		vm:       vm,
	}
	locals := make([]Value, max(entry.NumLocals, len(args)))
	for i := range locals {
		locals[i] = Null
	}
	copy(locals, args)
	// The root frame is pushed onto an empty stack: maxCallDepth can
	// never be exceeded here.
	_ = t.frames.push(&callFrame{
		funcIndex:    0,
		returnIP:     -1,
		stackBase:    0,
		locals:       locals,
		instructions: entry.Code,
		function:     entry,
	})
	return t
}

func (t *Task) ID() uint64 { return t.id }

func (t *Task) State() TaskState { return TaskState(t.state.load()) }

func (t *Task) setState(s TaskState) { t.state.store(uint32(s)) }

// transition performs a CAS-guarded state change; used by the
// scheduler's AWAIT/mutex wakeup goroutines to avoid racing a
// concurrent observer (an awaiter reading State() to decide whether
// to register a waiter).
func (t *Task) transition(from, to TaskState) bool {
	return t.state.compareAndSwap(uint32(from), uint32(to))
}

// Result returns the Task's return value, valid only once
// State() == TaskCompleted.
func (t *Task) Result() Value {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Failure returns the uncaught-exception error, valid only once
// State() == TaskFailed.
func (t *Task) Failure() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// complete settles the Task as Completed and wakes every waiter.
// happens-before guarantee: this store happens-before any waiter
// channel receive, which happens-before that waiter's AWAIT resuming
// — matching the ordering guarantee in the concurrency model.
func (t *Task) complete(result Value) {
	t.mu.Lock()
	t.result = result
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	t.setState(TaskCompleted)
	if t.vm != nil && t.vm.taskHandles != nil {
		t.vm.taskHandles.settle(t.id, TaskCompleted, result, nil)
	}
	for _, w := range waiters {
		close(w)
	}
}

// fail settles the Task as Failed with the given uncaught exception.
func (t *Task) fail(exception Value) {
	t.mu.Lock()
	t.failure = &TaskFailure{TaskID: t.id, Exception: exception}
	failure := t.failure
	waiters := t.waiters
	t.waiters = nil
	t.mu.Unlock()

	t.setState(TaskFailed)
	if t.vm != nil && t.vm.taskHandles != nil {
		t.vm.taskHandles.settle(t.id, TaskFailed, Value{}, failure)
	}
	for _, w := range waiters {
		close(w)
	}
}

// addWaiter registers a completion channel if the Task has not yet
// settled, returning (channel, true); otherwise returns (nil, false)
// so the caller observes the already-settled outcome directly.
func (t *Task) addWaiter() (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State().Terminal() {
		return nil, false
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	return ch, true
}

// pushHandler implements TRY's install step.
func (t *Task) pushHandler(catchOffset, finallyOffset int) {
	t.handlers = append(t.handlers, &ExceptionHandler{
		CatchOffset:   catchOffset,
		FinallyOffset: finallyOffset,
		StackSize:     t.operands.depth(),
		FrameCount:    t.frames.frameCount(),
		MutexCount:    len(t.heldMutexes),
	})
}

// popHandler implements END_TRY's no-throw path.
func (t *Task) popHandler() *ExceptionHandler {
	n := len(t.handlers)
	if n == 0 {
		return nil
	}
	h := t.handlers[n-1]
	t.handlers = t.handlers[:n-1]
	return h
}

func (t *Task) topHandler() *ExceptionHandler {
	if len(t.handlers) == 0 {
		return nil
	}
	return t.handlers[len(t.handlers)-1]
}

// removeHandler splices a specific handler out of the stack; used by
// RETHROW and the finally-terminator path to pop a handler that is
// not necessarily at the very top (a nested TRY inside a finally
// block may have pushed handlers above it, though well-formed
// bytecode keeps it on top).
func (t *Task) removeHandler(h *ExceptionHandler) {
	for i := len(t.handlers) - 1; i >= 0; i-- {
		if t.handlers[i] == h {
			t.handlers = append(t.handlers[:i], t.handlers[i+1:]...)
			return
		}
	}
}

// collectRoots feeds every Value this Task keeps alive to push, for
// the GC's mark phase: operand stack, every frame's locals, captured
// closure slots reachable from those locals (handled transitively by
// the collector once the ClosureObject itself is pushed), and the
// current exception.
func (t *Task) collectRoots(push func(Value)) {
	for _, v := range t.operands.slots {
		push(v)
	}
	for _, f := range t.frames.frames {
		for _, v := range f.locals {
			push(v)
		}
	}
	if t.hasException {
		push(t.currentException)
	}
}
