package corevm

import (
	"context"
)

// VM wires together every component described by the execution core:
// the heap/collector, the mutex registry, the class/function/constant
// tables a loaded Module provides, the work-stealing scheduler, and
// the ambient logging/rate-limiting stack.
type VM struct {
	heap      *Heap
	mutexes   *MutexRegistry
	classes   *ClassRegistry
	functions *FunctionTable
	constants *ConstantPool
	globals   *GlobalTable
	scheduler *Scheduler

	logger      *vmLogger
	limiter     *warnLimiter
	metrics     *Metrics
	natives     *NativeModuleRegistry
	taskHandles *taskRegistry

	gcThreshold int
	entryFunc   uint16
}

// NewVM constructs a VM bound to mod, ready to run Tasks once
// Scheduler.Start (implicitly called by Run) launches the worker
// pool.
func NewVM(mod *Module, opts ...Option) (*VM, error) {
	cfg, err := resolveVMOptions(opts)
	if err != nil {
		return nil, err
	}

	vm := &VM{
		heap:        NewHeap(cfg.logger),
		mutexes:     NewMutexRegistry(),
		classes:     mod.Classes,
		functions:   mod.Functions,
		constants:   mod.Constants,
		globals:     NewGlobalTable(mod.NumGlobals),
		logger:      cfg.logger,
		gcThreshold: cfg.gcObjectThreshold,
		entryFunc:   mod.EntryFunc,
		metrics:     newMetrics(),
		taskHandles: newTaskRegistry(),
	}
	vm.limiter = newWarnLimiter(cfg.logger)
	vm.scheduler = newScheduler(vm, cfg.numWorkers, cfg.stealRetries)

	vm.natives = NewNativeModuleRegistry()
	for _, desc := range cfg.natives {
		vm.natives.Register(desc)
	}
	return vm, nil
}

// ResolveNative looks up a function registered via WithNativeModule,
// for a loader to bind an extern declaration's NativeFn on a Function
// in the table this VM was built from.
func (vm *VM) ResolveNative(module, function string) (NativeFunc, bool) {
	return vm.natives.Resolve(module, function)
}

// Spawn implements the embedding-level equivalent of SPAWN: run fn as
// a new Task and return its handle. The scheduler is started lazily
// on first use.
func (vm *VM) Spawn(fn *Function, args []Value) *Task {
	vm.scheduler.Start()
	return vm.scheduler.Spawn(fn, args)
}

// Run spawns the module's entry function as a Task and blocks until
// it settles (Completed or Failed) or ctx is done, returning its
// result or the uncaught exception wrapped as a *TaskFailure.
func (vm *VM) Run(ctx context.Context, args []Value) (Value, error) {
	fn, ok := vm.functions.Get(vm.entryFunc)
	if !ok {
		return Value{}, &FatalError{Message: "entry function index out of range"}
	}
	t := vm.Spawn(fn, args)
	return vm.Await(ctx, t)
}

// Await blocks the calling (non-Task) goroutine until t settles,
// returning its result or failure. This is the embedder-facing
// counterpart to the bytecode-level AWAIT opcode.
func (vm *VM) Await(ctx context.Context, t *Task) (Value, error) {
	ch, pending := t.addWaiter()
	if !pending {
		return vm.outcome(t)
	}
	select {
	case <-ch:
		return vm.outcome(t)
	case <-ctx.Done():
		return Value{}, ctx.Err()
	}
}

func (vm *VM) outcome(t *Task) (Value, error) {
	if t.State() == TaskFailed {
		return Value{}, t.Failure()
	}
	return t.Result(), nil
}

// Shutdown stops the worker pool, waiting up to ctx's deadline.
func (vm *VM) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		vm.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Collect runs one synchronous mark-sweep cycle. Embedders may call
// this directly; RunTask also triggers it automatically at the start
// of each dispatch once ObjectCount reaches the configured threshold
// (see maybeCollect).
func (vm *VM) Collect() {
	reclaimed := vm.heap.Collect(vm.scheduler)
	vm.metrics.recordGCCycle(reclaimed)
}

// Metrics returns the VM's live scheduler/collector statistics.
func (vm *VM) Metrics() Snapshot {
	return vm.metrics.Snapshot()
}

// maybeCollect is the automatic-GC trigger, checked once at the start
// of every RunTask dispatch.
func (vm *VM) maybeCollect() {
	if vm.gcThreshold <= 0 {
		return
	}
	if vm.heap.ObjectCount() >= vm.gcThreshold {
		vm.Collect()
	}
}

