// Package corevm implements the execution core of a statically-typed,
// cooperatively-scheduled virtual machine: a stack-based bytecode
// interpreter, a mark-sweep garbage collector, a work-stealing
// green-thread scheduler, structured exceptions, mutexes, and a
// native-call boundary for host functions.
//
// # Architecture
//
// A [VM] is built from a [Module] (its function table, class table,
// constant pool, and global slots) plus [Option] values configuring
// the worker pool, GC thresholds, and logging. [VM.Run] spawns the
// module's entry function as a [Task] and blocks until it settles;
// [VM.Spawn] exposes the same primitive SPAWN compiles to, for
// embedders driving concurrent Tasks directly.
//
// Tasks are scheduled cooperatively by [Scheduler]: a fixed pool of
// worker goroutines, each with its own local run queue, backed by a
// shared global injector queue and work stealing between peers. A
// Task yields control at AWAIT, MUTEX_LOCK, YIELD, and after running
// a bounded quantum of opcodes, never preempted mid-instruction.
//
// Garbage collection is a stop-the-world mark-sweep cycle triggered
// automatically once the heap's object count crosses a configurable
// threshold, or on demand via [VM.Collect]. Allocation cooperatively
// waits out an in-progress cycle rather than racing it.
//
// # Thread Safety
//
// [VM.Spawn], [VM.Run], [VM.Await], and [VM.Collect] are safe to call
// concurrently from any goroutine. A given [Task] is only ever
// executing on one worker goroutine at a time; its operand stack and
// call frames are not safe for concurrent access from outside the
// scheduler.
//
// # Error Types
//
// Uncaught failures surface through the standard [error] interface.
// A Task that an exception escapes settles with a [TaskFailure]
// carrying the exception Value: a THROWn value as is, a [TrapError]
// (stack underflow, divide by zero, null dereference, out of bounds)
// or a [NativeError] (a host function's error return or recovered
// panic) as the Value the unwinder raised for it. [FatalError] marks
// VM-internal invariant violations. [VerifierError] and
// [UserException] are defined for embedders; the core itself never
// returns either.
package corevm
