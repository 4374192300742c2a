package corevm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runModule(t *testing.T, mod *Module, args []Value, opts ...Option) (Value, error, *VM) {
	t.Helper()
	vm, err := NewVM(mod, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = vm.Shutdown(ctx)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, runErr := vm.Run(ctx, args)
	return v, runErr, vm
}

// S1: a two-param function returning the sum of its arguments.
func TestInterp_Addition(t *testing.T) {
	entry := &Function{
		Code:      asm(op(OpLoadLocal0), op(OpLoadLocal1), op(OpIAdd), op(OpReturn)),
		NumLocals: 2,
		NumParams: 2,
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{entry}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	v, err, _ := runModule(t, mod, []Value{NewI32(3), NewI32(4)})
	require.NoError(t, err)
	assert.Equal(t, int32(7), v.AsI32())
}

// S2: SPAWN a child Task, AWAIT it, and return its result. Regression
// coverage for the AWAIT resume point: on suspend, the handle must be
// re-pushed at opStart so the re-executed AWAIT observes the settled
// child and pushes its result rather than the stale handle.
func TestInterp_SpawnAwait(t *testing.T) {
	child := &Function{
		Code: asm(opI32(OpConstI32, 42), op(OpReturn)),
	}
	entry := &Function{
		Code: asm(opCall(OpSpawn, 1, 0), op(OpAwait), op(OpReturn)),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{entry, child}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	v, err, _ := runModule(t, mod, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v.AsI32())
}

// S3: two spawned worker Tasks each lock a shared global mutex,
// increment a shared global counter, and unlock -- the mutex must
// serialize the increments so the final counter reflects both.
func TestInterp_MutexSerializesConcurrentIncrement(t *testing.T) {
	worker := &Function{
		Code: asm(
			opU16(OpLoadGlobal, 0),
			op(OpMutexLock),
			opU16(OpLoadGlobal, 1),
			opI32(OpConstI32, 1),
			op(OpIAdd),
			opU16(OpStoreGlobal, 1),
			opU16(OpLoadGlobal, 0),
			op(OpMutexUnlock),
			opI32(OpConstI32, 0),
			op(OpReturn),
		),
	}
	entry := &Function{
		Code: asm(
			op(OpNewMutex),
			opU16(OpStoreGlobal, 0),
			opI32(OpConstI32, 0),
			opU16(OpStoreGlobal, 1),
			opCall(OpSpawn, 1, 0),
			opCall(OpSpawn, 1, 0),
			op(OpAwait),
			op(OpPop),
			op(OpAwait),
			op(OpPop),
			opU16(OpLoadGlobal, 1),
			op(OpReturn),
		),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{entry, worker}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
		NumGlobals: 2,
	}
	v, err, _ := runModule(t, mod, nil, WithWorkers(4))
	require.NoError(t, err)
	assert.Equal(t, int32(2), v.AsI32())
}

// S4: TRY/THROW/catch -- the thrown value is caught and returned.
func TestInterp_TryCatch(t *testing.T) {
	entry := &Function{
		Code: asm(
			opTry(15, -1),
			opI32(OpConstI32, 99),
			op(OpThrow),
			op(OpReturn), // catch target at offset 15
		),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{entry}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	v, err, _ := runModule(t, mod, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(99), v.AsI32())
}

// S5: a finally-only handler runs on an uncaught exception, bumping a
// global counter, then rethrows -- the Task ultimately fails with the
// original exception but the finally side effect is observed.
func TestInterp_FinallyRunsOnUncaughtException(t *testing.T) {
	entry := &Function{
		Code: asm(
			opTry(-1, 15),
			opI32(OpConstI32, 7),
			op(OpThrow),
			// finally block at offset 15:
			opU16(OpLoadGlobal, 0),
			opI32(OpConstI32, 1),
			op(OpIAdd),
			opU16(OpStoreGlobal, 0),
			op(OpRethrow),
		),
	}
	mod := &Module{
		Functions:  NewFunctionTable([]*Function{entry}),
		Classes:    NewClassRegistry(nil),
		Constants:  NewConstantPool(nil),
		NumGlobals: 1,
	}
	_, err, vm := runModule(t, mod, nil)
	require.Error(t, err)
	var tf *TaskFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, int32(7), tf.Exception.AsI32())

	counter, ok := vm.globals.Load(0)
	require.True(t, ok)
	assert.Equal(t, int32(1), counter.AsI32(), "finally block must run exactly once before the rethrow propagates")
}

// S6: a mutex held across a CALL frame that throws must auto-release
// on unwind, so the catch handler can re-acquire it.
func TestInterp_MutexAutoReleasesAcrossThrowingCall(t *testing.T) {
	callee := &Function{
		Code: asm(
			opU16(OpLoadGlobal, 0),
			op(OpMutexLock),
			opI32(OpConstI32, 1),
			op(OpThrow),
		),
	}
	entry := &Function{
		Code: asm(
			op(OpNewMutex),
			opU16(OpStoreGlobal, 0),
			opTry(17, -1),
			opCall(OpCall, 1, 0),
			// catch target at offset 17:
			opU16(OpLoadGlobal, 0),
			op(OpMutexLock),
			opI32(OpConstI32, 123),
			op(OpReturn),
		),
	}
	mod := &Module{
		Functions:  NewFunctionTable([]*Function{entry, callee}),
		Classes:    NewClassRegistry(nil),
		Constants:  NewConstantPool(nil),
		NumGlobals: 1,
	}
	v, err, _ := runModule(t, mod, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(123), v.AsI32())
}

// Regression: traps (e.g. stack underflow) are ordinary catchable
// exceptions, not an unconditional Task failure.
func TestInterp_TrapIsCatchable(t *testing.T) {
	entry := &Function{
		Code: asm(
			opTry(10, -1),
			op(OpPop), // pops from an empty stack: TrapStackUnderflow
			opI32(OpConstI32, 77),
			op(OpReturn), // catch target 10 is the CONST_I32 above, then this RETURN
		),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{entry}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	v, err, _ := runModule(t, mod, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(77), v.AsI32())
}

// A divide-by-zero trap propagates to an uncaught Task failure when
// nothing installs a handler.
func TestInterp_UncaughtTrapFailsTask(t *testing.T) {
	entry := &Function{
		Code: asm(opI32(OpConstI32, 1), opI32(OpConstI32, 0), op(OpIDiv), op(OpReturn)),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{entry}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	_, err, _ := runModule(t, mod, nil)
	require.Error(t, err)
	var tf *TaskFailure
	require.ErrorAs(t, err, &tf)
	to, ok := tf.Exception.AsHeapObject().(*trapObject)
	require.True(t, ok, "uncaught trap's exception Value must wrap a *TrapError")
	assert.Equal(t, TrapIntegerDivideByZero, to.trap.Kind)
}
