package corevm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simpleConstModule(v int32) *Module {
	return &Module{
		Functions: NewFunctionTable([]*Function{{
			Code: asm(opI32(OpConstI32, v), op(OpReturn)),
		}}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
}

func TestVM_SpawnAndEmbedderAwait(t *testing.T) {
	vm, err := NewVM(simpleConstModule(5))
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = vm.Shutdown(ctx)
	}()

	fn, ok := vm.functions.Get(0)
	require.True(t, ok)
	task := vm.Spawn(fn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := vm.Await(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v.AsI32())
	assert.Equal(t, TaskCompleted, task.State())
}

func TestVM_AwaitDeadlineExceeded(t *testing.T) {
	blocker := &Function{
		// NEW_MUTEX, MUTEX_LOCK, MUTEX_LOCK: blocks forever on the
		// second lock, since nothing ever unlocks it.
		Code: asm(op(OpNewMutex), op(OpDup), op(OpMutexLock), op(OpMutexLock), op(OpReturnVoid)),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{blocker}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	vm, err := NewVM(mod)
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = vm.Shutdown(ctx)
	}()

	fn, _ := vm.functions.Get(0)
	task := vm.Spawn(fn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = vm.Await(ctx, task)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVM_CollectAndMetrics(t *testing.T) {
	vm, err := NewVM(simpleConstModule(1))
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = vm.Shutdown(ctx)
	}()

	for i := 0; i < 10; i++ {
		vm.heap.Allocate(newStringObject("garbage"))
	}
	before := vm.heap.ObjectCount()
	assert.Equal(t, 10, before)

	vm.Collect()
	after := vm.heap.ObjectCount()
	assert.Equal(t, 0, after, "unreachable strings must be reclaimed: no live Task roots reference them")

	snap := vm.Metrics()
	assert.Equal(t, uint64(1), snap.GCCycles)
	assert.Equal(t, uint64(10), snap.GCReclaimed)
}

// Regression coverage for the GC stop-the-world handshake: many
// worker goroutines concurrently run allocation-heavy Tasks against a
// GC threshold low enough that automatic collection fires repeatedly
// mid-flight. Before enterOpcode/exitOpcode gated collection, this
// raced a worker's in-progress opcode (mutating its Task's operand
// stack) against Collect's concurrent read of that same stack via
// collectRoots -- exactly the scenario -race is meant to catch.
func TestVM_ConcurrentAllocationSurvivesCollection(t *testing.T) {
	const arrayLen = 8
	allocator := &Function{
		// pushes arrayLen, NEW_ARRAY, RETURN: one heap allocation per Task.
		Code: asm(opI32(OpConstI32, arrayLen), opU16(OpNewArray, 0), op(OpReturn)),
	}
	mod := &Module{
		Functions: NewFunctionTable([]*Function{allocator}),
		Classes:   NewClassRegistry(nil),
		Constants: NewConstantPool(nil),
	}
	vm, err := NewVM(mod, WithWorkers(4), WithGCObjectThreshold(5))
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = vm.Shutdown(ctx)
	}()

	fn, ok := vm.functions.Get(0)
	require.True(t, ok)

	const numTasks = 64
	tasks := make([]*Task, numTasks)
	for i := range tasks {
		tasks[i] = vm.Spawn(fn, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, task := range tasks {
		v, err := vm.Await(ctx, task)
		require.NoError(t, err)
		arr, ok := v.heap.(*ArrayObject)
		require.True(t, ok)
		assert.Len(t, arr.Slots, arrayLen)
	}
}

func TestVM_ShutdownWithoutStart(t *testing.T) {
	vm, err := NewVM(simpleConstModule(1))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, vm.Shutdown(ctx))
}
