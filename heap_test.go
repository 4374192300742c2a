package corevm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_AllocateTracksObject(t *testing.T) {
	h := NewHeap(nil)
	assert.Equal(t, 0, h.ObjectCount())

	v := h.Allocate(newStringObject("hi"))
	assert.Equal(t, 1, h.ObjectCount())
	assert.True(t, v.IsHeap())
}

// fakeRoots implements RootProvider over an explicit Task list, for
// collector tests that don't need a live scheduler.
type fakeRoots []*Task

func (f fakeRoots) LiveTasks() []*Task { return f }

func TestHeap_CollectReclaimsUnreachable(t *testing.T) {
	h := NewHeap(nil)
	kept := h.Allocate(newStringObject("kept"))
	_ = h.Allocate(newStringObject("garbage"))

	vm := &VM{heap: h}
	task := newTask(vm, &Function{Code: []byte{byte(OpReturnVoid)}, NumLocals: 1}, nil)
	require.NoError(t, task.operands.push(kept))

	reclaimed := h.Collect(fakeRoots{task})
	assert.Equal(t, 1, reclaimed)
	assert.Equal(t, 1, h.ObjectCount())
}

func TestHeap_PinnedObjectSurvivesSweep(t *testing.T) {
	h := NewHeap(nil)
	obj := newStringObject("pinned")
	v := h.Allocate(obj)
	obj.Header().Pin()

	reclaimed := h.Collect(fakeRoots{})
	assert.Equal(t, 0, reclaimed, "a pinned object must survive even when unreachable")
	assert.Equal(t, 1, h.ObjectCount())
	assert.True(t, v.IsHeap())
}

func TestHeap_TransitiveMarkThroughArray(t *testing.T) {
	h := NewHeap(nil)
	inner := h.Allocate(newStringObject("inner"))
	arr, err := newArrayObject(1, 0)
	require.NoError(t, err)
	arr.Slots[0] = inner
	arrV := h.Allocate(arr)

	vm := &VM{heap: h}
	task := newTask(vm, &Function{Code: []byte{byte(OpReturnVoid)}, NumLocals: 1}, nil)
	require.NoError(t, task.operands.push(arrV))

	reclaimed := h.Collect(fakeRoots{task})
	assert.Equal(t, 0, reclaimed, "inner string is reachable transitively through the array")
	assert.Equal(t, 2, h.ObjectCount())
}

func TestHeader_PinUnpin(t *testing.T) {
	obj := newStringObject("x")
	assert.False(t, obj.Header().Pinned())
	obj.Header().Pin()
	assert.True(t, obj.Header().Pinned())
	obj.Header().Unpin()
	assert.False(t, obj.Header().Pinned())
}

func TestHeader_UnpinUnderflowPanics(t *testing.T) {
	obj := newStringObject("x")
	assert.Panics(t, func() { obj.Header().Unpin() })
}

func TestNewArrayObject_TooLargeTraps(t *testing.T) {
	_, err := newArrayObject(maxArrayLength+1, 0)
	require.Error(t, err)
	var trap *TrapError
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, TrapArrayTooLarge, trap.Kind)
}

func TestNewArrayObject_NullInitialized(t *testing.T) {
	arr, err := newArrayObject(3, 0)
	require.NoError(t, err)
	for _, slot := range arr.Slots {
		assert.True(t, slot.IsNull())
	}
}

func TestOpaqueHandle_DestroyRunsOnSweep(t *testing.T) {
	h := NewHeap(nil)
	destroyed := false
	_ = h.Allocate(&OpaqueHandleObject{
		Header:  newHeader(objOpaqueHandle, 0),
		Ptr:     "payload",
		Destroy: func(any) { destroyed = true },
	})

	reclaimed := h.Collect(fakeRoots{})
	assert.Equal(t, 1, reclaimed)
	assert.True(t, destroyed)
}
