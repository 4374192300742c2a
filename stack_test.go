package corevm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperandStack_PushPopPeek(t *testing.T) {
	s := newOperandStack()
	require.NoError(t, s.push(NewI32(1)))
	require.NoError(t, s.push(NewI32(2)))
	assert.Equal(t, 2, s.depth())

	top, err := s.peek(0)
	require.NoError(t, err)
	assert.Equal(t, int32(2), top.AsI32())

	v, err := s.pop()
	require.NoError(t, err)
	assert.Equal(t, int32(2), v.AsI32())
	assert.Equal(t, 1, s.depth())
}

func TestOperandStack_UnderflowTraps(t *testing.T) {
	s := newOperandStack()
	_, err := s.pop()
	var trap *TrapError
	require.True(t, errors.As(err, &trap))
	assert.Equal(t, TrapStackUnderflow, trap.Kind)

	_, err = s.peek(0)
	require.True(t, errors.As(err, &trap))
	assert.Equal(t, TrapOutOfBounds, trap.Kind)
}

func TestOperandStack_OverflowTraps(t *testing.T) {
	s := newOperandStack()
	for i := 0; i < maxOperandStackDepth; i++ {
		require.NoError(t, s.push(NewI32(0)))
	}
	err := s.push(NewI32(0))
	var trap *TrapError
	require.True(t, errors.As(err, &trap))
	assert.Equal(t, TrapStackOverflow, trap.Kind)
}

func TestOperandStack_TruncateTo(t *testing.T) {
	s := newOperandStack()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.push(NewI32(int32(i))))
	}
	s.truncateTo(2)
	assert.Equal(t, 2, s.depth())
	v, err := s.peek(0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v.AsI32())
}

func TestOperandStack_PopN(t *testing.T) {
	s := newOperandStack()
	require.NoError(t, s.push(NewI32(10)))
	require.NoError(t, s.push(NewI32(20)))
	require.NoError(t, s.push(NewI32(30)))

	vals, ok := s.popN(2)
	require.True(t, ok)
	require.Len(t, vals, 2)
	assert.Equal(t, int32(20), vals[0].AsI32())
	assert.Equal(t, int32(30), vals[1].AsI32())
	assert.Equal(t, 1, s.depth())

	_, ok = s.popN(5)
	assert.False(t, ok)
}

func TestFrameStack_PushPopTruncate(t *testing.T) {
	f := newFrameStack()
	f.push(&callFrame{funcIndex: 0})
	f.push(&callFrame{funcIndex: 1})
	assert.Equal(t, 2, f.frameCount())
	assert.Equal(t, uint16(1), f.top().funcIndex)

	fr := f.pop()
	assert.Equal(t, uint16(1), fr.funcIndex)
	assert.Equal(t, 1, f.frameCount())

	f.push(&callFrame{funcIndex: 2})
	f.push(&callFrame{funcIndex: 3})
	f.truncateTo(1)
	assert.Equal(t, 1, f.frameCount())
	assert.Equal(t, uint16(0), f.top().funcIndex)
}

func TestFrameStack_PopEmpty(t *testing.T) {
	f := newFrameStack()
	assert.Nil(t, f.pop())
	assert.Nil(t, f.top())
}
