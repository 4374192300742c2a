package corevm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrapError_IsMatchesByKindOnly(t *testing.T) {
	a := &TrapError{Kind: TrapIntegerDivideByZero, TaskID: 1, Offset: 10}
	b := &TrapError{Kind: TrapIntegerDivideByZero, TaskID: 99, Offset: 200}
	c := &TrapError{Kind: TrapStackOverflow}

	assert.True(t, errors.Is(a, b), "Is compares by Kind, ignoring TaskID/Offset")
	assert.False(t, errors.Is(a, c))
}

func TestTrapError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := &TrapError{Kind: TrapInvalidArgument, Cause: cause}
	assert.Same(t, cause, errors.Unwrap(e))
}

func TestNativeError_Unwrap(t *testing.T) {
	cause := errors.New("io failure")
	e := &NativeError{Message: "native call failed", Cause: cause}
	assert.Same(t, cause, errors.Unwrap(e))
	assert.Contains(t, e.Error(), "native call failed")
}

func TestNativeError_FromPanic(t *testing.T) {
	e := &NativeError{FromPanic: true, PanicValue: "boom"}
	assert.Contains(t, e.Error(), "boom")
}

func TestTaskFailure_Error(t *testing.T) {
	e := &TaskFailure{TaskID: 5, Exception: NewI32(404)}
	assert.Contains(t, e.Error(), "task 5 failed")
	assert.Contains(t, e.Error(), "404")
}

func TestFatalError_Unwrap(t *testing.T) {
	cause := errors.New("corrupt header")
	e := &FatalError{Message: "heap invariant violated", Cause: cause}
	assert.Same(t, cause, errors.Unwrap(e))
}

func TestWrapError(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := WrapError("context", cause)
	assert.True(t, errors.Is(wrapped, cause))
	assert.Contains(t, wrapped.Error(), "context")
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "trap", KindTrap.String())
	assert.Equal(t, "vm_fatal", KindVMFatal.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}

func TestTrapKind_String(t *testing.T) {
	assert.Equal(t, "integer_divide_by_zero", TrapIntegerDivideByZero.String())
	assert.Equal(t, "unknown_trap", TrapKind(99).String())
}
