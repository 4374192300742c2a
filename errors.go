package corevm

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates the taxonomy of failures the core can
// produce, orthogonal to any particular Value variant.
type ErrorKind int

const (
	// KindVerifier marks a condition that must have been rejected
	// before execution began; seeing one at runtime indicates a
	// verifier/compiler bug upstream of this core.
	KindVerifier ErrorKind = iota
	// KindTrap is a catchable runtime constraint violation.
	KindTrap
	// KindUserException is a value supplied to THROW.
	KindUserException
	// KindNativeError originates at the native-call boundary, either
	// from an error-tagged NativeValue or an intercepted host panic.
	KindNativeError
	// KindTaskFailure marks an uncaught exception that terminated a
	// Task.
	KindTaskFailure
	// KindVMFatal marks an invariant violation indicating the VM
	// itself is inconsistent. Fatal errors bypass the exception
	// machinery entirely.
	KindVMFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindVerifier:
		return "verifier"
	case KindTrap:
		return "trap"
	case KindUserException:
		return "user_exception"
	case KindNativeError:
		return "native_error"
	case KindTaskFailure:
		return "task_failure"
	case KindVMFatal:
		return "vm_fatal"
	default:
		return "unknown"
	}
}

// TrapKind enumerates the specific runtime constraint violations that
// raise a Trap.
type TrapKind int

const (
	TrapIntegerDivideByZero TrapKind = iota
	TrapOutOfBounds
	TrapNullDeref
	TrapArrayTooLarge
	TrapNonLIFOMutexUnlock
	TrapUnlockByNonOwner
	TrapRethrowWithoutException
	TrapStackOverflow
	TrapStackUnderflow
	TrapInvalidLocalIndex
	TrapInvalidFieldIndex
	TrapInvalidArgument
)

func (t TrapKind) String() string {
	switch t {
	case TrapIntegerDivideByZero:
		return "integer_divide_by_zero"
	case TrapOutOfBounds:
		return "out_of_bounds"
	case TrapNullDeref:
		return "null_deref"
	case TrapArrayTooLarge:
		return "array_too_large"
	case TrapNonLIFOMutexUnlock:
		return "non_lifo_mutex_unlock"
	case TrapUnlockByNonOwner:
		return "unlock_by_non_owner"
	case TrapRethrowWithoutException:
		return "rethrow_without_exception"
	case TrapStackOverflow:
		return "stack_overflow"
	case TrapStackUnderflow:
		return "stack_underflow"
	case TrapInvalidLocalIndex:
		return "invalid_local_index"
	case TrapInvalidFieldIndex:
		return "invalid_field_index"
	case TrapInvalidArgument:
		return "invalid_argument"
	default:
		return "unknown_trap"
	}
}

// VerifierError marks a module rejected before execution. It is fatal
// for the module that produced it.
type VerifierError struct {
	Message string
	Cause   error
}

func (e *VerifierError) Error() string {
	if e.Message == "" {
		return "verifier error"
	}
	return "verifier error: " + e.Message
}

func (e *VerifierError) Unwrap() error { return e.Cause }

// TrapError is a catchable runtime constraint violation. TrapError
// values are always convertible to a Value via [trapValue] so
// they can flow through the same unwinder path as a user THROW.
type TrapError struct {
	Kind   TrapKind
	Opcode Opcode
	TaskID uint64
	Offset int
	Cause  error
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("trap: %s (opcode=%s task=%d offset=%d)", e.Kind, e.Opcode, e.TaskID, e.Offset)
}

func (e *TrapError) Unwrap() error { return e.Cause }

// Is reports whether target names the same TrapKind, regardless of
// the remaining fields — this lets call sites write
// errors.Is(err, &TrapError{Kind: TrapStackOverflow}).
func (e *TrapError) Is(target error) bool {
	var t *TrapError
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// UserException wraps a Value thrown by THROW as a Go error while
// still carrying the original Value. The core itself never constructs
// one: a THROW that escapes every handler settles its Task with a
// *TaskFailure instead.
type UserException struct {
	Value Value
}

func (e *UserException) Error() string {
	return "uncaught exception: " + ToDisplayString(e.Value)
}

// NativeError wraps either an explicit host-function error return or
// an intercepted host panic. Both become catchable exceptions at the
// native-call boundary.
type NativeError struct {
	Message    string
	Cause      error
	FromPanic  bool
	PanicValue any
}

func (e *NativeError) Error() string {
	if e.FromPanic {
		return fmt.Sprintf("native panic: %v", e.PanicValue)
	}
	if e.Message == "" {
		return "native error"
	}
	return e.Message
}

func (e *NativeError) Unwrap() error { return e.Cause }

// TaskFailure reports that a Task terminated in the Failed state
// because an exception reached the bottom of its handler stack
// uncaught. Awaiters observe this value as the AWAIT error.
type TaskFailure struct {
	TaskID    uint64
	Exception Value
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("task %d failed: %s", e.TaskID, ToDisplayString(e.Exception))
}

// FatalError marks an invariant violation indicating the VM itself is
// inconsistent (corrupt header, allocator failure, scheduler
// bookkeeping violated). FatalError bypasses the exception machinery:
// it is never caught by a TRY handler, and is surfaced by panicking
// the owning worker, which the scheduler treats as unrecoverable.
type FatalError struct {
	Message string
	Cause   error
}

func (e *FatalError) Error() string {
	return "vm fatal: " + e.Message
}

func (e *FatalError) Unwrap() error { return e.Cause }

// WrapError wraps an error with a message and optional cause chain,
// preserving errors.Is/errors.As against the cause.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

// trapValue converts a TrapError into the Value pushed as
// current_exception, so traps and user THROWs are indistinguishable
// to the unwinder (per the propagation policy in the error handling
// design).
func trapValue(t *TrapError) Value {
	return NewHeapValue(newTrapObject(t))
}
