package corevm

// nativeErrObject lets a *NativeError travel as a Value through the
// exception unwinder, exactly like trapObject does for *TrapError —
// native errors and host panics become catchable exceptions
// identically per the propagation policy.
type nativeErrObject struct {
	Header
	err *NativeError
}

func newNativeErrObject(e *NativeError) *nativeErrObject {
	return &nativeErrObject{Header: newHeader(objTrap, 0), err: e}
}

func (o *nativeErrObject) Error() string { return o.err.Error() }

func nativeErrorValue(e *NativeError) Value {
	return NewHeapValue(newNativeErrObject(e))
}

// valueToNative converts a Value to the ABI shape a native function
// receives. Heap variants other than strings cross as NativeOpaque,
// carrying the Go HeapObject itself as Ptr — sufficient for a native
// function written in Go to type-assert back to its concrete type;
// a real cgo bridge would instead marshal through an opaque pointer
// and a registered destructor.
func valueToNative(v Value) NativeValue {
	switch {
	case v.IsNull():
		return NativeValue{Kind: NativeNull}
	case v.IsBool():
		i := int32(0)
		if v.AsBool() {
			i = 1
		}
		return NativeValue{Kind: NativeI32, I32: i}
	case v.IsI32():
		return NativeValue{Kind: NativeI32, I32: v.AsI32()}
	case v.IsF64():
		return NativeValue{Kind: NativeF64, F64: v.AsF64()}
	case v.IsHeap():
		if s, ok := v.heap.(*StringObject); ok {
			return NativeValue{Kind: NativeString, Str: s.data}
		}
		return NativeValue{Kind: NativeOpaque, Ptr: v.heap}
	default:
		return NativeValue{Kind: NativeNull}
	}
}

// nativeToValue converts a native function's return value back into
// a VM Value, registering any newly allocated heap payload with heap
// so it participates in GC like any other object — this is the "the
// returned NativeValue is taken by the VM as sole owner" step of the
// invocation protocol.
func nativeToValue(heap *Heap, nv NativeValue) Value {
	switch nv.Kind {
	case NativeNull:
		return Null
	case NativeI32:
		return NewI32(nv.I32)
	case NativeF64:
		return NewF64(nv.F64)
	case NativeString:
		return heap.Allocate(newStringObject(nv.Str))
	case NativeOpaque:
		if h, ok := nv.Ptr.(HeapObject); ok {
			return NewHeapValue(h)
		}
		return heap.Allocate(&OpaqueHandleObject{Header: newHeader(objOpaqueHandle, 0), Ptr: nv.Ptr})
	default:
		return Null
	}
}

// invokeNative implements the C8 invocation protocol for CALL,
// CALL_METHOD, and SPAWN targeting a Function with Native set: pin
// every argument for the duration of the call (released on every
// exit path via the deferred scope guard, including an intercepted
// host panic), invoke the function's C-ABI-shaped NativeFn, and
// convert its result back into VM terms.
func (vm *VM) invokeNative(fn *Function, args []Value) (result Value, callErr error) {
	for _, a := range args {
		if a.IsHeap() {
			a.heap.Header().Pin()
		}
	}
	defer func() {
		for _, a := range args {
			if a.IsHeap() {
				a.heap.Header().Unpin()
			}
		}
		if r := recover(); r != nil {
			if vm.logger != nil {
				vm.logger.nativePanic(fn.Name, r)
			}
			callErr = &NativeError{Message: "native function panicked", FromPanic: true, PanicValue: r}
		}
	}()

	nativeArgs := make([]NativeValue, len(args))
	for i, a := range args {
		nativeArgs[i] = valueToNative(a)
	}

	ret := fn.NativeFn(nativeArgs)
	if ret.Kind == NativeError {
		msg, _ := ret.Ptr.(string)
		if msg == "" {
			msg = "native function returned an error"
		}
		return Value{}, &NativeError{Message: msg}
	}
	return nativeToValue(vm.heap, ret), nil
}
