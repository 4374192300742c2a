package corevm

import "sync/atomic"

// objKind is an internal discriminant used only for diagnostics
// (TYPEOF switches on the Go type instead); the authoritative type is the Go concrete type behind the
// HeapObject interface.
type objKind uint8

const (
	objString objKind = iota
	objArray
	objInstance
	objClosure
	objTask
	objMutex
	objOpaqueHandle
	objTrap
	objTuple
)

// Header is embedded as the first field of every heap object. It
// carries the GC bookkeeping the data model requires of every heap
// object: a type discriminant, an atomic mark bit, an atomic pin
// count, and the payload size in bytes (best-effort, for metrics —
// Go's allocator does not expose exact sizes).
type Header struct {
	typeTag  objKind
	gcMark   atomic.Uint32 // 0 = white, 1 = reachable in current cycle
	pinCount atomic.Int32
	size     int
}

// Header implements HeapObject for types that embed Header directly
// (so &obj.Header == obj's own header without indirection); defined
// on *Header itself so embedding works transparently.
func (h *Header) Header() *Header { return h }

// Pin increments the pin count. Used by the native-call boundary's
// argument scope guard and by explicit long-lived host retention.
func (h *Header) Pin() { h.pinCount.Add(1) }

// Unpin decrements the pin count. Traps (as a VM fatal, since it
// indicates a native boundary bug) if it would go negative.
func (h *Header) Unpin() {
	if h.pinCount.Add(-1) < 0 {
		panic(&FatalError{Message: "pin count underflow"})
	}
}

// Pinned reports whether the object must survive the current and any
// future sweep.
func (h *Header) Pinned() bool { return h.pinCount.Load() > 0 }

func (h *Header) marked() bool     { return h.gcMark.Load() == 1 }
func (h *Header) setMarked(v bool) {
	if v {
		h.gcMark.Store(1)
	} else {
		h.gcMark.Store(0)
	}
}

func newHeader(kind objKind, size int) Header {
	return Header{typeTag: kind, size: size}
}

// StringObject is an immutable UTF-8 byte payload. Equality and
// ordering are lexicographic over bytes (delegated to Go string
// comparison, which is byte lexicographic).
type StringObject struct {
	Header
	data string
}

func newStringObject(s string) *StringObject {
	o := &StringObject{Header: newHeader(objString, len(s)), data: s}
	return o
}

func NewString(s string) Value { return NewHeapValue(newStringObject(s)) }

// ArrayObject holds a contiguous, fixed-length slot payload. New
// arrays initialize every slot to null per the data model.
type ArrayObject struct {
	Header
	ElemTypeIdx uint16
	Slots       []Value
}

// maxArrayLength is the data model's cap on array length.
const maxArrayLength = 10_000_000

func newArrayObject(length int, elemTypeIdx uint16) (*ArrayObject, error) {
	if length < 0 || length > maxArrayLength {
		return nil, &TrapError{Kind: TrapArrayTooLarge}
	}
	slots := make([]Value, length)
	for i := range slots {
		slots[i] = Null
	}
	o := &ArrayObject{
		Header:      newHeader(objArray, length*int(valueSize)),
		ElemTypeIdx: elemTypeIdx,
		Slots:       slots,
	}
	return o, nil
}

const valueSize = 32 // approximate size-in-bytes of a Value, for metrics only

// InstanceObject is bound to a class; fields are stored by absolute
// slot index, bounds-checked by the interpreter against the class's
// field count.
type InstanceObject struct {
	Header
	Class  *Class
	Fields []Value
}

func newInstanceObject(c *Class) *InstanceObject {
	fields := make([]Value, c.FieldCount)
	for i := range fields {
		fields[i] = Null
	}
	return &InstanceObject{
		Header: newHeader(objInstance, len(fields)*int(valueSize)),
		Class:  c,
		Fields: fields,
	}
}

// ClosureObject pairs a function id with captured upvalue slots; each
// captured slot aliases either a local cell or another closure's
// captured cell.
type ClosureObject struct {
	Header
	FuncIndex uint16
	Captured  []*Value
}

func newClosureObject(funcIndex uint16, captured []*Value) *ClosureObject {
	return &ClosureObject{
		Header:    newHeader(objClosure, len(captured)*8),
		FuncIndex: funcIndex,
		Captured:  captured,
	}
}

// OpaqueHandleObject represents a host-supplied object crossing the
// native boundary by pointer identity. Its destructor runs on sweep.
type OpaqueHandleObject struct {
	Header
	Ptr     any
	Destroy func(any)
}

func NewOpaqueHandle(ptr any, destroy func(any)) Value {
	return NewHeapValue(&OpaqueHandleObject{
		Header:  newHeader(objOpaqueHandle, 0),
		Ptr:     ptr,
		Destroy: destroy,
	})
}

func (o *OpaqueHandleObject) destroy() {
	if o.Destroy != nil {
		o.Destroy(o.Ptr)
	}
}

// trapObject lets a TrapError travel as a Value through THROW's
// unwinder path, identically to a user exception.
type trapObject struct {
	Header
	trap *TrapError
}

func newTrapObject(t *TrapError) *trapObject {
	return &trapObject{Header: newHeader(objTrap, 0), trap: t}
}

func (o *trapObject) Error() string { return o.trap.Error() }
