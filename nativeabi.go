package corevm

// NativeKind discriminates the variants a NativeValue may carry
// across the FFI boundary, mirroring the tag a real C ABI struct
// would carry inline.
type NativeKind uint8

const (
	NativeNull NativeKind = iota
	NativeBool
	NativeI32
	NativeF64
	NativeString
	NativeOpaque
	NativeError
)

// NativeValue is the Go-side shape of the native module ABI's
// `(const NativeValue*, usize) -> NativeValue` call signature: a
// tagged union a cgo bridge would marshal to/from a matching C
// struct. That marshaling is out of scope for this core; native
// functions here are ordinary Go funcs with this Go-native ABI
// shape, so the boundary's pinning/panic/ownership-transfer protocol
// can be demonstrated and tested without a real C toolchain.
type NativeValue struct {
	Kind NativeKind
	I32  int32
	F64  float64
	Str  string
	Ptr  any // NativeOpaque payload, or the error message/value for NativeError
}

// NativeFunc is a native module's exported function pointer:
// `(const NativeValue*, usize) -> NativeValue`, expressed as a Go
// slice-in, value-out call.
type NativeFunc func(args []NativeValue) NativeValue

// NativeFunctionEntry is one `{name, function_pointer}` pair from a
// NativeModuleDescriptor.
type NativeFunctionEntry struct {
	Name string
	Fn   NativeFunc
}

// NativeModuleDescriptor is what a native module's module_init export
// returns: identity plus its exported function table.
type NativeModuleDescriptor struct {
	Name      string
	Version   string
	Functions []NativeFunctionEntry
}

// NativeModuleRegistry is the write-once-at-init, read-many-at-runtime
// table of loaded native modules, matching the class/function/constant
// tables' lifecycle discipline.
type NativeModuleRegistry struct {
	modules map[string]*NativeModuleDescriptor
}

func NewNativeModuleRegistry() *NativeModuleRegistry {
	return &NativeModuleRegistry{modules: make(map[string]*NativeModuleDescriptor)}
}

// Register loads a native module, the Go-level analogue of invoking
// its module_init export.
func (r *NativeModuleRegistry) Register(desc *NativeModuleDescriptor) {
	r.modules[desc.Name] = desc
}

// Resolve looks up a function by "module.function" style qualified
// name, as the compiler would emit for an extern declaration.
func (r *NativeModuleRegistry) Resolve(module, function string) (NativeFunc, bool) {
	desc, ok := r.modules[module]
	if !ok {
		return nil, false
	}
	for _, fn := range desc.Functions {
		if fn.Name == function {
			return fn.Fn, true
		}
	}
	return nil, false
}

// Cleanup runs the Go-level analogue of every loaded module's
// module_cleanup export. This core defines no cleanup hook on
// NativeModuleDescriptor itself (out of scope per the ABI section),
// so Cleanup only drops the registry's references.
func (r *NativeModuleRegistry) Cleanup() {
	r.modules = make(map[string]*NativeModuleDescriptor)
}
