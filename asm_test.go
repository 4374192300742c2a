package corevm

import (
	"encoding/binary"
	"math"
)

// Minimal hand-assembly helpers for constructing bytecode in tests;
// there is no compiler in scope for this core, so integration tests
// build Function.Code directly the way a loader would after verifying
// a compiler's output.

func u16b(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func i16b(v int16) []byte { return u16b(uint16(v)) }

func i32b(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func f64b(v float64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func asm(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func op(o Opcode) []byte { return []byte{byte(o)} }

func opU16(o Opcode, v uint16) []byte { return asm(op(o), u16b(v)) }

func opI32(o Opcode, v int32) []byte { return asm(op(o), i32b(v)) }

func opTry(catchOff, finallyOff int32) []byte {
	return asm(op(OpTry), i32b(catchOff), i32b(finallyOff))
}

func opCall(o Opcode, funcIdx uint16, argCount byte) []byte {
	return asm(op(o), u16b(funcIdx), []byte{argCount})
}
