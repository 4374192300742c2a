package corevm

import (
	"encoding/binary"
	"math"
)

// execOutcome reports why RunTask returned control to the scheduler.
type execOutcome int

const (
	execCompleted execOutcome = iota
	execFailed
	execSuspended // Task is blocked (AWAIT/MUTEX_LOCK); something else will re-enqueue it
	execYielded   // Task should be re-enqueued immediately (YIELD or quantum expiry)
)

// quantumOpcodes is the number of opcodes a Task runs before YIELDing
// the worker cooperatively even without an explicit YIELD, so a
// CPU-bound Task cannot starve its worker's other ready Tasks. This
// is purely a scheduling fairness knob, not part of the bytecode
// semantics; safepoints (GC phase observation) happen every opcode
// regardless.
const quantumOpcodes = 4096

func readU16(code []byte, ip int) uint16 { return binary.LittleEndian.Uint16(code[ip:]) }
func readI16(code []byte, ip int) int16  { return int16(readU16(code, ip)) }
func readI32(code []byte, ip int) int32  { return int32(binary.LittleEndian.Uint32(code[ip:])) }
func readF64(code []byte, ip int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(code[ip:]))
}

// RunTask drives t's interpreter loop until it completes, fails,
// suspends, or yields. The scheduler calls this once per dispatch;
// this is the "resume with the Task's saved instruction pointer"
// re-entry point Task migration relies on.
func (vm *VM) RunTask(t *Task) execOutcome {
	t.setState(TaskRunning)
	vm.maybeCollect()
	steps := 0

	for {
		steps++
		if steps > quantumOpcodes {
			return execYielded
		}

		frame := t.frames.top()
		if frame == nil {
			// All frames have returned without step's RETURN handling
			// settling the Task; treat as completion with null,
			// defensively.
			t.complete(Null)
			return execCompleted
		}
		if frame.function != nil && frame.function.Native {
			// enterOpcode/exitOpcode is the stop-the-world safepoint:
			// it blocks here while a collection is in progress, and
			// once entered guarantees Collect will wait for this
			// native frame (which also touches t.frames/t.operands)
			// to finish before marking.
			vm.heap.enterOpcode()
			outcome := vm.runNativeFrame(t, frame)
			vm.heap.exitOpcode()
			return outcome
		}
		code := frame.instructions
		if t.ip < 0 || t.ip >= len(code) {
			if vm.failTrap(t, &TrapError{Kind: TrapOutOfBounds, TaskID: t.id, Offset: t.ip}) == unwindTaskFailed {
				return execFailed
			}
			continue
		}

		op := Opcode(code[t.ip])
		opStart := t.ip
		t.ip++

		vm.heap.enterOpcode() // safepoint: blocks here for the duration of a collection
		outcome, done := vm.step(t, frame, op, opStart)
		vm.heap.exitOpcode()
		if done {
			return outcome
		}
	}
}

// step decodes and executes a single opcode. done is true when
// RunTask should return outcome to its caller; false means keep
// looping.
func (vm *VM) step(t *Task, frame *callFrame, op Opcode, opStart int) (execOutcome, bool) {
	code := frame.instructions

	trap := func(k TrapKind) (execOutcome, bool) {
		if vm.failTrap(t, &TrapError{Kind: k, Opcode: op, TaskID: t.id, Offset: opStart}) == unwindTaskFailed {
			return execFailed, true
		}
		return execCompleted, false
	}

	switch op {
	case OpNop:

	case OpPop:
		if _, err := t.operands.pop(); err != nil {
			return trap(TrapStackUnderflow)
		}

	case OpDup:
		v, err := t.operands.peek(0)
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(v); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpSwap:
		a, err1 := t.operands.pop()
		b, err2 := t.operands.pop()
		if err1 != nil || err2 != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(a); err != nil {
			return trap(TrapStackOverflow)
		}
		if err := t.operands.push(b); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpConstNull:
		if err := t.operands.push(Null); err != nil {
			return trap(TrapStackOverflow)
		}
	case OpConstTrue:
		if err := t.operands.push(NewBool(true)); err != nil {
			return trap(TrapStackOverflow)
		}
	case OpConstFalse:
		if err := t.operands.push(NewBool(false)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpConstI32:
		v := readI32(code, t.ip)
		t.ip += 4
		if err := t.operands.push(NewI32(v)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpConstF64:
		v := readF64(code, t.ip)
		t.ip += 8
		if err := t.operands.push(NewF64(v)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpConstStr, OpLoadConst:
		idx := readU16(code, t.ip)
		t.ip += 2
		v, ok := vm.constants.Get(idx)
		if !ok {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(v); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpLoadLocal:
		idx := readU16(code, t.ip)
		t.ip += 2
		if int(idx) >= len(frame.locals) {
			return trap(TrapInvalidLocalIndex)
		}
		if err := t.operands.push(frame.locals[idx]); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpStoreLocal:
		idx := readU16(code, t.ip)
		t.ip += 2
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if int(idx) >= len(frame.locals) {
			return trap(TrapInvalidLocalIndex)
		}
		frame.locals[idx] = v

	case OpLoadLocal0:
		if len(frame.locals) < 1 {
			return trap(TrapInvalidLocalIndex)
		}
		if err := t.operands.push(frame.locals[0]); err != nil {
			return trap(TrapStackOverflow)
		}
	case OpLoadLocal1:
		if len(frame.locals) < 2 {
			return trap(TrapInvalidLocalIndex)
		}
		if err := t.operands.push(frame.locals[1]); err != nil {
			return trap(TrapStackOverflow)
		}
	case OpStoreLocal0, OpStoreLocal1:
		idx := 0
		if op == OpStoreLocal1 {
			idx = 1
		}
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if idx >= len(frame.locals) {
			return trap(TrapInvalidLocalIndex)
		}
		frame.locals[idx] = v

	case OpIAdd, OpISub, OpIMul, OpIDiv, OpIMod:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil || !a.IsI32() || !b.IsI32() {
			return trap(TrapInvalidArgument)
		}
		if (op == OpIDiv || op == OpIMod) && b.AsI32() == 0 {
			return trap(TrapIntegerDivideByZero)
		}
		var r int32
		switch op {
		case OpIAdd:
			r = a.AsI32() + b.AsI32()
		case OpISub:
			r = a.AsI32() - b.AsI32()
		case OpIMul:
			r = a.AsI32() * b.AsI32()
		case OpIDiv:
			r = a.AsI32() / b.AsI32()
		case OpIMod:
			r = a.AsI32() % b.AsI32()
		}
		if err := t.operands.push(NewI32(r)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpINeg:
		a, err := t.operands.pop()
		if err != nil || !a.IsI32() {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(NewI32(-a.AsI32())); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpFAdd, OpFSub, OpFMul, OpFDiv:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil || !a.IsF64() || !b.IsF64() {
			return trap(TrapInvalidArgument)
		}
		var r float64
		switch op {
		case OpFAdd:
			r = a.AsF64() + b.AsF64()
		case OpFSub:
			r = a.AsF64() - b.AsF64()
		case OpFMul:
			r = a.AsF64() * b.AsF64()
		case OpFDiv:
			r = a.AsF64() / b.AsF64() // IEEE-754 inf/NaN on zero, per spec
		}
		if err := t.operands.push(NewF64(r)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpFNeg:
		a, err := t.operands.pop()
		if err != nil || !a.IsF64() {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(NewF64(-a.AsF64())); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpICmpEq, OpICmpNe, OpICmpLt, OpICmpLe, OpICmpGt, OpICmpGe:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil || !a.IsI32() || !b.IsI32() {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(NewBool(intCompare(op, a.AsI32(), b.AsI32()))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpFCmpEq, OpFCmpNe, OpFCmpLt, OpFCmpLe, OpFCmpGt, OpFCmpGe:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil || !a.IsF64() || !b.IsF64() {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(NewBool(floatCompare(op, a.AsF64(), b.AsF64()))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpEq, OpNe:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil {
			return trap(TrapStackUnderflow)
		}
		eq := a.Equals(b)
		if op == OpNe {
			eq = !eq
		}
		if err := t.operands.push(NewBool(eq)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpStrictEq:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(NewBool(a.StrictEquals(b))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpJmp:
		off := int(readI16(code, t.ip))
		next := t.ip + 2
		t.ip = next + off

	case OpJmpIfTrue, OpJmpIfFalse:
		off := int(readI16(code, t.ip))
		next := t.ip + 2
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		cond := v.IsBool() && v.AsBool()
		if op == OpJmpIfFalse {
			cond = !cond
		}
		if cond {
			t.ip = next + off
		} else {
			t.ip = next
		}

	case OpCall:
		funcIdx := readU16(code, t.ip)
		argCount := int(code[t.ip+2])
		t.ip += 3
		outcome, early, ok := vm.invoke(t, frame, funcIdx, argCount, -1)
		if !ok {
			return trap(TrapInvalidArgument)
		}
		if early {
			return outcome, true
		}

	case OpCallMethod:
		methodIdx := readU16(code, t.ip)
		argCount := int(code[t.ip+2])
		t.ip += 3
		recv, err := t.operands.peek(argCount)
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		inst, ok := recv.heap.(*InstanceObject)
		if !ok || inst == nil {
			return trap(TrapNullDeref)
		}
		funcIdx, ok := inst.Class.ResolveMethod(int(methodIdx))
		if !ok {
			return trap(TrapInvalidArgument)
		}
		outcome, early, ok := vm.invoke(t, frame, funcIdx, argCount, argCount)
		if !ok {
			return trap(TrapInvalidArgument)
		}
		if early {
			return outcome, true
		}

	case OpReturn, OpReturnVoid:
		var v Value
		if op == OpReturn {
			var err error
			v, err = t.operands.pop()
			if err != nil {
				return trap(TrapStackUnderflow)
			}
		}
		t.operands.truncateTo(frame.stackBase)
		t.frames.pop()
		if t.frames.frameCount() == 0 {
			t.complete(v)
			return execCompleted, true
		}
		if err := t.operands.push(v); err != nil {
			return trap(TrapStackOverflow)
		}
		t.ip = frame.returnIP

	case OpNew:
		classIdx := readU16(code, t.ip)
		t.ip += 2
		cls, ok := vm.classes.Resolve(classIdx)
		if !ok {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(vm.heap.Allocate(newInstanceObject(cls))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpLoadField, OpLoadFieldFast:
		var idx int
		if op == OpLoadField {
			idx = int(readU16(code, t.ip))
			t.ip += 2
		} else {
			idx = int(code[t.ip])
			t.ip++
		}
		recv, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		inst, ok := recv.heap.(*InstanceObject)
		if !ok || inst == nil {
			return trap(TrapNullDeref)
		}
		if idx < 0 || idx >= len(inst.Fields) {
			return trap(TrapInvalidFieldIndex)
		}
		if err := t.operands.push(inst.Fields[idx]); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpStoreField, OpStoreFieldFast:
		var idx int
		if op == OpStoreField {
			idx = int(readU16(code, t.ip))
			t.ip += 2
		} else {
			idx = int(code[t.ip])
			t.ip++
		}
		val, err1 := t.operands.pop()
		recv, err2 := t.operands.pop()
		if err1 != nil || err2 != nil {
			return trap(TrapStackUnderflow)
		}
		inst, ok := recv.heap.(*InstanceObject)
		if !ok || inst == nil {
			return trap(TrapNullDeref)
		}
		if idx < 0 || idx >= len(inst.Fields) {
			return trap(TrapInvalidFieldIndex)
		}
		inst.Fields[idx] = val

	case OpNewArray:
		typeIdx := readU16(code, t.ip)
		t.ip += 2
		lenV, err := t.operands.pop()
		if err != nil || !lenV.IsI32() {
			return trap(TrapInvalidArgument)
		}
		arr, aerr := newArrayObject(int(lenV.AsI32()), typeIdx)
		if aerr != nil {
			if vm.failTrap(t, aerr.(*TrapError)) == unwindTaskFailed {
				return execFailed, true
			}
			break
		}
		if err := t.operands.push(vm.heap.Allocate(arr)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpLoadElem:
		idxV, err1 := t.operands.pop()
		arrV, err2 := t.operands.pop()
		if err1 != nil || err2 != nil || !idxV.IsI32() {
			return trap(TrapInvalidArgument)
		}
		arr, ok := arrV.heap.(*ArrayObject)
		if !ok || arr == nil {
			return trap(TrapNullDeref)
		}
		i := int(idxV.AsI32())
		if i < 0 || i >= len(arr.Slots) {
			return trap(TrapOutOfBounds)
		}
		if err := t.operands.push(arr.Slots[i]); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpStoreElem:
		val, err1 := t.operands.pop()
		idxV, err2 := t.operands.pop()
		arrV, err3 := t.operands.pop()
		if err1 != nil || err2 != nil || err3 != nil || !idxV.IsI32() {
			return trap(TrapInvalidArgument)
		}
		arr, ok := arrV.heap.(*ArrayObject)
		if !ok || arr == nil {
			return trap(TrapNullDeref)
		}
		i := int(idxV.AsI32())
		if i < 0 || i >= len(arr.Slots) {
			return trap(TrapOutOfBounds)
		}
		arr.Slots[i] = val

	case OpArrayLen:
		arrV, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		arr, ok := arrV.heap.(*ArrayObject)
		if !ok || arr == nil {
			return trap(TrapNullDeref)
		}
		if err := t.operands.push(NewI32(int32(len(arr.Slots)))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpSpawn:
		funcIdx := readU16(code, t.ip)
		argCount := int(code[t.ip+2])
		t.ip += 3
		args, ok := t.operands.popN(argCount)
		if !ok {
			return trap(TrapStackUnderflow)
		}
		fn, ok := vm.functions.Get(funcIdx)
		if !ok {
			return trap(TrapInvalidArgument)
		}
		child := vm.scheduler.Spawn(fn, args)
		if err := t.operands.push(child.handleValue()); err != nil {
			return trap(TrapStackOverflow)
		}
		// A Native fn's root frame carries no bytecode; RunTask detects
		// this on the child's first dispatch and routes through
		// runNativeFrame instead of decoding an instruction stream.

	case OpAwait:
		hv, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		th, ok := hv.heap.(*taskHandle)
		if !ok || th == nil {
			return trap(TrapInvalidArgument)
		}
		live, isLive := th.resolve()
		if !isLive {
			rec, settled := th.settled()
			if !settled {
				return trap(TrapInvalidArgument)
			}
			switch rec.state {
			case TaskCompleted:
				if err := t.operands.push(rec.result); err != nil {
					return trap(TrapStackOverflow)
				}
			case TaskFailed:
				exc := Null
				if tf, ok := rec.failure.(*TaskFailure); ok {
					exc = tf.Exception
				}
				if vm.raise(t, exc) == unwindTaskFailed {
					return execFailed, true
				}
			}
			break
		}
		ch, stillPending := live.addWaiter()
		if !stillPending {
			// settled between resolve and addWaiter
			if err := t.operands.push(hv); err != nil {
				return trap(TrapStackOverflow)
			}
			t.ip = opStart
			return execYielded, false
		}
		// Resume at opStart (AWAIT itself), not past it: the handle is
		// pushed back so the re-executed AWAIT pops it again, and this
		// time th.resolve reports settled and takes the fast path
		// above, pushing the actual result/exception instead of the
		// handle — the same pattern the stillPending-false race above
		// uses.
		t.ip = opStart
		if err := t.operands.push(hv); err != nil {
			return trap(TrapStackOverflow)
		}
		t.setState(TaskSuspended)
		vm.scheduler.awaitCompletion(t, ch)
		return execSuspended, true

	case OpYield:
		return execYielded, true

	case OpNewMutex:
		if err := t.operands.push(vm.mutexes.New(vm.heap)); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpMutexLock:
		mv, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		m, ok := mv.heap.(*MutexObject)
		if !ok || m == nil {
			return trap(TrapInvalidArgument)
		}
		acquired, woken := vm.mutexes.TryLock(m.id, t)
		if acquired {
			break
		}
		// Unlock hands ownership straight to the waiter, so the Task
		// resumes past this opcode already holding the mutex.
		t.setState(TaskSuspended)
		vm.scheduler.awaitMutex(t, woken)
		return execSuspended, true

	case OpMutexUnlock:
		mv, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		m, ok := mv.heap.(*MutexObject)
		if !ok || m == nil {
			return trap(TrapInvalidArgument)
		}
		if uerr := vm.mutexes.Unlock(m.id, t); uerr != nil {
			if vm.failTrap(t, uerr.(*TrapError)) == unwindTaskFailed {
				return execFailed, true
			}
		}

	case OpTypeOf:
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(NewString(v.TypeOf())); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpToString:
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(vm.heap.Allocate(newStringObject(ToDisplayString(v)))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpSConcat:
		b, err1 := t.operands.pop()
		a, err2 := t.operands.pop()
		if err1 != nil || err2 != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(vm.heap.Allocate(newStringObject(a.AsString() + b.AsString()))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpSLen:
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if err := t.operands.push(NewI32(int32(len(v.AsString())))); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpStoreGlobal:
		idx := readU16(code, t.ip)
		t.ip += 2
		v, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if !vm.globals.Store(idx, v) {
			return trap(TrapInvalidArgument)
		}

	case OpLoadGlobal:
		idx := readU16(code, t.ip)
		t.ip += 2
		v, ok := vm.globals.Load(idx)
		if !ok {
			return trap(TrapInvalidArgument)
		}
		if err := t.operands.push(v); err != nil {
			return trap(TrapStackOverflow)
		}

	case OpTry:
		catchOff := int(readI32(code, t.ip))
		finallyOff := int(readI32(code, t.ip+4))
		t.ip += 8
		t.pushHandler(catchOff, finallyOff)

	case OpEndTry:
		if vm.endTry(t) == unwindTaskFailed {
			return execFailed, true
		}

	case OpThrow:
		exc, err := t.operands.pop()
		if err != nil {
			return trap(TrapStackUnderflow)
		}
		if vm.raise(t, exc) == unwindTaskFailed {
			return execFailed, true
		}

	case OpRethrow:
		outcome, rerr := vm.rethrow(t)
		if rerr != nil {
			if vm.failTrap(t, rerr.(*TrapError)) == unwindTaskFailed {
				return execFailed, true
			}
			break
		}
		if outcome == unwindTaskFailed {
			return execFailed, true
		}

	default:
		return trap(TrapInvalidArgument)
	}

	return execCompleted, false
}

func intCompare(op Opcode, a, b int32) bool {
	switch op {
	case OpICmpEq:
		return a == b
	case OpICmpNe:
		return a != b
	case OpICmpLt:
		return a < b
	case OpICmpLe:
		return a <= b
	case OpICmpGt:
		return a > b
	case OpICmpGe:
		return a >= b
	}
	return false
}

func floatCompare(op Opcode, a, b float64) bool {
	switch op {
	case OpFCmpEq:
		return a == b
	case OpFCmpNe:
		return a != b
	case OpFCmpLt:
		return a < b
	case OpFCmpLe:
		return a <= b
	case OpFCmpGt:
		return a > b
	case OpFCmpGe:
		return a >= b
	}
	return false
}

// invoke implements the shared CALL/CALL_METHOD dispatch protocol.
// receiverArgCount is the CALL_METHOD argCount (receiver stays on the
// stack, argCount excludes it) or -1 for a plain CALL.
//
// ok is false when funcIdx doesn't resolve or the operand stack
// underflows — the caller traps. Otherwise, early reports whether
// step should return (outcome, true) immediately, which happens when
// an exception raised here (a native callee's panic or error, or a
// stack-overflow trap while pushing the frame or result) is caught by
// no handler — the same unwindTaskFailed case THROW itself returns
// early for.
func (vm *VM) invoke(t *Task, caller *callFrame, funcIdx uint16, argCount int, receiverArgCount int) (outcome execOutcome, early bool, ok bool) {
	fn, found := vm.functions.Get(funcIdx)
	if !found {
		return 0, false, false
	}
	total := argCount
	if receiverArgCount >= 0 {
		total = argCount + 1
	}
	args, popped := t.operands.popN(total)
	if !popped {
		return 0, false, false
	}

	if fn.Native {
		result, callErr := vm.invokeNative(fn, args)
		if callErr != nil {
			nerr, isNative := callErr.(*NativeError)
			if !isNative {
				nerr = &NativeError{Message: callErr.Error()}
			}
			if vm.raise(t, nativeErrorValue(nerr)) == unwindTaskFailed {
				return execFailed, true, true
			}
			return execCompleted, false, true
		}
		if err := t.operands.push(result); err != nil {
			if vm.failTrap(t, err.(*TrapError)) == unwindTaskFailed {
				return execFailed, true, true
			}
			return execCompleted, false, true
		}
		return execCompleted, false, true
	}

	locals := make([]Value, fn.NumLocals)
	copy(locals, args)
	for i := len(args); i < len(locals); i++ {
		locals[i] = Null
	}
	newFrame := &callFrame{
		funcIndex:    funcIdx,
		returnIP:     t.ip,
		stackBase:    t.operands.depth(),
		locals:       locals,
		instructions: fn.Code,
		function:     fn,
	}
	if err := t.frames.push(newFrame); err != nil {
		if vm.failTrap(t, err.(*TrapError)) == unwindTaskFailed {
			return execFailed, true, true
		}
		return execCompleted, false, true
	}
	t.ip = 0
	return execCompleted, false, true
}

// runNativeFrame executes a Native Function's body in one step: this
// is the path a spawned Task whose entry function is Native takes,
// since its root frame carries no bytecode at all to decode. CALL and
// CALL_METHOD never push a native frame (invoke calls vm.invokeNative
// directly instead); this path exists for SPAWN, whose entry function
// becomes the new Task's root frame before vm.invoke ever runs.
func (vm *VM) runNativeFrame(t *Task, frame *callFrame) execOutcome {
	args := frame.locals
	if n := frame.function.NumParams; n >= 0 && n <= len(args) {
		args = args[:n]
	}
	result, callErr := vm.invokeNative(frame.function, args)
	if callErr != nil {
		nerr, isNative := callErr.(*NativeError)
		if !isNative {
			nerr = &NativeError{Message: callErr.Error()}
		}
		t.fail(nativeErrorValue(nerr))
		return execFailed
	}
	t.frames.pop()
	if t.frames.frameCount() == 0 {
		t.complete(result)
		return execCompleted
	}
	if err := t.operands.push(result); err != nil {
		if vm.failTrap(t, err.(*TrapError)) == unwindTaskFailed {
			return execFailed
		}
		return execCompleted
	}
	t.ip = frame.returnIP
	return execCompleted
}

// failTrap converts a TrapError into the Value the unwinder consumes,
// treating traps and user exceptions identically per the propagation
// policy: a handler installed by an enclosing TRY can catch a trap
// exactly as it would an explicit THROW, in which case the Task keeps
// running at the handler's catch/finally offset instead of failing.
func (vm *VM) failTrap(t *Task, trap *TrapError) unwindOutcome {
	return vm.raise(t, trapValue(trap))
}

// popN pops n values off the operand stack in original (bottom-to-top)
// order, as CALL/SPAWN argument lists require.
func (s *operandStack) popN(n int) ([]Value, bool) {
	if n < 0 || len(s.slots) < n {
		return nil, false
	}
	start := len(s.slots) - n
	out := make([]Value, n)
	copy(out, s.slots[start:])
	for i := start; i < len(s.slots); i++ {
		s.slots[i] = Value{}
	}
	s.slots = s.slots[:start]
	return out, true
}
