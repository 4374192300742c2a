package corevm

import (
	"sync"
)

// RootProvider is implemented by the scheduler: the GC needs to walk
// every live Task's roots (operand stack, call-frame locals, captured
// closure slots, current exception, and any native-call argument list
// in flight) without depending on the scheduler package directly — in
// this single-package layout that's a style choice, not a necessity,
// but keeping the interface narrow documents exactly what the
// collector requires from "the rest of the VM".
type RootProvider interface {
	LiveTasks() []*Task
}

// Heap owns every object ever allocated through it and the global GC
// phase observed by allocators at safepoints. It implements a classic
// non-moving mark-sweep collector: pinned objects (pin_count > 0)
// always survive sweep regardless of reachability.
type Heap struct {
	phase *fastState

	mu       sync.Mutex
	objects  []HeapObject
	inFlight int // opcodes/native frames currently executing across all workers

	cond *sync.Cond

	log *vmLogger
}

func NewHeap(log *vmLogger) *Heap {
	h := &Heap{phase: newFastState(uint32(GCIdle)), log: log}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *Heap) Phase() GCPhase { return GCPhase(h.phase.load()) }

// enterOpcode is the safepoint every worker passes through before
// executing one opcode (or one native-frame call) on behalf of a
// Task. It blocks while a collection is in progress and, once it
// returns, has registered that worker as "in flight" so Collect knows
// to wait for it before reading any Task's roots. Pairs with
// exitOpcode, which must run (via defer or an unconditional call)
// once that single opcode/frame finishes, regardless of outcome.
func (h *Heap) enterOpcode() {
	h.mu.Lock()
	for h.Phase() != GCIdle {
		h.cond.Wait()
	}
	h.inFlight++
	h.mu.Unlock()
}

// exitOpcode ends the in-flight region started by enterOpcode, waking
// a Collect call that is waiting for every worker to drain.
func (h *Heap) exitOpcode() {
	h.mu.Lock()
	h.inFlight--
	if h.inFlight == 0 {
		h.cond.Broadcast()
	}
	h.mu.Unlock()
}

// register records a freshly allocated object so a future sweep can
// find it. Called by Allocate, which every allocating site in the
// interpreter goes through. Allocation only ever happens from within an
// enterOpcode/exitOpcode region, so the phase is already known Idle
// here and no further synchronization is needed.
func (h *Heap) register(obj HeapObject) {
	h.mu.Lock()
	h.objects = append(h.objects, obj)
	h.mu.Unlock()
}

// Allocate is the single entry point the interpreter's allocating
// opcodes (NEW, NEW_ARRAY, SCONCAT, closure creation, string
// materialization) route through.
func (h *Heap) Allocate(obj HeapObject) Value {
	h.register(obj)
	return NewHeapValue(obj)
}

// ObjectCount reports the number of objects currently tracked by the
// heap (live plus not-yet-swept garbage); exposed for metrics only.
func (h *Heap) ObjectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// Collect runs one full mark-sweep cycle against the Tasks known to
// roots. It performs a real stop-the-world handshake before marking:
// flipping the phase to Marking blocks every worker's enterOpcode
// call from starting a new opcode, but a worker that already passed
// that check may still be mid-opcode (mutating its Task's operand and
// frame stacks) the instant the phase flips. Collect waits for
// inFlight to drain to zero — every such in-progress opcode to call
// exitOpcode — before touching any Task's roots, so mark never reads
// a stack a worker is concurrently writing.
func (h *Heap) Collect(roots RootProvider) int {
	h.mu.Lock()
	// Overlapping calls run one after another: a second cycle starting
	// mid-mark would see the first one reset the phase to Idle early.
	for h.Phase() != GCIdle {
		h.cond.Wait()
	}
	h.phase.store(uint32(GCMarking))
	for h.inFlight > 0 {
		h.cond.Wait()
	}
	h.mu.Unlock()
	if h.log != nil {
		h.log.gcPhase(GCMarking)
	}

	marked := h.mark(roots)

	h.phase.store(uint32(GCSweeping))
	if h.log != nil {
		h.log.gcPhase(GCSweeping)
	}

	reclaimed := h.sweep(marked)

	h.mu.Lock()
	h.phase.store(uint32(GCIdle))
	h.cond.Broadcast()
	h.mu.Unlock()

	if h.log != nil {
		h.log.gcCycleDone(reclaimed)
	}
	return reclaimed
}

// mark performs reachability analysis from every live Task's roots,
// returning the set of objects that survive.
func (h *Heap) mark(roots RootProvider) map[HeapObject]struct{} {
	marked := make(map[HeapObject]struct{})
	var worklist []HeapObject

	push := func(v Value) {
		if v.tag != TagHeap || v.heap == nil {
			return
		}
		if _, ok := marked[v.heap]; ok {
			return
		}
		marked[v.heap] = struct{}{}
		worklist = append(worklist, v.heap)
	}

	for _, t := range roots.LiveTasks() {
		t.collectRoots(push)
	}

	for len(worklist) > 0 {
		obj := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		switch o := obj.(type) {
		case *ArrayObject:
			for _, slot := range o.Slots {
				push(slot)
			}
		case *InstanceObject:
			for _, f := range o.Fields {
				push(f)
			}
		case *ClosureObject:
			for _, cell := range o.Captured {
				if cell != nil {
					push(*cell)
				}
			}
		case *taskHandle:
			if live, ok := o.resolve(); ok {
				live.collectRoots(push)
			} else if v, ok := o.handles.rootValue(o.id); ok {
				push(v)
			}
		}
	}

	for obj := range marked {
		obj.Header().setMarked(true)
	}
	return marked
}

// sweep collects every tracked object that is neither marked nor
// pinned, running destructors for opaque handles, and clears the mark
// bit on survivors for the next cycle.
func (h *Heap) sweep(marked map[HeapObject]struct{}) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.objects[:0]
	reclaimed := 0
	for _, obj := range h.objects {
		hdr := obj.Header()
		_, isMarked := marked[obj]
		if !isMarked && !hdr.Pinned() {
			if oh, ok := obj.(*OpaqueHandleObject); ok {
				oh.destroy()
			}
			reclaimed++
			continue
		}
		hdr.setMarked(false)
		kept = append(kept, obj)
	}
	h.objects = kept
	return reclaimed
}
