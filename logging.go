package corevm

import (
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// vmLogger wraps a logiface.Logger bound to stumpy's JSON event
// encoder, the single logger instance threaded through the
// scheduler, collector, and native-call boundary. Every call site is
// off the interpreter's hot path (opcode dispatch never logs); the
// only per-opcode cost is the GC safepoint, which does not log at
// all outside of phase transitions.
type vmLogger struct {
	log *logiface.Logger[*stumpy.Event]
}

// newVMLogger builds a default vmLogger writing newline-delimited
// JSON (via stumpy's low-allocation encoder) to stderr, or wherever
// the supplied stumpy options redirect it.
func newVMLogger(stumpyOpts []stumpy.Option, opts ...logiface.Option[*stumpy.Event]) *vmLogger {
	all := append([]logiface.Option[*stumpy.Event]{stumpy.L.WithStumpy(stumpyOpts...)}, opts...)
	return &vmLogger{log: stumpy.L.New(all...)}
}

// noopVMLogger returns a vmLogger that discards everything, used as
// the VM's default when the caller supplies no logger option.
func noopVMLogger() *vmLogger {
	return &vmLogger{log: stumpy.L.New(stumpy.L.WithStumpy(), stumpy.L.WithLevel(logiface.LevelDisabled))}
}

func (l *vmLogger) gcPhase(p GCPhase) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Debug().Str(`phase`, p.String()).Log(`gc phase transition`)
}

func (l *vmLogger) gcCycleDone(reclaimed int) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Info().Int(`reclaimed`, reclaimed).Log(`gc cycle complete`)
}

func (l *vmLogger) taskFailed(t *Task, exc Value) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Warning().
		Uint64(`task`, t.id).
		Str(`exception`, ToDisplayString(exc)).
		Log(`task failed with uncaught exception`)
}

func (l *vmLogger) nativePanic(fnName string, recovered any) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Err().
		Str(`function`, fnName).
		Interface(`recovered`, recovered).
		Log(`native function panicked`)
}

func (l *vmLogger) warnRateLimited(category string, message string) {
	if l == nil || l.log == nil {
		return
	}
	l.log.Warning().Str(`category`, category).Log(message)
}
