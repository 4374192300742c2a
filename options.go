// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package corevm

import (
	"runtime"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// vmOptions holds configuration resolved from Option values passed to
// NewVM.
type vmOptions struct {
	numWorkers        int
	gcObjectThreshold int
	logger            *vmLogger
	stealRetries      int
	natives           []*NativeModuleDescriptor
}

// Option configures a VM instance.
type Option interface {
	applyVM(*vmOptions) error
}

type optionImpl struct {
	applyVMFunc func(*vmOptions) error
}

func (o *optionImpl) applyVM(opts *vmOptions) error {
	return o.applyVMFunc(opts)
}

// WithWorkers sets the number of scheduler worker goroutines. Defaults
// to runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return &optionImpl{func(opts *vmOptions) error {
		if n > 0 {
			opts.numWorkers = n
		}
		return nil
	}}
}

// WithGCObjectThreshold sets the tracked heap object count (survivors
// of earlier cycles included) at or above which a Collect runs at the
// start of the next Task dispatch. A value of 0 disables automatic
// collection (the embedder must call VM.Collect explicitly).
func WithGCObjectThreshold(n int) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.gcObjectThreshold = n
		return nil
	}}
}

// WithStealRetries bounds how many peers a worker probes before
// parking when its own run queue and the global injector are both
// empty.
func WithStealRetries(n int) Option {
	return &optionImpl{func(opts *vmOptions) error {
		if n > 0 {
			opts.stealRetries = n
		}
		return nil
	}}
}

// WithNativeModule registers a native module's exported functions so
// a compiled Module's extern declarations can resolve funcIdx entries
// flagged Function.Native against it via VM.ResolveNative. Most embedders
// instead bind NativeFn directly on the Function the loader produces;
// this option exists for the qualified "module.function" resolution
// path a compiler front end would use.
func WithNativeModule(desc *NativeModuleDescriptor) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.natives = append(opts.natives, desc)
		return nil
	}}
}

// WithLogger attaches a logiface-backed logger bound to the given
// stumpy encoder options.
func WithLogger(stumpyOpts ...stumpy.Option) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.logger = newVMLogger(stumpyOpts)
		return nil
	}}
}

// WithLoggerLevel sets the minimum level the attached logger emits.
func WithLoggerLevel(level logiface.Level, stumpyOpts ...stumpy.Option) Option {
	return &optionImpl{func(opts *vmOptions) error {
		opts.logger = newVMLogger(stumpyOpts, stumpy.L.WithLevel(level))
		return nil
	}}
}

// resolveVMOptions applies Option instances over the documented
// defaults.
func resolveVMOptions(opts []Option) (*vmOptions, error) {
	cfg := &vmOptions{
		numWorkers:        runtime.GOMAXPROCS(0),
		gcObjectThreshold: 100_000,
		stealRetries:      4,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyVM(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = noopVMLogger()
	}
	return cfg, nil
}
