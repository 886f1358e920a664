// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package core

import (
	"context"
	"sync/atomic"

	"github.com/samber/oops"
)

type mainThreadKey struct{}

// WithMainThread marks ctx as running on the main loop.
func WithMainThread(ctx context.Context) context.Context {
	return context.WithValue(ctx, mainThreadKey{}, true)
}

// OnMainThread reports whether ctx was marked by the main loop.
func OnMainThread(ctx context.Context) bool {
	v, ok := ctx.Value(mainThreadKey{}).(bool)
	return ok && v
}

// AssertMainThread returns a NOT_MAIN_THREAD error when ctx is not running
// on the main loop. Live game state may only be touched from there.
func AssertMainThread(ctx context.Context, operation string) error {
	if OnMainThread(ctx) {
		return nil
	}
	return oops.In("core").
		Code("NOT_MAIN_THREAD").
		With("operation", operation).
		Errorf("%s must run on the main thread", operation)
}

// Loop is the single logical main thread. Work posted to it runs one task at
// a time, in order, with a context marked by WithMainThread.
type Loop struct {
	tasks   chan func(context.Context)
	stopped chan struct{}
	running atomic.Bool
}

// NewLoop creates a loop whose queue holds up to buffer pending tasks.
func NewLoop(buffer int) *Loop {
	return &Loop{
		tasks:   make(chan func(context.Context), buffer),
		stopped: make(chan struct{}),
	}
}

// Run executes queued tasks until ctx is cancelled. It may be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return oops.In("core").Code("LOOP_RUNNING").Errorf("main loop already running")
	}
	defer close(l.stopped)

	mainCtx := WithMainThread(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-l.tasks:
			task(mainCtx)
		}
	}
}

// Post queues fn without waiting for it. It returns false once the loop has
// stopped.
func (l *Loop) Post(ctx context.Context, fn func(context.Context)) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}

// Do runs fn on the main loop and waits for its result. Called from the main
// loop itself, fn runs inline.
func (l *Loop) Do(ctx context.Context, fn func(context.Context) error) error {
	if OnMainThread(ctx) {
		return fn(ctx)
	}
	result := make(chan error, 1)
	if !l.Post(ctx, func(mainCtx context.Context) { result <- fn(mainCtx) }) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return oops.In("core").Code("LOOP_STOPPED").Errorf("main loop stopped")
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		// The task may have run just before the loop stopped.
		select {
		case err := <-result:
			return err
		default:
			return oops.In("core").Code("LOOP_STOPPED").Errorf("main loop stopped")
		}
	}
}
