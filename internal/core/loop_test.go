// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devkitserver/devkitserver/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := NewLoop(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, loop.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop, cancel
}

func TestAssertMainThread(t *testing.T) {
	err := AssertMainThread(context.Background(), "AddPermission")
	errutil.AssertErrorCode(t, err, "NOT_MAIN_THREAD")
	errutil.AssertErrorContext(t, err, "operation", "AddPermission")

	assert.NoError(t, AssertMainThread(WithMainThread(context.Background()), "AddPermission"))
}

func TestLoop_DoRunsOnMainThread(t *testing.T) {
	loop, _ := startLoop(t)

	var onMain bool
	err := loop.Do(context.Background(), func(ctx context.Context) error {
		onMain = OnMainThread(ctx)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, onMain)
}

func TestLoop_DoReturnsTaskError(t *testing.T) {
	loop, _ := startLoop(t)
	want := errors.New("boom")
	assert.ErrorIs(t, loop.Do(context.Background(), func(context.Context) error { return want }), want)
}

func TestLoop_DoInlineWhenAlreadyOnMainThread(t *testing.T) {
	loop := NewLoop(0) // never run: inline execution must not need it
	ran := false
	err := loop.Do(WithMainThread(context.Background()), func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestLoop_TasksRunInOrderOneAtATime(t *testing.T) {
	loop, _ := startLoop(t)

	var (
		mu      sync.Mutex
		order   []int
		running int
		overlap bool
	)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.True(t, loop.Post(context.Background(), func(context.Context) {
			defer wg.Done()
			mu.Lock()
			running++
			if running > 1 {
				overlap = true
			}
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}))
	}
	wg.Wait()

	assert.False(t, overlap)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoop_StoppedRejectsWork(t *testing.T) {
	loop := NewLoop(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	cancel()
	<-done

	assert.False(t, loop.Post(context.Background(), func(context.Context) {}))
	err := loop.Do(context.Background(), func(context.Context) error { return nil })
	errutil.AssertErrorCode(t, err, "LOOP_STOPPED")
}

func TestLoop_RunTwice(t *testing.T) {
	loop, _ := startLoop(t)
	// Wait until the first Run has claimed the loop.
	require.NoError(t, loop.Do(context.Background(), func(context.Context) error { return nil }))
	errutil.AssertErrorCode(t, loop.Run(context.Background()), "LOOP_RUNNING")
}
