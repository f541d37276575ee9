package core_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

func TestExecutor_RunsTasks(t *testing.T) {
	ex := core.NewExecutor("test", 2, 16)
	ex.Start()
	t.Cleanup(ex.Stop)

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		_, err := ex.Submit(func(context.Context) {
			ran.Add(1)
			wg.Done()
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.Equal(t, int32(10), ran.Load())
	assert.Eventually(t, func() bool { return ex.CompletedCount() == 10 }, time.Second, 5*time.Millisecond)
}

func TestExecutor_FullQueueIsTransient(t *testing.T) {
	ex := core.NewExecutor("test", 1, 1) // not started: nothing drains
	t.Cleanup(ex.Stop)

	_, err := ex.Submit(func(context.Context) {})
	require.NoError(t, err)

	_, err = ex.Submit(func(context.Context) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrWorkerPoolFull)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, int64(1), ex.RejectedCount())
}

func TestExecutor_CancelQueuedSkipsTask(t *testing.T) {
	ex := core.NewExecutor("test", 1, 4)
	t.Cleanup(ex.Stop)

	var ran atomic.Bool
	f, err := ex.Submit(func(context.Context) { ran.Store(true) })
	require.NoError(t, err)

	assert.True(t, f.Cancel())
	assert.True(t, f.Cancelled())
	<-f.Done()

	ex.Start()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestExecutor_CancelRunningCancelsContext(t *testing.T) {
	ex := core.NewExecutor("test", 1, 4)
	ex.Start()
	t.Cleanup(ex.Stop)

	started := make(chan struct{})
	var sawCancel atomic.Bool
	f, err := ex.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
	})
	require.NoError(t, err)

	<-started
	assert.True(t, f.Cancel())
	<-f.Done()
	assert.True(t, sawCancel.Load())
	assert.False(t, f.Cancelled())
}

func TestExecutor_StopRunsQueuedWithCancelledContext(t *testing.T) {
	ex := core.NewExecutor("test", 1, 4) // never started

	var ctxErr atomic.Value
	_, err := ex.Submit(func(ctx context.Context) { ctxErr.Store(ctx.Err()) })
	require.NoError(t, err)

	ex.Stop()
	assert.Equal(t, context.Canceled, ctxErr.Load())

	_, err = ex.Submit(func(context.Context) {})
	assert.ErrorIs(t, err, apperrors.ErrEngineStopped)
}

func TestExecutor_SubmitRacingStopNeverStrandsTasks(t *testing.T) {
	for round := 0; round < 50; round++ {
		ex := core.NewExecutor("test", 2, 1024)
		ex.Start()

		var accepted, ran atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if _, err := ex.Submit(func(context.Context) { ran.Add(1) }); err == nil {
						accepted.Add(1)
					}
				}
			}()
		}
		ex.Stop()
		wg.Wait()

		// Stop has returned and no submit can succeed any more: every
		// accepted task must already have run.
		require.Equal(t, accepted.Load(), ran.Load(), "round %d", round)
	}
}
