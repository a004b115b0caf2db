package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalTaskRunsUntilStopped(t *testing.T) {
	var calls int32
	stopped := make(chan struct{})
	task := NewIntervalTask(context.Background(), "test-interval", WithInterval(10*time.Millisecond), WithImmediateRun())
	task.Do(func() { atomic.AddInt32(&calls, 1) }, func() { close(stopped) })

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
	_, ok := GetTask("test-interval")
	assert.True(t, ok)

	assert.True(t, StopTask("test-interval"))
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stopped callback not called")
	}
	<-task.Done()
	_, ok = GetTask("test-interval")
	assert.False(t, ok)

	n := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&calls), "no calls after stop")
}

func TestIntervalTaskImmediateRun(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := NewIntervalTask(context.Background(), "test-immediate", WithInterval(time.Hour), WithImmediateRun())
	task.Do(func() {
		select {
		case ran <- struct{}{}:
		default:
		}
	}, nil)
	defer task.Stop()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("function not run immediately")
	}
}

func TestIntervalTaskParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := NewIntervalTask(ctx, "test-parent")
	require.Equal(t, DefaultTickerDuration, task.duration)
	task.Do(func() {}, nil)
	cancel()
	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop with its parent context")
	}
	assert.False(t, StopTask("test-parent"))
}
