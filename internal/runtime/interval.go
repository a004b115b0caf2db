package runtime

import (
	"context"
	"time"

	cmap "github.com/orcaman/concurrent-map"
	log "github.com/sirupsen/logrus"
)

const DefaultTickerDuration = 5 * time.Second

var taskMap cmap.ConcurrentMap

func init() {
	taskMap = cmap.New()
}

// IntervalTask runs a function on a fixed interval until its context is
// cancelled or Stop is called.
type IntervalTask struct {
	Ticker    *time.Ticker
	duration  time.Duration
	immediate bool
	ctx       context.Context
	cancel    context.CancelFunc
	name      string
	done      chan struct{}
}

type IntervalTaskOption func(*IntervalTask)

func WithInterval(d time.Duration) IntervalTaskOption {
	return func(t *IntervalTask) {
		t.duration = d
	}
}

// WithImmediateRun runs the function once right away instead of waiting for
// the first tick.
func WithImmediateRun() IntervalTaskOption {
	return func(t *IntervalTask) {
		t.immediate = true
	}
}

func NewIntervalTask(ctx context.Context, name string, option ...IntervalTaskOption) *IntervalTask {
	t := &IntervalTask{
		name: name,
		done: make(chan struct{}),
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	for _, opt := range option {
		opt(t)
	}
	if t.duration <= 0 {
		t.duration = DefaultTickerDuration
	}
	return t
}

// Do starts the loop. f is called on every tick, stopped once after the loop
// has ended.
func (t *IntervalTask) Do(f func(), stopped func()) {
	t.Ticker = time.NewTicker(t.duration)
	taskMap.Set(t.name, t)
	go func() {
		defer close(t.done)
		defer func() {
			t.Ticker.Stop()
			taskMap.Remove(t.name)
			log.Tracef("[IntervalTask] %s stopped (running=%d)", t.name, taskMap.Count())
			if stopped != nil {
				stopped()
			}
		}()
		if t.immediate {
			f()
		}
		for {
			select {
			case <-t.Ticker.C:
				// a tick may race with cancellation, cancellation wins
				if t.ctx.Err() != nil {
					return
				}
				f()
			case <-t.ctx.Done():
				return
			}
		}
	}()
}

func (t *IntervalTask) Stop() {
	t.cancel()
}

// Done is closed after the loop and the stopped callback have returned.
func (t *IntervalTask) Done() <-chan struct{} {
	return t.done
}

// Context is cancelled when the task stops.
func (t *IntervalTask) Context() context.Context {
	return t.ctx
}

func (t *IntervalTask) Name() string {
	return t.name
}

// GetTask returns a running task by name.
func GetTask(name string) (*IntervalTask, bool) {
	if t, ok := taskMap.Get(name); ok {
		return t.(*IntervalTask), true
	}
	return nil, false
}

// StopTask stops a running task. It reports whether a task was found.
func StopTask(name string) bool {
	t, ok := GetTask(name)
	if ok {
		t.Stop()
	}
	return ok
}

func Running() int {
	return taskMap.Count()
}
