package zap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/massmux/zapper/internal/relay"
	"github.com/massmux/zapper/internal/runtime"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultFallbackRelay = "wss://relay.nostr.band"
	DefaultPollInterval  = 5 * time.Second
)

type State int32

const (
	Watching State = iota
	Matched
	Cancelled
)

func (s State) String() string {
	switch s {
	case Watching:
		return "watching"
	case Matched:
		return "matched"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// WatchParams configures a receipt watch.
type WatchParams struct {
	Relays  []string
	Invoice string
	// OnMatched is called exactly once with the first matching receipt.
	OnMatched func(receipt *nostr.Event)
	// FallbackRelay is always watched in addition to Relays.
	FallbackRelay string
	Interval      time.Duration
}

var watcherCounter uint64

// Watcher waits for the zap receipt of one invoice.
type Watcher struct {
	invoice   string
	relays    []string
	since     nostr.Timestamp
	dialer    relay.Dialer
	onMatched func(*nostr.Event)
	task      *runtime.IntervalTask
	ctx       context.Context

	mu       sync.Mutex
	state    State
	conns    map[string]relay.Relay
	subs     map[string]context.CancelFunc
	inflight map[string]bool
	teardown sync.Once
	done     chan struct{}
}

// WatchForReceipt starts watching the relays for a kind 9735 event with a
// bolt11 tag equal to the invoice. Receipts created before the call are
// ignored. The watcher resubscribes on every interval until a receipt
// matches or Cancel is called.
func WatchForReceipt(ctx context.Context, dialer relay.Dialer, p WatchParams) *Watcher {
	if p.FallbackRelay == "" {
		p.FallbackRelay = DefaultFallbackRelay
	}
	if p.Interval <= 0 {
		p.Interval = DefaultPollInterval
	}
	w := &Watcher{
		invoice:   p.Invoice,
		relays:    relay.WithFallback(p.Relays, p.FallbackRelay),
		since:     nostr.Now(),
		dialer:    dialer,
		onMatched: p.OnMatched,
		conns:     make(map[string]relay.Relay),
		subs:      make(map[string]context.CancelFunc),
		inflight:  make(map[string]bool),
		done:      make(chan struct{}),
	}
	name := fmt.Sprintf("receipt-%d", atomic.AddUint64(&watcherCounter, 1))
	w.task = runtime.NewIntervalTask(ctx, name, runtime.WithInterval(p.Interval), runtime.WithImmediateRun())
	w.ctx = w.task.Context()
	log.Debugf("[Receipt] %s watching %d relays since %d", name, len(w.relays), w.since)
	w.task.Do(w.tick, w.stop)
	return w
}

func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Relays returns the relay set being watched, fallback included.
func (w *Watcher) Relays() []string {
	return append([]string{}, w.relays...)
}

// Done is closed once the watcher has released all relay connections.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Cancel stops watching and closes all relay connections. It is safe to call
// more than once and after a match.
func (w *Watcher) Cancel() {
	w.mu.Lock()
	if w.state == Watching {
		w.state = Cancelled
		log.Debugf("[Receipt] %s cancelled", w.task.Name())
	}
	w.mu.Unlock()
	w.task.Stop()
	w.stop()
}

func (w *Watcher) tick() {
	for _, url := range w.relays {
		w.mu.Lock()
		busy := w.inflight[url] || w.state != Watching
		if !busy {
			w.inflight[url] = true
		}
		w.mu.Unlock()
		if busy {
			continue
		}
		go func(url string) {
			defer func() {
				w.mu.Lock()
				delete(w.inflight, url)
				w.mu.Unlock()
			}()
			w.resubscribe(url)
		}(url)
	}
}

// resubscribe opens a fresh subscription on url and retires the previous one.
func (w *Watcher) resubscribe(url string) {
	conn, err := w.conn(url)
	if err != nil {
		log.Debugf("[Receipt] %s: %v", url, err)
		return
	}
	since := w.since
	subCtx, cancel := context.WithCancel(w.ctx)
	events, err := conn.Subscribe(subCtx, nostr.Filters{{Kinds: []int{KindZapReceipt}, Since: &since}})
	if err != nil {
		cancel()
		log.Debugf("[Receipt] %s: subscribe failed: %v", url, err)
		w.drop(url, conn)
		return
	}

	w.mu.Lock()
	if w.state != Watching {
		w.mu.Unlock()
		cancel()
		return
	}
	previous := w.subs[url]
	w.subs[url] = cancel
	w.mu.Unlock()
	if previous != nil {
		previous()
	}
	go w.consume(events)
}

// conn returns the cached connection for url, dialing when there is none.
func (w *Watcher) conn(url string) (relay.Relay, error) {
	w.mu.Lock()
	c, ok := w.conns[url]
	w.mu.Unlock()
	if ok {
		return c, nil
	}
	c, err := w.dialer.Dial(w.ctx, url)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != Watching {
		c.Close()
		return nil, fmt.Errorf("watcher %s", w.state)
	}
	w.conns[url] = c
	return c, nil
}

// drop forgets a broken connection so the next tick dials again.
func (w *Watcher) drop(url string, c relay.Relay) {
	w.mu.Lock()
	if w.conns[url] == c {
		delete(w.conns, url)
	}
	w.mu.Unlock()
	c.Close()
}

func (w *Watcher) consume(events <-chan *nostr.Event) {
	for ev := range events {
		if w.matches(ev) {
			w.match(ev)
			return
		}
	}
}

func (w *Watcher) matches(ev *nostr.Event) bool {
	if ev == nil || ev.Kind != KindZapReceipt || ev.CreatedAt < w.since {
		return false
	}
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "bolt11" && tag[1] == w.invoice {
			return true
		}
	}
	return false
}

func (w *Watcher) match(ev *nostr.Event) {
	w.mu.Lock()
	if w.state != Watching {
		w.mu.Unlock()
		return
	}
	w.state = Matched
	w.mu.Unlock()

	log.Infof("[Receipt] %s matched receipt %s", w.task.Name(), ev.ID)
	if w.onMatched != nil {
		w.onMatched(ev)
	}
	w.task.Stop()
	w.stop()
}

// stop closes every subscription and connection, once.
func (w *Watcher) stop() {
	w.teardown.Do(func() {
		w.mu.Lock()
		if w.state == Watching {
			// parent context ended
			w.state = Cancelled
		}
		subs, conns := w.subs, w.conns
		w.subs, w.conns = map[string]context.CancelFunc{}, map[string]relay.Relay{}
		w.mu.Unlock()

		for _, cancel := range subs {
			cancel()
		}
		for url, c := range conns {
			if err := c.Close(); err != nil {
				log.Debugf("[Receipt] closing %s: %v", url, err)
			}
		}
		close(w.done)
	})
}
