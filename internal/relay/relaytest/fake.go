// Package relaytest provides in-memory relays for tests.
package relaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/massmux/zapper/internal/relay"
	"github.com/nbd-wtf/go-nostr"
)

// Relay is a fake relay. Stored events answer queries through
// nostr.Filter.Matches; events passed to Emit go to every live
// subscription unfiltered, the way a sloppy relay would send them.
type Relay struct {
	url string

	mu       sync.Mutex
	stored   []*nostr.Event
	queryErr error
	subs     map[int]*subscription
	nextSub  int
	opened   int
	closed   int
	queries  int
	subCount int
}

type subscription struct {
	ctx    context.Context
	events chan *nostr.Event
	done   chan struct{}
	once   sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func NewRelay(url string, stored ...*nostr.Event) *Relay {
	return &Relay{url: url, stored: stored, subs: make(map[int]*subscription)}
}

// FailQueries makes every QuerySync return err.
func (r *Relay) FailQueries(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryErr = err
}

// Emit delivers ev to all open subscriptions.
func (r *Relay) Emit(ev *nostr.Event) {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.mu.Unlock()
	for _, s := range subs {
		select {
		case s.events <- ev:
		case <-s.done:
		case <-s.ctx.Done():
		}
	}
}

// Open reports the number of connections not closed yet.
func (r *Relay) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened - r.closed
}

func (r *Relay) Queries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queries
}

func (r *Relay) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subCount
}

// LiveSubscriptions reports subscriptions that are still delivering events.
func (r *Relay) LiveSubscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type conn struct {
	relay  *Relay
	once   sync.Once
	closed chan struct{}
}

func (c *conn) URL() string {
	return c.relay.url
}

func (c *conn) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	r := c.relay
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	if r.queryErr != nil {
		return nil, r.queryErr
	}
	var found []*nostr.Event
	for _, ev := range r.stored {
		if filter.Matches(ev) {
			found = append(found, ev)
		}
	}
	return found, nil
}

func (c *conn) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, error) {
	r := c.relay
	select {
	case <-c.closed:
		return nil, fmt.Errorf("relay %s closed", r.url)
	default:
	}
	s := &subscription{ctx: ctx, events: make(chan *nostr.Event), done: make(chan struct{})}
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = s
	r.subCount++
	r.mu.Unlock()

	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		defer func() {
			s.stop()
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case ev := <-s.events:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				case <-c.closed:
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *conn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.relay.mu.Lock()
		c.relay.closed++
		c.relay.mu.Unlock()
	})
	return nil
}

// Dialer hands out connections to registered fake relays.
type Dialer struct {
	mu      sync.Mutex
	relays  map[string]*Relay
	dialErr map[string]error
	dials   int
}

func NewDialer(relays ...*Relay) *Dialer {
	d := &Dialer{relays: make(map[string]*Relay), dialErr: make(map[string]error)}
	for _, r := range relays {
		d.relays[r.url] = r
	}
	return d
}

// FailDial makes dials to url fail with err.
func (d *Dialer) FailDial(url string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErr[url] = err
}

func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *Dialer) Dial(ctx context.Context, url string) (relay.Relay, error) {
	d.mu.Lock()
	d.dials++
	err := d.dialErr[url]
	r, ok := d.relays[url]
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no relay at %s", url)
	}
	r.mu.Lock()
	r.opened++
	r.mu.Unlock()
	return &conn{relay: r, closed: make(chan struct{})}, nil
}
