package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// QueryAll runs filter against every relay in urls concurrently and returns
// the union of the results. Every connection opened is closed before
// QueryAll returns. The error is non-nil only if no relay answered at all.
func QueryAll(ctx context.Context, dialer Dialer, urls []string, filter nostr.Filter) ([]*nostr.Event, error) {
	var (
		mu       sync.Mutex
		events   []*nostr.Event
		answered int
		lastErr  error
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, url := range urls {
		url := url
		g.Go(func() error {
			found, err := queryOne(ctx, dialer, url, filter)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Debugf("[Relay] query on %s failed: %v", url, err)
				lastErr = err
				return nil
			}
			answered++
			events = append(events, found...)
			return nil
		})
	}
	_ = g.Wait()
	if answered == 0 {
		if lastErr == nil {
			lastErr = fmt.Errorf("no relays to query")
		}
		return nil, lastErr
	}
	return events, nil
}

func queryOne(ctx context.Context, dialer Dialer, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	r, err := dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Tracef("[Relay] close %s: %v", url, err)
		}
	}()
	return r.QuerySync(ctx, filter)
}

// Newest returns the event with the highest created_at, nil for an empty slice.
func Newest(events []*nostr.Event) *nostr.Event {
	var newest *nostr.Event
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if newest == nil || ev.CreatedAt > newest.CreatedAt {
			newest = ev
		}
	}
	return newest
}
