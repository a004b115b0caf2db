package relay

import (
	"context"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Relay is one open relay connection.
type Relay interface {
	URL() string
	// QuerySync returns the stored events matching filter.
	QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	// Subscribe streams events matching filters until ctx is done or the relay is closed.
	Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, error)
	Close() error
}

// Dialer opens relay connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Relay, error)
}

// NostrDialer connects to real relays over websocket.
type NostrDialer struct{}

func (NostrDialer) Dial(ctx context.Context, url string) (Relay, error) {
	r, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &nostrRelay{relay: r}, nil
}

type nostrRelay struct {
	relay *nostr.Relay
}

func (r *nostrRelay) URL() string {
	return r.relay.URL
}

func (r *nostrRelay) QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	return r.relay.QuerySync(ctx, filter)
}

func (r *nostrRelay) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, error) {
	sub, err := r.relay.Subscribe(ctx, filters)
	if err != nil {
		return nil, err
	}
	events := make(chan *nostr.Event)
	go func() {
		defer close(events)
		defer sub.Unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

func (r *nostrRelay) Close() error {
	return r.relay.Close()
}

// Normalize cleans relay urls, drops duplicates and empty entries, keeping order.
func Normalize(urls []string) []string {
	keys := make(map[string]bool)
	list := []string{}
	for _, entry := range urls {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		entry = nostr.NormalizeURL(entry)
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

// WithFallback returns urls plus fallback unless it is already present.
func WithFallback(urls []string, fallback string) []string {
	if fallback == "" {
		return Normalize(urls)
	}
	return Normalize(append(append([]string{}, urls...), fallback))
}
