package profile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/massmux/zapper/internal/errors"
	"github.com/massmux/zapper/internal/relay"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

const KindMetadata = 0

// Resolver fetches kind-0 profile metadata from a fixed set of relays.
type Resolver struct {
	dialer  relay.Dialer
	relays  []string
	cache   Cache
	timeout time.Duration
}

type Option func(*Resolver)

func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		r.timeout = d
	}
}

func NewResolver(dialer relay.Dialer, relays []string, cache Cache, opts ...Option) *Resolver {
	r := &Resolver{
		dialer:  dialer,
		relays:  relay.Normalize(relays),
		cache:   cache,
		timeout: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewMemoryCache()
	}
	return r
}

// Resolve returns the newest metadata event of authorID. A cached result is
// returned without touching the network.
func (r *Resolver) Resolve(ctx context.Context, authorID string) (*nostr.Event, error) {
	if ev, ok := r.cache.Get(authorID); ok {
		log.Tracef("[Profile] cache hit for %s", authorID)
		return ev, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	events, err := relay.QueryAll(ctx, r.dialer, r.relays, nostr.Filter{
		Kinds:   []int{KindMetadata},
		Authors: []string{authorID},
		Limit:   1,
	})
	if err != nil {
		log.Warnf("[Profile] no relay answered for %s: %v", authorID, err)
		return nil, errors.New(errors.ProfileFetchError, fmt.Errorf("unable to fetch profile: %w", err))
	}

	var usable []*nostr.Event
	for _, ev := range events {
		if ev.Kind == KindMetadata && ev.PubKey == authorID && strings.TrimSpace(ev.Content) != "" {
			usable = append(usable, ev)
		}
	}
	newest := relay.Newest(usable)
	if newest == nil {
		log.Infof("[Profile] no metadata found for %s", authorID)
		return nil, errors.Create(errors.ProfileFetchError)
	}
	r.cache.Set(authorID, newest)
	log.Debugf("[Profile] resolved %s (created_at %d)", authorID, newest.CreatedAt)
	return newest, nil
}
