package zap

import (
	"context"
	"fmt"
	"time"

	"github.com/massmux/zapper/internal/errors"
	"github.com/massmux/zapper/internal/lnurl"
	"github.com/massmux/zapper/internal/nip05"
	"github.com/massmux/zapper/internal/profile"
	"github.com/massmux/zapper/internal/relay"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

// Zapper runs the zap pipeline: profile, endpoint, zap request, invoice and
// finally the receipt watch.
type Zapper struct {
	profiles  *profile.Resolver
	endpoints *lnurl.Deriver
	builder   *Builder
	invoices  *lnurl.InvoiceFetcher
	nip05     *nip05.Resolver
	dialer    relay.Dialer
	relays    []string
	fallback  string
	interval  time.Duration
}

type Options struct {
	Profiles  *profile.Resolver
	Endpoints *lnurl.Deriver
	Builder   *Builder
	Invoices  *lnurl.InvoiceFetcher
	// NIP05 resolves name@domain authors. Optional.
	NIP05 *nip05.Resolver
	// Dialer is used by receipt watchers.
	Dialer relay.Dialer
	// ReceiptRelays are put in the zap request when the caller names none.
	ReceiptRelays []string
	FallbackRelay string
	PollInterval  time.Duration
}

func New(o Options) *Zapper {
	if o.Builder == nil {
		o.Builder = NewBuilder()
	}
	return &Zapper{
		profiles:  o.Profiles,
		endpoints: o.Endpoints,
		builder:   o.Builder,
		invoices:  o.Invoices,
		nip05:     o.NIP05,
		dialer:    o.Dialer,
		relays:    relay.Normalize(o.ReceiptRelays),
		fallback:  o.FallbackRelay,
		interval:  o.PollInterval,
	}
}

// Params is one zap as requested by the page.
type Params struct {
	// Author is an npub, nprofile, hex public key or NIP-05 identifier.
	Author string
	// Note optionally targets a post: note, nevent or hex id.
	Note        string
	AmountMsats int64
	Comment     string
	Anonymous   bool
	Relays      []string
}

// Attempt is the result of a successful pipeline run.
type Attempt struct {
	Header   Header
	Invoice  string
	Endpoint *lnurl.ZapEndpoint
	Relays   []string
	Watcher  *Watcher
}

type target struct {
	author Identity
	note   Identity
}

func (z *Zapper) decodeTarget(ctx context.Context, author, note string) (target, error) {
	var t target
	var err error
	if z.nip05 != nil && nip05.IsIdentifier(author) {
		pubkey, relays, err := z.nip05.Resolve(ctx, author)
		if err != nil {
			return t, errors.New(errors.ProfileFetchError, err)
		}
		t.author = Identity{ID: pubkey, Relays: relays}
	} else if t.author, err = DecodeAuthor(author); err != nil {
		return t, err
	}
	if note != "" {
		if t.note, err = DecodeNote(note); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Header resolves the profile and returns the dialog header data.
func (z *Zapper) Header(ctx context.Context, author, note string) (Header, error) {
	t, err := z.decodeTarget(ctx, author, note)
	if err != nil {
		return Header{}, err
	}
	metadata, err := z.profiles.Resolve(ctx, t.author.ID)
	if err != nil {
		return Header{}, err
	}
	return NewHeader(t.author.ID, t.note.ID, metadata), nil
}

// RequestInvoice runs resolver, deriver, builder and fetcher in order. Any
// error ends the attempt.
func (z *Zapper) RequestInvoice(ctx context.Context, p Params) (*Attempt, error) {
	t, err := z.decodeTarget(ctx, p.Author, p.Note)
	if err != nil {
		return nil, err
	}
	metadata, err := z.profiles.Resolve(ctx, t.author.ID)
	if err != nil {
		return nil, err
	}
	endpoint, err := z.endpoints.Derive(ctx, metadata)
	if err != nil {
		return nil, err
	}

	relays := p.Relays
	if len(relays) == 0 {
		relays = z.relays
	}
	relays = relay.Normalize(append(append(append([]string{}, relays...), t.author.Relays...), t.note.Relays...))
	if len(relays) == 0 {
		return nil, errors.New(errors.ZapRequestValidationError, fmt.Errorf("no relays for the zap receipt"))
	}

	request, err := z.builder.Build(ctx, RequestParams{
		AuthorID:    t.author.ID,
		NoteID:      t.note.ID,
		AmountMsats: p.AmountMsats,
		Relays:      relays,
		Comment:     p.Comment,
		Anonymous:   p.Anonymous,
		LNURL:       endpoint.LNURL,
	})
	if err != nil {
		return nil, err
	}
	invoice, err := z.invoices.Fetch(ctx, lnurl.InvoiceParams{
		Endpoint:    endpoint,
		SignedEvent: request,
		AmountMsats: p.AmountMsats,
		Comment:     p.Comment,
	})
	if err != nil {
		return nil, err
	}
	log.Infof("[Zap] invoice for %s (%d msat, anonymous=%t)", t.author.ID, p.AmountMsats, IsAnonymous(request))
	return &Attempt{
		Header:   NewHeader(t.author.ID, t.note.ID, metadata),
		Invoice:  invoice,
		Endpoint: endpoint,
		Relays:   relays,
	}, nil
}

// Watch starts the receipt watcher for an attempt. The watcher outlives ctx
// of the request that created the attempt and runs until matched or cancelled.
func (z *Zapper) Watch(a *Attempt, onMatched func(receipt *nostr.Event)) *Watcher {
	a.Watcher = WatchForReceipt(context.Background(), z.dialer, WatchParams{
		Relays:        a.Relays,
		Invoice:       a.Invoice,
		OnMatched:     onMatched,
		FallbackRelay: z.fallback,
		Interval:      z.interval,
	})
	return a.Watcher
}

// Zap requests an invoice and starts watching for its receipt.
func (z *Zapper) Zap(ctx context.Context, p Params, onMatched func(receipt *nostr.Event)) (*Attempt, error) {
	a, err := z.RequestInvoice(ctx, p)
	if err != nil {
		return nil, err
	}
	z.Watch(a, onMatched)
	return a, nil
}
