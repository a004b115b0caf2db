package zap

import (
	"context"
	"fmt"
	"strconv"

	"github.com/massmux/zapper/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

const (
	KindZapRequest = 9734
	KindZapReceipt = 9735
)

// RequestParams describes one zap request.
type RequestParams struct {
	AuthorID    string
	NoteID      string
	AmountMsats int64
	Relays      []string
	Comment     string
	Anonymous   bool
	// LNURL is the bech32 pay url of the recipient, optional.
	LNURL string
}

// Builder creates signed zap requests.
type Builder struct {
	signer    Signer
	ephemeral Signer
	validate  bool
}

type BuilderOption func(*Builder)

// WithSigner sets the signing capability. A nil signer makes every request anonymous.
func WithSigner(s Signer) BuilderOption {
	return func(b *Builder) {
		b.signer = s
	}
}

// WithValidation checks every signed request against the zap request rules.
func WithValidation(validate bool) BuilderOption {
	return func(b *Builder) {
		b.validate = validate
	}
}

func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{ephemeral: EphemeralSigner{}, validate: true}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns a signed zap request. A failing signer never fails the build:
// the request is rebuilt as anonymous and signed with a throwaway key.
func (b *Builder) Build(ctx context.Context, p RequestParams) (*nostr.Event, error) {
	if p.AuthorID == "" {
		return nil, errors.WithReason(errors.ZapRequestValidationError, "missing recipient")
	}
	anonymous := p.Anonymous || b.signer == nil
	ev := unsignedRequest(p, anonymous)

	signed := false
	if !anonymous {
		if err := b.signer.SignEvent(ctx, ev); err != nil {
			log.Warnf("[ZapRequest] signer failed, falling back to anonymous zap: %v", err)
			ev = unsignedRequest(p, true)
		} else {
			signed = true
		}
	}
	if !signed {
		if err := b.ephemeral.SignEvent(ctx, ev); err != nil {
			return nil, errors.New(errors.UnknownError, fmt.Errorf("ephemeral signing failed: %w", err))
		}
	}

	if b.validate {
		if err := Validate(ev, p.AmountMsats); err != nil {
			return nil, err
		}
	}
	log.Debugf("[ZapRequest] %s signed by %s (anonymous=%t)", ev.ID, ev.PubKey, !signed)
	return ev, nil
}

func unsignedRequest(p RequestParams, anonymous bool) *nostr.Event {
	tags := nostr.Tags{{"p", p.AuthorID}}
	if p.NoteID != "" {
		tags = append(tags, nostr.Tag{"e", p.NoteID})
	}
	tags = append(tags, nostr.Tag{"amount", strconv.FormatInt(p.AmountMsats, 10)})
	tags = append(tags, append(nostr.Tag{"relays"}, p.Relays...))
	if p.LNURL != "" {
		tags = append(tags, nostr.Tag{"lnurl", p.LNURL})
	}
	if anonymous {
		tags = append(tags, nostr.Tag{"anon"})
	}
	return &nostr.Event{
		Kind:      KindZapRequest,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   p.Comment,
	}
}

// IsAnonymous reports whether ev carries an anon tag.
func IsAnonymous(ev *nostr.Event) bool {
	for _, tag := range ev.Tags {
		if len(tag) > 0 && tag[0] == "anon" {
			return true
		}
	}
	return false
}
