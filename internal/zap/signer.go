package zap

import (
	"context"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	log "github.com/sirupsen/logrus"
)

// Signer fills in PubKey, ID and Sig of an event.
type Signer interface {
	SignEvent(ctx context.Context, ev *nostr.Event) error
}

// SignerFunc adapts a function to Signer.
type SignerFunc func(ctx context.Context, ev *nostr.Event) error

func (f SignerFunc) SignEvent(ctx context.Context, ev *nostr.Event) error {
	return f(ctx, ev)
}

// ExternalSigner signs with the identity the host was configured with.
type ExternalSigner struct {
	secretKey string
	publicKey string
}

func NewExternalSigner(key string) (*ExternalSigner, error) {
	key = strings.TrimSpace(key)
	if strings.HasPrefix(key, "nsec") {
		_, value, err := nip19.Decode(key)
		if err != nil {
			return nil, fmt.Errorf("invalid nsec: %w", err)
		}
		sk, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("invalid nsec")
		}
		key = sk
	}
	if !isHexID(key) {
		return nil, fmt.Errorf("private key must be 64 hex characters or nsec")
	}
	pk, err := nostr.GetPublicKey(key)
	if err != nil {
		return nil, err
	}
	return &ExternalSigner{secretKey: key, publicKey: pk}, nil
}

func (s *ExternalSigner) PublicKey() string {
	return s.publicKey
}

func (s *ExternalSigner) SignEvent(ctx context.Context, ev *nostr.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ev.PubKey = s.publicKey
	return ev.Sign(s.secretKey)
}

// EphemeralSigner signs every event with a freshly generated key.
type EphemeralSigner struct{}

func (EphemeralSigner) SignEvent(_ context.Context, ev *nostr.Event) error {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return err
	}
	ev.PubKey = pk
	return ev.Sign(sk)
}

// ProbeSigner returns the external signer for key, or nil when no usable
// signing capability is configured.
func ProbeSigner(key string) Signer {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	s, err := NewExternalSigner(key)
	if err != nil {
		log.Warnf("[ZapRequest] signing key unusable, zapping anonymously: %v", err)
		return nil
	}
	log.Infof("[ZapRequest] signing zap requests as %s", s.PublicKey())
	return s
}
