package zap

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrInvalidIdentity is wrapped by every decoding failure.
var ErrInvalidIdentity = errors.New("invalid identifier")

// Identity is a decoded author or note reference together with the relay
// hints that came with it.
type Identity struct {
	ID     string
	Relays []string
}

// DecodeAuthor accepts an npub, an nprofile or a 64 char hex public key.
func DecodeAuthor(s string) (Identity, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "nostr:")
	if isHexID(s) {
		return Identity{ID: strings.ToLower(s)}, nil
	}
	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: author %q: %v", ErrInvalidIdentity, s, err)
	}
	switch prefix {
	case "npub":
		if pk, ok := value.(string); ok {
			return Identity{ID: pk}, nil
		}
	case "nprofile":
		switch p := value.(type) {
		case nostr.ProfilePointer:
			return Identity{ID: p.PublicKey, Relays: p.Relays}, nil
		case *nostr.ProfilePointer:
			return Identity{ID: p.PublicKey, Relays: p.Relays}, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: author %q is a %s", ErrInvalidIdentity, s, prefix)
}

// DecodeNote accepts a note, an nevent or a 64 char hex event id.
func DecodeNote(s string) (Identity, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "nostr:")
	if isHexID(s) {
		return Identity{ID: strings.ToLower(s)}, nil
	}
	prefix, value, err := nip19.Decode(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: note %q: %v", ErrInvalidIdentity, s, err)
	}
	switch prefix {
	case "note":
		if id, ok := value.(string); ok {
			return Identity{ID: id}, nil
		}
	case "nevent":
		switch p := value.(type) {
		case nostr.EventPointer:
			return Identity{ID: p.ID, Relays: p.Relays}, nil
		case *nostr.EventPointer:
			return Identity{ID: p.ID, Relays: p.Relays}, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: note %q is a %s", ErrInvalidIdentity, s, prefix)
}

func isHexID(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Truncate shortens a bech32 entity to its first and last 12 characters.
func Truncate(entity string) string {
	if len(entity) <= 27 {
		return entity
	}
	return entity[:12] + "..." + entity[len(entity)-12:]
}
