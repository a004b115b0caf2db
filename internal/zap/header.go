package zap

import (
	"github.com/massmux/zapper/internal/profile"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	log "github.com/sirupsen/logrus"
)

const DefaultAvatar = "https://pbs.twimg.com/profile_images/1604195803748306944/LxHDoJ7P_400x400.jpg"

// Header is what the zap dialog shows about its target.
type Header struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	// Identity is the truncated note id when zapping a note, else the truncated npub.
	Identity string `json:"identity"`
	Npub     string `json:"npub"`
	Note     string `json:"note,omitempty"`
}

// NewHeader builds the dialog header. Broken metadata still yields a header
// made of the author's identity only.
func NewHeader(authorID, noteID string, metadata *nostr.Event) Header {
	npub, err := nip19.EncodePublicKey(authorID)
	if err != nil {
		npub = authorID
	}
	h := Header{Npub: npub, Identity: Truncate(npub), Picture: DefaultAvatar}
	if noteID != "" {
		if note, err := nip19.EncodeNote(noteID); err == nil {
			h.Note = note
			h.Identity = Truncate(note)
		}
	}

	content, err := profile.Parse(metadata)
	if err != nil {
		log.Debugf("[Header] %s: %v", authorID, err)
	}
	switch {
	case content.DisplayName != "":
		h.Name = content.DisplayName
	case content.Name != "":
		h.Name = content.Name
	default:
		h.Name = Truncate(npub)
	}
	if content.Picture != "" {
		h.Picture = content.Picture
	}
	return h
}
