package profile

import (
	"fmt"
	"strings"

	"github.com/massmux/zapper/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// Content is the parsed content field of a kind-0 event.
type Content struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Lud06       string `json:"lud06,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
}

// Parse decodes the metadata content. Malformed content is a
// MetadataParseError, distinct from a profile that simply lacks fields.
func Parse(metadata *nostr.Event) (Content, error) {
	if metadata == nil {
		return Content{}, errors.New(errors.MetadataParseError, fmt.Errorf("no profile metadata"))
	}
	if !gjson.Valid(metadata.Content) {
		return Content{}, errors.New(errors.MetadataParseError, fmt.Errorf("profile content is not valid JSON"))
	}
	j := gjson.Parse(metadata.Content)
	if !j.IsObject() {
		return Content{}, errors.New(errors.MetadataParseError, fmt.Errorf("profile content is not a JSON object"))
	}
	return Content{
		Name:        strings.TrimSpace(j.Get("name").String()),
		DisplayName: strings.TrimSpace(firstNonEmpty(j.Get("display_name").String(), j.Get("displayName").String())),
		Picture:     strings.TrimSpace(j.Get("picture").String()),
		Lud06:       strings.TrimSpace(j.Get("lud06").String()),
		Lud16:       strings.TrimSpace(j.Get("lud16").String()),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
