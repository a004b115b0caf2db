package lnurl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fiatjaf/go-lnurl"
	"github.com/imroc/req"
	"github.com/massmux/zapper/internal/errors"
	"github.com/massmux/zapper/internal/profile"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	PayRequestTag = "payRequest"
	Endpoint      = ".well-known/lnurlp"
)

// ZapEndpoint is the resolved LNURL-pay callback of a profile. It lives for
// one zap flow only.
type ZapEndpoint struct {
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	CommentAllowed int64  `json:"commentAllowed"`
	AllowsNostr    bool   `json:"allowsNostr"`
	NostrPubkey    string `json:"nostrPubkey,omitempty"`
	// LNURL is the bech32 form of the pay url, sent along as the lnurl tag.
	LNURL string `json:"lnurl,omitempty"`
}

// payParams is the first LNURL-pay response including the NIP-57 fields
// go-lnurl does not know about.
type payParams struct {
	lnurl.LNURLResponse
	Callback        string `json:"callback"`
	Tag             string `json:"tag"`
	MaxSendable     int64  `json:"maxSendable"`
	MinSendable     int64  `json:"minSendable"`
	EncodedMetadata string `json:"metadata"`
	CommentAllowed  int64  `json:"commentAllowed"`
	AllowsNostr     bool   `json:"allowsNostr,omitempty"`
	NostrPubkey     string `json:"nostrPubkey,omitempty"`
}

type Deriver struct {
	client *http.Client
}

func NewDeriver(client *http.Client) *Deriver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Deriver{client: client}
}

// Derive resolves the zap endpoint advertised by a kind-0 metadata event.
func (d *Deriver) Derive(ctx context.Context, metadata *nostr.Event) (*ZapEndpoint, error) {
	content, err := profile.Parse(metadata)
	if err != nil {
		return nil, err
	}
	payURL, encoded, err := payURLFromContent(content)
	if err != nil {
		return nil, err
	}
	log.Debugf("[Endpoint] %s: fetching %s", metadata.PubKey, payURL)

	params, err := d.fetchPayParams(ctx, payURL)
	if err != nil {
		return nil, err
	}
	// without both fields no zap receipt will ever be published for the invoice
	if !params.AllowsNostr || params.NostrPubkey == "" {
		log.Warnf("[Endpoint] %s does not support nostr zaps", payURL)
		return nil, errors.New(errors.EndpointResolutionError, fmt.Errorf("failed to retrieve zap endpoint"))
	}
	return &ZapEndpoint{
		Callback:       params.Callback,
		MinSendable:    params.MinSendable,
		MaxSendable:    params.MaxSendable,
		CommentAllowed: params.CommentAllowed,
		AllowsNostr:    params.AllowsNostr,
		NostrPubkey:    params.NostrPubkey,
		LNURL:          encoded,
	}, nil
}

// payURLFromContent prefers lud06 over lud16 and returns the pay url together
// with its bech32 encoding.
func payURLFromContent(content profile.Content) (string, string, error) {
	switch {
	case content.Lud06 != "":
		payURL, err := lnurl.LNURLDecode(strings.TrimPrefix(strings.ToLower(content.Lud06), "lightning:"))
		if err != nil {
			return "", "", errors.New(errors.EndpointResolutionError, fmt.Errorf("invalid lud06: %w", err))
		}
		return payURL, content.Lud06, nil
	case content.Lud16 != "":
		payURL, err := lightningAddressURL(content.Lud16)
		if err != nil {
			return "", "", errors.New(errors.EndpointResolutionError, err)
		}
		encoded, err := lnurl.LNURLEncode(payURL)
		if err != nil {
			log.Debugf("[Endpoint] could not encode %s: %v", payURL, err)
		}
		return payURL, encoded, nil
	}
	return "", "", errors.New(errors.EndpointResolutionError, fmt.Errorf("profile has no lightning address"))
}

// lightningAddressURL turns name@domain into its LNURL-pay url.
func lightningAddressURL(address string) (string, error) {
	split := strings.Split(address, "@")
	if len(split) != 2 || split[0] == "" || split[1] == "" {
		return "", fmt.Errorf("lightning address format wrong: %s", address)
	}
	name := strings.ToLower(split[0])
	host := strings.ToLower(split[1])
	scheme := "https"
	if strings.HasSuffix(strings.Split(host, ":")[0], ".onion") {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, host, Endpoint, name), nil
}

func (d *Deriver) fetchPayParams(ctx context.Context, payURL string) (*payParams, error) {
	r := req.New()
	r.SetClient(d.client)
	res, err := r.Get(payURL, ctx, req.Header{"Accept": "application/json"})
	if err != nil {
		return nil, errors.New(errors.EndpointResolutionError, err)
	}
	b := res.Bytes()
	j := gjson.ParseBytes(b)
	if strings.EqualFold(j.Get("status").String(), "ERROR") {
		reason := j.Get("reason").String()
		if reason == "" {
			return nil, errors.Create(errors.EndpointResolutionError)
		}
		return nil, errors.WithReason(errors.EndpointResolutionError, reason)
	}
	if res.Response().StatusCode >= 300 {
		return nil, errors.New(errors.EndpointResolutionError, fmt.Errorf("HTTP error: %s", res.Response().Status))
	}

	var params payParams
	if err := json.Unmarshal(b, &params); err != nil {
		return nil, errors.New(errors.EndpointResolutionError, fmt.Errorf("invalid LNURL response: %w", err))
	}
	if params.Tag != PayRequestTag || params.Callback == "" {
		return nil, errors.New(errors.EndpointResolutionError, fmt.Errorf("no pay callback at %s", payURL))
	}
	return &params, nil
}
