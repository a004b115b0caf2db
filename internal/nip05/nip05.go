// Package nip05 resolves name@domain identifiers to public keys.
package nip05

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/imroc/req"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const Endpoint = ".well-known/nostr.json"

type Resolver struct {
	client *http.Client
}

func New(client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{client: client}
}

// IsIdentifier reports whether s looks like a NIP-05 identifier.
func IsIdentifier(s string) bool {
	split := strings.Split(s, "@")
	return len(split) == 2 && split[1] != "" && strings.Contains(split[1], ".")
}

// Resolve returns the public key and relay hints published for identifier.
// A bare domain resolves the "_" name.
func (n *Resolver) Resolve(ctx context.Context, identifier string) (string, []string, error) {
	name, domain := "_", identifier
	if split := strings.Split(identifier, "@"); len(split) == 2 {
		name, domain = split[0], split[1]
	}
	if name == "" {
		name = "_"
	}
	name, domain = strings.ToLower(name), strings.ToLower(domain)

	u := fmt.Sprintf("https://%s/%s?name=%s", domain, Endpoint, url.QueryEscape(name))
	r := req.New()
	r.SetClient(n.client)
	res, err := r.Get(u, ctx, req.Header{"Accept": "application/json"})
	if err != nil {
		return "", nil, err
	}
	if res.Response().StatusCode >= 300 {
		return "", nil, fmt.Errorf("nip05 %s: HTTP %s", identifier, res.Response().Status)
	}
	body := res.Bytes()
	if !gjson.ValidBytes(body) {
		return "", nil, fmt.Errorf("nip05 %s: invalid nostr.json", identifier)
	}
	j := gjson.ParseBytes(body)
	pubkey := j.Get("names").Map()[name].String()
	if len(pubkey) != 64 {
		return "", nil, fmt.Errorf("nip05 %s: name not found", identifier)
	}
	var relays []string
	for _, relay := range j.Get("relays").Map()[pubkey].Array() {
		if s := relay.String(); s != "" {
			relays = append(relays, nostr.NormalizeURL(s))
		}
	}
	log.Debugf("[NostrNip05] %s is %s (%d relays)", identifier, pubkey, len(relays))
	return pubkey, relays, nil
}
