// Package handoff passes an invoice on to a wallet.
package handoff

import (
	"errors"
	"fmt"
	"strings"

	"github.com/massmux/zapper/internal/storage"
	log "github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

const (
	DefaultScheme = "lightning:"
	PreferenceKey = "wallet-uri-scheme"
)

// Scheme is a wallet URI prefix an invoice is appended to.
type Scheme struct {
	Label  string `json:"label"`
	Prefix string `json:"prefix"`
}

var Schemes = []Scheme{
	{Label: "Default Wallet", Prefix: "lightning:"},
	{Label: "Strike", Prefix: "strike:lightning:"},
	{Label: "Cash App", Prefix: "https://cash.app/launch/lightning/"},
	{Label: "Muun", Prefix: "muun:"},
	{Label: "Blue Wallet", Prefix: "bluewallet:lightning:"},
	{Label: "Wallet of Satoshi", Prefix: "walletofsatoshi:lightning:"},
	{Label: "Zebedee", Prefix: "zebedee:lightning:"},
	{Label: "Zeus LN", Prefix: "zeusln:lightning:"},
	{Label: "Phoenix", Prefix: "phoenix://"},
	{Label: "Breez", Prefix: "breez:"},
	{Label: "Bitcoin Beach", Prefix: "bitcoinbeach://"},
	{Label: "Blixt", Prefix: "blixtwallet:lightning:"},
	{Label: "River", Prefix: "river://"},
}

func FindScheme(prefix string) (Scheme, bool) {
	for _, s := range Schemes {
		if s.Prefix == prefix {
			return s, true
		}
	}
	return Scheme{}, false
}

// URI returns the wallet link for invoice.
func URI(prefix, invoice string) (string, error) {
	if _, ok := FindScheme(prefix); !ok {
		return "", fmt.Errorf("unknown wallet scheme %q", prefix)
	}
	return prefix + invoice, nil
}

// QRCode renders lightning:<invoice> as a PNG.
func QRCode(invoice string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(DefaultScheme+strings.ToLower(invoice), qrcode.Medium, size)
}

// Store is the key value store the preference lives in.
type Store interface {
	GetString(key string) (string, error)
	SetString(key, value string) error
}

// Preferences remembers the last wallet scheme the user chose.
type Preferences struct {
	store Store
}

func NewPreferences(store Store) *Preferences {
	return &Preferences{store: store}
}

// Scheme returns the remembered scheme, or the default one.
func (p *Preferences) Scheme() Scheme {
	def, _ := FindScheme(DefaultScheme)
	prefix, err := p.store.GetString(PreferenceKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warnf("[Handoff] could not read wallet preference: %v", err)
		}
		return def
	}
	if s, ok := FindScheme(prefix); ok {
		return s
	}
	return def
}

func (p *Preferences) Remember(prefix string) error {
	if _, ok := FindScheme(prefix); !ok {
		return fmt.Errorf("unknown wallet scheme %q", prefix)
	}
	return p.store.SetString(PreferenceKey, prefix)
}
