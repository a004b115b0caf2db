package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/configor"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

var Configuration = struct {
	Api      ApiConfiguration      `yaml:"api"`
	Nostr    NostrConfiguration    `yaml:"nostr"`
	Zap      ZapConfiguration      `yaml:"zap"`
	Database DatabaseConfiguration `yaml:"database"`
	Network  NetworkConfiguration  `yaml:"network"`
	LogLevel string                `yaml:"log_level" default:"info"`
}{}

type ApiConfiguration struct {
	Host           string   `yaml:"host" default:"0.0.0.0:5454"`
	AllowedOrigin  string   `yaml:"allowed_origin" default:"*"`
	RateLimit      float64  `yaml:"rate_limit" default:"0.5"`
	RateBurst      int      `yaml:"rate_burst" default:"10"`
	// TrustedProxies are the addresses or CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type NostrConfiguration struct {
	// PrivateKey is the host signing capability. Leave empty to zap anonymously only.
	PrivateKey    string        `yaml:"private_key"`
	ProfileRelays []string      `yaml:"profile_relays"`
	ReceiptRelays []string      `yaml:"receipt_relays"`
	FallbackRelay string        `yaml:"fallback_relay" default:"wss://relay.nostr.band"`
	PollInterval  time.Duration `yaml:"poll_interval" default:"5s"`
	QueryTimeout  time.Duration `yaml:"query_timeout" default:"8s"`
}

type ZapConfiguration struct {
	ValidateRequest     bool   `yaml:"validate_request" default:"true"`
	VerifyInvoiceAmount bool   `yaml:"verify_invoice_amount" default:"true"`
	DefaultComment      string `yaml:"default_comment"`
}

type DatabaseConfiguration struct {
	BuntDbPath string `yaml:"buntdb_path" default:"data/zapper.db"`
}

type SocksConfiguration struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type NetworkConfiguration struct {
	SocksProxy *SocksConfiguration `yaml:"socks_proxy,omitempty"`
	Timeout    time.Duration       `yaml:"timeout" default:"10s"`
}

var defaultProfileRelays = []string{
	"wss://relay.nostr.band",
	"wss://purplepag.es",
	"wss://relay.damus.io",
	"wss://nostr.wine",
}

var defaultReceiptRelays = []string{
	"wss://relay.nostr.band",
	"wss://relay.damus.io",
	"wss://nos.lol",
}

func init() {
	err := configor.New(&configor.Config{ENVPrefix: "ZAPPER"}).Load(&Configuration, "config.yaml")
	if err != nil {
		panic(err)
	}
	checkNostrConfiguration()
}

func checkNostrConfiguration() {
	if len(Configuration.Nostr.ProfileRelays) == 0 {
		Configuration.Nostr.ProfileRelays = append([]string(nil), defaultProfileRelays...)
	}
	if len(Configuration.Nostr.ReceiptRelays) == 0 {
		Configuration.Nostr.ReceiptRelays = append([]string(nil), defaultReceiptRelays...)
	}
	for i, r := range Configuration.Nostr.ProfileRelays {
		Configuration.Nostr.ProfileRelays[i] = nostr.NormalizeURL(r)
	}
	if Configuration.Nostr.FallbackRelay != "" && !strings.HasPrefix(Configuration.Nostr.FallbackRelay, "ws") {
		panic(fmt.Errorf("fallback relay must be a websocket url: %s", Configuration.Nostr.FallbackRelay))
	}
	if Configuration.Nostr.PrivateKey == "" {
		log.Warnf("[Config] No nostr private key configured. All zaps will be anonymous.")
	}
}
