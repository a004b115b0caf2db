package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/massmux/zapper/internal/handoff"
	"github.com/massmux/zapper/internal/lnurl"
	"github.com/massmux/zapper/internal/profile"
	"github.com/massmux/zapper/internal/rate"
	"github.com/massmux/zapper/internal/relay/relaytest"
	"github.com/massmux/zapper/internal/storage"
	"github.com/massmux/zapper/internal/zap"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice       = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
	invoice     = "lnbc210n1fake"
	receiptURL  = "wss://receipts.example"
	fallbackURL = "wss://fallback.example"
)

type fixture struct {
	api      *httptest.Server
	receipts *relaytest.Relay
	service  *Service
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	pay := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/lnurlp/alice":
			fmt.Fprintf(w, `{"tag":"payRequest","callback":"https://%s/cb","minSendable":1000,"maxSendable":1000000000,"metadata":"[]","allowsNostr":true,"nostrPubkey":"abcd"}`, r.Host)
		case "/cb":
			fmt.Fprintf(w, `{"pr":"%s"}`, invoice)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(pay.Close)

	host := strings.TrimPrefix(pay.URL, "https://")
	profiles := relaytest.NewRelay("wss://profiles.example", &nostr.Event{
		Kind: profile.KindMetadata, PubKey: alice, CreatedAt: 1,
		Content: fmt.Sprintf(`{"name":"alice","lud16":"alice@%s"}`, host),
	})
	receipts := relaytest.NewRelay(receiptURL)
	dialer := relaytest.NewDialer(profiles, receipts, relaytest.NewRelay(fallbackURL))

	z := zap.New(zap.Options{
		Profiles:      profile.NewResolver(dialer, []string{"wss://profiles.example"}, nil),
		Endpoints:     lnurl.NewDeriver(pay.Client()),
		Builder:       zap.NewBuilder(),
		Invoices:      lnurl.NewInvoiceFetcher(pay.Client(), lnurl.WithAmountVerification(false)),
		Dialer:        dialer,
		ReceiptRelays: []string{receiptURL},
		FallbackRelay: fallbackURL,
		PollInterval:  20 * time.Millisecond,
	})
	db, err := storage.NewBunt(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	service := NewService(z, handoff.NewPreferences(db), opts...)
	server := NewServer("")
	server.Use(CORSMiddleware("*"))
	service.Register(server)
	api := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		service.Close()
		api.Close()
	})
	return &fixture{api: api, receipts: receipts, service: service}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.api.URL+path, &buf)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode(t *testing.T, res *http.Response, v interface{}) {
	require.NoError(t, json.NewDecoder(res.Body).Decode(v))
}

func (f *fixture) createZap(t *testing.T) CreateZapResponse {
	res := f.do(t, http.MethodPost, "/api/v1/zap", CreateZapRequest{Author: alice, Amount: 21, Comment: "gm"})
	require.Equal(t, http.StatusOK, res.StatusCode)
	var created CreateZapResponse
	decode(t, res, &created)
	return created
}

func TestProfile(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/api/v1/profile/"+alice, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var header zap.Header
	decode(t, res, &header)
	assert.Equal(t, "alice", header.Name)
	assert.Equal(t, zap.DefaultAvatar, header.Picture)

	res = f.do(t, http.MethodGet, "/api/v1/profile/npub1nope", nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/profile/"+strings.Repeat("b", 64), nil)
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	var e ErrorResponse
	decode(t, res, &e)
	assert.Equal(t, "profile_fetch", e.Kind)
}

func TestCreateZapAndReceipt(t *testing.T) {
	f := newFixture(t)
	created := f.createZap(t)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, invoice, created.Invoice)
	assert.Equal(t, "lightning:"+invoice, created.WalletURI)
	assert.Equal(t, "alice", created.Header.Name)

	require.Eventually(t, func() bool { return f.receipts.LiveSubscriptions() > 0 }, time.Second, 5*time.Millisecond)
	f.receipts.Emit(&nostr.Event{
		ID: "receipt1", Kind: zap.KindZapReceipt, CreatedAt: nostr.Now(),
		Tags: nostr.Tags{{"bolt11", invoice}},
	})
	a, ok := f.service.attempt(created.ID)
	require.True(t, ok)
	require.Eventually(t, func() bool { return a.Watcher.State() == zap.Matched }, time.Second, 5*time.Millisecond)

	// the stream replays the paid event to late subscribers
	res, err := http.Get(f.api.URL + "/api/v1/zap/" + created.ID + "/events")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()
	var event, data string
	timeout := time.After(2 * time.Second)
	for data == "" {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream closed before paid event")
			if strings.HasPrefix(line, "event: ") {
				event = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-timeout:
			t.Fatal("no paid event")
		}
	}
	var paid PaidEvent
	require.NoError(t, json.Unmarshal([]byte(data), &paid))
	assert.Equal(t, created.ID, paid.ID)
	assert.Equal(t, "receipt1", paid.Receipt)
	if event != "" {
		assert.Equal(t, "paid", event)
	}
}

func TestPaidZapExpires(t *testing.T) {
	f := newFixture(t, WithPaidRetention(50*time.Millisecond))
	created := f.createZap(t)
	require.Eventually(t, func() bool { return f.receipts.LiveSubscriptions() > 0 }, time.Second, 5*time.Millisecond)
	f.receipts.Emit(&nostr.Event{
		ID: "receipt1", Kind: zap.KindZapReceipt, CreatedAt: nostr.Now(),
		Tags: nostr.Tags{{"bolt11", invoice}},
	})

	require.Eventually(t, func() bool {
		_, ok := f.service.attempt(created.ID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.service.attempts.Count())
	assert.False(t, f.service.events.StreamExists(created.ID))

	res := f.do(t, http.MethodGet, "/api/v1/zap/"+created.ID+"/events", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestCancelZap(t *testing.T) {
	f := newFixture(t)
	created := f.createZap(t)
	require.Eventually(t, func() bool { return f.receipts.Open() > 0 }, time.Second, 5*time.Millisecond)

	res := f.do(t, http.MethodDelete, "/api/v1/zap/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Eventually(t, func() bool { return f.receipts.Open() == 0 }, time.Second, 5*time.Millisecond)

	res = f.do(t, http.MethodDelete, "/api/v1/zap/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res = f.do(t, http.MethodGet, "/api/v1/zap/"+created.ID+"/events", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestQRCode(t *testing.T) {
	f := newFixture(t)
	created := f.createZap(t)

	res := f.do(t, http.MethodGet, "/api/v1/zap/"+created.ID+"/qr.png", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "image/png", res.Header.Get("Content-Type"))

	res = f.do(t, http.MethodGet, "/api/v1/zap/unknown/qr.png", nil)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestWalletPreference(t *testing.T) {
	f := newFixture(t)

	res := f.do(t, http.MethodGet, "/api/v1/preference/wallet", nil)
	var pref WalletPreferenceResponse
	decode(t, res, &pref)
	assert.Equal(t, handoff.DefaultScheme, pref.Scheme.Prefix)
	assert.Equal(t, handoff.Schemes, pref.Schemes)

	res = f.do(t, http.MethodPut, "/api/v1/preference/wallet", handoff.Scheme{Prefix: "phoenix://"})
	require.Equal(t, http.StatusOK, res.StatusCode)

	res = f.do(t, http.MethodPut, "/api/v1/preference/wallet", handoff.Scheme{Prefix: "evil:"})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	created := f.createZap(t)
	assert.Equal(t, "phoenix://"+invoice, created.WalletURI)
}

func TestCreateZapBadInput(t *testing.T) {
	f := newFixture(t)
	for _, body := range []interface{}{
		CreateZapRequest{Author: alice},
		CreateZapRequest{Amount: 21},
		CreateZapRequest{Author: "npub1nope", Amount: 21},
		"not an object",
	} {
		res := f.do(t, http.MethodPost, "/api/v1/zap", body)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, body)
	}
}

func TestCreateZapRateLimit(t *testing.T) {
	f := newFixture(t, WithLimiter(rate.NewLimiter(0.001, 1)))
	f.createZap(t)
	res := f.do(t, http.MethodPost, "/api/v1/zap", CreateZapRequest{Author: alice, Amount: 21})
	assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestCreateZapRateLimitIgnoresSpoofedForwardedFor(t *testing.T) {
	f := newFixture(t, WithLimiter(rate.NewLimiter(0.001, 1)))
	for i, forwarded := range []string{"203.0.113.1", "203.0.113.2"} {
		body, err := json.Marshal(CreateZapRequest{Author: alice, Amount: 21})
		require.NoError(t, err)
		req, err := http.NewRequest(http.MethodPost, f.api.URL+"/api/v1/zap", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-Forwarded-For", forwarded)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		if i == 0 {
			assert.Equal(t, http.StatusOK, res.StatusCode)
		} else {
			assert.Equal(t, http.StatusTooManyRequests, res.StatusCode)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodOptions, "/api/v1/zap", nil)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}
