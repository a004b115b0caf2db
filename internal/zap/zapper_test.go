package zap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	golnurl "github.com/fiatjaf/go-lnurl"
	"github.com/massmux/zapper/internal/errors"
	"github.com/massmux/zapper/internal/lnurl"
	"github.com/massmux/zapper/internal/nip05"
	"github.com/massmux/zapper/internal/profile"
	"github.com/massmux/zapper/internal/relay/relaytest"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payServer struct {
	*httptest.Server
	mu      sync.Mutex
	request *nostr.Event
	amount  string
}

func newPayServer(t *testing.T) *payServer {
	s := &payServer{}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/lnurlp/alice":
			fmt.Fprintf(w, `{"tag":"payRequest","callback":"%s/cb","minSendable":1000,"maxSendable":1000000000,"metadata":"[]","allowsNostr":true,"nostrPubkey":"abcd"}`, s.URL)
		case "/.well-known/nostr.json":
			fmt.Fprintf(w, `{"names":{"alice":"%s"}}`, alice)
		case "/cb":
			var ev nostr.Event
			if err := json.Unmarshal([]byte(r.URL.Query().Get("nostr")), &ev); err != nil {
				fmt.Fprint(w, `{"status":"ERROR","reason":"bad zap request"}`)
				return
			}
			s.mu.Lock()
			s.request = &ev
			s.amount = r.URL.Query().Get("amount")
			s.mu.Unlock()
			fmt.Fprint(w, `{"pr":"lnbc210n1fake"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *payServer) lastRequest() (*nostr.Event, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request, s.amount
}

func newTestZapper(t *testing.T, srv *payServer, dialer *relaytest.Dialer, opts ...BuilderOption) *Zapper {
	return New(Options{
		Profiles:      profile.NewResolver(dialer, []string{"wss://profiles.example"}, profile.NewMemoryCache()),
		Endpoints:     lnurl.NewDeriver(srv.Client()),
		Builder:       NewBuilder(opts...),
		Invoices:      lnurl.NewInvoiceFetcher(srv.Client(), lnurl.WithAmountVerification(false)),
		NIP05:         nip05.New(srv.Client()),
		Dialer:        dialer,
		ReceiptRelays: []string{relayA},
		FallbackRelay: fallback,
		PollInterval:  20 * time.Millisecond,
	})
}

func profileRelay(content string) *relaytest.Relay {
	return relaytest.NewRelay("wss://profiles.example",
		&nostr.Event{Kind: profile.KindMetadata, PubKey: alice, CreatedAt: 1, Content: content})
}

func TestZapPipeline(t *testing.T) {
	srv := newPayServer(t)
	host := strings.TrimPrefix(srv.URL, "https://")
	profiles := profileRelay(fmt.Sprintf(`{"name":"alice","lud16":"alice@%s"}`, host))
	a, fb := relaytest.NewRelay(relayA), relaytest.NewRelay(fallback)
	dialer := relaytest.NewDialer(profiles, a, fb)
	signer := testSigner(t)
	z := newTestZapper(t, srv, dialer, WithSigner(signer))

	npub, _ := nip19.EncodePublicKey(alice)
	nevent, err := nip19.EncodeEvent(noteID, []string{"wss://hint.example"}, alice)
	require.NoError(t, err)

	matched := make(chan *nostr.Event, 1)
	attempt, err := z.Zap(context.Background(), Params{
		Author:      npub,
		Note:        nevent,
		AmountMsats: 21000,
		Comment:     "thanks",
	}, func(ev *nostr.Event) { matched <- ev })
	require.NoError(t, err)
	defer attempt.Watcher.Cancel()

	assert.Equal(t, "lnbc210n1fake", attempt.Invoice)
	assert.Equal(t, "alice", attempt.Header.Name)
	assert.Equal(t, []string{relayA, "wss://hint.example"}, attempt.Relays)
	assert.Equal(t, srv.URL+"/cb", attempt.Endpoint.Callback)

	request, amount := srv.lastRequest()
	require.NotNil(t, request)
	assert.Equal(t, "21000", amount)
	assert.Equal(t, signer.PublicKey(), request.PubKey)
	assert.Equal(t, "thanks", request.Content)
	assert.NoError(t, Validate(request, 21000))
	lnurlTag := tagValues(request, "lnurl")
	require.Len(t, lnurlTag, 1)
	u, err := golnurl.LNURLDecode(lnurlTag[0])
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/.well-known/lnurlp/alice", u)

	require.Eventually(t, func() bool { return a.LiveSubscriptions() > 0 }, time.Second, 5*time.Millisecond)
	a.Emit(receipt("lnbc210n1fake", nostr.Now()))
	select {
	case ev := <-matched:
		assert.Equal(t, []string{"lnbc210n1fake"}, tagValues(ev, "bolt11"))
	case <-time.After(time.Second):
		t.Fatal("receipt not matched")
	}
	waitDone(t, attempt.Watcher)
	assert.Zero(t, profiles.Open())
}

func TestZapPipelineErrors(t *testing.T) {
	srv := newPayServer(t)
	npub, _ := nip19.EncodePublicKey(alice)

	cases := map[string]struct {
		relay *relaytest.Relay
		kind  errors.ZapErrorType
	}{
		"no profile":     {relaytest.NewRelay("wss://profiles.example"), errors.ProfileFetchError},
		"broken content": {profileRelay(`{"name":`), errors.MetadataParseError},
		"no address":     {profileRelay(`{"name":"alice"}`), errors.EndpointResolutionError},
	}
	for name, c := range cases {
		z := newTestZapper(t, srv, relaytest.NewDialer(c.relay))
		_, err := z.RequestInvoice(context.Background(), Params{Author: npub, AmountMsats: 21000})
		require.Error(t, err, name)
		assert.Equal(t, c.kind, errors.KindOf(err), name)
	}

	z := newTestZapper(t, srv, relaytest.NewDialer())
	_, err := z.RequestInvoice(context.Background(), Params{Author: "bogus", AmountMsats: 21000})
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestZapHeader(t *testing.T) {
	srv := newPayServer(t)
	z := newTestZapper(t, srv, relaytest.NewDialer(profileRelay(`{"display_name":"Alice","picture":"https://x/a.png"}`)))
	h, err := z.Header(context.Background(), alice, "")
	require.NoError(t, err)
	assert.Equal(t, "Alice", h.Name)
	assert.Equal(t, "https://x/a.png", h.Picture)
}

func TestZapHeaderFromNip05(t *testing.T) {
	srv := newPayServer(t)
	host := strings.TrimPrefix(srv.URL, "https://")
	z := newTestZapper(t, srv, relaytest.NewDialer(profileRelay(`{"name":"alice"}`)))

	h, err := z.Header(context.Background(), "alice@"+host, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", h.Name)

	_, err = z.Header(context.Background(), "bob@"+host, "")
	assert.Equal(t, errors.ProfileFetchError, errors.KindOf(err))
}
