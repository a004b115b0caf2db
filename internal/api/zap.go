package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/massmux/zapper/internal/errors"
	"github.com/massmux/zapper/internal/handoff"
	"github.com/massmux/zapper/internal/rate"
	"github.com/massmux/zapper/internal/zap"
	"github.com/nbd-wtf/go-nostr"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/r3labs/sse/v2"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
)

const maxZapAmountSats = 21_000_000 * 100_000_000

// DefaultPaidRetention is how long a paid zap and its stream stay around for
// late subscribers.
const DefaultPaidRetention = time.Minute

type Service struct {
	zapper         *zap.Zapper
	preferences    *handoff.Preferences
	events         *sse.Server
	attempts       cmap.ConcurrentMap
	limiter        *rate.Limiter
	proxies        TrustedProxies
	defaultComment string
	paidRetention  time.Duration
}

type ServiceOption func(*Service)

func WithLimiter(l *rate.Limiter) ServiceOption {
	return func(s *Service) {
		s.limiter = l
	}
}

func WithTrustedProxies(proxies TrustedProxies) ServiceOption {
	return func(s *Service) {
		s.proxies = proxies
	}
}

func WithPaidRetention(d time.Duration) ServiceOption {
	return func(s *Service) {
		s.paidRetention = d
	}
}

func WithDefaultComment(comment string) ServiceOption {
	return func(s *Service) {
		s.defaultComment = comment
	}
}

func NewService(zapper *zap.Zapper, preferences *handoff.Preferences, opts ...ServiceOption) *Service {
	s := &Service{
		zapper:        zapper,
		preferences:   preferences,
		events:        sse.New(),
		attempts:      cmap.New(),
		paidRetention: DefaultPaidRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds all zap routes to the server.
func (s *Service) Register(server *Server) {
	createZap := s.CreateZap
	if s.limiter != nil {
		createZap = RateLimitMiddleware(s.limiter, s.proxies, createZap)
	}
	server.AppendRoute("/api/v1/profile/{author}", s.Profile, http.MethodGet)
	server.AppendRoute("/api/v1/zap", createZap, http.MethodPost)
	server.AppendRoute("/api/v1/zap/{id}/events", s.Events, http.MethodGet)
	server.AppendRoute("/api/v1/zap/{id}/qr.png", s.QRCode, http.MethodGet)
	server.AppendRoute("/api/v1/zap/{id}", s.CancelZap, http.MethodDelete)
	server.AppendRoute("/api/v1/preference/wallet", s.WalletPreference, http.MethodGet)
	server.AppendRoute("/api/v1/preference/wallet", s.SetWalletPreference, http.MethodPut)
}

// Close cancels every running watcher.
func (s *Service) Close() {
	for _, id := range s.attempts.Keys() {
		s.cancel(id)
	}
	s.events.Close()
}

type ErrorResponse struct {
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

func RespondError(w http.ResponseWriter, status int, message, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Message: message, Kind: kind})
}

// respondZapError maps an attempt error to a status code. Upstream failures
// are 502, bad input is 400.
func respondZapError(w http.ResponseWriter, err error) {
	if stderrors.Is(err, zap.ErrInvalidIdentity) {
		RespondError(w, http.StatusBadRequest, err.Error(), "invalid_identifier")
		return
	}
	kind := errors.KindOf(err)
	status := http.StatusBadGateway
	switch kind {
	case errors.ZapRequestValidationError:
		status = http.StatusBadRequest
	case errors.UnknownError:
		status = http.StatusInternalServerError
	}
	RespondError(w, status, err.Error(), kind.String())
}

func (s *Service) Profile(w http.ResponseWriter, r *http.Request) {
	header, err := s.zapper.Header(r.Context(), mux.Vars(r)["author"], r.URL.Query().Get("note"))
	if err != nil {
		log.Warnf("[api] profile: %v", err)
		respondZapError(w, err)
		return
	}
	WriteResponse(w, header)
}

type CreateZapRequest struct {
	Author    string   `json:"author"`
	Note      string   `json:"note,omitempty"`
	Amount    int64    `json:"amount"`
	Comment   string   `json:"comment,omitempty"`
	Anonymous bool     `json:"anonymous"`
	Relays    []string `json:"relays,omitempty"`
}

type CreateZapResponse struct {
	ID        string         `json:"id"`
	Invoice   string         `json:"invoice"`
	WalletURI string         `json:"wallet_uri"`
	Scheme    handoff.Scheme `json:"scheme"`
	Header    zap.Header     `json:"header"`
}

type PaidEvent struct {
	ID      string `json:"id"`
	Receipt string `json:"receipt"`
	PaidAt  int64  `json:"paid_at"`
}

func (s *Service) CreateZap(w http.ResponseWriter, r *http.Request) {
	var body CreateZapRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	if body.Author == "" {
		RespondError(w, http.StatusBadRequest, "author is required", "bad_request")
		return
	}
	if body.Amount <= 0 || body.Amount > maxZapAmountSats {
		RespondError(w, http.StatusBadRequest, "amount must be a positive number of sats", "bad_request")
		return
	}
	comment := strings.TrimSpace(body.Comment)
	if comment == "" {
		comment = s.defaultComment
	}

	a, err := s.zapper.RequestInvoice(r.Context(), zap.Params{
		Author:      body.Author,
		Note:        body.Note,
		AmountMsats: body.Amount * 1000,
		Comment:     comment,
		Anonymous:   body.Anonymous,
		Relays:      body.Relays,
	})
	if err != nil {
		log.Warnf("[api] zap %s: %v", body.Author, err)
		respondZapError(w, err)
		return
	}

	id := uuid.NewV4().String()
	s.events.CreateStream(id)
	s.zapper.Watch(a, func(receipt *nostr.Event) {
		s.paid(id, receipt)
	})
	s.attempts.Set(id, a)

	scheme := s.preferences.Scheme()
	uri, err := handoff.URI(scheme.Prefix, a.Invoice)
	if err != nil {
		uri = handoff.DefaultScheme + a.Invoice
	}
	log.Infof("[api] zap %s created for %s (%d sat)", id, body.Author, body.Amount)
	WriteResponse(w, CreateZapResponse{
		ID:        id,
		Invoice:   a.Invoice,
		WalletURI: uri,
		Scheme:    scheme,
		Header:    a.Header,
	})
}

func (s *Service) paid(id string, receipt *nostr.Event) {
	data, err := json.Marshal(PaidEvent{ID: id, Receipt: receipt.ID, PaidAt: time.Now().Unix()})
	if err != nil {
		log.Errorf("[api] %s: %v", id, err)
		return
	}
	s.events.Publish(id, &sse.Event{Event: []byte("paid"), Data: data})
	time.AfterFunc(s.paidRetention, func() {
		s.cancel(id)
	})
}

func (s *Service) attempt(id string) (*zap.Attempt, bool) {
	if a, ok := s.attempts.Get(id); ok {
		return a.(*zap.Attempt), true
	}
	return nil, false
}

// Events streams the paid event of a zap.
func (s *Service) Events(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.attempt(id); !ok {
		RespondError(w, http.StatusNotFound, fmt.Sprintf("unknown zap %s", id), "not_found")
		return
	}
	q := r.URL.Query()
	q.Set("stream", id)
	r.URL.RawQuery = q.Encode()
	s.events.ServeHTTP(w, r)
}

// CancelZap stops watching for the receipt. Unknown and finished zaps are
// fine, the call is idempotent.
func (s *Service) CancelZap(w http.ResponseWriter, r *http.Request) {
	s.cancel(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) cancel(id string) {
	a, ok := s.attempt(id)
	if !ok {
		return
	}
	a.Watcher.Cancel()
	s.attempts.Remove(id)
	s.events.RemoveStream(id)
	log.Debugf("[api] zap %s removed (%s)", id, a.Watcher.State())
}

func (s *Service) QRCode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	a, ok := s.attempt(id)
	if !ok {
		RespondError(w, http.StatusNotFound, fmt.Sprintf("unknown zap %s", id), "not_found")
		return
	}
	png, err := handoff.QRCode(a.Invoice, 256)
	if err != nil {
		RespondError(w, http.StatusInternalServerError, "could not render qr code", "unknown")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

type WalletPreferenceResponse struct {
	Scheme  handoff.Scheme   `json:"scheme"`
	Schemes []handoff.Scheme `json:"schemes"`
}

func (s *Service) WalletPreference(w http.ResponseWriter, r *http.Request) {
	WriteResponse(w, WalletPreferenceResponse{Scheme: s.preferences.Scheme(), Schemes: handoff.Schemes})
}

func (s *Service) SetWalletPreference(w http.ResponseWriter, r *http.Request) {
	var body handoff.Scheme
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	if err := s.preferences.Remember(body.Prefix); err != nil {
		RespondError(w, http.StatusBadRequest, err.Error(), "bad_request")
		return
	}
	s.WalletPreference(w, r)
}
