package lnurl

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	decodepay "github.com/fiatjaf/ln-decodepay"
	"github.com/imroc/req"
	"github.com/massmux/zapper/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// InvoiceParams is everything the callback needs for one zap.
type InvoiceParams struct {
	Endpoint    *ZapEndpoint
	SignedEvent *nostr.Event
	AmountMsats int64
	Comment     string
}

type InvoiceFetcher struct {
	client       *http.Client
	verifyAmount bool
}

type InvoiceOption func(*InvoiceFetcher)

// WithAmountVerification decodes the returned invoice and rejects it when its
// amount differs from the requested one.
func WithAmountVerification(verify bool) InvoiceOption {
	return func(f *InvoiceFetcher) {
		f.verifyAmount = verify
	}
}

func NewInvoiceFetcher(client *http.Client, opts ...InvoiceOption) *InvoiceFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	f := &InvoiceFetcher{client: client, verifyAmount: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch calls the zap endpoint with the signed zap request and returns the
// BOLT11 invoice.
func (f *InvoiceFetcher) Fetch(ctx context.Context, p InvoiceParams) (string, error) {
	if p.Endpoint == nil || p.Endpoint.Callback == "" {
		return "", errors.New(errors.InvoiceRequestError, fmt.Errorf("no zap endpoint"))
	}
	if p.SignedEvent == nil {
		return "", errors.New(errors.InvoiceRequestError, fmt.Errorf("no zap request"))
	}
	if err := checkAmount(p.Endpoint, p.AmountMsats); err != nil {
		return "", err
	}
	callbackURL, err := f.callbackURL(p)
	if err != nil {
		return "", err
	}

	r := req.New()
	r.SetClient(f.client)
	res, err := r.Get(callbackURL, ctx, req.Header{"Accept": "application/json"})
	if err != nil {
		log.Errorf("[Invoice] callback request failed: %v", err)
		return "", errors.New(errors.InvoiceRequestError, fmt.Errorf("unable to fetch invoice: %w", err))
	}

	j := gjson.ParseBytes(res.Bytes())
	pr := strings.TrimSpace(j.Get("pr").String())
	if pr == "" {
		if strings.EqualFold(j.Get("status").String(), "ERROR") {
			reason := j.Get("reason").String()
			log.Warnf("[Invoice] callback returned error: %s", reason)
			if reason == "" {
				return "", errors.Create(errors.InvoiceRequestError)
			}
			return "", errors.WithReason(errors.InvoiceRequestError, reason)
		}
		log.Warnf("[Invoice] callback returned no invoice (HTTP %d)", res.Response().StatusCode)
		return "", errors.Create(errors.InvoiceRequestError)
	}

	if f.verifyAmount {
		bolt11, err := decodepay.Decodepay(pr)
		if err != nil {
			return "", errors.New(errors.InvoiceRequestError, fmt.Errorf("invalid invoice: %w", err))
		}
		if bolt11.MSatoshi != p.AmountMsats {
			return "", errors.New(errors.InvoiceRequestError,
				fmt.Errorf("invoice amount %d msat does not match requested %d msat", bolt11.MSatoshi, p.AmountMsats))
		}
	}
	log.Infof("[Invoice] received invoice for %d msat", p.AmountMsats)
	return pr, nil
}

func checkAmount(endpoint *ZapEndpoint, amountMsats int64) error {
	if amountMsats <= 0 {
		return errors.New(errors.InvoiceRequestError, fmt.Errorf("amount must be positive"))
	}
	// only if max and min are set
	if endpoint.MinSendable > 0 && endpoint.MaxSendable > 0 &&
		(amountMsats < endpoint.MinSendable || amountMsats > endpoint.MaxSendable) {
		return errors.New(errors.InvoiceRequestError,
			fmt.Errorf("amount not in range (min: %d sat, max: %d sat)", endpoint.MinSendable/1000, endpoint.MaxSendable/1000))
	}
	return nil
}

func (f *InvoiceFetcher) callbackURL(p InvoiceParams) (string, error) {
	callbackURL, err := url.Parse(p.Endpoint.Callback)
	if err != nil {
		return "", errors.New(errors.InvoiceRequestError, fmt.Errorf("invalid callback url: %w", err))
	}
	zapRequest, err := json.Marshal(p.SignedEvent)
	if err != nil {
		return "", errors.New(errors.InvoiceRequestError, fmt.Errorf("couldn't serialize zap request: %w", err))
	}

	qs := callbackURL.Query()
	qs.Set("amount", strconv.FormatInt(p.AmountMsats, 10))
	qs.Set("nostr", string(zapRequest))
	if p.Endpoint.LNURL != "" {
		qs.Set("lnurl", p.Endpoint.LNURL)
	}
	comment := truncateComment(p.Comment, p.Endpoint.CommentAllowed)
	if len(comment) > 0 {
		qs.Set("comment", comment)
	}
	callbackURL.RawQuery = qs.Encode()
	return callbackURL.String(), nil
}

// truncateComment shortens comment to the number of characters the
// endpoint allows. A limit of zero or less leaves the comment as is.
func truncateComment(comment string, allowed int64) string {
	if allowed <= 0 || int64(utf8.RuneCountInString(comment)) <= allowed {
		return comment
	}
	n := 0
	for count := int64(0); count < allowed; count++ {
		_, size := utf8.DecodeRuneInString(comment[n:])
		n += size
	}
	return comment[:n]
}
