package errors

import (
	"encoding/json"
	stderrors "errors"
)

type ZapErrorType int

const (
	UnknownError ZapErrorType = iota
)

const (
	ProfileFetchError ZapErrorType = 1000 + iota
	MetadataParseError
	EndpointResolutionError
	ZapRequestValidationError
	InvoiceRequestError
)

var kindNames = map[ZapErrorType]string{
	UnknownError:              "unknown",
	ProfileFetchError:         "profile_fetch",
	MetadataParseError:        "metadata_parse",
	EndpointResolutionError:   "endpoint_resolution",
	ZapRequestValidationError: "zap_request_validation",
	InvoiceRequestError:       "invoice_request",
}

func (t ZapErrorType) String() string {
	if name, ok := kindNames[t]; ok {
		return name
	}
	return kindNames[UnknownError]
}

func (t ZapErrorType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// ZapError terminates the current zap attempt. Reason holds text supplied by
// a remote party (LNURL server, validator) and is kept apart from Message so
// callers do not have to parse it back out.
type ZapError struct {
	Message string       `json:"message"`
	Reason  string       `json:"reason,omitempty"`
	Err     error        `json:"-"`
	Code    ZapErrorType `json:"code"`
}

func New(code ZapErrorType, err error) ZapError {
	return ZapError{Err: err, Message: err.Error(), Code: code}
}

// Create returns the default error of a kind.
func Create(code ZapErrorType) ZapError {
	if e, ok := errMap[code]; ok {
		return e
	}
	return errMap[UnknownError]
}

// WithReason returns an error of kind code whose message is the remote reason.
func WithReason(code ZapErrorType, reason string) ZapError {
	return ZapError{Err: stderrors.New(reason), Message: reason, Reason: reason, Code: code}
}

func (e ZapError) Error() string {
	return e.Message
}

func (e ZapError) Unwrap() error {
	return e.Err
}

// Is matches any ZapError of the same kind.
func (e ZapError) Is(target error) bool {
	var t ZapError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// KindOf returns the kind of err, UnknownError if err is not a ZapError.
func KindOf(err error) ZapErrorType {
	var e ZapError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return UnknownError
}
