package errors

import "fmt"

var errMap = map[ZapErrorType]ZapError{
	UnknownError:              unknown,
	ProfileFetchError:         profileFetch,
	MetadataParseError:        metadataParse,
	EndpointResolutionError:   endpointResolution,
	ZapRequestValidationError: zapRequestValidation,
	InvoiceRequestError:       invoiceRequest,
}

var (
	unknown              = ZapError{Err: fmt.Errorf("unknown error"), Message: "unknown error", Code: UnknownError}
	profileFetch         = ZapError{Err: fmt.Errorf("unable to fetch profile"), Message: "unable to fetch profile", Code: ProfileFetchError}
	metadataParse        = ZapError{Err: fmt.Errorf("unable to parse profile metadata"), Message: "unable to parse profile metadata", Code: MetadataParseError}
	endpointResolution   = ZapError{Err: fmt.Errorf("unable to resolve zap endpoint"), Message: "unable to resolve zap endpoint", Code: EndpointResolutionError}
	zapRequestValidation = ZapError{Err: fmt.Errorf("invalid zap request"), Message: "invalid zap request", Code: ZapRequestValidationError}
	invoiceRequest       = ZapError{Err: fmt.Errorf("unable to fetch invoice"), Message: "unable to fetch invoice", Code: InvoiceRequestError}
)
