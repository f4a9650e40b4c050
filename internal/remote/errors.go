package remote

import (
	"errors"
	"fmt"
)

// ServerErrorCode is the closed set of business-rule rejections the backend
// reports. Codes the client does not know map to ServerErrorUnknown and keep
// the raw string in ServerError.RawCode.
type ServerErrorCode string

const (
	ServerErrorInvalidRequest               ServerErrorCode = "invalidRequest"
	ServerErrorInvalidDeadline              ServerErrorCode = "invalidDeadline"
	ServerErrorInvalidPartyStatus           ServerErrorCode = "invalidPartyStatus"
	ServerErrorInvalidShopStatus            ServerErrorCode = "invalidShopStatus"
	ServerErrorInvalidInvoiceStatus         ServerErrorCode = "invalidInvoiceStatus"
	ServerErrorInvalidInvoiceCost           ServerErrorCode = "invalidInvoiceCost"
	ServerErrorInvoicePaymentPending        ServerErrorCode = "invoicePaymentPending"
	ServerErrorInvoiceTermsViolated         ServerErrorCode = "invoiceTermsViolated"
	ServerErrorInvoicePaymentAmountExceeded ServerErrorCode = "invoicePaymentAmountExceeded"
	ServerErrorInvalidPaymentResource       ServerErrorCode = "invalidPaymentResource"
	ServerErrorInvalidPaymentToolToken      ServerErrorCode = "invalidPaymentToolToken"
	ServerErrorInvalidPaymentSession        ServerErrorCode = "invalidPaymentSession"
	ServerErrorInvalidProcessingDeadline    ServerErrorCode = "invalidProcessingDeadline"
	ServerErrorExternalIDConflict           ServerErrorCode = "externalIDConflict"
	ServerErrorOperationNotPermitted        ServerErrorCode = "operationNotPermitted"
	ServerErrorInvoiceNotFound              ServerErrorCode = "invoiceNotFound"
	ServerErrorPaymentNotFound              ServerErrorCode = "paymentNotFound"
	ServerErrorInsufficientFunds            ServerErrorCode = "insufficientFunds"
	ServerErrorInvalidPaymentTool           ServerErrorCode = "invalidPaymentTool"
	ServerErrorRejectedByIssuer             ServerErrorCode = "rejectedByIssuer"
	ServerErrorPaymentRejected              ServerErrorCode = "paymentRejected"
	ServerErrorPreauthorizationFailed       ServerErrorCode = "preauthorizationFailed"
	ServerErrorAuthorizationFailed          ServerErrorCode = "authorizationFailed"
	ServerErrorAccountLimitExceeded         ServerErrorCode = "accountLimitExceeded"
	ServerErrorAccountBlocked               ServerErrorCode = "accountBlocked"
	ServerErrorAccountNotFound              ServerErrorCode = "accountNotFound"
	ServerErrorUnknown                      ServerErrorCode = "unknown"
)

var knownServerErrorCodes = map[ServerErrorCode]struct{}{
	ServerErrorInvalidRequest:               {},
	ServerErrorInvalidDeadline:              {},
	ServerErrorInvalidPartyStatus:           {},
	ServerErrorInvalidShopStatus:            {},
	ServerErrorInvalidInvoiceStatus:         {},
	ServerErrorInvalidInvoiceCost:           {},
	ServerErrorInvoicePaymentPending:        {},
	ServerErrorInvoiceTermsViolated:         {},
	ServerErrorInvoicePaymentAmountExceeded: {},
	ServerErrorInvalidPaymentResource:       {},
	ServerErrorInvalidPaymentToolToken:      {},
	ServerErrorInvalidPaymentSession:        {},
	ServerErrorInvalidProcessingDeadline:    {},
	ServerErrorExternalIDConflict:           {},
	ServerErrorOperationNotPermitted:        {},
	ServerErrorInvoiceNotFound:              {},
	ServerErrorPaymentNotFound:              {},
	ServerErrorInsufficientFunds:            {},
	ServerErrorInvalidPaymentTool:           {},
	ServerErrorRejectedByIssuer:             {},
	ServerErrorPaymentRejected:              {},
	ServerErrorPreauthorizationFailed:       {},
	ServerErrorAuthorizationFailed:          {},
	ServerErrorAccountLimitExceeded:         {},
	ServerErrorAccountBlocked:               {},
	ServerErrorAccountNotFound:              {},
}

// ParseServerErrorCode maps a wire code to the closed enum.
func ParseServerErrorCode(raw string) ServerErrorCode {
	code := ServerErrorCode(raw)
	if _, ok := knownServerErrorCodes[code]; ok {
		return code
	}
	return ServerErrorUnknown
}

// ServerError is a structured rejection returned by the backend.
type ServerError struct {
	Code    ServerErrorCode
	RawCode string
	Message string
}

// NewServerError builds a ServerError from a wire code, keeping the raw value.
func NewServerError(rawCode, message string) ServerError {
	return ServerError{Code: ParseServerErrorCode(rawCode), RawCode: rawCode, Message: message}
}

func (e ServerError) String() string {
	code := string(e.Code)
	if e.Code == ServerErrorUnknown && e.RawCode != "" {
		code = fmt.Sprintf("unknown(%s)", e.RawCode)
	}
	if e.Message == "" {
		return code
	}
	return fmt.Sprintf("%s: %s", code, e.Message)
}

// Error lets a rejection reported inside an invoice event travel as an error.
func (e *ServerError) Error() string {
	return "server error: " + e.String()
}

// NetworkErrorKind enumerates the ways a remote call can fail above transport level.
type NetworkErrorKind int

const (
	CannotEncodeRequestBody NetworkErrorKind = iota
	CannotMapResponse
	WrongResponseType
	UnacceptableStatusCode
	ServerErrorResponse
)

func (k NetworkErrorKind) String() string {
	switch k {
	case CannotEncodeRequestBody:
		return "cannotEncodeRequestBody"
	case CannotMapResponse:
		return "cannotMapResponse"
	case WrongResponseType:
		return "wrongResponseType"
	case UnacceptableStatusCode:
		return "unacceptableStatusCode"
	case ServerErrorResponse:
		return "serverError"
	default:
		return fmt.Sprintf("NetworkErrorKind(%d)", int(k))
	}
}

// NetworkError is returned by API implementations. Server is set only for
// ServerErrorResponse and StatusCode only for UnacceptableStatusCode and
// ServerErrorResponse.
type NetworkError struct {
	Kind       NetworkErrorKind
	StatusCode int
	Server     *ServerError
	Err        error
}

func (e *NetworkError) Error() string {
	switch e.Kind {
	case UnacceptableStatusCode:
		return fmt.Sprintf("network: unacceptable status code %d", e.StatusCode)
	case ServerErrorResponse:
		if e.Server != nil {
			return fmt.Sprintf("network: server error: %s", e.Server.String())
		}
		return "network: server error"
	default:
		if e.Err != nil {
			return fmt.Sprintf("network: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("network: %s", e.Kind)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ServerFailure wraps a structured backend rejection.
func ServerFailure(statusCode int, serverErr ServerError) *NetworkError {
	return &NetworkError{Kind: ServerErrorResponse, StatusCode: statusCode, Server: &serverErr}
}

// AsServerError extracts the backend rejection carried by err, if any.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) && se != nil {
		return se, true
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.Kind == ServerErrorResponse && netErr.Server != nil {
		return netErr.Server, true
	}
	return nil, false
}

// IsServerError reports whether err is a server-domain rejection as opposed to
// a transport or mapping failure.
func IsServerError(err error) bool {
	_, ok := AsServerError(err)
	return ok
}
