// Package checkout holds the vocabulary shared by the checkout components:
// the PaymentError taxonomy with its retry context, and the routes of the
// scenario's navigation state machine.
package checkout

import (
	"errors"
	"fmt"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// Code is the failure point of a checkout step.
type Code string

const (
	CannotObtainInvoice               Code = "cannotObtainInvoice"
	InvoiceExpired                    Code = "invoiceExpired"
	UnexpectedInvoiceStatus           Code = "unexpectedInvoiceStatus"
	CannotObtainInvoicePaymentMethods Code = "cannotObtainInvoicePaymentMethods"
	NoPaymentMethods                  Code = "noPaymentMethods"
	CannotCreatePaymentResource       Code = "cannotCreatePaymentResource"
	CannotCreatePayment               Code = "cannotCreatePayment"
	CannotObtainInvoiceEvents         Code = "cannotObtainInvoiceEvents"
	UserInteractionFailed             Code = "userInteractionFailed"
	InvoiceCancelled                  Code = "invoiceCancelled"
	PaymentCancelled                  Code = "paymentCancelled"
	PaymentFailed                     Code = "paymentFailed"
)

// PaymentMethod is a method the checkout can offer to the user.
type PaymentMethod string

const (
	MethodBankCard PaymentMethod = "bankCard"
	MethodApplePay PaymentMethod = "applePay"
)

// ErrorContext is the retry context of a PaymentError. A field is non-nil
// only when it was available at the point of failure.
type ErrorContext struct {
	Invoice        *remote.Invoice
	Payment        *remote.Payment
	Method         *PaymentMethod
	PaymentSystems []remote.PaymentSystem
	Resource       *remote.PaymentResource
	PayerEmail     *string
	ExternalID     *string
}

// PaymentError is the single failure type of the checkout. It is built at
// the moment a step fails and never mutated afterwards.
type PaymentError struct {
	Code    Code
	Err     error
	Context ErrorContext
}

// NewPaymentError creates a PaymentError; err may be nil.
func NewPaymentError(code Code, err error, ctx ErrorContext) *PaymentError {
	return &PaymentError{Code: code, Err: err, Context: ctx}
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("checkout: %s", e.Code)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// IsServerError reports whether the underlying error is a backend rejection.
func (e *PaymentError) IsServerError() bool {
	return remote.IsServerError(e.Err)
}

// ServerError returns the backend rejection behind the failure, if any.
func (e *PaymentError) ServerError() (*remote.ServerError, bool) {
	return remote.AsServerError(e.Err)
}

// ServerErrorCode returns the backend code behind the failure, if any.
func (e *PaymentError) ServerErrorCode() (remote.ServerErrorCode, bool) {
	se, ok := e.ServerError()
	if !ok {
		return "", false
	}
	return se.Code, true
}

// AsPaymentError extracts a *PaymentError from err's chain.
func AsPaymentError(err error) (*PaymentError, bool) {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Ptr returns a pointer to a copy of v, for filling ErrorContext.
func Ptr[T any](v T) *T {
	return &v
}
