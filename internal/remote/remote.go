// Package remote defines the processing backend's data model and the
// request/response operations the checkout consumes. Implementations live in
// subpackages: httpapi talks to a real backend, mock is for tests.
package remote

import (
	"context"

	"github.com/google/uuid"
)

// API is the stateless request/response surface of the processing backend.
// Every method fails with a *NetworkError on protocol or server problems and
// with a plain wrapped error on transport problems.
type API interface {
	ObtainInvoice(ctx context.Context, invoiceID string, creds Credentials) (Invoice, error)
	ObtainInvoicePaymentMethods(ctx context.Context, invoiceID string, creds Credentials) ([]MethodDescriptor, error)
	CreatePaymentResource(ctx context.Context, params PaymentResourceParams, creds Credentials) (PaymentResource, error)
	CreatePayment(ctx context.Context, invoiceID string, params PaymentParams, creds Credentials) (Payment, error)
	ObtainInvoiceEvents(ctx context.Context, invoiceID string, creds Credentials) ([]InvoiceEvent, error)
	ObtainPayment(ctx context.Context, invoiceID string, ref PaymentRef, creds Credentials) (Payment, error)
}

// IDGenerator produces external identifiers for payment creation.
type IDGenerator interface {
	NewExternalID() string
}

// UUIDGenerator issues random UUIDs, unique per attempt.
type UUIDGenerator struct{}

// NewExternalID implements IDGenerator.
func (UUIDGenerator) NewExternalID() string {
	return uuid.NewString()
}
