package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// Call records one invocation of the mock.
type Call struct {
	Method    string
	InvoiceID string
	Payment   remote.PaymentParams
	Ref       remote.PaymentRef
}

// MockAPI is a mock implementation of remote.API for testing.
// Each method calls its Func field if set, otherwise returns a default result.
type MockAPI struct {
	ObtainInvoiceFunc               func(ctx context.Context, invoiceID string, creds remote.Credentials) (remote.Invoice, error)
	ObtainInvoicePaymentMethodsFunc func(ctx context.Context, invoiceID string, creds remote.Credentials) ([]remote.MethodDescriptor, error)
	CreatePaymentResourceFunc       func(ctx context.Context, params remote.PaymentResourceParams, creds remote.Credentials) (remote.PaymentResource, error)
	CreatePaymentFunc               func(ctx context.Context, invoiceID string, params remote.PaymentParams, creds remote.Credentials) (remote.Payment, error)
	ObtainInvoiceEventsFunc         func(ctx context.Context, invoiceID string, creds remote.Credentials) ([]remote.InvoiceEvent, error)
	ObtainPaymentFunc               func(ctx context.Context, invoiceID string, ref remote.PaymentRef, creds remote.Credentials) (remote.Payment, error)

	mu    sync.Mutex
	calls []Call
}

// NewMockAPI creates a new MockAPI.
func NewMockAPI() *MockAPI {
	return &MockAPI{}
}

func (m *MockAPI) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// Calls returns the recorded invocations of method, in order.
func (m *MockAPI) Calls(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// ObtainInvoice implements remote.API.
func (m *MockAPI) ObtainInvoice(ctx context.Context, invoiceID string, creds remote.Credentials) (remote.Invoice, error) {
	m.record(Call{Method: "ObtainInvoice", InvoiceID: invoiceID})
	if m.ObtainInvoiceFunc != nil {
		return m.ObtainInvoiceFunc(ctx, invoiceID, creds)
	}
	return remote.Invoice{ID: invoiceID, Status: remote.InvoiceUnpaid}, nil
}

// ObtainInvoicePaymentMethods implements remote.API.
func (m *MockAPI) ObtainInvoicePaymentMethods(ctx context.Context, invoiceID string, creds remote.Credentials) ([]remote.MethodDescriptor, error) {
	m.record(Call{Method: "ObtainInvoicePaymentMethods", InvoiceID: invoiceID})
	if m.ObtainInvoicePaymentMethodsFunc != nil {
		return m.ObtainInvoicePaymentMethodsFunc(ctx, invoiceID, creds)
	}
	return []remote.MethodDescriptor{{
		Method:         remote.MethodBankCard,
		PaymentSystems: []remote.PaymentSystem{remote.PaymentSystemVisa, remote.PaymentSystemMastercard},
	}}, nil
}

// CreatePaymentResource implements remote.API.
func (m *MockAPI) CreatePaymentResource(ctx context.Context, params remote.PaymentResourceParams, creds remote.Credentials) (remote.PaymentResource, error) {
	m.record(Call{Method: "CreatePaymentResource"})
	if m.CreatePaymentResourceFunc != nil {
		return m.CreatePaymentResourceFunc(ctx, params, creds)
	}
	return remote.PaymentResource{
		PaymentToolToken: "tool-" + uuid.NewString(),
		PaymentSession:   "session-" + uuid.NewString(),
	}, nil
}

// CreatePayment implements remote.API.
func (m *MockAPI) CreatePayment(ctx context.Context, invoiceID string, params remote.PaymentParams, creds remote.Credentials) (remote.Payment, error) {
	m.record(Call{Method: "CreatePayment", InvoiceID: invoiceID, Payment: params})
	if m.CreatePaymentFunc != nil {
		return m.CreatePaymentFunc(ctx, invoiceID, params, creds)
	}
	return remote.Payment{
		ID:         uuid.NewString(),
		ExternalID: params.ExternalID,
		InvoiceID:  invoiceID,
		Flow:       params.Flow,
		Payer:      params.Payer,
		Status:     remote.PaymentPending,
	}, nil
}

// ObtainInvoiceEvents implements remote.API.
func (m *MockAPI) ObtainInvoiceEvents(ctx context.Context, invoiceID string, creds remote.Credentials) ([]remote.InvoiceEvent, error) {
	m.record(Call{Method: "ObtainInvoiceEvents", InvoiceID: invoiceID})
	if m.ObtainInvoiceEventsFunc != nil {
		return m.ObtainInvoiceEventsFunc(ctx, invoiceID, creds)
	}
	return nil, nil
}

// ObtainPayment implements remote.API.
func (m *MockAPI) ObtainPayment(ctx context.Context, invoiceID string, ref remote.PaymentRef, creds remote.Credentials) (remote.Payment, error) {
	m.record(Call{Method: "ObtainPayment", InvoiceID: invoiceID, Ref: ref})
	if m.ObtainPaymentFunc != nil {
		return m.ObtainPaymentFunc(ctx, invoiceID, ref, creds)
	}
	return remote.Payment{}, remote.ServerFailure(404, remote.NewServerError(string(remote.ServerErrorPaymentNotFound), "payment not found"))
}

var _ remote.API = (*MockAPI)(nil)
