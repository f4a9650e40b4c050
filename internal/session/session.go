// Package session holds what a checkout scenario is started with: the
// invoice, the credentials authorising calls on its behalf and the host
// application's constraints.
package session

import (
	"fmt"
	"sync"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// HostConfig is what the embedding application allows.
type HostConfig struct {
	AllowedMethods     []checkout.PaymentMethod
	ApplePayMerchantID string
}

// Allows reports whether the host application enables method.
func (h HostConfig) Allows(method checkout.PaymentMethod) bool {
	for _, m := range h.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// Session is the immutable input of one scenario.
type Session struct {
	InvoiceID   string
	Credentials remote.Credentials
	Host        HostConfig
	Trace       TraceContext
}

// NewSession validates its inputs and starts a new trace.
func NewSession(invoiceID, accessToken string, host HostConfig) (Session, error) {
	if invoiceID == "" {
		return Session{}, fmt.Errorf("session: invoice ID cannot be empty")
	}
	if accessToken == "" {
		return Session{}, fmt.Errorf("session: access token cannot be empty")
	}
	if len(host.AllowedMethods) == 0 {
		return Session{}, fmt.Errorf("session: host must allow at least one payment method")
	}
	for _, m := range host.AllowedMethods {
		if m != checkout.MethodBankCard && m != checkout.MethodApplePay {
			return Session{}, fmt.Errorf("session: unknown payment method %q", m)
		}
	}
	return Session{
		InvoiceID:   invoiceID,
		Credentials: remote.Credentials{AccessToken: accessToken},
		Host:        host,
		Trace:       NewTraceContext(),
	}, nil
}

// ExternalIDStore keeps payment idempotency keys across progress engine
// runs. Keys are built with AttemptKey.
type ExternalIDStore interface {
	Load(key string) (string, bool)
	Save(key, externalID string)
	Clear(key string)
}

// AttemptKey identifies one user attempt: an invoice paid with one payment tool.
func AttemptKey(invoiceID, paymentToolToken string) string {
	return invoiceID + "/" + paymentToolToken
}

// InMemoryExternalIDStore is an ExternalIDStore living as long as the process.
type InMemoryExternalIDStore struct {
	mu  sync.RWMutex
	ids map[string]string
}

// NewInMemoryExternalIDStore creates an empty store.
func NewInMemoryExternalIDStore() *InMemoryExternalIDStore {
	return &InMemoryExternalIDStore{ids: make(map[string]string)}
}

func (s *InMemoryExternalIDStore) Load(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ids[key]
	return id, ok
}

func (s *InMemoryExternalIDStore) Save(key, externalID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[key] = externalID
}

func (s *InMemoryExternalIDStore) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, key)
}
