package sandbox

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// apiError is a rejection the handlers turn into a wire error body.
type apiError struct {
	status int
	code   remote.ServerErrorCode
	msg    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.code, e.msg)
}

func reject(status int, code remote.ServerErrorCode, format string, args ...any) *apiError {
	return &apiError{status: status, code: code, msg: fmt.Sprintf(format, args...)}
}

type invoiceState struct {
	invoice     remote.Invoice
	accessToken string
	methods     []remote.MethodDescriptor
	payments    []*remote.Payment
	events      []remote.InvoiceEvent
}

type toolRecord struct {
	session    string
	cardNumber string
	provider   remote.TokenProvider
}

// Store is the in-memory state of the sandbox backend.
type Store struct {
	mu        sync.Mutex
	clock     clockz.Clock
	rules     *Rules
	invoices  map[string]*invoiceState
	tokens    map[string]string // access token -> invoice id
	tools     map[string]toolRecord
	lastEvent time.Time
	nextEvent int64
}

// NewStore creates an empty Store settling payments with rules.
func NewStore(rules *Rules, clock clockz.Clock) *Store {
	if rules == nil {
		panic("sandbox: rules cannot be nil")
	}
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Store{
		clock:    clock,
		rules:    rules,
		invoices: make(map[string]*invoiceState),
		tokens:   make(map[string]string),
		tools:    make(map[string]toolRecord),
	}
}

// DefaultMethods is what every seeded invoice advertises: plain cards and
// Apple Pay tokenized cards.
func DefaultMethods() []remote.MethodDescriptor {
	return []remote.MethodDescriptor{
		{
			Method:         remote.MethodBankCard,
			PaymentSystems: []remote.PaymentSystem{remote.PaymentSystemVisa, remote.PaymentSystemMastercard, remote.PaymentSystemMir},
		},
		{
			Method:         remote.MethodBankCard,
			PaymentSystems: []remote.PaymentSystem{remote.PaymentSystemVisa, remote.PaymentSystemMastercard},
			TokenProviders: []remote.TokenProvider{remote.TokenProviderApplePay},
		},
	}
}

// InvoiceTemplate describes an invoice to seed.
type InvoiceTemplate struct {
	ID       string
	Amount   int64
	Currency string
	Product  string
	DueIn    time.Duration
	// AccessToken is generated when empty.
	AccessToken string
}

// AddInvoice seeds an unpaid invoice and returns it with its access token.
func (s *Store) AddInvoice(t InvoiceTemplate) (remote.Invoice, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = "inv-" + uuid.NewString()
	}
	if t.AccessToken == "" {
		t.AccessToken = "tok-" + uuid.NewString()
	}
	if t.DueIn <= 0 {
		t.DueIn = 24 * time.Hour
	}
	inv := remote.Invoice{
		ID:       t.ID,
		ShopID:   "sandbox-shop",
		Amount:   t.Amount,
		Currency: strings.ToUpper(t.Currency),
		Product:  t.Product,
		DueDate:  s.clock.Now().Add(t.DueIn).UTC(),
		Status:   remote.InvoiceUnpaid,
	}
	st := &invoiceState{invoice: inv, accessToken: t.AccessToken, methods: DefaultMethods()}
	created := inv
	s.appendEvent(st, remote.InvoiceChange{Kind: remote.ChangeInvoiceCreated, Invoice: &created})
	s.invoices[inv.ID] = st
	s.tokens[t.AccessToken] = inv.ID
	return inv, t.AccessToken
}

// authorize checks that token grants access to invoiceID.
func (s *Store) authorize(invoiceID, token string) (*invoiceState, *apiError) {
	st, ok := s.invoices[invoiceID]
	if !ok {
		return nil, reject(http.StatusNotFound, remote.ServerErrorInvoiceNotFound, "invoice %s not found", invoiceID)
	}
	if st.accessToken != token {
		return nil, reject(http.StatusUnauthorized, remote.ServerErrorOperationNotPermitted, "access token does not grant invoice %s", invoiceID)
	}
	return st, nil
}

// KnownToken reports whether token was issued for some invoice.
func (s *Store) KnownToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[token]
	return ok
}

// Invoice returns the current snapshot of an invoice.
func (s *Store) Invoice(invoiceID, token string) (remote.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.authorize(invoiceID, token)
	if err != nil {
		return remote.Invoice{}, err
	}
	return st.invoice, nil
}

// Methods returns the payment methods of an invoice.
func (s *Store) Methods(invoiceID, token string) ([]remote.MethodDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.authorize(invoiceID, token)
	if err != nil {
		return nil, err
	}
	return st.methods, nil
}

// CreateResource tokenizes a payment instrument.
func (s *Store) CreateResource(params remote.PaymentResourceParams) (remote.PaymentResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := toolRecord{session: "ses-" + uuid.NewString()}
	res := remote.PaymentResource{PaymentToolToken: "tool-" + uuid.NewString(), PaymentSession: rec.session}
	switch {
	case params.Instrument.Card != nil:
		number := params.Instrument.Card.Number
		if len(number) < 12 {
			return remote.PaymentResource{}, reject(http.StatusBadRequest, remote.ServerErrorInvalidPaymentTool, "card number is too short")
		}
		rec.cardNumber = number
		res.Details = remote.PaymentToolDetails{CardNumberMask: mask(number), PaymentSystem: paymentSystem(number)}
	case params.Instrument.ApplePay != nil:
		if len(params.Instrument.ApplePay.PaymentToken) == 0 {
			return remote.PaymentResource{}, reject(http.StatusBadRequest, remote.ServerErrorInvalidPaymentTool, "wallet token is empty")
		}
		rec.provider = remote.TokenProviderApplePay
		res.Details = remote.PaymentToolDetails{PaymentSystem: remote.PaymentSystemVisa, TokenProvider: remote.TokenProviderApplePay}
	default:
		return remote.PaymentResource{}, reject(http.StatusBadRequest, remote.ServerErrorInvalidRequest, "payment tool is empty")
	}
	s.tools[res.PaymentToolToken] = rec
	return res, nil
}

// CreatePayment starts a payment for an invoice. A repeated external id
// returns the payment created first instead of starting another one.
// redirectBase is the URL prefix of the 3-D Secure completion endpoint.
func (s *Store) CreatePayment(invoiceID, token string, params remote.PaymentParams, redirectBase string) (remote.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.authorize(invoiceID, token)
	if err != nil {
		return remote.Payment{}, err
	}
	if params.ExternalID != "" {
		if p := st.byExternalID(params.ExternalID); p != nil {
			if p.Payer.PaymentToolToken != params.Payer.PaymentToolToken {
				return remote.Payment{}, reject(http.StatusConflict, remote.ServerErrorExternalIDConflict, "external id %s belongs to another payment", params.ExternalID)
			}
			return *p, nil
		}
	}
	if st.invoice.Status != remote.InvoiceUnpaid {
		return remote.Payment{}, reject(http.StatusBadRequest, remote.ServerErrorInvalidInvoiceStatus, "invoice %s is %s", invoiceID, st.invoice.Status)
	}
	if !st.invoice.DueDate.After(s.clock.Now()) {
		return remote.Payment{}, reject(http.StatusBadRequest, remote.ServerErrorInvalidDeadline, "invoice %s has expired", invoiceID)
	}
	for _, p := range st.payments {
		if p.Status == remote.PaymentPending {
			return remote.Payment{}, reject(http.StatusBadRequest, remote.ServerErrorInvoicePaymentPending, "payment %s is in progress", p.ID)
		}
	}
	tool, ok := s.tools[params.Payer.PaymentToolToken]
	if !ok || tool.session != params.Payer.PaymentSession {
		return remote.Payment{}, reject(http.StatusBadRequest, remote.ServerErrorInvalidPaymentToolToken, "unknown payment tool token")
	}

	outcome, evalErr := s.rules.Outcome(tool.cardNumber, st.invoice.Amount)
	if evalErr != nil {
		return remote.Payment{}, evalErr
	}

	p := &remote.Payment{
		ID:         fmt.Sprintf("%s-%d", invoiceID, len(st.payments)+1),
		ExternalID: params.ExternalID,
		InvoiceID:  invoiceID,
		Amount:     st.invoice.Amount,
		Currency:   st.invoice.Currency,
		Flow:       params.Flow,
		Payer:      params.Payer,
		Status:     remote.PaymentPending,
		CreatedAt:  s.clock.Now().UTC(),
	}
	st.payments = append(st.payments, p)
	started := *p
	s.appendEvent(st, remote.InvoiceChange{Kind: remote.ChangePaymentStarted, PaymentID: p.ID, Payment: &started})

	switch outcome {
	case OutcomeSuccess:
		s.settle(st, p, nil)
	case OutcomeThreeDS:
		s.appendEvent(st, remote.PaymentInteractionRequested(p.ID, remote.RedirectInteraction(remote.BrowserRequest{
			Method: remote.RequestPost,
			URI:    strings.TrimRight(redirectBase, "/") + "/" + p.ID,
			Form:   []remote.FormField{{Key: "termination_uri", Template: "{?termination_uri}"}},
		})))
	default:
		se := remote.NewServerError(outcome, "declined by sandbox rule")
		s.settle(st, p, &se)
	}
	return *p, nil
}

// CompleteInteraction finishes the 3-D Secure challenge of a pending payment.
func (s *Store) CompleteInteraction(paymentID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.invoices {
		for _, p := range st.payments {
			if p.ID != paymentID {
				continue
			}
			if p.Status != remote.PaymentPending {
				return reject(http.StatusConflict, remote.ServerErrorOperationNotPermitted, "payment %s is %s", paymentID, p.Status)
			}
			if success {
				s.settle(st, p, nil)
				return nil
			}
			se := remote.NewServerError(string(remote.ServerErrorPreauthorizationFailed), "3-D Secure verification failed")
			s.settle(st, p, &se)
			return nil
		}
	}
	return reject(http.StatusNotFound, remote.ServerErrorPaymentNotFound, "payment %s not found", paymentID)
}

// settle moves a pending payment to its final status.
func (s *Store) settle(st *invoiceState, p *remote.Payment, failure *remote.ServerError) {
	if failure != nil {
		p.Status = remote.PaymentFailed
		p.Error = failure
		s.appendEvent(st, remote.PaymentStatusChanged(p.ID, remote.PaymentFailed, failure))
		return
	}
	p.Status = remote.PaymentProcessed
	st.invoice.Status = remote.InvoicePaid
	s.appendEvent(st,
		remote.PaymentStatusChanged(p.ID, remote.PaymentProcessed, nil),
		remote.InvoiceStatusChanged(remote.InvoicePaid),
	)
}

// Events returns the events of an invoice, oldest first, at most limit.
func (s *Store) Events(invoiceID, token string, limit int) ([]remote.InvoiceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.authorize(invoiceID, token)
	if err != nil {
		return nil, err
	}
	events := st.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]remote.InvoiceEvent, len(events))
	copy(out, events)
	return out, nil
}

// Payment looks a payment up by id or external id.
func (s *Store) Payment(invoiceID, token string, ref remote.PaymentRef) (remote.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.authorize(invoiceID, token)
	if err != nil {
		return remote.Payment{}, err
	}
	var p *remote.Payment
	if ref.ExternalID != "" {
		p = st.byExternalID(ref.ExternalID)
	} else {
		for _, candidate := range st.payments {
			if candidate.ID == ref.PaymentID {
				p = candidate
			}
		}
	}
	if p == nil {
		return remote.Payment{}, reject(http.StatusNotFound, remote.ServerErrorPaymentNotFound, "payment not found")
	}
	return *p, nil
}

// Payments lists the payments of an invoice.
func (s *Store) Payments(invoiceID, token string) ([]remote.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.authorize(invoiceID, token)
	if err != nil {
		return nil, err
	}
	out := make([]remote.Payment, 0, len(st.payments))
	for _, p := range st.payments {
		out = append(out, *p)
	}
	return out, nil
}

func (st *invoiceState) byExternalID(id string) *remote.Payment {
	for _, p := range st.payments {
		if p.ExternalID == id {
			return p
		}
	}
	return nil
}

// appendEvent records changes as one event. Event timestamps strictly
// increase so that newest-first ordering is unambiguous.
func (s *Store) appendEvent(st *invoiceState, changes ...remote.InvoiceChange) {
	at := s.clock.Now().UTC()
	if !at.After(s.lastEvent) {
		at = s.lastEvent.Add(time.Microsecond)
	}
	s.lastEvent = at
	s.nextEvent++
	st.events = append(st.events, remote.InvoiceEvent{ID: s.nextEvent, CreatedAt: at, Changes: changes})
}

func mask(number string) string {
	if len(number) < 10 {
		return number
	}
	return number[:6] + strings.Repeat("*", len(number)-10) + number[len(number)-4:]
}

func paymentSystem(number string) remote.PaymentSystem {
	switch {
	case strings.HasPrefix(number, "4"):
		return remote.PaymentSystemVisa
	case strings.HasPrefix(number, "5"):
		return remote.PaymentSystemMastercard
	case strings.HasPrefix(number, "2"):
		return remote.PaymentSystemMir
	case strings.HasPrefix(number, "34"), strings.HasPrefix(number, "37"):
		return remote.PaymentSystemAmex
	default:
		return remote.PaymentSystemMaestro
	}
}
