package scenario

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/remote/mock"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
	"github.com/yourorg/checkout-orchestrator/internal/retry"
	"github.com/yourorg/checkout-orchestrator/internal/selection"
	"github.com/yourorg/checkout-orchestrator/internal/session"
)

var testCard = remote.CardData{Number: "4242424242424242", ExpDate: "12/30", CVV: "123", CardholderName: "J DOE"}

type recordingPresenter struct {
	mu            sync.Mutex
	screens       []Screen
	interactions  []remote.UserInteraction
	onScreen      func(Screen)
	onInteraction func(remote.UserInteraction)
}

func (p *recordingPresenter) Present(screen Screen) {
	p.mu.Lock()
	p.screens = append(p.screens, screen)
	cb := p.onScreen
	p.mu.Unlock()
	if cb != nil {
		cb(screen)
	}
}

func (p *recordingPresenter) PresentInteraction(ui remote.UserInteraction) {
	p.mu.Lock()
	p.interactions = append(p.interactions, ui)
	cb := p.onInteraction
	p.mu.Unlock()
	if cb != nil {
		cb(ui)
	}
}

func (p *recordingPresenter) last() Screen {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.screens) == 0 {
		return Screen{}
	}
	return p.screens[len(p.screens)-1]
}

type recordingDelegate struct {
	mu        sync.Mutex
	cancelled []string
	finished  []checkout.PaymentMethod
}

func (d *recordingDelegate) PaymentCancelled(invoiceID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, invoiceID)
}

func (d *recordingDelegate) PaymentFinished(_ string, method checkout.PaymentMethod) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.finished = append(d.finished, method)
}

func (d *recordingDelegate) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cancelled), len(d.finished)
}

type fixture struct {
	api       *mock.MockAPI
	presenter *recordingPresenter
	delegate  *recordingDelegate
	journal   *reporting.Journal
	store     *session.InMemoryExternalIDStore
	prompts   atomic.Int32
	answer    atomic.Bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:       mock.NewMockAPI(),
		presenter: &recordingPresenter{},
		delegate:  &recordingDelegate{},
		journal:   reporting.NewJournal(),
		store:     session.NewInMemoryExternalIDStore(),
	}
	f.api.ObtainInvoiceFunc = func(_ context.Context, id string, _ remote.Credentials) (remote.Invoice, error) {
		return remote.Invoice{
			ID:       id,
			Amount:   150000,
			Currency: "RUB",
			DueDate:  time.Now().Add(24 * time.Hour),
			Status:   remote.InvoiceUnpaid,
		}, nil
	}
	f.api.CreatePaymentFunc = func(_ context.Context, invoiceID string, params remote.PaymentParams, _ remote.Credentials) (remote.Payment, error) {
		return remote.Payment{ID: "pay-1", ExternalID: params.ExternalID, InvoiceID: invoiceID, Payer: params.Payer, Status: remote.PaymentPending}, nil
	}
	return f
}

func (f *fixture) scenario(t *testing.T, opts Options) *Scenario {
	t.Helper()
	sess, err := session.NewSession("inv-1", "token", session.HostConfig{
		AllowedMethods: []checkout.PaymentMethod{checkout.MethodBankCard},
	})
	require.NoError(t, err)

	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Store == nil {
		opts.Store = f.store
	}
	opts.Journal = f.journal
	opts.FirstPollDelay = time.Millisecond
	opts.PollInterval = time.Millisecond

	return New(sess, Dependencies{
		API:       f.api,
		Presenter: f.presenter,
		Delegate:  f.delegate,
		Prompter: retry.PrompterFunc(func(context.Context, error) bool {
			f.prompts.Add(1)
			return f.answer.Load()
		}),
		Device: selection.NewStaticDevice(selection.CapabilityAvailable),
	}, opts)
}

func paidEvents(context.Context, string, remote.Credentials) ([]remote.InvoiceEvent, error) {
	return []remote.InvoiceEvent{{
		ID:        1,
		CreatedAt: time.Now(),
		Changes: []remote.InvoiceChange{
			remote.PaymentStatusChanged("pay-1", remote.PaymentProcessed, nil),
			remote.InvoiceStatusChanged(remote.InvoicePaid),
		},
	}}, nil
}

func statuses(j *reporting.Journal, status string) int {
	n := 0
	for _, e := range j.Entries() {
		if e.Status == status {
			n++
		}
	}
	return n
}

func TestNew_Panics(t *testing.T) {
	f := newFixture(t)
	sess := session.Session{InvoiceID: "inv-1"}
	full := Dependencies{
		API:       f.api,
		Presenter: f.presenter,
		Delegate:  f.delegate,
		Prompter:  retry.PrompterFunc(func(context.Context, error) bool { return false }),
		Device:    selection.NewStaticDevice(selection.CapabilityUnavailable),
	}
	assert.NotPanics(t, func() { New(sess, full, Options{}) })

	for name, mutate := range map[string]func(*Dependencies){
		"api":       func(d *Dependencies) { d.API = nil },
		"presenter": func(d *Dependencies) { d.Presenter = nil },
		"delegate":  func(d *Dependencies) { d.Delegate = nil },
		"prompter":  func(d *Dependencies) { d.Prompter = nil },
		"device":    func(d *Dependencies) { d.Device = nil },
	} {
		t.Run(name, func(t *testing.T) {
			deps := full
			mutate(&deps)
			assert.Panics(t, func() { New(sess, deps, Options{}) })
		})
	}
}

func TestScenario_StartShowsPaymentMethods(t *testing.T) {
	f := newFixture(t)
	s := f.scenario(t, Options{})

	require.NoError(t, s.Start(context.Background()))

	screen := f.presenter.last()
	assert.Equal(t, checkout.RoutePaymentMethod, screen.Route.Kind)
	require.NotNil(t, screen.Route.Invoice)
	assert.Equal(t, "inv-1", screen.Route.Invoice.ID)
	assert.Equal(t, "1500.00 RUB", screen.Amount)
	require.Len(t, screen.Items, 1)
	assert.Equal(t, checkout.MethodBankCard, screen.Items[0].Method)
	assert.Equal(t, 1, statuses(f.journal, reporting.StatusNavigation))
}

func TestScenario_CardPaymentToFinish(t *testing.T) {
	f := newFixture(t)
	f.api.ObtainInvoiceEventsFunc = paidEvents
	s := f.scenario(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
	assert.Equal(t, checkout.RouteBankCard, s.Current().Kind)

	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))
	screen := f.presenter.last()
	require.Equal(t, checkout.RoutePaidInvoice, screen.Route.Kind)
	assert.Equal(t, checkout.MethodBankCard, screen.Route.Method)
	require.NotNil(t, screen.Route.Payment)
	assert.Equal(t, "pay-1", screen.Route.Payment.ID)

	// The idempotency key is forgotten once the invoice is paid.
	calls := f.api.Calls("CreatePayment")
	require.Len(t, calls, 1)
	_, ok := f.store.Load(session.AttemptKey("inv-1", calls[0].Payment.Payer.PaymentToolToken))
	assert.False(t, ok)

	require.NoError(t, s.Finish())
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("scenario did not complete")
	}
	cancelled, finished := f.delegate.counts()
	assert.Equal(t, 0, cancelled)
	assert.Equal(t, 1, finished)
	assert.Equal(t, 1, statuses(f.journal, reporting.StatusSuccess))

	assert.ErrorIs(t, s.Perform(ctx, checkout.InitialRoute()), ErrCompleted)
	s.Cancel()
	cancelled, finished = f.delegate.counts()
	assert.Equal(t, 0, cancelled, "the delegate is notified once")
	assert.Equal(t, 1, finished)
}

func TestScenario_SelectMethodRequiresOffer(t *testing.T) {
	f := newFixture(t)
	s := f.scenario(t, Options{})

	assert.Error(t, s.SelectMethod(context.Background(), checkout.MethodBankCard))
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.SelectMethod(context.Background(), checkout.MethodApplePay))
}

func TestScenario_SubmitOnWrongScreen(t *testing.T) {
	f := newFixture(t)
	s := f.scenario(t, Options{})
	require.NoError(t, s.Start(context.Background()))

	err := s.SubmitCard(context.Background(), testCard, "payer@example.com")
	assert.Error(t, err)
	assert.Empty(t, f.api.Calls("CreatePaymentResource"))
}

func TestScenario_ResourceFailureAndBack(t *testing.T) {
	f := newFixture(t)
	f.api.CreatePaymentResourceFunc = func(context.Context, remote.PaymentResourceParams, remote.Credentials) (remote.PaymentResource, error) {
		return remote.PaymentResource{}, errors.New("network is unreachable")
	}
	s := f.scenario(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))

	screen := f.presenter.last()
	require.Equal(t, checkout.RouteUnpaidInvoice, screen.Route.Kind)
	require.NotNil(t, screen.Route.Error)
	assert.Equal(t, checkout.CannotCreatePaymentResource, screen.Route.Error.Code)
	assert.Equal(t, "The payment details could not be processed. Check your internet connection.", screen.Message)
	require.NotNil(t, screen.Recovery.Retry)
	assert.Equal(t, checkout.RouteBack, screen.Recovery.Retry.Kind)
	assert.Equal(t, int32(1), f.prompts.Load())
	assert.Equal(t, 1, statuses(f.journal, reporting.StatusFailure))

	require.NoError(t, s.Perform(ctx, *screen.Recovery.Retry))
	assert.Equal(t, checkout.RouteBankCard, s.Current().Kind)

	require.NoError(t, s.Perform(ctx, checkout.BackRoute()))
	back := f.presenter.last()
	assert.Equal(t, checkout.RoutePaymentMethod, back.Route.Kind)
	assert.Len(t, back.Items, 1)
	assert.Len(t, f.api.Calls("ObtainInvoice"), 1, "going back does not reload the invoice")
}

func TestScenario_ReenterThenBackShowsPaymentMethods(t *testing.T) {
	f := newFixture(t)
	f.api.CreatePaymentResourceFunc = func(context.Context, remote.PaymentResourceParams, remote.Credentials) (remote.PaymentResource, error) {
		return remote.PaymentResource{}, errors.New("network is unreachable")
	}
	s := f.scenario(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))

	screen := f.presenter.last()
	require.Equal(t, checkout.RouteUnpaidInvoice, screen.Route.Kind)
	require.NotNil(t, screen.Recovery.Reenter)
	require.NoError(t, s.Perform(ctx, *screen.Recovery.Reenter))
	require.Equal(t, checkout.RouteBankCard, s.Current().Kind)

	require.NoError(t, s.Perform(ctx, checkout.BackRoute()))
	assert.Equal(t, checkout.RoutePaymentMethod, s.Current().Kind)
	assert.Equal(t, checkout.RoutePaymentMethod, f.presenter.last().Route.Kind)
	assert.Len(t, f.api.Calls("ObtainInvoice"), 1)
}

func TestScenario_ExternalIDReusedAfterFailedCreation(t *testing.T) {
	f := newFixture(t)
	f.api.CreatePaymentResourceFunc = func(context.Context, remote.PaymentResourceParams, remote.Credentials) (remote.PaymentResource, error) {
		return remote.PaymentResource{PaymentToolToken: "tool-1", PaymentSession: "session-1"}, nil
	}
	var failCreate atomic.Bool
	failCreate.Store(true)
	f.api.CreatePaymentFunc = func(_ context.Context, invoiceID string, params remote.PaymentParams, _ remote.Credentials) (remote.Payment, error) {
		if failCreate.Load() {
			return remote.Payment{}, errors.New("connection reset by peer")
		}
		return remote.Payment{ID: "pay-1", ExternalID: params.ExternalID, InvoiceID: invoiceID, Status: remote.PaymentPending}, nil
	}
	f.api.ObtainInvoiceEventsFunc = paidEvents
	s := f.scenario(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))
	require.Equal(t, checkout.RouteUnpaidInvoice, s.Current().Kind)
	assert.Equal(t, checkout.CannotCreatePayment, f.presenter.last().Route.Error.Code)

	saved, ok := f.store.Load(session.AttemptKey("inv-1", "tool-1"))
	require.True(t, ok)

	// Entering the same card again must not mint a new identifier.
	failCreate.Store(false)
	require.NoError(t, s.Perform(ctx, checkout.BackRoute()))
	require.Equal(t, checkout.RouteBankCard, s.Current().Kind)
	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))
	assert.Equal(t, checkout.RoutePaidInvoice, s.Current().Kind)

	lookups := f.api.Calls("ObtainPayment")
	require.Len(t, lookups, 1)
	assert.Equal(t, remote.ByExternalID(saved), lookups[0].Ref)
	for _, c := range f.api.Calls("CreatePayment") {
		assert.Equal(t, saved, c.Payment.ExternalID)
	}
}

func TestScenario_InteractionForwarded(t *testing.T) {
	f := newFixture(t)
	var done atomic.Bool
	f.api.ObtainInvoiceEventsFunc = func(ctx context.Context, id string, creds remote.Credentials) ([]remote.InvoiceEvent, error) {
		if done.Load() {
			return paidEvents(ctx, id, creds)
		}
		return []remote.InvoiceEvent{{
			ID:        1,
			CreatedAt: time.Now(),
			Changes: []remote.InvoiceChange{
				remote.PaymentInteractionRequested("pay-1", remote.RedirectInteraction(remote.BrowserRequest{Method: remote.RequestGet, URI: "https://acs.example/3ds"})),
			},
		}}, nil
	}
	s := f.scenario(t, Options{})
	f.presenter.onInteraction = func(remote.UserInteraction) {
		done.Store(true)
		s.InteractionFinished()
	}
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))

	assert.Equal(t, checkout.RoutePaidInvoice, s.Current().Kind)
	f.presenter.mu.Lock()
	defer f.presenter.mu.Unlock()
	require.Len(t, f.presenter.interactions, 1)
	assert.Equal(t, "https://acs.example/3ds", f.presenter.interactions[0].Redirect.URI)
}

func TestScenario_InteractionFailure(t *testing.T) {
	f := newFixture(t)
	f.api.ObtainInvoiceEventsFunc = func(context.Context, string, remote.Credentials) ([]remote.InvoiceEvent, error) {
		return []remote.InvoiceEvent{{
			ID:        1,
			CreatedAt: time.Now(),
			Changes: []remote.InvoiceChange{
				remote.PaymentInteractionRequested("pay-1", remote.RedirectInteraction(remote.BrowserRequest{Method: remote.RequestGet, URI: "https://acs.example/3ds"})),
			},
		}}, nil
	}
	s := f.scenario(t, Options{})
	f.presenter.onInteraction = func(remote.UserInteraction) {
		s.InteractionFailed(errors.New("webview closed"))
	}
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))
	require.NoError(t, s.SubmitCard(ctx, testCard, "payer@example.com"))

	screen := f.presenter.last()
	require.Equal(t, checkout.RouteUnpaidInvoice, screen.Route.Kind)
	assert.Equal(t, checkout.UserInteractionFailed, screen.Route.Error.Code)
	require.NotNil(t, screen.Recovery.Retry)
	assert.Equal(t, checkout.RoutePaymentProgress, screen.Recovery.Retry.Kind)
}

func TestScenario_CancelDuringProgress(t *testing.T) {
	f := newFixture(t)
	f.api.ObtainInvoiceEventsFunc = func(context.Context, string, remote.Credentials) ([]remote.InvoiceEvent, error) {
		return nil, nil
	}
	var dispatched atomic.Int32
	s := f.scenario(t, Options{Dispatch: func(fn func()) {
		dispatched.Add(1)
		fn()
	}})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.SelectMethod(ctx, checkout.MethodBankCard))

	inProgress := make(chan struct{})
	var once sync.Once
	f.presenter.onScreen = func(screen Screen) {
		if screen.Route.Kind == checkout.RoutePaymentProgress {
			once.Do(func() { close(inProgress) })
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- s.SubmitCard(ctx, testCard, "payer@example.com") }()

	select {
	case <-inProgress:
	case <-time.After(time.Second):
		t.Fatal("payment progress was not shown")
	}
	s.Cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("progress did not stop after cancel")
	}
	<-s.Done()

	s.Cancel()
	cancelled, finished := f.delegate.counts()
	assert.Equal(t, 1, cancelled)
	assert.Equal(t, 0, finished)
	assert.Equal(t, int32(1), dispatched.Load())
	assert.Equal(t, 1, statuses(f.journal, reporting.StatusCancelled))
	assert.Equal(t, 0, statuses(f.journal, reporting.StatusFailure))
}

func TestScenario_RetryPromptsAreJournaled(t *testing.T) {
	f := newFixture(t)
	f.answer.Store(true)
	failures := 0
	f.api.ObtainInvoicePaymentMethodsFunc = func(context.Context, string, remote.Credentials) ([]remote.MethodDescriptor, error) {
		if failures < 2 {
			failures++
			return nil, errors.New("timeout")
		}
		return []remote.MethodDescriptor{{Method: remote.MethodBankCard, PaymentSystems: []remote.PaymentSystem{remote.PaymentSystemVisa}}}, nil
	}
	s := f.scenario(t, Options{})

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, checkout.RoutePaymentMethod, s.Current().Kind)
	assert.Equal(t, int32(2), f.prompts.Load())
	assert.Equal(t, 2, statuses(f.journal, reporting.StatusRetry))
}

func TestScenario_ExpiredInvoice(t *testing.T) {
	f := newFixture(t)
	f.api.ObtainInvoiceFunc = func(_ context.Context, id string, _ remote.Credentials) (remote.Invoice, error) {
		return remote.Invoice{ID: id, Status: remote.InvoiceUnpaid, DueDate: time.Now().Add(-time.Minute)}, nil
	}
	s := f.scenario(t, Options{})

	require.NoError(t, s.Start(context.Background()))
	screen := f.presenter.last()
	require.Equal(t, checkout.RouteUnpaidInvoice, screen.Route.Kind)
	assert.Equal(t, checkout.InvoiceExpired, screen.Route.Error.Code)
	assert.True(t, screen.Recovery.Empty())
}
