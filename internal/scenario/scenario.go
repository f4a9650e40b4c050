// Package scenario is the navigation state machine of a checkout. It holds
// the current route, performs transitions by calling the selection, resource
// and progress components, routes failures through the recovery policy and
// reports the end of the scenario to the host application exactly once.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/policy"
	"github.com/yourorg/checkout-orchestrator/internal/progress"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/reporting"
	"github.com/yourorg/checkout-orchestrator/internal/resource"
	"github.com/yourorg/checkout-orchestrator/internal/retry"
	"github.com/yourorg/checkout-orchestrator/internal/selection"
	"github.com/yourorg/checkout-orchestrator/internal/session"
)

// ErrCompleted is returned by operations invoked after the scenario ended.
var ErrCompleted = errors.New("scenario: already completed")

// Screen is what the presenter renders for a route.
type Screen struct {
	Route checkout.Route
	// Amount is the formatted invoice amount, when the invoice is known.
	Amount string
	// Items are the offerable methods of the payment method screen.
	Items []selection.Item
	// Message and Recovery describe the unpaid invoice screen.
	Message  string
	Recovery policy.Recovery
}

// Presenter renders screens. It must not block.
type Presenter interface {
	Present(screen Screen)
	// PresentInteraction renders a 3-D Secure challenge. Its completion is
	// reported through Scenario.InteractionFinished or InteractionFailed.
	PresentInteraction(ui remote.UserInteraction)
}

// Delegate is notified when the scenario ends.
type Delegate interface {
	PaymentCancelled(invoiceID string)
	PaymentFinished(invoiceID string, method checkout.PaymentMethod)
}

// Dependencies are the required collaborators of a Scenario.
type Dependencies struct {
	API       remote.API
	Presenter Presenter
	Delegate  Delegate
	Prompter  retry.Prompter
	Device    selection.Device
}

// Options tune a Scenario. Zero values select defaults.
type Options struct {
	// Dispatch runs delegate callbacks on the host's synchronization
	// context. Nil calls them inline.
	Dispatch       func(func())
	Store          session.ExternalIDStore
	Policy         *policy.Policy
	Journal        *reporting.Journal
	Metrics        *metrics.Metrics
	Logger         *log.Logger
	Clock          clockz.Clock
	IDs            remote.IDGenerator
	MaxAttempts    int
	FirstPollDelay time.Duration
	PollInterval   time.Duration
}

// Scenario drives one checkout of one invoice.
type Scenario struct {
	sess      session.Session
	api       remote.API
	presenter Presenter
	delegate  Delegate
	dispatch  func(func())

	selector *selection.Selector
	creator  *resource.Creator
	retry    *retry.Policy
	policy   *policy.Policy
	store    session.ExternalIDStore
	journal  *reporting.Journal
	metrics  *metrics.Metrics
	logger   *log.Logger
	clock    clockz.Clock
	ids      remote.IDGenerator
	timing   [2]time.Duration

	mu        sync.Mutex
	current   checkout.Route
	stack     []checkout.Route // input screens shown, oldest first
	offer     *selection.Offer
	engine    *progress.Engine
	cancelRun context.CancelFunc
	completed bool

	once sync.Once
	done chan struct{}
}

// New creates a Scenario. It panics on missing dependencies.
func New(sess session.Session, deps Dependencies, opts Options) *Scenario {
	if deps.API == nil {
		panic("scenario: remote API cannot be nil")
	}
	if deps.Presenter == nil {
		panic("scenario: presenter cannot be nil")
	}
	if deps.Delegate == nil {
		panic("scenario: delegate cannot be nil")
	}
	if deps.Prompter == nil {
		panic("scenario: prompter cannot be nil")
	}
	if deps.Device == nil {
		panic("scenario: device cannot be nil")
	}

	s := &Scenario{
		sess:      sess,
		api:       deps.API,
		presenter: deps.Presenter,
		delegate:  deps.Delegate,
		dispatch:  opts.Dispatch,
		policy:    opts.Policy,
		store:     opts.Store,
		journal:   opts.Journal,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		clock:     opts.Clock,
		ids:       opts.IDs,
		timing:    [2]time.Duration{opts.FirstPollDelay, opts.PollInterval},
		done:      make(chan struct{}),
	}
	if s.dispatch == nil {
		s.dispatch = func(f func()) { f() }
	}
	if s.policy == nil {
		s.policy = policy.MustDefault()
	}
	if s.store == nil {
		s.store = session.NewInMemoryExternalIDStore()
	}
	if s.logger == nil {
		s.logger = log.Default()
	}
	if s.clock == nil {
		s.clock = clockz.RealClock
	}
	if s.ids == nil {
		s.ids = remote.UUIDGenerator{}
	}

	s.retry = retry.NewPolicy(&journalingPrompter{s: s, next: deps.Prompter},
		retry.WithMaxAttempts(opts.MaxAttempts),
		retry.WithMetrics(s.metrics),
		retry.WithLogger(s.logger))
	s.selector = selection.NewSelector(s.api, s.retry, deps.Device).WithClock(s.clock).WithLogger(s.logger)
	s.creator = resource.NewCreator(s.api, s.retry, s.logger)
	return s
}

// Done is closed when the delegate has been notified.
func (s *Scenario) Done() <-chan struct{} {
	return s.done
}

// Current returns the route on screen.
func (s *Scenario) Current() checkout.Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Start loads the invoice and shows the payment method screen.
func (s *Scenario) Start(ctx context.Context) error {
	s.logger.Printf("Scenario: starting %s for invoice %s", s.sess.Trace.ScenarioID, s.sess.InvoiceID)
	return s.Perform(ctx, checkout.InitialRoute())
}

// Perform transitions to route. It blocks while the route's work (loading,
// payment progress) runs; a cancelled ctx returns ctx.Err().
func (s *Scenario) Perform(ctx context.Context, route checkout.Route) error {
	s.mu.Lock()
	completed := s.completed
	s.mu.Unlock()
	if completed {
		return ErrCompleted
	}

	ctx, span := otel.Tracer("scenario").Start(ctx, "Scenario.Perform")
	span.SetAttributes(
		attribute.String("route", route.Kind.String()),
		attribute.String("scenario.id", s.sess.Trace.ScenarioID),
	)
	defer span.End()

	s.metrics.ObserveNavigation(route.Kind.String())
	s.record(reporting.LogEntry{Status: reporting.StatusNavigation, Route: route.Kind.String()})

	switch route.Kind {
	case checkout.RoutePaymentMethod:
		return s.showPaymentMethods(ctx, route.Invoice)

	case checkout.RouteBankCard, checkout.RouteApplePay:
		s.mu.Lock()
		s.pushInput(route)
		s.mu.Unlock()
		s.show(Screen{Route: route})
		return nil

	case checkout.RoutePaymentProgress:
		if route.Progress == nil {
			return fmt.Errorf("scenario: payment progress route without parameters")
		}
		return s.runProgress(ctx, *route.Progress)

	case checkout.RoutePaidInvoice:
		s.show(Screen{Route: route})
		return nil

	case checkout.RouteUnpaidInvoice:
		s.showError(route.Error)
		return nil

	case checkout.RouteBack:
		return s.back(ctx)

	case checkout.RouteCancel:
		s.complete(func() { s.delegate.PaymentCancelled(s.sess.InvoiceID) })
		s.record(reporting.LogEntry{Status: reporting.StatusCancelled})
		return nil

	case checkout.RouteFinish:
		method := route.Method
		s.complete(func() { s.delegate.PaymentFinished(s.sess.InvoiceID, method) })
		return nil

	default:
		return fmt.Errorf("scenario: unknown route %s", route.Kind)
	}
}

// SelectMethod opens the input screen of an offered method.
func (s *Scenario) SelectMethod(ctx context.Context, method checkout.PaymentMethod) error {
	s.mu.Lock()
	offer := s.offer
	s.mu.Unlock()
	if offer == nil {
		return fmt.Errorf("scenario: payment methods are not loaded")
	}
	item, ok := offer.Find(method)
	if !ok {
		return fmt.Errorf("scenario: payment method %s is not offered", method)
	}
	return s.Perform(ctx, checkout.MethodInputRoute(method, offer.Invoice, item.PaymentSystems))
}

// SubmitCard pays with card data entered on the bank card screen.
func (s *Scenario) SubmitCard(ctx context.Context, card remote.CardData, email string) error {
	return s.submit(ctx, checkout.RouteBankCard, remote.PaymentInstrument{Card: &card}, email)
}

// SubmitApplePay pays with a token returned by the wallet sheet.
func (s *Scenario) SubmitApplePay(ctx context.Context, data remote.ApplePayData, email string) error {
	return s.submit(ctx, checkout.RouteApplePay, remote.PaymentInstrument{ApplePay: &data}, email)
}

func (s *Scenario) submit(ctx context.Context, kind checkout.RouteKind, in remote.PaymentInstrument, email string) error {
	current := s.Current()
	if current.Kind != kind || current.Invoice == nil {
		return fmt.Errorf("scenario: cannot submit %s data on the %s screen", kind, current.Kind)
	}
	method := checkout.MethodBankCard
	if kind == checkout.RouteApplePay {
		method = checkout.MethodApplePay
	}

	res, err := s.creator.Create(ctx, s.sess, resource.Request{
		Invoice:        *current.Invoice,
		Method:         method,
		PaymentSystems: current.PaymentSystems,
		Instrument:     in,
	})
	if err != nil {
		return s.handleFailure(err)
	}
	return s.Perform(ctx, checkout.ProgressRoute(checkout.ProgressParams{
		Invoice:        *current.Invoice,
		Method:         method,
		PaymentSystems: current.PaymentSystems,
		Source:         checkout.NewPaymentSource(res, email, ""),
	}))
}

// Finish closes the paid invoice screen.
func (s *Scenario) Finish() error {
	current := s.Current()
	if current.Kind != checkout.RoutePaidInvoice {
		return fmt.Errorf("scenario: cannot finish from the %s screen", current.Kind)
	}
	return s.Perform(context.Background(), checkout.Route{Kind: checkout.RouteFinish, Invoice: current.Invoice, Method: current.Method})
}

// Cancel stops any payment in progress and ends the scenario.
func (s *Scenario) Cancel() {
	s.mu.Lock()
	cancel := s.cancelRun
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = s.Perform(context.Background(), checkout.Route{Kind: checkout.RouteCancel})
}

// InteractionFinished forwards the completion of a 3-D Secure challenge.
func (s *Scenario) InteractionFinished() {
	if e := s.activeEngine(); e != nil {
		e.InteractionFinished()
	}
}

// InteractionFailed forwards the failure of a 3-D Secure challenge.
func (s *Scenario) InteractionFailed(err error) {
	if e := s.activeEngine(); e != nil {
		e.InteractionFailed(err)
	}
}

func (s *Scenario) activeEngine() *progress.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Scenario) showPaymentMethods(ctx context.Context, invoice *remote.Invoice) error {
	offer, err := s.selector.Load(ctx, s.sess, invoice)
	if err != nil {
		return s.handleFailure(err)
	}
	route := checkout.PaymentMethodRoute(offer.Invoice)

	s.mu.Lock()
	s.offer = &offer
	s.stack = []checkout.Route{route}
	s.mu.Unlock()

	s.show(Screen{Route: route, Items: offer.Items})
	return nil
}

// back shows the input screen preceding the current one. From an unpaid or
// progress screen that is the last input screen; from an input screen it is
// the one before it.
func (s *Scenario) back(ctx context.Context) error {
	s.mu.Lock()
	switch s.current.Kind {
	case checkout.RouteBankCard, checkout.RouteApplePay, checkout.RoutePaymentMethod:
		if len(s.stack) > 0 {
			s.stack = s.stack[:len(s.stack)-1]
		}
	}
	var target *checkout.Route
	if len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		target = &top
	}
	offer := s.offer
	s.mu.Unlock()

	if target == nil {
		return s.showPaymentMethods(ctx, nil)
	}
	screen := Screen{Route: *target}
	if target.Kind == checkout.RoutePaymentMethod && offer != nil {
		screen.Items = offer.Items
	}
	s.show(screen)
	return nil
}

// pushInput records an input screen. Re-entering the screen on top of the
// stack replaces it, so back still leads to the screen before it. s.mu must
// be held.
func (s *Scenario) pushInput(route checkout.Route) {
	if n := len(s.stack); n > 0 && s.stack[n-1].Kind == route.Kind {
		s.stack[n-1] = route
		return
	}
	s.stack = append(s.stack, route)
}

func (s *Scenario) runProgress(ctx context.Context, params checkout.ProgressParams) error {
	key := ""
	if res := params.Source.Resource; res != nil {
		key = session.AttemptKey(params.Invoice.ID, res.PaymentToolToken)
		if params.Source.ExternalID == "" {
			if id, ok := s.store.Load(key); ok {
				s.logger.Printf("Scenario: reusing external id %s", id)
				params.Source.ExternalID = id
			}
		}
	}

	listener := progress.ListenerFuncs{
		OnExternalID: func(id string) {
			if key != "" {
				s.store.Save(key, id)
			}
		},
		OnUserInteraction: s.presenter.PresentInteraction,
	}
	engine := progress.NewEngine(s.api, s.retry, listener,
		progress.WithIDGenerator(s.ids),
		progress.WithClock(s.clock),
		progress.WithPollTiming(s.timing[0], s.timing[1]),
		progress.WithLogger(s.logger),
		progress.WithMetrics(s.metrics),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.engine = engine
	s.cancelRun = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.engine = nil
		s.cancelRun = nil
		s.mu.Unlock()
	}()

	s.show(Screen{Route: checkout.ProgressRoute(params)})
	out, err := engine.Run(runCtx, params, s.sess.Credentials)
	if err != nil {
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
		return s.handleFailure(err)
	}

	if key != "" {
		s.store.Clear(key)
	}
	s.record(reporting.LogEntry{
		Status:   reporting.StatusSuccess,
		Amount:   out.Invoice.Amount,
		Currency: out.Invoice.Currency,
		Method:   string(out.Method),
	})
	return s.Perform(ctx, checkout.PaidRoute(out.Invoice, out.Payment, out.Method))
}

// handleFailure shows the unpaid screen for a PaymentError and returns nil;
// any other error is returned as is.
func (s *Scenario) handleFailure(err error) error {
	perr, ok := checkout.AsPaymentError(err)
	if !ok {
		return err
	}
	entry := reporting.LogEntry{Status: reporting.StatusFailure, ErrorCode: string(perr.Code), ErrorMessage: err.Error()}
	if perr.Context.Method != nil {
		entry.Method = string(*perr.Context.Method)
	}
	s.record(entry)
	s.logger.Printf("Scenario: %v", perr)
	return s.Perform(context.Background(), checkout.UnpaidRoute(perr))
}

func (s *Scenario) showError(perr *checkout.PaymentError) {
	route := checkout.UnpaidRoute(perr)
	s.show(Screen{
		Route:    route,
		Message:  checkout.Message(perr),
		Recovery: s.policy.Recover(perr),
	})
}

func (s *Scenario) show(screen Screen) {
	if screen.Route.Invoice != nil {
		screen.Amount = checkout.FormatAmount(screen.Route.Invoice.Amount, screen.Route.Invoice.Currency)
	}
	s.mu.Lock()
	s.current = screen.Route
	s.mu.Unlock()
	s.presenter.Present(screen)
}

func (s *Scenario) complete(notify func()) {
	s.once.Do(func() {
		s.mu.Lock()
		s.completed = true
		s.mu.Unlock()
		s.dispatch(func() {
			notify()
			close(s.done)
		})
	})
}

func (s *Scenario) record(e reporting.LogEntry) {
	e.Timestamp = s.clock.Now()
	e.ScenarioID = s.sess.Trace.ScenarioID
	e.InvoiceID = s.sess.InvoiceID
	s.journal.Record(e)
}

// journalingPrompter records accepted retries before delegating.
type journalingPrompter struct {
	s    *Scenario
	next retry.Prompter
}

func (p *journalingPrompter) PromptRetry(ctx context.Context, err error) bool {
	answer := p.next.PromptRetry(ctx, err)
	if answer {
		p.s.record(reporting.LogEntry{Status: reporting.StatusRetry, ErrorMessage: err.Error()})
	}
	return answer
}
