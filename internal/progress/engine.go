// Package progress drives one payment attempt to a terminal outcome.
//
// An Engine run has three phases. It obtains the payment, either resuming a
// known one or creating one under an idempotency key. It then polls invoice
// events until the backend either asks for a user interaction (3-D Secure)
// or settles the payment. When an interaction was requested it waits for the
// UI to report its completion and polls again, this time for the outcome
// only.
package progress

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/metrics"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/retry"
)

const (
	DefaultFirstPollDelay = time.Second
	DefaultPollInterval   = 2 * time.Second
)

// Phase names, as used in metrics and spans.
const (
	PhaseObtainPayment    = "obtain_payment"
	PhaseAwaitInteraction = "await_interaction_request"
	PhaseInteraction      = "interaction"
	PhaseAwaitOutcome     = "await_outcome"
)

// Retry stream names.
const (
	streamCreatePayment = "create_payment"
	streamObtainEvents  = "obtain_invoice_events"
)

// Outcome is a settled payment.
type Outcome struct {
	Invoice remote.Invoice
	Payment remote.Payment
	Method  checkout.PaymentMethod
}

// Listener receives what an Engine produces before its outcome.
type Listener interface {
	// ExternalIDAssigned is called when a new idempotency key was generated,
	// before the first creation attempt.
	ExternalIDAssigned(externalID string)
	// PaymentStarted is called once the payment is known.
	PaymentStarted(payment remote.Payment)
	// RequestUserInteraction asks the UI to run the interaction and later call
	// InteractionFinished or InteractionFailed on the engine.
	RequestUserInteraction(interaction remote.UserInteraction)
}

// ListenerFuncs adapts optional functions to Listener.
type ListenerFuncs struct {
	OnExternalID      func(string)
	OnPaymentStarted  func(remote.Payment)
	OnUserInteraction func(remote.UserInteraction)
}

func (l ListenerFuncs) ExternalIDAssigned(id string) {
	if l.OnExternalID != nil {
		l.OnExternalID(id)
	}
}

func (l ListenerFuncs) PaymentStarted(p remote.Payment) {
	if l.OnPaymentStarted != nil {
		l.OnPaymentStarted(p)
	}
}

func (l ListenerFuncs) RequestUserInteraction(ui remote.UserInteraction) {
	if l.OnUserInteraction != nil {
		l.OnUserInteraction(ui)
	}
}

// Engine runs a single payment attempt. It is single-use.
type Engine struct {
	api      remote.API
	retry    *retry.Policy
	listener Listener

	ids            remote.IDGenerator
	clock          clockz.Clock
	firstPollDelay time.Duration
	pollInterval   time.Duration
	flow           remote.PaymentFlow
	logger         *log.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer

	started      atomic.Bool
	interactions chan error
}

// Option configures an Engine.
type Option func(*Engine)

func WithIDGenerator(g remote.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

func WithClock(c clockz.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithPollTiming sets the delay before the first poll of a window and the
// interval between the following ones. Non-positive values keep the defaults.
func WithPollTiming(first, interval time.Duration) Option {
	return func(e *Engine) {
		if first > 0 {
			e.firstPollDelay = first
		}
		if interval > 0 {
			e.pollInterval = interval
		}
	}
}

func WithFlow(f remote.PaymentFlow) Option {
	return func(e *Engine) { e.flow = f }
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an Engine. It panics on nil collaborators.
func NewEngine(api remote.API, policy *retry.Policy, listener Listener, opts ...Option) *Engine {
	if api == nil {
		panic("progress: remote API cannot be nil")
	}
	if policy == nil {
		panic("progress: retry policy cannot be nil")
	}
	if listener == nil {
		panic("progress: listener cannot be nil")
	}
	e := &Engine{
		api:            api,
		retry:          policy,
		listener:       listener,
		ids:            remote.UUIDGenerator{},
		clock:          clockz.RealClock,
		firstPollDelay: DefaultFirstPollDelay,
		pollInterval:   DefaultPollInterval,
		flow:           remote.InstantFlow(),
		logger:         log.Default(),
		tracer:         otel.Tracer("progress"),
		interactions:   make(chan error, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InteractionFinished reports that the user completed the requested interaction.
func (e *Engine) InteractionFinished() {
	e.signal(nil)
}

// InteractionFailed reports that the requested interaction could not be completed.
func (e *Engine) InteractionFailed(err error) {
	if err == nil {
		err = fmt.Errorf("progress: user interaction failed")
	}
	e.signal(err)
}

func (e *Engine) signal(err error) {
	select {
	case e.interactions <- err:
	default:
		e.logger.Printf("Engine: dropping interaction signal, one is already pending")
	}
}

// run holds the state of the single invocation of an Engine.
type run struct {
	params     checkout.ProgressParams
	creds      remote.Credentials
	externalID string
	payment    *remote.Payment
}

func (r *run) errorContext() checkout.ErrorContext {
	c := checkout.ErrorContext{
		Invoice:        checkout.Ptr(r.params.Invoice),
		Method:         checkout.Ptr(r.params.Method),
		PaymentSystems: r.params.PaymentSystems,
	}
	if c.PaymentSystems == nil {
		c.PaymentSystems = []remote.PaymentSystem{}
	}
	src := r.params.Source
	if src.Resource != nil {
		c.Resource = checkout.Ptr(*src.Resource)
		c.PayerEmail = checkout.Ptr(src.PayerEmail)
	}
	if r.externalID != "" {
		c.ExternalID = checkout.Ptr(r.externalID)
	}
	if r.payment != nil {
		c.Payment = checkout.Ptr(*r.payment)
	}
	return c
}

func (r *run) fail(code checkout.Code, err error) *checkout.PaymentError {
	return checkout.NewPaymentError(code, err, r.errorContext())
}

// Run drives the payment to its outcome. Failures are returned as a
// *checkout.PaymentError; cancellation of ctx returns ctx.Err(). Run panics
// when called twice or when the backend requests an interaction other than
// a redirect.
func (e *Engine) Run(ctx context.Context, params checkout.ProgressParams, creds remote.Credentials) (Outcome, error) {
	if !e.started.CompareAndSwap(false, true) {
		panic("progress: engine is single-use")
	}
	ctx, span := e.tracer.Start(ctx, "Engine.Run", trace.WithAttributes(
		attribute.String("invoice.id", params.Invoice.ID),
		attribute.String("payment.method", string(params.Method)),
	))
	defer span.End()

	r := &run{params: params, creds: creds, externalID: params.Source.ExternalID}
	out, err := e.run(ctx, r)
	switch {
	case err == nil:
		e.metrics.ObserveOutcome("finished", "")
		e.logger.Printf("Engine: payment %s of invoice %s finished", out.Payment.ID, params.Invoice.ID)
	case ctx.Err() != nil:
		e.metrics.ObserveOutcome("cancelled", "")
		e.logger.Printf("Engine: run for invoice %s cancelled", params.Invoice.ID)
	default:
		span.RecordError(err)
		code := ""
		if perr, ok := checkout.AsPaymentError(err); ok {
			code = string(perr.Code)
		}
		e.metrics.ObserveOutcome("failed", code)
		e.logger.Printf("Engine: run for invoice %s failed: %v", params.Invoice.ID, err)
	}
	return out, err
}

func (e *Engine) run(ctx context.Context, r *run) (Outcome, error) {
	payment, err := e.obtainPayment(ctx, r)
	if err != nil {
		return Outcome{}, err
	}
	r.payment = &payment
	e.listener.PaymentStarted(payment)

	d, err := e.poll(ctx, r, PhaseAwaitInteraction, true)
	if err != nil {
		return Outcome{}, err
	}
	if d.interaction == nil {
		return d.result()
	}

	if err := e.awaitInteraction(ctx, r, *d.interaction); err != nil {
		return Outcome{}, err
	}

	d, err = e.poll(ctx, r, PhaseAwaitOutcome, false)
	if err != nil {
		return Outcome{}, err
	}
	return d.result()
}

func (e *Engine) obtainPayment(ctx context.Context, r *run) (remote.Payment, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.ObtainPayment")
	defer span.End()
	start := e.clock.Now()
	defer func() { e.metrics.ObservePhase(PhaseObtainPayment, e.clock.Now().Sub(start).Seconds()) }()

	src := r.params.Source
	if src.Payment != nil {
		e.logger.Printf("Engine: resuming payment %s", src.Payment.ID)
		return *src.Payment, nil
	}
	if src.Resource == nil {
		panic("progress: payment source has neither a payment nor a resource")
	}

	invoiceID := r.params.Invoice.ID
	stream := e.retry.NewStream(streamCreatePayment)

	var payment remote.Payment
	var err error
	if r.externalID != "" {
		externalID := r.externalID
		payment, err = retry.Do(ctx, stream, func(ctx context.Context) (remote.Payment, error) {
			return e.api.ObtainPayment(ctx, invoiceID, remote.ByExternalID(externalID), r.creds)
		})
		if err == nil {
			e.logger.Printf("Engine: found payment %s created earlier under %s", payment.ID, externalID)
		} else if remote.IsServerError(err) && ctx.Err() == nil {
			e.logger.Printf("Engine: no payment under %s yet (%v), creating it", externalID, err)
			payment, err = e.createPayment(ctx, stream, r)
		}
	} else {
		r.externalID = e.ids.NewExternalID()
		e.listener.ExternalIDAssigned(r.externalID)
		payment, err = e.createPayment(ctx, stream, r)
	}

	if err != nil {
		if ctx.Err() != nil {
			return remote.Payment{}, ctx.Err()
		}
		span.RecordError(err)
		return remote.Payment{}, r.fail(checkout.CannotCreatePayment, err)
	}
	span.SetAttributes(attribute.String("payment.id", payment.ID), attribute.String("payment.external_id", r.externalID))
	return payment, nil
}

func (e *Engine) createPayment(ctx context.Context, stream *retry.Stream, r *run) (remote.Payment, error) {
	src := r.params.Source
	params := remote.PaymentParams{
		ExternalID: r.externalID,
		Flow:       e.flow,
		Payer: remote.Payer{
			PaymentToolToken: src.Resource.PaymentToolToken,
			PaymentSession:   src.Resource.PaymentSession,
			Email:            src.PayerEmail,
		},
	}
	return retry.Do(ctx, stream, func(ctx context.Context) (remote.Payment, error) {
		return e.api.CreatePayment(ctx, r.params.Invoice.ID, params, r.creds)
	})
}

func (e *Engine) awaitInteraction(ctx context.Context, r *run, ui remote.UserInteraction) error {
	ctx, span := e.tracer.Start(ctx, "Engine.AwaitInteraction")
	defer span.End()
	start := e.clock.Now()
	defer func() { e.metrics.ObservePhase(PhaseInteraction, e.clock.Now().Sub(start).Seconds()) }()

	if ui.Kind != remote.InteractionRedirect || ui.Redirect == nil {
		panic(fmt.Sprintf("progress: unsupported user interaction %q", ui.Kind))
	}
	e.logger.Printf("Engine: payment %s requires interaction, %s %s", r.payment.ID, ui.Redirect.Method, ui.Redirect.URI)
	e.listener.RequestUserInteraction(ui)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-e.interactions:
		if err != nil {
			span.RecordError(err)
			return r.fail(checkout.UserInteractionFailed, err)
		}
		return nil
	}
}

// poll fetches invoice events on the engine's cadence until decide yields a
// decision. Polls never overlap.
func (e *Engine) poll(ctx context.Context, r *run, phase string, interactive bool) (decision, error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Poll", trace.WithAttributes(attribute.String("phase", phase)))
	defer span.End()
	start := e.clock.Now()
	defer func() { e.metrics.ObservePhase(phase, e.clock.Now().Sub(start).Seconds()) }()

	stream := e.retry.NewStream(streamObtainEvents)
	delay := e.firstPollDelay
	for polls := 1; ; polls++ {
		select {
		case <-ctx.Done():
			return decision{}, ctx.Err()
		case <-e.clock.After(delay):
		}
		delay = e.pollInterval

		events, err := retry.Do(ctx, stream, func(ctx context.Context) ([]remote.InvoiceEvent, error) {
			return e.api.ObtainInvoiceEvents(ctx, r.params.Invoice.ID, r.creds)
		})
		if err != nil {
			if ctx.Err() != nil {
				return decision{}, ctx.Err()
			}
			e.metrics.ObservePoll(phase, "error")
			span.RecordError(err)
			return decision{}, r.fail(checkout.CannotObtainInvoiceEvents, err)
		}

		changes := remote.Changes(remote.SortNewestFirst(events))
		if interactive {
			if ui, ok := interactionFor(changes, r.payment.ID); ok {
				e.metrics.ObservePoll(phase, "decided")
				return decision{interaction: &ui}, nil
			}
		}
		if d, ok := terminal(changes, r); ok {
			e.metrics.ObservePoll(phase, "decided")
			span.SetAttributes(attribute.Int("polls", polls))
			return d, nil
		}
		e.metrics.ObservePoll(phase, "pending")
	}
}
