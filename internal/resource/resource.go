// Package resource turns payment data entered by the user into a
// backend-issued payment resource.
package resource

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/retry"
	"github.com/yourorg/checkout-orchestrator/internal/session"
)

// Request is the input of the card or Apple Pay screen.
type Request struct {
	Invoice        remote.Invoice
	Method         checkout.PaymentMethod
	PaymentSystems []remote.PaymentSystem
	Instrument     remote.PaymentInstrument
	Client         remote.ClientInfo
}

// Creator wraps CreatePaymentResource with the retry policy.
type Creator struct {
	api    remote.API
	retry  *retry.Policy
	logger *log.Logger
}

// NewCreator creates a Creator. It panics on nil collaborators.
func NewCreator(api remote.API, policy *retry.Policy, logger *log.Logger) *Creator {
	if api == nil {
		panic("resource: remote API cannot be nil")
	}
	if policy == nil {
		panic("resource: retry policy cannot be nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Creator{api: api, retry: policy, logger: logger}
}

// Create issues a payment resource. Failures are returned as a
// *checkout.PaymentError with code cannotCreatePaymentResource; a cancelled
// ctx returns ctx.Err().
func (c *Creator) Create(ctx context.Context, sess session.Session, req Request) (remote.PaymentResource, error) {
	ctx, span := otel.Tracer("resource").Start(ctx, "Creator.Create")
	defer span.End()

	errCtx := checkout.ErrorContext{
		Invoice:        checkout.Ptr(req.Invoice),
		Method:         checkout.Ptr(req.Method),
		PaymentSystems: req.PaymentSystems,
	}
	if err := checkInstrument(req.Method, req.Instrument); err != nil {
		return remote.PaymentResource{}, checkout.NewPaymentError(checkout.CannotCreatePaymentResource, err, errCtx)
	}

	params := remote.PaymentResourceParams{Instrument: req.Instrument, Client: req.Client}
	res, err := retry.Do(ctx, c.retry.NewStream("create_payment_resource"), func(ctx context.Context) (remote.PaymentResource, error) {
		return c.api.CreatePaymentResource(ctx, params, sess.Credentials)
	})
	if err != nil {
		if ctx.Err() != nil {
			return remote.PaymentResource{}, ctx.Err()
		}
		span.RecordError(err)
		c.logger.Printf("Resource: creation failed for invoice %s: %v", req.Invoice.ID, err)
		return remote.PaymentResource{}, checkout.NewPaymentError(checkout.CannotCreatePaymentResource, err, errCtx)
	}
	c.logger.Printf("Resource: created %s resource for invoice %s", req.Method, req.Invoice.ID)
	return res, nil
}

func checkInstrument(method checkout.PaymentMethod, in remote.PaymentInstrument) error {
	switch method {
	case checkout.MethodBankCard:
		if in.Card == nil || in.ApplePay != nil {
			return fmt.Errorf("resource: bank card payment requires card data")
		}
	case checkout.MethodApplePay:
		if in.ApplePay == nil || in.Card != nil {
			return fmt.Errorf("resource: apple pay payment requires a wallet token")
		}
	default:
		return fmt.Errorf("resource: unsupported payment method %q", method)
	}
	return nil
}
