// Package selection validates the invoice of a scenario and computes the
// payment methods that can be offered for it.
package selection

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
	"github.com/yourorg/checkout-orchestrator/internal/retry"
	"github.com/yourorg/checkout-orchestrator/internal/session"
)

// Item is one offerable method with the card networks it accepts.
type Item struct {
	Method         checkout.PaymentMethod
	PaymentSystems []remote.PaymentSystem
}

// Offer is the result of loading a scenario's invoice.
type Offer struct {
	Invoice remote.Invoice
	Items   []Item
}

// Find returns the item for method, if offered.
func (o Offer) Find(method checkout.PaymentMethod) (Item, bool) {
	for _, it := range o.Items {
		if it.Method == method {
			return it, true
		}
	}
	return Item{}, false
}

// ValidateInvoice checks that the invoice can still be paid. The
// status is checked before the due date.
func ValidateInvoice(invoice remote.Invoice, clock clockz.Clock) *checkout.PaymentError {
	ctx := checkout.ErrorContext{Invoice: checkout.Ptr(invoice)}
	if invoice.Status != remote.InvoiceUnpaid {
		return checkout.NewPaymentError(checkout.UnexpectedInvoiceStatus,
			fmt.Errorf("invoice %s is %s", invoice.ID, invoice.Status), ctx)
	}
	if !invoice.DueDate.After(clock.Now()) {
		return checkout.NewPaymentError(checkout.InvoiceExpired,
			fmt.Errorf("invoice %s was due at %s", invoice.ID, invoice.DueDate.Format(time.RFC3339)), ctx)
	}
	return nil
}

// Offerable computes the ordered list of methods the user can choose from.
// Apple Pay comes first when offered.
func Offerable(methods []remote.MethodDescriptor, host session.HostConfig, device Device) []Item {
	var items []Item

	if host.Allows(checkout.MethodApplePay) && host.ApplePayMerchantID != "" {
		systems := collectSystems(methods, func(d remote.MethodDescriptor) bool {
			return d.HasTokenProvider(remote.TokenProviderApplePay)
		})
		if len(systems) > 0 && device.ApplePayCapability(systems) >= CapabilityCardSetupRequired {
			items = append(items, Item{Method: checkout.MethodApplePay, PaymentSystems: systems})
		}
	}

	if host.Allows(checkout.MethodBankCard) {
		systems := collectSystems(methods, func(d remote.MethodDescriptor) bool {
			return !d.IsTokenized()
		})
		if len(systems) > 0 {
			items = append(items, Item{Method: checkout.MethodBankCard, PaymentSystems: systems})
		}
	}
	return items
}

// collectSystems unions the payment systems of bank card descriptors
// matching keep, keeping first-seen order.
func collectSystems(methods []remote.MethodDescriptor, keep func(remote.MethodDescriptor) bool) []remote.PaymentSystem {
	seen := make(map[remote.PaymentSystem]bool)
	var systems []remote.PaymentSystem
	for _, d := range methods {
		if d.Method != remote.MethodBankCard || !keep(d) {
			continue
		}
		for _, s := range d.PaymentSystems {
			if !seen[s] {
				seen[s] = true
				systems = append(systems, s)
			}
		}
	}
	return systems
}

// Selector loads the invoice and its payment methods.
type Selector struct {
	api    remote.API
	retry  *retry.Policy
	device Device
	clock  clockz.Clock
	logger *log.Logger
}

// NewSelector creates a Selector. It panics on nil collaborators.
func NewSelector(api remote.API, policy *retry.Policy, device Device) *Selector {
	if api == nil {
		panic("selection: remote API cannot be nil")
	}
	if policy == nil {
		panic("selection: retry policy cannot be nil")
	}
	if device == nil {
		panic("selection: device cannot be nil")
	}
	return &Selector{api: api, retry: policy, device: device, clock: clockz.RealClock, logger: log.Default()}
}

// WithClock sets the clock used for due date checks.
func (s *Selector) WithClock(c clockz.Clock) *Selector {
	s.clock = c
	return s
}

// WithLogger sets the logger.
func (s *Selector) WithLogger(l *log.Logger) *Selector {
	if l != nil {
		s.logger = l
	}
	return s
}

// Load fetches and validates the invoice, unless one is given, then computes
// the offer. Failures are *checkout.PaymentError; cancellation returns ctx.Err().
func (s *Selector) Load(ctx context.Context, sess session.Session, invoice *remote.Invoice) (Offer, error) {
	ctx, span := otel.Tracer("selection").Start(ctx, "Selector.Load")
	defer span.End()

	if invoice == nil {
		fetched, err := retry.Do(ctx, s.retry.NewStream("obtain_invoice"), func(ctx context.Context) (remote.Invoice, error) {
			return s.api.ObtainInvoice(ctx, sess.InvoiceID, sess.Credentials)
		})
		if err != nil {
			if ctx.Err() != nil {
				return Offer{}, ctx.Err()
			}
			span.RecordError(err)
			return Offer{}, checkout.NewPaymentError(checkout.CannotObtainInvoice, err, checkout.ErrorContext{})
		}
		invoice = &fetched
	}

	if perr := ValidateInvoice(*invoice, s.clock); perr != nil {
		s.logger.Printf("Selection: invoice %s rejected: %v", invoice.ID, perr)
		return Offer{}, perr
	}

	methods, err := retry.Do(ctx, s.retry.NewStream("obtain_payment_methods"), func(ctx context.Context) ([]remote.MethodDescriptor, error) {
		return s.api.ObtainInvoicePaymentMethods(ctx, invoice.ID, sess.Credentials)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Offer{}, ctx.Err()
		}
		span.RecordError(err)
		return Offer{}, checkout.NewPaymentError(checkout.CannotObtainInvoicePaymentMethods, err,
			checkout.ErrorContext{Invoice: checkout.Ptr(*invoice)})
	}

	items := Offerable(methods, sess.Host, s.device)
	if len(items) == 0 {
		s.logger.Printf("Selection: no offerable method for invoice %s (%d advertised)", invoice.ID, len(methods))
		return Offer{}, checkout.NewPaymentError(checkout.NoPaymentMethods, nil,
			checkout.ErrorContext{Invoice: checkout.Ptr(*invoice)})
	}
	return Offer{Invoice: *invoice, Items: items}, nil
}
