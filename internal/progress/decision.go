package progress

import (
	"github.com/yourorg/checkout-orchestrator/internal/checkout"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// decision is what a poll settled on: an interaction request, an outcome or
// a failure. Exactly one field is set.
type decision struct {
	interaction *remote.UserInteraction
	outcome     *Outcome
	err         *checkout.PaymentError
}

func (d decision) result() (Outcome, error) {
	if d.err != nil {
		return Outcome{}, d.err
	}
	return *d.outcome, nil
}

// interactionFor returns the most recent interaction requested for paymentID.
// changes must be ordered newest first.
func interactionFor(changes []remote.InvoiceChange, paymentID string) (remote.UserInteraction, bool) {
	for _, ch := range changes {
		if ch.Kind == remote.ChangePaymentInteractionRequested && ch.PaymentID == paymentID && ch.Interaction != nil {
			return *ch.Interaction, true
		}
	}
	return remote.UserInteraction{}, false
}

// terminal applies the outcome table to changes ordered newest first. The
// first change that settles the payment wins.
func terminal(changes []remote.InvoiceChange, r *run) (decision, bool) {
	for _, ch := range changes {
		switch ch.Kind {
		case remote.ChangeInvoiceStatusChanged:
			switch ch.InvoiceStatus {
			case remote.InvoicePaid:
				return decision{outcome: &Outcome{Invoice: r.params.Invoice, Payment: *r.payment, Method: r.params.Method}}, true
			case remote.InvoiceCancelled:
				return decision{err: r.fail(checkout.InvoiceCancelled, nil)}, true
			}

		case remote.ChangePaymentStatusChanged:
			if ch.PaymentID != r.payment.ID {
				continue
			}
			switch ch.PaymentStatus {
			case remote.PaymentCancelled:
				return decision{err: r.fail(checkout.PaymentCancelled, serverErr(ch.Error))}, true
			case remote.PaymentFailed:
				return decision{err: r.fail(checkout.PaymentFailed, serverErr(ch.Error))}, true
			}
		}
	}
	return decision{}, false
}

// serverErr avoids a typed nil inside the error interface.
func serverErr(se *remote.ServerError) error {
	if se == nil {
		return nil
	}
	return se
}
