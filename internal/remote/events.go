package remote

import (
	"sort"
	"time"
)

// ChangeKind discriminates InvoiceChange variants.
type ChangeKind string

const (
	ChangeInvoiceCreated              ChangeKind = "InvoiceCreated"
	ChangeInvoiceStatusChanged        ChangeKind = "InvoiceStatusChanged"
	ChangePaymentStarted              ChangeKind = "PaymentStarted"
	ChangePaymentStatusChanged        ChangeKind = "PaymentStatusChanged"
	ChangePaymentInteractionRequested ChangeKind = "PaymentInteractionRequested"
	ChangeRefundStarted               ChangeKind = "RefundStarted"
	ChangeRefundStatusChanged         ChangeKind = "RefundStatusChanged"
)

// InvoiceChange is a tagged union; only the fields of Kind are populated.
type InvoiceChange struct {
	Kind ChangeKind

	Invoice       *Invoice      // InvoiceCreated
	InvoiceStatus InvoiceStatus // InvoiceStatusChanged

	PaymentID     string           // Payment* variants
	Payment       *Payment         // PaymentStarted
	PaymentStatus PaymentStatus    // PaymentStatusChanged
	Error         *ServerError     // PaymentStatusChanged, failed only
	Interaction   *UserInteraction // PaymentInteractionRequested

	RefundID     string // Refund* variants
	RefundStatus string
}

// InvoiceStatusChanged builds an invoice status change.
func InvoiceStatusChanged(status InvoiceStatus) InvoiceChange {
	return InvoiceChange{Kind: ChangeInvoiceStatusChanged, InvoiceStatus: status}
}

// PaymentStatusChanged builds a payment status change; serverErr may be nil.
func PaymentStatusChanged(paymentID string, status PaymentStatus, serverErr *ServerError) InvoiceChange {
	return InvoiceChange{Kind: ChangePaymentStatusChanged, PaymentID: paymentID, PaymentStatus: status, Error: serverErr}
}

// PaymentInteractionRequested builds an interaction request for a payment.
func PaymentInteractionRequested(paymentID string, interaction UserInteraction) InvoiceChange {
	return InvoiceChange{Kind: ChangePaymentInteractionRequested, PaymentID: paymentID, Interaction: &interaction}
}

// InvoiceEvent is an append-only, timestamped batch of changes.
type InvoiceEvent struct {
	ID        int64
	CreatedAt time.Time
	Changes   []InvoiceChange
}

// SortNewestFirst returns a copy of events ordered by CreatedAt, descending.
// Events with equal timestamps keep their relative order.
func SortNewestFirst(events []InvoiceEvent) []InvoiceEvent {
	sorted := make([]InvoiceEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	return sorted
}

// Changes flattens the changes of events, preserving order.
func Changes(events []InvoiceEvent) []InvoiceChange {
	var changes []InvoiceChange
	for _, e := range events {
		changes = append(changes, e.Changes...)
	}
	return changes
}

// InteractionKind discriminates UserInteraction variants.
type InteractionKind string

const (
	InteractionRedirect               InteractionKind = "Redirect"
	InteractionPaymentTerminalReceipt InteractionKind = "PaymentTerminalReceipt"
)

// RequestMethod is the HTTP method of a browser request.
type RequestMethod string

const (
	RequestGet  RequestMethod = "GET"
	RequestPost RequestMethod = "POST"
)

// FormField is a templated key/value pair posted by the browser.
type FormField struct {
	Key      string
	Template string
}

// BrowserRequest is what the webview must load to run the 3-D Secure challenge.
type BrowserRequest struct {
	Method RequestMethod
	URI    string
	Form   []FormField
}

// PaymentTerminalReceipt is shown for offline terminal payments.
type PaymentTerminalReceipt struct {
	ShortPaymentID string
	DueDate        time.Time
}

// UserInteraction is a tagged union of interactions the backend may request.
type UserInteraction struct {
	Kind     InteractionKind
	Redirect *BrowserRequest
	Receipt  *PaymentTerminalReceipt
}

// RedirectInteraction wraps a browser request.
func RedirectInteraction(req BrowserRequest) UserInteraction {
	return UserInteraction{Kind: InteractionRedirect, Redirect: &req}
}
