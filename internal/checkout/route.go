package checkout

import "github.com/yourorg/checkout-orchestrator/internal/remote"

// RouteKind is a destination of the scenario.
type RouteKind int

const (
	RoutePaymentMethod RouteKind = iota
	RouteBankCard
	RouteApplePay
	RoutePaymentProgress
	RoutePaidInvoice
	RouteUnpaidInvoice
	RouteCancel
	RouteFinish
	// RouteBack returns to the screen that preceded the current one.
	RouteBack
)

var routeNames = [...]string{
	RoutePaymentMethod:   "paymentMethod",
	RouteBankCard:        "bankCard",
	RouteApplePay:        "applePay",
	RoutePaymentProgress: "paymentProgress",
	RoutePaidInvoice:     "paidInvoice",
	RouteUnpaidInvoice:   "unpaidInvoice",
	RouteCancel:          "cancel",
	RouteFinish:          "finish",
	RouteBack:            "back",
}

func (k RouteKind) String() string {
	if int(k) < len(routeNames) {
		return routeNames[k]
	}
	return "unknown"
}

// Source is where the progress engine gets its payment from: either an
// already known Payment (resume) or a resource to create one with.
type Source struct {
	Payment    *remote.Payment
	Resource   *remote.PaymentResource
	PayerEmail string
	// ExternalID is empty until a first creation attempt was made.
	ExternalID string
}

// ExistingPayment resumes tracking of a known payment.
func ExistingPayment(p remote.Payment) Source {
	return Source{Payment: &p}
}

// NewPaymentSource creates a payment from resource; externalID may be empty.
func NewPaymentSource(resource remote.PaymentResource, payerEmail, externalID string) Source {
	return Source{Resource: &resource, PayerEmail: payerEmail, ExternalID: externalID}
}

// ProgressParams are the inputs of a progress engine run.
type ProgressParams struct {
	Invoice        remote.Invoice
	Method         PaymentMethod
	PaymentSystems []remote.PaymentSystem
	Source         Source
}

// Route is a navigation destination with the data its screen needs.
type Route struct {
	Kind RouteKind

	// PaymentMethod (nil reloads the invoice), BankCard, ApplePay, PaidInvoice.
	Invoice *remote.Invoice
	// BankCard, ApplePay.
	PaymentSystems []remote.PaymentSystem
	// PaymentProgress.
	Progress *ProgressParams
	// PaidInvoice.
	Payment *remote.Payment
	Method  PaymentMethod
	// UnpaidInvoice.
	Error *PaymentError
}

func InitialRoute() Route {
	return Route{Kind: RoutePaymentMethod}
}

func PaymentMethodRoute(invoice remote.Invoice) Route {
	return Route{Kind: RoutePaymentMethod, Invoice: &invoice}
}

// MethodInputRoute routes to the input screen of method.
func MethodInputRoute(method PaymentMethod, invoice remote.Invoice, systems []remote.PaymentSystem) Route {
	kind := RouteBankCard
	if method == MethodApplePay {
		kind = RouteApplePay
	}
	return Route{Kind: kind, Invoice: &invoice, PaymentSystems: systems}
}

func ProgressRoute(params ProgressParams) Route {
	return Route{Kind: RoutePaymentProgress, Progress: &params}
}

func PaidRoute(invoice remote.Invoice, payment remote.Payment, method PaymentMethod) Route {
	return Route{Kind: RoutePaidInvoice, Invoice: &invoice, Payment: &payment, Method: method}
}

func UnpaidRoute(err *PaymentError) Route {
	return Route{Kind: RouteUnpaidInvoice, Error: err}
}

func BackRoute() Route {
	return Route{Kind: RouteBack}
}
