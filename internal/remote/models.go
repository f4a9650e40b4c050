package remote

import "time"

// InvoiceStatus is the lifecycle status of an invoice as reported by the backend.
type InvoiceStatus string

const (
	InvoiceUnpaid    InvoiceStatus = "unpaid"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
	InvoiceRefunded  InvoiceStatus = "refunded"
	InvoiceFulfilled InvoiceStatus = "fulfilled"
)

// Invoice is an immutable snapshot fetched once per scenario entry.
type Invoice struct {
	ID          string
	ShopID      string
	Amount      int64 // minor units
	Currency    string
	Product     string
	Description string
	Cart        []CartLine
	DueDate     time.Time
	Status      InvoiceStatus
}

// CartLine is a single product position of an invoice.
type CartLine struct {
	Product  string
	Quantity int64
	Price    int64
	Cost     int64
}

// PaymentStatus is the backend's payment status vocabulary.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentProcessed PaymentStatus = "processed"
	PaymentCaptured  PaymentStatus = "captured"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefused   PaymentStatus = "refused"
	PaymentFailed    PaymentStatus = "failed"
)

// IsTerminalSuccess reports whether the status settles the payment.
func (s PaymentStatus) IsTerminalSuccess() bool {
	return s == PaymentProcessed || s == PaymentCaptured
}

// IsTerminalFailure reports whether the payment can no longer succeed.
func (s PaymentStatus) IsTerminalFailure() bool {
	return s == PaymentCancelled || s == PaymentRefused || s == PaymentFailed
}

// FlowKind selects between instant capture and a hold.
type FlowKind string

const (
	FlowInstant FlowKind = "instant"
	FlowHold    FlowKind = "hold"
)

// HoldExpiration is what the backend does with a hold once it expires.
type HoldExpiration string

const (
	HoldExpirationCancel  HoldExpiration = "cancel"
	HoldExpirationCapture HoldExpiration = "capture"
)

// PaymentFlow describes how the funds are captured.
type PaymentFlow struct {
	Kind             FlowKind
	OnHoldExpiration HoldExpiration
	HeldUntil        time.Time
}

// InstantFlow is the flow used by the checkout unless configured otherwise.
func InstantFlow() PaymentFlow {
	return PaymentFlow{Kind: FlowInstant}
}

// Payer identifies the payment tool and the person paying.
type Payer struct {
	PaymentToolToken string
	PaymentSession   string
	Email            string
}

// Payment is a single attempt to settle an invoice.
type Payment struct {
	ID         string
	ExternalID string
	InvoiceID  string
	Amount     int64
	Currency   string
	Flow       PaymentFlow
	Payer      Payer
	Status     PaymentStatus
	CreatedAt  time.Time
	Error      *ServerError
}

// MethodKind is a backend-advertised payment method family.
type MethodKind string

const (
	MethodBankCard        MethodKind = "BankCard"
	MethodPaymentTerminal MethodKind = "PaymentTerminal"
	MethodDigitalWallet   MethodKind = "DigitalWallet"
)

// TokenProvider is a wallet that tokenizes bank cards.
type TokenProvider string

const (
	TokenProviderApplePay   TokenProvider = "applepay"
	TokenProviderGooglePay  TokenProvider = "googlepay"
	TokenProviderSamsungPay TokenProvider = "samsungpay"
)

// PaymentSystem is a card scheme.
type PaymentSystem string

const (
	PaymentSystemVisa       PaymentSystem = "visa"
	PaymentSystemMastercard PaymentSystem = "mastercard"
	PaymentSystemMaestro    PaymentSystem = "maestro"
	PaymentSystemMir        PaymentSystem = "mir"
	PaymentSystemAmex       PaymentSystem = "amex"
	PaymentSystemJCB        PaymentSystem = "jcb"
	PaymentSystemUnionPay   PaymentSystem = "unionpay"
	PaymentSystemDiscover   PaymentSystem = "discover"
	PaymentSystemDinersClub PaymentSystem = "dinersclub"
)

// MethodDescriptor is one entry of the invoice's payment methods.
// TokenProviders is empty for card-only methods.
type MethodDescriptor struct {
	Method         MethodKind
	PaymentSystems []PaymentSystem
	TokenProviders []TokenProvider
}

// IsTokenized reports whether the method is only available through a wallet.
func (d MethodDescriptor) IsTokenized() bool {
	return len(d.TokenProviders) > 0
}

// HasTokenProvider reports whether p is among the descriptor's token providers.
func (d MethodDescriptor) HasTokenProvider(p TokenProvider) bool {
	for _, provider := range d.TokenProviders {
		if provider == p {
			return true
		}
	}
	return false
}

// CardData is raw bank card input collected by the card screen.
type CardData struct {
	Number         string
	ExpDate        string // MM/YY
	CVV            string
	CardholderName string
}

// ApplePayData is the opaque token returned by the wallet sheet.
type ApplePayData struct {
	MerchantID   string
	PaymentToken []byte
}

// PaymentInstrument is the user-entered data turned into a payment resource.
// Exactly one of Card and ApplePay is set.
type PaymentInstrument struct {
	Card     *CardData
	ApplePay *ApplePayData
}

// ClientInfo travels with payment resource creation for fraud scoring.
type ClientInfo struct {
	Fingerprint string
	IP          string
}

// PaymentResourceParams is the body of a payment resource request.
type PaymentResourceParams struct {
	Instrument PaymentInstrument
	Client     ClientInfo
}

// PaymentToolDetails is the masked view of the tool behind a resource.
type PaymentToolDetails struct {
	CardNumberMask string
	PaymentSystem  PaymentSystem
	TokenProvider  TokenProvider
}

// PaymentResource is the opaque, backend-issued token for a payment tool.
type PaymentResource struct {
	PaymentToolToken string
	PaymentSession   string
	Details          PaymentToolDetails
}

// PaymentParams is the body of a create-payment request.
type PaymentParams struct {
	ExternalID string
	Flow       PaymentFlow
	Payer      Payer
}

// PaymentRef addresses a payment either by id or by external id.
type PaymentRef struct {
	PaymentID  string
	ExternalID string
}

// ByPaymentID references a payment by its backend id.
func ByPaymentID(id string) PaymentRef {
	return PaymentRef{PaymentID: id}
}

// ByExternalID references a payment by its client-generated idempotency key.
func ByExternalID(id string) PaymentRef {
	return PaymentRef{ExternalID: id}
}

// Credentials authorise calls on behalf of the invoice.
type Credentials struct {
	AccessToken string
}
