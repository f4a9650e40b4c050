// Package wire holds the JSON representation of the processing protocol and
// its mapping to the remote data model. Tagged unions are encoded with a
// discriminator field ("changeType", "interactionType", "paymentToolType").
package wire

import (
	"time"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// Error is the body of every 4xx response carrying a business rejection.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type CartLine struct {
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
	Price    int64  `json:"price"`
	Cost     int64  `json:"cost"`
}

type Invoice struct {
	ID          string     `json:"id"`
	ShopID      string     `json:"shopID"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	Product     string     `json:"product"`
	Description string     `json:"description,omitempty"`
	Cart        []CartLine `json:"cart,omitempty"`
	DueDate     time.Time  `json:"dueDate"`
	Status      string     `json:"status"`
}

type PaymentMethod struct {
	Method         string   `json:"method"`
	PaymentSystems []string `json:"paymentSystems,omitempty"`
	TokenProviders []string `json:"tokenProviders,omitempty"`
}

const (
	ToolCardData          = "CardData"
	ToolTokenizedCardData = "TokenizedCardData"
)

type PaymentTool struct {
	PaymentToolType string `json:"paymentToolType"`
	CardNumber      string `json:"cardNumber,omitempty"`
	ExpDate         string `json:"expDate,omitempty"`
	CVV             string `json:"cvv,omitempty"`
	CardHolder      string `json:"cardHolder,omitempty"`
	Provider        string `json:"provider,omitempty"`
	MerchantID      string `json:"merchantID,omitempty"`
	PaymentToken    []byte `json:"paymentToken,omitempty"`
}

type ClientInfo struct {
	Fingerprint string `json:"fingerprint"`
	IP          string `json:"ip,omitempty"`
}

type PaymentResourceParams struct {
	PaymentTool PaymentTool `json:"paymentTool"`
	ClientInfo  ClientInfo  `json:"clientInfo"`
}

type PaymentToolDetails struct {
	CardNumberMask string `json:"cardNumberMask,omitempty"`
	PaymentSystem  string `json:"paymentSystem,omitempty"`
	TokenProvider  string `json:"tokenProvider,omitempty"`
}

type PaymentResource struct {
	PaymentToolToken   string             `json:"paymentToolToken"`
	PaymentSession     string             `json:"paymentSession"`
	PaymentToolDetails PaymentToolDetails `json:"paymentToolDetails"`
}

const (
	FlowInstant = "PaymentFlowInstant"
	FlowHold    = "PaymentFlowHold"
)

type Flow struct {
	Type             string     `json:"type"`
	OnHoldExpiration string     `json:"onHoldExpiration,omitempty"`
	HeldUntil        *time.Time `json:"heldUntil,omitempty"`
}

type ContactInfo struct {
	Email string `json:"email,omitempty"`
}

type Payer struct {
	PayerType        string      `json:"payerType"`
	PaymentToolToken string      `json:"paymentToolToken"`
	PaymentSession   string      `json:"paymentSession"`
	ContactInfo      ContactInfo `json:"contactInfo"`
}

type PaymentParams struct {
	ExternalID string `json:"externalID,omitempty"`
	Flow       Flow   `json:"flow"`
	Payer      Payer  `json:"payer"`
}

type Payment struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalID,omitempty"`
	InvoiceID  string    `json:"invoiceID"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Flow       Flow      `json:"flow"`
	Payer      Payer     `json:"payer"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	Error      *Error    `json:"error,omitempty"`
}

const (
	RequestBrowserGet  = "BrowserGetRequest"
	RequestBrowserPost = "BrowserPostRequest"
)

type FormField struct {
	Key      string `json:"key"`
	Template string `json:"template"`
}

type BrowserRequest struct {
	RequestType string      `json:"requestType"`
	URITemplate string      `json:"uriTemplate"`
	Form        []FormField `json:"form,omitempty"`
}

type UserInteraction struct {
	InteractionType string          `json:"interactionType"`
	Request         *BrowserRequest `json:"request,omitempty"`
	ShortPaymentID  string          `json:"shortPaymentID,omitempty"`
	DueDate         *time.Time      `json:"dueDate,omitempty"`
}

type Refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type InvoiceChange struct {
	ChangeType      string           `json:"changeType"`
	Status          string           `json:"status,omitempty"`
	PaymentID       string           `json:"paymentID,omitempty"`
	Error           *Error           `json:"error,omitempty"`
	UserInteraction *UserInteraction `json:"userInteraction,omitempty"`
	Payment         *Payment         `json:"payment,omitempty"`
	Invoice         *Invoice         `json:"invoice,omitempty"`
	Refund          *Refund          `json:"refund,omitempty"`
}

type InvoiceEvent struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"createdAt"`
	Changes   []InvoiceChange `json:"changes"`
}

// ServerError converts the wire error into the remote taxonomy.
func (e Error) ServerError() remote.ServerError {
	return remote.NewServerError(e.Code, e.Message)
}

// FromServerError converts a remote server error for the wire.
func FromServerError(se remote.ServerError) Error {
	code := se.RawCode
	if code == "" {
		code = string(se.Code)
	}
	return Error{Code: code, Message: se.Message}
}
