package checkout

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// Currencies without minor units; everything else is assumed to have two.
var zeroExponentCurrencies = map[string]bool{"JPY": true, "KRW": true, "VND": true, "CLP": true, "ISK": true}

// FormatAmount renders an amount in minor units, e.g. 123450 RUB as "1234.50 RUB".
func FormatAmount(minor int64, currency string) string {
	currency = strings.ToUpper(currency)
	if zeroExponentCurrencies[currency] {
		return decimal.New(minor, 0).String() + " " + currency
	}
	return decimal.New(minor, -2).StringFixed(2) + " " + currency
}

var codeMessages = map[Code]string{
	CannotObtainInvoice:               "The invoice could not be loaded.",
	InvoiceExpired:                    "The invoice has expired.",
	UnexpectedInvoiceStatus:           "The invoice can no longer be paid.",
	CannotObtainInvoicePaymentMethods: "Payment methods could not be loaded.",
	NoPaymentMethods:                  "No payment method is available for this invoice.",
	CannotCreatePaymentResource:       "The payment details could not be processed.",
	CannotCreatePayment:               "The payment could not be started.",
	CannotObtainInvoiceEvents:         "The payment status could not be checked.",
	UserInteractionFailed:             "Card verification could not be completed.",
	InvoiceCancelled:                  "The invoice was cancelled.",
	PaymentCancelled:                  "The payment was cancelled.",
	PaymentFailed:                     "The payment failed.",
}

var serverMessages = map[remote.ServerErrorCode]string{
	remote.ServerErrorInsufficientFunds:       "There are not enough funds on the card.",
	remote.ServerErrorInvalidPaymentTool:      "The card details are invalid.",
	remote.ServerErrorRejectedByIssuer:        "The card issuer declined the payment.",
	remote.ServerErrorPaymentRejected:         "The payment was rejected.",
	remote.ServerErrorPreauthorizationFailed:  "Card verification failed.",
	remote.ServerErrorAuthorizationFailed:     "The payment was not authorized.",
	remote.ServerErrorAccountLimitExceeded:    "The card limit is exceeded.",
	remote.ServerErrorAccountBlocked:          "The card is blocked.",
	remote.ServerErrorInvalidInvoiceStatus:    "The invoice is not payable in its current state.",
	remote.ServerErrorInvoicePaymentPending:   "Another payment for this invoice is in progress.",
	remote.ServerErrorInvoiceTermsViolated:    "The payment violates the shop's terms.",
	remote.ServerErrorInvalidPaymentToolToken: "The payment details have expired.",
}

// Message is the text of the unpaid-invoice screen for err.
func Message(err *PaymentError) string {
	if err == nil {
		return ""
	}
	text := codeMessages[err.Code]
	if text == "" {
		text = "Something went wrong."
	}
	if detail := detailMessage(err.Err); detail != "" {
		text += " " + detail
	}
	return text
}

func detailMessage(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := remote.AsServerError(err); ok {
		if msg, ok := serverMessages[se.Code]; ok {
			return msg
		}
		return ""
	}
	var netErr *remote.NetworkError
	if errors.As(err, &netErr) {
		return "The payment service responded unexpectedly."
	}
	return "Check your internet connection."
}
