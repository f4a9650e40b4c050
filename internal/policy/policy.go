// Package policy decides how the checkout recovers from a PaymentError.
//
// The three decisions are independent so that the unpaid-invoice screen can
// offer any combination of "try again", "enter other details" and "start
// over". Each depends only on the error code and on which context fields
// survived into the error.
package policy

import (
	"fmt"
	"log"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/checkout-orchestrator/internal/checkout"
)

// DefaultBackNavigationRule sends the user back to the input screen when a
// payment failed for a reason new card details can fix.
const DefaultBackNavigationRule = "serverDomain && serverCode IN ('insufficientFunds', 'invalidPaymentTool', 'rejectedByIssuer', 'paymentRejected', 'preauthorizationFailed')"

// Rule is a govaluate expression over the parameters built by ruleParameters.
// A failed payment is retried from the previous screen when any rule matches.
type Rule struct {
	ID         string
	Expression string
}

// DefaultRules returns the rule set used when none is configured.
func DefaultRules() []Rule {
	return []Rule{{ID: "payment_failed_fixable", Expression: DefaultBackNavigationRule}}
}

type compiledRule struct {
	id   string
	expr *govaluate.EvaluableExpression
}

// Policy evaluates the recovery routes of PaymentErrors.
type Policy struct {
	backRules []compiledRule
	logger    *log.Logger
}

// NewPolicy compiles the back-navigation rules. Nil rules select DefaultRules.
func NewPolicy(rules []Rule, logger *log.Logger) (*Policy, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Policy{logger: logger}
	for _, r := range rules {
		if r.Expression == "" {
			return nil, fmt.Errorf("policy: rule ID '%s' has an empty expression", r.ID)
		}
		expr, err := govaluate.NewEvaluableExpression(r.Expression)
		if err != nil {
			return nil, fmt.Errorf("policy: failed to compile rule ID '%s': %w", r.ID, err)
		}
		p.backRules = append(p.backRules, compiledRule{id: r.ID, expr: expr})
	}
	return p, nil
}

// MustDefault returns a Policy with DefaultRules.
func MustDefault() *Policy {
	p, err := NewPolicy(nil, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// Recovery is the set of routes offered for one error. Nil means unavailable.
type Recovery struct {
	Retry   *checkout.Route
	Reenter *checkout.Route
	Restart *checkout.Route
}

// Empty reports whether no recovery is possible.
func (r Recovery) Empty() bool {
	return r.Retry == nil && r.Reenter == nil && r.Restart == nil
}

// Recover evaluates all three decisions for err.
func (p *Policy) Recover(err *checkout.PaymentError) Recovery {
	var rec Recovery
	if route, ok := p.RetryRoute(err); ok {
		rec.Retry = &route
	}
	if route, ok := p.ReenterDataRoute(err); ok {
		rec.Reenter = &route
	}
	if route, ok := p.RestartScenarioRoute(err); ok {
		rec.Restart = &route
	}
	return rec
}

// RetryRoute reports whether the failed step can be repeated mechanically.
func (p *Policy) RetryRoute(err *checkout.PaymentError) (checkout.Route, bool) {
	if err == nil {
		return checkout.Route{}, false
	}
	c := err.Context

	switch err.Code {
	case checkout.CannotObtainInvoice, checkout.CannotObtainInvoicePaymentMethods:
		if err.IsServerError() {
			return checkout.Route{}, false
		}
		return checkout.InitialRoute(), true

	case checkout.CannotCreatePaymentResource, checkout.PaymentCancelled:
		return checkout.BackRoute(), true

	case checkout.CannotCreatePayment:
		if c.Invoice == nil || c.Resource == nil || c.PayerEmail == nil || c.Method == nil || c.PaymentSystems == nil {
			return checkout.Route{}, false
		}
		externalID := ""
		if c.ExternalID != nil {
			externalID = *c.ExternalID
		}
		return checkout.ProgressRoute(checkout.ProgressParams{
			Invoice:        *c.Invoice,
			Method:         *c.Method,
			PaymentSystems: c.PaymentSystems,
			Source:         checkout.NewPaymentSource(*c.Resource, *c.PayerEmail, externalID),
		}), true

	case checkout.CannotObtainInvoiceEvents, checkout.UserInteractionFailed:
		if c.Invoice == nil || c.Payment == nil || c.Method == nil || c.PaymentSystems == nil {
			return checkout.Route{}, false
		}
		return checkout.ProgressRoute(checkout.ProgressParams{
			Invoice:        *c.Invoice,
			Method:         *c.Method,
			PaymentSystems: c.PaymentSystems,
			Source:         checkout.ExistingPayment(*c.Payment),
		}), true

	case checkout.PaymentFailed:
		if p.matchesBackRule(err) {
			return checkout.BackRoute(), true
		}
		return checkout.Route{}, false

	default:
		return checkout.Route{}, false
	}
}

// ReenterDataRoute reports whether the user can try again with new payment
// data for the same method.
func (p *Policy) ReenterDataRoute(err *checkout.PaymentError) (checkout.Route, bool) {
	if err == nil || !afterMethodSelection(err.Code) {
		return checkout.Route{}, false
	}
	c := err.Context
	if c.Invoice == nil || c.Method == nil || c.PaymentSystems == nil {
		return checkout.Route{}, false
	}
	return checkout.MethodInputRoute(*c.Method, *c.Invoice, c.PaymentSystems), true
}

// RestartScenarioRoute reports whether the user can go back to method
// selection. The invoice is reused when the error carries it.
func (p *Policy) RestartScenarioRoute(err *checkout.PaymentError) (checkout.Route, bool) {
	if err == nil || !afterMethodSelection(err.Code) {
		return checkout.Route{}, false
	}
	if err.Context.Invoice != nil {
		return checkout.PaymentMethodRoute(*err.Context.Invoice), true
	}
	return checkout.InitialRoute(), true
}

func afterMethodSelection(code checkout.Code) bool {
	switch code {
	case checkout.CannotCreatePaymentResource,
		checkout.CannotCreatePayment,
		checkout.CannotObtainInvoiceEvents,
		checkout.UserInteractionFailed,
		checkout.PaymentCancelled,
		checkout.PaymentFailed:
		return true
	}
	return false
}

func (p *Policy) matchesBackRule(err *checkout.PaymentError) bool {
	params := ruleParameters(err)
	for _, r := range p.backRules {
		result, evalErr := r.expr.Evaluate(params)
		if evalErr != nil {
			p.logger.Printf("Policy: rule %s failed to evaluate: %v", r.id, evalErr)
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return true
		}
	}
	return false
}

// ruleParameters exposes code, serverDomain, serverCode, rawServerCode,
// method, amount and currency to rule expressions.
func ruleParameters(err *checkout.PaymentError) map[string]interface{} {
	params := map[string]interface{}{
		"code":          string(err.Code),
		"serverDomain":  false,
		"serverCode":    "",
		"rawServerCode": "",
		"method":        "",
		"amount":        0.0,
		"currency":      "",
	}
	if code, ok := err.ServerErrorCode(); ok {
		params["serverDomain"] = true
		params["serverCode"] = string(code)
		if se, ok := err.ServerError(); ok {
			params["rawServerCode"] = se.RawCode
		}
	}
	if err.Context.Method != nil {
		params["method"] = string(*err.Context.Method)
	}
	if inv := err.Context.Invoice; inv != nil {
		params["amount"] = float64(inv.Amount)
		params["currency"] = inv.Currency
	}
	return params
}
