package sandbox

import (
	"fmt"
	"net/http"

	"github.com/Knetic/govaluate"

	"github.com/yourorg/checkout-orchestrator/internal/config"
	"github.com/yourorg/checkout-orchestrator/internal/remote"
)

// Outcomes a rule can name besides a server error code.
const (
	OutcomeSuccess = "success"
	OutcomeThreeDS = "3ds"
)

type outcomeRule struct {
	id      string
	expr    *govaluate.EvaluableExpression
	outcome string
}

// Rules decides how a payment settles from the card number and the invoice
// amount in minor units. The first matching rule wins; no match is success.
type Rules struct {
	rules []outcomeRule
}

// NewRules compiles the configured outcome rules.
func NewRules(cfgs []config.OutcomeRule) (*Rules, error) {
	r := &Rules{}
	for _, c := range cfgs {
		expr, err := govaluate.NewEvaluableExpression(c.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule ID '%s': %w", c.ID, err)
		}
		if c.Outcome != OutcomeSuccess && c.Outcome != OutcomeThreeDS &&
			remote.ParseServerErrorCode(c.Outcome) == remote.ServerErrorUnknown {
			return nil, fmt.Errorf("rule ID '%s': unknown outcome %q", c.ID, c.Outcome)
		}
		r.rules = append(r.rules, outcomeRule{id: c.ID, expr: expr, outcome: c.Outcome})
	}
	return r, nil
}

// Outcome evaluates the rules for a payment. Wallet payments have an empty
// card number.
func (r *Rules) Outcome(cardNumber string, amount int64) (string, error) {
	params := map[string]interface{}{
		"cardNumber": cardNumber,
		"amount":     float64(amount),
	}
	for _, rule := range r.rules {
		result, err := rule.expr.Evaluate(params)
		if err != nil {
			return "", reject(http.StatusInternalServerError, remote.ServerErrorInvalidRequest, "rule %s failed: %v", rule.id, err)
		}
		if matched, ok := result.(bool); ok && matched {
			return rule.outcome, nil
		}
	}
	return OutcomeSuccess, nil
}
