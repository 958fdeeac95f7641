package service

import (
	"github.com/smallbiznis/memberledger/internal/actionrequest/domain"
	programdomain "github.com/smallbiznis/memberledger/internal/program/domain"
)

// Auto-approval bounds used when a policy carries no max_amount.
const (
	defaultEarnPointsBound = 50
	defaultSpendValueBound = 100
)

// shouldAutoApprove applies the per-type risk gates on top of the policy's
// auto_approve flag. Redemptions always require an operator decision.
func shouldAutoApprove(actionType domain.ActionType, payload map[string]any, policy programdomain.ActionPolicy) bool {
	switch actionType {
	case domain.ActionTypeCheckIn:
		return true
	case domain.ActionTypeEarnPoints:
		bound := float64(defaultEarnPointsBound)
		if policy.MaxAmount != nil {
			bound = *policy.MaxAmount
		}
		points, ok := payloadNumber(payload, "points")
		return ok && points > 0 && points <= bound
	case domain.ActionTypeSpendValue:
		bound := float64(defaultSpendValueBound)
		if policy.MaxAmount != nil {
			bound = *policy.MaxAmount
		}
		amount, ok := payloadNumber(payload, "amount")
		return ok && amount > 0 && amount <= bound
	default:
		return false
	}
}

// amountField names the payload field that carries the action's amount.
// Check-ins carry none.
func amountField(actionType domain.ActionType) string {
	switch actionType {
	case domain.ActionTypeEarnPoints:
		return "points"
	case domain.ActionTypeSpendValue:
		return "amount"
	case domain.ActionTypeRedeemOffer:
		return "points_cost"
	default:
		return ""
	}
}

// validateAmounts rejects amount-carrying submissions whose amount is
// missing, non-numeric or not positive. A negative spend or redemption
// would invert the ledger delta and credit the member.
func validateAmounts(actionType domain.ActionType, payload map[string]any) error {
	field := amountField(actionType)
	if field == "" {
		return nil
	}
	value, ok := payloadNumber(payload, field)
	if !ok || value <= 0 {
		return domain.ErrInvalidAmount
	}
	return nil
}

// payloadNumber reads a numeric payload field; JSON decoding yields float64
// but callers built in-process may pass int variants.
func payloadNumber(payload map[string]any, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
