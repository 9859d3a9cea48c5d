// Package decision gates order creation on an analyzed message.
package decision

import (
	"fmt"

	"order-workers/internal/models"
)

// DefaultThreshold is the minimum intent confidence for committing an order.
const DefaultThreshold = 0.7

// Decide maps an analysis and continuation decision to exactly one action.
// It is pure: the same inputs always yield the same Decision.
//
// CREATE_ORDER or MERGE_INTO_ORDER requires a BUY intent with confidence at
// or above threshold, at least one matched or confirmed product and no
// product awaiting clarification.
func Decide(analysis models.MessageAnalysis, cont models.ContinuationDecision, threshold float64) models.Decision {
	d := models.Decision{State: models.StateResolved}

	if !analysis.Intent.IsPurchase() {
		d.Action = models.ActionNoAction
		d.Reasoning = fmt.Sprintf("intent is %s, not a purchase", kindOf(analysis.Intent))
		return d
	}

	if p, ok := analysis.FirstClarifying(); ok {
		d.Action = models.ActionAskClarification
		d.Question = p.SuggestedQuestion
		if d.Question == "" {
			d.Question = analysis.SuggestedQuestion
		}
		d.Reasoning = fmt.Sprintf("product %q needs clarification (%s tier)", p.MentionText, p.MatchTier)
		return d
	}

	resolved := len(analysis.ResolvedProducts())
	if resolved == 0 {
		d.Action = models.ActionNoAction
		d.Reasoning = "purchase intent without any identified product"
		return d
	}

	if analysis.Intent.Confidence < threshold {
		d.Action = models.ActionNoAction
		d.Reasoning = fmt.Sprintf("intent confidence %.2f below threshold %.2f", analysis.Intent.Confidence, threshold)
		return d
	}

	if cont.IsContinuation && cont.TargetOrderID != "" {
		d.Action = models.ActionMergeIntoOrder
		d.TargetOrderID = cont.TargetOrderID
		d.Reasoning = fmt.Sprintf("adding %d products to order %s (%s, %.2f)", resolved, cont.TargetOrderID, cont.DetectionMethod, cont.Confidence)
		return d
	}

	d.Action = models.ActionCreateOrder
	d.Reasoning = fmt.Sprintf("creating order with %d products", resolved)
	return d
}

func kindOf(i models.MessageIntent) models.IntentKind {
	if i.Kind == "" {
		return models.IntentOther
	}
	return i.Kind
}
