// Package behavior implements the funnel state machine. The funnel order is
// visitor < viewed_product < product_added_to_cart; a lead's stage is replaced
// only by a strictly later one and never moves backward.
package behavior

import "github.com/leadlift/attribution/internal/domain"

// Advance returns the funnel stage after observing an action. The current
// stage wins unless the action's stage is strictly later.
func Advance(current domain.BehaviorType, action domain.Action) domain.BehaviorType {
	candidate := action.Behavior()
	if candidate.Rank() > current.Rank() {
		return candidate
	}
	return current
}

// Signals are the order/cart side effects an action carries, independent of
// the funnel stage
type Signals struct {
	// AddedToCart upserts the lead's last-added-at cart record
	AddedToCart bool
	// Checkout upserts the lead's order record and permanently marks the lead
	// as converted
	Checkout bool
}

// SignalsFor maps an action to its side-record signals. Checkout implies an
// add-to-cart, mirroring the funnel collapse in Action.Behavior.
func SignalsFor(action domain.Action) Signals {
	switch action {
	case domain.ActionCheckout:
		return Signals{AddedToCart: true, Checkout: true}
	case domain.ActionAddToCart:
		return Signals{AddedToCart: true}
	default:
		return Signals{}
	}
}
