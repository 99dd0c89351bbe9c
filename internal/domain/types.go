package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// BehaviorType classifies the purchase intent a lead has demonstrated so far.
// The funnel only moves forward: visitor -> viewed_product -> product_added_to_cart.
type BehaviorType string

const (
	BehaviorVisitor       BehaviorType = "visitor"
	BehaviorViewedProduct BehaviorType = "viewed_product"
	BehaviorAddedToCart   BehaviorType = "product_added_to_cart"
)

// funnelRank maps each behavior type to its position in the funnel order.
var funnelRank = map[BehaviorType]int{
	BehaviorVisitor:       0,
	BehaviorViewedProduct: 1,
	BehaviorAddedToCart:   2,
}

// Rank returns the behavior's position in the funnel order.
// Unknown values rank below visitor so they can never displace a valid state.
func (b BehaviorType) Rank() int {
	rank, ok := funnelRank[b]
	if !ok {
		return -1
	}
	return rank
}

// IsValidBehaviorType checks if a behavior type is one of the known funnel stages
func IsValidBehaviorType(b BehaviorType) bool {
	_, ok := funnelRank[b]
	return ok
}

// Action represents the page-level signal inferred from a single event
type Action string

const (
	ActionPageView    Action = "page_view"
	ActionViewProduct Action = "view_product"
	ActionAddToCart   Action = "add_to_cart"
	ActionCheckout    Action = "checkout"
)

// Behavior returns the funnel stage an action maps to.
// Checkout implies the lead already passed through add-to-cart.
func (a Action) Behavior() BehaviorType {
	switch a {
	case ActionViewProduct:
		return BehaviorViewedProduct
	case ActionAddToCart, ActionCheckout:
		return BehaviorAddedToCart
	default:
		return BehaviorVisitor
	}
}

// RawSyncEvent is a single row decoded from a cookie-sync export file.
// Events are immutable; everything the pipeline does is derived from them.
type RawSyncEvent struct {
	TrovoID     string            `json:"trovo_id"`
	PartnerID   string            `json:"partner_id"`
	PartnerUID  string            `json:"partner_uid"`
	HashedEmail string            `json:"hashed_email"`
	IP          string            `json:"ip"`
	Headers     map[string]string `json:"headers"`
	EventDate   time.Time         `json:"event_date"`
	UpID        string            `json:"up_id"`
}

// Identity is a resolved lead-source key plus the identifiers used to find it
type Identity struct {
	// SourceKey is the five-by-five user id the lead is keyed on
	SourceKey string
	// HashedEmail is the sha256 lower-case email hash from the event, if any
	HashedEmail string
}

// PartnerContext is the client/page context carried opaquely in partner_uid.
// The wire format is base64-encoded JSON.
type PartnerContext struct {
	ClientID    string `json:"client_id"`
	CurrentPage string `json:"current_page"`
}

// DecodePartnerContext decodes the opaque partner_uid payload.
// A missing current page is not an error; callers fall back to the Referer header.
func DecodePartnerContext(partnerUID string) (*PartnerContext, error) {
	if partnerUID == "" {
		return nil, fmt.Errorf("empty partner uid")
	}

	raw, err := base64.StdEncoding.DecodeString(partnerUID)
	if err != nil {
		return nil, fmt.Errorf("failed to decode partner uid: %w", err)
	}

	var pc PartnerContext
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal partner context: %w", err)
	}

	if pc.ClientID == "" {
		return nil, fmt.Errorf("partner context missing client id")
	}

	return &pc, nil
}

// CurrentPage returns the page URL for the event: the decoded partner context page
// when present, otherwise the Referer header field.
func (e *RawSyncEvent) CurrentPage(pc *PartnerContext) string {
	if pc != nil && pc.CurrentPage != "" {
		return pc.CurrentPage
	}
	if page, ok := e.Headers["Referer"]; ok {
		return page
	}
	return e.Headers["referer"]
}

// NormalizePageURL canonicalizes a page URL so the same page always stitches into
// the same request row: lower-cased scheme/host, no fragment, no trailing slash.
// Query parameters are kept because activation rules match on them.
func NormalizePageURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSuffix(strings.TrimSpace(raw), "/")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}

// ActionForPage infers the behavior signal from a normalized page URL.
// Matching is on path segments, never on substrings of unrelated words.
func ActionForPage(page string) Action {
	u, err := url.Parse(page)
	if err != nil {
		return ActionPageView
	}

	if u.Query().Get("add-to-cart") != "" {
		return ActionAddToCart
	}

	for _, segment := range strings.Split(strings.ToLower(u.Path), "/") {
		switch segment {
		case "checkout", "order-received", "order-confirmation", "thank-you":
			return ActionCheckout
		case "cart", "add-to-cart", "basket":
			return ActionAddToCart
		case "product", "products", "item", "shop":
			return ActionViewProduct
		}
	}

	return ActionPageView
}
