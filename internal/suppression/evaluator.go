// Package suppression evaluates a tenant's lead-suppression policy. The
// evaluator is pure: the store loads the policy bundle and the pipeline runs
// Evaluate before creating a lead. Events for leads that already exist skip
// the policy entirely.
package suppression

import (
	"net/url"
	"strings"
)

// Reason identifies which check suppressed an identity
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEmailSuppressed  Reason = "email_suppressed"
	ReasonURLNotActivated  Reason = "url_not_activated"
	ReasonNoActivationName Reason = "query_not_activated"
	ReasonIntegration      Reason = "integration_suppressed"
)

// Rule is the typed per-tenant rule record
type Rule struct {
	URLCertainActivation bool
	BasedActivation      bool
	CertainURLs          []string
	BasedValues          []string
	MultiEmails          []string
}

// Policy bundles everything suppression evaluation needs for one tenant
type Policy struct {
	// Rule is nil when the tenant never configured one; activation checks are
	// then skipped entirely
	Rule *Rule
	// BulkEmails is the tenant's bulk suppression list
	BulkEmails []string
	// IntegrationEmails are emails from integrations flagged for suppression
	IntegrationEmails []string
}

// Evaluate runs the policy checks in order, short-circuiting on the first
// suppression. It returns whether the identity is suppressed and why.
func Evaluate(policy Policy, emails []string, page string) (bool, Reason) {
	// 1. Known emails against the bulk list and rule-level multi-email list
	denied := make(map[string]struct{}, len(policy.BulkEmails))
	for _, e := range policy.BulkEmails {
		denied[normalizeEmail(e)] = struct{}{}
	}
	if policy.Rule != nil {
		for _, e := range policy.Rule.MultiEmails {
			denied[normalizeEmail(e)] = struct{}{}
		}
	}
	for _, e := range emails {
		if _, ok := denied[normalizeEmail(e)]; ok {
			return true, ReasonEmailSuppressed
		}
	}

	// 2. Certain-URL activation: the page must match a configured URL
	if policy.Rule != nil && policy.Rule.URLCertainActivation {
		matched := false
		for _, configured := range policy.Rule.CertainURLs {
			if MatchesURL(page, configured) {
				matched = true
				break
			}
		}
		if !matched {
			return true, ReasonURLNotActivated
		}
	}

	// 3. Query-based activation: a configured value must appear among the
	// page's query-parameter values
	if policy.Rule != nil && policy.Rule.BasedActivation {
		if !queryContainsAny(page, policy.Rule.BasedValues) {
			return true, ReasonNoActivationName
		}
	}

	// 4. Integration suppression tables
	integration := make(map[string]struct{}, len(policy.IntegrationEmails))
	for _, e := range policy.IntegrationEmails {
		integration[normalizeEmail(e)] = struct{}{}
	}
	for _, e := range emails {
		if _, ok := integration[normalizeEmail(e)]; ok {
			return true, ReasonIntegration
		}
	}

	return false, ReasonNone
}

// MatchesURL reports whether a page path-matches a configured activation URL:
// exact URL, path prefix, or path-segment equality.
func MatchesURL(page, configured string) bool {
	page = strings.TrimSuffix(strings.TrimSpace(page), "/")
	configured = strings.TrimSuffix(strings.TrimSpace(configured), "/")
	if configured == "" {
		return false
	}
	if strings.EqualFold(page, configured) {
		return true
	}

	pagePath := pathOf(page)
	configuredPath := pathOf(configured)

	// Path prefix match, on segment boundaries only
	if configuredPath != "" && strings.HasPrefix(pagePath, configuredPath) {
		rest := pagePath[len(configuredPath):]
		if rest == "" || strings.HasPrefix(rest, "/") {
			return true
		}
	}

	// Bare values match any path segment
	if !strings.Contains(configured, "/") {
		for _, segment := range strings.Split(pagePath, "/") {
			if strings.EqualFold(segment, configured) {
				return true
			}
		}
	}

	return false
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Host == "" && u.Scheme == "" {
		// Already a bare path or segment
		return strings.TrimPrefix(raw, "/")
	}
	return strings.TrimPrefix(u.Path, "/")
}

func queryContainsAny(page string, values []string) bool {
	u, err := url.Parse(page)
	if err != nil {
		return false
	}
	params := u.Query()
	for _, candidates := range params {
		for _, got := range candidates {
			for _, want := range values {
				if strings.EqualFold(got, want) {
					return true
				}
			}
		}
	}
	return false
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
