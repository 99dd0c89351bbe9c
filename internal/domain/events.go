package domain

// LeadPayload identifies a lead inside an outbound queue message
type LeadPayload struct {
	ID             uint64 `json:"id"`
	SourceIdentity string `json:"source_identity"`
}

// LeadAddedEvent is published once per newly materialized or meaningfully
// advanced lead. LeadsType distinguishes fresh leads from funnel updates.
type LeadAddedEvent struct {
	DomainID  uint64      `json:"domain_id"`
	LeadsType string      `json:"leads_type"`
	Lead      LeadPayload `json:"lead"`
}

// Leads types carried by LeadAddedEvent
const (
	LeadsTypeNew      = "new_leads"
	LeadsTypeBehavior = "behavior_update"
)

// CreditsChargingEvent is published when a tenant's balance crosses a
// recharge threshold, so billing can top the account up
type CreditsChargingEvent struct {
	TenantID uint64 `json:"tenant_id"`
	Balance  int64  `json:"balance"`
}
