package schema

import "time"

// Tenant represents the tenants table. The pipeline only ever reads tenants;
// creation and mutation belong to the provisioning surface, which is out of scope.
type Tenant struct {
	// DomainID is the internal database primary key
	DomainID uint64 `gorm:"column:domain_id;primaryKey;autoIncrement"`
	// ClientID is the external id carried in the event's partner context
	ClientID string `gorm:"column:client_id;not null;uniqueIndex;type:text"`
	// Domain is the tenant's site domain
	Domain string `gorm:"column:domain;type:text"`
	// CreatedAt is the timestamp when this tenant was provisioned
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// SubscriptionStatus represents a billing subscription state
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
)

// Subscription represents the subscriptions table - one row per tenant plan
type Subscription struct {
	ID       uint64             `gorm:"column:id;primaryKey;autoIncrement"`
	DomainID uint64             `gorm:"column:domain_id;not null;index"`
	Status   SubscriptionStatus `gorm:"column:status;not null;type:text"`
	// CurrentPeriodEnd bounds the plan's paid window; a subscription is active
	// only while now() is inside it
	CurrentPeriodEnd time.Time `gorm:"column:current_period_end;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`

	Tenant Tenant `gorm:"foreignKey:DomainID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Subscription model
func (Subscription) TableName() string {
	return "subscriptions"
}
