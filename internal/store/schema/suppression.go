package schema

import (
	"time"

	"gorm.io/datatypes"
)

// SuppressionRule represents the suppression_rules table - one typed rule record
// per tenant. The activation lists are stored as JSON string arrays.
type SuppressionRule struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	DomainID uint64 `gorm:"column:domain_id;not null;uniqueIndex"`
	// IsURLCertainActivation requires the page to path-match one of
	// ActivateCertainURLs before a lead may be created
	IsURLCertainActivation bool `gorm:"column:is_url_certain_activation;not null;default:false"`
	// IsBasedActivation requires one of ActivateBasedURLs to appear among the
	// page's query-parameter values
	IsBasedActivation   bool           `gorm:"column:is_based_activation;not null;default:false"`
	ActivateCertainURLs datatypes.JSON `gorm:"column:activate_certain_urls"`
	ActivateBasedURLs   datatypes.JSON `gorm:"column:activate_based_urls"`
	// SuppressionsMultipleEmails is a rule-level email suppression list, merged
	// with the bulk suppressed_emails table at evaluation time
	SuppressionsMultipleEmails datatypes.JSON `gorm:"column:suppressions_multiple_emails"`
	CreatedAt                  time.Time      `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                  time.Time      `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the SuppressionRule model
func (SuppressionRule) TableName() string {
	return "suppression_rules"
}

// SuppressedEmail represents the suppressed_emails table - the tenant's bulk
// suppression list
type SuppressedEmail struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	DomainID  uint64    `gorm:"column:domain_id;not null;uniqueIndex:idx_suppressed_domain_email,priority:1"`
	Email     string    `gorm:"column:email;not null;type:text;uniqueIndex:idx_suppressed_domain_email,priority:2"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the SuppressedEmail model
func (SuppressedEmail) TableName() string {
	return "suppressed_emails"
}

// IntegrationSuppression represents the integration_suppressions table - emails
// suppressed through a marketing integration; only rows with with_suppression
// set participate in evaluation
type IntegrationSuppression struct {
	ID              uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	DomainID        uint64    `gorm:"column:domain_id;not null;index:idx_integration_suppressions_domain"`
	Integration     string    `gorm:"column:integration;not null;type:text"`
	Email           string    `gorm:"column:email;not null;type:text;index"`
	WithSuppression bool      `gorm:"column:with_suppression;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the IntegrationSuppression model
func (IntegrationSuppression) TableName() string {
	return "integration_suppressions"
}
