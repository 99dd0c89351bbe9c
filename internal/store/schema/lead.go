package schema

import (
	"time"

	"github.com/leadlift/attribution/internal/domain"
)

// Lead represents the leads table - a resolved identity scoped to one tenant.
// Leads are created on first resolution, mutated on every later event, and
// never deleted by the pipeline.
type Lead struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SourceKey is the five-by-five user id of the resolved identity
	SourceKey string `gorm:"column:source_key;not null;type:text;uniqueIndex:idx_leads_source_domain,priority:1"`
	// DomainID is the owning tenant
	DomainID uint64 `gorm:"column:domain_id;not null;uniqueIndex:idx_leads_source_domain,priority:2"`
	// BehaviorType is the lead's funnel stage; it only ever moves forward
	BehaviorType domain.BehaviorType `gorm:"column:behavior_type;not null;type:text;default:visitor"`
	// TotalVisit counts distinct visits
	TotalVisit int `gorm:"column:total_visit;not null;default:0"`
	// TotalVisitTime accumulates full_time_sec over all visits
	TotalVisitTime int64 `gorm:"column:total_visit_time;not null;default:0"`
	// AverageVisitTime is TotalVisitTime / TotalVisit
	AverageVisitTime float64 `gorm:"column:average_visit_time;not null;default:0"`
	// IsReturningVisitor flips when a second visit opens and never flips back
	IsReturningVisitor bool `gorm:"column:is_returning_visitor;not null;default:false"`
	// IsConvertedSales flips on the first checkout signal and never flips back
	IsConvertedSales bool `gorm:"column:is_converted_sales;not null;default:false"`
	// FirstVisitID references the visit that created the lead
	FirstVisitID *uint64   `gorm:"column:first_visit_id"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`

	// Associations
	Visits   []Visit       `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE"`
	Requests []PageRequest `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Lead model
func (Lead) TableName() string {
	return "leads"
}
