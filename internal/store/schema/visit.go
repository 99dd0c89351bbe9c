package schema

import (
	"time"

	"github.com/leadlift/attribution/internal/domain"
)

// Visit represents the visits table - a time-windowed cluster of page requests
// treated as one browsing session. A lead's open visit is its most recent one;
// visits are never explicitly closed.
type Visit struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// LeadID references the lead this visit belongs to
	LeadID uint64 `gorm:"column:lead_id;not null;index"`
	// StartedAt is min(requested_at) over the visit's requests
	StartedAt time.Time `gorm:"column:started_at;not null"`
	// EndedAt is max(requested_at) over the visit's requests
	EndedAt time.Time `gorm:"column:ended_at;not null"`
	// PagesCount counts distinct normalized pages
	PagesCount int `gorm:"column:pages_count;not null;default:1"`
	// FullTimeSec is (ended_at - started_at) plus the trailing-page allowance
	FullTimeSec int64 `gorm:"column:full_time_sec;not null;default:0"`
	// AverageTimeSec is FullTimeSec / request count
	AverageTimeSec float64 `gorm:"column:average_time_sec;not null;default:0"`
	// BehaviorType snapshots the lead's funnel stage at last touch
	BehaviorType domain.BehaviorType `gorm:"column:behavior_type;not null;type:text;default:visitor"`
	CreatedAt    time.Time           `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`

	// Associations
	Requests []PageRequest `gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Visit model
func (Visit) TableName() string {
	return "visits"
}

// PageRequest represents the page_requests table - a single page hit inside a
// visit. The four-column unique index makes re-processing a partition a no-op.
type PageRequest struct {
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// LeadID references the lead that made the request
	LeadID uint64 `gorm:"column:lead_id;not null;uniqueIndex:idx_requests_dedupe,priority:1;index:idx_requests_lead_time,priority:1"`
	// VisitID references the visit the request was stitched into
	VisitID uint64 `gorm:"column:visit_id;not null;uniqueIndex:idx_requests_dedupe,priority:4"`
	// PageURL is the normalized page URL
	PageURL string `gorm:"column:page_url;not null;type:text;uniqueIndex:idx_requests_dedupe,priority:2"`
	// RequestedAt is the event time of the page hit
	RequestedAt time.Time `gorm:"column:requested_at;not null;uniqueIndex:idx_requests_dedupe,priority:3;index:idx_requests_lead_time,priority:2"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the PageRequest model
func (PageRequest) TableName() string {
	return "page_requests"
}
