package schema

import "time"

// Visitor represents the visitors table - the cross-tenant identity graph the
// cookie-sync vendor maintains. Rows are written by the sync import, read by the
// identity resolver.
type Visitor struct {
	// ID is the internal database primary key; insertion order is meaningful
	// because the legacy resolver preferred the newest row on ambiguity
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// SourceKey is the five-by-five user id leads are keyed on
	SourceKey string `gorm:"column:source_key;not null;index;type:text"`
	// UpID is the direct visitor key carried by enriched events
	UpID string `gorm:"column:up_id;index;type:text"`
	// EmailHash is the sha256 lower-case hash of the visitor's email
	EmailHash string `gorm:"column:email_hash;index;type:text"`
	// Email is the plain-text email when the vendor disclosed it
	Email     string    `gorm:"column:email;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Visitor model
func (Visitor) TableName() string {
	return "visitors"
}
