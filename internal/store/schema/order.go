package schema

import "time"

// Order represents the orders table - the last-write-wins checkout record per
// lead. This is a side record, not an append-only order log.
type Order struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	LeadID        uint64    `gorm:"column:lead_id;not null;uniqueIndex"`
	LastOrderedAt time.Time `gorm:"column:last_ordered_at;not null"`
	PageURL       string    `gorm:"column:page_url;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the Order model
func (Order) TableName() string {
	return "orders"
}

// CartActivity represents the cart_activities table - the last-write-wins
// add-to-cart record per lead
type CartActivity struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	LeadID      uint64    `gorm:"column:lead_id;not null;uniqueIndex"`
	LastAddedAt time.Time `gorm:"column:last_added_at;not null"`
	PageURL     string    `gorm:"column:page_url;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the CartActivity model
func (CartActivity) TableName() string {
	return "cart_activities"
}
