package schema

import "time"

// CreditAccount represents the credit_accounts table - one balance per tenant.
// Balances may go negative when auto-recharge is enabled.
type CreditAccount struct {
	DomainID uint64 `gorm:"column:domain_id;primaryKey"`
	Balance  int64  `gorm:"column:balance;not null;default:0"`
	// AutoRecharge permits debits below zero; each threshold crossing emits a
	// billing top-up event
	AutoRecharge bool      `gorm:"column:auto_recharge;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the CreditAccount model
func (CreditAccount) TableName() string {
	return "credit_accounts"
}

// LedgerEntry represents the ledger_entries table - one row per successful
// charge. The unique index is what makes charging exactly-once under replays.
type LedgerEntry struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	SourceKey string    `gorm:"column:source_key;not null;type:text;uniqueIndex:idx_ledger_source_domain,priority:1"`
	DomainID  uint64    `gorm:"column:domain_id;not null;uniqueIndex:idx_ledger_source_domain,priority:2"`
	Credits   int64     `gorm:"column:credits;not null;default:1"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for the LedgerEntry model
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
