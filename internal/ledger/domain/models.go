// Package domain contains the ledger persistence models and the engine
// contracts built on top of them.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryTypeExpiration marks retraction entries written by the expiration
// reconciler. Every other entry type resolves to an earning rule or a
// spend category supplied by the caller.
const EntryTypeExpiration = "EXPIRATION"

// Subscription tiers recognized by the rule table. Unknown tiers earn at
// the base rate.
const (
	TierBasic   = "basic"
	TierPremium = "premium"
	TierElite   = "elite"
)

// ExpiryHorizonMonths is the rolling lifetime of earned points.
const ExpiryHorizonMonths = 12

// UserBalance is the authoritative cached balance, one row per user.
// Mutated only inside the same transaction that appends a LedgerEntry,
// except for the fraud columns owned by the velocity guard.
type UserBalance struct {
	UserID      snowflake.ID `gorm:"primaryKey" json:"user_id"`
	TotalPoints int64        `gorm:"not null;default:0" json:"total_points"`
	Tier        string       `gorm:"type:text;not null;default:'basic'" json:"tier"`
	FraudScore  int64        `gorm:"not null;default:0" json:"fraud_score"`
	Banned      bool         `gorm:"not null;default:false" json:"banned"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UserBalance) TableName() string { return "user_balances" }

// LedgerEntry is an append-only ledger line. Positive amounts are awards,
// negative amounts are spends or expiration retractions. Immutable once
// written except for the IsExpired flag flipped by the reconciler.
//
// The unique (user_id, source_type, source_id) index is what makes Award
// idempotent under retry.
type LedgerEntry struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID       snowflake.ID `gorm:"not null;index:ix_ledger_entries_user_created,priority:1;uniqueIndex:ux_ledger_entries_source,priority:1" json:"user_id"`
	Amount       int64        `gorm:"not null" json:"amount"`
	EntryType    string       `gorm:"type:text;not null" json:"entry_type"`
	SourceType   *string      `gorm:"type:text;uniqueIndex:ux_ledger_entries_source,priority:2" json:"source_type,omitempty"`
	SourceID     *string      `gorm:"type:text;uniqueIndex:ux_ledger_entries_source,priority:3" json:"source_id,omitempty"`
	Description  string       `gorm:"type:text" json:"description,omitempty"`
	BalanceAfter int64        `gorm:"not null" json:"balance_after"`
	ExpiresAt    *time.Time   `gorm:"index" json:"expires_at,omitempty"`
	IsExpired    bool         `gorm:"not null;default:false" json:"is_expired"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP;index:ix_ledger_entries_user_created,priority:2,sort:desc" json:"created_at"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
