package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the narrow transactional storage contract consumed by
// the engine and the reconciler. Methods taking a *gorm.DB run inside
// whatever transaction the caller opened.
type Repository interface {
	// LockBalance creates the balance row if missing and returns it
	// under a row-level exclusive lock scoped to that user.
	LockBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*UserBalance, error)

	// GetBalanceRow reads the balance row without locking. Returns nil
	// when the user has no row yet.
	GetBalanceRow(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*UserBalance, error)

	// FindBySource returns the entry matching the idempotency key, or nil.
	FindBySource(ctx context.Context, tx *gorm.DB, userID snowflake.ID, sourceType, sourceID string) (*LedgerEntry, error)

	InsertEntry(ctx context.Context, tx *gorm.DB, entry *LedgerEntry) error

	UpdateTotalPoints(ctx context.Context, tx *gorm.DB, userID snowflake.ID, total int64, now time.Time) error

	// SumTypeBetween sums positive entries of one type inside a calendar
	// window, for cap enforcement.
	SumTypeBetween(ctx context.Context, tx *gorm.DB, userID snowflake.ID, entryType string, from, to time.Time) (int64, error)

	// SumAwardedSince sums positive entries since a point in time. Used
	// by the velocity guard so the hourly ceiling survives restarts.
	SumAwardedSince(ctx context.Context, db *gorm.DB, userID snowflake.ID, since time.Time) (int64, error)

	// SumPastDue sums positive entries whose expiry has passed but are
	// not yet marked expired by the reconciler.
	SumPastDue(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (int64, error)

	ListEntries(ctx context.Context, db *gorm.DB, req HistoryRequest) ([]LedgerEntry, error)

	// Reconciler support. UsersWithExpirableEntries pages by keyset:
	// only users with an ID greater than afterID are returned, so a
	// caller can walk the whole population even when some users are
	// left untouched between fetches.
	UsersWithExpirableEntries(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error)
	ExpirableEntries(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) ([]LedgerEntry, error)
	MarkExpired(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error
}
