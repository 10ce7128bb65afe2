package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func New() ledgerdomain.Repository {
	return &repo{}
}

// forUpdate returns the row-lock clause for dialects that support it.
// SQLite serializes writers at the connection level, so the clause is
// omitted there rather than tripping its parser.
func forUpdate(tx *gorm.DB) []clause.Expression {
	if tx.Dialector.Name() == "sqlite" {
		return nil
	}
	return []clause.Expression{clause.Locking{Strength: "UPDATE"}}
}

func (r *repo) LockBalance(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*ledgerdomain.UserBalance, error) {
	now := time.Now().UTC()
	if err := tx.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ledgerdomain.UserBalance{
			UserID:    userID,
			Tier:      ledgerdomain.TierBasic,
			CreatedAt: now,
			UpdatedAt: now,
		}).Error; err != nil {
		return nil, err
	}

	var balance ledgerdomain.UserBalance
	q := tx.WithContext(ctx)
	if lock := forUpdate(tx); lock != nil {
		q = q.Clauses(lock...)
	}
	if err := q.Where("user_id = ?", userID).Take(&balance).Error; err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) GetBalanceRow(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*ledgerdomain.UserBalance, error) {
	var balance ledgerdomain.UserBalance
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repo) FindBySource(ctx context.Context, tx *gorm.DB, userID snowflake.ID, sourceType, sourceID string) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).
		Where("user_id = ? AND source_type = ? AND source_id = ?", userID, sourceType, sourceID).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repo) InsertEntry(ctx context.Context, tx *gorm.DB, entry *ledgerdomain.LedgerEntry) error {
	return tx.WithContext(ctx).Create(entry).Error
}

func (r *repo) UpdateTotalPoints(ctx context.Context, tx *gorm.DB, userID snowflake.ID, total int64, now time.Time) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE user_balances SET total_points = ?, updated_at = ? WHERE user_id = ?`,
		total, now, userID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repo) SumTypeBetween(ctx context.Context, tx *gorm.DB, userID snowflake.ID, entryType string, from, to time.Time) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM ledger_entries
		 WHERE user_id = ? AND entry_type = ? AND amount > 0
		   AND created_at >= ? AND created_at < ?`,
		userID, entryType, from, to,
	).Scan(&total).Error
	return total, err
}

func (r *repo) SumAwardedSince(ctx context.Context, db *gorm.DB, userID snowflake.ID, since time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM ledger_entries
		 WHERE user_id = ? AND amount > 0 AND created_at >= ?`,
		userID, since,
	).Scan(&total).Error
	return total, err
}

func (r *repo) SumPastDue(ctx context.Context, db *gorm.DB, userID snowflake.ID, now time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM ledger_entries
		 WHERE user_id = ? AND amount > 0 AND is_expired = ?
		   AND expires_at IS NOT NULL AND expires_at < ?`,
		userID, false, now,
	).Scan(&total).Error
	return total, err
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, req ledgerdomain.HistoryRequest) ([]ledgerdomain.LedgerEntry, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	q := db.WithContext(ctx).
		Where("user_id = ?", req.UserID).
		Order("id DESC").
		Limit(limit)
	if req.BeforeID != 0 {
		q = q.Where("id < ?", req.BeforeID)
	}

	var entries []ledgerdomain.LedgerEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) UsersWithExpirableEntries(ctx context.Context, db *gorm.DB, now time.Time, afterID snowflake.ID, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var userIDs []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT DISTINCT user_id
		 FROM ledger_entries
		 WHERE user_id > ? AND amount > 0 AND is_expired = ?
		   AND expires_at IS NOT NULL AND expires_at < ?
		 ORDER BY user_id
		 LIMIT ?`,
		afterID, false, now, limit,
	).Scan(&userIDs).Error
	if err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (r *repo) ExpirableEntries(ctx context.Context, tx *gorm.DB, userID snowflake.ID, now time.Time) ([]ledgerdomain.LedgerEntry, error) {
	var entries []ledgerdomain.LedgerEntry
	q := tx.WithContext(ctx)
	if lock := forUpdate(tx); lock != nil {
		q = q.Clauses(lock...)
	}
	err := q.
		Where("user_id = ? AND amount > 0 AND is_expired = ? AND expires_at IS NOT NULL AND expires_at < ?",
			userID, false, now).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) MarkExpired(ctx context.Context, tx *gorm.DB, ids []snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&ledgerdomain.LedgerEntry{}).
		Where("id IN ?", ids).
		Update("is_expired", true).Error
}
