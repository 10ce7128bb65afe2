package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/playpoints/internal/clock"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/playpoints/internal/ledger/repository"
	velocitydomain "github.com/smallbiznis/playpoints/internal/velocity/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func newTestGuard(t *testing.T, now time.Time) (*Service, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.UserBalance{},
		&ledgerdomain.LedgerEntry{},
		&velocitydomain.FraudSignal{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(now)
	svc := &Service{
		db:         db,
		log:        zaptest.NewLogger(t),
		genID:      node,
		clock:      fc,
		ledgerRepo: ledgerrepo.New(),
		cfg:        DefaultConfig(),
		store:      newMemoryStore(fc),
	}
	return svc, db, fc, node
}

func TestGuardAllowsNormalTraffic(t *testing.T) {
	svc, _, _, node := newTestGuard(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	userID := node.Generate()

	decision, err := svc.CheckAttempt(context.Background(), userID, "sync", 100, "session-1")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGuardRejectsSixthRedemptionWithinWindow(t *testing.T) {
	svc, db, fc, node := newTestGuard(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	userID := node.Generate()

	// redemption allows 5 attempts per rolling hour; five in ten
	// minutes pass, the sixth is rejected and leaves a fraud signal.
	for i := 0; i < 5; i++ {
		decision, err := svc.CheckAttempt(context.Background(), userID, "redemption", 0, "")
		require.NoError(t, err)
		require.True(t, decision.Allowed, "attempt %d", i+1)
		fc.Advance(2 * time.Minute)
	}

	decision, err := svc.CheckAttempt(context.Background(), userID, "redemption", 0, "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, velocitydomain.ReasonRateLimited, decision.Reason)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))

	var signals []velocitydomain.FraudSignal
	require.NoError(t, db.Where("user_id = ?", userID).Find(&signals).Error)
	require.Len(t, signals, 1)
	assert.Equal(t, velocitydomain.SignalTypeVelocity, signals[0].SignalType)

	var balance ledgerdomain.UserBalance
	require.NoError(t, db.Where("user_id = ?", userID).Take(&balance).Error)
	assert.Equal(t, svc.cfg.ScoreRateLimited, balance.FraudScore)
	assert.False(t, balance.Banned)
}

func TestGuardRateLimitWindowSlides(t *testing.T) {
	svc, _, fc, node := newTestGuard(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	userID := node.Generate()

	for i := 0; i < 5; i++ {
		decision, err := svc.CheckAttempt(context.Background(), userID, "redemption", 0, "")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	fc.Advance(time.Hour + time.Minute)

	decision, err := svc.CheckAttempt(context.Background(), userID, "redemption", 0, "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGuardHourlyPointsCeilingStartsCooldown(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, db, _, node := newTestGuard(t, start)
	userID := node.Generate()

	// 950 points already awarded in the trailing hour.
	require.NoError(t, db.Create(&ledgerdomain.LedgerEntry{
		ID:           node.Generate(),
		UserID:       userID,
		Amount:       950,
		EntryType:    "match_win",
		BalanceAfter: 950,
		CreatedAt:    start.Add(-10 * time.Minute),
	}).Error)

	decision, err := svc.CheckAttempt(context.Background(), userID, "match_win", 100, "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, velocitydomain.ReasonVelocity, decision.Reason)
	assert.Equal(t, svc.cfg.Cooldown, decision.RetryAfter)

	var signals []velocitydomain.FraudSignal
	require.NoError(t, db.Where("user_id = ?", userID).Find(&signals).Error)
	require.Len(t, signals, 1)
	assert.Equal(t, velocitydomain.SeverityHigh, signals[0].Severity)

	// The violation put the user on cooldown: even a tiny follow-up is
	// rejected before any other check runs.
	decision, err = svc.CheckAttempt(context.Background(), userID, "match_win", 1, "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, velocitydomain.ReasonCooldown, decision.Reason)
}

func TestGuardCooldownExpires(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	svc, db, fc, node := newTestGuard(t, start)
	userID := node.Generate()

	require.NoError(t, db.Create(&ledgerdomain.LedgerEntry{
		ID:           node.Generate(),
		UserID:       userID,
		Amount:       1000,
		EntryType:    "match_win",
		BalanceAfter: 1000,
		CreatedAt:    start.Add(-10 * time.Minute),
	}).Error)

	decision, err := svc.CheckAttempt(context.Background(), userID, "match_win", 100, "")
	require.NoError(t, err)
	require.Equal(t, velocitydomain.ReasonVelocity, decision.Reason)

	// An hour later the cooldown has lapsed and the old award has left
	// the trailing window, so the attempt passes.
	fc.Advance(time.Hour)

	decision, err = svc.CheckAttempt(context.Background(), userID, "match_win", 100, "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGuardDuplicateSession(t *testing.T) {
	svc, db, _, node := newTestGuard(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	userID := node.Generate()

	decision, err := svc.CheckAttempt(context.Background(), userID, "match_win", 100, "game-session-9")
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	decision, err = svc.CheckAttempt(context.Background(), userID, "match_win", 100, "game-session-9")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, velocitydomain.ReasonDuplicate, decision.Reason)

	var signals []velocitydomain.FraudSignal
	require.NoError(t, db.Where("user_id = ?", userID).Find(&signals).Error)
	require.Len(t, signals, 1)
	assert.Equal(t, velocitydomain.SignalTypeDuplicate, signals[0].SignalType)
}

func TestGuardBansAtThreshold(t *testing.T) {
	svc, db, _, node := newTestGuard(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	userID := node.Generate()

	// Accumulate violations until the fraud score crosses the ban
	// threshold (100 / 15 per duplicate -> 7 violations).
	for i := 0; ; i++ {
		require.Less(t, i, 20, "ban threshold never reached")

		_, err := svc.CheckAttempt(context.Background(), userID, "sync", 0, "dup-session")
		require.NoError(t, err)

		var balance ledgerdomain.UserBalance
		err = db.Where("user_id = ?", userID).Take(&balance).Error
		if err == nil && balance.Banned {
			break
		}
	}

	decision, err := svc.CheckAttempt(context.Background(), userID, "sync", 0, "another-session")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, velocitydomain.ReasonBanned, decision.Reason)
}

func TestGuardInvalidUser(t *testing.T) {
	svc, _, _, _ := newTestGuard(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))

	_, err := svc.CheckAttempt(context.Background(), 0, "sync", 0, "")
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidUser)
}
