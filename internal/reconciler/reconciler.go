// Package reconciler enforces the rolling 12-month expiry on earned
// points without breaking the ledger invariant: retractions are ledger
// entries, never silent edits.
package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/playpoints/internal/clock"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/playpoints/internal/observability/metrics"
	"github.com/smallbiznis/playpoints/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const expirationLockKey = "reconciler:expiration"

var ErrInvalidConfig = errors.New("reconciler requires db, logger, repo, id node and clock")

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   ledgerdomain.Repository
	Locker *ratelimit.Locker   `optional:"true"`
	Obs    *obsmetrics.Metrics `optional:"true"`
	Config Config              `optional:"true"`
}

type Reconciler struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    Config
	genID  *snowflake.Node
	clock  clock.Clock
	repo   ledgerdomain.Repository
	locker *ratelimit.Locker
	obs    *obsmetrics.Metrics

	running atomic.Bool
}

// RunResult summarizes one reconciliation pass.
type RunResult struct {
	UsersExpired    int
	UsersSkipped    int
	PointsRetracted int64
}

func New(p Params) (*Reconciler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	return &Reconciler{
		db:     p.DB,
		log:    p.Log.Named("reconciler").With(zap.String("component", "expiration")),
		cfg:    p.Config.withDefaults(),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		locker: p.Locker,
		obs:    p.Obs,
	}, nil
}

// RunOnce walks the ledger for past-due entries and retracts them per
// user. Guarded against overlapping runs: a second concurrent call is a
// no-op. Each user's mark-and-retract is one transaction, so a crash
// leaves whole users unprocessed, never half-processed.
func (r *Reconciler) RunOnce(parent context.Context) (RunResult, error) {
	metrics := obsmetrics.Reconciler()

	if !r.running.CompareAndSwap(false, true) {
		metrics.IncOverlapSkip()
		r.log.Warn("reconciliation already running, skipping")
		return RunResult{}, nil
	}
	defer r.running.Store(false)

	ctx, cancel := context.WithTimeout(parent, r.cfg.RunTimeout)
	defer cancel()

	if r.locker != nil {
		token, ok, err := r.locker.TryLock(ctx, expirationLockKey, r.cfg.LockTTL)
		if err != nil {
			return RunResult{}, err
		}
		if !ok {
			metrics.IncOverlapSkip()
			r.log.Warn("reconciliation lock held elsewhere, skipping")
			return RunResult{}, nil
		}
		defer func() {
			if err := r.locker.Release(ctx, expirationLockKey, token); err != nil {
				r.log.Warn("failed to release reconciliation lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	metrics.IncRun()
	defer func() { metrics.ObserveRunDuration(time.Since(start)) }()

	now := r.clock.Now()
	var result RunResult
	var jobErr error

	// Keyset pagination over user IDs. Skipped users stay eligible in
	// the table, so the cursor is what guarantees forward progress: a
	// batch full of skipped users never comes back within the same run.
	var afterID snowflake.ID

	for {
		if ctx.Err() != nil {
			return result, errors.Join(jobErr, ctx.Err())
		}

		userIDs, err := r.repo.UsersWithExpirableEntries(ctx, r.db, now, afterID, r.cfg.BatchSize)
		if err != nil {
			return result, errors.Join(jobErr, err)
		}
		if len(userIDs) == 0 {
			break
		}
		afterID = userIDs[len(userIDs)-1]

		for _, userID := range userIDs {
			retracted, err := r.reconcileUser(ctx, userID, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				metrics.IncError()
				r.log.Error("failed to reconcile user",
					zap.String("user_id", userID.String()),
					zap.Error(err),
				)
				continue
			}
			if retracted > 0 {
				result.UsersExpired++
				result.PointsRetracted += retracted
				metrics.IncUsersExpired()
				r.obs.RecordExpiredPoints(ctx, retracted)
			} else {
				result.UsersSkipped++
				metrics.IncUsersSkipped()
			}
		}
	}

	r.log.Info("reconciliation finished",
		zap.Int("users_expired", result.UsersExpired),
		zap.Int("users_skipped", result.UsersSkipped),
		zap.Int64("points_retracted", result.PointsRetracted),
		zap.Duration("duration", time.Since(start)),
	)
	return result, jobErr
}

// reconcileUser retracts one user's past-due entries. Conservative rule:
// when the current balance is below the expiring sum the user is left
// untouched and stays eligible for a future run — the eligibility check
// happens before any mutation, so no transient expired state is ever
// published for skipped users.
func (r *Reconciler) reconcileUser(ctx context.Context, userID snowflake.ID, now time.Time) (int64, error) {
	var retracted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := r.repo.LockBalance(ctx, tx, userID)
		if err != nil {
			return err
		}

		entries, err := r.repo.ExpirableEntries(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		var totalExpiring int64
		ids := make([]snowflake.ID, 0, len(entries))
		for _, e := range entries {
			totalExpiring += e.Amount
			ids = append(ids, e.ID)
		}

		// The user spent points that strict FIFO would have taken from
		// newer credits; never over-deduct.
		if balance.TotalPoints < totalExpiring {
			return nil
		}

		if err := r.repo.MarkExpired(ctx, tx, ids); err != nil {
			return err
		}

		retraction := &ledgerdomain.LedgerEntry{
			ID:           r.genID.Generate(),
			UserID:       userID,
			Amount:       -totalExpiring,
			EntryType:    ledgerdomain.EntryTypeExpiration,
			Description:  "points expired after 12 months",
			BalanceAfter: balance.TotalPoints - totalExpiring,
			CreatedAt:    now,
		}
		if err := r.repo.InsertEntry(ctx, tx, retraction); err != nil {
			return err
		}
		if err := r.repo.UpdateTotalPoints(ctx, tx, userID, balance.TotalPoints-totalExpiring, now); err != nil {
			return err
		}

		retracted = totalExpiring
		return nil
	})
	return retracted, err
}

// RunForever runs reconciliation on the configured interval until ctx
// is canceled.
func (r *Reconciler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciliation run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
