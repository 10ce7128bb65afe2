package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/playpoints/internal/clock"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/playpoints/internal/observability/metrics"
	"github.com/smallbiznis/playpoints/internal/rule"
	pkgdb "github.com/smallbiznis/playpoints/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxConflictRetries bounds transparent retries on storage contention.
// Award is idempotent and Spend re-runs the same balance check, so a
// retried transaction can never double-apply.
const maxConflictRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       ledgerdomain.Repository
	Rules      *rule.Registry
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       ledgerdomain.Repository
	rules      *rule.Registry
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		rules:      p.Rules,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Award(ctx context.Context, req ledgerdomain.AwardRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	earningRule, ok := s.rules.Lookup(req.Type)
	if !ok {
		return nil, ledgerdomain.ErrUnknownEarningType
	}

	sourceType := strings.TrimSpace(req.SourceType)
	sourceID := strings.TrimSpace(req.SourceID)

	var entry *ledgerdomain.LedgerEntry
	err := s.withConflictRetry(ctx, func() error {
		entry = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.repo.LockBalance(ctx, tx, req.UserID)
			if err != nil {
				return err
			}

			if sourceType != "" && sourceID != "" {
				existing, err := s.repo.FindBySource(ctx, tx, req.UserID, sourceType, sourceID)
				if err != nil {
					return err
				}
				if existing != nil {
					entry = existing
					return nil
				}
			}

			now := s.clock.Now()
			effective := earningRule.EffectiveAmount(req.Amount, balance.Tier)

			if err := s.checkCaps(ctx, tx, req.UserID, earningRule, effective, now); err != nil {
				return err
			}

			expiresAt := now.AddDate(0, ledgerdomain.ExpiryHorizonMonths, 0)
			entry = &ledgerdomain.LedgerEntry{
				ID:           s.genID.Generate(),
				UserID:       req.UserID,
				Amount:       effective,
				EntryType:    req.Type,
				Description:  req.Description,
				BalanceAfter: balance.TotalPoints + effective,
				ExpiresAt:    &expiresAt,
				CreatedAt:    now,
			}
			if sourceType != "" && sourceID != "" {
				entry.SourceType = &sourceType
				entry.SourceID = &sourceID
			}

			if err := s.repo.InsertEntry(ctx, tx, entry); err != nil {
				return err
			}

			return s.repo.UpdateTotalPoints(ctx, tx, req.UserID, balance.TotalPoints+effective, now)
		})
	})
	if err != nil {
		// The FOR UPDATE pre-check serializes same-user awards on one
		// node, but a duplicate insert can still race in from another
		// replica. The losing transaction is aborted at that point, so
		// the canonical entry has to be read back outside it.
		if pkgdb.IsDuplicateKeyErr(err) && sourceType != "" && sourceID != "" {
			existing, findErr := s.repo.FindBySource(ctx, s.db, req.UserID, sourceType, sourceID)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}

	s.obsMetrics.RecordAward(ctx, req.Type)
	s.log.Debug("points awarded",
		zap.String("user_id", req.UserID.String()),
		zap.String("type", req.Type),
		zap.Int64("amount", entry.Amount),
	)
	return entry, nil
}

func (s *Service) Spend(ctx context.Context, req ledgerdomain.SpendRequest) (*ledgerdomain.LedgerEntry, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	sourceType := strings.TrimSpace(req.SourceType)
	sourceID := strings.TrimSpace(req.SourceID)

	var entry *ledgerdomain.LedgerEntry
	err := s.withConflictRetry(ctx, func() error {
		entry = nil
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			balance, err := s.repo.LockBalance(ctx, tx, req.UserID)
			if err != nil {
				return err
			}

			now := s.clock.Now()

			// Entries past their expiry but not yet reconciled are
			// treated as already gone, so a spend can never consume
			// points the next reconciliation pass will retract.
			pastDue, err := s.repo.SumPastDue(ctx, tx, req.UserID, now)
			if err != nil {
				return err
			}
			available := balance.TotalPoints - pastDue
			if available < req.Amount {
				return &ledgerdomain.InsufficientBalanceError{
					Available: available,
					Requested: req.Amount,
					Shortfall: req.Amount - available,
				}
			}

			entry = &ledgerdomain.LedgerEntry{
				ID:           s.genID.Generate(),
				UserID:       req.UserID,
				Amount:       -req.Amount,
				EntryType:    req.Type,
				Description:  req.Description,
				BalanceAfter: balance.TotalPoints - req.Amount,
				CreatedAt:    now,
			}
			if sourceType != "" && sourceID != "" {
				entry.SourceType = &sourceType
				entry.SourceID = &sourceID
			}

			if err := s.repo.InsertEntry(ctx, tx, entry); err != nil {
				return err
			}
			return s.repo.UpdateTotalPoints(ctx, tx, req.UserID, balance.TotalPoints-req.Amount, now)
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordSpend(ctx, req.Type)
	s.log.Debug("points spent",
		zap.String("user_id", req.UserID.String()),
		zap.String("type", req.Type),
		zap.Int64("amount", req.Amount),
	)
	return entry, nil
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}

	balance, err := s.repo.GetBalanceRow(ctx, s.db, userID)
	if err != nil {
		return 0, err
	}
	if balance == nil {
		return 0, nil
	}

	// Never report points the next reconciliation pass would take away.
	pastDue, err := s.repo.SumPastDue(ctx, s.db, userID, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return balance.TotalPoints - pastDue, nil
}

func (s *Service) GetHistory(ctx context.Context, req ledgerdomain.HistoryRequest) ([]ledgerdomain.LedgerEntry, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	return s.repo.ListEntries(ctx, s.db, req)
}

// checkCaps enforces daily/monthly cumulative caps with calendar windows
// at local midnight, inside the caller's transaction so two concurrent
// awards cannot both pass the check.
func (s *Service) checkCaps(ctx context.Context, tx *gorm.DB, userID snowflake.ID, earningRule rule.Rule, effective int64, now time.Time) error {
	local := now.In(time.Local)

	if earningRule.DailyCap > 0 {
		dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
		total, err := s.repo.SumTypeBetween(ctx, tx, userID, earningRule.Type, dayStart, dayStart.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		if total+effective > earningRule.DailyCap {
			return &ledgerdomain.CapExceededError{
				EarningType: earningRule.Type,
				Window:      ledgerdomain.CapWindowDaily,
				Cap:         earningRule.DailyCap,
				WindowTotal: total,
				Requested:   effective,
			}
		}
	}

	if earningRule.MonthlyCap > 0 {
		monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, time.Local)
		total, err := s.repo.SumTypeBetween(ctx, tx, userID, earningRule.Type, monthStart, monthStart.AddDate(0, 1, 0))
		if err != nil {
			return err
		}
		if total+effective > earningRule.MonthlyCap {
			return &ledgerdomain.CapExceededError{
				EarningType: earningRule.Type,
				Window:      ledgerdomain.CapWindowMonthly,
				Cap:         earningRule.MonthlyCap,
				WindowTotal: total,
				Requested:   effective,
			}
		}
	}

	return nil
}

func (s *Service) withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil || !pkgdb.IsSerializationErr(err) {
			return err
		}
		s.log.Warn("ledger transaction conflict, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return ledgerdomain.ErrTransactionConflict
}
