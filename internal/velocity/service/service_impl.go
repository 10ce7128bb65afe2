package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/playpoints/internal/clock"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/playpoints/internal/observability/metrics"
	"github.com/smallbiznis/playpoints/internal/ratelimit"
	velocitydomain "github.com/smallbiznis/playpoints/internal/velocity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	LedgerRepo ledgerdomain.Repository
	Config     Config
	Redis      *redis.Client          `optional:"true"`
	Bucket     *ratelimit.TokenBucket `optional:"true"`
	ObsMetrics *obsmetrics.Metrics    `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	ledgerRepo ledgerdomain.Repository
	cfg        Config
	store      attemptStore
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) velocitydomain.Service {
	var store attemptStore
	if p.Redis != nil && p.Bucket != nil {
		store = newRedisStore(p.Redis, p.Bucket)
	} else {
		store = newMemoryStore(p.Clock)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("velocity.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		ledgerRepo: p.LedgerRepo,
		cfg:        p.Config,
		store:      store,
		obsMetrics: p.ObsMetrics,
	}
}

// CheckAttempt runs the guard checks in order: banned flag, cooldown,
// per-action rate limit, ledger-derived hourly velocity, duplicate
// session. The first rejection wins; every violation except the banned
// flag appends a FraudSignal and bumps the user's fraud score.
func (s *Service) CheckAttempt(ctx context.Context, userID snowflake.ID, action string, proposedAmount int64, sessionID string) (velocitydomain.Decision, error) {
	if userID == 0 {
		return velocitydomain.Decision{}, ledgerdomain.ErrInvalidUser
	}

	balance, err := s.ledgerRepo.GetBalanceRow(ctx, s.db, userID)
	if err != nil {
		return velocitydomain.Decision{}, err
	}
	if balance != nil && balance.Banned {
		return s.reject(ctx, velocitydomain.ReasonBanned, 0), nil
	}

	cooldownKey := fmt.Sprintf("velocity:cooldown:%s", userID)
	remaining, err := s.store.CooldownRemaining(ctx, cooldownKey)
	if err != nil {
		return velocitydomain.Decision{}, err
	}
	if remaining > 0 {
		return s.reject(ctx, velocitydomain.ReasonCooldown, remaining), nil
	}

	attemptKey := fmt.Sprintf("velocity:attempts:%s:%s", userID, action)
	allowed, retryAfter, err := s.store.Allow(ctx, attemptKey, s.cfg.limitFor(action), time.Hour)
	if err != nil {
		return velocitydomain.Decision{}, err
	}
	if !allowed {
		s.recordViolation(ctx, userID, velocitydomain.FraudSignal{
			SignalType:  velocitydomain.SignalTypeVelocity,
			Severity:    velocitydomain.SeverityLow,
			ScoreImpact: s.cfg.ScoreRateLimited,
			Evidence: datatypes.JSONMap{
				"check":  "rate_limit",
				"action": action,
				"limit":  s.cfg.limitFor(action),
			},
		})
		return s.reject(ctx, velocitydomain.ReasonRateLimited, retryAfter), nil
	}

	// Ledger-derived so it cannot be reset by restarting the process
	// that holds the counters.
	if proposedAmount > 0 && s.cfg.HourlyPointsCeiling > 0 {
		awarded, err := s.ledgerRepo.SumAwardedSince(ctx, s.db, userID, s.clock.Now().Add(-time.Hour))
		if err != nil {
			return velocitydomain.Decision{}, err
		}
		if awarded+proposedAmount > s.cfg.HourlyPointsCeiling {
			s.recordViolation(ctx, userID, velocitydomain.FraudSignal{
				SignalType:  velocitydomain.SignalTypeVelocity,
				Severity:    velocitydomain.SeverityHigh,
				ScoreImpact: s.cfg.ScoreVelocity,
				Evidence: datatypes.JSONMap{
					"check":    "hourly_points",
					"awarded":  awarded,
					"proposed": proposedAmount,
					"ceiling":  s.cfg.HourlyPointsCeiling,
				},
			})
			if err := s.store.StartCooldown(ctx, cooldownKey, s.cfg.Cooldown); err != nil {
				s.log.Warn("failed to start cooldown", zap.Error(err))
			}
			return s.reject(ctx, velocitydomain.ReasonVelocity, s.cfg.Cooldown), nil
		}
	}

	if sessionID != "" {
		sessionKey := fmt.Sprintf("velocity:session:%s:%s", userID, sessionID)
		seen, err := s.store.MarkSession(ctx, sessionKey, s.cfg.SessionTTL)
		if err != nil {
			return velocitydomain.Decision{}, err
		}
		if seen {
			s.recordViolation(ctx, userID, velocitydomain.FraudSignal{
				SignalType:  velocitydomain.SignalTypeDuplicate,
				Severity:    velocitydomain.SeverityMedium,
				ScoreImpact: s.cfg.ScoreDuplicate,
				Evidence: datatypes.JSONMap{
					"check":      "duplicate",
					"session_id": sessionID,
					"action":     action,
				},
			})
			return s.reject(ctx, velocitydomain.ReasonDuplicate, 0), nil
		}
	}

	s.obsMetrics.RecordVelocityDecision(ctx, true, "")
	return velocitydomain.Decision{Allowed: true}, nil
}

func (s *Service) reject(ctx context.Context, reason velocitydomain.RejectReason, retryAfter time.Duration) velocitydomain.Decision {
	s.obsMetrics.RecordVelocityDecision(ctx, false, string(reason))
	return velocitydomain.Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

// recordViolation appends the signal and folds its score into the user's
// fraud_score, setting the banned flag past the threshold. Runs outside
// any ledger transaction; last-writer-wins on the flag is fine because
// it only gates future attempts.
func (s *Service) recordViolation(ctx context.Context, userID snowflake.ID, signal velocitydomain.FraudSignal) {
	now := s.clock.Now()
	signal.ID = s.genID.Generate()
	signal.UserID = userID
	signal.CreatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Create(&signal).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ledgerdomain.UserBalance{
				UserID:    userID,
				Tier:      ledgerdomain.TierBasic,
				CreatedAt: now,
				UpdatedAt: now,
			}).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE user_balances
			 SET fraud_score = fraud_score + ?,
			     banned = CASE WHEN fraud_score + ? >= ? THEN ? ELSE banned END,
			     updated_at = ?
			 WHERE user_id = ?`,
			signal.ScoreImpact, signal.ScoreImpact, s.cfg.BanThreshold, true, now, userID,
		).Error
	})
	if err != nil {
		// Losing a signal weakens scoring, never ledger correctness.
		s.log.Error("failed to record fraud signal",
			zap.String("user_id", userID.String()),
			zap.String("signal_type", signal.SignalType),
			zap.Error(err),
		)
		return
	}

	s.log.Warn("fraud signal recorded",
		zap.String("user_id", userID.String()),
		zap.String("signal_type", signal.SignalType),
		zap.Int64("score_impact", signal.ScoreImpact),
	)
}
