// Package domain contains the velocity guard's models and contract. The
// guard is an advisory gate in front of the ledger engine: callers run
// CheckAttempt first and only invoke Award/Spend when it passes.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Signal types attached to FraudSignal rows.
const (
	SignalTypeVelocity  = "velocity"
	SignalTypeDuplicate = "duplicate_session"
)

// Severity levels for fraud signals.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// FraudSignal is an append-only record of a detected violation. Never
// mutated; its score impact is folded into user_balances.fraud_score at
// insert time.
type FraudSignal struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID      `gorm:"not null;index" json:"user_id"`
	SignalType  string            `gorm:"type:text;not null" json:"signal_type"`
	Severity    string            `gorm:"type:text;not null" json:"severity"`
	Evidence    datatypes.JSONMap `gorm:"type:jsonb" json:"evidence"`
	ScoreImpact int64             `gorm:"not null" json:"score_impact"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (FraudSignal) TableName() string { return "fraud_signals" }

// RejectReason identifies which check rejected an attempt.
type RejectReason string

const (
	ReasonBanned      RejectReason = "banned"
	ReasonCooldown    RejectReason = "cooldown"
	ReasonRateLimited RejectReason = "rate_limited"
	ReasonVelocity    RejectReason = "velocity"
	ReasonDuplicate   RejectReason = "duplicate_session"
)

// Decision is the outcome of a guard check. RetryAfter is set when the
// rejection clears on its own (cooldown, rate limit window).
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Reason     RejectReason  `json:"reason,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Service gates award/spend attempts. Losing guard state weakens rate
// limiting only; ledger correctness never depends on it.
type Service interface {
	CheckAttempt(ctx context.Context, userID snowflake.ID, action string, proposedAmount int64, sessionID string) (Decision, error)
}
