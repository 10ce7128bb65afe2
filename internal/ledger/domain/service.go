package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type AwardRequest struct {
	UserID      snowflake.ID `json:"user_id"`
	Amount      int64        `json:"amount"`
	Type        string       `json:"type"`
	SourceType  string       `json:"source_type"`
	SourceID    string       `json:"source_id"`
	Description string       `json:"description"`
}

type SpendRequest struct {
	UserID      snowflake.ID `json:"user_id"`
	Amount      int64        `json:"amount"`
	Type        string       `json:"type"`
	SourceType  string       `json:"source_type"`
	SourceID    string       `json:"source_id"`
	Description string       `json:"description"`
}

type HistoryRequest struct {
	UserID   snowflake.ID
	Limit    int
	BeforeID snowflake.ID // exclusive cursor, zero for the newest page
}

// Service is the points ledger engine. Award is idempotent on
// (UserID, SourceType, SourceID); Spend deliberately is not.
type Service interface {
	Award(ctx context.Context, req AwardRequest) (*LedgerEntry, error)
	Spend(ctx context.Context, req SpendRequest) (*LedgerEntry, error)
	GetBalance(ctx context.Context, userID snowflake.ID) (int64, error)
	GetHistory(ctx context.Context, req HistoryRequest) ([]LedgerEntry, error)
}
