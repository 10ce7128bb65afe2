package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrUnknownEarningType  = errors.New("unknown_earning_type")
	ErrCapExceeded         = errors.New("cap_exceeded")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrTransactionConflict = errors.New("transaction_conflict")
)

// CapWindow names the calendar window a cap applies to.
type CapWindow string

const (
	CapWindowDaily   CapWindow = "daily"
	CapWindowMonthly CapWindow = "monthly"
)

// CapExceededError reports which cap blocked an award and by how much.
type CapExceededError struct {
	EarningType string    `json:"earning_type"`
	Window      CapWindow `json:"window"`
	Cap         int64     `json:"cap"`
	WindowTotal int64     `json:"window_total"`
	Requested   int64     `json:"requested"`
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("%s cap exceeded for %s: %d already earned, %d requested, cap %d",
		e.Window, e.EarningType, e.WindowTotal, e.Requested, e.Cap)
}

func (e *CapExceededError) Is(target error) bool { return target == ErrCapExceeded }

// InsufficientBalanceError reports the shortfall on a rejected spend.
type InsufficientBalanceError struct {
	Available int64 `json:"available"`
	Requested int64 `json:"requested"`
	Shortfall int64 `json:"shortfall"`
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %d available, %d requested, short %d",
		e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }
