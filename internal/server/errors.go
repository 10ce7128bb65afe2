package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	velocitydomain "github.com/smallbiznis/playpoints/internal/velocity/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details any               `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var capErr *ledgerdomain.CapExceededError
	if errors.As(err, &capErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "cap_exceeded",
			Message: capErr.Error(),
			Details: gin.H{
				"earning_type": capErr.EarningType,
				"window":       capErr.Window,
				"cap":          capErr.Cap,
				"window_total": capErr.WindowTotal,
				"requested":    capErr.Requested,
			},
		}
	}

	var balErr *ledgerdomain.InsufficientBalanceError
	if errors.As(err, &balErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_balance",
			Message: balErr.Error(),
			Details: gin.H{
				"available": balErr.Available,
				"requested": balErr.Requested,
				"shortfall": balErr.Shortfall,
			},
		}
	}

	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidUser):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "user_id", Code: "invalid_user", Message: "invalid user id"},
			},
		}
	case errors.Is(err, ledgerdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "amount", Code: "invalid_amount", Message: "amount must be positive"},
			},
		}
	case errors.Is(err, ledgerdomain.ErrUnknownEarningType):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{Field: "type", Code: "unknown_earning_type", Message: "unknown earning type"},
			},
		}
	case errors.Is(err, ledgerdomain.ErrTransactionConflict):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflicting concurrent update, retry the request",
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// guardStatus maps a velocity rejection to its HTTP status.
func guardStatus(reason velocitydomain.RejectReason) int {
	if reason == velocitydomain.ReasonBanned {
		return http.StatusForbidden
	}
	return http.StatusTooManyRequests
}
