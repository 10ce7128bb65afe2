package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	"github.com/smallbiznis/playpoints/pkg/db/pagination"
)

type awardPointsRequest struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
}

type spendPointsRequest struct {
	Type        string `json:"type"`
	Amount      int64  `json:"amount"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	SessionID   string `json:"session_id"`
	Description string `json:"description"`
}

type guardRejection struct {
	Allowed        bool    `json:"allowed"`
	Reason         string  `json:"reason"`
	RetryAfterSecs float64 `json:"retry_after_seconds,omitempty"`
}

func (s *Server) AwardPoints(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req awardPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	earningType := strings.TrimSpace(req.Type)
	if earningType == "" {
		AbortWithError(c, newValidationError("type", "required", "type is required"))
		return
	}

	amount := req.Amount
	if amount == 0 {
		// Actions like daily_login carry no caller-supplied magnitude;
		// the rule's base value is the event value.
		if earningRule, ok := s.rules.Lookup(earningType); ok {
			amount = earningRule.BasePoints
		}
	}

	decision, err := s.velocitySvc.CheckAttempt(c.Request.Context(), userID, earningType, amount, strings.TrimSpace(req.SessionID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		c.JSON(guardStatus(decision.Reason), gin.H{"error": guardRejection{
			Allowed:        false,
			Reason:         string(decision.Reason),
			RetryAfterSecs: decision.RetryAfter.Seconds(),
		}})
		return
	}

	entry, err := s.ledgerSvc.Award(c.Request.Context(), ledgerdomain.AwardRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        earningType,
		SourceType:  strings.TrimSpace(req.SourceType),
		SourceID:    strings.TrimSpace(req.SourceID),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) SpendPoints(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req spendPointsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	spendType := strings.TrimSpace(req.Type)
	if spendType == "" {
		spendType = "redemption"
	}

	decision, err := s.velocitySvc.CheckAttempt(c.Request.Context(), userID, spendType, 0, strings.TrimSpace(req.SessionID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !decision.Allowed {
		c.JSON(guardStatus(decision.Reason), gin.H{"error": guardRejection{
			Allowed:        false,
			Reason:         string(decision.Reason),
			RetryAfterSecs: decision.RetryAfter.Seconds(),
		}})
		return
	}

	entry, err := s.ledgerSvc.Spend(c.Request.Context(), ledgerdomain.SpendRequest{
		UserID:      userID,
		Amount:      req.Amount,
		Type:        spendType,
		SourceType:  strings.TrimSpace(req.SourceType),
		SourceID:    strings.TrimSpace(req.SourceID),
		Description: strings.TrimSpace(req.Description),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id": userID.String(),
		"balance": balance,
	}})
}

func (s *Server) ListEntries(c *gin.Context) {
	userID, err := parseUserID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var beforeID snowflake.ID
	if token := strings.TrimSpace(query.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_cursor", "invalid cursor"))
			return
		}
		parsed, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			AbortWithError(c, newValidationError("page_token", "invalid_cursor", "invalid cursor"))
			return
		}
		beforeID = parsed
	}

	entries, err := s.ledgerSvc.GetHistory(c.Request.Context(), ledgerdomain.HistoryRequest{
		UserID:   userID,
		Limit:    query.PageSize,
		BeforeID: beforeID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	info := pagination.PageInfo{HasMore: query.PageSize > 0 && len(entries) == query.PageSize}
	if len(entries) > 0 {
		token, err := pagination.EncodeCursor(pagination.Cursor{ID: entries[len(entries)-1].ID.String()})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		info.NextPageToken = token
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      entries,
		"page_info": info,
	})
}

func (s *Server) ListRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.rules.Types()})
}

func parseUserID(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("user_id"))
	if raw == "" {
		return 0, ledgerdomain.ErrInvalidUser
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	return id, nil
}
