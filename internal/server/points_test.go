package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/playpoints/internal/clock"
	"github.com/smallbiznis/playpoints/internal/config"
	ledgerdomain "github.com/smallbiznis/playpoints/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/playpoints/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/playpoints/internal/ledger/service"
	"github.com/smallbiznis/playpoints/internal/rule"
	velocitydomain "github.com/smallbiznis/playpoints/internal/velocity/domain"
	velocityservice "github.com/smallbiznis/playpoints/internal/velocity/service"
	"github.com/smallbiznis/playpoints/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type testEnv struct {
	server *Server
	db     *gorm.DB
	node   *snowflake.Node
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.UserBalance{},
		&ledgerdomain.LedgerEntry{},
		&velocitydomain.FraudSignal{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	holder, err := rule.NewStaticHolder(rule.DefaultTable())
	require.NoError(t, err)
	registry := rule.NewRegistry(holder)

	log := zaptest.NewLogger(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	repo := ledgerrepo.New()

	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fc,
		Repo:  repo,
		Rules: registry,
	})
	velocitySvc := velocityservice.NewService(velocityservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fc,
		LedgerRepo: repo,
		Config:     velocityservice.DefaultConfig(),
	})

	engine := NewEngine(log)
	srv := NewServer(ServerParams{
		Gin:         engine,
		Cfg:         config.Config{},
		LedgerSvc:   ledgerSvc,
		VelocitySvc: velocitySvc,
		Rules:       registry,
	})
	return &testEnv{server: srv, db: db, node: node}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.engine.ServeHTTP(rec, req)
	return rec
}

func TestAwardEndpoint(t *testing.T) {
	env := newTestEnv(t)
	userID := env.node.Generate()

	body := gin.H{
		"type":        "match_win",
		"amount":      100,
		"source_type": "match",
		"source_id":   "match-7",
	}
	rec := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data ledgerdomain.LedgerEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.Data.Amount)

	// Retrying the same event returns the original entry.
	rec2 := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), body)
	require.Equal(t, http.StatusOK, rec2.Code)

	var resp2 struct {
		Data ledgerdomain.LedgerEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &resp2))
	assert.Equal(t, resp.Data.ID, resp2.Data.ID)
}

func TestAwardEndpointDefaultsToBasePoints(t *testing.T) {
	env := newTestEnv(t)
	userID := env.node.Generate()

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), gin.H{
		"type":        "daily_login",
		"source_type": "login",
		"source_id":   "2026-03-10",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data ledgerdomain.LedgerEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(5), resp.Data.Amount)
}

func TestAwardEndpointCapExceeded(t *testing.T) {
	env := newTestEnv(t)
	userID := env.node.Generate()

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), gin.H{
		"type":      "daily_login",
		"source_id": "first",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), gin.H{
		"type":        "daily_login",
		"source_type": "login",
		"source_id":   "second",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "cap_exceeded")
}

func TestAwardEndpointRejectsBannedUser(t *testing.T) {
	env := newTestEnv(t)
	userID := env.node.Generate()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.db.Create(&ledgerdomain.UserBalance{
		UserID:    userID,
		Tier:      ledgerdomain.TierBasic,
		Banned:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), gin.H{
		"type":   "match_win",
		"amount": 100,
	})
	require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "banned")
}

func TestAwardEndpointValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/users/not-a-number/points/award", gin.H{
		"type": "match_win", "amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", env.node.Generate()), gin.H{
		"amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", env.node.Generate()), gin.H{
		"type": "made_up", "amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_earning_type")
}

func TestSpendEndpointInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	userID := env.node.Generate()

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/spend", userID), gin.H{
		"type":   "redemption",
		"amount": 50,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "insufficient_balance")
	assert.Contains(t, rec.Body.String(), "shortfall")
}

func TestBalanceAndHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t)
	userID := env.node.Generate()

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, fmt.Sprintf("/v1/users/%s/points/award", userID), gin.H{
			"type":        "match_win",
			"amount":      100,
			"source_type": "match",
			"source_id":   fmt.Sprintf("match-%d", i),
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s/points/balance", userID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var balResp struct {
		Data struct {
			Balance int64 `json:"balance"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balResp))
	assert.Equal(t, int64(300), balResp.Data.Balance)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/v1/users/%s/points/entries?page_size=2", userID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var histResp struct {
		Data     []ledgerdomain.LedgerEntry `json:"data"`
		PageInfo pagination.PageInfo        `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &histResp))
	require.Len(t, histResp.Data, 2)
	require.True(t, histResp.PageInfo.HasMore)
	require.NotEmpty(t, histResp.PageInfo.NextPageToken)

	rec = env.do(t, http.MethodGet,
		fmt.Sprintf("/v1/users/%s/points/entries?page_size=2&page_token=%s", userID, histResp.PageInfo.NextPageToken), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &histResp))
	require.Len(t, histResp.Data, 1)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
