package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koopa0/system-design/beacon-arena/internal/game"
	"github.com/koopa0/system-design/beacon-arena/internal/store"
	apperrors "github.com/koopa0/system-design/beacon-arena/pkg/errors"
)

// RoundHistory 已結束回合的查詢
type RoundHistory interface {
	RecentRounds(ctx context.Context, limit int) ([]store.RoundRecord, error)
}

// Leaderboard 排行榜查詢
type Leaderboard interface {
	Top(ctx context.Context, n int) ([]store.LeaderboardEntry, error)
}

// AdminHandler 管理用 HTTP API
//
// 只讀，不會改變遊戲狀態。沒有設定的後端對應的路由回 503。
type AdminHandler struct {
	registry    *game.Registry
	rounds      RoundHistory
	leaderboard Leaderboard
	ws          http.Handler
	connections func() int
	logger      *slog.Logger
	timeout     time.Duration
}

// AdminOption 選用的後端
type AdminOption func(*AdminHandler)

// WithRoundHistory 啟用 /api/v1/rounds
func WithRoundHistory(r RoundHistory) AdminOption {
	return func(h *AdminHandler) { h.rounds = r }
}

// WithLeaderboard 啟用 /api/v1/leaderboard
func WithLeaderboard(l Leaderboard) AdminOption {
	return func(h *AdminHandler) { h.leaderboard = l }
}

// WithWebSocket 在 /ws 掛上 WebSocket 閘道
func WithWebSocket(ws http.Handler) AdminOption {
	return func(h *AdminHandler) { h.ws = ws }
}

// WithConnections 在 /stats 回報連線數
func WithConnections(fn func() int) AdminOption {
	return func(h *AdminHandler) { h.connections = fn }
}

// NewAdminHandler 建立管理 API
func NewAdminHandler(registry *game.Registry, logger *slog.Logger, opts ...AdminOption) *AdminHandler {
	h := &AdminHandler{
		registry: registry,
		logger:   logger,
		timeout:  3 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes 回傳 gin 路由
func (h *AdminHandler) Routes() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	router.GET("/health", h.health)
	router.GET("/stats", h.stats)

	v1 := router.Group("/api/v1")
	v1.GET("/games", h.listGames)
	v1.GET("/games/:id", h.getGame)
	v1.GET("/leaderboard", h.topPlayers)
	v1.GET("/rounds", h.recentRounds)

	if h.ws != nil {
		router.GET("/ws", gin.WrapH(h.ws))
	}
	return router
}

func (h *AdminHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *AdminHandler) stats(c *gin.Context) {
	resp := gin.H{"games": h.registry.Stats()}
	if h.connections != nil {
		resp["connections"] = h.connections()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) listGames(c *gin.Context) {
	state := game.State(c.Query("state"))
	switch state {
	case "", game.StateLobby, game.StateStarted:
	default:
		h.errorResponse(c, http.StatusBadRequest, "invalid state filter")
		return
	}

	page := queryInt(c, "page", 1, 0)
	limit := queryInt(c, "limit", 20, 100)

	games, total := h.registry.List(game.ListFilter{State: state, Page: page, Limit: limit})
	c.JSON(http.StatusOK, gin.H{
		"games": games,
		"total": total,
		"page":  page,
	})
}

func (h *AdminHandler) getGame(c *gin.Context) {
	g, err := h.registry.Get(c.Param("id"))
	if err != nil {
		if apperrors.IsNotFound(err) {
			h.errorResponse(c, http.StatusNotFound, "game not found")
			return
		}
		h.errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":  g.Summary(),
		"roster":   g.Roster(),
		"snapshot": g.Snapshot(),
	})
}

func (h *AdminHandler) topPlayers(c *gin.Context) {
	if h.leaderboard == nil {
		h.errorResponse(c, http.StatusServiceUnavailable, "leaderboard is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	entries, err := h.leaderboard.Top(ctx, queryInt(c, "limit", 10, 100))
	if err != nil {
		h.logger.Error("leaderboard query failed", "error", err)
		h.errorResponse(c, http.StatusInternalServerError, "leaderboard unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}

func (h *AdminHandler) recentRounds(c *gin.Context) {
	if h.rounds == nil {
		h.errorResponse(c, http.StatusServiceUnavailable, "round history is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	rounds, err := h.rounds.RecentRounds(ctx, queryInt(c, "limit", 20, 100))
	if err != nil {
		h.logger.Error("round history query failed", "error", err)
		h.errorResponse(c, http.StatusInternalServerError, "round history unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rounds": rounds})
}

func (h *AdminHandler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

func (h *AdminHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// queryInt 讀取正整數參數，無效時用預設值；limit > 0 時超過上限也用預設值
func queryInt(c *gin.Context, key string, def, limit int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil || v < 1 || (limit > 0 && v > limit) {
		return def
	}
	return v
}
