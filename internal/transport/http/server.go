package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantbot/internal/logger"
	"quantbot/internal/store/decisionlog"
	"quantbot/internal/trader"

	"github.com/gin-gonic/gin"
)

// Server 提供机器人状态查询与人工干预接口。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 HTTP 服务依赖。Logs 与 Hub 可为 nil，对应接口返回 503。
type ServerConfig struct {
	Addr string
	Bots *trader.Manager
	Logs *decisionlog.Store
	Hub  *Hub
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Bots == nil {
		return nil, errors.New("http server requires bot manager")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8880"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r := &routes{bots: cfg.Bots, logs: cfg.Logs}
	api := router.Group("/api")
	api.GET("/bots", r.handleListBots)
	api.GET("/bots/:id", r.handleBotStatus)
	api.GET("/bots/:id/decisions", r.handleBotDecisions)
	api.GET("/decisions/:trace", r.handleDecisionTrace)
	api.POST("/bots/:id/force-turn", r.handleForceTurn)
	api.POST("/bots/:id/pause", r.handlePause)
	api.POST("/bots/:id/close", r.handleManualClose)
	api.POST("/bots/:id/reset", r.handleReset)

	if cfg.Hub != nil {
		router.GET("/ws", cfg.Hub.handleWS)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler 暴露底层路由，便于测试直接挂 httptest。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type routes struct {
	bots *trader.Manager
	logs *decisionlog.Store
}

func (r *routes) lookup(c *gin.Context) (*trader.Bot, bool) {
	id := strings.TrimSpace(c.Param("id"))
	bot, ok := r.bots.Bot(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "bot not found", "id": id})
		return nil, false
	}
	return bot, true
}

func (r *routes) handleListBots(c *gin.Context) {
	bots := r.bots.Bots()
	statuses := make([]trader.Status, 0, len(bots))
	for _, b := range bots {
		statuses = append(statuses, b.Status())
	}
	c.JSON(http.StatusOK, gin.H{"bots": statuses})
}

func (r *routes) handleBotStatus(c *gin.Context) {
	bot, ok := r.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, bot.Status())
}

func (r *routes) handleBotDecisions(c *gin.Context) {
	if r.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	bot, ok := r.lookup(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := r.logs.Recent(bot.ID(), limit)
	if err != nil {
		logger.Errorf("[api] decisions list failed bot=%s err=%v", bot.ID(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bot_id": bot.ID(), "decisions": records})
}

func (r *routes) handleDecisionTrace(c *gin.Context) {
	if r.logs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "决策日志未启用"})
		return
	}
	traceID := strings.TrimSpace(c.Param("trace"))
	rec, found, err := r.logs.Trace(traceID)
	if err != nil {
		logger.Errorf("[api] decision trace failed trace=%s err=%v", traceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace not found", "trace_id": traceID})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *routes) handleForceTurn(c *gin.Context) {
	bot, ok := r.lookup(c)
	if !ok {
		return
	}
	logger.Infof("[api] force turn ip=%s bot=%s", c.ClientIP(), bot.ID())
	result, err := bot.ForceTurn(c.Request.Context())
	if err != nil {
		if errors.Is(err, trader.ErrCycleInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": "本轮周期尚未结束"})
			return
		}
		logger.Errorf("[api] force turn failed bot=%s err=%v", bot.ID(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (r *routes) handlePause(c *gin.Context) {
	bot, ok := r.lookup(c)
	if !ok {
		return
	}
	paused := bot.TogglePause()
	logger.Infof("[api] pause toggle ip=%s bot=%s paused=%v", c.ClientIP(), bot.ID(), paused)
	c.JSON(http.StatusOK, gin.H{"bot_id": bot.ID(), "paused": paused})
}

type manualCloseRequest struct {
	PositionID string `json:"position_id"`
}

func (r *routes) handleManualClose(c *gin.Context) {
	bot, ok := r.lookup(c)
	if !ok {
		return
	}
	var req manualCloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.PositionID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position_id 必填"})
		return
	}
	trade, err := bot.ManualClose(c.Request.Context(), req.PositionID)
	if err != nil {
		logger.Warnf("[api] manual close failed bot=%s position=%s err=%v", bot.ID(), req.PositionID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] manual close ip=%s bot=%s position=%s pnl=%.4f", c.ClientIP(), bot.ID(), req.PositionID, trade.RealizedPnl)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "trade": trade})
}

func (r *routes) handleReset(c *gin.Context) {
	bot, ok := r.lookup(c)
	if !ok {
		return
	}
	if err := bot.Reset(); err != nil {
		logger.Errorf("[api] reset failed bot=%s err=%v", bot.ID(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] reset ip=%s bot=%s", c.ClientIP(), bot.ID())
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bot_id": bot.ID()})
}

// requestLogger 记录接口调用，便于追踪人工操作。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}
