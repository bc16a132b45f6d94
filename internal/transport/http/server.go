// Package httpserver 暴露行情缓存与回测服务的 HTTP API。
package httpserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"aurum/internal/backtest"
	"aurum/internal/bot"
	"aurum/internal/market"
	"aurum/internal/marketdata"

	"github.com/gin-gonic/gin"
)

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr         string
	AllowOrigins string
	Resolver     backtest.CandleResolver
	Metrics      *marketdata.Metrics
	Backtests    *backtest.Service
	Bots         *bot.Manager
}

// Server 提供行情、缓存指标与回测任务的 HTTP API。
type Server struct {
	addr      string
	resolver  backtest.CandleResolver
	metrics   *marketdata.Metrics
	backtests *backtest.Service
	bots      *bot.Manager
	router    *gin.Engine
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("resolver 不能为空")
	}
	if cfg.Backtests == nil {
		return nil, errors.New("backtest service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowOrigins))

	s := &Server{
		addr:      cfg.Addr,
		resolver:  cfg.Resolver,
		metrics:   cfg.Metrics,
		backtests: cfg.Backtests,
		bots:      cfg.Bots,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func corsMiddleware(allowOrigins string) gin.HandlerFunc {
	origins := strings.Split(allowOrigins, ",")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		for _, allowed := range origins {
			allowed = strings.TrimSpace(allowed)
			if allowed != "" && (allowed == "*" || allowed == origin) {
				c.Header("Access-Control-Allow-Origin", allowed)
				c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type")
				break
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/candles", s.handleCandles)
	api.GET("/timeframes", s.handleTimeframes)
	api.GET("/cache/metrics", s.handleCacheMetrics)
	api.GET("/strategies", s.handleStrategies)
	api.POST("/backtests", s.handleBacktestStart)
	api.GET("/backtests", s.handleBacktestList)
	api.GET("/backtests/:id", s.handleBacktestDetail)
	api.DELETE("/backtests/:id", s.handleBacktestDelete)
	api.GET("/backtests/:id/report", s.handleBacktestReport)
	api.GET("/bots", s.handleBots)
}

// Router 暴露底层路由，供测试注入请求。
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol/timeframe 必填"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "500"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit 非法"})
		return
	}
	candles, err := s.resolver.Resolve(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "timeframe": tf, "candles": candles})
}

func (s *Server) handleTimeframes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"timeframes": market.SupportedTimeframes()})
}

func (s *Server) handleCacheMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "指标未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": s.metrics.Snapshot()})
}

func (s *Server) handleStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": s.backtests.Strategies()})
}

func (s *Server) handleBacktestStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.backtests.StartRun(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleBacktestList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.backtests.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleBacktestDetail(c *gin.Context) {
	run, err := s.backtests.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleBacktestDelete(c *gin.Context) {
	err := s.backtests.DeleteRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleBacktestReport(c *gin.Context) {
	run, err := s.backtests.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, backtest.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := backtest.RenderReport(run, &buf); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleBots(c *gin.Context) {
	if s.bots == nil {
		c.JSON(http.StatusOK, gin.H{"bots": []bot.BotSpec{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": s.bots.Specs()})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
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
