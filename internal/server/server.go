// Package server is the HTTP signal façade: it serves cached trading
// signals to external platforms and exposes operator controls for the
// shared risk gate. Signal requests never fail; every internal problem
// degrades to a flat HOLD.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/futuresfunk/internal/config"
	"github.com/ajitpratap0/futuresfunk/internal/metrics"
	"github.com/ajitpratap0/futuresfunk/internal/risk"
)

// killReasonDefault is recorded when /kill is hit without a reason.
const killReasonDefault = "Manual kill switch"

// Server is the signal façade's HTTP server.
type Server struct {
	router  *gin.Engine
	service *Service
	gate    *risk.Gate
	addr    string
	server  *http.Server
}

// NewServer builds the façade around a signal service and the shared
// risk gate.
func NewServer(cfg config.ServerConfig, service *Service, gate *risk.Gate) *Server {
	// Set Gin to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server := &Server{
		router:  router,
		service: service,
		gate:    gate,
		addr:    cfg.GetAddr(),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures the façade endpoints.
func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/signal", s.handleSignal)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", s.handleMetrics)

	s.router.POST("/kill", s.handleKill)
	s.router.POST("/resume", s.handleResume)
	s.router.POST("/record-trade", s.handleRecordTrade)
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      metrics.HTTPMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting signal server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping signal server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// Root handler
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "futuresfunk signal server",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleSignal answers GET /signal?symbol=XYZ. The response is always
// 200 with an action once a symbol is given; degraded pipelines yield
// HOLD with zero size.
func (s *Server) handleSignal(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "symbol query parameter required",
		})
		return
	}

	c.JSON(http.StatusOK, s.service.Signal(c.Request.Context(), symbol))
}

// handleHealth reports per-component readiness.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Health())
}

// handleMetrics reports the façade's request counters and the shared
// gate's daily risk accounting.
func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.Metrics())
}

// handleKill latches the kill switch. Always succeeds.
func (s *Server) handleKill(c *gin.Context) {
	reason := c.DefaultQuery("reason", killReasonDefault)

	s.gate.Kill(reason)

	c.JSON(http.StatusOK, gin.H{
		"status": "killed",
		"reason": reason,
	})
}

// handleResume releases the kill switch. Always succeeds.
func (s *Server) handleResume(c *gin.Context) {
	s.gate.Resume()

	c.JSON(http.StatusOK, gin.H{
		"status": "resumed",
	})
}

// handleRecordTrade folds an externally executed trade's P&L into the
// gate's daily accounting.
func (s *Server) handleRecordTrade(c *gin.Context) {
	pnlStr := c.Query("pnl")
	if pnlStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "pnl query parameter required",
		})
		return
	}

	pnl, err := strconv.ParseFloat(pnlStr, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid pnl value",
		})
		return
	}

	s.gate.RecordTrade(pnl)

	c.JSON(http.StatusOK, gin.H{
		"status":    "recorded",
		"daily_pnl": s.gate.Stats().DailyPnL,
	})
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log request
		latency := time.Since(start)
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method

		logEvent := log.Info().
			Str("method", method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", clientIP)

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
