package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"PerpSentinel/internal/adaptive"
	"PerpSentinel/internal/logger"
	"PerpSentinel/internal/model"
	"PerpSentinel/internal/monitor"
)

// Monitors is the part of the monitor manager the API exposes.
type Monitors interface {
	Active() []monitor.Snapshot
	Get(symbol string) (monitor.Snapshot, bool)
	Close(ctx context.Context, symbol, reason string) (model.CompletedEvent, error)
}

// Handler serves the operator API.
type Handler struct {
	Monitors   Monitors
	State      *adaptive.Store
	Timeframes []string
	started    time.Time
}

func NewHandler(m Monitors, state *adaptive.Store, timeframes []string) *Handler {
	return &Handler{Monitors: m, State: state, Timeframes: timeframes, started: time.Now()}
}

func symbolParam(c *gin.Context) string {
	return strings.ToUpper(c.Param("symbol"))
}

// RegisterRoutes mounts every operator route on r.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"monitors": len(h.Monitors.Active()),
			"uptime":   time.Since(h.started).Round(time.Second).String(),
		})
	})

	r.GET("/monitors", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Monitors.Active())
	})

	r.GET("/monitors/:symbol", func(c *gin.Context) {
		snap, ok := h.Monitors.Get(symbolParam(c))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active monitor"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	r.POST("/monitors/:symbol/close", func(c *gin.Context) {
		symbol := symbolParam(c)
		ev, err := h.Monitors.Close(c.Request.Context(), symbol, model.ReasonManual)
		switch {
		case errors.Is(err, monitor.ErrNoMonitor):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case err != nil:
			logger.Errorf("api close %s: %v", symbol, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ev)
	})

	// Last hysteresis decision; all configured timeframes unless ?timeframe= is given.
	r.GET("/decisions/:symbol", func(c *gin.Context) {
		symbol := symbolParam(c)
		timeframes := h.Timeframes
		if tf := c.Query("timeframe"); tf != "" {
			timeframes = []string{tf}
		}
		out := make(map[string]adaptive.Decision, len(timeframes))
		for _, tf := range timeframes {
			if d, ok := h.State.LastDecision(adaptive.Key(symbol, tf)); ok {
				out[tf] = d
			}
		}
		if len(out) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no decision recorded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"symbol": symbol, "decisions": out})
	})

	r.GET("/stats/:symbol", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.State.SymbolStats(symbolParam(c)))
	})
}

// Server is the HTTP server for the operator API.
type Server struct {
	srv *http.Server
}

// NewServer builds a release-mode gin engine with the operator routes.
func NewServer(addr string, h *Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, h)
	return &Server{srv: &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		logger.Infof("operator API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("operator API: %v", err)
		}
	}()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
