// Package httpapi serves the read-only dashboard API over the
// reconciliation store and request logs.  It renders no HTML and performs
// no authentication; it is meant to sit behind the site network.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hydepark/worksync/internal/observability"
	"github.com/hydepark/worksync/internal/worksync/store"
	"github.com/hydepark/worksync/internal/worksync/types"
)

// EventStatsSource surfaces the upstream's own event counters on the
// dashboard.  Optional; nil leaves them off /api/stats.
type EventStatsSource interface {
	EventStats(ctx context.Context) (json.RawMessage, error)
}

type Dependencies struct {
	Logger  zerolog.Logger
	Addr    string
	Workers store.WorkerStore
	Logs    store.RequestLogStore
	Events  EventStatsSource
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	workers    store.WorkerStore
	logs       store.RequestLogStore
	events     EventStatsSource
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:  d.Logger,
		workers: d.Workers,
		logs:    d.Logs,
		events:  d.Events,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), cors.Default())

	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/workers", s.handleListWorkers)
	api.GET("/workers/:identityKey", s.handleGetWorker)
	api.GET("/logs", s.handleListLogs)
	api.GET("/logs/stats", s.handleLogStats)
	api.GET("/stats", s.handleStats)

	observability.RegisterMetrics()

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "serverTime": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleListWorkers(c *gin.Context) {
	status := types.WorkerStatus(c.Query("status"))
	if status != "" && !types.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status filter"})
		return
	}

	workers, err := s.workers.ListAll(c.Request.Context(), status)
	if err != nil {
		s.logger.Error().Err(err).Msg("list workers failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if workers == nil {
		workers = []types.WorkerRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"workers": workers, "count": len(workers)})
}

func (s *Server) handleGetWorker(c *gin.Context) {
	rec, err := s.workers.FindByIdentityKey(c.Request.Context(), c.Param("identityKey"))
	if err != nil {
		s.logger.Error().Err(err).Msg("worker lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "worker not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleListLogs(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1..1000"})
			return
		}
		limit = n
	}

	entries, err := s.logs.Recent(c.Request.Context(), limit, c.Query("target"))
	if err != nil {
		s.logger.Error().Err(err).Msg("list logs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if entries == nil {
		entries = []store.RequestLogEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": entries, "count": len(entries)})
}

func (s *Server) handleLogStats(c *gin.Context) {
	stats, err := s.logs.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("log stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleStats summarizes the reconciliation store by status alongside the
// request log aggregates.
func (s *Server) handleStats(c *gin.Context) {
	workers, err := s.workers.ListAll(c.Request.Context(), "")
	if err != nil {
		s.logger.Error().Err(err).Msg("stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	byStatus := map[types.WorkerStatus]int{}
	granted := 0
	for _, w := range workers {
		byStatus[w.Status]++
		if w.HasAccessGrant {
			granted++
		}
	}

	logStats, err := s.logs.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := gin.H{
		"workers": gin.H{
			"total":    len(workers),
			"byStatus": byStatus,
			"granted":  granted,
		},
		"requests": logStats,
	}

	if s.events != nil {
		if raw, err := s.events.EventStats(c.Request.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("upstream event stats unavailable")
		} else {
			out["upstreamEvents"] = raw
		}
	}

	c.JSON(http.StatusOK, out)
}
