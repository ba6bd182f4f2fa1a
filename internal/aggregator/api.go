package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/webcrawl/internal/logger"
)

// Server exposes the aggregator's read API for dashboards.
type Server struct {
	tracker *Tracker
	httpSrv *http.Server
	log     logger.Logger
}

// NewServer builds the API server on the given port.
func NewServer(tr *Tracker, port int, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		tracker: tr,
		log:     log,
		httpSrv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	router.GET("/healthz", s.handleHealthz)

	api := router.Group("/api")
	{
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/:id", s.handleGetTask)
		api.DELETE("/tasks", s.handleClearTasks)
		api.GET("/summary", s.handleSummary)
		api.GET("/health/components", s.handleComponents)
	}

	return s
}

// Run serves until the listener fails. Always returns a non-nil error;
// http.ErrServerClosed after Shutdown.
func (s *Server) Run() error {
	s.log.Info("aggregator api listening", logger.String("addr", s.httpSrv.Addr))

	err := s.httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("aggregator api: %w", err)
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks := s.tracker.Tasks()
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id := c.Param("id")

	task, ok := s.tracker.Task(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found", "task_id": id})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleClearTasks(c *gin.Context) {
	removed := s.tracker.Clear()
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.tracker.Summary())
}

func (s *Server) handleComponents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"components": s.tracker.Components()})
}
