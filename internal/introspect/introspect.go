// Package introspect exposes a loopback-only HTTP API for observing the
// current dispatch generation: which tasks exist, whether they are
// running, and their recent output.
package introspect

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumenforge/taskwatch/internal/dispatch"
	"github.com/lumenforge/taskwatch/internal/historystore"
	"github.com/lumenforge/taskwatch/internal/taskrun"
)

// defaultLogLines is the tail length returned when a request omits
// ?lines=N.
const defaultLogLines = 200

// Server serves the introspection API. Its view of the dispatch engine
// changes across script reloads, so SetEngine is called once per
// generation rather than at construction time only.
type Server struct {
	log    *zap.Logger
	logmgr *taskrun.LogManager

	mu     sync.RWMutex
	engine *dispatch.Engine

	generation atomic.Int64

	// history and scriptHash are generation-independent: set once via
	// SetHistory, they let /tasks/:index/log fall back to the durable
	// run-history store for a task's most recent completed runs, on top
	// of the in-process live tail.
	history    *historystore.Client
	scriptHash string

	srv *http.Server
}

// New builds a Server bound to addr (e.g. "127.0.0.1:4567"). logmgr
// supplies the per-task log tail for the /tasks/:index/log endpoint.
func New(log *zap.Logger, addr string, logmgr *taskrun.LogManager) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginZapLogger(log), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost", "http://127.0.0.1"},
		AllowMethods: []string{"GET"},
	}))

	s := &Server{
		log:    log.Named("introspect"),
		logmgr: logmgr,
		srv:    &http.Server{Addr: addr, Handler: router},
	}

	router.GET("/healthz", s.handleHealthz)
	router.GET("/tasks", s.handleListTasks)
	router.GET("/tasks/:index", s.handleGetTask)
	router.GET("/tasks/:index/log", s.handleGetTaskLog)

	return s
}

// SetEngine swaps in the dispatch engine for the current generation. Safe
// to call from the supervisor thread while the HTTP server is serving
// requests concurrently.
func (s *Server) SetEngine(e *dispatch.Engine) {
	s.mu.Lock()
	s.engine = e
	s.mu.Unlock()
}

// SetGeneration records the 1-based generation number reported by
// /healthz. Called once per generation alongside SetEngine.
func (s *Server) SetGeneration(n int) {
	s.generation.Store(int64(n))
}

// SetHistory attaches the run-history store, generation-independent, so
// /tasks/:index/log can report a task's recent completed runs in addition
// to its live output tail. A no-op until called; history stays nil
// (and is simply omitted from responses) when no store is configured.
func (s *Server) SetHistory(history *historystore.Client, scriptHash string) {
	s.history = history
	s.scriptHash = scriptHash
}

// Start begins serving in the background. Errors other than a clean
// shutdown are logged, since introspection is a non-essential side
// channel: its failure must never bring down the supervisor.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("introspection server stopped", zap.Error(err))
		}
	}()
}

// Close shuts the HTTP server down.
func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) currentEngine() *dispatch.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "generation": s.generation.Load()})
}

func (s *Server) handleListTasks(c *gin.Context) {
	engine := s.currentEngine()
	if engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active generation"})
		return
	}
	c.JSON(http.StatusOK, engine.Snapshot())
}

func (s *Server) handleGetTask(c *gin.Context) {
	engine := s.currentEngine()
	if engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active generation"})
		return
	}

	idx, ok := parseTaskIndex(c)
	if !ok {
		return
	}

	for _, snap := range engine.Snapshot() {
		if snap.Index == idx {
			c.JSON(http.StatusOK, snap)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "no such task index"})
}

func (s *Server) handleGetTaskLog(c *gin.Context) {
	idx, ok := parseTaskIndex(c)
	if !ok {
		return
	}

	n := defaultLogLines
	if raw := c.Query("lines"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lines must be a positive integer"})
			return
		}
		n = parsed
	}

	lines := s.logmgr.Tail(idx, n)

	resp := gin.H{"task_index": idx, "lines": lines}
	if s.history != nil {
		runs, err := s.history.RecentRuns(c.Request.Context(), s.scriptHash, idx, 10)
		if err != nil {
			s.log.Warn("fetch recent run history", zap.Error(err), zap.Int("task_index", idx))
		} else {
			resp["recent_runs"] = runs
		}
	}
	c.JSON(http.StatusOK, resp)
}

func parseTaskIndex(c *gin.Context) (int, bool) {
	var idx int
	if _, err := fmt.Sscan(c.Param("index"), &idx); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task index"})
		return 0, false
	}
	return idx, true
}

// ginZapLogger adapts zap to gin's logging middleware hook, mirroring the
// request-timing log line gin's own default logger produces.
func ginZapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("introspection request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
