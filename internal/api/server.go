// Package api serves stored state histories over HTTP.
//
// Routes:
//
//	GET /healthz                      - liveness
//	GET /metrics                      - Prometheus metrics
//	GET /sessions                     - list stored sessions
//	GET /sessions/:id                 - one session header
//	GET /sessions/:id/attributes      - attribute paths, optionally ?prefix=
//	GET /sessions/:id/state           - value of ?path= at ?at=
//	GET /sessions/:id/intervals       - every interval of ?path=
//
// A path parameter is either slash-separated ("1/Threads/7/status") or a
// JSON array of segments, for segments that contain a slash.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/vmstate/internal/history"
	"github.com/roach88/vmstate/internal/store"
	"github.com/roach88/vmstate/internal/value"
)

// Server exposes a store over HTTP. It only reads.
type Server struct {
	store  *store.Store
	logger *slog.Logger
	router *gin.Engine
}

// NewServer builds the router for st.
func NewServer(st *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{store: st, logger: logger, router: gin.New()}
	s.router.Use(gin.Recovery(), s.logRequests())
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", HealthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sessions := s.router.Group("/sessions")
	sessions.GET("", s.listSessions)
	sessions.GET("/:id", s.getSession)
	sessions.GET("/:id/attributes", s.listAttributes)
	sessions.GET("/:id/state", s.getState)
	sessions.GET("/:id/intervals", s.listIntervals)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) getSession(c *gin.Context) {
	rec, err := s.store.ReadSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) listAttributes(c *gin.Context) {
	var prefix []string
	if raw := c.Query("prefix"); raw != "" {
		p, err := ParsePath(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		prefix = p
	}

	attrs, err := s.store.ReadAttributes(c.Request.Context(), c.Param("id"), prefix)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attributes": attrs})
}

// StateResponse is the body of GET /sessions/:id/state.
type StateResponse struct {
	Path  []string    `json:"path"`
	At    int64       `json:"at"`
	Kind  value.Kind  `json:"kind"`
	Value value.Value `json:"value"`
}

func (s *Server) getState(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}
	at, err := strconv.ParseInt(c.Query("at"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at must be an integer timestamp"})
		return
	}

	v, err := s.store.QueryAt(c.Request.Context(), c.Param("id"), path, at)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, StateResponse{Path: path, At: at, Kind: value.KindOf(v), Value: v})
}

// IntervalResponse is one interval in GET /sessions/:id/intervals. An open
// interval has a null end.
type IntervalResponse struct {
	Start int64       `json:"start"`
	End   *int64      `json:"end"`
	Value value.Value `json:"value"`
}

func (s *Server) listIntervals(c *gin.Context) {
	path, ok := requirePath(c)
	if !ok {
		return
	}

	ivs, err := s.store.ReadIntervals(c.Request.Context(), c.Param("id"), path)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "intervals": ToIntervalResponses(ivs)})
}

// ToIntervalResponses renders intervals with a null end for open ones.
func ToIntervalResponses(ivs []history.Interval) []IntervalResponse {
	out := make([]IntervalResponse, len(ivs))
	for i, iv := range ivs {
		out[i] = IntervalResponse{Start: iv.Start, Value: iv.Value}
		if !iv.IsOpen() {
			end := iv.End
			out[i].End = &end
		}
	}
	return out
}

func requirePath(c *gin.Context) ([]string, bool) {
	raw := c.Query("path")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return nil, false
	}
	path, err := ParsePath(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return path, true
}

// fail maps store errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// ParsePath accepts "a/b/c" or a JSON array of strings.
func ParsePath(raw string) ([]string, error) {
	if strings.HasPrefix(raw, "[") {
		var path []string
		if err := json.Unmarshal([]byte(raw), &path); err != nil {
			return nil, fmt.Errorf("invalid path %q: %w", raw, err)
		}
		if len(path) == 0 {
			return nil, fmt.Errorf("invalid path %q: empty", raw)
		}
		return path, nil
	}

	path := strings.Split(strings.Trim(raw, "/"), "/")
	for _, seg := range path {
		if seg == "" {
			return nil, fmt.Errorf("invalid path %q: empty segment", raw)
		}
	}
	return path, nil
}
