package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/adapter/media"
	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/queue"
)

// QueueService is the set of queue operations exposed over HTTP.
type QueueService interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (string, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	Observe(ctx context.Context) <-chan []domain.Job
	Resolve(ctx context.Context, url string, typ domain.JobType) (*domain.Descriptor, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	RetryAllFailed(ctx context.Context) error
	Remove(ctx context.Context, id string) error
	ClearCompletedAndCancelled(ctx context.Context) (int64, error)
	Reorder(ctx context.Context, from, to int) error
	PauseQueue()
	ResumeQueue()
	Paused() bool
	Running() int
}

// PlaylistExpander lists the entries of a playlist URL.
type PlaylistExpander interface {
	Expand(ctx context.Context, rawURL string) ([]media.PlaylistEntry, error)
}

// Server is the HTTP adapter for the queue.
type Server struct {
	svc       QueueService
	playlists PlaylistExpander
	engine    *gin.Engine
	server    *http.Server
	secret    string
	logger    *zap.Logger
}

// NewServer creates a new HTTP server. playlists may be nil, which disables
// POST /playlists. Mutating requests must be signed when secret is set.
func NewServer(svc QueueService, playlists PlaylistExpander, addr, secret string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		svc:       svc,
		playlists: playlists,
		engine:    gin.New(),
		secret:    secret,
		logger:    logger.Named("http"),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/health", s.handleHealth)

	api := s.engine.Group("/")
	api.Use(s.signed())
	{
		api.POST("/jobs", s.handleEnqueue)
		api.GET("/jobs", s.handleList)
		api.GET("/jobs/stream", s.handleStream)
		api.POST("/jobs/retry-failed", s.handleRetryAllFailed)
		api.DELETE("/jobs/finished", s.handleClearFinished)
		api.GET("/jobs/:id", s.handleGetJob)
		api.DELETE("/jobs/:id", s.handleRemove)
		api.POST("/jobs/:id/cancel", s.handleCancel)
		api.POST("/jobs/:id/retry", s.handleRetry)

		api.GET("/queue", s.handleQueueState)
		api.POST("/queue/pause", s.handlePause)
		api.POST("/queue/resume", s.handleResume)
		api.POST("/queue/reorder", s.handleReorder)

		api.POST("/resolve", s.handleResolve)
		api.POST("/playlists", s.handlePlaylist)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" {
			return
		}
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// signed rejects unsigned mutating requests when a secret is configured.
func (s *Server) signed() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.secret == "" || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			s.writeError(c, http.StatusBadRequest, "failed to read request body")
			c.Abort()
			return
		}
		if err := s.verifySignature(c.Request, body); err != nil {
			s.logger.Warn("request verification failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			s.writeError(c, http.StatusUnauthorized, err.Error())
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

const maxTimestampSkew = 5 * time.Minute

func (s *Server) verifySignature(r *http.Request, body []byte) error {
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be ISO8601/RFC3339 format")
	}

	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew: %v, max: %v)", skew.Truncate(time.Second), maxTimestampSkew)
	}

	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}

	// SHA256("${timestamp}\n${body}\n${secret}")
	if signature != Sign(timestamp, body, s.secret) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Sign computes the X-Signature value for a request.
func Sign(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

func (s *Server) writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// writeServiceError maps queue and backend errors to HTTP statuses.
func (s *Server) writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		s.writeError(c, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidURL), errors.Is(err, domain.ErrInvalidType):
		s.writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotClaimable):
		s.writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNoBackend):
		s.writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		switch domain.KindOf(err) {
		case domain.KindBackendUnavailable:
			s.writeError(c, http.StatusServiceUnavailable, err.Error())
		case domain.KindResolution:
			s.writeError(c, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
			s.writeError(c, http.StatusInternalServerError, "internal error")
		}
	}
}
