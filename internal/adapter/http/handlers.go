package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cwygoda/haul/internal/domain"
	"github.com/cwygoda/haul/internal/queue"
)

type enqueueRequest struct {
	URL        string  `json:"url" binding:"required"`
	Type       string  `json:"type"`
	FormatSpec *string `json:"format_spec"`
	Title      string  `json:"title"`
}

type enqueueResponse struct {
	ID string `json:"id"`
}

type reorderRequest struct {
	From *int `json:"from" binding:"required"`
	To   *int `json:"to" binding:"required"`
}

type resolveRequest struct {
	URL  string `json:"url" binding:"required"`
	Type string `json:"type"`
}

type playlistRequest struct {
	URL        string  `json:"url" binding:"required"`
	Type       string  `json:"type"`
	FormatSpec *string `json:"format_spec"`
}

type playlistResponse struct {
	IDs    []string `json:"ids"`
	Failed int      `json:"failed"`
}

type queueResponse struct {
	Paused  bool           `json:"paused"`
	Running int            `json:"running"`
	Counts  map[string]int `json:"counts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleEnqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "url is required")
		return
	}

	er := queue.EnqueueRequest{
		URL:        req.URL,
		Type:       domain.JobType(req.Type),
		FormatSpec: req.FormatSpec,
	}
	if req.Title != "" {
		er.Metadata = &domain.Metadata{Title: req.Title}
	}

	id, err := s.svc.Enqueue(c.Request.Context(), er)
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, enqueueResponse{ID: id})
}

func (s *Server) handleList(c *gin.Context) {
	jobs, err := s.svc.List(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobsToResponse(jobs))
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobToResponse(job))
}

func (s *Server) handleRemove(c *gin.Context) {
	if err := s.svc.Remove(c.Request.Context(), c.Param("id")); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleCancel(c *gin.Context) {
	if err := s.svc.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleRetry(c *gin.Context) {
	if err := s.svc.Retry(c.Request.Context(), c.Param("id")); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleRetryAllFailed(c *gin.Context) {
	if err := s.svc.RetryAllFailed(c.Request.Context()); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleClearFinished(c *gin.Context) {
	n, err := s.svc.ClearCompletedAndCancelled(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

func (s *Server) handleQueueState(c *gin.Context) {
	jobs, err := s.svc.List(c.Request.Context())
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	counts := make(map[string]int)
	for _, j := range jobs {
		counts[string(j.Status)]++
	}
	c.JSON(http.StatusOK, queueResponse{
		Paused:  s.svc.Paused(),
		Running: s.svc.Running(),
		Counts:  counts,
	})
}

func (s *Server) handlePause(c *gin.Context) {
	s.svc.PauseQueue()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResume(c *gin.Context) {
	s.svc.ResumeQueue()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleReorder(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "from and to are required")
		return
	}
	if err := s.svc.Reorder(c.Request.Context(), *req.From, *req.To); err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "url is required")
		return
	}
	d, err := s.svc.Resolve(c.Request.Context(), req.URL, domain.JobType(req.Type))
	if err != nil {
		s.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, descriptorToResponse(d))
}

// handlePlaylist expands a playlist and enqueues one job per entry.
func (s *Server) handlePlaylist(c *gin.Context) {
	if s.playlists == nil {
		s.writeError(c, http.StatusNotImplemented, "playlist expansion is not configured")
		return
	}
	var req playlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, "url is required")
		return
	}
	typ := domain.JobType(req.Type)
	if typ == "" {
		typ = domain.TypeVideo
	}
	if typ != domain.TypeVideo && typ != domain.TypeAudio {
		s.writeError(c, http.StatusBadRequest, "playlist type must be VIDEO or AUDIO")
		return
	}

	entries, err := s.playlists.Expand(c.Request.Context(), req.URL)
	if err != nil {
		s.logger.Warn("playlist expansion failed", zap.String("url", req.URL), zap.Error(err))
		s.writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp := playlistResponse{IDs: []string{}}
	for _, e := range entries {
		id, err := s.svc.Enqueue(c.Request.Context(), queue.EnqueueRequest{
			URL:        e.URL,
			Type:       typ,
			FormatSpec: req.FormatSpec,
			Metadata:   &domain.Metadata{Title: e.Title},
		})
		if err != nil {
			if domain.KindOf(err) == domain.KindBackendUnavailable {
				s.writeServiceError(c, err)
				return
			}
			s.logger.Warn("playlist entry rejected", zap.String("url", e.URL), zap.Error(err))
			resp.Failed++
			continue
		}
		resp.IDs = append(resp.IDs, id)
	}
	c.JSON(http.StatusCreated, resp)
}

// handleStream sends the job list as server-sent events, one "jobs" event
// per change.
func (s *Server) handleStream(c *gin.Context) {
	updates := s.svc.Observe(c.Request.Context())
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		jobs, ok := <-updates
		if !ok {
			return false
		}
		c.SSEvent("jobs", jobsToResponse(jobs))
		return true
	})
}
