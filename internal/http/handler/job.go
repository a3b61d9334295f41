package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aakashsharma7/code-reviewer/internal/scheduler"
	"github.com/aakashsharma7/code-reviewer/internal/service"
)

type JobHandler struct {
	jobs *service.JobService
}

func NewJobHandler(jobs *service.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// Get handles GET /api/v1/jobs/:id.
func (h *JobHandler) Get(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	view, err := h.jobs.GetStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// Retry handles POST /api/v1/jobs/:id/retry. Operator-only.
func (h *JobHandler) Retry(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.jobs.Retry(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, scheduler.ErrRetryNotAllowed):
			c.JSON(http.StatusConflict, gin.H{"error": "job state does not allow retry"})
		default:
			respondError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "queued"})
}

// Cancel handles POST /api/v1/jobs/:id/cancel. Operator-only.
func (h *JobHandler) Cancel(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.jobs.Cancel(c.Request.Context(), id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		case errors.Is(err, scheduler.ErrCancelNotAllowed):
			c.JSON(http.StatusConflict, gin.H{"error": "job state does not allow cancel"})
		default:
			respondError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceling"})
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return 0, false
	}
	return id, true
}
