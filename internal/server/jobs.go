package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"media-clipper/internal/clip"
	"media-clipper/internal/jobs"
)

func (h *handlers) createJob(c *gin.Context) {
	body, ok := bindClipRequest(c)
	if !ok {
		return
	}

	job, err := h.deps.Jobs.StartClipJob(body.URL, body.timeRange())
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, job)
	case errors.Is(err, jobs.ErrTooManyJobs):
		c.JSON(http.StatusTooManyRequests, errorBody("Too many clips in progress, try again later"))
	case errors.Is(err, clip.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	default:
		h.log.Error("start clip job failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("Could not start clip job"))
	}
}

func (h *handlers) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.deps.Jobs.ListJobs()})
}

func (h *handlers) getJob(c *gin.Context) {
	job, ok := h.deps.Jobs.GetJob(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("Job not found"))
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *handlers) jobEvents(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.deps.Jobs.GetJob(id); !ok {
		c.JSON(http.StatusNotFound, errorBody("Job not found"))
		return
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorBody("since must be a non-negative integer"))
			return
		}
		since = n
	}

	events := h.deps.Jobs.JobEvents(id, since)
	if events == nil {
		events = []jobs.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *handlers) cancelJob(c *gin.Context) {
	err := h.deps.Jobs.CancelJob(c.Param("id"))
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, jobs.ErrJobNotFound):
		c.JSON(http.StatusNotFound, errorBody("Job not found"))
	case errors.Is(err, jobs.ErrJobFinished):
		c.JSON(http.StatusConflict, errorBody("Job already finished"))
	default:
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
	}
}
