package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"media-clipper/internal/clip"
	"media-clipper/internal/domain"
)

// clipRequest is the JSON body accepted by the clip and job routes.
type clipRequest struct {
	URL      string `json:"url"`
	Start    string `json:"start"`
	Duration string `json:"duration"`
}

func (r clipRequest) timeRange() domain.TimeRange {
	return domain.TimeRange{Start: strings.TrimSpace(r.Start), Duration: strings.TrimSpace(r.Duration)}
}

// bindClipRequest decodes the body and reports missing fields by name.
func bindClipRequest(c *gin.Context) (clipRequest, bool) {
	var req clipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("Request body must be a JSON object"))
		return clipRequest{}, false
	}

	var missing []string
	if strings.TrimSpace(req.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(req.Start) == "" {
		missing = append(missing, "start")
	}
	if strings.TrimSpace(req.Duration) == "" {
		missing = append(missing, "duration")
	}
	if len(missing) > 0 {
		c.JSON(http.StatusBadRequest, errorBody("Missing required fields: "+strings.Join(missing, ", ")))
		return clipRequest{}, false
	}

	req.URL = strings.TrimSpace(req.URL)
	return req, true
}

func (h *handlers) createClip(c *gin.Context) {
	body, ok := bindClipRequest(c)
	if !ok {
		return
	}

	result, err := h.deps.Clips.Run(c.Request.Context(), clip.Request{
		SourceURL: body.URL,
		Range:     body.timeRange(),
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, clip.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		c.JSON(status, errorBody(clip.ErrorMessage(err)))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"title":      result.Title,
		"outputPath": result.OutputPath,
		"sizeBytes":  result.SizeBytes,
		"sizeMb":     result.SizeMB,
		"transcoded": result.Transcoded,
	})
}

// streamClip forwards every pipeline event as a server-sent event named
// after its status, ending after the terminal record.
func (h *handlers) streamClip(c *gin.Context) {
	body, ok := bindClipRequest(c)
	if !ok {
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events := h.deps.Clips.Stream(c.Request.Context(), clip.Request{
		SourceURL: body.URL,
		Range:     body.timeRange(),
	})

	heartbeat := time.NewTicker(h.deps.Heartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Status), event)
			return !event.Terminal()
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().UTC()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
