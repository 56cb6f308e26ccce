package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxAuditLimit = 500

func (h *handlers) getDiagnostics(c *gin.Context) {
	if c.Query("refresh") != "true" {
		c.JSON(http.StatusOK, h.deps.Diagnostics.GetDiagnostics())
		return
	}

	report, err := h.deps.Diagnostics.RefreshDiagnostics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) fixDiagnostic(c *gin.Context) {
	report, err := h.deps.Diagnostics.InstallOrFixDiagnostic(c.Param("id"))
	if err != nil {
		h.log.Warn("diagnostic fix failed", "id", c.Param("id"), "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"status":  "error",
			"message": err.Error(),
			"report":  report,
		})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) listAudit(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entries, err := h.deps.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("audit query failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody("Could not read audit history"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
