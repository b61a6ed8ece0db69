package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health returns a simple liveness response
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "telemetry-service",
	})
}
