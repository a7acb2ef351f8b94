package handlers

import (
	"errors"
	"net/http"

	"trading-alerts/api/jobs"

	"github.com/gin-gonic/gin"
)

// HandleRunJob runs one batch job synchronously for external schedulers.
func HandleRunJob(c *gin.Context) {
	result, err := Jobs.Run(c.Request.Context(), c.Param("name"))
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "jobs": Jobs.Names()})
	case errors.Is(err, jobs.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		respondError(c, err, "Job failed")
	default:
		c.JSON(http.StatusOK, result)
	}
}
