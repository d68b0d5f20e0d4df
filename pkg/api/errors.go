package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelops/kestrel/pkg/approval"
	"github.com/kestrelops/kestrel/pkg/queue"
	"github.com/kestrelops/kestrel/pkg/services"
	"github.com/kestrelops/kestrel/pkg/spawn"
)

// abortWithServiceError maps service-layer errors to HTTP responses.
func abortWithServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrInvalidInput),
		errors.Is(err, spawn.ErrSpawnDepthExceeded),
		errors.Is(err, spawn.ErrSpawnCircular):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, spawn.ErrTemplateNotFound),
		errors.Is(err, approval.ErrPendingNotFound),
		errors.Is(err, queue.ErrRunNotHeld):
		status = http.StatusNotFound
	case errors.Is(err, spawn.ErrInsufficientRole):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrIllegalTransition),
		errors.Is(err, services.ErrConcurrentModification):
		status = http.StatusConflict
	case errors.Is(err, approval.ErrPendingExpired):
		status = http.StatusGone
	case errors.Is(err, services.ErrSpawnLimitExceeded):
		status = http.StatusTooManyRequests
	default:
		slog.Error("unexpected service error", "error", err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
