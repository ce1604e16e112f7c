package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/haasonsaas/playbookengine/ent"
	"github.com/haasonsaas/playbookengine/pkg/store"
)

// writeError maps a domain error to an HTTP status and JSON body,
// grounded on the teacher's pkg/api/errors.go mapServiceError shape.
func writeError(c *gin.Context, err error) {
	switch {
	case ent.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, errExecutionNotInWorkspace):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
	case errors.Is(err, store.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
	case errors.Is(err, store.ErrTaskNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "execution is not in a cancellable state"})
	default:
		slog.Error("api: unexpected error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
