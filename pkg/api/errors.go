package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/store"
	"github.com/copydesk/stringer/pkg/vector"
	"github.com/copydesk/stringer/pkg/workflow"
)

// mapError translates service errors into HTTP responses with an {error}
// body. Unrecognized errors become a 500 without leaking their message.
func mapError(c *gin.Context, err error) {
	var verr *settings.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})

	case errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, settings.ErrUnknownPrompt):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, workflow.ErrAgentRunning),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrNoFailedTask),
		errors.Is(err, vector.ErrRetrievalDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, workflow.ErrPoolStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	default:
		slog.Error("Unexpected service error",
			"method", c.Request.Method, "path", c.Request.URL.Path, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// badRequest rejects a request before it reaches any service.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
