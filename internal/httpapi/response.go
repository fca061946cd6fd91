package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bustrack/internal/apperr"
	"bustrack/internal/httpmiddleware"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data})
}

func created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, envelope{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, envelope{Success: false, Error: msg})
}

// fail writes err with the status of its kind. Server-side failures are logged with their
// cause and reported with a generic message.
func (s *Server) fail(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("requestId", c.GetString(httpmiddleware.RequestIDKey)),
			zap.Error(err))
		_ = c.Error(err)
	}
	c.JSON(status, envelope{Success: false, Error: apperr.Message(err)})
}
