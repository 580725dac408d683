package middleware

import (
	"errors"
	"net/http"

	"harbor-chat/internal/transport/httpdto"
	harbor_errors "harbor-chat/pkg/errors"
	"harbor-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler converts errors attached to the gin context into the wire
// envelope, mapping the sentinel taxonomy to HTTP status codes. Unknown
// errors stay opaque.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		if l != nil {
			l.Errorf("request error: %s", err.Error())
		}

		status, code, msg := mapError(err)
		c.JSON(status, httpdto.NewErrorResponse(msg, code))
	}
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, harbor_errors.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", err.Error()
	case errors.Is(err, harbor_errors.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", err.Error()
	case errors.Is(err, harbor_errors.ErrRoomNotFound), errors.Is(err, harbor_errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, harbor_errors.ErrInvalidRoomSize), errors.Is(err, harbor_errors.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT", err.Error()
	case errors.Is(err, harbor_errors.ErrConflict), errors.Is(err, harbor_errors.ErrAlreadyExists):
		return http.StatusConflict, "CONFLICT", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
	}
}
