package middleware

import (
	"net/http"

	"acqbridge/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error as
// {"error": code, "message": ..., "details": ..., "request_id": ...}.
// Errors outside the taxonomy become 500 INTERNAL_ERROR without their text.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		requestID := c.Writer.Header().Get(requestIDHeader)

		appErr := errors.GetAppError(err)
		if appErr == nil {
			logger.Errorw("unhandled error",
				"error", err,
				"route", c.FullPath(),
				"method", c.Request.Method,
				"request_id", requestID,
			)
			appErr = errors.NewInternalError("internal server error")
		}

		status := appErr.HTTPStatus
		if status == 0 {
			status = errors.StatusFor(appErr.Code)
		}

		if status >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"message", appErr.Message,
				"cause", appErr.Cause,
				"route", c.FullPath(),
				"request_id", requestID,
			)
		} else {
			logger.Debugw("request rejected", "code", appErr.Code, "message", appErr.Message, "route", c.FullPath())
		}

		body := gin.H{
			"error":   string(appErr.Code),
			"message": appErr.Message,
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		if requestID != "" {
			body["request_id"] = requestID
		}
		c.JSON(status, body)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"panic", r,
					"route", c.FullPath(),
					"method", c.Request.Method,
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
