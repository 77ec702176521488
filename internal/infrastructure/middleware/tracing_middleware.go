package middleware

import (
	"net/http"

	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// TracingMiddleware opens a server span per request, continuing the caller's
// trace when it sends W3C trace headers. Image payload routes are traced too,
// but only the headers are recorded.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := tracing.Extract(c.Request.Context(), c.Request.Header)
		ctx, span := tracing.TraceHTTPRequest(ctx, c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			semconv.HTTPUserAgentKey.String(c.Request.UserAgent()),
			semconv.HTTPClientIPKey.String(c.ClientIP()),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			semconv.HTTPStatusCodeKey.Int(status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if last := c.Errors.Last(); last != nil {
			if appErr := apperrors.GetAppError(last.Err); appErr != nil {
				span.SetAttributes(tracing.ErrorCodeKey.String(string(appErr.Code)))
			}
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
