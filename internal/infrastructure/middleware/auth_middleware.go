package middleware

import (
	"net/http"
	"strings"

	"acqbridge/internal/core/services"
	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

const subjectKey = "subject"

// AuthMiddleware requires a bearer token carrying scope.
func AuthMiddleware(authService services.AuthService, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}
		if !claims.HasScope(scope) {
			abortWith(c, apperrors.NewAppError(apperrors.ErrCodeUnauthorized, "token lacks scope "+scope, http.StatusForbidden))
			return
		}

		c.Set(subjectKey, claims.Subject)
		c.Request = c.Request.WithContext(logger.WithOperator(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// MutationAuthMiddleware requires the control scope on every method that can
// change camera state. Reads stay open so viewers and probes need no token.
func MutationAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	control := AuthMiddleware(authService, services.ScopeControl)
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
		default:
			control(c)
		}
	}
}
