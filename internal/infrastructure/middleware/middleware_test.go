package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"acqbridge/internal/core/services"
	"acqbridge/pkg/errors"
	"acqbridge/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	router.Use(handlers...)
	return router
}

func TestErrorHandler_MapsAppErrorStatus(t *testing.T) {
	router := newRouter()
	router.POST("/busy", func(c *gin.Context) {
		c.Error(errors.NewCameraBusyError("set binning"))
	})
	router.GET("/plain", func(c *gin.Context) {
		c.Error(assert.AnError)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/busy", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, string(errors.ErrCodeCameraBusy), body["error"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/plain", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMutationAuth_GuardsWrites(t *testing.T) {
	auth := services.NewAuthService("secret", time.Minute)
	router := newRouter(MutationAuthMiddleware(auth))
	router.GET("/camera", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/camera/snap", func(c *gin.Context) {
		assert.Equal(t, "bench", c.GetString("subject"))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/camera", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/camera/snap", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := auth.GenerateToken("bench")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/camera/snap", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	readOnly, err := auth.GenerateToken("viewer", services.ScopeRead)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/camera/snap", nil)
	req.Header.Set("Authorization", "bearer "+readOnly)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	router := newRouter(RequestLoggerMiddleware(logger.NewContextLogger(zap.NewNop())))
	router.GET("/camera", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/camera", nil))
	assert.Contains(t, w.Header().Get(requestIDHeader), "req_")

	req := httptest.NewRequest(http.MethodGet, "/camera", nil)
	req.Header.Set(requestIDHeader, "req_given")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req_given", w.Header().Get(requestIDHeader))
}
