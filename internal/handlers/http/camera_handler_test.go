package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/infrastructure/middleware"
	"acqbridge/internal/infrastructure/sink"
	apperrors "acqbridge/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCamera struct {
	mock.Mock
}

func (m *mockCamera) Initialize(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockCamera) Shutdown(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockCamera) ListCameras(ctx context.Context) ([]string, error) {
	args := m.Called()
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockCamera) SelectCameras(ctx context.Context, camera1, camera2 string) error {
	return m.Called(camera1, camera2).Error(0)
}

func (m *mockCamera) Properties(ctx context.Context) (*domain.CameraProperties, error) {
	args := m.Called()
	props, _ := args.Get(0).(*domain.CameraProperties)
	return props, args.Error(1)
}

func (m *mockCamera) SetPixelType(ctx context.Context, pixelType string) error {
	return m.Called(pixelType).Error(0)
}

func (m *mockCamera) SetBinning(ctx context.Context, binning int) error {
	return m.Called(binning).Error(0)
}

func (m *mockCamera) SetROI(ctx context.Context, roi domain.ROI) error {
	return m.Called(roi).Error(0)
}

func (m *mockCamera) ClearROI(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockCamera) SetExposure(ctx context.Context, ms float64) error {
	return m.Called(ms).Error(0)
}

func (m *mockCamera) SetChannel(ctx context.Context, channel int) error {
	return m.Called(channel).Error(0)
}

func (m *mockCamera) Snap(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockCamera) ImageBuffer(channel int) (*domain.ImageBuffer, error) {
	args := m.Called(channel)
	buf, _ := args.Get(0).(*domain.ImageBuffer)
	return buf, args.Error(1)
}

func (m *mockCamera) GenerateSyntheticImage(channel int, value byte) error {
	return m.Called(channel, value).Error(0)
}

func (m *mockCamera) StartSequence(ctx context.Context, numImages uint64, stopOnOverflow bool) (*domain.AcquisitionRun, error) {
	args := m.Called(numImages, stopOnOverflow)
	run, _ := args.Get(0).(*domain.AcquisitionRun)
	return run, args.Error(1)
}

func (m *mockCamera) StopSequence(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockCamera) EnablePersistence(ctx context.Context, req domain.PersistenceRequest) (*domain.AcquisitionRun, error) {
	args := m.Called(req)
	run, _ := args.Get(0).(*domain.AcquisitionRun)
	return run, args.Error(1)
}

func (m *mockCamera) DisablePersistence(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockCamera) State() domain.SessionState {
	return m.Called().Get(0).(domain.SessionState)
}

func (m *mockCamera) Stats() domain.SessionStats {
	return m.Called().Get(0).(domain.SessionStats)
}

func (m *mockCamera) GetRun(ctx context.Context, id string) (*domain.AcquisitionRun, error) {
	args := m.Called(id)
	run, _ := args.Get(0).(*domain.AcquisitionRun)
	return run, args.Error(1)
}

func (m *mockCamera) ListRuns(ctx context.Context, limit int) ([]*domain.AcquisitionRun, error) {
	args := m.Called(limit)
	runs, _ := args.Get(0).([]*domain.AcquisitionRun)
	return runs, args.Error(1)
}

func setupRouter(camera *mockCamera, queue *sink.CircularBuffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(zap.NewNop().Sugar()))
	NewCameraHandler(camera, queue, zap.NewNop().Sugar()).SetupRoutes(router)
	return router
}

func do(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCameraHandler_SetBinning(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		serviceErr error
		wantStatus int
		wantCode   string
	}{
		{name: "ok", body: gin.H{"binning": 2}, wantStatus: http.StatusOK},
		{name: "missing field", body: gin.H{}, wantStatus: http.StatusBadRequest, wantCode: "INVALID_INPUT"},
		{
			name:       "busy",
			body:       gin.H{"binning": 2},
			serviceErr: apperrors.NewCameraBusyError("set binning"),
			wantStatus: http.StatusConflict,
			wantCode:   "CAMERA_BUSY",
		},
		{
			name:       "rejected by runtime",
			body:       gin.H{"binning": 2},
			serviceErr: apperrors.New(apperrors.ErrCodeConfigureFailed, "configure runtime"),
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "CONFIGURE_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			camera := &mockCamera{}
			camera.On("SetBinning", 2).Return(tt.serviceErr).Maybe()
			camera.On("Properties").Return(&domain.CameraProperties{Binning: 2}, nil).Maybe()

			w := do(setupRouter(camera, sink.NewCircularBuffer(1)), http.MethodPut, "/api/v1/camera/binning", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decode(t, w)["error"])
			}
		})
	}
}

func TestCameraHandler_Initialize(t *testing.T) {
	camera := &mockCamera{}
	camera.On("Properties").Return(&domain.CameraProperties{Initialized: false}, nil).Once()
	camera.On("SelectCameras", "simulated: empty", "None").Return(nil).Once()
	camera.On("Initialize").Return(nil).Once()
	camera.On("Properties").Return(&domain.CameraProperties{Initialized: true, Channels: 1}, nil)

	w := do(setupRouter(camera, sink.NewCircularBuffer(1)), http.MethodPost, "/api/v1/camera/initialize",
		gin.H{"camera_1": "simulated: empty", "camera_2": "None"})
	require.Equal(t, http.StatusOK, w.Code)

	props := decode(t, w)["properties"].(map[string]interface{})
	assert.Equal(t, true, props["initialized"])
	assert.Equal(t, float64(1), props["channels"])
	camera.AssertExpectations(t)
}

func TestCameraHandler_InitializeWithoutBody(t *testing.T) {
	camera := &mockCamera{}
	camera.On("Initialize").Return(apperrors.New(apperrors.ErrCodeInitFailed, "no runtime"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/camera/initialize", nil)
	w := httptest.NewRecorder()
	setupRouter(camera, sink.NewCircularBuffer(1)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "INIT_FAILED", decode(t, w)["error"])
}

func TestCameraHandler_GetImage(t *testing.T) {
	camera := &mockCamera{}
	camera.On("ImageBuffer", -1).Return(&domain.ImageBuffer{Width: 2, Height: 2, Depth: 1, Pixels: []byte{1, 2, 3, 4}}, nil)
	camera.On("ImageBuffer", 3).Return(nil, apperrors.NewNotFoundError("channel 3"))
	router := setupRouter(camera, sink.NewCircularBuffer(1))

	w := do(router, http.MethodGet, "/api/v1/camera/images/current", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{1, 2, 3, 4}, w.Body.Bytes())
	assert.Equal(t, "2", w.Header().Get(headerWidth))
	assert.Equal(t, "1", w.Header().Get(headerBytesPerPixel))

	w = do(router, http.MethodGet, "/api/v1/camera/images/3", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/camera/images/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCameraHandler_GenerateSyntheticImage(t *testing.T) {
	camera := &mockCamera{}
	camera.On("GenerateSyntheticImage", 1, byte(200)).Return(nil).Once()
	router := setupRouter(camera, sink.NewCircularBuffer(1))

	w := do(router, http.MethodPost, "/api/v1/camera/images/1/synthetic", gin.H{"value": 200})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodPost, "/api/v1/camera/images/1/synthetic", gin.H{"value": 300})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodPost, "/api/v1/camera/images/current/synthetic", gin.H{"value": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	camera.AssertExpectations(t)
}

func TestCameraHandler_Sequence(t *testing.T) {
	camera := &mockCamera{}
	camera.On("StartSequence", uint64(10), true).Return(&domain.AcquisitionRun{ID: "run_1", Kind: domain.RunKindSequence}, nil)
	camera.On("StopSequence").Return(nil)
	camera.On("Stats").Return(domain.SessionStats{State: "idle", Frames: 10})
	router := setupRouter(camera, sink.NewCircularBuffer(1))

	w := do(router, http.MethodPost, "/api/v1/camera/sequence", gin.H{"num_images": 10, "stop_on_overflow": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	run := decode(t, w)["run"].(map[string]interface{})
	assert.Equal(t, "run_1", run["id"])

	w = do(router, http.MethodPost, "/api/v1/camera/sequence", gin.H{"num_images": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodDelete, "/api/v1/camera/sequence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode(t, w)["stats"].(map[string]interface{})
	assert.Equal(t, float64(10), stats["frames"])
}

func TestCameraHandler_Persistence(t *testing.T) {
	camera := &mockCamera{}
	req := domain.PersistenceRequest{Format: "tiff", Prefix: "mouse"}
	camera.On("EnablePersistence", req).Return(&domain.AcquisitionRun{ID: "run_2", Directory: "/data/mouse"}, nil)
	camera.On("DisablePersistence").Return(nil)
	router := setupRouter(camera, sink.NewCircularBuffer(1))

	w := do(router, http.MethodPut, "/api/v1/camera/persistence", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/data/mouse", decode(t, w)["run"].(map[string]interface{})["directory"])

	w = do(router, http.MethodDelete, "/api/v1/camera/persistence", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestCameraHandler_NextImage(t *testing.T) {
	queue := sink.NewCircularBuffer(4)
	router := setupRouter(&mockCamera{}, queue)

	w := do(router, http.MethodGet, "/api/v1/sink/next", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, queue.InsertImage(context.Background(), domain.Image{
		Channel:       1,
		Width:         2,
		Height:        1,
		BytesPerPixel: 1,
		Pixels:        []byte{9, 8},
		Metadata:      domain.ImageMetadata{FrameID: 42, Channel: 1}.Marshal(),
	}))

	w = do(router, http.MethodGet, "/api/v1/sink/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{9, 8}, w.Body.Bytes())
	assert.Equal(t, "1", w.Header().Get(headerChannel))
	assert.Contains(t, w.Header().Get(headerMetadata), `"frame_id":42`)
	assert.Equal(t, 0, queue.Len())
}

func TestCameraHandler_Runs(t *testing.T) {
	camera := &mockCamera{}
	camera.On("ListRuns", defaultRunsLimit).Return([]*domain.AcquisitionRun{{ID: "run_a"}, {ID: "run_b"}}, nil)
	camera.On("GetRun", "run_a").Return(&domain.AcquisitionRun{ID: "run_a"}, nil)
	camera.On("GetRun", "run_x").Return(nil, apperrors.NewNotFoundError("run run_x"))
	router := setupRouter(camera, sink.NewCircularBuffer(1))

	w := do(router, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decode(t, w)["count"])

	w = do(router, http.MethodGet, "/api/v1/runs?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(router, http.MethodGet, "/api/v1/runs/run_a", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/runs/run_x", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/runs/bad%20id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCameraHandler_SetChannelRequiresValue(t *testing.T) {
	camera := &mockCamera{}
	camera.On("SetChannel", 0).Return(nil)
	router := setupRouter(camera, sink.NewCircularBuffer(1))

	w := do(router, http.MethodPut, "/api/v1/camera/channel", gin.H{"channel": 0})
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodPut, "/api/v1/camera/channel", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCameraHandler_GetCamera(t *testing.T) {
	camera := &mockCamera{}
	camera.On("State").Return(domain.SessionStreaming)
	camera.On("Stats").Return(domain.SessionStats{State: "streaming", RunID: "run_1"})

	w := do(setupRouter(camera, sink.NewCircularBuffer(1)), http.MethodGet, "/api/v1/camera", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "streaming", decode(t, w)["state"])
}
