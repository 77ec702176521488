package http

import (
	"net/http"
	"strconv"

	"acqbridge/internal/core/domain"
	"acqbridge/internal/core/ports"
	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/logger"
	"acqbridge/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 500

	headerWidth         = "X-Image-Width"
	headerHeight        = "X-Image-Height"
	headerBytesPerPixel = "X-Image-Bytes-Per-Pixel"
	headerChannel       = "X-Image-Channel"
	headerMetadata      = "X-Image-Metadata"
)

type CameraHandler struct {
	camera ports.CameraService
	queue  ports.ImageQueue
	logger *zap.SugaredLogger
}

var _ ports.HTTPHandler = (*CameraHandler)(nil)

func NewCameraHandler(camera ports.CameraService, queue ports.ImageQueue, logger *zap.SugaredLogger) *CameraHandler {
	return &CameraHandler{
		camera: camera,
		queue:  queue,
		logger: logger.Named("http"),
	}
}

func (h *CameraHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/devices", h.ListDevices)

		api.GET("/camera", h.GetCamera)
		api.POST("/camera/initialize", h.Initialize)
		api.GET("/camera/properties", h.GetProperties)
		api.PUT("/camera/binning", h.SetBinning)
		api.PUT("/camera/pixel-type", h.SetPixelType)
		api.PUT("/camera/exposure", h.SetExposure)
		api.PUT("/camera/roi", h.SetROI)
		api.DELETE("/camera/roi", h.ClearROI)
		api.PUT("/camera/channel", h.SetChannel)

		api.POST("/camera/snap", h.Snap)
		api.GET("/camera/images/:channel", h.GetImage)
		api.POST("/camera/images/:channel/synthetic", h.GenerateSyntheticImage)
		api.POST("/camera/sequence", h.StartSequence)
		api.DELETE("/camera/sequence", h.StopSequence)

		api.PUT("/camera/persistence", h.EnablePersistence)
		api.DELETE("/camera/persistence", h.DisablePersistence)

		api.GET("/sink/next", h.NextImage)
		api.GET("/runs", h.ListRuns)
		api.GET("/runs/:id", h.GetRun)
	}
}

// fail hands err to the error middleware.
func (h *CameraHandler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

// tagRun puts the run id on the request context for the access log.
func (h *CameraHandler) tagRun(c *gin.Context, runID string) {
	c.Request = c.Request.WithContext(logger.WithRunID(c.Request.Context(), runID))
}

func (h *CameraHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, apperrors.NewInvalidInputError(err.Error()))
		return false
	}
	return true
}

func (h *CameraHandler) GetCamera(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state": h.camera.State().String(),
		"stats": h.camera.Stats(),
	})
}

func (h *CameraHandler) ListDevices(c *gin.Context) {
	cameras, err := h.camera.ListCameras(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cameras": cameras,
		"formats": domain.StreamFormats,
	})
}

// Initialize optionally selects a camera pair, then (re)initializes the runtime.
func (h *CameraHandler) Initialize(c *gin.Context) {
	var req struct {
		Camera1 string `json:"camera_1"`
		Camera2 string `json:"camera_2"`
	}
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	ctx := c.Request.Context()
	reinit := true
	if req.Camera1 != "" {
		if err := validation.ValidateCameraName(req.Camera1); err != nil {
			h.fail(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidCameraSelection, "camera_1"))
			return
		}
		if req.Camera2 != "" && req.Camera2 != domain.NoCamera {
			if err := validation.ValidateCameraName(req.Camera2); err != nil {
				h.fail(c, apperrors.Wrap(err, apperrors.ErrCodeInvalidCameraSelection, "camera_2"))
				return
			}
		}
		wasInitialized := h.initialized(c)
		if err := h.camera.SelectCameras(ctx, req.Camera1, req.Camera2); err != nil {
			h.fail(c, err)
			return
		}
		// selecting cameras on a live session already re-initialized it
		reinit = !wasInitialized
	}
	if reinit {
		if err := h.camera.Initialize(ctx); err != nil {
			h.fail(c, err)
			return
		}
	}

	h.logger.Infow("camera initialized", "camera_1", req.Camera1, "camera_2", req.Camera2, "client_ip", c.ClientIP())
	h.GetProperties(c)
}

func (h *CameraHandler) initialized(c *gin.Context) bool {
	props, err := h.camera.Properties(c.Request.Context())
	return err == nil && props.Initialized
}

func (h *CameraHandler) GetProperties(c *gin.Context) {
	props, err := h.camera.Properties(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": props})
}

func (h *CameraHandler) SetBinning(c *gin.Context) {
	var req struct {
		Binning int `json:"binning" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.camera.SetBinning(c.Request.Context(), req.Binning); err != nil {
		h.fail(c, err)
		return
	}
	h.GetProperties(c)
}

func (h *CameraHandler) SetPixelType(c *gin.Context) {
	var req struct {
		PixelType string `json:"pixel_type" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.camera.SetPixelType(c.Request.Context(), req.PixelType); err != nil {
		h.fail(c, err)
		return
	}
	h.GetProperties(c)
}

func (h *CameraHandler) SetExposure(c *gin.Context) {
	var req struct {
		ExposureMs float64 `json:"exposure_ms" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := validation.ValidateExposureMs(req.ExposureMs); err != nil {
		h.fail(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := h.camera.SetExposure(c.Request.Context(), req.ExposureMs); err != nil {
		h.fail(c, err)
		return
	}
	h.GetProperties(c)
}

func (h *CameraHandler) SetROI(c *gin.Context) {
	var req domain.ROI
	if !h.bind(c, &req) {
		return
	}
	if err := h.camera.SetROI(c.Request.Context(), req); err != nil {
		h.fail(c, err)
		return
	}
	h.GetProperties(c)
}

func (h *CameraHandler) ClearROI(c *gin.Context) {
	if err := h.camera.ClearROI(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.GetProperties(c)
}

func (h *CameraHandler) SetChannel(c *gin.Context) {
	var req struct {
		Channel *int `json:"channel" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	if err := h.camera.SetChannel(c.Request.Context(), *req.Channel); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"channel": *req.Channel})
}

func (h *CameraHandler) Snap(c *gin.Context) {
	if err := h.camera.Snap(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetImage returns the raw pixels of a channel buffer; "current" selects the
// current channel.
func (h *CameraHandler) GetImage(c *gin.Context) {
	channel := -1
	if p := c.Param("channel"); p != "current" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			h.fail(c, apperrors.NewInvalidInputError("channel must be a non-negative integer or \"current\""))
			return
		}
		channel = n
	}

	buf, err := h.camera.ImageBuffer(channel)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header(headerWidth, strconv.Itoa(buf.Width))
	c.Header(headerHeight, strconv.Itoa(buf.Height))
	c.Header(headerBytesPerPixel, strconv.Itoa(buf.Depth))
	c.Data(http.StatusOK, "application/octet-stream", buf.Pixels)
}

// GenerateSyntheticImage fills a channel buffer with a constant byte, for
// exercising host readout without triggering the cameras.
func (h *CameraHandler) GenerateSyntheticImage(c *gin.Context) {
	var req struct {
		Value *int `json:"value" binding:"required"`
	}
	if !h.bind(c, &req) {
		return
	}
	if *req.Value < 0 || *req.Value > 255 {
		h.fail(c, apperrors.NewInvalidInputError("value must be between 0 and 255"))
		return
	}
	channel, err := strconv.Atoi(c.Param("channel"))
	if err != nil || channel < 0 {
		h.fail(c, apperrors.NewInvalidInputError("channel must be a non-negative integer"))
		return
	}

	if err := h.camera.GenerateSyntheticImage(channel, byte(*req.Value)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CameraHandler) StartSequence(c *gin.Context) {
	var req struct {
		NumImages      int64 `json:"num_images"`
		StopOnOverflow bool  `json:"stop_on_overflow"`
	}
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}
	if err := validation.ValidateFrameCount(req.NumImages); err != nil {
		h.fail(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	run, err := h.camera.StartSequence(c.Request.Context(), uint64(req.NumImages), req.StopOnOverflow)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.tagRun(c, run.ID)
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (h *CameraHandler) StopSequence(c *gin.Context) {
	if err := h.camera.StopSequence(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": h.camera.Stats()})
}

func (h *CameraHandler) EnablePersistence(c *gin.Context) {
	var req domain.PersistenceRequest
	if c.Request.ContentLength > 0 && !h.bind(c, &req) {
		return
	}

	run, err := h.camera.EnablePersistence(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.tagRun(c, run.ID)
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (h *CameraHandler) DisablePersistence(c *gin.Context) {
	if err := h.camera.DisablePersistence(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// NextImage pops the oldest image from the sink queue.
func (h *CameraHandler) NextImage(c *gin.Context) {
	img, ok := h.queue.PopNext()
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header(headerChannel, strconv.Itoa(img.Channel))
	c.Header(headerWidth, strconv.Itoa(img.Width))
	c.Header(headerHeight, strconv.Itoa(img.Height))
	c.Header(headerBytesPerPixel, strconv.Itoa(img.BytesPerPixel))
	c.Header(headerMetadata, string(img.Metadata))
	c.Data(http.StatusOK, "application/octet-stream", img.Pixels)
}

func (h *CameraHandler) ListRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > maxRunsLimit {
			h.fail(c, apperrors.NewInvalidInputError("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	runs, err := h.camera.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *CameraHandler) GetRun(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateRunID(id); err != nil {
		h.fail(c, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	run, err := h.camera.GetRun(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}
