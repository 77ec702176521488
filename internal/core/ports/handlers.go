package ports

import (
	"github.com/gin-gonic/gin"
)

type HTTPHandler interface {
	GetCamera(c *gin.Context)
	ListDevices(c *gin.Context)
	Initialize(c *gin.Context)
	GetProperties(c *gin.Context)
	SetBinning(c *gin.Context)
	SetPixelType(c *gin.Context)
	SetExposure(c *gin.Context)
	SetROI(c *gin.Context)
	ClearROI(c *gin.Context)
	SetChannel(c *gin.Context)
	Snap(c *gin.Context)
	GetImage(c *gin.Context)
	GenerateSyntheticImage(c *gin.Context)
	StartSequence(c *gin.Context)
	StopSequence(c *gin.Context)
	EnablePersistence(c *gin.Context)
	DisablePersistence(c *gin.Context)
	NextImage(c *gin.Context)
	ListRuns(c *gin.Context)
	GetRun(c *gin.Context)
}

type LiveViewHandler interface {
	HandleWebSocket(c *gin.Context)
}
