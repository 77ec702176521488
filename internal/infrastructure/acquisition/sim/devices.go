package sim

import (
	"fmt"

	"acqbridge/internal/core/domain"
)

// Pattern selects the synthetic image a camera produces.
type Pattern int

const (
	PatternRandom Pattern = iota
	PatternRadialSin
	PatternEmpty
)

// CameraSpec describes one camera known to the simulated runtime.
type CameraSpec struct {
	Name         string
	ShapeMax     domain.Shape
	PixelTypes   uint64 // supported sample type bitmask, 0 means 8-bit only
	DigitalLines []string
	Pattern      Pattern
}

const (
	minExposureUS = 100
	maxExposureUS = 10_000_000
)

var allowedBinning = []uint8{1, 2, 4, 8}

var defaultLines = []string{"Line0", "Line1", domain.SoftwareTriggerLine}

func simulatedCameras() []CameraSpec {
	return []CameraSpec{
		{Name: "simulated: uniform random", ShapeMax: domain.Shape{X: 1920, Y: 1080}, PixelTypes: 0b11, DigitalLines: defaultLines, Pattern: PatternRandom},
		{Name: "simulated: radial sin", ShapeMax: domain.Shape{X: 1920, Y: 1080}, PixelTypes: 0b11, DigitalLines: defaultLines, Pattern: PatternRadialSin},
		{Name: "simulated: empty", ShapeMax: domain.Shape{X: 1920, Y: 1080}, PixelTypes: 0b11, DigitalLines: defaultLines, Pattern: PatternEmpty},
	}
}

var storageDevices = []string{domain.StorageTrash, domain.StorageZarr, domain.StorageTiff}

func (c CameraSpec) supports(st domain.SampleType) bool {
	mask := c.PixelTypes
	if mask == 0 {
		mask = 1
	}
	return mask&(1<<uint(st)) != 0
}

func (c CameraSpec) capabilities() domain.CameraCapabilities {
	return domain.CameraCapabilities{
		ShapeMax:            c.ShapeMax,
		SupportedPixelTypes: c.PixelTypes,
		DigitalLines:        append([]string(nil), c.DigitalLines...),
		ExposureMinUS:       minExposureUS,
		ExposureMaxUS:       maxExposureUS,
		BinningMax:          allowedBinning[len(allowedBinning)-1],
	}
}

// clamp adjusts requested settings to what the camera can do.
func (c CameraSpec) clamp(s domain.CameraStreamConfig) (domain.CameraStreamConfig, error) {
	if !c.supports(s.PixelType) {
		return s, fmt.Errorf("camera %q does not support pixel type %s", c.Name, s.PixelType)
	}
	if s.Trigger.Enable && int(s.Trigger.Line) >= len(c.DigitalLines) {
		return s, fmt.Errorf("camera %q has no digital line %d", c.Name, s.Trigger.Line)
	}

	bin := allowedBinning[0]
	for _, b := range allowedBinning {
		if b <= s.Binning {
			bin = b
		}
	}
	s.Binning = bin

	maxX, maxY := c.ShapeMax.X/uint32(bin), c.ShapeMax.Y/uint32(bin)
	if s.Shape.X == 0 || s.Shape.X > maxX {
		s.Shape.X = maxX
	}
	if s.Shape.Y == 0 || s.Shape.Y > maxY {
		s.Shape.Y = maxY
	}
	if s.Offset.X+s.Shape.X > maxX {
		s.Offset.X = maxX - s.Shape.X
	}
	if s.Offset.Y+s.Shape.Y > maxY {
		s.Offset.Y = maxY - s.Shape.Y
	}

	if s.ExposureUS < minExposureUS {
		s.ExposureUS = minExposureUS
	}
	if s.ExposureUS > maxExposureUS {
		s.ExposureUS = maxExposureUS
	}
	if s.MaxFrameCount == 0 {
		s.MaxFrameCount = domain.UnboundedFrames
	}
	return s, nil
}
