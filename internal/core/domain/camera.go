package domain

import (
	"fmt"
	"math"
	"strings"

	apperrors "acqbridge/pkg/errors"
	"acqbridge/pkg/videoframe"
)

// MaxStreams is the number of video streams a runtime exposes.
const MaxStreams = 2

// UnboundedFrames disables the per-stream frame cap.
const UnboundedFrames uint64 = math.MaxUint64

// SoftwareTriggerLine is the digital line name the runtime uses for software triggers.
const SoftwareTriggerLine = "software"

// NoCamera selects no device for the second channel.
const NoCamera = "None"

// Storage device names.
const (
	StorageTrash = "Trash"
	StorageZarr  = "Zarr"
	StorageTiff  = "tiff"
)

// StreamFormats lists the storage identifiers accepted for persistence.
var StreamFormats = []string{StorageZarr, StorageTiff}

// IsStreamFormat reports whether name is an accepted persistence format.
func IsStreamFormat(name string) bool {
	for _, f := range StreamFormats {
		if f == name {
			return true
		}
	}
	return false
}

type SampleType uint8

const (
	SampleTypeU8  SampleType = 0
	SampleTypeU16 SampleType = 1
)

var sampleTypes = []SampleType{SampleTypeU8, SampleTypeU16}

func (s SampleType) BytesPerPixel() int {
	switch s {
	case SampleTypeU8:
		return 1
	case SampleTypeU16:
		return 2
	default:
		return 0
	}
}

func (s SampleType) String() string {
	switch s {
	case SampleTypeU8:
		return "8bit"
	case SampleTypeU16:
		return "16bit"
	default:
		return fmt.Sprintf("SampleType(%d)", uint8(s))
	}
}

// FrameType maps the sample type onto the packed frame encoding.
func (s SampleType) FrameType() videoframe.PixelType {
	return videoframe.PixelType(s)
}

// SampleTypeFromFrame is the inverse of FrameType.
func SampleTypeFromFrame(p videoframe.PixelType) SampleType {
	return SampleType(p)
}

// ParsePixelType converts a host pixel type label into a SampleType.
func ParsePixelType(label string) (SampleType, error) {
	switch strings.TrimSpace(label) {
	case "8bit":
		return SampleTypeU8, nil
	case "16bit":
		return SampleTypeU16, nil
	default:
		return 0, apperrors.New(apperrors.ErrCodeUnknownPixelType, "unknown pixel type %q", label)
	}
}

// SupportedSampleTypes expands a supported-pixel-type bitmask. Bit i set means
// SampleType(i) is supported; an empty mask means 8-bit only.
func SupportedSampleTypes(mask uint64) []SampleType {
	if mask == 0 {
		return []SampleType{SampleTypeU8}
	}
	var out []SampleType
	for _, st := range sampleTypes {
		if mask&(1<<uint(st)) != 0 {
			out = append(out, st)
		}
	}
	return out
}

type Shape struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

type Trigger struct {
	Enable bool  `json:"enable"`
	Line   uint8 `json:"line"`
}

type CameraStreamConfig struct {
	ExposureUS    float32    `json:"exposure_us"`
	Binning       uint8      `json:"binning"`
	PixelType     SampleType `json:"pixel_type"`
	Shape         Shape      `json:"shape"`
	Offset        Shape      `json:"offset"`
	Trigger       Trigger    `json:"trigger"`
	MaxFrameCount uint64     `json:"max_frame_count"`
}

// SameSettings reports whether two stream configs match apart from trigger line.
func (c CameraStreamConfig) SameSettings(o CameraStreamConfig) bool {
	return c.ExposureUS == o.ExposureUS &&
		c.Binning == o.Binning &&
		c.PixelType == o.PixelType &&
		c.Shape == o.Shape &&
		c.Offset == o.Offset &&
		c.Trigger.Enable == o.Trigger.Enable &&
		c.MaxFrameCount == o.MaxFrameCount
}

// FrameBytes is the payload size of one image under this config.
func (c CameraStreamConfig) FrameBytes() int {
	return int(c.Shape.X) * int(c.Shape.Y) * c.PixelType.BytesPerPixel()
}

type DeviceKind int

const (
	DeviceKindNone DeviceKind = iota
	DeviceKindCamera
	DeviceKindStorage
	DeviceKindStageAxis
	DeviceKindSignals
)

func (k DeviceKind) String() string {
	switch k {
	case DeviceKindCamera:
		return "camera"
	case DeviceKindStorage:
		return "storage"
	case DeviceKindStageAxis:
		return "stage_axis"
	case DeviceKindSignals:
		return "signals"
	default:
		return "none"
	}
}

type DeviceIdentifier struct {
	Kind DeviceKind `json:"kind"`
	Name string     `json:"name"`
}

// IsSimulated reports whether the device is one of the runtime's demo devices.
func (d DeviceIdentifier) IsSimulated() bool {
	return IsSimulatedName(d.Name)
}

// IsSimulatedName reports whether a camera name denotes a demo device.
func IsSimulatedName(name string) bool {
	return strings.HasPrefix(name, "simulated")
}

type PixelScale struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type StorageSettings struct {
	Filename     string     `json:"filename"`
	Metadata     string     `json:"metadata"`
	PixelScaleUM PixelScale `json:"pixel_scale_um"`
}

type StreamConfig struct {
	Camera          DeviceIdentifier   `json:"camera"`
	CameraSettings  CameraStreamConfig `json:"camera_settings"`
	Storage         DeviceIdentifier   `json:"storage"`
	StorageSettings StorageSettings    `json:"storage_settings"`
}

// Active reports whether a camera is assigned to the stream.
func (s StreamConfig) Active() bool {
	return s.Camera.Kind == DeviceKindCamera && s.Camera.Name != ""
}

type RuntimeConfig struct {
	Streams [MaxStreams]StreamConfig `json:"streams"`
}

type CameraCapabilities struct {
	ShapeMax            Shape    `json:"shape_max"`
	SupportedPixelTypes uint64   `json:"supported_pixel_types"`
	DigitalLines        []string `json:"digital_lines"`
	ExposureMinUS       float32  `json:"exposure_min_us"`
	ExposureMaxUS       float32  `json:"exposure_max_us"`
	BinningMax          uint8    `json:"binning_max"`
}

// SoftwareTrigger returns the index of the digital line named "software".
func (c CameraCapabilities) SoftwareTrigger() (uint8, bool) {
	for i, name := range c.DigitalLines {
		if name == SoftwareTriggerLine {
			return uint8(i), true
		}
	}
	return 0, false
}

type RuntimeMetadata struct {
	Streams [MaxStreams]CameraCapabilities `json:"streams"`
}
