package domain

import (
	"fmt"
	"time"
)

type SessionState int

const (
	SessionIdle SessionState = iota
	SessionSnapping
	SessionStreaming
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionSnapping:
		return "snapping"
	case SessionStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// MismatchPolicy decides what a synchronization pass does on a frame-id gap.
type MismatchPolicy int

const (
	MismatchWarn MismatchPolicy = iota
	MismatchAbort
)

func ParseMismatchPolicy(s string) (MismatchPolicy, error) {
	switch s {
	case "", "warn":
		return MismatchWarn, nil
	case "abort":
		return MismatchAbort, nil
	default:
		return MismatchWarn, fmt.Errorf("unknown mismatch policy %q", s)
	}
}

func (p MismatchPolicy) String() string {
	if p == MismatchAbort {
		return "abort"
	}
	return "warn"
}

// ROI is a region of interest in binned sensor pixels.
type ROI struct {
	X      uint32 `json:"x"`
	Y      uint32 `json:"y"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

type RunKind string

const (
	RunKindSnap        RunKind = "snap"
	RunKindSequence    RunKind = "sequence"
	RunKindPersistence RunKind = "persistence"
)

type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// AcquisitionRun records one sequence acquisition or persistence target.
type AcquisitionRun struct {
	ID               string          `json:"id"`
	Kind             RunKind         `json:"kind"`
	Cameras          []string        `json:"cameras"`
	Directory        string          `json:"directory,omitempty"`
	Format           string          `json:"format,omitempty"`
	Prefix           string          `json:"prefix,omitempty"`
	RequestedFrames  uint64          `json:"requested_frames"`
	StopOnOverflow   bool            `json:"stop_on_overflow"`
	FramesPerChannel uint64          `json:"frames_per_channel"`
	Drops            [MaxStreams]int `json:"drops"`
	Overflows        int             `json:"overflows"`
	Status           RunStatus       `json:"status"`
	Error            string          `json:"error,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          *time.Time      `json:"ended_at,omitempty"`
}

// PersistenceRequest selects where and how the runtime writes frames.
type PersistenceRequest struct {
	Format   string `json:"format"`
	Root     string `json:"root"`
	Prefix   string `json:"prefix"`
	Metadata string `json:"metadata"`
}

// SessionStats are the counters of the current or most recent streaming run.
type SessionStats struct {
	State     string          `json:"state"`
	RunID     string          `json:"run_id,omitempty"`
	Frames    uint64          `json:"frames"`
	Drops     [MaxStreams]int `json:"drops"`
	Overflows int             `json:"overflows"`
	LastError string          `json:"last_error,omitempty"`
}

// CameraProperties is the host-visible property set with allowed values.
type CameraProperties struct {
	State              string   `json:"state"`
	Initialized        bool     `json:"initialized"`
	Camera1            string   `json:"camera_1"`
	Camera2            string   `json:"camera_2"`
	AvailableCameras   []string `json:"available_cameras"`
	Channels           int      `json:"channels"`
	ChannelNames       []string `json:"channel_names"`
	CurrentChannel     int      `json:"current_channel"`
	PixelType          string   `json:"pixel_type"`
	AllowedPixelTypes  []string `json:"allowed_pixel_types"`
	Binning            int      `json:"binning"`
	AllowedBinning     []int    `json:"allowed_binning"`
	ExposureMs         float64  `json:"exposure_ms"`
	ROI                ROI      `json:"roi"`
	FullFrame          ROI      `json:"full_frame"`
	ImageWidth         int      `json:"image_width"`
	ImageHeight        int      `json:"image_height"`
	BytesPerPixel      int      `json:"bytes_per_pixel"`
	StreamFormat       string   `json:"stream_format"`
	AllowedFormats     []string `json:"allowed_formats"`
	PersistenceEnabled bool     `json:"persistence_enabled"`
	SaveRoot           string   `json:"save_root"`
	SavePrefix         string   `json:"save_prefix"`
	CurrentDirectory   string   `json:"current_directory,omitempty"`
	Metadata           string   `json:"metadata"`
}
