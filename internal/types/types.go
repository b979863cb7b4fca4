package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Segment is a contiguous frame range with an optional inpainting mask.
// Frame indices are 1-based and inclusive on both ends.
type Segment struct {
	StartFrame int
	EndFrame   int
	MaskPath   string
	ID         string
}

func NewSegment(startFrame, endFrame int, maskPath string) Segment {
	return Segment{
		StartFrame: startFrame,
		EndFrame:   endFrame,
		MaskPath:   maskPath,
		ID:         uuid.NewString()[:8],
	}
}

func (s Segment) Validate() error {
	if s.StartFrame < 1 {
		return fmt.Errorf("segment %s: start frame must be >= 1, got %d", s.ID, s.StartFrame)
	}
	if s.EndFrame < s.StartFrame {
		return fmt.Errorf("segment %s: end frame %d is before start frame %d", s.ID, s.EndFrame, s.StartFrame)
	}
	return nil
}

// Overlaps reports whether two segments share at least one frame.
func (s Segment) Overlaps(o Segment) bool {
	return s.StartFrame <= o.EndFrame && o.StartFrame <= s.EndFrame
}

// Window returns the half-open time window [start, end) in seconds covered
// by the segment at the given frame rate. Frame i starts at (i-1)/fps, so
// the window closes where frame EndFrame ends. Membership tests must go
// through this single conversion; frame bounds and seconds are never mixed.
func (s Segment) Window(fps float64) (startSec, endSec float64) {
	return float64(s.StartFrame-1) / fps, float64(s.EndFrame) / fps
}

// VideoInfo is the result of probing a source video. Read-only after probe.
type VideoInfo struct {
	DurationSec float64
	FPS         float64
	Width       int
	Height      int
	TotalFrames int
	HasAudio    bool
	AudioCodec  string
}

// ProcessConfig is one full pipeline run request. Immutable once a run starts.
type ProcessConfig struct {
	VideoPath   string
	OutputPath  string
	Segments    []Segment
	WorkerPorts []int
	KeepTemp    bool
}

// FrameTask is a single frame that needs inpainting, consumed by exactly one
// dispatch unit.
type FrameTask struct {
	SourcePath string
	DestPath   string
	MaskPath   string
}
