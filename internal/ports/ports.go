package ports

import (
	"context"

	"github.com/ekroshkin/vidwipe/internal/types"
)

// VideoTool abstracts the external media tool (ffmpeg/ffprobe).
type VideoTool interface {
	Probe(ctx context.Context, videoPath string) (types.VideoInfo, error)
	HasHWAccel(ctx context.Context, name string) bool
	HasEncoder(ctx context.Context, name string) bool
	ExtractFrames(ctx context.Context, videoPath, framesDir string, hwAccel bool) error
	MergeFrames(ctx context.Context, framesDir, outVideo string, fps float64, nvenc bool) error
	ExtractAudio(ctx context.Context, videoPath, outAudio string) error
	Remux(ctx context.Context, videoPath, audioPath, outPath string) error
	ExtractFrameAt(ctx context.Context, videoPath string, atSec float64, outImage string) error
}

// Inpainter is one worker's inference endpoint.
type Inpainter interface {
	Inpaint(ctx context.Context, image, mask []byte) ([]byte, error)
}
