package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ekroshkin/vidwipe/internal/domain/timecode"
	"github.com/ekroshkin/vidwipe/internal/types"
)

// ToolError wraps a failed media-tool invocation with its combined output.
type ToolError struct {
	Op     string
	Err    error
	Output string
}

func (e *ToolError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 2000 {
		out = out[:2000]
	}
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Op, e.Err, out)
}

func (e *ToolError) Unwrap() error { return e.Err }

type Adapter struct {
	ffmpeg  string
	ffprobe string
}

func New(ffmpegPath, ffprobePath string) *Adapter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Adapter{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

// Check verifies both binaries are invocable.
func (a *Adapter) Check() error {
	for _, bin := range []string{a.ffmpeg, a.ffprobe} {
		if strings.ContainsRune(bin, filepath.Separator) {
			if _, err := os.Stat(bin); err != nil {
				return fmt.Errorf("media tool not found: %w", err)
			}
			continue
		}
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("media tool not found in PATH: %w", err)
		}
	}
	return nil
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	AvgFrameRate string `json:"avg_frame_rate,omitempty"`
	NbFrames     string `json:"nb_frames,omitempty"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

func (a *Adapter) Probe(ctx context.Context, videoPath string) (types.VideoInfo, error) {
	out, err := a.runCapture(ctx, "ffprobe", a.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		videoPath,
	)
	if err != nil {
		return types.VideoInfo{}, err
	}
	return parseProbeOutput([]byte(out))
}

func parseProbeOutput(data []byte) (types.VideoInfo, error) {
	var raw probeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.VideoInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := types.VideoInfo{}
	if raw.Format.Duration != "" {
		d, err := strconv.ParseFloat(raw.Format.Duration, 64)
		if err != nil {
			return types.VideoInfo{}, fmt.Errorf("parse duration %q: %w", raw.Format.Duration, err)
		}
		info.DurationSec = d
	}

	var videoSeen bool
	for _, st := range raw.Streams {
		switch st.CodecType {
		case "video":
			if videoSeen {
				continue
			}
			videoSeen = true
			fps, err := timecode.ParseFraction(st.AvgFrameRate)
			if err != nil {
				return types.VideoInfo{}, fmt.Errorf("parse frame rate: %w", err)
			}
			info.FPS = fps
			info.Width = st.Width
			info.Height = st.Height
			if n, err := strconv.Atoi(st.NbFrames); err == nil && n > 0 {
				info.TotalFrames = n
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = st.CodecName
			}
		}
	}
	if !videoSeen {
		return types.VideoInfo{}, fmt.Errorf("no video stream found")
	}
	if info.FPS <= 0 {
		return types.VideoInfo{}, fmt.Errorf("invalid frame rate %v", info.FPS)
	}
	if info.TotalFrames == 0 {
		// Some containers omit nb_frames; estimate from duration.
		info.TotalFrames = int(math.Round(info.DurationSec * info.FPS))
		if info.TotalFrames < 1 {
			info.TotalFrames = 1
		}
	}
	return info, nil
}

// HasHWAccel reports whether the tool lists the given hardware decoder
// capability. Probe failures read as "not available".
func (a *Adapter) HasHWAccel(ctx context.Context, name string) bool {
	out, err := a.runCapture(ctx, "ffmpeg hwaccels", a.ffmpeg, "-hide_banner", "-hwaccels")
	if err != nil {
		return false
	}
	return containsToken(out, name)
}

func (a *Adapter) HasEncoder(ctx context.Context, name string) bool {
	out, err := a.runCapture(ctx, "ffmpeg encoders", a.ffmpeg, "-hide_banner", "-encoders")
	if err != nil {
		return false
	}
	return containsToken(out, name)
}

func containsToken(output, token string) bool {
	return strings.Contains(strings.ToLower(output), strings.ToLower(token))
}

// ExtractFrames decodes every frame to framesDir as 1-based "%d.jpg".
func (a *Adapter) ExtractFrames(ctx context.Context, videoPath, framesDir string, hwAccel bool) error {
	pattern := filepath.Join(framesDir, "%d.jpg")
	args := []string{}
	if hwAccel {
		args = append(args, "-hwaccel", "cuda")
	}
	args = append(args, "-i", videoPath, "-q:v", "1", pattern)
	_, err := a.runCapture(ctx, "ffmpeg extract frames", a.ffmpeg, args...)
	return err
}

// MergeFrames re-encodes the numbered frame sequence at the source rate.
func (a *Adapter) MergeFrames(ctx context.Context, framesDir, outVideo string, fps float64, nvenc bool) error {
	pattern := filepath.Join(framesDir, "%d.jpg")
	fpsText := strconv.FormatFloat(fps, 'f', 6, 64)

	var args []string
	if nvenc {
		args = []string{
			"-framerate", fpsText,
			"-i", pattern,
			"-c:v", "h264_nvenc",
			"-preset", "p5",
			"-rc", "vbr",
			"-cq", "7",
			"-b:v", "0",
			"-pix_fmt", "yuv420p",
			"-y", outVideo,
		}
	} else {
		args = []string{
			"-framerate", fpsText,
			"-i", pattern,
			"-c:v", "libx264",
			"-crf", "7",
			"-pix_fmt", "yuv420p",
			"-y", outVideo,
		}
	}
	_, err := a.runCapture(ctx, "ffmpeg merge frames", a.ffmpeg, args...)
	return err
}

// ExtractAudio stream-copies the audio track without re-encoding.
func (a *Adapter) ExtractAudio(ctx context.Context, videoPath, outAudio string) error {
	_, err := a.runCapture(ctx, "ffmpeg extract audio", a.ffmpeg,
		"-i", videoPath,
		"-vn",
		"-acodec", "copy",
		"-y", outAudio,
	)
	return err
}

// Remux combines the video stream of videoPath with the audio track.
func (a *Adapter) Remux(ctx context.Context, videoPath, audioPath, outPath string) error {
	_, err := a.runCapture(ctx, "ffmpeg remux", a.ffmpeg,
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-map", "0:v",
		"-map", "1:a",
		"-y", outPath,
	)
	return err
}

// ExtractFrameAt grabs a single frame at the given offset, e.g. as a
// reference image to draw a mask against.
func (a *Adapter) ExtractFrameAt(ctx context.Context, videoPath string, atSec float64, outImage string) error {
	_, err := a.runCapture(ctx, "ffmpeg extract frame", a.ffmpeg,
		"-ss", strconv.FormatFloat(math.Max(0, atSec), 'f', 3, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y", outImage,
	)
	return err
}

func (a *Adapter) runCapture(ctx context.Context, op, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	b, err := cmd.CombinedOutput()
	if err != nil {
		return "", &ToolError{Op: op, Err: err, Output: string(b)}
	}
	return string(b), nil
}
