package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ekroshkin/vidwipe/internal/domain/frames"
	"github.com/ekroshkin/vidwipe/internal/domain/timecode"
	"github.com/ekroshkin/vidwipe/internal/ports"
	"github.com/ekroshkin/vidwipe/internal/types"
)

// PreconditionError is a validation failure raised before any filesystem
// side effects.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string { return "precondition: " + e.Err.Error() }
func (e *PreconditionError) Unwrap() error { return e.Err }

func preconditionf(format string, args ...any) error {
	return &PreconditionError{Err: fmt.Errorf(format, args...)}
}

// DispatchError aggregates the failures of all dispatch units. Units run to
// completion independently, so every unit's error is collected.
type DispatchError struct {
	Errs []error
}

func (e *DispatchError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return "frame dispatch failed:\n" + strings.Join(msgs, "\n")
}

func (e *DispatchError) Unwrap() []error { return e.Errs }

type Deps struct {
	Video ports.VideoTool
	// NewInpainter builds the per-port inference client for a dispatch unit.
	NewInpainter func(port int) ports.Inpainter
	Logf         func(format string, args ...any)
	OnProgress   func(done, total int)
}

type Usecase struct{ d Deps }

func New(d Deps) Usecase {
	if d.Logf == nil {
		d.Logf = func(string, ...any) {}
	}
	if d.OnProgress == nil {
		d.OnProgress = func(int, int) {}
	}
	return Usecase{d: d}
}

type Input struct {
	Config types.ProcessConfig
	// JobRoot is this run's private workspace directory.
	JobRoot string
}

// Run executes one full pipeline: validate, probe, extract, classify,
// dispatch, merge, remux audio, cleanup. Returns the final output path.
func (u Usecase) Run(ctx context.Context, in Input) (string, error) {
	cfg := in.Config
	if err := u.validate(cfg); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := u.d.Video.Probe(ctx, cfg.VideoPath)
	if err != nil {
		return "", err
	}
	u.d.Logf("video info: %dx%d, %.3f fps, %.2fs, %d frames",
		info.Width, info.Height, info.FPS, info.DurationSec, info.TotalFrames)

	sorted, err := frames.SortSegments(cfg.Segments, info.TotalFrames)
	if err != nil {
		return "", &PreconditionError{Err: err}
	}

	inputDir := filepath.Join(in.JobRoot, "input")
	outputDir := filepath.Join(in.JobRoot, "output")
	for _, dir := range []string{inputDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create job workspace: %w", err)
		}
	}

	if err := u.extractFrames(ctx, cfg.VideoPath, inputDir); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	frameFiles, err := listFrameFiles(inputDir)
	if err != nil {
		return "", err
	}
	if len(frameFiles) == 0 {
		return "", errors.New("no frames extracted from input video")
	}

	progress := newTracker(len(frameFiles), u.d.OnProgress)
	progress.report()

	tasks, copied, err := u.classify(frameFiles, outputDir, info.FPS, sorted)
	if err != nil {
		return "", err
	}
	progress.addBulk(copied)
	u.d.Logf("frame dispatch: total=%d, masked=%d, copied=%d", len(frameFiles), len(tasks), copied)

	if len(tasks) > 0 {
		if err := u.dispatch(ctx, tasks, cfg.WorkerPorts, progress); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	merged := filepath.Join(in.JobRoot, "video_cleaned.mp4")
	if err := u.mergeFrames(ctx, outputDir, merged, info.FPS); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := u.remuxAudio(ctx, cfg.VideoPath, merged, cfg.OutputPath, info); err != nil {
		return "", err
	}
	u.d.Logf("output saved: %s", cfg.OutputPath)

	if cfg.KeepTemp {
		u.d.Logf("temporary job folder kept: %s", in.JobRoot)
	} else {
		if err := os.RemoveAll(in.JobRoot); err != nil {
			u.d.Logf("failed to remove job folder %s: %v", in.JobRoot, err)
		} else {
			u.d.Logf("temporary job folder removed: %s", in.JobRoot)
		}
	}
	return cfg.OutputPath, nil
}

func (u Usecase) validate(cfg types.ProcessConfig) error {
	if cfg.VideoPath == "" {
		return preconditionf("video path is empty")
	}
	if _, err := os.Stat(cfg.VideoPath); err != nil {
		return preconditionf("video file: %w", err)
	}
	if cfg.OutputPath == "" {
		return preconditionf("output path is empty")
	}
	if len(cfg.WorkerPorts) == 0 {
		return preconditionf("no worker ports available")
	}
	for _, seg := range cfg.Segments {
		if err := seg.Validate(); err != nil {
			return &PreconditionError{Err: err}
		}
		if seg.MaskPath != "" {
			if _, err := os.Stat(seg.MaskPath); err != nil {
				return preconditionf("segment %s mask: %w", seg.ID, err)
			}
		}
	}
	return nil
}

// extractFrames tries the hardware decode path first and falls back to CPU
// transparently; only a CPU-path failure is fatal.
func (u Usecase) extractFrames(ctx context.Context, videoPath, inputDir string) error {
	u.d.Logf("extracting frames...")
	if u.d.Video.HasHWAccel(ctx, "cuda") {
		u.d.Logf("frame extraction: CUDA decode path")
		if err := u.d.Video.ExtractFrames(ctx, videoPath, inputDir, true); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			u.d.Logf("CUDA extraction failed, falling back to CPU path: %v", err)
			// Partial hardware output would collide with the CPU pass.
			if err := clearDir(inputDir); err != nil {
				return err
			}
		}
	}
	u.d.Logf("frame extraction: CPU path")
	return u.d.Video.ExtractFrames(ctx, videoPath, inputDir, false)
}

func (u Usecase) classify(
	frameFiles []string,
	outputDir string,
	fps float64,
	sorted []types.Segment,
) ([]types.FrameTask, int, error) {
	var tasks []types.FrameTask
	copied := 0

	for _, framePath := range frameFiles {
		idx, err := frames.Index(framePath)
		if err != nil {
			return nil, 0, err
		}
		offset := timecode.FrameToSeconds(idx, fps)
		mask := frames.MaskForTime(offset, sorted, fps)
		destPath := filepath.Join(outputDir, filepath.Base(framePath))

		if mask == "" {
			if err := copyFile(framePath, destPath); err != nil {
				return nil, 0, fmt.Errorf("copy pass-through frame %d: %w", idx, err)
			}
			copied++
			continue
		}
		tasks = append(tasks, types.FrameTask{SourcePath: framePath, DestPath: destPath, MaskPath: mask})
	}
	return tasks, copied, nil
}

// dispatch fans tasks out to one unit per non-empty port shard. Units run to
// completion or local failure independently; their errors are joined after
// all finish.
func (u Usecase) dispatch(ctx context.Context, tasks []types.FrameTask, workerPorts []int, progress *tracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	maskCache, err := loadMasks(tasks)
	if err != nil {
		return err
	}

	u.d.Logf("processing %d masked frames on %d worker(s)...", len(tasks), len(workerPorts))
	shards := frames.Shard(tasks, workerPorts)

	var wg sync.WaitGroup
	unitErrs := make([]error, len(shards))
	for i, shard := range shards {
		if len(shard) == 0 {
			continue
		}
		wg.Add(1)
		go func(unit int, port int, shard []types.FrameTask) {
			defer wg.Done()
			if err := u.runUnit(ctx, port, shard, maskCache, progress); err != nil {
				unitErrs[unit] = fmt.Errorf("worker %d (port %d): %w", unit+1, port, err)
			}
		}(i, workerPorts[i], shard)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	for _, err := range unitErrs {
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &DispatchError{Errs: errs}
	}
	return nil
}

// runUnit processes one port's shard sequentially over a single
// connection-reusing client.
func (u Usecase) runUnit(ctx context.Context, port int, shard []types.FrameTask, maskCache map[string][]byte, progress *tracker) error {
	client := u.d.NewInpainter(port)
	u.d.Logf("worker started on port %d, frames=%d", port, len(shard))

	for _, task := range shard {
		if err := ctx.Err(); err != nil {
			return err
		}
		image, err := os.ReadFile(task.SourcePath)
		if err != nil {
			return fmt.Errorf("read frame %s: %w", filepath.Base(task.SourcePath), err)
		}
		result, err := client.Inpaint(ctx, image, maskCache[task.MaskPath])
		if err != nil {
			return err
		}
		if err := os.WriteFile(task.DestPath, result, 0o644); err != nil {
			return fmt.Errorf("write frame %s: %w", filepath.Base(task.DestPath), err)
		}
		progress.addOne()
	}

	u.d.Logf("worker finished on port %d", port)
	return nil
}

// mergeFrames mirrors the extraction fallback policy on the encode side.
func (u Usecase) mergeFrames(ctx context.Context, outputDir, merged string, fps float64) error {
	u.d.Logf("merging cleaned frames...")
	if u.d.Video.HasEncoder(ctx, "h264_nvenc") {
		u.d.Logf("frame merge: NVENC path")
		if err := u.d.Video.MergeFrames(ctx, outputDir, merged, fps, true); err == nil {
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			u.d.Logf("NVENC merge failed, falling back to libx264: %v", err)
		}
	}
	u.d.Logf("frame merge: libx264 path")
	return u.d.Video.MergeFrames(ctx, outputDir, merged, fps, false)
}

func (u Usecase) remuxAudio(ctx context.Context, sourceVideo, merged, outputPath string, info types.VideoInfo) error {
	if !info.HasAudio {
		u.d.Logf("input video has no audio stream, copying video output as-is")
		return copyFile(merged, outputPath)
	}

	audioPath := filepath.Join(filepath.Dir(merged), "audio."+audioExt(info.AudioCodec))
	u.d.Logf("extracting original audio stream (%s)...", info.AudioCodec)
	if err := u.d.Video.ExtractAudio(ctx, sourceVideo, audioPath); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	u.d.Logf("merging cleaned video + original audio...")
	return u.d.Video.Remux(ctx, merged, audioPath, outputPath)
}

// audioExt picks a container extension that can hold a stream-copied track
// of the given codec.
func audioExt(codec string) string {
	if codec == "" {
		return "audio"
	}
	if strings.HasPrefix(codec, "vor") {
		return "ogg"
	}
	if len(codec) > 3 {
		return codec[:3]
	}
	return codec
}

// loadMasks reads every distinct mask file once, before the units start, so
// the cache is read-only during dispatch.
func loadMasks(tasks []types.FrameTask) (map[string][]byte, error) {
	cache := make(map[string][]byte)
	for _, task := range tasks {
		if _, ok := cache[task.MaskPath]; ok {
			continue
		}
		data, err := os.ReadFile(task.MaskPath)
		if err != nil {
			return nil, fmt.Errorf("read mask %s: %w", task.MaskPath, err)
		}
		cache[task.MaskPath] = data
	}
	return cache, nil
}

func listFrameFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list extracted frames: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	frames.SortPaths(paths)
	return paths, nil
}

func clearDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
