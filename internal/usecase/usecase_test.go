package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ekroshkin/vidwipe/internal/ports"
	"github.com/ekroshkin/vidwipe/internal/types"
)

type fakeVideo struct {
	mu sync.Mutex

	info       types.VideoInfo
	frameCount int

	hwAccel     bool
	failHWPath  bool
	nvenc       bool
	failNVENC   bool
	extractHW   []bool
	mergeNVENC  []bool
	audioOut    string
	remuxedFrom string
}

func (f *fakeVideo) Probe(context.Context, string) (types.VideoInfo, error) {
	return f.info, nil
}

func (f *fakeVideo) HasHWAccel(_ context.Context, name string) bool {
	return f.hwAccel && name == "cuda"
}

func (f *fakeVideo) HasEncoder(_ context.Context, name string) bool {
	return f.nvenc && name == "h264_nvenc"
}

func (f *fakeVideo) ExtractFrames(_ context.Context, _, framesDir string, hwAccel bool) error {
	f.mu.Lock()
	f.extractHW = append(f.extractHW, hwAccel)
	f.mu.Unlock()
	if hwAccel && f.failHWPath {
		return errors.New("cuda decode failed")
	}
	for i := 1; i <= f.frameCount; i++ {
		path := filepath.Join(framesDir, fmt.Sprintf("%d.jpg", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("frame-%d", i)), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// MergeFrames concatenates the ordered frame contents so tests can assert
// byte-level ordering of the "video".
func (f *fakeVideo) MergeFrames(_ context.Context, framesDir, outVideo string, _ float64, nvenc bool) error {
	f.mu.Lock()
	f.mergeNVENC = append(f.mergeNVENC, nvenc)
	f.mu.Unlock()
	if nvenc && f.failNVENC {
		return errors.New("nvenc encode failed")
	}
	var sb strings.Builder
	for i := 1; i <= f.frameCount; i++ {
		b, err := os.ReadFile(filepath.Join(framesDir, fmt.Sprintf("%d.jpg", i)))
		if err != nil {
			return err
		}
		sb.Write(b)
		sb.WriteByte('|')
	}
	return os.WriteFile(outVideo, []byte(sb.String()), 0o644)
}

func (f *fakeVideo) ExtractAudio(_ context.Context, _, outAudio string) error {
	f.audioOut = outAudio
	return os.WriteFile(outAudio, []byte("audio-track"), 0o644)
}

func (f *fakeVideo) Remux(_ context.Context, videoPath, audioPath, outPath string) error {
	f.remuxedFrom = videoPath
	video, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, append(video, audio...), 0o644)
}

func (f *fakeVideo) ExtractFrameAt(_ context.Context, _ string, _ float64, outImage string) error {
	return os.WriteFile(outImage, []byte("snapshot"), 0o644)
}

var _ ports.VideoTool = (*fakeVideo)(nil)

// fakeInpainter echoes the input image with a marker, fails outright, or
// cancels a context after a number of calls.
type fakeInpainter struct {
	mu          sync.Mutex
	calls       int
	fail        bool
	cancelAfter int
	cancel      context.CancelFunc
}

func (f *fakeInpainter) Inpaint(_ context.Context, image, _ []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	calls := f.calls
	f.mu.Unlock()
	if f.fail {
		return nil, errors.New("inpaint: HTTP 500 internal error")
	}
	if f.cancelAfter > 0 && calls >= f.cancelAfter && f.cancel != nil {
		f.cancel()
	}
	return append([]byte("clean:"), image...), nil
}

func (f *fakeInpainter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type env struct {
	video   *fakeVideo
	clients map[int]*fakeInpainter
	jobRoot string
	input   Input

	progress [][2]int
	logs     []string
	mu       sync.Mutex
}

func newEnv(t *testing.T, frameCount int, fps float64, segments []types.Segment, portsList []int) *env {
	t.Helper()
	tmp := t.TempDir()

	videoPath := filepath.Join(tmp, "in.mp4")
	if err := os.WriteFile(videoPath, []byte("source-video"), 0o644); err != nil {
		t.Fatalf("write video: %v", err)
	}

	e := &env{
		video: &fakeVideo{
			frameCount: frameCount,
			info: types.VideoInfo{
				DurationSec: float64(frameCount) / fps,
				FPS:         fps,
				Width:       640,
				Height:      360,
				TotalFrames: frameCount,
			},
		},
		clients: make(map[int]*fakeInpainter),
		jobRoot: filepath.Join(tmp, "jobs", "job-test"),
	}
	for _, port := range portsList {
		e.clients[port] = &fakeInpainter{}
	}

	e.input = Input{
		Config: types.ProcessConfig{
			VideoPath:   videoPath,
			OutputPath:  filepath.Join(tmp, "out", "cleaned.mp4"),
			Segments:    segments,
			WorkerPorts: portsList,
			KeepTemp:    true,
		},
		JobRoot: e.jobRoot,
	}
	return e
}

func (e *env) usecase() Usecase {
	return New(Deps{
		Video: e.video,
		NewInpainter: func(port int) ports.Inpainter {
			return e.clients[port]
		},
		Logf: func(format string, args ...any) {
			e.mu.Lock()
			e.logs = append(e.logs, fmt.Sprintf(format, args...))
			e.mu.Unlock()
		},
		OnProgress: func(done, total int) {
			e.mu.Lock()
			e.progress = append(e.progress, [2]int{done, total})
			e.mu.Unlock()
		},
	})
}

func writeMask(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "mask.png")
	if err := os.WriteFile(path, []byte("mask-bytes"), 0o644); err != nil {
		t.Fatalf("write mask: %v", err)
	}
	return path
}

func TestRunZeroSegmentsRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 5, 25, nil, []int{9001})
	e.input.Config.KeepTemp = false

	out, err := e.usecase().Run(context.Background(), e.input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// All frames passed through unchanged and in original order.
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "frame-1|frame-2|frame-3|frame-4|frame-5|"
	if string(got) != want {
		t.Fatalf("output = %q, want %q", got, want)
	}

	if calls := e.clients[9001].callCount(); calls != 0 {
		t.Fatalf("expected no inference calls, got %d", calls)
	}

	last := e.progress[len(e.progress)-1]
	if last != [2]int{5, 5} {
		t.Fatalf("final progress = %v, want (5, 5)", last)
	}

	// KeepTemp false: workspace is gone.
	if _, err := os.Stat(e.jobRoot); !os.IsNotExist(err) {
		t.Fatalf("job root should be removed, stat err=%v", err)
	}
}

// Segments [1,30] masked and [31,60] unmasked on a 60-frame 30 fps source:
// the first half is dispatched, the second half copied byte-for-byte.
func TestRunClassifiesMaskedAndPassThrough(t *testing.T) {
	t.Parallel()

	maskDir := t.TempDir()
	mask := writeMask(t, maskDir)
	segments := []types.Segment{
		types.NewSegment(1, 30, mask),
		types.NewSegment(31, 60, ""),
	}
	e := newEnv(t, 60, 30, segments, []int{9001})

	if _, err := e.usecase().Run(context.Background(), e.input); err != nil {
		t.Fatalf("run: %v", err)
	}

	if calls := e.clients[9001].callCount(); calls != 30 {
		t.Fatalf("expected 30 inference calls, got %d", calls)
	}

	outputDir := filepath.Join(e.jobRoot, "output")
	for i := 1; i <= 60; i++ {
		b, err := os.ReadFile(filepath.Join(outputDir, fmt.Sprintf("%d.jpg", i)))
		if err != nil {
			t.Fatalf("frame %d missing from output: %v", i, err)
		}
		want := fmt.Sprintf("frame-%d", i)
		if i <= 30 {
			want = "clean:" + want
		}
		if string(b) != want {
			t.Fatalf("frame %d = %q, want %q", i, b, want)
		}
	}

	last := e.progress[len(e.progress)-1]
	if last != [2]int{60, 60} {
		t.Fatalf("final progress = %v, want (60, 60)", last)
	}
}

func TestRunProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	maskDir := t.TempDir()
	mask := writeMask(t, maskDir)
	e := newEnv(t, 40, 20, []types.Segment{types.NewSegment(1, 40, mask)}, []int{9001, 9002, 9003})

	if _, err := e.usecase().Run(context.Background(), e.input); err != nil {
		t.Fatalf("run: %v", err)
	}

	prev := -1
	for _, p := range e.progress {
		if p[0] < prev {
			t.Fatalf("progress went backwards: %v", e.progress)
		}
		prev = p[0]
		if p[1] != 40 {
			t.Fatalf("total changed mid-run: %v", p)
		}
	}
	if prev != 40 {
		t.Fatalf("final done = %d, want 40", prev)
	}
}

func TestRunOneFailingUnitDoesNotCancelSiblings(t *testing.T) {
	t.Parallel()

	maskDir := t.TempDir()
	mask := writeMask(t, maskDir)
	e := newEnv(t, 10, 10, []types.Segment{types.NewSegment(1, 10, mask)}, []int{9001, 9002})
	e.clients[9002].fail = true

	_, err := e.usecase().Run(context.Background(), e.input)
	if err == nil {
		t.Fatal("expected dispatch failure")
	}

	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %T: %v", err, err)
	}
	if len(dispatchErr.Errs) != 1 {
		t.Fatalf("expected 1 unit error, got %d: %v", len(dispatchErr.Errs), dispatchErr.Errs)
	}
	if !strings.Contains(err.Error(), "port 9002") {
		t.Fatalf("error should name the failing unit: %v", err)
	}

	// The healthy unit ran its full shard: odd frames went to 9001.
	if calls := e.clients[9001].callCount(); calls != 5 {
		t.Fatalf("healthy unit made %d calls, want 5", calls)
	}
	outputDir := filepath.Join(e.jobRoot, "output")
	for _, i := range []int{1, 3, 5, 7, 9} {
		if _, err := os.Stat(filepath.Join(outputDir, fmt.Sprintf("%d.jpg", i))); err != nil {
			t.Fatalf("frame %d from healthy unit missing: %v", i, err)
		}
	}
}

func TestRunCancellationStopsDispatch(t *testing.T) {
	t.Parallel()

	maskDir := t.TempDir()
	mask := writeMask(t, maskDir)
	e := newEnv(t, 20, 10, []types.Segment{types.NewSegment(1, 20, mask)}, []int{9001})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.clients[9001].cancelAfter = 3
	e.clients[9001].cancel = cancel

	_, err := e.usecase().Run(ctx, e.input)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The flag is polled before each call: once observed, no further calls.
	if calls := e.clients[9001].callCount(); calls != 3 {
		t.Fatalf("expected exactly 3 calls before cancellation, got %d", calls)
	}
}

func TestRunPreconditions(t *testing.T) {
	t.Parallel()

	t.Run("missing video", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, 5, 25, nil, []int{9001})
		e.input.Config.VideoPath = filepath.Join(t.TempDir(), "missing.mp4")
		_, err := e.usecase().Run(context.Background(), e.input)
		var pre *PreconditionError
		if !errors.As(err, &pre) {
			t.Fatalf("expected PreconditionError, got %v", err)
		}
	})

	t.Run("no worker ports", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t, 5, 25, nil, nil)
		_, err := e.usecase().Run(context.Background(), e.input)
		var pre *PreconditionError
		if !errors.As(err, &pre) {
			t.Fatalf("expected PreconditionError, got %v", err)
		}
	})

	t.Run("missing mask file", func(t *testing.T) {
		t.Parallel()
		seg := types.NewSegment(1, 3, filepath.Join(t.TempDir(), "nope.png"))
		e := newEnv(t, 5, 25, []types.Segment{seg}, []int{9001})
		_, err := e.usecase().Run(context.Background(), e.input)
		var pre *PreconditionError
		if !errors.As(err, &pre) {
			t.Fatalf("expected PreconditionError, got %v", err)
		}
	})

	t.Run("overlapping segments", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		mask := writeMask(t, dir)
		segs := []types.Segment{
			types.NewSegment(1, 10, mask),
			types.NewSegment(10, 20, mask),
		}
		e := newEnv(t, 30, 30, segs, []int{9001})
		_, err := e.usecase().Run(context.Background(), e.input)
		var pre *PreconditionError
		if !errors.As(err, &pre) {
			t.Fatalf("expected PreconditionError, got %v", err)
		}
	})

	t.Run("segment beyond video end", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		mask := writeMask(t, dir)
		e := newEnv(t, 30, 30, []types.Segment{types.NewSegment(20, 99, mask)}, []int{9001})
		_, err := e.usecase().Run(context.Background(), e.input)
		var pre *PreconditionError
		if !errors.As(err, &pre) {
			t.Fatalf("expected PreconditionError, got %v", err)
		}
	})
}

func TestRunHardwareFallbacks(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 4, 25, nil, []int{9001})
	e.video.hwAccel = true
	e.video.failHWPath = true
	e.video.nvenc = true
	e.video.failNVENC = true

	if _, err := e.usecase().Run(context.Background(), e.input); err != nil {
		t.Fatalf("run should survive hardware path failures: %v", err)
	}

	if len(e.video.extractHW) != 2 || !e.video.extractHW[0] || e.video.extractHW[1] {
		t.Fatalf("expected hw extract then cpu retry, got %v", e.video.extractHW)
	}
	if len(e.video.mergeNVENC) != 2 || !e.video.mergeNVENC[0] || e.video.mergeNVENC[1] {
		t.Fatalf("expected nvenc merge then cpu retry, got %v", e.video.mergeNVENC)
	}
}

func TestRunRemuxesAudio(t *testing.T) {
	t.Parallel()

	e := newEnv(t, 3, 30, nil, []int{9001})
	e.video.info.HasAudio = true
	e.video.info.AudioCodec = "aac"

	out, err := e.usecase().Run(context.Background(), e.input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if !strings.HasSuffix(e.video.audioOut, "audio.aac") {
		t.Fatalf("audio extracted to %q, want audio.aac", e.video.audioOut)
	}
	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasSuffix(string(b), "audio-track") {
		t.Fatalf("output should end with remuxed audio, got %q", b)
	}
}

func TestAudioExt(t *testing.T) {
	t.Parallel()

	cases := []struct{ codec, want string }{
		{codec: "vorbis", want: "ogg"},
		{codec: "aac", want: "aac"},
		{codec: "mp3", want: "mp3"},
		{codec: "pcm_s16le", want: "pcm"},
		{codec: "", want: "audio"},
	}
	for _, tc := range cases {
		if got := audioExt(tc.codec); got != tc.want {
			t.Fatalf("audioExt(%q) = %q, want %q", tc.codec, got, tc.want)
		}
	}
}
