package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ekroshkin/vidwipe/internal/ports"
	"github.com/ekroshkin/vidwipe/internal/ports/adapters/ffmpeg"
	"github.com/ekroshkin/vidwipe/internal/ports/adapters/lama"
	"github.com/ekroshkin/vidwipe/internal/types"
	"github.com/ekroshkin/vidwipe/internal/usecase"
)

type Config struct {
	Process types.ProcessConfig

	// WorkspaceDir is the base directory for job workspaces. If empty,
	// defaults to ".workspace".
	WorkspaceDir string

	FFmpegPath  string
	FFprobePath string

	Logf       func(format string, args ...any)
	OnProgress func(done, total int)
}

func (c Config) Validate() error {
	if c.Process.VideoPath == "" {
		return errors.New("input video is empty")
	}
	if _, err := os.Stat(c.Process.VideoPath); err != nil {
		return fmt.Errorf("stat input: %w", err)
	}
	if c.Process.OutputPath == "" {
		return errors.New("output path is empty")
	}
	if len(c.Process.WorkerPorts) == 0 {
		return errors.New("no worker ports supplied")
	}
	for _, seg := range c.Process.Segments {
		if err := seg.Validate(); err != nil {
			return err
		}
	}
	return ffmpeg.New(c.FFmpegPath, c.FFprobePath).Check()
}

// Run wires the adapters and executes one pipeline run, returning the final
// output path.
func Run(ctx context.Context, cfg Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	logf := cfg.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}

	v := ffmpeg.New(cfg.FFmpegPath, cfg.FFprobePath)

	base := cfg.WorkspaceDir
	if base == "" {
		base = ".workspace"
	}
	jobRoot := buildJobRoot(base, cfg.Process.VideoPath, time.Now().UTC())
	logf("preparing workspace")
	if err := os.MkdirAll(jobRoot, 0o755); err != nil {
		return "", err
	}
	logf("job workspace: %s", jobRoot)

	uc := usecase.New(usecase.Deps{
		Video: v,
		NewInpainter: func(port int) ports.Inpainter {
			return lama.New(port)
		},
		Logf:       logf,
		OnProgress: cfg.OnProgress,
	})

	return uc.Run(ctx, usecase.Input{Config: cfg.Process, JobRoot: jobRoot})
}

// buildJobRoot names the per-run workspace so that concurrent runs never
// collide: timestamp plus a short seed hash.
func buildJobRoot(base, videoPath string, now time.Time) string {
	ts := now.Format("20060102-150405")
	seed := fmt.Sprintf("%s|%d", videoPath, now.UnixNano())
	return filepath.Join(base, "jobs", fmt.Sprintf("job-%s-%s", ts, hash(seed)[:6]))
}

func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}

// ensure the adapters satisfy their ports
var _ ports.VideoTool = (*ffmpeg.Adapter)(nil)
var _ ports.Inpainter = (*lama.Client)(nil)
