package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ekroshkin/vidwipe/internal/jobfile"
	"github.com/ekroshkin/vidwipe/internal/netport"
	"github.com/ekroshkin/vidwipe/internal/pipeline"
	"github.com/ekroshkin/vidwipe/internal/pool"
	"github.com/ekroshkin/vidwipe/internal/ports/adapters/ffmpeg"
	"github.com/ekroshkin/vidwipe/internal/types"
)

func newRunCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Inpaint the masked segments of a video and rebuild it with its audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(cmd, args[0], logger)
		},
	}

	cmd.Flags().String("job", "", "YAML job file listing masked segments")
	cmd.Flags().String("out", "", "Output video path (default: <input>.cleaned.mp4)")
	cmd.Flags().Int("instances", 1, "Number of worker instances to start")
	cmd.Flags().Int("base-port", pool.DefaultBasePort, "First worker port")
	cmd.Flags().String("lama", os.Getenv("VIDWIPE_LAMA"), "Path to the lama-cleaner executable")
	cmd.Flags().String("workspace", ".workspace", "Directory for job workspaces and worker logs")
	cmd.Flags().Bool("keep-temp", false, "Keep the job workspace after the run")
	cmd.Flags().Bool("reclaim-ports", false, "Terminate our own stray workers occupying wanted ports")
	cmd.Flags().Duration("start-timeout", 60*time.Second, "Worker readiness timeout")
	_ = cmd.MarkFlagRequired("job")

	return cmd
}

func runProcess(cmd *cobra.Command, input string, logger zerolog.Logger) error {
	jobPath, _ := cmd.Flags().GetString("job")
	outPath, _ := cmd.Flags().GetString("out")
	instances, _ := cmd.Flags().GetInt("instances")
	basePort, _ := cmd.Flags().GetInt("base-port")
	lamaExe, _ := cmd.Flags().GetString("lama")
	workspace, _ := cmd.Flags().GetString("workspace")
	keepTemp, _ := cmd.Flags().GetBool("keep-temp")
	reclaim, _ := cmd.Flags().GetBool("reclaim-ports")
	startTimeout, _ := cmd.Flags().GetDuration("start-timeout")

	absIn, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = strings.TrimSuffix(absIn, filepath.Ext(absIn)) + ".cleaned.mp4"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job, err := jobfile.Load(jobPath)
	if err != nil {
		return err
	}

	v := ffmpeg.New(ffmpegPath(), ffprobePath())
	info, err := v.Probe(ctx, absIn)
	if err != nil {
		return err
	}
	logger.Info().
		Int("width", info.Width).Int("height", info.Height).
		Float64("fps", info.FPS).Int("frames", info.TotalFrames).
		Msg("probed input")

	segments, err := job.Resolve(info)
	if err != nil {
		return err
	}

	var policy netport.ConflictPolicy = netport.DeclinePolicy{}
	if reclaim {
		policy = netport.AcceptPolicy{}
	}

	logf := func(format string, args ...any) { logger.Info().Msgf(format, args...) }

	mgr, err := pool.New(pool.Options{
		Exe:          lamaExe,
		BasePort:     basePort,
		LogsDir:      filepath.Join(workspace, "lama_logs"),
		StartTimeout: startTimeout,
		Policy:       policy,
		Logf:         logf,
	}, logger)
	if err != nil {
		return err
	}
	defer mgr.StopAll()

	if err := mgr.SetCount(instances); err != nil {
		return err
	}

	progress := &progressRenderer{}
	result, err := pipeline.Run(ctx, pipeline.Config{
		Process: types.ProcessConfig{
			VideoPath:   absIn,
			OutputPath:  outPath,
			Segments:    segments,
			WorkerPorts: mgr.GetLivePorts(),
			KeepTemp:    keepTemp,
		},
		WorkspaceDir: workspace,
		FFmpegPath:   ffmpegPath(),
		FFprobePath:  ffprobePath(),
		Logf:         logf,
		OnProgress:   progress.update,
	})
	if err != nil {
		return err
	}
	progress.finish()

	logger.Info().Str("output", result).Msg("done")
	return nil
}

// progressRenderer bridges pipeline progress callbacks, which may arrive
// from several dispatch units, to a single terminal bar.
type progressRenderer struct {
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func (p *progressRenderer) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar == nil {
		p.bar = progressbar.NewOptions(total,
			progressbar.OptionSetDescription("frames"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(done)
}

func (p *progressRenderer) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
