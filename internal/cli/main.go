package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	logger := newLogger()

	root := &cobra.Command{
		Use:          "vidwipe",
		Short:        "Remove watermarks from videos using local lama-cleaner workers",
		SilenceUsage: true,
	}
	root.SetOut(os.Stdout)
	root.SetErr(os.Stderr)
	root.SilenceErrors = true

	root.AddCommand(
		newRunCmd(logger),
		newWorkersCmd(logger),
		newSnapshotCmd(logger),
	)

	if err := root.Execute(); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("cancelled")
			os.Exit(130)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func ffmpegPath() string  { return getenvDefault("VIDWIPE_FFMPEG", "ffmpeg") }
func ffprobePath() string { return getenvDefault("VIDWIPE_FFPROBE", "ffprobe") }
