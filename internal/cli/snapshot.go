package cli

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ekroshkin/vidwipe/internal/domain/timecode"
	"github.com/ekroshkin/vidwipe/internal/ports/adapters/ffmpeg"
)

// snapshot grabs a single reference frame, the usual starting point for
// drawing a mask image.
func newSnapshotCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <input>",
		Short: "Extract one reference frame to draw a mask against",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			at, _ := cmd.Flags().GetString("at")
			out, _ := cmd.Flags().GetString("out")

			atSec, err := timecode.ParseTimeText(at)
			if err != nil {
				return err
			}

			absIn, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(absIn, filepath.Ext(absIn)) + ".frame.jpg"
			}

			v := ffmpeg.New(ffmpegPath(), ffprobePath())
			if err := v.ExtractFrameAt(cmd.Context(), absIn, atSec, out); err != nil {
				return err
			}
			logger.Info().Str("frame", out).Str("at", timecode.FormatSeconds(atSec)).Msg("snapshot saved")
			return nil
		},
	}

	cmd.Flags().String("at", "0", "Timestamp to snapshot (seconds or HH:MM:SS.mmm)")
	cmd.Flags().String("out", "", "Output image path (default: <input>.frame.jpg)")

	return cmd
}
