package cli

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ekroshkin/vidwipe/internal/netport"
	"github.com/ekroshkin/vidwipe/internal/pool"
)

// workers starts a standalone fleet and holds it until interrupted, for
// running several `vidwipe run` invocations against the same workers.
func newWorkersCmd(logger zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Start a lama-cleaner worker fleet and keep it running until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			instances, _ := cmd.Flags().GetInt("instances")
			basePort, _ := cmd.Flags().GetInt("base-port")
			lamaExe, _ := cmd.Flags().GetString("lama")
			workspace, _ := cmd.Flags().GetString("workspace")
			reclaim, _ := cmd.Flags().GetBool("reclaim-ports")
			startTimeout, _ := cmd.Flags().GetDuration("start-timeout")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var policy netport.ConflictPolicy = netport.DeclinePolicy{}
			if reclaim {
				policy = netport.AcceptPolicy{}
			}

			mgr, err := pool.New(pool.Options{
				Exe:          lamaExe,
				BasePort:     basePort,
				LogsDir:      filepath.Join(workspace, "lama_logs"),
				StartTimeout: startTimeout,
				Policy:       policy,
				Logf:         func(format string, args ...any) { logger.Info().Msgf(format, args...) },
			}, logger)
			if err != nil {
				return err
			}
			defer mgr.StopAll()

			if err := mgr.SetCount(instances); err != nil {
				return err
			}
			logger.Info().Ints("ports", mgr.GetLivePorts()).Msg("worker fleet ready, press Ctrl+C to stop")

			<-ctx.Done()
			logger.Info().Msg("shutting down workers")
			return nil
		},
	}

	cmd.Flags().Int("instances", 1, "Number of worker instances to start")
	cmd.Flags().Int("base-port", pool.DefaultBasePort, "First worker port")
	cmd.Flags().String("lama", os.Getenv("VIDWIPE_LAMA"), "Path to the lama-cleaner executable")
	cmd.Flags().String("workspace", ".workspace", "Directory for worker logs")
	cmd.Flags().Bool("reclaim-ports", false, "Terminate our own stray workers occupying wanted ports")
	cmd.Flags().Duration("start-timeout", 60*time.Second, "Worker readiness timeout")

	return cmd
}
