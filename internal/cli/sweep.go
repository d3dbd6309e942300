package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/config"
	"quiz-reward-service/internal/logger"
)

// NewSweepCmd abandons expired sessions once and exits; meant for cron.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Abandon sessions whose time limit ran out",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("redis addr not configured; in-memory sessions are swept by the server")
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

			b, err := openBackends(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer b.Close()

			interval := config.TTLDuration(cfg.Engine.SweepInterval, app.DefaultSweepInterval)
			sweeper := app.NewSweeper(b.sessions, interval, cfg.Engine.SweepBatch, log)

			start := time.Now()
			n, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int("abandoned", n).Dur("took", time.Since(start)).Msg("sweep finished")
			return nil
		},
	}
}
