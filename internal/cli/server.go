package cli

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/config"
	"quiz-reward-service/internal/logger"
	transport "quiz-reward-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "write the catalog's campaigns and tiers to the durable stores on boot")
	return cmd
}

func runServer(ctx context.Context, configPath, portFlag string, seed bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, log, seed)
	if err != nil {
		log.Error().Err(err).Msg("backend setup failed")
		return err
	}
	defer b.Close()

	rngSeed := cfg.Engine.Seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}
	pool := app.NewQuestionPool(b.campaigns, rand.NewSource(rngSeed), cfg.Engine.UniformPoolFactor)
	ledger := app.NewRewardLedger(b.rewards, app.RandomCodes(cfg.Engine.CodeLength), cfg.Engine.CodeAttempts, log)
	service := app.NewSessionService(b.campaigns, pool, b.sessions, ledger, log,
		app.WithFinalizeAttempts(cfg.Engine.FinalizeAttempts))

	sweepInterval := config.TTLDuration(cfg.Engine.SweepInterval, app.DefaultSweepInterval)
	sweeper := app.NewSweeper(b.sessions, sweepInterval, cfg.Engine.SweepBatch, log)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Start(ctx)
	}()

	router := transport.NewRouter(service, log, transport.RouterConfig{
		Mode:           cfg.Server.Mode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", finalPort).Msg("starting quiz reward service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			log.Error().Err(err).Msg("server failed")
			stop()
			<-sweepDone
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	<-sweepDone
	return err
}
