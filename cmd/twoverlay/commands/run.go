package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/filbertlab/twoverlay/internal/api"
	"github.com/filbertlab/twoverlay/internal/engine"
	"github.com/filbertlab/twoverlay/internal/logger"
	"github.com/filbertlab/twoverlay/internal/sched"
	"github.com/filbertlab/twoverlay/internal/window"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Track the target window and serve the overlay API",
	Long: `Start tracking the target window and serve the HTTP/WebSocket API the
overlay shell uses to register its windows.

The command returns when interrupted or, with overlay.exit_with_target set,
once the target window has appeared and then closed.`,
	Example: `  # Track the configured target
  twoverlay run

  # Track a different window on another port
  twoverlay run --title "Notepad" --process notepad --port 9000

  # Start with debug logging
  twoverlay run --log-level debug`,
	RunE: runRun,
}

var runPretty bool

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runPretty, "pretty", true, "human-readable console logs")
}

func runRun(cmd *cobra.Command, args []string) error {
	configMgr, overrides, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	cfg := configMgr.Get()

	logger.Init(logger.Options{
		Level:    cfg.LogLevel,
		Pretty:   runPretty,
		FilePath: cfg.LogFile,
		MaxBytes: cfg.LogMaxBytes,
	})
	defer logger.Close()
	log := logger.WithComponent("main")

	log.Info().
		Str("config", configMgr.GetConfigPath()).
		Str("title", cfg.Target.TitleFragment).
		Str("process", cfg.Target.ProcessName).
		Msg("Configuration loaded")

	sys, err := window.NewSystem()
	if err != nil {
		return fmt.Errorf("failed to initialize window system: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The loop outlives ctx so shutdown can still run on it.
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	defer cancelLoop()
	loop := sched.NewLoop()
	go loop.Run(loopCtx)

	eng := engine.New(configMgr, sys, loop)
	eng.SetOverrides(overrides)
	if err := eng.Start(ctx); err != nil {
		return err
	}

	server := api.NewServer(eng)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Msg("twoverlay is running, press Ctrl+C to stop")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down gracefully...")
	case <-eng.Done():
		log.Info().Msg("Target window closed, exiting")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("API server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown failed")
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Engine shutdown failed")
		if err := configMgr.SaveImmediate(); err != nil {
			log.Warn().Err(err).Msg("Failed to save config")
		}
	}
	return runErr
}
