package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/softdim/softdim/internal/api"
	"github.com/softdim/softdim/internal/capture"
	"github.com/softdim/softdim/internal/config"
	"github.com/softdim/softdim/internal/logger"
	"github.com/softdim/softdim/internal/luminance"
	"github.com/softdim/softdim/internal/overlay"
	"github.com/softdim/softdim/internal/scheduler"
	"github.com/softdim/softdim/internal/timing"
	"github.com/softdim/softdim/internal/window"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the softdim daemon",
	Long: `Start the dimming daemon: window tracking, brightness analysis, overlay
reconciliation, and the HTTP API.`,
	Example: `  # Start with defaults
  softdim run

  # Start with a custom API port
  softdim run --port 9090

  # Start with a specific config file
  softdim run --config /path/to/config.yaml

  # Start with debug logging
  softdim run --log-level debug`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}
	defer configMgr.Close()

	cfg := configMgr.Get()
	if viper.IsSet("log_level") && viper.GetString("log_level") != "" {
		cfg.LogLevel = viper.GetString("log_level")
	}
	if viper.IsSet("server_port") && viper.GetInt("server_port") > 0 {
		cfg.ServerPort = viper.GetInt("server_port")
	}
	logger.Init(cfg.LogLevel, true)

	log := logger.WithComponent("daemon")
	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Starting softdim")

	windowProvider, err := window.NewX11Provider()
	if err != nil {
		return fmt.Errorf("failed to initialize window provider: %w", err)
	}
	defer windowProvider.Close()
	if err := windowProvider.Watch(); err != nil {
		return fmt.Errorf("failed to watch window events: %w", err)
	}

	capturer, err := capture.NewX11Capturer()
	if err != nil {
		return fmt.Errorf("failed to initialize capturer: %w", err)
	}
	defer capturer.Close()

	factory, err := overlay.NewX11ResourceFactory(windowProvider.Conn(), windowProvider.Screen())
	if err != nil {
		return fmt.Errorf("failed to initialize overlay factory: %w", err)
	}

	clock := timing.SystemClock{}
	engine := overlay.NewEngine(factory, clock)

	// Desktop-switch signals: X11 property changes always, KWin D-Bus when
	// available.
	desktopSwitches := windowProvider.DesktopSwitches()
	if kwin, err := window.NewKWinDesktopSignals(); err == nil {
		defer kwin.Close()
		desktopSwitches = window.MergeDesktopSwitches(
			windowProvider.DesktopSwitches(), kwin.DesktopSwitches())
	} else {
		log.Debug().Err(err).Msg("KWin desktop signals unavailable")
	}

	sched := scheduler.New(scheduler.Deps{
		Config:          configMgr,
		Windows:         windowProvider,
		Displays:        windowProvider,
		Capturer:        capturer,
		Detector:        luminance.NewGridDetector(),
		Engine:          engine,
		Clock:           clock,
		FocusEvents:     windowProvider.FocusEvents(),
		DesktopSwitches: desktopSwitches,
	})

	configMgr.OnChange(func(config.Config) { sched.Reconfigure() })
	if err := configMgr.Watch(); err != nil {
		log.Warn().Err(err).Msg("Config file watching unavailable")
	}

	sched.Start()
	defer sched.Shutdown()

	server := api.NewServer(sched, configMgr, windowProvider)
	go func() {
		if err := server.Start(cfg.ServerPort); err != nil {
			log.Error().Err(err).Msg("API server exited")
		}
	}()

	log.Info().Int("port", cfg.ServerPort).Msg("softdim is running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("Shutting down")
	return nil
}
