// oscmap maps incoming OSC messages onto scene properties.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oscmap/oscmap/internal/config"
	"github.com/oscmap/oscmap/internal/svc"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile    string
	logLevel   string
	socketFlag string
)

func main() {
	// Started by the service manager
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "oscmap",
		Short: "oscmap - OSC to scene property mapper",
		Long: `oscmap receives OSC messages over UDP and drives scene properties
from them: shape keys, bone rotations and any property reachable by data path.

QUICK START:

  # Run the daemon in the foreground
  oscmap run

  # Add the 52 ARKit face shape keys for object "Face"
  oscmap mapping face Face

  # Map an arbitrary property, address derived from the path
  oscmap mapping add --path 'objects["Cube"].location[2]'

  # Try it
  oscmap send 127.0.0.1:9000 /Cube/location 0.5

For more help on any command, use: oscmap <command> --help`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging("console")
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "control socket path (default from config)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newAutoKeyCmd())
	rootCmd.AddCommand(newMappingCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newServiceCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("oscmap %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	})

	return rootCmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the oscmap daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, cfgFile)
		},
	}
}

func setupLogging(format string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig reads path, or the default config file when path is empty.
// A missing default file yields the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	explicit := path != ""
	if !explicit {
		path = config.DefaultPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			cfg = config.Default()
		} else {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runAsService runs the daemon under the service manager.
func runAsService() {
	logLevel = "info"
	setupLogging("json")

	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().Str("config", configPath).Str("version", Version).Msg("starting as service")

	cfg := svc.DefaultServiceConfig()
	cfg.ConfigPath = configPath
	prg := &svc.Program{ConfigPath: configPath, Run: runDaemon}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}
