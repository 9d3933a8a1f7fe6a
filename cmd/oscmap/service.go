package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oscmap/oscmap/internal/svc"
)

var (
	serviceName  string
	serviceUser  string
	forceInstall bool
	logsFollow   bool
	logsLines    int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the oscmap system service",
		Long: `Install, control and inspect oscmap as a system service.

Supported platforms:
  - Linux (systemd)
  - macOS (launchd)
  - Windows (Service Control Manager)

Examples:
  sudo oscmap service install --config /etc/oscmap/config.yaml
  sudo oscmap service start
  sudo oscmap service status
  sudo oscmap service logs --follow`,
	}
	serviceCmd.PersistentFlags().StringVarP(&serviceName, "name", "n", "", "service name (default: oscmap)")

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install oscmap as a system service",
		RunE:  runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceUser, "user", "", "run the service as this user (Linux/macOS only)")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "reinstall if the service already exists")
	serviceCmd.AddCommand(installCmd)

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the oscmap system service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.CheckPrivileges(); err != nil {
				return err
			}
			cfg := getServiceConfig()
			if err := svc.Uninstall(cfg); err != nil {
				return err
			}
			fmt.Printf("Service %q uninstalled.\n", cfg.Name)
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the oscmap service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getServiceConfig()
			if err := svc.Start(cfg); err != nil {
				return err
			}
			fmt.Printf("Service %q started.\n", cfg.Name)
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the oscmap service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getServiceConfig()
			if err := svc.Stop(cfg); err != nil {
				return err
			}
			fmt.Printf("Service %q stopped.\n", cfg.Name)
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show oscmap service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getServiceConfig()
			status, err := svc.Status(cfg)
			if err != nil {
				return fmt.Errorf("get service status: %w", err)
			}
			fmt.Printf("Service %q: %s\n", cfg.Name, svc.StatusString(status))
			return nil
		},
	})

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View oscmap service logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.ViewLogs(svc.LogOptions{
				ServiceName: getServiceConfig().Name,
				Follow:      logsFollow,
				Lines:       logsLines,
			})
		},
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "follow log output")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "number of log lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

func getServiceConfig() *svc.ServiceConfig {
	cfg := svc.DefaultServiceConfig()
	if serviceName != "" {
		cfg.Name = serviceName
	}
	if cfgFile != "" {
		cfg.ConfigPath = cfgFile
	}
	cfg.UserName = serviceUser
	return cfg
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}

	cfg := getServiceConfig()
	if _, err := os.Stat(cfg.ConfigPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s\nCreate the config file first or specify a different path with --config", cfg.ConfigPath)
	}

	log.Info().
		Str("name", cfg.Name).
		Str("config", cfg.ConfigPath).
		Msg("installing service")

	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	fmt.Printf("Service %q installed.\n", cfg.Name)
	fmt.Printf("\nTo start the service:\n")
	fmt.Printf("  oscmap service start --name %s\n", cfg.Name)
	return nil
}
