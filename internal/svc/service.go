// Package svc installs and runs oscmap as a system service.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// ServiceRunFlag marks a process started by the service manager.
const ServiceRunFlag = "--service-run"

// RunFunc runs the daemon until ctx is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	ConfigPath string
	Run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts. It must not block.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- errors.New("run function not configured")
			return
		}
		p.done <- p.Run(p.ctx, p.ConfigPath)
	}()

	return nil
}

// Stop cancels the daemon and waits for it to return.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string
	DisplayName string
	Description string
	ConfigPath  string
	UserName    string // Linux/macOS only
}

// DefaultServiceConfig returns the standard service identity with the
// platform config path.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Name:        "oscmap",
		DisplayName: "oscmap OSC Mapper",
		Description: "Maps incoming OSC messages onto scene properties",
		ConfigPath:  DefaultConfigPath(),
	}
}

// DefaultConfigPath returns the system-wide config file path for the platform.
func DefaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "oscmap", "config.yaml")
	default:
		return "/etc/oscmap/config.yaml"
	}
}

// NewServiceConfig creates service.Config from our ServiceConfig for goos.
func NewServiceConfig(cfg *ServiceConfig, goos string) *service.Config {
	svcCfg := &service.Config{
		Name:        cfg.Name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   []string{ServiceRunFlag, "run", "--config", cfg.ConfigPath},
	}

	switch goos {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target", "Wants=network-online.target"}
		svcCfg.Option = service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		}
		svcCfg.UserName = cfg.UserName
	case "darwin":
		svcCfg.Option = service.KeyValue{
			"KeepAlive": true,
			"RunAtLoad": true,
		}
		svcCfg.UserName = cfg.UserName
	case "windows":
		svcCfg.Option = service.KeyValue{
			"OnFailure":      "restart",
			"OnFailureDelay": "5s",
		}
	}

	return svcCfg
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	return service.New(prg, NewServiceConfig(cfg, runtime.GOOS))
}

func control(cfg *ServiceConfig) (service.Service, error) {
	svc, err := CreateService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return svc, nil
}

// Install installs the service. An existing installation is replaced only with force.
func Install(cfg *ServiceConfig, force bool) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}

	if status, err := svc.Status(); err == nil && status != service.StatusUnknown {
		if !force {
			return fmt.Errorf("service %q already installed; use --force to reinstall", cfg.Name)
		}
		if status == service.StatusRunning {
			if err := svc.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
		}
		if err := svc.Uninstall(); err != nil {
			log.Warn().Err(err).Msg("failed to uninstall service")
		}
	}

	if err := svc.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	return nil
}

// Uninstall stops and removes the service.
func Uninstall(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}

	if status, _ := svc.Status(); status == service.StatusRunning {
		if err := svc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := svc.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Start starts the installed service.
func Start(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Stop stops the installed service.
func Stop(cfg *ServiceConfig) error {
	svc, err := control(cfg)
	if err != nil {
		return err
	}
	if err := svc.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	svc, err := control(cfg)
	if err != nil {
		return service.StatusUnknown, err
	}
	return svc.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run runs the service under the service manager.
func Run(prg *Program, cfg *ServiceConfig) error {
	svc, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return svc.Run()
}

// CheckPrivileges reports whether service management can succeed.
func CheckPrivileges() error {
	if runtime.GOOS != "windows" && os.Geteuid() != 0 {
		return errors.New("root privileges required (use sudo)")
	}
	return nil
}

// IsServiceMode reports whether args carry ServiceRunFlag.
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == ServiceRunFlag {
			return true
		}
	}
	return false
}

// StripServiceFlag removes ServiceRunFlag so cobra does not reject it.
func StripServiceFlag(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if arg != ServiceRunFlag {
			out = append(out, arg)
		}
	}
	return out
}
