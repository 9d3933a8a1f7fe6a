package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oscmap/oscmap/internal/admin"
	"github.com/oscmap/oscmap/internal/config"
	"github.com/oscmap/oscmap/internal/control"
	"github.com/oscmap/oscmap/internal/dispatch"
	"github.com/oscmap/oscmap/internal/engine"
	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/internal/keyframe"
	"github.com/oscmap/oscmap/internal/mapping"
	"github.com/oscmap/oscmap/internal/metrics"
	"github.com/oscmap/oscmap/internal/tracing"
)

const metricsInterval = time.Second

// daemon owns every long-lived component of a running oscmap process.
type daemon struct {
	cfg     *config.Config
	metrics *metrics.EngineMetrics
	table   *mapping.Table
	store   *host.MemoryStore
	sink    keyframe.Recorder
	engine  *engine.Server
	control *control.Server
	admin   *admin.AdminServer
	tracer  *tracing.Recorder
}

// runDaemon loads configuration and runs until ctx is cancelled.
func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.LogFormat)

	d, err := newDaemon(cfg, metrics.InitMetrics(Version))
	if err != nil {
		return err
	}
	return d.run(ctx)
}

func newDaemon(cfg *config.Config, m *metrics.EngineMetrics) (*daemon, error) {
	d := &daemon{cfg: cfg, metrics: m, table: mapping.NewTable(), tracer: &tracing.Recorder{}}

	if err := d.loadMappings(); err != nil {
		return nil, err
	}

	if cfg.SceneFile != "" {
		store, err := host.LoadScene(cfg.SceneFile)
		if err != nil {
			return nil, err
		}
		d.store = store
	} else {
		d.store = host.NewMemoryStore()
	}

	sink, err := keyframe.Open(cfg.Keyframes.Backend, cfg.Keyframes.Dir)
	if err != nil {
		return nil, fmt.Errorf("open keyframe store: %w", err)
	}
	d.sink = sink

	disp := dispatch.New(dispatch.Config{
		Table:   d.table,
		Store:   d.store,
		Sink:    sink,
		Metrics: m,
		AutoKey: cfg.AutoKey,
	})
	d.engine = engine.New(engine.Config{
		Listen:    cfg.ListenerConfig(),
		QueueSize: cfg.QueueSize,
	}, disp, m)
	d.engine.AddObserver(engine.LoggingObserver{})

	d.control = control.NewServer(cfg.Control.Socket, d.engine, d.table)

	if cfg.Admin.Enabled {
		d.admin = admin.NewAdminServer(admin.Config{
			Engine:    d.engine,
			Mappings:  d.table,
			Scene:     d.store,
			Keyframes: d.sink,
			Tracer:    d.tracer,
		})
		disp.AddObserver(d.admin.Monitor())
	}

	return d, nil
}

// loadMappings seeds the table and persists later edits back to the file.
func (d *daemon) loadMappings() error {
	path := d.cfg.MappingsFile
	if path == "" {
		return nil
	}

	ms, err := mapping.LoadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Info().Str("path", path).Msg("no mappings file yet, starting empty")
	case err != nil:
		return err
	default:
		if err := d.table.Replace(ms); err != nil {
			return fmt.Errorf("load mappings: %w", err)
		}
		log.Info().Str("path", path).Int("mappings", d.table.Len()).Msg("loaded mappings")
	}

	d.table.OnChange(func(ms []mapping.Mapping) {
		if err := mapping.SaveFile(path, ms); err != nil {
			log.Error().Err(err).Str("path", path).Msg("failed to save mappings")
			return
		}
		log.Debug().Str("path", path).Int("mappings", len(ms)).Msg("saved mappings")
	})
	return nil
}

func (d *daemon) start() error {
	if d.cfg.Tracing.Enabled {
		if err := d.tracer.Start(d.cfg.TraceBufferBytes()); err != nil {
			log.Warn().Err(err).Msg("runtime tracing unavailable")
		}
	}

	if err := d.control.Start(); err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}

	if d.admin != nil {
		if err := d.admin.StartInsecure(d.cfg.Admin.Listen); err != nil {
			_ = d.control.Stop()
			return fmt.Errorf("start admin server: %w", err)
		}
	}

	if d.cfg.Autostart {
		// A bind failure leaves the engine stopped; it can be started later
		// over the control socket.
		if err := d.engine.Start("", 0); err != nil {
			log.Error().Err(err).Str("addr", d.cfg.ListenerConfig().Addr()).Msg("autostart failed")
		}
	}
	return nil
}

// run starts everything, drives cycles until ctx ends, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	if err := d.start(); err != nil {
		_ = d.sink.Close()
		d.tracer.Stop()
		return err
	}

	collector := metrics.NewCollector(d.metrics, metrics.CollectorConfig{
		Queue:    d.engine,
		Engine:   d.engine,
		Mappings: d.table,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		collector.Run(ctx, metricsInterval)
	}()
	go func() {
		defer wg.Done()
		d.engine.Run(ctx, d.cfg.Tick())
	}()

	log.Info().
		Str("version", Version).
		Str("socket", d.cfg.Control.Socket).
		Int("mappings", d.table.Len()).
		Msg("oscmap running")

	<-ctx.Done()
	wg.Wait()
	d.shutdown()
	return nil
}

func (d *daemon) shutdown() {
	log.Info().Msg("shutting down")

	if err := d.engine.Stop(); err != nil {
		log.Warn().Err(err).Msg("engine stop failed")
	}
	if d.admin != nil {
		if err := d.admin.Stop(); err != nil {
			log.Warn().Err(err).Msg("admin server stop failed")
		}
	}
	if err := d.control.Stop(); err != nil {
		log.Warn().Err(err).Msg("control socket stop failed")
	}
	if err := d.sink.Close(); err != nil {
		log.Warn().Err(err).Msg("keyframe store close failed")
	}
	d.tracer.Stop()
}
