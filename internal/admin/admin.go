// Package admin serves the local HTTP admin surface: health, metrics, JSON
// views of the engine and a websocket stream of cycle reports.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oscmap/oscmap/internal/engine"
	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/internal/keyframe"
	"github.com/oscmap/oscmap/internal/mapping"
	"github.com/oscmap/oscmap/internal/metrics"
	"github.com/oscmap/oscmap/internal/tracing"
)

// StatusSource reports the engine status.
type StatusSource interface {
	Status() engine.Status
}

// MappingSource lists the configured mappings.
type MappingSource interface {
	List() []mapping.Mapping
}

// SceneSource exposes the host store state.
type SceneSource interface {
	Snapshot() host.Scene
}

// KeyframeSource reads back recorded keyframes.
type KeyframeSource interface {
	Targets() ([]string, error)
	Keyframes(target host.Locator) ([]keyframe.Keyframe, error)
}

// Config wires the admin endpoints to their data. Nil sources answer 503.
type Config struct {
	Engine    StatusSource
	Mappings  MappingSource
	Scene     SceneSource
	Keyframes KeyframeSource
	Tracer    *tracing.Recorder
}

// TargetKeyframes is the /keyframes?path= response.
type TargetKeyframes struct {
	Path      string              `json:"path"`
	Keyframes []keyframe.Keyframe `json:"keyframes"`
}

// AdminServer provides the admin interface. It is meant for localhost.
type AdminServer struct {
	server  *http.Server
	mux     *http.ServeMux
	cfg     Config
	monitor *Monitor
}

// NewAdminServer creates a new admin server.
func NewAdminServer(cfg Config) *AdminServer {
	s := &AdminServer{
		mux:     http.NewServeMux(),
		cfg:     cfg,
		monitor: NewMonitor(),
	}

	s.mux.HandleFunc("/health", healthHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/status", s.statusHandler)
	s.mux.HandleFunc("/mappings", s.mappingsHandler)
	s.mux.HandleFunc("/scene", s.sceneHandler)
	s.mux.HandleFunc("/keyframes", s.keyframesHandler)
	s.mux.Handle("/monitor", s.monitor)
	s.mux.Handle("/debug/trace", cfg.Tracer)

	return s
}

// Monitor returns the cycle report hub. Register it as a dispatch observer.
func (s *AdminServer) Monitor() *Monitor {
	return s.monitor
}

// Handler returns the admin mux.
func (s *AdminServer) Handler() http.Handler {
	return s.mux
}

// StartInsecure starts the admin server without TLS. Bind errors are
// returned; serve errors after that are logged.
func (s *AdminServer) StartInsecure(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("admin server stopped")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("admin server listening")
	return nil
}

// Stop gracefully stops the admin server and disconnects monitor clients.
func (s *AdminServer) Stop() error {
	s.monitor.Close()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// healthHandler returns a simple health check response.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *AdminServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Engine == nil {
		http.Error(w, "engine not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.cfg.Engine.Status())
}

func (s *AdminServer) mappingsHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Mappings == nil {
		http.Error(w, "mappings not configured", http.StatusServiceUnavailable)
		return
	}
	ms := s.cfg.Mappings.List()
	if ms == nil {
		ms = []mapping.Mapping{}
	}
	writeJSON(w, ms)
}

func (s *AdminServer) sceneHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Scene == nil {
		http.Error(w, "scene not available", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.cfg.Scene.Snapshot())
}

// keyframesHandler lists keyed targets, or the keys of one target when
// ?path= names a data path.
func (s *AdminServer) keyframesHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Keyframes == nil {
		http.Error(w, "keyframes not available", http.StatusServiceUnavailable)
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		targets, err := s.cfg.Keyframes.Targets()
		if err != nil {
			log.Error().Err(err).Msg("list keyframe targets")
			http.Error(w, "failed to read keyframes", http.StatusInternalServerError)
			return
		}
		if targets == nil {
			targets = []string{}
		}
		writeJSON(w, targets)
		return
	}

	loc, err := host.ParsePath(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	keys, err := s.cfg.Keyframes.Keyframes(loc)
	if err != nil {
		log.Error().Err(err).Str("path", loc.String()).Msg("read keyframes")
		http.Error(w, "failed to read keyframes", http.StatusInternalServerError)
		return
	}
	if keys == nil {
		keys = []keyframe.Keyframe{}
	}
	writeJSON(w, TargetKeyframes{Path: loc.String(), Keyframes: keys})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Debug().Err(err).Msg("admin response write failed")
	}
}
