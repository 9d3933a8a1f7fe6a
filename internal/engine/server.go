// Package engine owns the listener lifecycle and drives dispatch cycles.
package engine

import (
	"context"
	"net"
	"runtime/trace"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oscmap/oscmap/internal/dispatch"
	"github.com/oscmap/oscmap/internal/inbox"
	"github.com/oscmap/oscmap/internal/listener"
	"github.com/oscmap/oscmap/internal/metrics"
)

// Config holds server settings. Host and Port of Listen are the defaults
// used when Start is given an empty host or a zero port.
type Config struct {
	Listen    listener.Config
	QueueSize int
}

// Status is a point-in-time view of the server.
type Status struct {
	State     string           `json:"state"`
	Running   bool             `json:"running"`
	Addr      string           `json:"addr,omitempty"`
	Since     time.Time        `json:"since,omitempty"`
	AutoKey   bool             `json:"auto_key"`
	LastError string           `json:"last_error,omitempty"`
	Cycles    uint64           `json:"cycles"`
	Queue     inbox.Stats      `json:"queue"`
	Listener  listener.Stats   `json:"listener"`
	LastCycle *dispatch.Report `json:"last_cycle,omitempty"`
}

// Server is the single owner of the listener, the inbox queue and the
// dispatch cycle.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.EngineMetrics
	observers  *MultiObserver

	// cycleMu serialises RunCycle and Stop; taken before mu.
	cycleMu sync.Mutex

	mu        sync.Mutex
	state     State
	lis       *listener.Listener
	queue     *inbox.Queue
	lastErr   error
	since     time.Time
	lastQueue inbox.Stats
	lastLis   listener.Stats

	cycles     atomic.Uint64
	lastReport atomic.Pointer[dispatch.Report]
}

// New creates a stopped server. m may be nil.
func New(cfg Config, d *dispatch.Dispatcher, m *metrics.EngineMetrics) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = inbox.DefaultCapacity
	}
	return &Server{
		cfg:        cfg,
		dispatcher: d,
		metrics:    m,
		observers:  NewMultiObserver(),
	}
}

// AddObserver registers an observer for state transitions.
func (s *Server) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers.Add(o)
}

// transition moves to a new state; callers hold s.mu.
func (s *Server) transition(to State, reason string, err error) error {
	if !s.state.CanTransitionTo(to) {
		return &TransitionError{From: s.state, To: to, Message: reason}
	}
	t := Transition{From: s.state, To: to, Timestamp: time.Now(), Reason: reason, Error: err}
	s.state = to
	s.since = t.Timestamp
	s.observers.OnTransition(t)
	return nil
}

// Start binds host:port and begins receiving. It returns ErrAlreadyRunning
// when the server is not stopped and a *listener.BindError when the socket
// cannot be opened, in which case the server stays stopped. Every start
// installs a fresh queue.
func (s *Server) Start(host string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStopped {
		return ErrAlreadyRunning
	}

	cfg := s.cfg.Listen
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if err := s.transition(StateStarting, "start "+cfg.Addr(), nil); err != nil {
		return err
	}

	queue := inbox.New(s.cfg.QueueSize)
	lis, err := listener.Listen(cfg, queue, s.metrics)
	if err != nil {
		s.lastErr = err
		_ = s.transition(StateStopped, "bind failed", err)
		return err
	}

	s.lis = lis
	s.queue = queue
	s.lastErr = nil
	s.lastQueue = inbox.Stats{}
	s.lastLis = listener.Stats{}
	return s.transition(StateRunning, "listening on "+lis.Addr().String(), nil)
}

// Stop closes the listener and discards the queue. It returns after the
// receive goroutine has exited and no cycle is in progress. Stopping a
// stopped server is a no-op.
func (s *Server) Stop() error {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRunning {
		return nil
	}
	if err := s.transition(StateStopping, "stop requested", nil); err != nil {
		return err
	}

	err := s.lis.Close()
	s.lastLis = s.lis.Stats()
	s.lastQueue = s.queue.Stats()
	s.lis = nil
	s.queue = nil
	if err != nil {
		log.Warn().Err(err).Msg("error closing listener")
	}
	return s.transition(StateStopped, "stopped", err)
}

// RunCycle drains the queue and processes the batch. While stopped it does
// nothing. Cycles never overlap.
func (s *Server) RunCycle() dispatch.Report {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	queue := s.queue
	running := s.state == StateRunning
	s.mu.Unlock()
	if !running || queue == nil {
		return dispatch.Report{}
	}

	msgs := queue.DrainAll()
	if len(msgs) == 0 {
		return dispatch.Report{}
	}

	region := trace.StartRegion(context.Background(), "oscmap.cycle")
	r := s.dispatcher.Process(msgs)
	region.End()
	s.cycles.Add(1)
	s.lastReport.Store(&r)
	return r
}

// Run calls RunCycle every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunCycle()
		}
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the listener is up.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// LastError returns the error of the last failed start, if any.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Addr returns the bound address, or nil when stopped.
func (s *Server) Addr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// SetAutoKey toggles global auto-keying.
func (s *Server) SetAutoKey(on bool) {
	s.dispatcher.SetAutoKey(on)
}

// AutoKeyEnabled reports the global auto-key switch.
func (s *Server) AutoKeyEnabled() bool {
	return s.dispatcher.AutoKeyEnabled()
}

// QueueStats returns counters of the current queue, or of the last one when stopped.
func (s *Server) QueueStats() inbox.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue == nil {
		return s.lastQueue
	}
	return s.queue.Stats()
}

// Status returns a snapshot for status commands and the admin surface.
func (s *Server) Status() Status {
	s.mu.Lock()
	st := Status{
		State:   s.state.String(),
		Running: s.state == StateRunning,
		Since:   s.since,
		Cycles:  s.cycles.Load(),
		Queue:   s.lastQueue,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	st.Listener = s.lastLis
	if s.lis != nil {
		st.Addr = s.lis.Addr().String()
		st.Listener = s.lis.Stats()
		st.Queue = s.queue.Stats()
	}
	s.mu.Unlock()

	st.AutoKey = s.dispatcher.AutoKeyEnabled()
	st.LastCycle = s.lastReport.Load()
	return st
}
