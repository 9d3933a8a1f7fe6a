// Package tracing keeps a rolling runtime trace so slow dispatch cycles can
// be inspected after the fact with `go tool trace`.
package tracing

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/trace"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the default ring buffer size (10MB).
const DefaultBufferSize = 10 * 1000 * 1000

// DefaultMinAge is how much history the recorder tries to keep.
const DefaultMinAge = 30 * time.Second

// ErrNotEnabled is returned by Snapshot when the recorder is not running.
var ErrNotEnabled = errors.New("tracing not enabled")

// Recorder wraps a runtime/trace flight recorder. The zero value is a
// stopped recorder; a nil *Recorder is also valid and always stopped.
type Recorder struct {
	mu sync.Mutex
	fr *trace.FlightRecorder
}

// Start begins recording into a ring buffer of bufferSize bytes.
// Starting a running recorder is a no-op.
func (r *Recorder) Start(bufferSize uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fr != nil {
		return nil
	}
	if bufferSize == 0 {
		bufferSize = DefaultBufferSize
	}

	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   DefaultMinAge,
		MaxBytes: bufferSize,
	})
	if err := fr.Start(); err != nil {
		return fmt.Errorf("start flight recorder: %w", err)
	}
	r.fr = fr
	log.Info().Uint64("buffer_bytes", bufferSize).Msg("runtime tracing enabled")
	return nil
}

// Enabled reports whether the recorder is running.
func (r *Recorder) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fr != nil
}

// Snapshot writes the buffered trace to w.
func (r *Recorder) Snapshot(w io.Writer) error {
	if r == nil {
		return ErrNotEnabled
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fr == nil {
		return ErrNotEnabled
	}
	_, err := r.fr.WriteTo(w)
	return err
}

// Stop ends recording. It is safe to call more than once.
func (r *Recorder) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fr != nil {
		r.fr.Stop()
		r.fr = nil
	}
}

// ServeHTTP downloads a trace snapshot.
func (r *Recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !r.Enabled() {
		http.Error(w, "tracing not enabled (set tracing.enabled in the config)", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=oscmap-trace.out")

	if err := r.Snapshot(w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
