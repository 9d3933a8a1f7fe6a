// Package keyframe records applied values as keyframes on a timeline.
package keyframe

import (
	"fmt"
	"sort"
	"sync"

	"github.com/oscmap/oscmap/internal/host"
)

// Keyframe is one recorded value of a target at a frame.
type Keyframe struct {
	Frame float64 `json:"frame"`
	Value float64 `json:"value"`
}

// Error reports a failed keyframe insertion.
type Error struct {
	Target host.Locator
	Frame  float64
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("keyframe %s @%g: %v", e.Target, e.Frame, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sink receives keyframes from the dispatch cycle.
type Sink interface {
	Record(target host.Locator, value, frame float64) error
}

// Recorder is a Sink whose recorded keys can be read back.
type Recorder interface {
	Sink
	Keyframes(target host.Locator) ([]Keyframe, error)
	Targets() ([]string, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// Open returns a recorder for the named backend. dir is only used by badger.
func Open(backend, dir string) (Recorder, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemorySink(), nil
	case BackendBadger:
		return OpenBadger(dir)
	default:
		return nil, fmt.Errorf("unknown keyframe backend %q", backend)
	}
}

// MemorySink keeps keyframes in memory, one key per target and frame.
type MemorySink struct {
	mu   sync.Mutex
	keys map[string]map[float64]float64
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{keys: make(map[string]map[float64]float64)}
}

// Record implements Sink. A second value at the same frame replaces the first.
func (s *MemorySink) Record(target host.Locator, value, frame float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := target.String()
	frames, ok := s.keys[k]
	if !ok {
		frames = make(map[float64]float64)
		s.keys[k] = frames
	}
	frames[frame] = value
	return nil
}

// Keyframes returns the keys of target ordered by frame.
func (s *MemorySink) Keyframes(target host.Locator) ([]Keyframe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.keys[target.String()]
	out := make([]Keyframe, 0, len(frames))
	for f, v := range frames {
		out = append(out, Keyframe{Frame: f, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out, nil
}

// Targets returns the data paths that have at least one key, sorted.
func (s *MemorySink) Targets() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.keys))
	for k := range s.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

// Close implements Recorder.
func (s *MemorySink) Close() error {
	return nil
}
