// Package dispatch turns a drained batch of messages into one applied batch
// of property writes followed by a single refresh.
package dispatch

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/internal/inbox"
	"github.com/oscmap/oscmap/internal/keyframe"
	"github.com/oscmap/oscmap/internal/mapping"
	"github.com/oscmap/oscmap/internal/metrics"
)

// Application is one value written to one target during a cycle.
type Application struct {
	Seq       uint64  `json:"seq"`
	Address   string  `json:"address"`
	MappingID string  `json:"mapping_id"`
	Target    string  `json:"target"`
	Value     float64 `json:"value"`
}

// Report summarises one cycle.
type Report struct {
	Started        time.Time     `json:"started"`
	Duration       time.Duration `json:"duration"`
	Messages       int           `json:"messages"`
	Unmatched      int           `json:"unmatched"`
	Applications   int           `json:"applications"`
	Applied        int           `json:"applied"`
	Skipped        int           `json:"skipped"`
	Failed         int           `json:"failed"`
	Refreshed      bool          `json:"refreshed"`
	Frame          float64       `json:"frame,omitempty"`
	Keyframes      int           `json:"keyframes"`
	KeyframeErrors int           `json:"keyframe_errors"`
	Values         []Application `json:"values,omitempty"`
}

// Empty reports whether the cycle drained nothing.
func (r Report) Empty() bool {
	return r.Messages == 0
}

// Observer receives the report of every non-empty cycle.
type Observer interface {
	OnCycle(r Report)
}

// ObserverFunc is a function adapter for Observer.
type ObserverFunc func(r Report)

// OnCycle implements Observer.
func (f ObserverFunc) OnCycle(r Report) {
	f(r)
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Table   *mapping.Table
	Store   host.Store
	Sink    keyframe.Sink          // may be nil; auto-key is then a no-op
	Metrics *metrics.EngineMetrics // may be nil
	AutoKey bool
}

// Dispatcher resolves, remaps and applies message batches.
type Dispatcher struct {
	table   *mapping.Table
	store   host.Store
	sink    keyframe.Sink
	metrics *metrics.EngineMetrics
	autoKey atomic.Bool
	warn    *rate.Limiter

	mu        sync.RWMutex
	observers []Observer
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		table:   cfg.Table,
		store:   cfg.Store,
		sink:    cfg.Sink,
		metrics: cfg.Metrics,
		warn:    rate.NewLimiter(rate.Every(100*time.Millisecond), 20),
	}
	d.autoKey.Store(cfg.AutoKey)
	return d
}

// SetAutoKey toggles global auto-keying. It takes effect on the next cycle.
func (d *Dispatcher) SetAutoKey(on bool) {
	d.autoKey.Store(on)
	if d.metrics != nil {
		v := 0.0
		if on {
			v = 1
		}
		d.metrics.AutoKey.Set(v)
	}
}

// AutoKeyEnabled reports the global auto-key switch.
func (d *Dispatcher) AutoKeyEnabled() bool {
	return d.autoKey.Load()
}

// AddObserver registers an observer for cycle reports.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

type pending struct {
	mapping mapping.Mapping
	target  host.Locator
	value   float64
	msg     *inbox.Message
}

// Process runs one cycle over msgs, which must be in arrival order.
// Every per-message and per-application failure is logged and counted; none
// aborts the batch. An empty batch does nothing and triggers no refresh.
func (d *Dispatcher) Process(msgs []inbox.Message) Report {
	if len(msgs) == 0 {
		return Report{}
	}

	r := Report{Started: time.Now(), Messages: len(msgs)}
	snap := d.table.Snapshot()

	var batch []pending
	for i := range msgs {
		msg := &msgs[i]
		resolved := snap.Resolve(msg.Address)
		if len(resolved) == 0 {
			r.Unmatched++
			continue
		}
		for _, m := range resolved {
			raw, err := m.Select(msg.Args)
			if err != nil {
				r.Skipped++
				d.logSkip(err, msg, m, "argument not usable")
				continue
			}
			value, err := mapping.Remap(raw, m)
			if err != nil {
				r.Skipped++
				d.logSkip(err, msg, m, "cannot remap value")
				continue
			}
			target, err := m.Locator()
			if err != nil {
				r.Skipped++
				d.logSkip(err, msg, m, "mapping has no target")
				continue
			}
			batch = append(batch, pending{mapping: m, target: target, value: value, msg: msg})
		}
	}
	r.Applications = len(batch)

	applied := batch[:0:0]
	for _, p := range batch {
		if err := d.store.Set(p.target, p.value); err != nil {
			r.Failed++
			if d.warn.Allow() {
				ev := log.Warn().Err(err).Str("address", p.msg.Address).Str("target", p.target.String())
				if errors.Is(err, host.ErrTargetNotFound) {
					ev = ev.Bool("stale", true)
				}
				ev.Msg("failed to apply value")
			}
			continue
		}
		r.Applied++
		applied = append(applied, p)
		r.Values = append(r.Values, Application{
			Seq:       p.msg.Seq,
			Address:   p.msg.Address,
			MappingID: p.mapping.ID,
			Target:    p.target.String(),
			Value:     p.value,
		})
	}

	if len(batch) > 0 {
		d.store.Refresh()
		r.Refreshed = true
	}

	if d.autoKey.Load() && d.sink != nil && len(applied) > 0 {
		r.Frame = d.store.CurrentFrame()
		for _, p := range applied {
			if !p.mapping.AutoKeyEnabled() {
				continue
			}
			if err := d.sink.Record(p.target, p.value, r.Frame); err != nil {
				r.KeyframeErrors++
				var kerr *keyframe.Error
				if !errors.As(err, &kerr) {
					err = &keyframe.Error{Target: p.target, Frame: r.Frame, Err: err}
				}
				if d.warn.Allow() {
					log.Warn().Err(err).Msg("failed to insert keyframe")
				}
				continue
			}
			r.Keyframes++
		}
	}

	r.Duration = time.Since(r.Started)
	d.record(r)
	d.notify(r)
	return r
}

func (d *Dispatcher) logSkip(err error, msg *inbox.Message, m mapping.Mapping, what string) {
	if !d.warn.Allow() {
		return
	}
	log.Warn().
		Err(err).
		Str("address", msg.Address).
		Str("mapping", m.ID).
		Uint64("seq", msg.Seq).
		Msg(what)
}

func (d *Dispatcher) record(r Report) {
	if d.metrics == nil {
		return
	}
	m := d.metrics
	m.Cycles.Inc()
	m.CycleDuration.Observe(r.Duration.Seconds())
	m.Messages.Add(float64(r.Messages))
	m.Unmatched.Add(float64(r.Unmatched))
	m.Applications.WithLabelValues("applied").Add(float64(r.Applied))
	m.Applications.WithLabelValues("skipped").Add(float64(r.Skipped))
	m.Applications.WithLabelValues("failed").Add(float64(r.Failed))
	if r.Refreshed {
		m.Refreshes.Inc()
	}
	m.Keyframes.WithLabelValues("recorded").Add(float64(r.Keyframes))
	m.Keyframes.WithLabelValues("failed").Add(float64(r.KeyframeErrors))
}

func (d *Dispatcher) notify(r Report) {
	d.mu.RLock()
	observers := d.observers
	d.mu.RUnlock()
	for _, o := range observers {
		o.OnCycle(r)
	}
}
