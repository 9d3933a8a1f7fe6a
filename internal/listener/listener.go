// Package listener receives OSC datagrams over UDP and queues decoded
// messages for the dispatch cycle. It never touches the host store.
package listener

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/oscmap/oscmap/internal/codec"
	"github.com/oscmap/oscmap/internal/inbox"
	"github.com/oscmap/oscmap/internal/metrics"
)

const (
	// DefaultReadTimeout bounds how long Close can wait on a blocked read.
	DefaultReadTimeout = 100 * time.Millisecond
	// MaxDatagramSize is the largest UDP payload.
	MaxDatagramSize = 65535
)

// Config holds listener settings.
type Config struct {
	Host        string
	Port        int
	ReadTimeout time.Duration
	ReadBuffer  int // socket receive buffer in bytes, 0 keeps the OS default
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BindError is returned when the UDP socket cannot be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Stats holds listener counters.
type Stats struct {
	Datagrams    uint64 `json:"datagrams"`
	DecodeErrors uint64 `json:"decode_errors"`
	Queued       uint64 `json:"queued"`
	Dropped      uint64 `json:"dropped"`
}

// Listener owns one UDP socket and its receive goroutine.
type Listener struct {
	conn        *net.UDPConn
	queue       *inbox.Queue
	metrics     *metrics.EngineMetrics
	readTimeout time.Duration
	logLimit    *rate.Limiter

	running   atomic.Bool
	seq       atomic.Uint64
	datagrams atomic.Uint64
	decodeErr atomic.Uint64
	queued    atomic.Uint64
	dropped   atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Listen binds cfg's address and starts receiving into queue. m may be nil.
func Listen(cfg Config, queue *inbox.Queue, m *metrics.EngineMetrics) (*Listener, error) {
	addr := cfg.Addr()
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}

	if cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.ReadBuffer); err != nil {
			log.Warn().Err(err).Int("bytes", cfg.ReadBuffer).Msg("failed to set UDP read buffer")
		}
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	l := &Listener{
		conn:        conn,
		queue:       queue,
		metrics:     m,
		readTimeout: timeout,
		logLimit:    rate.NewLimiter(rate.Limit(5), 10),
		done:        make(chan struct{}),
	}
	l.running.Store(true)
	go l.receiveLoop()

	log.Info().
		Str("addr", conn.LocalAddr().String()).
		Dur("read_timeout", timeout).
		Msg("OSC listener started")

	return l, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() *net.UDPAddr {
	return l.conn.LocalAddr().(*net.UDPAddr)
}

// Stats returns the listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Datagrams:    l.datagrams.Load(),
		DecodeErrors: l.decodeErr.Load(),
		Queued:       l.queued.Load(),
		Dropped:      l.dropped.Load(),
	}
}

// Close stops the receive goroutine and releases the socket. It returns
// after the goroutine has exited and is safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.running.Store(false)
		err = l.conn.Close()
		<-l.done
		log.Info().Str("addr", l.conn.LocalAddr().String()).Msg("OSC listener stopped")
	})
	return err
}

func (l *Listener) receiveLoop() {
	defer close(l.done)
	buf := make([]byte, MaxDatagramSize)

	for l.running.Load() {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil {
			if !l.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
		}

		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if !l.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if l.logLimit.Allow() {
				log.Debug().Err(err).Msg("UDP read error")
			}
			continue
		}

		l.datagrams.Add(1)
		if l.metrics != nil {
			l.metrics.DatagramsReceived.Inc()
		}
		l.handleDatagram(buf[:n], from)
	}
}

func (l *Listener) handleDatagram(data []byte, from *net.UDPAddr) {
	pkt, err := codec.Decode(data)
	if err != nil {
		l.decodeErr.Add(1)
		if l.metrics != nil {
			reason := "malformed"
			if errors.Is(err, codec.ErrUnsupported) {
				reason = "unsupported"
			}
			l.metrics.DecodeErrors.WithLabelValues(reason).Inc()
		}
		if l.logLimit.Allow() {
			log.Debug().Err(err).Str("from", from.String()).Int("len", len(data)).Msg("dropping undecodable datagram")
		}
		return
	}

	msg := inbox.Message{
		Address:  pkt.Address,
		Args:     pkt.Args,
		Seq:      l.seq.Add(1),
		Received: time.Now(),
	}
	if !l.queue.Push(msg) {
		l.dropped.Add(1)
		if l.logLimit.Allow() {
			log.Debug().Str("address", msg.Address).Msg("inbox full, dropping message")
		}
		return
	}
	l.queued.Add(1)
}
