package admin

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/oscmap/oscmap/internal/dispatch"
)

const (
	monitorSendBuffer   = 64
	monitorPingInterval = 30 * time.Second
	monitorWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin: func(r *http.Request) bool {
		return true // local UI clients connect from file:// and dev servers
	},
}

// Monitor fans cycle reports out to websocket clients. It implements
// dispatch.Observer; OnCycle never blocks the cycle, slow clients lose reports.
type Monitor struct {
	mu      sync.Mutex
	clients map[*monitorClient]struct{}
	closed  bool
}

type monitorClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// NewMonitor creates an empty hub.
func NewMonitor() *Monitor {
	return &Monitor{clients: make(map[*monitorClient]struct{})}
}

// OnCycle implements dispatch.Observer.
func (m *Monitor) OnCycle(r dispatch.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) == 0 {
		return
	}

	data, err := json.Marshal(r)
	if err != nil {
		log.Debug().Err(err).Msg("marshal cycle report")
		return
	}
	for c := range m.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected clients.
func (m *Monitor) Clients() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// ServeHTTP upgrades the request and streams reports until the client leaves.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("monitor upgrade failed")
		return
	}

	c := &monitorClient{
		conn: conn,
		send: make(chan []byte, monitorSendBuffer),
		done: make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.clients[c] = struct{}{}
	m.mu.Unlock()

	log.Debug().Str("remote", r.RemoteAddr).Msg("monitor client connected")

	go c.writeLoop()
	c.readLoop()

	m.mu.Lock()
	delete(m.clients, c)
	m.mu.Unlock()
	c.close()
	log.Debug().Str("remote", r.RemoteAddr).Msg("monitor client disconnected")
}

// Close disconnects every client and rejects new ones.
func (m *Monitor) Close() {
	m.mu.Lock()
	m.closed = true
	clients := make([]*monitorClient, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// readLoop discards client messages; it returns when the connection drops.
func (c *monitorClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *monitorClient) writeLoop() {
	pingTicker := time.NewTicker(monitorPingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-pingTicker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(monitorWriteTimeout)); err != nil {
				c.close()
				return
			}
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(monitorWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *monitorClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
