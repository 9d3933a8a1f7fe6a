// Package control provides a Unix socket server for CLI-to-daemon communication.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oscmap/oscmap/internal/engine"
	"github.com/oscmap/oscmap/internal/mapping"
)

// DefaultSocketPath returns the default control socket path.
func DefaultSocketPath() string {
	return "/tmp/oscmap.sock"
}

// Request types for control commands.
const (
	CmdServerStart      = "server.start"
	CmdServerStop       = "server.stop"
	CmdServerStatus     = "server.status"
	CmdAutoKeySet       = "autokey.set"
	CmdMappingList      = "mapping.list"
	CmdMappingAdd       = "mapping.add"
	CmdMappingRemove    = "mapping.remove"
	CmdMappingDuplicate = "mapping.duplicate"
	CmdMappingFace      = "mapping.face"
)

// Timeouts for control socket operations.
const (
	// SocketDialTimeout is the timeout for connecting to the control socket.
	SocketDialTimeout = 5 * time.Second
	// SocketReadWriteTimeout is the timeout for reading/writing on the socket.
	SocketReadWriteTimeout = 5 * time.Second
)

// Request is a control command from the CLI.
type Request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is a response to a control command.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ServerStartRequest is the payload for server.start. Empty fields use the
// configured listen address.
type ServerStartRequest struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// AutoKeyRequest is the payload for autokey.set.
type AutoKeyRequest struct {
	Enabled bool `json:"enabled"`
}

// MappingAddRequest is the payload for mapping.add. Either Mapping or
// DataPath is set; a bare data path gets a suggested address.
type MappingAddRequest struct {
	Mapping  *mapping.Mapping `json:"mapping,omitempty"`
	DataPath string           `json:"data_path,omitempty"`
	Address  string           `json:"address,omitempty"`
}

// MappingIDRequest is the payload for mapping.remove and mapping.duplicate.
type MappingIDRequest struct {
	ID string `json:"id"`
}

// FacePresetRequest is the payload for mapping.face.
type FacePresetRequest struct {
	Object string `json:"object"`
}

// FacePresetResponse is the response for mapping.face.
type FacePresetResponse struct {
	Added int `json:"added"`
}

// Engine is the part of the engine server the control socket drives.
type Engine interface {
	Start(host string, port int) error
	Stop() error
	Status() engine.Status
	SetAutoKey(on bool)
}

// Server is a Unix socket control server.
type Server struct {
	socketPath string
	engine     Engine
	table      *mapping.Table
	listener   net.Listener
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewServer creates a new control server.
func NewServer(socketPath string, eng Engine, table *mapping.Table) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath: socketPath,
		engine:     eng,
		table:      table,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins listening on the control socket.
func (s *Server) Start() error {
	// Ensure parent directory exists
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove stale socket
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Restrict socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.listener = listener
	log.Info().Str("path", s.socketPath).Msg("control socket listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the control server.
func (s *Server) Stop() error {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
	return nil
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Error().Err(err).Msg("control socket accept error")
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketReadWriteTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.sendError(conn, fmt.Errorf("decode request: %w", err))
		return
	}

	resp := s.handleCommand(req)
	_ = json.NewEncoder(conn).Encode(resp)
}

func (s *Server) handleCommand(req Request) Response {
	switch req.Command {
	case CmdServerStart:
		return s.handleServerStart(req.Payload)
	case CmdServerStop:
		if err := s.engine.Stop(); err != nil {
			return fail(err)
		}
		log.Info().Msg("server stopped via control socket")
		return ok(s.engine.Status())
	case CmdServerStatus:
		return ok(s.engine.Status())
	case CmdAutoKeySet:
		return s.handleAutoKey(req.Payload)
	case CmdMappingList:
		return ok(s.table.List())
	case CmdMappingAdd:
		return s.handleMappingAdd(req.Payload)
	case CmdMappingRemove:
		return s.handleMappingRemove(req.Payload)
	case CmdMappingDuplicate:
		return s.handleMappingDuplicate(req.Payload)
	case CmdMappingFace:
		return s.handleMappingFace(req.Payload)
	default:
		return Response{Success: false, Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func ok(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return fail(fmt.Errorf("marshal response: %w", err))
	}
	return Response{Success: true, Data: data}
}

func fail(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func (s *Server) handleServerStart(payload json.RawMessage) Response {
	var req ServerStartRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	if req.Port < 0 || req.Port > 65535 {
		return Response{Success: false, Error: "invalid port: must be between 0 and 65535"}
	}
	if err := s.engine.Start(req.Host, req.Port); err != nil {
		return fail(err)
	}
	log.Info().Str("host", req.Host).Int("port", req.Port).Msg("server started via control socket")
	return ok(s.engine.Status())
}

func (s *Server) handleAutoKey(payload json.RawMessage) Response {
	var req AutoKeyRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	s.engine.SetAutoKey(req.Enabled)
	log.Info().Bool("enabled", req.Enabled).Msg("auto-key changed via control socket")
	return ok(s.engine.Status())
}

func (s *Server) handleMappingAdd(payload json.RawMessage) Response {
	var req MappingAddRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}

	var m mapping.Mapping
	switch {
	case req.Mapping != nil:
		m = *req.Mapping
	case req.DataPath != "":
		var err error
		if m, err = mapping.ForPath(req.DataPath); err != nil {
			return fail(err)
		}
	default:
		return Response{Success: false, Error: "mapping or data_path is required"}
	}
	if req.Address != "" {
		m.Address = req.Address
	}

	added, err := s.table.Add(m)
	if err != nil {
		return fail(err)
	}
	log.Info().Str("id", added.ID).Str("address", added.Address).Str("target", added.Describe()).
		Msg("added mapping via control socket")
	return ok(added)
}

func (s *Server) handleMappingRemove(payload json.RawMessage) Response {
	var req MappingIDRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	if err := s.table.Remove(req.ID); err != nil {
		return fail(err)
	}
	log.Info().Str("id", req.ID).Msg("removed mapping via control socket")
	return Response{Success: true}
}

func (s *Server) handleMappingDuplicate(payload json.RawMessage) Response {
	var req MappingIDRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	dup, err := s.table.Duplicate(req.ID)
	if err != nil {
		return fail(err)
	}
	return ok(dup)
}

func (s *Server) handleMappingFace(payload json.RawMessage) Response {
	var req FacePresetRequest
	if err := decode(payload, &req); err != nil {
		return fail(err)
	}
	if req.Object == "" {
		return Response{Success: false, Error: "object is required"}
	}

	ms, err := s.table.AddAll(mapping.FacePreset(req.Object))
	if err != nil {
		return fail(err)
	}
	added := len(ms)
	log.Info().Str("object", req.Object).Int("added", added).Msg("added face preset via control socket")
	return ok(FacePresetResponse{Added: added})
}

func (s *Server) sendError(conn net.Conn, err error) {
	resp := Response{Success: false, Error: err.Error()}
	_ = json.NewEncoder(conn).Encode(resp)
}

// Client is a control socket client for CLI commands.
type Client struct {
	socketPath string
}

// NewClient creates a new control client.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Send sends a request and returns the response.
func (c *Client) Send(req Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, SocketDialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect to control socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(SocketReadWriteTimeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &resp, nil
}

// call sends cmd with payload and decodes the response data into out (if non-nil).
func (c *Client) call(cmd string, payload, out any) error {
	req := Request{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		req.Payload = data
	}

	resp, err := c.Send(req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// Start starts the listener. Empty host or zero port use the daemon's config.
func (c *Client) Start(host string, port int) (*engine.Status, error) {
	var st engine.Status
	if err := c.call(CmdServerStart, ServerStartRequest{Host: host, Port: port}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Stop stops the listener.
func (c *Client) Stop() (*engine.Status, error) {
	var st engine.Status
	if err := c.call(CmdServerStop, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Status retrieves the engine status.
func (c *Client) Status() (*engine.Status, error) {
	var st engine.Status
	if err := c.call(CmdServerStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SetAutoKey toggles auto-keying.
func (c *Client) SetAutoKey(enabled bool) error {
	return c.call(CmdAutoKeySet, AutoKeyRequest{Enabled: enabled}, nil)
}

// Mappings lists all mappings.
func (c *Client) Mappings() ([]mapping.Mapping, error) {
	var ms []mapping.Mapping
	if err := c.call(CmdMappingList, nil, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

// AddMapping adds a fully specified mapping.
func (c *Client) AddMapping(m mapping.Mapping) (*mapping.Mapping, error) {
	var added mapping.Mapping
	if err := c.call(CmdMappingAdd, MappingAddRequest{Mapping: &m}, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// AddPath adds a property mapping for a data path. An empty address is
// derived from the path.
func (c *Client) AddPath(dataPath, address string) (*mapping.Mapping, error) {
	var added mapping.Mapping
	if err := c.call(CmdMappingAdd, MappingAddRequest{DataPath: dataPath, Address: address}, &added); err != nil {
		return nil, err
	}
	return &added, nil
}

// RemoveMapping removes a mapping by ID.
func (c *Client) RemoveMapping(id string) error {
	return c.call(CmdMappingRemove, MappingIDRequest{ID: id}, nil)
}

// DuplicateMapping copies a mapping and returns the copy.
func (c *Client) DuplicateMapping(id string) (*mapping.Mapping, error) {
	var dup mapping.Mapping
	if err := c.call(CmdMappingDuplicate, MappingIDRequest{ID: id}, &dup); err != nil {
		return nil, err
	}
	return &dup, nil
}

// AddFacePreset adds the face shape key mappings for object.
func (c *Client) AddFacePreset(object string) (int, error) {
	var resp FacePresetResponse
	if err := c.call(CmdMappingFace, FacePresetRequest{Object: object}, &resp); err != nil {
		return 0, err
	}
	return resp.Added, nil
}
