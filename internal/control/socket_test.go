package control

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmap/oscmap/internal/dispatch"
	"github.com/oscmap/oscmap/internal/engine"
	"github.com/oscmap/oscmap/internal/host"
	"github.com/oscmap/oscmap/internal/listener"
	"github.com/oscmap/oscmap/internal/mapping"
)

func newTestServer(t *testing.T) (*Server, *engine.Server, *mapping.Table) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "test.sock")

	table := mapping.NewTable()
	d := dispatch.New(dispatch.Config{Table: table, Store: host.NewMemoryStore()})
	eng := engine.New(engine.Config{
		Listen: listener.Config{Host: "127.0.0.1", ReadTimeout: 20 * time.Millisecond},
	}, d, nil)
	t.Cleanup(func() { _ = eng.Stop() })

	server := NewServer(socketPath, eng, table)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	// Wait for socket to be ready
	time.Sleep(10 * time.Millisecond)
	return server, eng, table
}

func TestServer_StartStop(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")

	server := NewServer(socketPath, nil, mapping.NewTable())
	require.NoError(t, server.Start())

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, server.Stop())

	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0600))

	server := NewServer(socketPath, nil, mapping.NewTable())
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	assert.Equal(t, socketPath, server.SocketPath())
}

func TestClient_ServerLifecycle(t *testing.T) {
	server, eng, _ := newTestServer(t)
	client := NewClient(server.SocketPath())

	st, err := client.Status()
	require.NoError(t, err)
	assert.Equal(t, "stopped", st.State)
	assert.False(t, st.Running)

	st, err = client.Start("127.0.0.1", 0)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.NotEmpty(t, st.Addr)
	assert.True(t, eng.IsRunning())

	_, err = client.Start("", 0)
	assert.ErrorContains(t, err, engine.ErrAlreadyRunning.Error())

	st, err = client.Stop()
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.False(t, eng.IsRunning())
}

func TestClient_StartInvalidPort(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := NewClient(server.SocketPath())

	_, err := client.Start("", 70000)
	assert.ErrorContains(t, err, "invalid port")
}

func TestClient_SetAutoKey(t *testing.T) {
	server, eng, _ := newTestServer(t)
	client := NewClient(server.SocketPath())

	require.NoError(t, client.SetAutoKey(true))
	assert.True(t, eng.AutoKeyEnabled())

	require.NoError(t, client.SetAutoKey(false))
	assert.False(t, eng.AutoKeyEnabled())
}

func TestClient_MappingCRUD(t *testing.T) {
	server, _, table := newTestServer(t)
	client := NewClient(server.SocketPath())

	m := mapping.New(mapping.KindShapeKey, "/jawOpen")
	m.ShapeKey = &mapping.ShapeKeyTarget{Object: "Face", ShapeKey: "jawOpen"}
	m.MaxOut = 0.8

	added, err := client.AddMapping(m)
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, "/jawOpen", added.Address)
	assert.Equal(t, 0.8, added.MaxOut)

	dup, err := client.DuplicateMapping(added.ID)
	require.NoError(t, err)
	assert.NotEqual(t, added.ID, dup.ID)
	assert.Equal(t, added.Address, dup.Address)

	ms, err := client.Mappings()
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, added.ID, ms[0].ID)
	assert.Equal(t, dup.ID, ms[1].ID)

	require.NoError(t, client.RemoveMapping(added.ID))
	assert.Equal(t, 1, table.Len())

	err = client.RemoveMapping(added.ID)
	assert.ErrorContains(t, err, mapping.ErrNotFound.Error())
}

func TestClient_AddInvalidMapping(t *testing.T) {
	server, _, table := newTestServer(t)
	client := NewClient(server.SocketPath())

	m := mapping.New(mapping.KindShapeKey, "no-slash")
	m.ShapeKey = &mapping.ShapeKeyTarget{Object: "Face", ShapeKey: "jawOpen"}

	_, err := client.AddMapping(m)
	require.Error(t, err)
	assert.Equal(t, 0, table.Len())
}

func TestClient_AddPath(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := NewClient(server.SocketPath())

	added, err := client.AddPath(`objects["Cube"].location[0]`, "")
	require.NoError(t, err)
	assert.Equal(t, mapping.KindProperty, added.Kind)
	assert.Equal(t, "/Cube/location", added.Address)
	require.NotNil(t, added.Property)

	custom, err := client.AddPath(`objects["Cube"].location[1]`, "/cube/y")
	require.NoError(t, err)
	assert.Equal(t, "/cube/y", custom.Address)

	_, err = client.AddPath("not a path", "")
	assert.Error(t, err)
}

func TestClient_AddFacePreset(t *testing.T) {
	server, _, table := newTestServer(t)
	client := NewClient(server.SocketPath())

	n, err := client.AddFacePreset("Face")
	require.NoError(t, err)
	assert.Equal(t, 52, n)
	assert.Equal(t, 52, table.Len())

	_, err = client.AddFacePreset("")
	assert.ErrorContains(t, err, "object is required")
}

func TestServer_PersistsThroughTableHook(t *testing.T) {
	server, _, table := newTestServer(t)
	client := NewClient(server.SocketPath())

	saved := make(chan []mapping.Mapping, 1)
	table.OnChange(func(ms []mapping.Mapping) { saved <- ms })

	_, err := client.AddFacePreset("Face")
	require.NoError(t, err)
	select {
	case ms := <-saved:
		assert.Len(t, ms, 52)
	case <-time.After(time.Second):
		t.Fatal("change hook not called")
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := NewClient(server.SocketPath())

	resp, err := client.Send(Request{Command: "bogus"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "unknown command")
}

func TestServer_InvalidPayload(t *testing.T) {
	server, _, _ := newTestServer(t)
	client := NewClient(server.SocketPath())

	resp, err := client.Send(Request{Command: CmdMappingRemove, Payload: json.RawMessage(`"x"`)})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "invalid payload")
}

func TestClient_NoDaemon(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	_, err := client.Status()
	assert.ErrorContains(t, err, "connect to control socket")
}
