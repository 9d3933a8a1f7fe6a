package listener

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oscmap/oscmap/internal/codec"
	"github.com/oscmap/oscmap/internal/inbox"
	"github.com/oscmap/oscmap/testutil"
)

func startListener(t *testing.T, q *inbox.Queue) *Listener {
	t.Helper()
	l, err := Listen(Config{Host: "127.0.0.1", Port: 0, ReadTimeout: 20 * time.Millisecond}, q, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func waitForMessages(t *testing.T, q *inbox.Queue, n int) []inbox.Message {
	t.Helper()
	var got []inbox.Message
	require.Eventually(t, func() bool {
		got = append(got, q.DrainAll()...)
		return len(got) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return got
}

func encode(t *testing.T, address string, args ...any) []byte {
	t.Helper()
	data, err := codec.Encode(address, args...)
	require.NoError(t, err)
	return data
}

func TestListener_ReceivesMessage(t *testing.T) {
	q := inbox.New(16)
	l := startListener(t, q)

	testutil.SendUDP(t, l.Addr().String(), encode(t, "/face/jawOpen", float32(0.5)))

	got := waitForMessages(t, q, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "/face/jawOpen", got[0].Address)
	assert.Equal(t, []any{float32(0.5)}, got[0].Args)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.False(t, got[0].Received.IsZero())
}

func TestListener_MalformedDoesNotStopLoop(t *testing.T) {
	q := inbox.New(16)
	l := startListener(t, q)
	addr := l.Addr().String()

	testutil.SendUDP(t, addr, []byte("definitely not osc"))
	testutil.SendUDP(t, addr, encode(t, "/ok", int32(1)))

	got := waitForMessages(t, q, 1)
	require.Len(t, got, 1)
	assert.Equal(t, "/ok", got[0].Address)

	assert.Eventually(t, func() bool {
		return l.Stats().DecodeErrors == 1
	}, time.Second, 5*time.Millisecond)
}

func TestListener_SequenceIncreases(t *testing.T) {
	q := inbox.New(64)
	l := startListener(t, q)
	addr := l.Addr().String()

	for i := 0; i < 10; i++ {
		testutil.SendUDP(t, addr, encode(t, "/seq", int32(i)))
	}

	got := waitForMessages(t, q, 10)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
}

func TestListener_DropsWhenQueueFull(t *testing.T) {
	q := inbox.New(1)
	l := startListener(t, q)
	addr := l.Addr().String()

	testutil.SendUDP(t, addr, encode(t, "/a"))
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, 5*time.Millisecond)

	testutil.SendUDP(t, addr, encode(t, "/b"))
	require.Eventually(t, func() bool { return l.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)

	got := q.DrainAll()
	require.Len(t, got, 1)
	assert.Equal(t, "/a", got[0].Address)
}

func TestListener_BindConflict(t *testing.T) {
	q := inbox.New(1)
	first := startListener(t, q)

	_, err := Listen(Config{Host: "127.0.0.1", Port: first.Addr().Port}, q, nil)
	require.Error(t, err)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr))
	assert.Contains(t, bindErr.Addr, "127.0.0.1")
}

func TestListener_CloseReleasesSocket(t *testing.T) {
	q := inbox.New(1)
	l, err := Listen(Config{Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second}, q, nil)
	require.NoError(t, err)
	port := l.Addr().Port

	start := time.Now()
	require.NoError(t, l.Close())
	assert.Less(t, time.Since(start), 500*time.Millisecond, "close does not wait for the read deadline")

	// Second close is a no-op.
	assert.NoError(t, l.Close())

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err, "port is free after Close")
	_ = conn.Close()
}

func TestConfigAddr(t *testing.T) {
	assert.Equal(t, "0.0.0.0:9000", Config{Host: "0.0.0.0", Port: 9000}.Addr())
	assert.Equal(t, "[::1]:9000", Config{Host: "::1", Port: 9000}.Addr())
}
