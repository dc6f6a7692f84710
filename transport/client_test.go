package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/logger"
)

// testPeer is a raw TCP listener standing in for the server side.
type testPeer struct {
	ln    net.Listener
	conns chan net.Conn
	lines chan string
}

func newTestPeer(t *testing.T) *testPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &testPeer{
		ln:    ln,
		conns: make(chan net.Conn, 4),
		lines: make(chan string, 64),
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- conn
			go func(conn net.Conn) {
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					p.lines <- scanner.Text()
				}
			}(conn)
		}
	}()

	return p
}

func (p *testPeer) port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

func (p *testPeer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-p.conns:
		return conn
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for accept")
		return nil
	}
}

func (p *testPeer) receive(t *testing.T) string {
	t.Helper()
	select {
	case line := <-p.lines:
		return line
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

type stateEvent struct {
	state State
	err   error
}

func newTestClient(t *testing.T, peer *testPeer) (*Client, chan string, chan stateEvent) {
	t.Helper()
	c := NewClient("127.0.0.1", peer.port(), logger.NewNop())
	lines := make(chan string, 64)
	states := make(chan stateEvent, 16)
	c.OnLine(func(line string) { lines <- line })
	c.OnState(func(state State, err error) { states <- stateEvent{state, err} })
	t.Cleanup(func() { _ = c.Close() })
	return c, lines, states
}

func waitState(t *testing.T, ch chan stateEvent, want State) stateEvent {
	t.Helper()
	for {
		select {
		case ev := <-ch:
			if ev.state == want {
				return ev
			}
		case <-time.After(eventTimeout):
			t.Fatalf("timed out waiting for state %s", want)
		}
	}
}

func TestClient_OpenSendClose(t *testing.T) {
	peer := newTestPeer(t)
	c, _, states := newTestClient(t, peer)

	require.NoError(t, c.Open(context.Background()))
	waitState(t, states, Connected)
	assert.True(t, c.IsOpen())
	peer.accept(t)

	require.NoError(t, c.Send("hello"))
	assert.Equal(t, "hello", peer.receive(t))

	require.NoError(t, c.Close())
	ev := waitState(t, states, Disconnected)
	assert.NoError(t, ev.err, "requested close carries no error")
	assert.False(t, c.IsOpen())
}

func TestClient_OpenFailure(t *testing.T) {
	c := NewClient("127.0.0.1", 1, logger.NewNop()) // nothing listens here
	err := c.Open(context.Background())
	assert.Error(t, err)
	assert.False(t, c.IsOpen())

	t.Run("open may be retried", func(t *testing.T) {
		peer := newTestPeer(t)
		require.NoError(t, c.SetPort(peer.port()))
		require.NoError(t, c.Open(context.Background()))
		t.Cleanup(func() { _ = c.Close() })
		peer.accept(t)
	})
}

func TestClient_DoubleOpen(t *testing.T) {
	peer := newTestPeer(t)
	c, _, _ := newTestClient(t, peer)

	require.NoError(t, c.Open(context.Background()))
	peer.accept(t)
	assert.Error(t, c.Open(context.Background()))
}

func TestClient_ReceiveLines(t *testing.T) {
	peer := newTestPeer(t)
	c, lines, _ := newTestClient(t, peer)

	require.NoError(t, c.Open(context.Background()))
	conn := peer.accept(t)

	_, err := fmt.Fprintln(conn, "first")
	require.NoError(t, err)
	_, err = fmt.Fprintln(conn, "second")
	require.NoError(t, err)

	assert.Equal(t, "first", <-lines)
	assert.Equal(t, "second", <-lines)
}

func TestClient_PeerCloseIsFailure(t *testing.T) {
	peer := newTestPeer(t)
	c, _, states := newTestClient(t, peer)

	require.NoError(t, c.Open(context.Background()))
	conn := peer.accept(t)
	waitState(t, states, Connected)

	_ = conn.Close()
	ev := waitState(t, states, Disconnected)
	require.Error(t, ev.err, "peer-initiated close is a transport failure")
	assert.ErrorIs(t, ev.err, io.EOF)
	assert.False(t, c.IsOpen())
}

func TestClient_SendWhileClosed(t *testing.T) {
	peer := newTestPeer(t)
	c, _, _ := newTestClient(t, peer)

	err := c.Send("nope")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not connected"))
}

func TestClient_HostPortGuards(t *testing.T) {
	peer := newTestPeer(t)
	c, _, _ := newTestClient(t, peer)

	t.Run("mutable while disconnected", func(t *testing.T) {
		require.NoError(t, c.SetHost("localhost"))
		require.NoError(t, c.SetPort(peer.port()))
		assert.Equal(t, "localhost", c.Host())
		assert.Equal(t, peer.port(), c.Port())
	})

	t.Run("immutable while open", func(t *testing.T) {
		require.NoError(t, c.SetHost("127.0.0.1"))
		require.NoError(t, c.Open(context.Background()))
		peer.accept(t)

		assert.Error(t, c.SetHost("elsewhere"))
		assert.Error(t, c.SetPort(9999))
		assert.Equal(t, "127.0.0.1", c.Host())
		assert.Equal(t, peer.port(), c.Port())
	})
}

func TestClient_ResolverIsUsed(t *testing.T) {
	peer := newTestPeer(t)
	c := NewClient("chat.internal", peer.port(), logger.NewNop())
	t.Cleanup(func() { _ = c.Close() })

	resolved := 0
	c.SetResolver(func(ctx context.Context, host string) (string, error) {
		resolved++
		assert.Equal(t, "chat.internal", host)
		return "127.0.0.1", nil
	})

	require.NoError(t, c.Open(context.Background()))
	peer.accept(t)
	assert.Equal(t, 1, resolved)
}

func TestClient_ResolverFailureFailsOpen(t *testing.T) {
	peer := newTestPeer(t)
	c := NewClient("chat.internal", peer.port(), logger.NewNop())

	c.SetResolver(func(ctx context.Context, host string) (string, error) {
		return "", assert.AnError
	})

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, c.IsOpen())
}
