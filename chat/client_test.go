package chat

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/logger"
)

// fakeServer is a raw TCP listener standing in for the chat server.
type fakeServer struct {
	ln    net.Listener
	conns chan net.Conn
	lines chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeServer{
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
			f.conns <- conn
			go func(conn net.Conn) {
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					f.lines <- scanner.Text()
				}
			}(conn)
		}
	}()

	return f
}

func (f *fakeServer) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-f.conns:
		return conn
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func (f *fakeServer) receive(t *testing.T) string {
	t.Helper()
	select {
	case line := <-f.lines:
		return line
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for a line")
		return ""
	}
}

func (f *fakeServer) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case line := <-f.lines:
		t.Fatalf("expected no traffic, got %q", line)
	case <-time.After(150 * time.Millisecond):
	}
}

func newClientSession(t *testing.T, f *fakeServer, loginID string) (*ClientSession, *displayRecorder) {
	t.Helper()
	ui := &displayRecorder{}
	s, err := NewClientSession(loginID, "127.0.0.1", f.port(), ui, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Quit)
	return s, ui
}

func assertDone(t *testing.T, s *ClientSession) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(eventTimeout):
		t.Fatal("session did not quit")
	}
}

func assertAlive(t *testing.T, s *ClientSession) {
	t.Helper()
	select {
	case <-s.Done():
		t.Fatal("session quit unexpectedly")
	default:
	}
}

func TestClientSession_ConstructSendsLogin(t *testing.T) {
	f := newFakeServer(t)
	s, _ := newClientSession(t, f, "alice")

	f.accept(t)
	assert.Equal(t, "#login alice", f.receive(t))
	assert.True(t, s.Connected())
	assert.Equal(t, "alice", s.LoginID())
}

func TestClientSession_ConstructFailure(t *testing.T) {
	ui := &displayRecorder{}
	_, err := NewClientSession("alice", "127.0.0.1", 1, ui, logger.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
}

func TestClientSession_ChatIsSentVerbatim(t *testing.T) {
	f := newFakeServer(t)
	s, _ := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t) // login line

	s.HandleInput("hello everyone")
	assert.Equal(t, "hello everyone", f.receive(t))
}

func TestClientSession_ServerLinesAreDisplayed(t *testing.T) {
	f := newFakeServer(t)
	_, ui := newClientSession(t, f, "alice")
	conn := f.accept(t)
	f.receive(t)

	_, err := conn.Write([]byte("bob: hi\n"))
	require.NoError(t, err)
	ui.waitFor(t, "bob: hi")
}

func TestClientSession_SetWhileConnected(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	t.Run("setport rejected", func(t *testing.T) {
		s.HandleInput("#setport 6000")
		ui.waitFor(t, "cannot set port when logged in")
		// Nothing goes over the wire and the port is unchanged.
		f.expectSilence(t)
		s.HandleInput("#getport")
		ui.waitFor(t, strconv.Itoa(f.port()))
	})

	t.Run("sethost rejected", func(t *testing.T) {
		s.HandleInput("#sethost elsewhere")
		ui.waitFor(t, "cannot set host when logged in")
		s.HandleInput("#gethost")
		ui.waitFor(t, "127.0.0.1")
	})
}

func TestClientSession_GetHostPort(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	s.HandleInput("#gethost")
	ui.waitFor(t, "127.0.0.1")
	s.HandleInput("#getport")
	ui.waitFor(t, strconv.Itoa(f.port()))
}

func TestClientSession_LogoffAndReconnect(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	s.HandleInput("#logoff")
	ui.waitFor(t, "connection has been closed")
	assert.False(t, s.Connected())
	assertAlive(t, s)

	t.Run("set host and port allowed while disconnected", func(t *testing.T) {
		s.HandleInput("#setport " + strconv.Itoa(f.port()))
		s.HandleInput("#sethost 127.0.0.1")
		s.HandleInput("#getport")
		ui.waitFor(t, strconv.Itoa(f.port()))
	})

	t.Run("login reconnects without resending the login message", func(t *testing.T) {
		s.HandleInput("#login")
		f.accept(t)
		assert.True(t, s.Connected())
		f.expectSilence(t)

		s.HandleInput("back again")
		assert.Equal(t, "back again", f.receive(t))
	})

	t.Run("login while connected is a no-op", func(t *testing.T) {
		s.HandleInput("#login")
		assert.True(t, s.Connected())
		f.expectSilence(t)
	})
}

func TestClientSession_InvalidCommands(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	tests := []struct {
		name string
		line string
	}{
		{"unrecognized name", "#bogus"},
		{"non-numeric setport", "#setport abc"},
		{"bad arity", "#quit now"},
		{"stop is a server command", "#stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.HandleInput(tt.line)
			ui.waitFor(t, NotValidCommand)
			f.expectSilence(t)
			assertAlive(t, s)
		})
	}
}

func TestClientSession_UsageHints(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	s.HandleInput("#sethost")
	ui.waitFor(t, "use command #sethost <host_name_here>")
	s.HandleInput("#setport")
	ui.waitFor(t, "use command #setport <port_number_here>")
}

func TestClientSession_Quit(t *testing.T) {
	f := newFakeServer(t)
	s, _ := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	s.HandleInput("#quit")
	assertDone(t, s)
}

func TestClientSession_ChatWhileDisconnectedIsFatal(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	f.accept(t)
	f.receive(t)

	s.HandleInput("#logoff")
	ui.waitFor(t, "connection has been closed")

	s.HandleInput("hello?")
	ui.waitFor(t, sendFailedNotice)
	assertDone(t, s)
}

func TestClientSession_ServerShutdownIsFatal(t *testing.T) {
	f := newFakeServer(t)
	s, ui := newClientSession(t, f, "alice")
	conn := f.accept(t)
	f.receive(t)

	_ = conn.Close()
	ui.waitFor(t, "server has shutdown")
	assertDone(t, s)
}
