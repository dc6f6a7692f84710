package transport

import (
	"fmt"
	"net"
	"sync"
)

// Session is one open server-side connection. The server creates a Session
// per accepted connection and runs its read loop in a goroutine; messages
// are newline-delimited UTF-8 text lines.
//
// Send and Close are safe for concurrent use. Once Close has been called no
// further line is written to the connection.
type Session struct {
	id   uint32
	conn net.Conn

	mu     sync.Mutex
	closed bool

	// dropOnce guards the registry removal and the OnDisconnected callback
	// so they fire exactly once per session regardless of how it ends.
	dropOnce sync.Once
}

func newSession(id uint32, conn net.Conn) *Session {
	return &Session{
		id:   id,
		conn: conn,
	}
}

// ID returns the session's unique identifier assigned by the server.
func (s *Session) ID() uint32 {
	return s.id
}

// RemoteAddr returns the peer address of the connection.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Send writes one line to the connection. The trailing newline is appended
// by Send; line must not contain one.
//
// Parameters:
//   - line: The text line to send
//
// Returns:
//   - An error if the session is closed or the write failed
func (s *Session) Send(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session %d is closed", s.id)
	}

	if _, err := fmt.Fprintf(s.conn, "%s\n", line); err != nil {
		return fmt.Errorf("session %d write: %w", s.id, err)
	}

	return nil
}

// Close closes the session's connection. It is safe to call multiple times;
// subsequent calls return nil. Closing unblocks the read loop, which then
// removes the session from the server registry and fires OnDisconnected.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.conn.Close()
}

// isClosed reports whether Close has been called.
func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
