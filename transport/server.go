// Package transport provides the line-oriented TCP connection layer the chat
// sessions are built on: a server with an accept loop, per-connection read
// goroutines, and lifecycle callbacks, plus an event-driven client. Framing
// is newline-delimited UTF-8 text in both directions.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"chatrelay/idgenerator"
	"chatrelay/logger"
	"chatrelay/safemap"
)

// Handler receives connection lifecycle events from a Server. All callbacks
// for one session are invoked from that session's goroutine (OnConnected
// from the accept goroutine); implementations must be safe for concurrent
// use across sessions.
type Handler interface {
	// OnConnected is called after a new session has been registered.
	OnConnected(s *Session)

	// OnMessage is called for each line received from the session.
	OnMessage(s *Session, line string)

	// OnDisconnected is called exactly once after the session has been
	// removed from the registry and its connection closed.
	OnDisconnected(s *Session)

	// OnError is called when a session's read loop fails with an I/O error
	// other than an orderly close. OnDisconnected still follows.
	OnError(s *Session, err error)
}

// Server is a line-oriented TCP server. It accepts connections, registers a
// Session per connection, and delegates protocol handling to a Handler.
// Listening can be stopped and resumed without dropping existing sessions;
// Close drops everything.
type Server struct {
	log     logger.Logger
	handler Handler

	mu       sync.Mutex // guards port and listener
	port     int
	listener net.Listener

	listening atomic.Bool
	sessions  *safemap.SafeMap[uint32, *Session]
	ids       *idgenerator.IdGenerator
}

// NewServer creates a Server that will listen on the given TCP port.
// Port 0 selects an ephemeral port at Listen time.
//
// Parameters:
//   - port: TCP port to listen on
//   - handler: Receiver of connection lifecycle events
//   - log: Logger for transport-level events
//
// Returns:
//   - A new Server; call Listen to start accepting connections
func NewServer(port int, handler Handler, log logger.Logger) *Server {
	return &Server{
		log:      log,
		handler:  handler,
		port:     port,
		sessions: safemap.NewSafeMap[uint32, *Session](),
		ids:      idgenerator.NewIdGenerator(0),
	}
}

// Listen binds to the configured port and starts the accept loop in a
// goroutine. Existing sessions are unaffected, so Listen may be used to
// resume accepting after StopListening.
//
// Returns:
//   - An error if the server is already listening or the bind fails
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening.Load() {
		return fmt.Errorf("server already listening on port %d", s.port)
	}

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.port))
	if err != nil {
		s.log.Error("server failed to listen", logger.Field{Key: "port", Value: s.port}, logger.Field{Key: "error", Value: err})
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}

	s.port = ln.Addr().(*net.TCPAddr).Port
	s.listener = ln
	s.listening.Store(true)

	s.log.Info("server listening", logger.Field{Key: "port", Value: s.port})
	go s.acceptLoop(ln)

	return nil
}

// StopListening stops accepting new connections. Existing sessions keep
// running. Safe to call when not listening.
func (s *Server) StopListening() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.listening.Load() {
		return
	}

	s.listening.Store(false)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}

	s.log.Info("server stopped listening")
}

// Close stops listening and closes every open session. The per-session
// OnDisconnected callbacks fire from the session read loops as they unwind.
func (s *Server) Close() {
	s.StopListening()

	s.sessions.Range(func(id uint32, sess *Session) bool {
		_ = sess.Close()
		return true
	})
}

// IsListening reports whether the server is currently accepting connections.
func (s *Server) IsListening() bool {
	return s.listening.Load()
}

// ConnectionCount returns the number of currently open sessions.
func (s *Server) ConnectionCount() int {
	return s.sessions.Len()
}

// Port returns the port the server is (or will be) listening on. After a
// Listen with port 0 this is the ephemeral port actually bound.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// SetPort changes the port used by the next Listen.
//
// Returns:
//   - An error if the server is currently listening
func (s *Server) SetPort(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening.Load() {
		return fmt.Errorf("cannot change port while listening")
	}

	s.port = port
	return nil
}

// Broadcast sends one line to every open session, best-effort. A failed or
// concurrently closing session is skipped; failures never propagate to the
// caller. Sessions registered mid-broadcast may miss this line but receive
// all subsequent ones.
//
// Parameters:
//   - line: The text line to fan out
func (s *Server) Broadcast(line string) {
	s.sessions.Range(func(id uint32, sess *Session) bool {
		if err := sess.Send(line); err != nil {
			s.log.Debug("broadcast skipped session",
				logger.Field{Key: "session", Value: id},
				logger.Field{Key: "error", Value: err})
		}

		return true
	})
}

// acceptLoop accepts connections on ln until StopListening or Close. Each
// connection gets an ID, a registry entry, an OnConnected callback, and a
// read goroutine.
func (s *Server) acceptLoop(ln net.Listener) {
	for s.listening.Load() {
		conn, err := ln.Accept()
		if err != nil {
			// A closed listener ends this loop even if another Listen has
			// already started a new one.
			if !s.listening.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.log.Error("accept error", logger.Field{Key: "error", Value: err})
			continue
		}

		id := s.ids.Id()
		sess := newSession(id, conn)
		s.sessions.Store(id, sess)
		s.log.Info("client connected",
			logger.Field{Key: "session", Value: id},
			logger.Field{Key: "remote", Value: sess.RemoteAddr()})

		s.handler.OnConnected(sess)
		go s.serveSession(sess)
	}
}

// serveSession reads lines from the session until the connection ends, then
// tears the session down. A read error on a session the server did not close
// is reported through OnError and treated as a disconnect; it never affects
// other sessions.
func (s *Server) serveSession(sess *Session) {
	defer s.drop(sess)

	scanner := bufio.NewScanner(sess.conn)
	for scanner.Scan() {
		s.handler.OnMessage(sess, scanner.Text())
	}

	if err := scanner.Err(); err != nil && !sess.isClosed() {
		s.log.Warn("session read error",
			logger.Field{Key: "session", Value: sess.ID()},
			logger.Field{Key: "error", Value: err})
		s.handler.OnError(sess, err)
	}
}

// drop removes the session from the registry, closes it, and notifies the
// handler. Runs exactly once per session.
func (s *Server) drop(sess *Session) {
	sess.dropOnce.Do(func() {
		_ = sess.Close()
		s.sessions.Delete(sess.ID())
		s.log.Info("client disconnected", logger.Field{Key: "session", Value: sess.ID()})
		s.handler.OnDisconnected(sess)
	})
}
