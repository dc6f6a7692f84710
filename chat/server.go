package chat

import (
	"strconv"
	"strings"
	"sync"

	"chatrelay/logger"
	"chatrelay/safemap"
	"chatrelay/transport"
)

const (
	needLoginNotice       = "need to log in first"
	alreadyLoggedNotice   = "you are logged in already"
	clientConnectedNotice = "a new client has connected to the server"
	serverMsgPrefix       = "SERVER MSG> "
	setPortRejected       = "cannot set port while the server is listening or clients are connected"
)

// ServerSession is the per-process server authority: it owns the login
// registry, enforces login-before-chat, formats and broadcasts traffic, and
// dispatches operator console commands. It is the transport.Handler for its
// embedded server.
//
// Login ids are kept in a dedicated registry keyed by session ID rather than
// per-connection string metadata, so a connection is authenticated exactly
// when it has an entry here.
type ServerSession struct {
	srv    *transport.Server
	ui     Display
	log    logger.Logger
	logins *safemap.SafeMap[uint32, string]

	done     chan struct{}
	quitOnce sync.Once
}

// NewServerSession creates a server session that will listen on the given
// TCP port. Call Listen to start accepting clients.
//
// Parameters:
//   - port: TCP port to listen on (0 selects an ephemeral port)
//   - ui: Operator console output sink
//   - log: Logger
//
// Returns:
//   - A new ServerSession
func NewServerSession(port int, ui Display, log logger.Logger) *ServerSession {
	s := &ServerSession{
		ui:     ui,
		log:    log,
		logins: safemap.NewSafeMap[uint32, string](),
		done:   make(chan struct{}),
	}
	s.srv = transport.NewServer(port, s, log)

	return s
}

// Listen starts accepting client connections and announces the listening
// port on the operator console.
//
// Returns:
//   - An error if the server is already listening or the bind fails
func (s *ServerSession) Listen() error {
	if err := s.srv.Listen(); err != nil {
		return err
	}

	s.ui.Display("server listening for connections on port " + strconv.Itoa(s.srv.Port()))
	return nil
}

// Port returns the port the server is (or will be) listening on.
func (s *ServerSession) Port() int {
	return s.srv.Port()
}

// Listening reports whether the server is accepting new connections.
func (s *ServerSession) Listening() bool {
	return s.srv.IsListening()
}

// ConnectionCount returns the number of currently connected clients.
func (s *ServerSession) ConnectionCount() int {
	return s.srv.ConnectionCount()
}

// Done returns a channel closed when the operator has quit the server.
func (s *ServerSession) Done() <-chan struct{} {
	return s.done
}

// Quit stops the server, disconnects all clients, and closes Done.
// Safe to call multiple times.
func (s *ServerSession) Quit() {
	s.quitOnce.Do(func() {
		s.srv.Close()
		close(s.done)
	})
}

// OnConnected implements transport.Handler. Login is not required yet; the
// connection only needs to authenticate before chatting.
func (s *ServerSession) OnConnected(sess *transport.Session) {
	s.srv.Broadcast(clientConnectedNotice)
}

// OnMessage implements transport.Handler. Login messages update the
// registry; anything else is chat and is relayed only for authenticated
// connections.
func (s *ServerSession) OnMessage(sess *transport.Session, msg string) {
	if strings.HasPrefix(msg, LoginPrefix) {
		s.handleLogin(sess, msg)
		return
	}

	loginID, ok := s.logins.Load(sess.ID())
	if !ok {
		// Unauthenticated chat: reject, drop the connection, and suppress
		// the message entirely.
		s.log.Warn("chat before login", logger.Field{Key: "session", Value: sess.ID()})
		_ = sess.Send(needLoginNotice)
		_ = sess.Close()
		return
	}

	s.log.Info("message received",
		logger.Field{Key: "from", Value: loginID},
		logger.Field{Key: "message", Value: msg})
	s.srv.Broadcast(loginID + ": " + msg)
}

// handleLogin processes a #login message. A connection logs in at most
// once; a repeat attempt gets a notice and the stored id is not reassigned.
func (s *ServerSession) handleLogin(sess *transport.Session, msg string) {
	if s.logins.Has(sess.ID()) {
		_ = sess.Send(alreadyLoggedNotice)
		return
	}

	loginID := msg[len(LoginPrefix):]
	s.logins.Store(sess.ID(), loginID)
	s.log.Info("client logged in",
		logger.Field{Key: "session", Value: sess.ID()},
		logger.Field{Key: "loginID", Value: loginID})
	s.srv.Broadcast(loginID + " has logged on")
}

// OnDisconnected implements transport.Handler.
func (s *ServerSession) OnDisconnected(sess *transport.Session) {
	loginID, _ := s.logins.Load(sess.ID())
	s.logins.Delete(sess.ID())
	s.srv.Broadcast("client " + loginID + " has disconnected")
}

// OnError implements transport.Handler. A per-connection I/O failure is
// logged and treated as a disconnect for that connection only.
func (s *ServerSession) OnError(sess *transport.Session, err error) {
	s.log.Warn("connection error",
		logger.Field{Key: "session", Value: sess.ID()},
		logger.Field{Key: "error", Value: err})
}

// HandleConsoleInput processes one line of operator console input: command
// lines are dispatched, anything else is displayed locally and broadcast to
// all clients with the server prefix.
//
// Parameters:
//   - line: One line of operator console input
func (s *ServerSession) HandleConsoleInput(line string) {
	in := ParseLine(line)
	switch in.Kind {
	case KindChat:
		s.ui.Display(in.Text)
		s.srv.Broadcast(serverMsgPrefix + in.Text)
	case KindCommand:
		s.handleCommand(in)
	default:
		s.ui.Display(NotValidCommand)
	}
}

func (s *ServerSession) handleCommand(in Input) {
	switch in.Name {
	case "quit":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.ui.Display("the server has terminated")
		s.Quit()

	case "stop":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.srv.StopListening()
		s.ui.Display("server has stopped listening for connections")

	case "close":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.srv.Close()

	case "start":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		if s.srv.IsListening() {
			s.ui.Display("server is already listening to clients")
			return
		}

		if err := s.Listen(); err != nil {
			s.log.Error("listen failed", logger.Field{Key: "error", Value: err})
			s.ui.Display("could not start listening for clients")
		}

	case "getport":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.ui.Display(strconv.Itoa(s.srv.Port()))

	case "setport":
		if in.Arg == "" {
			s.ui.Display("use command #setport <port_number_here>")
			return
		}

		port, err := strconv.Atoi(in.Arg)
		if err != nil {
			s.ui.Display(NotValidCommand)
			return
		}

		if s.srv.IsListening() || s.srv.ConnectionCount() > 0 {
			s.ui.Display(setPortRejected)
			return
		}

		if err := s.srv.SetPort(port); err != nil {
			s.ui.Display(setPortRejected)
		}

	default:
		s.ui.Display(NotValidCommand)
	}
}
