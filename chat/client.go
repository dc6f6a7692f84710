package chat

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"chatrelay/logger"
	"chatrelay/transport"
)

// Display is the output half of a console: one text line per call.
type Display interface {
	Display(text string)
}

// ErrConnect is wrapped by errors returned when a session cannot open its
// connection. Construction of a ClientSession is all-or-nothing; on
// ErrConnect no session exists.
var ErrConnect = errors.New("could not open connection")

const sendFailedNotice = "could not send message to server, terminating client"

// ClientSession is the per-process client state machine. It is either
// connected (logged in) or disconnected; console input is dispatched through
// the command grammar and server lines are displayed verbatim.
//
// The session never terminates the process itself: quitting closes the Done
// channel and the embedding command maps that to process exit.
type ClientSession struct {
	loginID string
	ui      Display
	log     logger.Logger
	conn    *transport.Client

	done     chan struct{}
	quitOnce sync.Once
}

// ClientOption configures a ClientSession before it connects.
type ClientOption func(*ClientSession)

// WithResolver installs a resolve function on the session's connection,
// typically resolver.Resolve for cached host lookups.
func WithResolver(fn transport.ResolveFunc) ClientOption {
	return func(s *ClientSession) {
		s.conn.SetResolver(fn)
	}
}

// NewClientSession opens a connection to host:port, sends the login message
// for loginID, and returns the connected session. Construction does not
// succeed partially: on any failure the connection is closed and an error
// wrapping ErrConnect is returned.
//
// Parameters:
//   - loginID: The identifier sent in the login message; immutable afterwards
//   - host: Server host name or IP literal
//   - port: Server TCP port
//   - ui: Console output sink
//   - log: Logger
//   - opts: Optional configuration
//
// Returns:
//   - The connected, logged-in session
//   - An error wrapping ErrConnect if connecting or the login send failed
func NewClientSession(loginID, host string, port int, ui Display, log logger.Logger, opts ...ClientOption) (*ClientSession, error) {
	s := &ClientSession{
		loginID: loginID,
		ui:      ui,
		log:     log,
		conn:    transport.NewClient(host, port, log),
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.conn.OnLine(s.handleServerLine)
	s.conn.OnState(s.handleStateChange)

	if err := s.conn.Open(context.Background()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	if err := s.conn.Send(LoginPrefix + loginID); err != nil {
		_ = s.conn.Close()
		return nil, fmt.Errorf("%w: send login: %v", ErrConnect, err)
	}

	log.Info("logged in", logger.Field{Key: "loginID", Value: loginID})

	return s, nil
}

// LoginID returns the session's login identifier.
func (s *ClientSession) LoginID() string {
	return s.loginID
}

// Connected reports whether the session currently has an open connection.
func (s *ClientSession) Connected() bool {
	return s.conn.IsOpen()
}

// Done returns a channel closed when the session has quit, either by the
// quit command or after a fatal transport failure.
func (s *ClientSession) Done() <-chan struct{} {
	return s.done
}

// HandleInput processes one line of console input: chat text is sent to the
// server, commands are dispatched by name. Sending chat while disconnected
// is fatal to the session.
//
// Parameters:
//   - line: One line of console input
func (s *ClientSession) HandleInput(line string) {
	in := ParseLine(line)
	switch in.Kind {
	case KindChat:
		s.sendChat(in.Text)
	case KindCommand:
		s.handleCommand(in)
	default:
		s.ui.Display(NotValidCommand)
	}
}

// sendChat forwards chat text to the server. The console is the only sender
// and has no way to react to a failed send, so failure terminates the
// session after a notice.
func (s *ClientSession) sendChat(text string) {
	if !s.conn.IsOpen() {
		s.ui.Display(sendFailedNotice)
		s.Quit()
		return
	}

	if err := s.conn.Send(text); err != nil {
		s.log.Error("send failed", logger.Field{Key: "error", Value: err})
		s.ui.Display(sendFailedNotice)
		s.Quit()
	}
}

func (s *ClientSession) handleCommand(in Input) {
	switch in.Name {
	case "quit":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.Quit()

	case "logoff":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		_ = s.conn.Close()

	case "login":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		// Reconnect only; the login message is not re-sent on this path.
		if s.conn.IsOpen() {
			return
		}

		if err := s.conn.Open(context.Background()); err != nil {
			s.log.Warn("reconnect failed", logger.Field{Key: "error", Value: err})
			s.ui.Display("could not connect to server")
		}

	case "gethost":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.ui.Display(s.conn.Host())

	case "getport":
		if in.Arg != "" {
			s.ui.Display(NotValidCommand)
			return
		}

		s.ui.Display(strconv.Itoa(s.conn.Port()))

	case "sethost":
		if in.Arg == "" {
			s.ui.Display("use command #sethost <host_name_here>")
			return
		}

		if err := s.conn.SetHost(in.Arg); err != nil {
			s.ui.Display("cannot set host when logged in")
		}

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

		if err := s.conn.SetPort(port); err != nil {
			s.ui.Display("cannot set port when logged in")
		}

	default:
		s.ui.Display(NotValidCommand)
	}
}

// handleServerLine displays a server message verbatim.
func (s *ClientSession) handleServerLine(line string) {
	s.ui.Display(line)
}

// handleStateChange distinguishes a requested close (session stays alive,
// disconnected) from a transport failure while waiting for server data
// (fatal: the session quits).
func (s *ClientSession) handleStateChange(state transport.State, err error) {
	if state != transport.Disconnected {
		return
	}

	if err == nil {
		s.ui.Display("connection has been closed")
		return
	}

	s.ui.Display("server has shutdown")
	s.Quit()
}

// Quit closes the connection, ignoring close errors, and closes Done.
// Safe to call multiple times.
func (s *ClientSession) Quit() {
	s.quitOnce.Do(func() {
		_ = s.conn.Close()
		close(s.done)
	})
}
