package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"chatrelay/logger"
)

// State represents the current state of the client connection.
type State int

const (
	Disconnected State = iota // Not connected
	Connecting                // Dial in progress
	Connected                 // Connection established
)

// String returns a human-readable name for the connection state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// StateHandler is called when the connection state changes. For a transition
// to Disconnected, err is nil when the close was requested through Close and
// non-nil when the transport failed underneath an open connection.
type StateHandler func(state State, err error)

// LineHandler is called for each line received from the server.
type LineHandler func(line string)

// ResolveFunc maps a host name to a dialable address. When nil the host is
// dialed as given.
type ResolveFunc func(ctx context.Context, host string) (string, error)

// defaultDialTimeout bounds connection establishment; reads have no deadline
// because the protocol blocks indefinitely waiting for server traffic.
const defaultDialTimeout = 10 * time.Second

// Client is a line-oriented TCP client driven by events: register handlers
// with OnState and OnLine, then call Open. Host and port are mutable only
// while disconnected. Safe for concurrent use.
//
// Handlers are invoked synchronously from the goroutine that observed the
// event (the read goroutine for received lines and transport failures, the
// calling goroutine for Open and Close transitions).
type Client struct {
	log logger.Logger

	mu      sync.RWMutex
	host    string
	port    int
	resolve ResolveFunc
	conn    net.Conn
	state   State

	onState StateHandler
	onLine  LineHandler
}

// NewClient creates a Client for the given host and port. The client starts
// Disconnected; call Open to establish a connection.
//
// Parameters:
//   - host: Server host name or IP literal
//   - port: Server TCP port
//   - log: Logger for transport-level events
//
// Returns:
//   - A new Client
func NewClient(host string, port int, log logger.Logger) *Client {
	return &Client{
		log:   log,
		host:  host,
		port:  port,
		state: Disconnected,
	}
}

// OnState registers the handler for connection state changes. Only one
// handler is active; repeated calls replace the previous handler.
func (c *Client) OnState(handler StateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = handler
}

// OnLine registers the handler for received lines. Only one handler is
// active; repeated calls replace the previous handler.
func (c *Client) OnLine(handler LineHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLine = handler
}

// SetResolver installs a resolve function used to map the host to a dial
// address on each Open.
func (c *Client) SetResolver(fn ResolveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolve = fn
}

// Host returns the configured server host.
func (c *Client) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// Port returns the configured server port.
func (c *Client) Port() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.port
}

// SetHost changes the server host for the next Open.
//
// Returns:
//   - An error if the client is not disconnected
func (c *Client) SetHost(host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return fmt.Errorf("cannot change host while %s", c.state)
	}

	c.host = host
	return nil
}

// SetPort changes the server port for the next Open.
//
// Returns:
//   - An error if the client is not disconnected
func (c *Client) SetPort(port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return fmt.Errorf("cannot change port while %s", c.state)
	}

	c.port = port
	return nil
}

// IsOpen reports whether the client is currently connected.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Connected
}

// Open dials the configured host and port and starts the read goroutine.
//
// Returns:
//   - An error if the client is already open or the dial fails
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return fmt.Errorf("already %s", c.state)
	}

	c.state = Connecting
	host := c.host
	port := c.port
	resolve := c.resolve
	c.mu.Unlock()

	c.emitState(Connecting, nil)

	addr := host
	if resolve != nil {
		resolved, err := resolve(ctx, host)
		if err != nil {
			c.setDisconnected()
			return fmt.Errorf("resolve %s: %w", host, err)
		}

		addr = resolved
	}

	dialer := net.Dialer{Timeout: defaultDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
	if err != nil {
		c.setDisconnected()
		return fmt.Errorf("dial %s:%d: %w", host, port, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.log.Info("connected", logger.Field{Key: "addr", Value: conn.RemoteAddr().String()})
	c.emitState(Connected, nil)

	go c.readLoop(conn)

	return nil
}

// Send writes one line to the connection. The trailing newline is appended
// by Send; line must not contain one.
//
// Returns:
//   - An error if the client is not open or the write failed
func (c *Client) Send(line string) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	return nil
}

// Close closes the connection and moves to Disconnected. The state handler
// is invoked with a nil error to mark the close as requested. Open may be
// called again afterwards. Safe to call when already disconnected.
//
// Returns:
//   - The error from closing the underlying connection, if any
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	err := conn.Close()
	c.emitState(Disconnected, nil)
	return err
}

// readLoop reads lines from conn until it ends. An end not initiated by
// Close (including a clean EOF from the server) is a transport failure and
// is reported through the state handler with a non-nil error.
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		c.emitLine(scanner.Text())
	}
	err := scanner.Err()

	c.mu.Lock()
	active := c.conn == conn
	if active {
		c.conn = nil
		c.state = Disconnected
	}
	c.mu.Unlock()

	if !active {
		// Close already notified the handler.
		return
	}

	_ = conn.Close()
	if err == nil {
		err = io.EOF
	}

	c.log.Warn("connection lost", logger.Field{Key: "error", Value: err})
	c.emitState(Disconnected, err)
}

// setDisconnected rolls back a failed Open. No state event is emitted: the
// connection never opened and Open reports the failure to its caller.
func (c *Client) setDisconnected() {
	c.mu.Lock()
	c.state = Disconnected
	c.mu.Unlock()
}

func (c *Client) emitState(state State, err error) {
	c.mu.RLock()
	handler := c.onState
	c.mu.RUnlock()

	if handler != nil {
		handler(state, err)
	}
}

func (c *Client) emitLine(line string) {
	c.mu.RLock()
	handler := c.onLine
	c.mu.RUnlock()

	if handler != nil {
		handler(line)
	}
}
