// Package console provides the line-oriented console boundary: a blocking
// read loop over an input stream and a Display sink for output lines.
package console

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// Console reads input lines and writes output lines. Display calls are
// serialized, so session callbacks and the read loop may write concurrently.
type Console struct {
	in          io.Reader
	interactive bool

	mu     sync.Mutex
	out    io.Writer
	prefix string
	prompt string
}

// Option configures a Console.
type Option func(*Console)

// WithPrefix prefixes every displayed line, e.g. "SERVER MSG> " for the
// operator console.
func WithPrefix(prefix string) Option {
	return func(c *Console) {
		c.prefix = prefix
	}
}

// WithPrompt prints a prompt before each read when the input is a terminal.
// The prompt is suppressed for piped input.
func WithPrompt(prompt string) Option {
	return func(c *Console) {
		c.prompt = prompt
	}
}

// New creates a Console over the given streams. Interactivity (for the
// prompt) is detected only for os.Stdin.
//
// Parameters:
//   - in: Line input source
//   - out: Line output sink
//   - opts: Optional configuration
//
// Returns:
//   - A new Console
func New(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		in:  in,
		out: out,
	}

	if f, ok := in.(*os.File); ok {
		c.interactive = term.IsTerminal(int(f.Fd()))
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewStdio creates a Console over os.Stdin and os.Stdout.
func NewStdio(opts ...Option) *Console {
	return New(os.Stdin, os.Stdout, opts...)
}

// Display writes one line to the output, with the configured prefix.
//
// Parameters:
//   - text: The line to display
func (c *Console) Display(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.prefix+text)
}

// Run reads input lines and passes each to handle. It blocks until the
// input stream ends.
//
// Parameters:
//   - handle: Called with each input line, without the trailing newline
//
// Returns:
//   - The scanner error, or nil on a clean end of input
func (c *Console) Run(handle func(line string)) error {
	scanner := bufio.NewScanner(c.in)
	for {
		if c.interactive && c.prompt != "" {
			c.mu.Lock()
			fmt.Fprint(c.out, c.prompt)
			c.mu.Unlock()
		}

		if !scanner.Scan() {
			break
		}

		handle(scanner.Text())
	}

	return scanner.Err()
}
