// Package chat implements the chat protocol core: the console command
// grammar, the client session state machine, and the server session with its
// login registry. The transport package supplies the connections; this
// package decides what flows over them.
package chat

import "strings"

// Sentinel marks a console line as a command rather than chat text.
const Sentinel = "#"

// LoginPrefix is the wire prefix of a login message. Everything after it,
// space included in the split, is the login id.
const LoginPrefix = "#login "

// NotValidCommand is the response to any malformed or unrecognized command.
const NotValidCommand = "not a valid command"

// Kind classifies one console input line.
type Kind int

const (
	KindChat    Kind = iota // Plain chat text
	KindCommand             // A command with valid arity (name may still be unrecognized)
	KindInvalid             // A command line with bad arity
)

// Input is the transient result of parsing one console line.
type Input struct {
	Kind Kind
	Text string // the raw line, as typed
	Name string // command name without the sentinel
	Arg  string // single argument, empty for arity-1 commands
}

// ParseLine classifies one console line. Lines not starting with the
// sentinel are chat text. Command lines are split on whitespace: one token
// is a bare command, two tokens a command with argument, anything else is
// invalid. Whether the name is recognized is decided at dispatch, since the
// client and server accept different sets.
//
// Parameters:
//   - line: One line of console input, without the trailing newline
//
// Returns:
//   - The classified Input
func ParseLine(line string) Input {
	if !strings.HasPrefix(line, Sentinel) {
		return Input{Kind: KindChat, Text: line}
	}

	parts := strings.Fields(line)
	switch len(parts) {
	case 1:
		return Input{
			Kind: KindCommand,
			Text: line,
			Name: strings.TrimPrefix(parts[0], Sentinel),
		}
	case 2:
		return Input{
			Kind: KindCommand,
			Text: line,
			Name: strings.TrimPrefix(parts[0], Sentinel),
			Arg:  parts[1],
		}
	default:
		return Input{Kind: KindInvalid, Text: line}
	}
}
