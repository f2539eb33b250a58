package agentipc

import (
	"context"
	"net"
)

// Endpoint abstracts dialing either the control socket (n == 0) or the
// nth data socket a server names in its handshake reply — the same
// split as the original's createSocket(number, net), generalized per
// Design Note "abstract behind a transport interface with {UnixSocket,
// WindowsNamedPipe, TCP} variants."
type Endpoint interface {
	Dial(ctx context.Context, n int) (net.Conn, error)
}

// Listener abstracts accepting control-socket connections, server side.
type Listener interface {
	net.Listener
	// ListenData creates the listener for the nth auxiliary data channel of a connection
	// this listener's Accept produced (the listener process creates
	// these itself, naming them back to the client over the control
	// connection).
	ListenData(n int) (net.Listener, error)
}

// Command is one shell-issued instruction.
type Command struct {
	Text string
	// Interactive marks the command as originating from an
	// interactive shell; the wire frame is prefixed with 'X'
	// (spec.md §4.I step 2).
	Interactive bool
}

// ConfirmPrompt answers a REQCONFIRM prompt the server raises
// mid-command (spec.md §4.I step 4).
type ConfirmPrompt func(question string) bool

// Result is the outcome of ExecuteCommand.
type Result struct {
	OutCode OutCode
	Output  []byte
}

// encodeInteractivePrefix prepends the 'X' interactive-origin flag
// before platform encoding happens, matching the original's
// command="X"+command done once regardless of the OS branch that
// follows it.
func encodeInteractivePrefix(text string, interactive bool) string {
	if interactive {
		return "X" + text
	}
	return text
}
