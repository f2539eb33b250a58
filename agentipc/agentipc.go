// Package agentipc implements the shell<->server local IPC framing
// spec.md §4.I describes: a two-socket handshake (a control socket that
// names a per-command data socket, then the data socket itself carrying
// an outcode and streamed output), a REQCONFIRM prompt loop, and a
// long-lived state-change listener socket with 30s-silence
// auto-reregistration.
//
// Grounded on original_source
// examples/megacmd/megacmdshell/megacmdshellcommunications.cpp (POSIX
// sockets) and megacmdshellcommunicationsnamedpipes.cpp (Windows named
// pipes): this package keeps the same two-call shape (dial the control
// socket, then the server-named data socket) but replaces the
// original's platform #ifdefs with the {UnixEndpoint, WindowsEndpoint}
// split Design Note "Platform #ifdefs throughout transport and IPC"
// calls for.
package agentipc

import "fmt"

// OutCode is the wire-level result code a command's data socket
// carries, per spec.md §6's agent-IPC error namespace.
type OutCode int32

const (
	OK            OutCode = 0
	EArgs         OutCode = -51
	InvalidEmail  OutCode = -52
	NotFound      OutCode = -53
	InvalidState  OutCode = -54
	InvalidType   OutCode = -55
	NotPermitted  OutCode = -56
	NotLoggedIn   OutCode = -57
	NoFetch       OutCode = -58
	EUnexpected   OutCode = -59
	REQConfirm    OutCode = -60
)

func (c OutCode) String() string {
	switch c {
	case OK:
		return "OK"
	case EArgs:
		return "EARGS"
	case InvalidEmail:
		return "INVALIDEMAIL"
	case NotFound:
		return "NOTFOUND"
	case InvalidState:
		return "INVALIDSTATE"
	case InvalidType:
		return "INVALIDTYPE"
	case NotPermitted:
		return "NOTPERMITTED"
	case NotLoggedIn:
		return "NOTLOGGEDIN"
	case NoFetch:
		return "NOFETCH"
	case EUnexpected:
		return "EUNEXPECTED"
	case REQConfirm:
		return "REQCONFIRM"
	default:
		return fmt.Sprintf("OutCode(%d)", int32(c))
	}
}
