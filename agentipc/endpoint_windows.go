//go:build windows

package agentipc

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"os/user"
	"unicode/utf16"

	"github.com/Microsoft/go-winio"
	"github.com/pkg/errors"
)

// ControlPipeName is \\.\pipe\megacmdpipe_<user>, the named-pipe
// analogue of the POSIX control socket.
func ControlPipeName(user string) string {
	return fmt.Sprintf(`\\.\pipe\megacmdpipe_%s`, user)
}

// DataPipeName is \\.\pipe\megacmdpipe_<user><n>, matching the
// original's "auxiliary data-socket names append a numeric suffix"
// convention (spec.md §6).
func DataPipeName(user string, n int) string {
	return fmt.Sprintf(`\\.\pipe\megacmdpipe_%s%d`, user, n)
}

// WindowsEndpoint dials the Windows named-pipe half of the handshake.
type WindowsEndpoint struct {
	User string
}

func NewWindowsEndpoint() (WindowsEndpoint, error) {
	u, err := user.Current()
	if err != nil {
		return WindowsEndpoint{}, errors.Wrap(err, "agentipc: resolving current user")
	}
	return WindowsEndpoint{User: u.Username}, nil
}

func (e WindowsEndpoint) Dial(ctx context.Context, n int) (net.Conn, error) {
	name := ControlPipeName(e.User)
	if n != 0 {
		name = DataPipeName(e.User, n)
	}
	conn, err := winio.DialPipeContext(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "agentipc: dialing pipe %s", name)
	}
	return conn, nil
}

// encodeWire renders text (already carrying any 'X' interactive
// prefix) as UTF-16LE bytes, matching the original's
// stringtolocalw()-then-send(wcommand.data(), wcslen(...)*sizeof(wchar_t))
// path.
func encodeWire(text string) []byte {
	units := utf16.Encode([]rune(text))
	buf := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[2*i:], u)
	}
	return buf
}

// ListenWindows creates the control-pipe listener.
func ListenWindows(user string) (net.Listener, error) {
	l, err := winio.ListenPipe(ControlPipeName(user), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "agentipc: listening on pipe for %s", user)
	}
	return l, nil
}

// ListenWindowsData creates the nth auxiliary data-pipe listener.
func ListenWindowsData(user string, n int) (net.Listener, error) {
	l, err := winio.ListenPipe(DataPipeName(user, n), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "agentipc: listening on data pipe for %s", user)
	}
	return l, nil
}
