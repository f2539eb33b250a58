//go:build !windows

package agentipc

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/pkg/errors"
)

// ControlSocketPath is /tmp/megaCMD_<uid>/srv, exactly as the original
// builds it (sprintf(socket_path, "/tmp/megaCMD_%d/srv", getuid())).
func ControlSocketPath(uid int) string {
	return fmt.Sprintf("/tmp/megaCMD_%d/srv", uid)
}

// DataSocketPath is /tmp/megaCMD_<uid>/srv_<n>.
func DataSocketPath(uid int, n int) string {
	return fmt.Sprintf("/tmp/megaCMD_%d/srv_%d", uid, n)
}

// UnixEndpoint dials the POSIX UNIX-domain-socket half of the
// handshake under a per-uid socket directory.
type UnixEndpoint struct {
	UID int
}

func NewUnixEndpoint() UnixEndpoint {
	return UnixEndpoint{UID: os.Getuid()}
}

func (e UnixEndpoint) Dial(ctx context.Context, n int) (net.Conn, error) {
	path := ControlSocketPath(e.UID)
	if n != 0 {
		path = DataSocketPath(e.UID, n)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "agentipc: dialing %s", path)
	}
	return conn, nil
}

// encodeWire renders a fully-assembled command string (including any
// 'X' prefix) as the bytes actually written to the control socket.
// POSIX sends raw UTF-8, matching the original's send(thesock,
// command.data(), command.size(), ...) path.
func encodeWire(text string) []byte {
	return []byte(text)
}

// ListenUnix creates the control-socket listener at
// ControlSocketPath(uid), creating the parent directory if needed
// (mirroring megacmd's /tmp/megaCMD_<uid> convention).
func ListenUnix(uid int) (net.Listener, error) {
	path := ControlSocketPath(uid)
	dir := fmt.Sprintf("/tmp/megaCMD_%d", uid)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "agentipc: creating socket directory")
	}
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "agentipc: listening on %s", path)
	}
	return l, nil
}

// ListenUnixData creates the nth auxiliary data-socket listener, named
// the same way the control listener names it to the client.
func ListenUnixData(uid, n int) (net.Listener, error) {
	path := DataSocketPath(uid, n)
	os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, errors.Wrapf(err, "agentipc: listening on %s", path)
	}
	return l, nil
}
