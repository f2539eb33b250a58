//go:build !windows

package main

import (
	"net"
	"os"

	"github.com/meganz/corevault/agentipc"
)

// newControlListener binds the control socket and returns the
// per-connection data-socket factory agentipc.Server needs, both keyed
// off the daemon's own uid the same way the original's per-uid
// /tmp/megaCMD_<uid> directory is.
func newControlListener() (net.Listener, func(n int) (net.Listener, error), error) {
	uid := os.Getuid()
	ctrl, err := agentipc.ListenUnix(uid)
	if err != nil {
		return nil, nil, err
	}
	newData := func(n int) (net.Listener, error) {
		return agentipc.ListenUnixData(uid, n)
	}
	return ctrl, newData, nil
}
