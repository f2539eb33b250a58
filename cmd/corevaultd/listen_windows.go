//go:build windows

package main

import (
	"net"
	"os/user"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/agentipc"
)

// newControlListener binds the control pipe and returns the
// per-connection data-pipe factory agentipc.Server needs, both keyed
// off the current Windows username.
func newControlListener() (net.Listener, func(n int) (net.Listener, error), error) {
	u, err := user.Current()
	if err != nil {
		return nil, nil, errors.Wrap(err, "corevaultd: resolving current user")
	}
	ctrl, err := agentipc.ListenWindows(u.Username)
	if err != nil {
		return nil, nil, err
	}
	newData := func(n int) (net.Listener, error) {
		return agentipc.ListenWindowsData(u.Username, n)
	}
	return ctrl, newData, nil
}
