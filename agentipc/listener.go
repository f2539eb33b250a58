package agentipc

import (
	"context"
	"encoding/binary"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// silenceThreshold is the number of consecutive 1s-silent polls before
// a StateListener gives up and marks itself for re-registration,
// matching the original's timeout_notified_server_might_be_down
// countdown starting at 30 (spec.md §4.I).
const silenceThreshold = 30

const pollInterval = time.Second

// StateListener is the long-lived data socket opened with the single
// command "registerstatelistener"; the server pushes state strings on
// it as they change.
type StateListener struct {
	conn         net.Conn
	handle       func(state string)
	stop         chan struct{}
	reregister   atomic.Bool
	stoppedOnce  atomic.Bool
}

// RegisterForStateChanges performs the registerstatelistener handshake
// and starts the listener goroutine. handle is invoked once per
// pushed state string; it must not block for long, since it runs on
// the listener's own goroutine.
func RegisterForStateChanges(ctx context.Context, ep Endpoint, handle func(state string)) (*StateListener, error) {
	ctrl, err := ep.Dial(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "agentipc: dialing control socket")
	}
	defer ctrl.Close()

	if _, err := ctrl.Write(encodeWire("registerstatelistener")); err != nil {
		return nil, errors.Wrap(err, "agentipc: writing registerstatelistener")
	}

	var dataSocket int32
	if err := binary.Read(ctrl, binary.LittleEndian, &dataSocket); err != nil {
		return nil, errors.Wrap(err, "agentipc: reading data socket number")
	}

	data, err := ep.Dial(ctx, int(dataSocket))
	if err != nil {
		return nil, errors.Wrap(err, "agentipc: dialing state-change data socket")
	}

	l := &StateListener{conn: data, handle: handle, stop: make(chan struct{})}
	go l.run()
	return l, nil
}

func (l *StateListener) run() {
	defer l.conn.Close()
	buf := make([]byte, 1024)
	silence := 0
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := l.conn.Read(buf)
		if n > 0 {
			silence = 0
			if l.handle != nil {
				l.handle(string(buf[:n]))
			}
		}
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			silence++
			if silence >= silenceThreshold {
				l.reregister.Store(true)
				return
			}
			continue
		}
		// Any non-timeout error (including EOF) means the connection
		// is gone; the original treats this the same as prolonged
		// silence and asks the caller to reconnect.
		l.reregister.Store(true)
		return
	}
}

// NeedsReregister reports whether the listener gave up and the caller
// should call RegisterForStateChanges again.
func (l *StateListener) NeedsReregister() bool { return l.reregister.Load() }

// Stop ends the listener goroutine and closes its connection.
func (l *StateListener) Stop() {
	if l.stoppedOnce.CompareAndSwap(false, true) {
		close(l.stop)
	}
}
