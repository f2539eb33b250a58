package agentipc

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/internal/corelog"
)

// Handler executes one decoded command, writing its output to out and
// returning the outcode to send once output is fully flushed. If it
// needs to raise a REQCONFIRM prompt mid-execution, it calls confirm
// with the question text and blocks for the boolean answer.
type Handler func(cmd Command, confirm func(question string) (bool, error), out io.Writer) (OutCode, error)

// Server accepts control-socket connections and runs one goroutine per
// connection for its lifetime — spec.md §5: "Shell IPC maintains one
// listener thread per connected client; the server side uses a thread
// pool where each connection is pinned to a thread for its lifetime."
// Go's goroutine-per-connection model serves the same shape without an
// explicit thread pool.
type Server struct {
	ctrl       net.Listener
	newData    func(n int) (net.Listener, error)
	handle     Handler

	nextData atomic.Int32

	mu       sync.Mutex
	stateSubs map[*stateSub]struct{}
}

type stateSub struct {
	conn net.Conn
}

// NewServer wraps an already-bound control-socket listener. newData
// creates the nth auxiliary data-socket listener (ListenUnixData /
// ListenWindowsData bound to a uid/user by the caller).
func NewServer(ctrl net.Listener, newData func(n int) (net.Listener, error), handle Handler) *Server {
	return &Server{ctrl: ctrl, newData: newData, handle: handle, stateSubs: make(map[*stateSub]struct{})}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.ctrl.Accept()
		if err != nil {
			return err
		}
		go s.handleConnection(conn)
	}
}

// PushState broadcasts a state string to every registered state
// listener, matching "the server pushes state strings when they
// change" (spec.md §4.I).
func (s *Server) PushState(state string) {
	s.mu.Lock()
	subs := make([]*stateSub, 0, len(s.stateSubs))
	for sub := range s.stateSubs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		if _, err := sub.conn.Write([]byte(state)); err != nil {
			s.mu.Lock()
			delete(s.stateSubs, sub)
			s.mu.Unlock()
			sub.conn.Close()
		}
	}
}

func (s *Server) handleConnection(ctrl net.Conn) {
	defer ctrl.Close()

	frame, err := readFrame(ctrl)
	if err != nil {
		corelog.Warnf("agentipc: reading command frame: %v", err)
		return
	}
	text := string(frame)
	interactive := len(text) > 0 && text[0] == 'X'
	if interactive {
		text = text[1:]
	}
	cmd := Command{Text: text, Interactive: interactive}

	n := int(s.nextData.Add(1))
	dataListener, err := s.newData(n)
	if err != nil {
		corelog.Warnf("agentipc: creating data socket %d: %v", n, err)
		return
	}
	defer dataListener.Close()

	if err := binary.Write(ctrl, binary.LittleEndian, int32(n)); err != nil {
		corelog.Warnf("agentipc: writing data socket number: %v", err)
		return
	}

	data, err := dataListener.Accept()
	if err != nil {
		corelog.Warnf("agentipc: accepting data socket: %v", err)
		return
	}
	defer data.Close()

	if cmd.Text == "registerstatelistener" {
		s.registerStateSub(data)
		return
	}

	s.runCommand(cmd, data)
}

func (s *Server) registerStateSub(conn net.Conn) {
	sub := &stateSub{conn: conn}
	s.mu.Lock()
	s.stateSubs[sub] = struct{}{}
	s.mu.Unlock()
	// Ownership of conn now belongs to PushState/the subscriber map;
	// it is closed only when a write to it fails.
}

// runCommand mediates the REQCONFIRM loop (each round trip writes its
// own outcode immediately, per spec.md §4.I step 4) but buffers the
// handler's streamed output so the final outcode always precedes it on
// the wire, matching step 4/5's fixed ordering.
func (s *Server) runCommand(cmd Command, data net.Conn) {
	confirm := func(question string) (bool, error) {
		if err := binary.Write(data, binary.LittleEndian, int32(REQConfirm)); err != nil {
			return false, errors.Wrap(err, "agentipc: writing REQCONFIRM outcode")
		}
		if _, err := data.Write([]byte(question)); err != nil {
			return false, errors.Wrap(err, "agentipc: writing confirmation prompt")
		}
		var resp [1]byte
		if _, err := io.ReadFull(data, resp[:]); err != nil {
			return false, errors.Wrap(err, "agentipc: reading confirmation response")
		}
		return resp[0] != 0, nil
	}

	var out bytes.Buffer
	outcode, err := s.handle(cmd, confirm, &out)
	if err != nil {
		corelog.Warnf("agentipc: command %q failed: %v", cmd.Text, err)
		outcode = EUnexpected
	}
	if err := binary.Write(data, binary.LittleEndian, int32(outcode)); err != nil {
		corelog.Warnf("agentipc: writing outcode: %v", err)
		return
	}
	if _, err := data.Write(out.Bytes()); err != nil {
		corelog.Warnf("agentipc: writing output: %v", err)
	}
}
