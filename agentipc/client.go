package agentipc

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// readFrame drains data in 1KiB reads until a short read (matching the
// original's "do { recv(BUFFERSIZE) } while (n == BUFFERSIZE)"
// end-of-message convention), returning everything read.
func readFrame(r io.Reader) ([]byte, error) {
	const bufSize = 1024
	buf := make([]byte, bufSize)
	var out []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, err
		}
		if n < bufSize {
			return out, nil
		}
	}
}

// ExecuteCommand runs the full two-socket handshake spec.md §4.I
// describes: dial the control socket, write the encoded command, read
// the 32-bit data-socket number, dial that data socket, read the
// outcode (looping through any REQCONFIRM prompts), then stream the
// remaining output to EOF.
func ExecuteCommand(ctx context.Context, ep Endpoint, cmd Command, confirm ConfirmPrompt) (*Result, error) {
	ctrl, err := ep.Dial(ctx, 0)
	if err != nil {
		return nil, errors.Wrap(err, "agentipc: dialing control socket")
	}
	defer ctrl.Close()

	wire := encodeWire(encodeInteractivePrefix(cmd.Text, cmd.Interactive))
	if _, err := ctrl.Write(wire); err != nil {
		return nil, errors.Wrap(err, "agentipc: writing command")
	}

	var dataSocket int32
	if err := binary.Read(ctrl, binary.LittleEndian, &dataSocket); err != nil {
		return nil, errors.Wrap(err, "agentipc: reading data socket number")
	}

	data, err := ep.Dial(ctx, int(dataSocket))
	if err != nil {
		return nil, errors.Wrap(err, "agentipc: dialing data socket")
	}
	defer data.Close()

	var outcode int32
	for {
		if err := binary.Read(data, binary.LittleEndian, &outcode); err != nil {
			return nil, errors.Wrap(err, "agentipc: reading outcode")
		}
		if OutCode(outcode) != REQConfirm {
			break
		}

		question, err := readFrame(data)
		if err != nil {
			return nil, errors.Wrap(err, "agentipc: reading confirmation prompt")
		}

		var response byte
		if confirm != nil && confirm(string(question)) {
			response = 1
		}
		if _, err := data.Write([]byte{response}); err != nil {
			return nil, errors.Wrap(err, "agentipc: writing confirmation response")
		}
	}

	output, err := readFrame(data)
	if err != nil {
		return nil, errors.Wrap(err, "agentipc: reading output")
	}

	return &Result{OutCode: OutCode(outcode), Output: output}, nil
}

// AutostartConfig configures DialWithAutostart's server-spawn path.
type AutostartConfig struct {
	// ServerPath is the server executable to fork/spawn when the
	// control socket is unreachable.
	ServerPath string
	Args       []string
	// LogPath receives the spawned server's stdout/stderr, matching
	// the original's per-account megacmdserver.log convention.
	LogPath string
}

// maxAutostartWait bounds the whole retry window; spec.md §4.I:
// "retries the connect with exponential backoff up to ≈12 s."
const maxAutostartWait = 12 * time.Second

// initialAutostartBackoff is the first retry delay; each subsequent
// attempt doubles it until maxAutostartWait is exhausted.
const initialAutostartBackoff = 150 * time.Millisecond

// DialWithAutostart dials the control socket, and if that fails,
// spawns the server (detached from the caller's Ctrl-C handling) and
// retries with exponential backoff until maxAutostartWait elapses.
func DialWithAutostart(ctx context.Context, ep Endpoint, cfg AutostartConfig) (net.Conn, error) {
	if c, dialErr := ep.Dial(ctx, 0); dialErr == nil {
		return c, nil
	}

	if spawnErr := spawnServer(cfg); spawnErr != nil {
		return nil, errors.Wrap(spawnErr, "agentipc: spawning server")
	}

	wait := initialAutostartBackoff
	deadline := time.Now().Add(maxAutostartWait)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		c, dialErr := ep.Dial(ctx, 0)
		if dialErr == nil {
			return c, nil
		}
		lastErr = dialErr
		wait *= 2
	}
	return nil, errors.Wrap(lastErr, "agentipc: server did not become reachable")
}
