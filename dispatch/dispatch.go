// Package dispatch implements the request/response dispatcher of
// spec.md §4.F: it batches outgoing Commands into a Request, owns the
// single in-flight Request, maps response chunks back to per-command
// callbacks, and retries network failures with the same idempotency id.
// Grounded on the teacher's pkg/client.Client (doReqGated's single
// in-flight discipline via a gated channel, newRequest's body assembly)
// and pkg/client/upload.go's batching of multiple parts into one wire
// request.
package dispatch

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/meganz/corevault/internal/jsonscan"
)

// MaxCommands is MAX_COMMANDS from spec.md §4.F: at most this many
// Commands may be batched into one Request.
const MaxCommands = 10000

// ErrTooManyCommands is returned by Enqueue once MaxCommands pending
// commands have accumulated without a Flush.
var ErrTooManyCommands = errors.New("dispatch: too many pending commands")

// ErrNoInFlightRequest is returned by ServerResponse when no Request is
// currently in flight to match the response against.
var ErrNoInFlightRequest = errors.New("dispatch: no in-flight request")

// WireError is a server-reported numeric error code (spec.md §6: "either
// a bare number (error code) or a JSON array aligned 1:1 with the
// request's commands").
type WireError int64

func (e WireError) Error() string { return fmt.Sprintf("dispatch: server error %d", int64(e)) }

// ParamSerializer produces the full wire object for a command, including
// its `"a":"<method>"` tag — the "method+params serialiser" of spec.md §3.
type ParamSerializer func() ([]byte, error)

// ResponseParser consumes exactly one command's response segment. It is
// only invoked for structured (object/array) responses; numeric error
// responses are turned into a WireError and delivered to Complete
// without involving the parser (spec.md §3: "a command's response may be
// a number (error) or an object/array; the dispatcher must accept
// either").
type ResponseParser func(*jsonscan.Scanner) error

// Command is a single API call bundle (spec.md §3).
type Command struct {
	Method          string
	Serialize       ParamSerializer
	Parse           ResponseParser
	BatchSeparately bool
	Complete        func(error)
}

func (c *Command) complete(err error) {
	if c.Complete != nil {
		c.Complete(err)
	}
}

// Request is an ordered list of Commands plus the cached serialised JSON
// and idempotency id spec.md §3 requires stay frozen once sent: "retries
// must transmit byte-identical payloads or the server may double-apply."
type Request struct {
	Commands []*Command

	cachedJSON []byte
	cachedID   string
}

// Serialize returns r's wire bytes and idempotency id, computing and
// caching them on first call. Every subsequent call — including retries
// after a network failure — returns the identical cached value (spec.md
// §8 property 3).
func (r *Request) Serialize() ([]byte, string, error) {
	if r.cachedJSON != nil {
		return r.cachedJSON, r.cachedID, nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, c := range r.Commands {
		if i > 0 {
			buf.WriteByte(',')
		}
		raw, err := c.Serialize()
		if err != nil {
			return nil, "", errors.Wrapf(err, "dispatch: serializing command %d (%s)", i, c.Method)
		}
		buf.Write(raw)
	}
	buf.WriteByte(']')
	r.cachedJSON = buf.Bytes()
	r.cachedID = uuid.New().String()
	return r.cachedJSON, r.cachedID, nil
}

// Dispatcher enforces the one-request-at-a-time discipline of spec.md
// §4.F: only one Request is ever in flight, so side effects of commands
// across Requests apply in order.
type Dispatcher struct {
	pending  []*Command
	queued   []*Request
	inflight *Request

	lastSeqTag string
}

// New returns an empty Dispatcher.
func New() *Dispatcher { return &Dispatcher{} }

// Enqueue appends cmd to the pending command list, to be grouped into a
// Request on the next Flush.
func (d *Dispatcher) Enqueue(cmd *Command) error {
	if len(d.pending) >= MaxCommands {
		return ErrTooManyCommands
	}
	d.pending = append(d.pending, cmd)
	return nil
}

// Flush groups the pending commands into one or more Requests, honoring
// MaxCommands and each command's BatchSeparately flush boundary, and
// appends them to the send queue.
func (d *Dispatcher) Flush() {
	d.queued = append(d.queued, buildRequests(d.pending)...)
	d.pending = nil
}

func buildRequests(pending []*Command) []*Request {
	var out []*Request
	var cur []*Command
	flushCur := func() {
		if len(cur) > 0 {
			out = append(out, &Request{Commands: cur})
			cur = nil
		}
	}
	for _, c := range pending {
		if c.BatchSeparately {
			flushCur()
			out = append(out, &Request{Commands: []*Command{c}})
			continue
		}
		cur = append(cur, c)
		if len(cur) >= MaxCommands {
			flushCur()
		}
	}
	flushCur()
	return out
}

// Next returns the Request that should be sent now, marking it
// in-flight, or nil if one is already in flight or nothing is queued.
func (d *Dispatcher) Next() *Request {
	if d.inflight != nil || len(d.queued) == 0 {
		return nil
	}
	req := d.queued[0]
	d.queued = d.queued[1:]
	d.inflight = req
	return req
}

// InFlight returns the currently in-flight Request, or nil.
func (d *Dispatcher) InFlight() *Request { return d.inflight }

// InflightFailure is called on network failure. The in-flight Request's
// cached bytes and id are untouched — Serialize() on the next send
// attempt returns the exact same payload, which is the retry contract
// the server's deduplication relies on.
func (d *Dispatcher) InflightFailure(reason error) {}

// DiscardInFlight clears the in-flight Request without a server
// response, so the next Next() can advance to the following queued
// Request. Callers that give up retrying a failed in-flight Request
// (spec.md §4.F: "the request is discarded and the next batch
// advances") must call this before completing its commands outward,
// or Next() wedges forever believing a response is still pending.
func (d *Dispatcher) DiscardInFlight() { d.inflight = nil }

// LastSeqTag returns the most recently observed "st" sequence tag
// threaded out of a structured command response, for causally ordered
// client state (spec.md §4.F processSeqTag).
func (d *Dispatcher) LastSeqTag() string { return d.lastSeqTag }

// ServerResponse feeds response bytes for the in-flight Request: either a
// bare number (the whole request fails with that WireError) or a JSON
// array aligned 1:1 with the request's commands.
func (d *Dispatcher) ServerResponse(data []byte) error {
	req := d.inflight
	if req == nil {
		return ErrNoInFlightRequest
	}
	d.inflight = nil

	sc := jsonscan.New(data)
	if sc.EnterArray() {
		for _, cmd := range req.Commands {
			raw := sc.StoreObject()
			d.processCmdJSON(cmd, []byte(raw))
		}
		return nil
	}
	code, ok := sc.GetInt()
	if !ok {
		return errors.Errorf("dispatch: response is neither an array nor a number: %q", data)
	}
	err := WireError(code)
	for _, cmd := range req.Commands {
		cmd.complete(err)
	}
	return nil
}

// processCmdJSON handles both error numbers and structured responses for
// a single command's response segment, matching spec.md §4.F's
// processCmdJSON.
func (d *Dispatcher) processCmdJSON(cmd *Command, raw []byte) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		cmd.complete(nil)
		return
	}
	if trimmed[0] == '-' || (trimmed[0] >= '0' && trimmed[0] <= '9') {
		if n, err := strconv.ParseInt(string(trimmed), 10, 64); err == nil {
			cmd.complete(WireError(n))
			return
		}
	}
	d.processSeqTag(trimmed)
	var err error
	if cmd.Parse != nil {
		err = cmd.Parse(jsonscan.New(raw))
	}
	cmd.complete(err)
}

// processSeqTag extracts a top-level "st" field from an object response
// segment without disturbing the scanner handed to cmd.Parse.
func (d *Dispatcher) processSeqTag(raw []byte) {
	if len(raw) == 0 || raw[0] != '{' {
		return
	}
	sc := jsonscan.New(raw)
	if !sc.EnterObject() {
		return
	}
	for sc.Len() > 0 {
		b := sc.Bytes()
		if sc.Pos() < len(b) && b[sc.Pos()] == '}' {
			return
		}
		name := sc.GetName()
		if name == "" {
			return
		}
		if name == "st" {
			if v, ok := sc.GetString(); ok {
				d.lastSeqTag = v
			}
			continue
		}
		sc.StoreObject()
	}
}
