// Package engine wires the explicit single-threaded context Design
// Notes §9 asks for in place of the original's process-wide globals
// (doExit, comms, etc.): one goroutine owns the dispatcher, the
// action-packet splitter, and every node-cache mutation, so no two
// actionpackets ever apply concurrently and no command response races
// another (spec.md §5). Transport and agent-IPC goroutines only ever
// touch engine state by posting a closure onto actions, mirroring
// "Transport thread(s) deliver chunks to the engine thread via a
// queue."
//
// Grounded on the teacher's server/perkeepd and cmd/pk process wiring:
// a constructor assembles long-lived components, an explicit
// Init/Shutdown pair bounds their lifetime via context.Context, and
// nothing below this package reaches for a global.
package engine

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/meganz/corevault/actionpacket"
	"github.com/meganz/corevault/dispatch"
	"github.com/meganz/corevault/internal/corelog"
	"github.com/meganz/corevault/internal/jstream"
	"github.com/meganz/corevault/nodecache"
	"github.com/meganz/corevault/throttle"
	"github.com/meganz/corevault/transport"
)

// Config assembles one Engine. Store must already be open; Engine
// never owns its lifecycle beyond Init/Shutdown not closing it.
type Config struct {
	// APIURL is the command-batch endpoint (spec.md §6 "request
	// batch").
	APIURL string
	// ActionPacketURL is the initial long-poll endpoint for the
	// action-packet push stream, before any `{"w"` websocket URL
	// redirects it (spec.md §4.E, §4.I).
	ActionPacketURL string

	Transport transport.Transport
	Store     *nodecache.Store

	// TickInterval paces throttle.Manager.ProcessDelayedUploads and
	// re-checking the dispatch queue; spec.md does not fix this value,
	// so a conservative default is used when zero.
	TickInterval time.Duration

	// OnUploadReady is invoked (on the engine goroutine) for the one
	// delayed upload, if any, that a tick decides to release.
	OnUploadReady throttle.CompletionFunc
}

const defaultTickInterval = 250 * time.Millisecond

// Engine is the single-threaded context. All exported methods other
// than EnqueueCommand/Init/Shutdown run on the engine goroutine; state
// fields below are only ever touched from there.
type Engine struct {
	cfg Config

	dispatch     *dispatch.Dispatcher
	splitter     *jstream.Splitter
	apDispatcher *actionpacket.Dispatcher
	throttleMgr  *throttle.Manager

	actions chan func()

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	feeder               streamFeeder
	actionStreamGen      int // invalidates a stale poll/websocket goroutine's completion after a newer one starts
	actionStreamFailures int // consecutive failures, reset to 0 on success; triggers a session reset at the threshold
	wsCancel             context.CancelFunc
}

// New assembles an Engine. It does not start anything; call Init.
func New(cfg Config) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	e := &Engine{
		cfg:         cfg,
		dispatch:    dispatch.New(),
		splitter:    jstream.New(),
		throttleMgr: throttle.New(),
		actions:     make(chan func(), 256),
	}
	e.feeder = streamFeeder{splitter: e.splitter}
	e.apDispatcher = actionpacket.New(e.splitter, cfg.Store, cfg.Store, &websocketNotifier{engine: e}, e.onNumericActionPacketError)
	return e
}

// Init starts the engine goroutine and the initial action-packet poll.
// ctx bounds the engine's whole lifetime; Shutdown also stops it early.
func (e *Engine) Init(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run()
	e.actions <- func() { e.startActionPacketPoll() }
}

// Shutdown stops the engine goroutine and any live transport activity.
// It blocks until the goroutine has exited.
func (e *Engine) Shutdown() {
	e.cancel()
	e.wg.Wait()
}

// EnqueueCommand posts cmd onto the engine's command path. Safe to call
// from any goroutine.
func (e *Engine) EnqueueCommand(cmd *dispatch.Command) {
	select {
	case e.actions <- func() { e.enqueueAndPump(cmd) }:
	case <-e.ctx.Done():
		completeCmd(cmd, e.ctx.Err())
	}
}

// completeCmd calls cmd.Complete if set; dispatch.Command's own
// unexported nil-guard isn't reachable from outside that package, so
// every engine-originated completion goes through this instead.
func completeCmd(cmd *dispatch.Command, err error) {
	if cmd.Complete != nil {
		cmd.Complete(err)
	}
}

func (e *Engine) enqueueAndPump(cmd *dispatch.Command) {
	if err := e.dispatch.Enqueue(cmd); err != nil {
		completeCmd(cmd, err)
		return
	}
	e.dispatch.Flush()
	e.pumpRequest()
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case fn := <-e.actions:
			fn()
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	if e.throttleMgr.AnyDelayedUploads() && e.cfg.OnUploadReady != nil {
		e.throttleMgr.ProcessDelayedUploads(e.cfg.OnUploadReady)
	}
	e.pumpRequest()
}

// maxRequestAttempts bounds the idempotency-id retry spec.md §3/§8
// require on network failure: the exact same serialized bytes and id
// are resent (req.Serialize() is cached, so this is automatic) up to
// this many times before the batch's commands are failed outward.
const maxRequestAttempts = 5

// requestRetryBackoff is the delay before each retry.
const requestRetryBackoff = 2 * time.Second

// pumpRequest starts the next queued Request over the transport, if one
// is ready and none is already in flight (dispatch.Dispatcher enforces
// the latter itself).
func (e *Engine) pumpRequest() {
	req := e.dispatch.Next()
	if req == nil {
		return
	}
	body, id, err := req.Serialize()
	if err != nil {
		for _, cmd := range req.Commands {
			completeCmd(cmd, err)
		}
		return
	}
	e.sendRequest(req, body, id, 1)
}

func (e *Engine) sendRequest(req *dispatch.Request, body []byte, id string, attempt int) {
	idx := 0
	producer := func(p []byte) (int, jstream.Result, error) {
		if idx >= len(body) {
			return 0, jstream.Success, nil
		}
		n := copy(p, body[idx:])
		idx += n
		return n, jstream.Success, nil
	}

	var resp bytes.Buffer
	onChunk := func(chunk []byte) jstream.Result {
		resp.Write(chunk)
		return jstream.Success
	}
	onComplete := func(err error) {
		e.actions <- func() { e.finishRequest(req, body, id, resp.Bytes(), err, attempt) }
	}

	spec := transport.RequestSpec{
		Method:        "POST",
		URL:           e.cfg.APIURL,
		IdempotencyID: id,
		Body:          producer,
	}
	if _, err := e.cfg.Transport.Start(e.ctx, spec, onChunk, onComplete); err != nil {
		e.finishRequest(req, body, id, nil, err, attempt)
	}
}

// finishRequest retries req — same cached body and idempotency id,
// matching spec.md §3's "retries must send the exact same bytes" — up
// to maxRequestAttempts times on network failure before giving up and
// failing the batch's commands outward.
func (e *Engine) finishRequest(req *dispatch.Request, body []byte, id string, respBody []byte, err error, attempt int) {
	if err != nil {
		e.dispatch.InflightFailure(err)
		if attempt < maxRequestAttempts {
			corelog.Warnf("engine: request attempt %d failed, retrying: %v", attempt, err)
			time.AfterFunc(requestRetryBackoff, func() {
				e.actions <- func() { e.sendRequest(req, body, id, attempt+1) }
			})
			return
		}
		e.dispatch.DiscardInFlight()
		for _, cmd := range req.Commands {
			completeCmd(cmd, err)
		}
		return
	}
	if err := e.dispatch.ServerResponse(respBody); err != nil {
		corelog.Warnf("engine: processing response: %v", err)
	}
	e.pumpRequest()
}

func (e *Engine) onNumericActionPacketError(code int64) {
	corelog.Warnf("engine: action-packet stream numeric error %d", code)
}
