package engine

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/meganz/corevault/internal/corelog"
	"github.com/meganz/corevault/internal/jstream"
	"github.com/meganz/corevault/transport"
)

// streamFeeder adapts jstream.Splitter's caller-managed-carry contract
// (spec.md §4.D: "the caller must, on the next call, supply
// data[consumed:] followed by any newly arrived bytes") into a single
// Feed call transport.ChunkSink can invoke directly.
type streamFeeder struct {
	splitter *jstream.Splitter
	carry    []byte
}

func (f *streamFeeder) Feed(chunk []byte) jstream.Result {
	data := chunk
	if len(f.carry) > 0 {
		data = append(append([]byte(nil), f.carry...), chunk...)
	}
	consumed, result := f.splitter.ProcessChunk(data)
	if consumed < len(data) {
		f.carry = append([]byte(nil), data[consumed:]...)
	} else {
		f.carry = nil
	}
	return result
}

// reset discards any partial/failed parse state and carried bytes,
// letting the next Feed start parsing a new top-level value from
// scratch (spec.md §7 "session is reset").
func (f *streamFeeder) reset() {
	f.splitter.Reset()
	f.carry = nil
}

// actionPacketPollInterval paces reconnecting the long-poll stream
// after it completes (EOF or error) while no websocket has taken over.
const actionPacketPollInterval = 2 * time.Second

// actionStreamFailureThreshold is the number of consecutive failed
// long-poll/websocket attempts (spec.md §7: "retried unless the count
// exceeds a threshold") tolerated before the splitter's session is reset
// rather than just reconnected.
const actionStreamFailureThreshold = 3

// startActionPacketPoll begins (or restarts) the HTTP long-poll half of
// the action-packet push channel. Called only on the engine goroutine.
func (e *Engine) startActionPacketPoll() {
	e.actionStreamGen++
	gen := e.actionStreamGen
	if e.cfg.ActionPacketURL == "" {
		return
	}

	onChunk := func(chunk []byte) jstream.Result { return e.feeder.Feed(chunk) }
	onComplete := func(err error) {
		e.actions <- func() { e.actionStreamEnded(gen, err) }
	}
	spec := transport.RequestSpec{Method: "GET", URL: e.cfg.ActionPacketURL}
	if _, err := e.cfg.Transport.Start(e.ctx, spec, onChunk, onComplete); err != nil {
		e.actionStreamEnded(gen, err)
	}
}

// actionStreamEnded reconnects the long-poll stream after it ends,
// unless a newer generation (a subsequent poll restart or a websocket
// switch-over) has already superseded it. Consecutive failures reaching
// actionStreamFailureThreshold reset the splitter's session instead of
// just reconnecting, since a Splitter that has failed (spec.md §4.D) or
// left a carry buffer from a broken stream can't recover on its own.
func (e *Engine) actionStreamEnded(gen int, err error) {
	if gen != e.actionStreamGen {
		return
	}
	if err != nil {
		corelog.Warnf("engine: action-packet stream ended: %v", err)
		e.actionStreamFailures++
		if e.actionStreamFailures >= actionStreamFailureThreshold {
			corelog.Warnf("engine: action-packet stream failed %d times in a row, resetting session", e.actionStreamFailures)
			e.feeder.reset()
			e.actionStreamFailures = 0
		}
	} else {
		e.actionStreamFailures = 0
	}
	select {
	case <-e.ctx.Done():
		return
	default:
	}
	time.AfterFunc(actionPacketPollInterval, func() {
		e.actions <- func() { e.startActionPacketPoll() }
	})
}

// websocketNotifier implements actionpacket.ShareNotifier, switching
// the push channel from HTTP long-poll to the server-assigned websocket
// URL (spec.md §4.E's `{"w"` filter).
type websocketNotifier struct {
	engine *Engine
}

func (n *websocketNotifier) NotifyWebsocketURL(url string) {
	n.engine.actions <- func() { n.engine.switchToWebsocket(url) }
}

func (e *Engine) switchToWebsocket(url string) {
	e.actionStreamGen++
	gen := e.actionStreamGen
	if e.wsCancel != nil {
		e.wsCancel()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.wsCancel = cancel
	go e.runWebsocket(ctx, gen, url)
}

// runWebsocket reads action-packet messages off the websocket until it
// fails or ctx is cancelled (superseded by a newer poll/websocket). A
// failure is routed through actionStreamEnded so it counts toward the
// same failure threshold and falls back to the long-poll reconnect path
// rather than leaving the push channel dead (spec.md §7).
func (e *Engine) runWebsocket(ctx context.Context, gen int, url string) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if ctx.Err() == nil {
			e.actions <- func() { e.actionStreamEnded(gen, errors.Wrap(err, "engine: dialing action-packet websocket")) }
		}
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				e.actions <- func() { e.actionStreamEnded(gen, errors.Wrap(err, "engine: action-packet websocket read")) }
			}
			return
		}
		msg := data
		select {
		case e.actions <- func() { e.feeder.Feed(msg) }:
		case <-ctx.Done():
			return
		}
	}
}
