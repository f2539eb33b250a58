// Package transport defines the abstract HTTP streaming contract spec.md
// §4.J requires and a default implementation over net/http: per-request
// start with headers and a body-producer callback, cancellation, a
// chunk-arrival callback that feeds bytes into the splitter, a completion
// callback, and bandwidth caps on both directions via PAUSE. The core
// itself never specifies DNS, TLS pinning, or proxy chains — those remain
// whatever http.RoundTripper the caller installs, mirroring the teacher's
// TransportConfig/RoundTripper split (pkg/client/client.go
// TransportForConfig) where the client composes an abstract RoundTripper
// rather than owning transport internals itself.
package transport

import (
	"context"

	"github.com/meganz/corevault/internal/jstream"
)

// ChunkSink receives one arrival of response bytes. Returning jstream.Pause
// tells the transport to stop delivering further chunks on this transfer
// until Transfer.Resume is called; per spec.md §4.J pause/resume must be
// honored within 500ms.
type ChunkSink func(chunk []byte) jstream.Result

// BodyProducer fills buf with the next slice of request-body bytes to send
// (e.g. for uploads). Returning jstream.Pause means "no bytes ready yet,
// try again shortly"; the transport must not treat that as EOF.
type BodyProducer func(buf []byte) (n int, result jstream.Result, err error)

// RequestSpec describes one request. IdempotencyID is appended as a query
// parameter by the transport (spec.md §6: "The HTTP layer appends the
// idempotency id as a query parameter. Retries must send the exact same
// bytes."), so Dispatcher never has to know the transport's URL scheme.
type RequestSpec struct {
	Method        string
	URL           string
	Headers       map[string]string
	IdempotencyID string
	Body          BodyProducer // nil for bodyless requests (GET)
}

// Transfer is a handle onto one in-flight request, letting the engine
// thread pause/resume/cancel it without tearing down the whole transport.
type Transfer interface {
	// Pause asks the transport to stop pumping chunks/body bytes for this
	// transfer as soon as convenient (within 500ms per spec.md §4.J).
	Pause()
	// Resume reverses a prior Pause.
	Resume()
	// Cancel aborts the transfer. The completion callback still fires,
	// with context.Canceled (or the ctx's error) as its argument.
	Cancel()
}

// CompletionFunc is invoked exactly once per transfer, whether it finished,
// errored, or was cancelled.
type CompletionFunc func(err error)

// RateLimiter throttles bytes moved by Start. Both directions are capped
// independently (spec.md §4.J: "bandwidth caps on GET and PUT").
type RateLimiter interface {
	// Wait blocks (honoring ctx) until n bytes are allowed to proceed, or
	// returns ctx.Err() if ctx is done first.
	Wait(ctx context.Context, n int) error
}

// Transport starts and manages HTTP requests whose bodies/responses may be
// large enough to require streaming rather than full buffering.
type Transport interface {
	// Start issues spec asynchronously. onChunk is called for every
	// response chunk as it arrives; onComplete fires once, after the last
	// chunk (or on error/cancellation).
	Start(ctx context.Context, spec RequestSpec, onChunk ChunkSink, onComplete CompletionFunc) (Transfer, error)

	// SetDownloadCap/SetUploadCap install a RateLimiter for GET/PUT
	// traffic respectively. A nil limiter removes the cap.
	SetDownloadCap(limiter RateLimiter)
	SetUploadCap(limiter RateLimiter)
}
