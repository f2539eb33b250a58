package transport

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/internal/corelog"
	"github.com/meganz/corevault/internal/jstream"
)

// pausePollInterval bounds how quickly a Pause takes effect; spec.md §4.J
// requires "within 500ms", this polls at a comfortable fraction of that.
const pausePollInterval = 100 * time.Millisecond

// readChunkSize is the size of each read from the response body handed to
// onChunk; spec.md §4.J only requires "a sequence of opaque byte chunks",
// not any particular size.
const readChunkSize = 64 * 1024

// HTTPTransport is the default Transport, built directly on an
// http.RoundTripper the caller supplies — matching the teacher's
// TransportForConfig/SetHTTPClient split, where the Client never embeds TLS
// or proxy policy itself.
type HTTPTransport struct {
	rt http.RoundTripper

	mu           sync.Mutex
	downloadCap  RateLimiter
	uploadCap    RateLimiter
}

// NewHTTPTransport wraps rt (typically http.DefaultTransport or a caller-
// configured *http.Transport carrying TLS/proxy policy). rt must not be nil.
func NewHTTPTransport(rt http.RoundTripper) *HTTPTransport {
	return &HTTPTransport{rt: rt}
}

func (t *HTTPTransport) SetDownloadCap(limiter RateLimiter) {
	t.mu.Lock()
	t.downloadCap = limiter
	t.mu.Unlock()
}

func (t *HTTPTransport) SetUploadCap(limiter RateLimiter) {
	t.mu.Lock()
	t.uploadCap = limiter
	t.mu.Unlock()
}

func (t *HTTPTransport) caps() (download, upload RateLimiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.downloadCap, t.uploadCap
}

type httpTransfer struct {
	cancel context.CancelFunc
	paused atomic.Bool
}

func (f *httpTransfer) Pause()  { f.paused.Store(true) }
func (f *httpTransfer) Resume() { f.paused.Store(false) }
func (f *httpTransfer) Cancel() { f.cancel() }

// Start issues spec over t.rt. The response body is pumped in
// readChunkSize slices on its own goroutine so Start returns immediately
// with a live Transfer handle; onComplete fires once that goroutine
// finishes, whatever the outcome.
func (t *HTTPTransport) Start(ctx context.Context, spec RequestSpec, onChunk ChunkSink, onComplete CompletionFunc) (Transfer, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	xfer := &httpTransfer{cancel: cancel}

	reqURL, err := withIdempotencyID(spec.URL, spec.IdempotencyID)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "transport: building request URL")
	}

	download, upload := t.caps()

	var bodyReader io.Reader
	if spec.Body != nil {
		bodyReader = &producerReader{ctx: reqCtx, produce: spec.Body, limiter: upload, xfer: xfer}
	}

	req, err := http.NewRequestWithContext(reqCtx, spec.Method, reqURL, bodyReader)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "transport: building request")
	}
	for k, v := range spec.Headers {
		req.Header.Set(k, v)
	}

	go t.pump(reqCtx, xfer, req, download, onChunk, onComplete)
	return xfer, nil
}

func (t *HTTPTransport) pump(ctx context.Context, xfer *httpTransfer, req *http.Request, download RateLimiter, onChunk ChunkSink, onComplete CompletionFunc) {
	resp, err := t.rt.RoundTrip(req)
	if err != nil {
		onComplete(errors.Wrap(err, "transport: round trip"))
		return
	}
	defer resp.Body.Close()

	buf := make([]byte, readChunkSize)
	for {
		for xfer.paused.Load() {
			select {
			case <-ctx.Done():
				onComplete(ctx.Err())
				return
			case <-time.After(pausePollInterval):
			}
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if download != nil {
				if err := download.Wait(ctx, n); err != nil {
					onComplete(err)
					return
				}
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			switch onChunk(chunk) {
			case jstream.Err:
				onComplete(errors.New("transport: chunk sink rejected response"))
				return
			case jstream.Pause:
				xfer.Pause()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				onComplete(nil)
			} else {
				onComplete(errors.Wrap(readErr, "transport: reading response body"))
			}
			return
		}
	}
}

// withIdempotencyID appends id as a query parameter (spec.md §6), leaving
// the URL untouched when id is empty.
func withIdempotencyID(rawURL, id string) (string, error) {
	if id == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// producerReader adapts a BodyProducer to io.Reader, pausing (without
// returning EOF) when either the caller's Transfer is paused or the
// producer itself reports jstream.Pause, and respecting an upload
// RateLimiter.
type producerReader struct {
	ctx     context.Context
	produce BodyProducer
	limiter RateLimiter
	xfer    *httpTransfer
}

func (r *producerReader) Read(p []byte) (int, error) {
	for {
		if r.ctx.Err() != nil {
			return 0, r.ctx.Err()
		}
		for r.xfer.paused.Load() {
			select {
			case <-r.ctx.Done():
				return 0, r.ctx.Err()
			case <-time.After(pausePollInterval):
			}
		}
		n, result, err := r.produce(p)
		if err != nil {
			return n, err
		}
		if n > 0 {
			if r.limiter != nil {
				if werr := r.limiter.Wait(r.ctx, n); werr != nil {
					return n, werr
				}
			}
			return n, nil
		}
		switch result {
		case jstream.Pause:
			corelog.Debugf("transport: body producer paused with no bytes ready")
			select {
			case <-r.ctx.Done():
				return 0, r.ctx.Err()
			case <-time.After(pausePollInterval):
			}
		default:
			return 0, io.EOF
		}
	}
}
