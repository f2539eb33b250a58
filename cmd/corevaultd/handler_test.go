package main

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/meganz/corevault/agentipc"
	"github.com/meganz/corevault/engine"
	"github.com/meganz/corevault/nodecache"
	"github.com/meganz/corevault/transport"
)

type fakeTransport struct {
	mu      sync.Mutex
	respond func(spec transport.RequestSpec, onChunk transport.ChunkSink, onComplete transport.CompletionFunc)
}

func (f *fakeTransport) Start(ctx context.Context, spec transport.RequestSpec, onChunk transport.ChunkSink, onComplete transport.CompletionFunc) (transport.Transfer, error) {
	f.mu.Lock()
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		respond(spec, onChunk, onComplete)
	}
	return noopTransfer{}, nil
}

func (f *fakeTransport) SetDownloadCap(transport.RateLimiter) {}
func (f *fakeTransport) SetUploadCap(transport.RateLimiter)   {}

type noopTransfer struct{}

func (noopTransfer) Pause()  {}
func (noopTransfer) Resume() {}
func (noopTransfer) Cancel() {}

func newTestEngine(t *testing.T, respond func(transport.RequestSpec, transport.ChunkSink, transport.CompletionFunc)) *engine.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.db")
	store, err := nodecache.Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ft := &fakeTransport{respond: respond}
	e := engine.New(engine.Config{APIURL: "http://example.invalid/cs", Transport: ft, Store: store})
	e.Init(context.Background())
	t.Cleanup(e.Shutdown)
	return e
}

func TestCommandHandlerRoundTrip(t *testing.T) {
	eng := newTestEngine(t, func(spec transport.RequestSpec, onChunk transport.ChunkSink, onComplete transport.CompletionFunc) {
		if spec.Method != "POST" {
			return
		}
		onChunk([]byte(`[{"u":42}]`))
		onComplete(nil)
	})

	handle := newCommandHandler(eng)
	var out bytes.Buffer
	code, err := handle(agentipc.Command{Text: `{"a":"ug"}`}, nil, &out)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if code != agentipc.OK {
		t.Fatalf("outcode = %v, want OK", code)
	}
	if out.String() != `{"u":42}` {
		t.Fatalf("output = %q, want {\"u\":42}", out.String())
	}
}

func TestCommandHandlerEmptyText(t *testing.T) {
	eng := newTestEngine(t, nil)
	handle := newCommandHandler(eng)
	var out bytes.Buffer
	code, err := handle(agentipc.Command{Text: ""}, nil, &out)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if code != agentipc.EArgs {
		t.Fatalf("outcode = %v, want EArgs", code)
	}
}

func TestCommandHandlerWireError(t *testing.T) {
	eng := newTestEngine(t, func(spec transport.RequestSpec, onChunk transport.ChunkSink, onComplete transport.CompletionFunc) {
		if spec.Method != "POST" {
			return
		}
		onChunk([]byte(`-9`))
		onComplete(nil)
	})

	handle := newCommandHandler(eng)
	var out bytes.Buffer
	code, err := handle(agentipc.Command{Text: `{"a":"ug"}`}, nil, &out)
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if code != agentipc.OK {
		t.Fatalf("outcode = %v, want OK (errors are surfaced in the body)", code)
	}
	if out.String() != "-9\n" {
		t.Fatalf("output = %q, want -9\\n", out.String())
	}
}

func TestMethodTag(t *testing.T) {
	cases := map[string]string{
		`{"a":"ug"}`:          "ug",
		`{"n":"abc","a":"p"}`: "p",
		`{}`:                  "",
		`not json at all`:     "",
	}
	for raw, want := range cases {
		if got := methodTag([]byte(raw)); got != want {
			t.Errorf("methodTag(%q) = %q, want %q", raw, got, want)
		}
	}
}
