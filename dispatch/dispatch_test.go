package dispatch

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/internal/jsonscan"
)

func strCmd(method string) *Command {
	return &Command{
		Method: method,
		Serialize: func() ([]byte, error) {
			return []byte(`{"a":"` + method + `"}`), nil
		},
	}
}

func TestSerializeIsIdempotent(t *testing.T) {
	r := &Request{Commands: []*Command{strCmd("g"), strCmd("u")}}
	b1, id1, err := r.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	b2, id2, err := r.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) || id1 != id2 {
		t.Fatalf("Serialize not idempotent: (%s,%s) vs (%s,%s)", b1, id1, b2, id2)
	}
	if id1 == "" {
		t.Fatal("expected a non-empty idempotency id")
	}
}

func TestBatchSeparatelyForcesFlushBoundary(t *testing.T) {
	d := New()
	a, b, c := strCmd("a"), strCmd("b"), strCmd("c")
	b.BatchSeparately = true
	d.Enqueue(a)
	d.Enqueue(b)
	d.Enqueue(c)
	d.Flush()

	if len(d.queued) != 3 {
		t.Fatalf("expected 3 requests (a | b | c), got %d", len(d.queued))
	}
	if len(d.queued[0].Commands) != 1 || d.queued[0].Commands[0] != a {
		t.Fatalf("request 0 should contain only 'a'")
	}
	if len(d.queued[1].Commands) != 1 || d.queued[1].Commands[0] != b {
		t.Fatalf("request 1 should contain only the batchSeparately command")
	}
	if len(d.queued[2].Commands) != 1 || d.queued[2].Commands[0] != c {
		t.Fatalf("request 2 should contain only 'c'")
	}
}

func TestMaxCommandsSplitsBatch(t *testing.T) {
	d := New()
	for i := 0; i < MaxCommands+5; i++ {
		d.Enqueue(strCmd("n"))
	}
	d.Flush()
	if len(d.queued) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(d.queued))
	}
	if len(d.queued[0].Commands) != MaxCommands {
		t.Fatalf("first request should be exactly MaxCommands, got %d", len(d.queued[0].Commands))
	}
	if len(d.queued[1].Commands) != 5 {
		t.Fatalf("second request should hold the remainder, got %d", len(d.queued[1].Commands))
	}
}

func TestOneRequestAtATime(t *testing.T) {
	d := New()
	d.Enqueue(strCmd("a"))
	d.Enqueue(strCmd("b"))
	d.Flush()

	r1 := d.Next()
	if r1 == nil {
		t.Fatal("expected a request")
	}
	if r2 := d.Next(); r2 != nil {
		t.Fatal("expected nil while a request is in flight")
	}
	d.ServerResponse([]byte(`[0,0]`))
	if d.InFlight() != nil {
		t.Fatal("expected no in-flight request after ServerResponse")
	}
}

// TestDiscardInFlightUnwedgesQueue guards against a caller giving up on a
// failed in-flight request (network-retry exhaustion) without ever calling
// ServerResponse: without DiscardInFlight, Next() would believe a response
// is still pending and never advance to the next queued request.
func TestDiscardInFlightUnwedgesQueue(t *testing.T) {
	d := New()
	d.Enqueue(strCmd("a"))
	d.Flush()

	if r := d.Next(); r == nil {
		t.Fatal("expected a request")
	}
	if r := d.Next(); r != nil {
		t.Fatal("expected nil while a request is in flight")
	}

	d.InflightFailure(errors.New("simulated network failure"))
	if d.InFlight() == nil {
		t.Fatal("InflightFailure must not clear the in-flight request")
	}

	d.DiscardInFlight()
	if d.InFlight() != nil {
		t.Fatal("expected no in-flight request after DiscardInFlight")
	}

	d.Enqueue(strCmd("b"))
	d.Flush()
	if r := d.Next(); r == nil {
		t.Fatal("expected the next queued request to advance after DiscardInFlight")
	}
}

func TestServerResponseDispatchesNumberAndObject(t *testing.T) {
	d := New()
	var gotErrA, gotErrB error
	var parsedName string
	a := &Command{
		Method:    "fail",
		Serialize: func() ([]byte, error) { return []byte(`{"a":"fail"}`), nil },
		Complete:  func(err error) { gotErrA = err },
	}
	b := &Command{
		Method:    "ok",
		Serialize: func() ([]byte, error) { return []byte(`{"a":"ok"}`), nil },
		Parse: func(sc *jsonscan.Scanner) error {
			sc.EnterObject()
			for sc.Len() > 0 {
				if bz := sc.Bytes(); sc.Pos() < len(bz) && bz[sc.Pos()] == '}' {
					break
				}
				name := sc.GetName()
				if name == "n" {
					parsedName, _ = sc.GetString()
				} else {
					sc.StoreObject()
				}
			}
			return nil
		},
		Complete: func(err error) { gotErrB = err },
	}
	d.Enqueue(a)
	d.Enqueue(b)
	d.Flush()
	d.Next()

	if err := d.ServerResponse([]byte(`[-9,{"n":"hello"}]`)); err != nil {
		t.Fatal(err)
	}
	if gotErrA != WireError(-9) {
		t.Fatalf("command a: got %v, want WireError(-9)", gotErrA)
	}
	if gotErrB != nil {
		t.Fatalf("command b: got unexpected error %v", gotErrB)
	}
	if parsedName != "hello" {
		t.Fatalf("parsed name = %q, want hello", parsedName)
	}
}

func TestServerResponseWholeRequestError(t *testing.T) {
	d := New()
	var gotA, gotB error
	a := &Command{Serialize: func() ([]byte, error) { return []byte(`{}`), nil }, Complete: func(e error) { gotA = e }}
	b := &Command{Serialize: func() ([]byte, error) { return []byte(`{}`), nil }, Complete: func(e error) { gotB = e }}
	d.Enqueue(a)
	d.Enqueue(b)
	d.Flush()
	d.Next()

	if err := d.ServerResponse([]byte(`-5`)); err != nil {
		t.Fatal(err)
	}
	if gotA != WireError(-5) || gotB != WireError(-5) {
		t.Fatalf("expected both commands to fail with -5, got %v / %v", gotA, gotB)
	}
}

func TestSeqTagThreaded(t *testing.T) {
	d := New()
	cmd := &Command{
		Serialize: func() ([]byte, error) { return []byte(`{}`), nil },
		Parse: func(sc *jsonscan.Scanner) error {
			sc.EnterObject()
			sc.LeaveObject()
			return nil
		},
	}
	d.Enqueue(cmd)
	d.Flush()
	d.Next()
	d.ServerResponse([]byte(`[{"st":"seq123"}]`))
	if d.LastSeqTag() != "seq123" {
		t.Fatalf("LastSeqTag = %q, want seq123", d.LastSeqTag())
	}
}
