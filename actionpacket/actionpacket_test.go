package actionpacket

import (
	"fmt"
	"testing"

	"github.com/meganz/corevault/internal/jstream"
	"github.com/meganz/corevault/node"
)

type fakeStore struct {
	nodes             map[node.Handle]*node.Node
	begun, committed   int
	aborted            int
	truncated          bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{nodes: make(map[node.Handle]*node.Node)}
}

func (f *fakeStore) Put(n *node.Node) error {
	cp := *n
	f.nodes[n.Handle] = &cp
	return nil
}
func (f *fakeStore) UpdateCounter(h node.Handle, c node.Counter) error {
	n, ok := f.nodes[h]
	if !ok {
		return nil
	}
	n.Counter = c
	return nil
}
func (f *fakeStore) UpdateCounterAndFlags(h node.Handle, c node.Counter, flags uint32) error {
	n, ok := f.nodes[h]
	if !ok {
		return nil
	}
	n.Counter, n.Flags = c, flags
	return nil
}
func (f *fakeStore) Delete(h node.Handle) error { delete(f.nodes, h); return nil }
func (f *fakeStore) Get(h node.Handle) (*node.Node, error) {
	n, ok := f.nodes[h]
	if !ok {
		return nil, nil
	}
	return n, nil
}
func (f *fakeStore) Truncate() error { f.nodes = make(map[node.Handle]*node.Node); f.truncated = true; return nil }
func (f *fakeStore) Begin() error    { f.begun++; return nil }
func (f *fakeStore) Commit() error   { f.committed++; return nil }
func (f *fakeStore) Abort() error    { f.aborted++; return nil }

type fakeSeq struct{ sn string }

func (f *fakeSeq) SetSequence(sn string) error { f.sn = sn; return nil }
func (f *fakeSeq) Sequence() (string, error)   { return f.sn, nil }

type fakeNotifier struct{ url string }

func (f *fakeNotifier) NotifyWebsocketURL(url string) { f.url = url }

func feedAll(t *testing.T, splitter *jstream.Splitter, payload string) jstream.Result {
	t.Helper()
	data := []byte(payload)
	consumed, result := splitter.ProcessChunk(data)
	if consumed != len(data) && result == jstream.Success {
		t.Fatalf("ProcessChunk left %d unconsumed bytes for payload %q", len(data)-consumed, payload)
	}
	return result
}

func TestDeleteActionPacketAppliesAndPersistsSequence(t *testing.T) {
	store := newFakeStore()
	h := node.Handle(123456)
	store.nodes[h] = &node.Node{Handle: h, Name: "doomed"}
	seq := &fakeSeq{}

	splitter := jstream.New()
	New(splitter, store, seq, nil, nil)

	payload := fmt.Sprintf(`{"a":[{"a":"d","n":"%s"}],"sn":"100"}`, h.Base64(6))
	if r := feedAll(t, splitter, payload); r != jstream.Success {
		t.Fatalf("ProcessChunk result = %v, want Success", r)
	}
	if _, ok := store.nodes[h]; ok {
		t.Fatal("node was not deleted")
	}
	if seq.sn != "100" {
		t.Fatalf("sequence = %q, want 100", seq.sn)
	}
	if store.begun != 1 || store.committed != 1 || store.aborted != 0 {
		t.Fatalf("transaction bookkeeping = begun:%d committed:%d aborted:%d", store.begun, store.committed, store.aborted)
	}
}

func TestNewTreeActionPacketPutsNode(t *testing.T) {
	store := newFakeStore()
	seq := &fakeSeq{}
	splitter := jstream.New()
	New(splitter, store, seq, nil, nil)

	h := node.Handle(777)
	p := node.Handle(1)
	payload := fmt.Sprintf(`{"a":[{"a":"t","n":"%s","p":"%s"}],"sn":"1"}`, h.Base64(6), p.Base64(6))
	if r := feedAll(t, splitter, payload); r != jstream.Success {
		t.Fatalf("ProcessChunk result = %v, want Success", r)
	}
	got, ok := store.nodes[h]
	if !ok {
		t.Fatal("new node was not put")
	}
	if got.Parent != p {
		t.Fatalf("parent = %d, want %d", got.Parent, p)
	}
}

func TestMalformedResponseAbortsWithoutPersistingSequence(t *testing.T) {
	store := newFakeStore()
	store.nodes[1] = &node.Node{Handle: 1, Name: "keep"}
	seq := &fakeSeq{sn: "99"}
	splitter := jstream.New()
	New(splitter, store, seq, nil, nil)

	feedAll(t, splitter, `not json at all`)

	if seq.sn != "99" {
		t.Fatalf("sequence was overwritten despite parse failure: %q", seq.sn)
	}
	if store.aborted == 0 {
		t.Fatal("expected the open transaction to be aborted on parse failure")
	}
	if _, ok := store.nodes[1]; !ok {
		t.Fatal("unrelated node was lost on abort")
	}
}

func TestNumericErrorResponseInvokesHandler(t *testing.T) {
	store := newFakeStore()
	seq := &fakeSeq{}
	var gotCode int64
	splitter := jstream.New()
	New(splitter, store, seq, nil, func(code int64) { gotCode = code })

	feedAll(t, splitter, `-3 `)

	if gotCode != -3 {
		t.Fatalf("error handler received %d, want -3", gotCode)
	}
}

func TestWebsocketURLNotifiesListener(t *testing.T) {
	store := newFakeStore()
	seq := &fakeSeq{}
	notifier := &fakeNotifier{}
	splitter := jstream.New()
	New(splitter, store, seq, notifier, nil)

	feedAll(t, splitter, `{"w":"wss://example.invalid/sock","a":[],"sn":"5"}`)

	if notifier.url != "wss://example.invalid/sock" {
		t.Fatalf("notifier url = %q", notifier.url)
	}
	if seq.sn != "5" {
		t.Fatalf("sequence = %q, want 5", seq.sn)
	}
}

func TestReloadTreeTruncatesStore(t *testing.T) {
	store := newFakeStore()
	store.nodes[1] = &node.Node{Handle: 1}
	splitter := jstream.New()
	d := New(splitter, store, &fakeSeq{}, nil, nil)

	if err := d.ReloadTree(); err != nil {
		t.Fatalf("ReloadTree: %v", err)
	}
	if !store.truncated || len(store.nodes) != 0 {
		t.Fatal("ReloadTree did not truncate the store")
	}
}

func TestUnknownTagIsIgnoredNotFatal(t *testing.T) {
	store := newFakeStore()
	seq := &fakeSeq{}
	splitter := jstream.New()
	New(splitter, store, seq, nil, nil)

	if r := feedAll(t, splitter, `{"a":[{"a":"brand-new-tag-from-the-future"}],"sn":"1"}`); r != jstream.Success {
		t.Fatalf("ProcessChunk result = %v, want Success", r)
	}
	if seq.sn != "1" {
		t.Fatalf("sequence = %q, want 1", seq.sn)
	}
}
