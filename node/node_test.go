package node

import (
	"bytes"
	"testing"
)

func TestHandleBase64RoundTrip(t *testing.T) {
	cases := map[int]Handle{
		6: 0x0102030405,
		8: 0x0102030405060708 >> 8, // fits in 7 bytes, exercised at width 8
	}
	for width, want := range cases {
		enc := want.Base64(width)
		got, err := HandleFromBase64(enc)
		if err != nil {
			t.Fatalf("width %d: %v", width, err)
		}
		if got != want {
			t.Fatalf("width %d: got %x want %x", width, got, want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	n := &Node{
		Handle:      0xAABBCCDDEE,
		Parent:      0x1122334455,
		Name:        "Budget 2023.pdf",
		Type:        TypeFile,
		Fingerprint: []byte{1, 2, 3},
		CTime:       100,
		MTime:       200,
		Flags:       FlagSensitive,
		Favorite:    true,
		Label:       LabelBlue,
		Share:       ShareLink,
		Description: "quarterly numbers",
		Tags:        []string{"finance", "2023"},
		Counter:     Counter{Bytes: 4096, Files: 1},
	}
	blob, err := Encode(n)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(blob)
	if err != nil {
		t.Fatal(err)
	}
	if got.Handle != n.Handle || got.Parent != n.Parent || got.Name != n.Name {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, n)
	}
	if !bytes.Equal(got.Fingerprint, n.Fingerprint) {
		t.Fatalf("fingerprint mismatch")
	}
	if got.Favorite != n.Favorite || got.Label != n.Label || got.Share != n.Share {
		t.Fatalf("attr mismatch")
	}
	if got.Counter.Size() != n.Counter.Size() {
		t.Fatalf("counter mismatch: %v vs %v", got.Counter, n.Counter)
	}
	reblob, err := Encode(got)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reblob, blob) {
		t.Fatalf("re-encoding is not byte-stable")
	}
}

func TestIsVersionFlag(t *testing.T) {
	n := &Node{Flags: FlagVersion | FlagInRubbish}
	if !n.IsVersion() || !n.InRubbish() || n.Sensitive() {
		t.Fatalf("flag decode wrong: %+v", n)
	}
}
