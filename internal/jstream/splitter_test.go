package jstream

import (
	"testing"

	"github.com/meganz/corevault/internal/jsonscan"
)

// feedChunks drives proc with sc in pieces of size chunkLen, resubmitting
// the unconsumed tail of each call together with the next chunk, exactly
// as spec.md §8 property 1 requires of a real caller.
func feedChunks(t *testing.T, p *Splitter, full []byte, chunkLen int) {
	t.Helper()
	pending := []byte(nil)
	for offset := 0; offset < len(full); offset += chunkLen {
		end := offset + chunkLen
		if end > len(full) {
			end = len(full)
		}
		pending = append(pending, full[offset:end]...)
		for {
			consumed, result := p.ProcessChunk(pending)
			if result == Err {
				t.Fatalf("unexpected parse error at offset %d", offset)
			}
			pending = pending[consumed:]
			if result != Pause {
				break
			}
			// A real caller only retries a Pause once more data or a
			// state change makes the callback ready; here we just retry
			// immediately since nothing changes between retries.
			if consumed == 0 {
				break
			}
		}
	}
}

func TestS1ActionPacketArray(t *testing.T) {
	input := []byte(`{"w":"wss://x/","sn":"S1","a":[{"a":"u","n":"AAAAAAAA"}]}`)

	var gotAP []string
	var gotW, gotSN string

	p := New()
	p.On(`{[a{`, func(s *jsonscan.Scanner) Result {
		gotAP = append(gotAP, string(s.Bytes()))
		return Success
	})
	p.On(`{"w`, func(s *jsonscan.Scanner) Result {
		gotW, _ = s.GetString()
		return Success
	})
	p.On(`{"sn`, func(s *jsonscan.Scanner) Result {
		gotSN, _ = s.GetString()
		return Success
	})

	feedChunks(t, p, input, 4)

	if len(gotAP) != 1 {
		t.Fatalf("expected exactly one actionpacket callback, got %d: %v", len(gotAP), gotAP)
	}
	if want := `{"a":"u","n":"AAAAAAAA"}`; gotAP[0] != want {
		t.Fatalf("got %q want %q", gotAP[0], want)
	}
	if gotW != "wss://x/" {
		t.Fatalf("got w %q", gotW)
	}
	if gotSN != "S1" {
		t.Fatalf("got sn %q", gotSN)
	}
	if !p.Done() {
		t.Fatal("expected parser to be done")
	}
}

func TestS2BareNumber(t *testing.T) {
	input := []byte(`-9,`)

	var gotVal int64
	var fired bool

	p := New()
	p.On(PathNumber, func(s *jsonscan.Scanner) Result {
		fired = true
		gotVal, _ = s.GetInt()
		return Success
	})

	feedChunks(t, p, input, 1)

	if !fired {
		t.Fatal("expected # filter to fire")
	}
	if gotVal != -9 {
		t.Fatalf("got %d want -9", gotVal)
	}
	if !p.Done() {
		t.Fatal("expected parser to be done")
	}
}

func TestMultipleActionPacketsInOrder(t *testing.T) {
	input := []byte(`{"a":[{"a":"u","n":"AAAAAAAA"},{"a":"d","n":"BBBBBBBB"},{"a":"t","n":"CCCCCCCC"}]}`)

	var seq []string
	p := New()
	p.On(`{[a{`, func(s *jsonscan.Scanner) Result {
		sub := jsonscan.New(s.Bytes())
		sub.EnterObject()
		sub.GetName()
		tag, _ := sub.GetString()
		seq = append(seq, tag)
		return Success
	})

	feedChunks(t, p, input, 7)

	if len(seq) != 3 {
		t.Fatalf("expected 3 actionpackets, got %d: %v", len(seq), seq)
	}
	if seq[0] != "u" || seq[1] != "d" || seq[2] != "t" {
		t.Fatalf("got sequence %v", seq)
	}
}

func TestPauseReplaysSameCallback(t *testing.T) {
	input := []byte(`{"a":[{"a":"u","n":"AAAAAAAA"}]}`)

	calls := 0
	p := New()
	p.On(`{[a{`, func(s *jsonscan.Scanner) Result {
		calls++
		if calls == 1 {
			return Pause
		}
		return Success
	})

	// Feed the whole thing in one call, expect a Pause the first time.
	consumed, result := p.ProcessChunk(input)
	if result != Pause {
		t.Fatalf("expected Pause, got %v", result)
	}
	// Per contract, the caller resubmits the exact same remaining bytes.
	remaining := input[consumed:]
	consumed2, result2 := p.ProcessChunk(remaining)
	if result2 != Success {
		t.Fatalf("expected Success on replay, got %v", result2)
	}
	if calls != 2 {
		t.Fatalf("expected callback invoked twice (pause + replay), got %d", calls)
	}
	_ = consumed2
}

func TestErrorStopsParsingPermanently(t *testing.T) {
	input := []byte(`{"a":[{"a":"u"}]}`)

	var errFired bool
	p := New()
	p.On(`{[a{`, func(s *jsonscan.Scanner) Result { return Err })
	p.On(PathError, func(s *jsonscan.Scanner) Result {
		errFired = true
		return Success
	})

	_, result := p.ProcessChunk(input)
	if result != Err {
		t.Fatalf("expected Err, got %v", result)
	}
	if !errFired {
		t.Fatal("expected dedicated error filter to fire")
	}
	if _, result2 := p.ProcessChunk([]byte(`{}`)); result2 != Err {
		t.Fatal("expected parser to remain failed on subsequent calls")
	}
}

func TestConsumedNeverExceedsChunkLength(t *testing.T) {
	input := []byte(`{"w":"wss://x/","sn":"S1","a":[{"a":"u","n":"AAAAAAAA"},{"a":"d","n":"BBBBBBBB"}]}`)
	p := New()
	p.On(`{[a{`, func(s *jsonscan.Scanner) Result { return Success })

	pending := []byte(nil)
	for i := 0; i < len(input); i += 3 {
		end := i + 3
		if end > len(input) {
			end = len(input)
		}
		chunk := input[i:end]
		pending = append(pending, chunk...)
		before := len(pending)
		consumed, result := p.ProcessChunk(pending)
		if result == Err {
			t.Fatalf("unexpected error")
		}
		if consumed > before {
			t.Fatalf("consumed %d exceeds available %d", consumed, before)
		}
		pending = pending[consumed:]
	}
}
