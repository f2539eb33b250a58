package totp

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"
)

var epoch = time.Unix(0, 0).UTC()

func TestRFC6238VectorsSHA1(t *testing.T) {
	const key = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	cases := map[int64]string{
		59:           "94287082",
		1111111109:   "07081804",
		1111111111:   "14050471",
		1234567890:   "89005924",
		2000000000:   "69279037",
		20000000000:  "65353130",
	}
	for secs, want := range cases {
		got, _ := Generate(key, 8, 30*time.Second, epoch, time.Unix(secs, 0).UTC(), SHA1)
		if got != want {
			t.Errorf("t=%d: got %s want %s", secs, got, want)
		}
	}
}

func seedKey(ascii string, n int) string {
	seed := strings.Repeat(ascii, (n/len(ascii))+1)[:n]
	return base32.StdEncoding.EncodeToString([]byte(seed))
}

func TestRFC6238VectorsSHA256(t *testing.T) {
	key := seedKey("12345678901234567890", 32)
	cases := map[int64]string{
		59:          "46119246",
		1111111109:  "68084774",
		1111111111:  "67062674",
		1234567890:  "91819424",
		2000000000:  "90698825",
		20000000000: "77737706",
	}
	for secs, want := range cases {
		got, _ := Generate(key, 8, 30*time.Second, epoch, time.Unix(secs, 0).UTC(), SHA256)
		if got != want {
			t.Errorf("t=%d: got %s want %s", secs, got, want)
		}
	}
}

func TestRFC6238VectorsSHA512(t *testing.T) {
	key := seedKey("1234567890", 64)
	cases := map[int64]string{
		59:          "90693936",
		1111111109:  "25091201",
		1111111111:  "99943326",
		1234567890:  "93441116",
		2000000000:  "38618901",
		20000000000: "47863826",
	}
	for secs, want := range cases {
		got, _ := Generate(key, 8, 30*time.Second, epoch, time.Unix(secs, 0).UTC(), SHA512)
		if got != want {
			t.Errorf("t=%d: got %s want %s", secs, got, want)
		}
	}
}

func TestGenerateRejectsInvalidInputs(t *testing.T) {
	now := epoch.Add(100 * time.Second)
	if s, _ := Generate("not base32!!", 6, 30*time.Second, epoch, now, SHA1); s != "" {
		t.Fatal("expected rejection of invalid alphabet")
	}
	if s, _ := Generate("AA=A", 6, 30*time.Second, epoch, now, SHA1); s != "" {
		t.Fatal("expected rejection of mid-string padding")
	}
	if s, _ := Generate("GEZDGNBV", 5, 30*time.Second, epoch, now, SHA1); s != "" {
		t.Fatal("expected rejection of digits below 6")
	}
	if s, _ := Generate("GEZDGNBV", 11, 30*time.Second, epoch, now, SHA1); s != "" {
		t.Fatal("expected rejection of digits above 10")
	}
	if s, _ := Generate("GEZDGNBV", 6, 0, epoch, now, SHA1); s != "" {
		t.Fatal("expected rejection of non-positive step")
	}
	if s, _ := Generate("GEZDGNBV", 6, 30*time.Second, now, epoch, SHA1); s != "" {
		t.Fatal("expected rejection of tEval before t0")
	}
}

func TestExpirationWithinStep(t *testing.T) {
	_, remaining := Generate("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", 6, 30*time.Second, epoch, epoch.Add(5*time.Second), SHA1)
	if remaining != 25*time.Second {
		t.Fatalf("expected 25s remaining, got %v", remaining)
	}
}

func TestExpirationAtStepBoundary(t *testing.T) {
	_, remaining := Generate("GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ", 6, 30*time.Second, epoch, epoch, SHA1)
	if remaining != 30*time.Second {
		t.Fatalf("expected a full 30s step remaining at tEval == t0, got %v", remaining)
	}
}
