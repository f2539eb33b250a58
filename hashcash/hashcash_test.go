package hashcash

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
)

func allAToken() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("A", tokenBytes)))
}

func TestSolveAndValidate(t *testing.T) {
	token := allAToken()
	prefix := Solve(context.Background(), token, 10, 4)
	if prefix == "" {
		t.Fatal("expected a solution")
	}
	if !Validate(token, 10, prefix) {
		t.Fatalf("solved prefix %q did not validate", prefix)
	}
}

func TestValidateRejectsCorruptedPrefix(t *testing.T) {
	token := allAToken()
	prefix := Solve(context.Background(), token, 10, 4)
	if prefix == "" {
		t.Fatal("expected a solution")
	}
	raw, err := base64.StdEncoding.DecodeString(prefix)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0xFF
	corrupted := base64.StdEncoding.EncodeToString(raw)
	if Validate(token, 10, corrupted) {
		t.Fatalf("corrupted prefix unexpectedly validated")
	}
}

func TestSolveRejectsBadToken(t *testing.T) {
	if got := Solve(context.Background(), "not-valid-base64-len", 10, 2); got != "" {
		t.Fatalf("expected empty result for bad token, got %q", got)
	}
}

func TestThresholdFormula(t *testing.T) {
	cases := map[uint8]uint32{
		0:   1 << 3,
		10:  ((10 << 1) + 1) << 3,
		200: (((200 & 63) << 1) + 1) << (3*7 + 3),
	}
	for e, want := range cases {
		if got := Threshold(e); got != want {
			t.Fatalf("Threshold(%d) = %d, want %d", e, got, want)
		}
	}
}

func TestParseAndBuildHeader(t *testing.T) {
	c, err := ParseChallengeHeader("1:10:1700000000:" + allAToken())
	if err != nil {
		t.Fatal(err)
	}
	if c.Version != 1 || c.Easiness != 10 || c.Timestamp != 1700000000 {
		t.Fatalf("unexpected challenge: %+v", c)
	}
	if got := BuildReplyHeader(1, "abcd"); got != "1:abcd" {
		t.Fatalf("BuildReplyHeader = %q", got)
	}
}
