// Package hashcash implements the login proof-of-work solver and
// verifier described in spec.md §4.A: a parallel brute-force search for a
// 4-byte nonce prefix whose SHA-256 over (prefix‖token×262144) has its
// leading 32 bits, interpreted big-endian, at or below a threshold
// derived from a server-issued easiness value.
package hashcash

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const (
	tokenBytes  = 48
	prefixBytes = 4
	repeat      = 262144 // 12 MiB / 48 B
	bufSize     = prefixBytes + repeat*tokenBytes
)

// Threshold computes the 32-bit acceptance threshold for a given easiness
// byte, per original_source's thresholdFromEasiness:
//
//	(((e & 63) << 1) + 1) << ((e >> 6) * 7 + 3)
func Threshold(easiness uint8) uint32 {
	e := uint32(easiness)
	return (((e & 63) << 1) + 1) << ((e >> 6) * 7 + 3)
}

// decodeToken validates that token base64-decodes to exactly 48 bytes, as
// required by the "token must Base64-decode to exactly 48 bytes" failure
// model.
func decodeToken(token string) ([]byte, bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(token)
		if err != nil {
			return nil, false
		}
	}
	if len(raw) != tokenBytes {
		return nil, false
	}
	return raw, true
}

// tileToken fills buf[prefixBytes:] by repeating tokenBin end to end,
// matching initTokenArea's doubling copy.
func tileToken(tokenBin []byte, buf []byte) {
	body := buf[prefixBytes:]
	copy(body, tokenBin)
	filled := len(tokenBin)
	for filled < len(body) {
		n := copy(body[filled:], body[:filled])
		filled += n
	}
}

// firstWord returns the first 4 bytes of SHA-256(buf) as a big-endian
// uint32.
func firstWord(buf []byte) uint32 {
	sum := sha256.Sum256(buf)
	return binary.BigEndian.Uint32(sum[:4])
}

// Solve spawns min(maxWorkers, GOMAXPROCS) workers, each scanning a
// disjoint stride of the 32-bit nonce space, and returns the base64
// encoded 4-byte prefix of the first nonce found whose hash satisfies the
// threshold for easiness. It returns "" if token does not decode to
// exactly 48 bytes, without doing any hashing (the spec's failure model).
func Solve(ctx context.Context, token string, easiness uint8, maxWorkers int) string {
	tokenBin, ok := decodeToken(token)
	if !ok {
		return ""
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	workers := maxWorkers
	if hw := runtime.GOMAXPROCS(0); hw > 0 && hw < workers {
		workers = hw
	}

	threshold := Threshold(easiness)

	var (
		winnerMu sync.Mutex
		winner   string
		stop     atomic.Bool
	)

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := uint32(w)
		stride := uint32(workers)
		g.Go(func() error {
			buf := make([]byte, bufSize)
			tileToken(tokenBin, buf)
			for n := start; ; n += stride {
				if stop.Load() {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				binary.BigEndian.PutUint32(buf[:prefixBytes], n)
				if firstWord(buf) <= threshold {
					stop.Store(true)
					winnerMu.Lock()
					if winner == "" {
						winner = base64.StdEncoding.EncodeToString(buf[:prefixBytes])
					}
					winnerMu.Unlock()
					return nil
				}
				// Without this guard n would wrap around uint32 in the
				// pathological case where no nonce in this worker's
				// stride satisfies threshold; the worker returns once
				// its stride is exhausted. stop is still observed by
				// every worker as soon as another wins.
				if n > ^uint32(0)-stride {
					return nil
				}
			}
		})
	}
	_ = g.Wait()
	return winner
}

// Validate rebuilds the message from token and the candidate prefix and
// checks it against the easiness threshold, without any search.
func Validate(token string, easiness uint8, prefixB64 string) bool {
	prefix, err := base64.StdEncoding.DecodeString(prefixB64)
	if err != nil || len(prefix) != prefixBytes {
		return false
	}
	tokenBin, ok := decodeToken(token)
	if !ok {
		return false
	}
	buf := make([]byte, bufSize)
	tileToken(tokenBin, buf)
	copy(buf[:prefixBytes], prefix)
	return firstWord(buf) <= Threshold(easiness)
}
