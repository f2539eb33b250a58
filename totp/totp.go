// Package totp implements RFC-6238 time-based one-time passwords over a
// Base32 shared secret, per spec.md §4.B, used to generate codes for
// stored TOTP credential entries.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Algorithm selects the HMAC hash used to compute the OTP.
type Algorithm int

const (
	SHA1 Algorithm = iota
	SHA256
	SHA512
)

func (a Algorithm) new() func() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New
	case SHA512:
		return sha512.New
	default:
		return sha1.New
	}
}

const (
	minDigits = 6
	maxDigits = 10
)

const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

func isBase32Char(c byte) bool {
	return strings.IndexByte(base32Alphabet, upper(c)) >= 0
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func base32Value(c byte) uint32 {
	return uint32(strings.IndexByte(base32Alphabet, upper(c)))
}

// decodeBase32 greedily accumulates 5-bit groups into a byte buffer,
// ignoring trailing '=' padding, matching original_source's toByteBlock.
// It returns ok=false if any non-padding character falls outside the
// RFC-4648 alphabet, or if a '=' appears before a non-padding character.
func decodeBase32(key string) ([]byte, bool) {
	seenPadding := false
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '=' {
			seenPadding = true
			continue
		}
		if seenPadding {
			// padding must only trail the string
			return nil, false
		}
		if !isBase32Char(c) {
			return nil, false
		}
	}

	out := make([]byte, 0, len(key)*5/8)
	var bits uint32
	var bitCount uint
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '=' {
			break
		}
		bits = bits<<5 | base32Value(c)
		bitCount += 5
		if bitCount >= 8 {
			bitCount -= 8
			out = append(out, byte(bits>>bitCount))
		}
	}
	return out, true
}

// Generate computes a TOTP per RFC-6238. It returns ("", 0) if any input
// is invalid: malformed Base32 key, digits outside [6,10], non-positive
// step, or tEval before t0.
func Generate(base32Key string, digits int, step time.Duration, t0, tEval time.Time, algo Algorithm) (string, time.Duration) {
	if digits < minDigits || digits > maxDigits {
		return "", 0
	}
	if step <= 0 {
		return "", 0
	}
	if tEval.Before(t0) {
		return "", 0
	}
	key, ok := decodeBase32(base32Key)
	if !ok {
		return "", 0
	}

	// time.Time.Sub saturates beyond ~292 years, so the span from t0 to
	// tEval is divided by step in big-integer nanoseconds.
	delta := new(big.Int).Mul(big.NewInt(tEval.Unix()-t0.Unix()), big.NewInt(int64(time.Second)))
	delta.Add(delta, big.NewInt(int64(tEval.Nanosecond()-t0.Nanosecond())))
	q, r := new(big.Int).QuoRem(delta, big.NewInt(int64(step)), new(big.Int))
	counter := q.Int64()
	code, err := hotp(key, counter, algo)
	if err != nil {
		return "", 0
	}

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	if digits != 10 {
		code %= mod
	}

	remainder := step - time.Duration(r.Int64())

	s := strconv.FormatUint(uint64(code), 10)
	if len(s) < digits {
		s = strings.Repeat("0", digits-len(s)) + s
	} else if len(s) > digits {
		s = s[len(s)-digits:]
	}
	return s, remainder
}

// hotp computes HOTP(secret, counter) per RFC-4226 §5.3-5.4: HMAC of the
// big-endian 8-byte counter, then dynamic truncation.
func hotp(secret []byte, counter int64, algo Algorithm) (uint32, error) {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], uint64(counter))

	mac := hmac.New(algo.new(), secret)
	if _, err := mac.Write(counterBytes[:]); err != nil {
		return 0, err
	}
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF
	return code, nil
}
