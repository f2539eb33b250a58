package hashcash

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Challenge is the server-issued HashCash challenge parsed from the
// X-Hashcash response header (spec.md §6): "1:<easiness>:<timestamp>:<token>".
type Challenge struct {
	Version   int
	Easiness  uint8
	Timestamp int64
	Token     string
}

// ParseChallengeHeader parses the X-Hashcash response header value.
func ParseChallengeHeader(header string) (Challenge, error) {
	parts := strings.SplitN(header, ":", 4)
	if len(parts) != 4 {
		return Challenge{}, errors.Errorf("hashcash: malformed challenge header %q", header)
	}
	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return Challenge{}, errors.Wrap(err, "hashcash: parsing version")
	}
	easiness, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return Challenge{}, errors.Wrap(err, "hashcash: parsing easiness")
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Challenge{}, errors.Wrap(err, "hashcash: parsing timestamp")
	}
	if parts[3] == "" {
		return Challenge{}, errors.New("hashcash: empty token in challenge header")
	}
	return Challenge{Version: version, Easiness: uint8(easiness), Timestamp: ts, Token: parts[3]}, nil
}

// BuildReplyHeader renders the request-side X-Hashcash header carrying the
// solved prefix: "1:<prefix>".
func BuildReplyHeader(version int, prefix string) string {
	return strconv.Itoa(version) + ":" + prefix
}
