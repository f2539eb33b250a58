// Package node defines the data model shared by the node cache, the
// action-packet dispatcher, and the request/response dispatcher: the
// directory/file tree mirrored locally from the remote filesystem.
package node

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Type is the node kind carried on the wire and in the nodes table.
type Type int8

const (
	TypeUndef   Type = -1
	TypeFile    Type = 0
	TypeFolder  Type = 1
	TypeRoot    Type = 2
	TypeInbox   Type = 3
	TypeRubbish Type = 4
)

// IsRoot reports whether t is one of the root-ish types used by the
// "root nodes" lookup (type BETWEEN ROOT AND RUBBISH).
func (t Type) IsRoot() bool { return t >= TypeRoot && t <= TypeRubbish }

// Flags bitmask values, per spec.md §3.
const (
	FlagVersion uint32 = 1 << iota
	FlagInRubbish
	FlagSensitive
)

// Label is the small user-assigned color/label enum.
type Label int8

const (
	LabelNone Label = iota
	LabelRed
	LabelOrange
	LabelYellow
	LabelGreen
	LabelBlue
	LabelPurple
	LabelGrey
)

// ShareMask records how a node is shared: outbound, inbound, link, pending.
type ShareMask uint32

const (
	ShareOutbound ShareMask = 1 << iota
	ShareInbound
	ShareLink
	SharePending
)

// Handle is the 48-bit (node) or 64-bit (user/other) globally unique
// identifier. It is never a database rowid: rowid survives only inside
// the local cache, whereas Handle is the remote authoritative identity.
type Handle uint64

// HandleFromBase64 decodes a wire handle. Per spec.md §6, 6 raw bytes
// (folders/files) encode to 8 base64 chars, 8 raw bytes (users/others) to
// 11 chars, both without padding.
func HandleFromBase64(s string) (Handle, error) {
	switch len(s) {
	case 8, 11:
	default:
		return 0, errors.Errorf("node: handle %q has unexpected length %d", s, len(s))
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// MEGA's base64 alphabet is URL-safe but some wire producers
		// use the standard alphabet; fall back before failing.
		raw, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return 0, errors.Wrapf(err, "node: decoding handle %q", s)
		}
	}
	if len(raw) != 6 && len(raw) != 8 {
		return 0, errors.Errorf("node: handle %q decoded to %d bytes, want 6 or 8", s, len(raw))
	}
	var buf [8]byte
	copy(buf[:], raw)
	var h Handle
	for i := len(raw) - 1; i >= 0; i-- {
		h = h<<8 | Handle(buf[i])
	}
	return h, nil
}

// Base64 encodes h back to its wire form using width raw bytes (6 or 8).
func (h Handle) Base64(width int) string {
	buf := make([]byte, width)
	v := uint64(h)
	for i := 0; i < width; i++ {
		buf[i] = byte(v)
		v >>= 8
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Node is a directory or file in the locally cached tree.
type Node struct {
	Handle              Handle
	Parent              Handle
	Name                string
	Type                Type
	Fingerprint         []byte
	OriginalFingerprint []byte
	CTime               int64
	MTime               int64
	Flags               uint32
	Favorite            bool
	Label               Label
	Share               ShareMask
	Description         string
	Tags                []string // decoded from the comma-delimited tag-sequence
	Counter             Counter

	// Blob is the serialized form that is the single source of truth:
	// invariant (d) requires that decoding it reproduces every other
	// field. Encode/Decode keep this property mechanically true instead
	// of relying on callers to keep the two in sync by hand.
	Blob []byte
}

// IsVersion implements invariant (c): a node is a version iff its parent
// is a file node. The cache must look the parent up to know this; Node
// itself only stores the bit once resolved (FlagVersion), which is what
// every query in nodecache filters on.
func (n *Node) IsVersion() bool { return n.Flags&FlagVersion != 0 }

func (n *Node) InRubbish() bool { return n.Flags&FlagInRubbish != 0 }

func (n *Node) Sensitive() bool { return n.Flags&FlagSensitive != 0 }

// TagSequence renders Tags back into the comma-delimited storage form.
func (n *Node) TagSequence() string { return strings.Join(n.Tags, ",") }

// TagsFromSequence splits a comma-delimited tag-sequence attr value into
// its component tags, dropping empties.
func TagsFromSequence(seq string) []string {
	if seq == "" {
		return nil
	}
	parts := strings.Split(seq, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// wireNode is the JSON shape backing Node.Blob. It exists so Encode/Decode
// are the one and only place that defines the round-trip contract
// (invariant d); every other attribute a caller reads is projected from
// this struct, never carried as a separate out-of-band field.
type wireNode struct {
	Handle              uint64   `json:"h"`
	Parent              uint64   `json:"p"`
	Name                string   `json:"n"`
	Type                int8     `json:"t"`
	Fingerprint         []byte   `json:"fp,omitempty"`
	OriginalFingerprint []byte   `json:"ofp,omitempty"`
	CTime               int64    `json:"c"`
	MTime               int64    `json:"m"`
	Flags               uint32   `json:"fl"`
	Favorite            bool     `json:"fav,omitempty"`
	Label               int8     `json:"lbl,omitempty"`
	Share               uint32   `json:"shr,omitempty"`
	Description         string   `json:"d,omitempty"`
	Tags                []string `json:"tg,omitempty"`
	Counter             []byte   `json:"cnt,omitempty"`
}

// Encode produces the authoritative serialized blob for n and stores it
// in n.Blob, returning the same bytes.
func Encode(n *Node) ([]byte, error) {
	w := wireNode{
		Handle:              uint64(n.Handle),
		Parent:              uint64(n.Parent),
		Name:                n.Name,
		Type:                int8(n.Type),
		Fingerprint:         n.Fingerprint,
		OriginalFingerprint: n.OriginalFingerprint,
		CTime:               n.CTime,
		MTime:               n.MTime,
		Flags:               n.Flags,
		Favorite:            n.Favorite,
		Label:               int8(n.Label),
		Share:               uint32(n.Share),
		Description:         n.Description,
		Tags:                n.Tags,
		Counter:             n.Counter.Encode(),
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, errors.Wrap(err, "node: encoding blob")
	}
	n.Blob = b
	return b, nil
}

// Decode reproduces a full Node from a previously Encode-d blob. Virtual
// columns (mimetype, size) are never part of the blob: invariant (e)
// requires they are always recomputed, which nodecache does from Name
// and Counter respectively, never from decoded wire bytes.
func Decode(blob []byte) (*Node, error) {
	var w wireNode
	if err := json.Unmarshal(blob, &w); err != nil {
		return nil, errors.Wrap(err, "node: decoding blob")
	}
	n := &Node{
		Handle:              Handle(w.Handle),
		Parent:              Handle(w.Parent),
		Name:                w.Name,
		Type:                Type(w.Type),
		Fingerprint:         w.Fingerprint,
		OriginalFingerprint: w.OriginalFingerprint,
		CTime:               w.CTime,
		MTime:               w.MTime,
		Flags:               w.Flags,
		Favorite:            w.Favorite,
		Label:               Label(w.Label),
		Share:               ShareMask(w.Share),
		Description:         w.Description,
		Tags:                w.Tags,
		Blob:                blob,
	}
	if len(w.Counter) > 0 {
		c, err := DecodeCounter(w.Counter)
		if err != nil {
			return nil, errors.Wrap(err, "node: decoding counter")
		}
		n.Counter = c
	}
	return n, nil
}

