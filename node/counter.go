package node

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Counter is the serialized aggregate of bytes + item counts for a
// subtree (the "node counter" of the glossary). sizeVirtual in nodecache
// is always recomputed from this, never trusted from the wire directly.
type Counter struct {
	Bytes        int64
	Files        int64
	Folders      int64
	VersionBytes int64
	VersionFiles int64
}

// Size is the self+descendants byte total nodecache's sizeVirtual column
// exposes.
func (c Counter) Size() int64 { return c.Bytes + c.VersionBytes }

const counterFields = 5

// Encode packs the counter into a fixed little-endian blob, matching the
// shape original_source stores as an opaque byte string inside the node
// record (decoded here only by the single function responsible for it,
// per invariant (e): virtual columns are recomputed, never trusted raw).
func (c Counter) Encode() []byte {
	buf := make([]byte, counterFields*8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(c.Bytes))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Files))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(c.Folders))
	binary.LittleEndian.PutUint64(buf[24:32], uint64(c.VersionBytes))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(c.VersionFiles))
	return buf
}

// DecodeCounter is the inverse of Encode.
func DecodeCounter(b []byte) (Counter, error) {
	if len(b) != counterFields*8 {
		return Counter{}, errors.Errorf("node: counter blob has %d bytes, want %d", len(b), counterFields*8)
	}
	return Counter{
		Bytes:        int64(binary.LittleEndian.Uint64(b[0:8])),
		Files:        int64(binary.LittleEndian.Uint64(b[8:16])),
		Folders:      int64(binary.LittleEndian.Uint64(b[16:24])),
		VersionBytes: int64(binary.LittleEndian.Uint64(b[24:32])),
		VersionFiles: int64(binary.LittleEndian.Uint64(b[32:40])),
	}, nil
}

// Add returns the element-wise sum of c and other, used when folding a
// child folder's counter into its parent during aggregation.
func (c Counter) Add(other Counter) Counter {
	return Counter{
		Bytes:        c.Bytes + other.Bytes,
		Files:        c.Files + other.Files,
		Folders:      c.Folders + other.Folders,
		VersionBytes: c.VersionBytes + other.VersionBytes,
		VersionFiles: c.VersionFiles + other.VersionFiles,
	}
}
