package nodecache

import (
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/meganz/corevault/node"
)

// naturalNoCase implements the NATURALNOCASE collation (spec.md §4.G):
// UTF-8 strings compared naturally — embedded runs of digits compared
// numerically rather than lexically — and case-insensitively. Installed
// at connection-open time; every name-ordered query in this package uses
// it so "File 2" sorts before "File 10".
func naturalNoCase(a, b string) int {
	ra, rb := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	i, j := 0, 0
	for i < len(ra) && j < len(rb) {
		ca, cb := ra[i], rb[j]
		if unicode.IsDigit(ca) && unicode.IsDigit(cb) {
			starti, startj := i, j
			for i < len(ra) && unicode.IsDigit(ra[i]) {
				i++
			}
			for j < len(rb) && unicode.IsDigit(rb[j]) {
				j++
			}
			na, _ := strconv.ParseUint(strings.TrimLeft(string(ra[starti:i]), "0")+"0", 10, 64)
			nb, _ := strconv.ParseUint(strings.TrimLeft(string(rb[startj:j]), "0")+"0", 10, 64)
			// the +"0"/TrimLeft dance keeps an all-zero run ("000")
			// parseable instead of empty; it does not change ordering
			// since both sides get the same treatment.
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(ra)-i < len(rb)-j:
		return -1
	case len(ra)-i > len(rb)-j:
		return 1
	default:
		return 0
	}
}

// filterRegistry hands out int64 handles for *NodeSearchFilter values so
// the matchFilter SQL user-defined function (which SQLite can only pass
// scalar parameters to) can look the Go-side filter object back up by
// handle, per spec.md §4.G: "A user-defined SQL function matchFilter
// evaluates the filter predicate on each candidate row (parameter 0 is
// the filter pointer...)".
type filterRegistry struct {
	mu      sync.Mutex
	next    int64
	filters map[int64]*NodeSearchFilter
}

func newFilterRegistry() *filterRegistry {
	return &filterRegistry{filters: make(map[int64]*NodeSearchFilter)}
}

func (r *filterRegistry) register(f *NodeSearchFilter) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := r.next
	r.filters[id] = f
	return id
}

func (r *filterRegistry) release(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.filters, id)
}

func (r *filterRegistry) get(id int64) (*NodeSearchFilter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.filters[id]
	return f, ok
}

// matchFilter is registered as the SQL scalar function of the same name.
// Its signature mirrors a `nodes` row's relevant columns: filter handle,
// name, description, tags (comma-delimited), type, ctime, mtime,
// favorite, sensitivity flags; the mimetype category is derived from name
// inside the predicate. A nil filter is a legitimate registration
// (Children called with no filter at all) and matches everything; an
// unregistered or already-released
// handle matches nothing.
func (s *Store) matchFilter(filterID int64, name, description, tags string, typ int64, ctime, mtime int64, favorite int64, flags int64) bool {
	f, ok := s.filters.get(filterID)
	if !ok {
		return false
	}
	return f.matches(name, description, node.TagsFromSequence(tags), node.Type(typ), ctime, mtime, favorite != 0, uint32(flags))
}

// sizeVirtual is registered as the mimetypeVirtual/sizeVirtual SQL
// functions' sizeVirtual half: a pure function of the counter blob,
// never trusted from the wire (invariant e).
func sizeVirtual(counterBlob []byte) int64 {
	if len(counterBlob) == 0 {
		return 0
	}
	c, err := node.DecodeCounter(counterBlob)
	if err != nil {
		return 0
	}
	return c.Size()
}

// mimetypeVirtual is registered as the mimetypeVirtual SQL function: a
// pure function of name (invariant e).
func mimetypeVirtual(name string) string {
	return node.MimeType(name)
}
