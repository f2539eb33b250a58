package nodecache

import (
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/node"
)

// NodeSearchFilter parameterizes Children and Search (spec.md §4.G).
type NodeSearchFilter struct {
	Types []node.Type // empty means "any type"

	CTimeFrom, CTimeTo int64 // zero means unbounded
	MTimeFrom, MTimeTo int64

	MimeCategory string // "" means any; see node.MimeCategory

	ExcludeSensitive bool // honor the sensitivity flag's subtree inheritance

	NameContains        string
	DescriptionContains string
	TagContains         string
	UseAndForTextQuery  bool // AND vs OR combination of the three substring checks above

	Favorite *bool // nil means "any"

	AncestorHandles []node.Handle
	IncludedShares  node.ShareMask // nonzero restricts to nodes whose Share overlaps this mask
}

// matches implements the matchFilter predicate, shared between the
// SQL user-defined function (funcs.go) and any pure-Go caller (tests).
func (f *NodeSearchFilter) matches(name, description string, tags []string, typ node.Type, ctime, mtime int64, favorite bool, flags uint32) bool {
	if f == nil {
		return true
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == typ {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CTimeFrom != 0 && ctime < f.CTimeFrom {
		return false
	}
	if f.CTimeTo != 0 && ctime > f.CTimeTo {
		return false
	}
	if f.MTimeFrom != 0 && mtime < f.MTimeFrom {
		return false
	}
	if f.MTimeTo != 0 && mtime > f.MTimeTo {
		return false
	}
	if f.MimeCategory != "" && node.MimeCategory(node.MimeType(name)) != f.MimeCategory {
		return false
	}
	if f.ExcludeSensitive && flags&node.FlagSensitive != 0 {
		return false
	}
	if f.Favorite != nil && *f.Favorite != favorite {
		return false
	}
	if f.NameContains != "" || f.DescriptionContains != "" || f.TagContains != "" {
		nameOK := f.NameContains == "" || containsFold(name, f.NameContains)
		descOK := f.DescriptionContains == "" || containsFold(description, f.DescriptionContains)
		tagOK := f.TagContains == "" || tagsContainFold(tags, f.TagContains)
		checks := activeChecks(f.NameContains, f.DescriptionContains, f.TagContains, nameOK, descOK, tagOK)
		if f.UseAndForTextQuery {
			for _, ok := range checks {
				if !ok {
					return false
				}
			}
		} else {
			any := false
			for _, ok := range checks {
				if ok {
					any = true
					break
				}
			}
			if !any {
				return false
			}
		}
	}
	return true
}

func activeChecks(name, desc, tag string, nameOK, descOK, tagOK bool) []bool {
	var out []bool
	if name != "" {
		out = append(out, nameOK)
	}
	if desc != "" {
		out = append(out, descOK)
	}
	if tag != "" {
		out = append(out, tagOK)
	}
	return out
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func tagsContainFold(tags []string, needle string) bool {
	for _, t := range tags {
		if containsFold(t, needle) {
			return true
		}
	}
	return false
}

// OrderField is the small ordering enum spec.md §4.G describes:
// "default/size/ctime/mtime/label/fav x asc/desc".
type OrderField int8

const (
	OrderDefault OrderField = iota
	OrderSize
	OrderCTime
	OrderMTime
	OrderLabel
	OrderFavorite
)

// Order combines a field with a direction. The query plan for a given
// Order is stable: Store caches one prepared statement per Order value
// (spec.md §4.G: "the statement is cached keyed by that enum").
type Order struct {
	Field OrderField
	Desc  bool
}

func (o Order) orderBySQL() string {
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	switch o.Field {
	case OrderSize:
		return "sizeVirtual(counter) " + dir
	case OrderCTime:
		return "ctime " + dir
	case OrderMTime:
		return "mtime " + dir
	case OrderLabel:
		return "label " + dir
	case OrderFavorite:
		return "favorite " + dir + ", name COLLATE NATURALNOCASE ASC"
	default:
		return "name COLLATE NATURALNOCASE " + dir
	}
}

// runCancellable installs token as the active CancelToken for the
// duration of query, translating SQLITE_INTERRUPT into "empty result, no
// error" per spec.md §7.
func (s *Store) runCancellable(token *CancelToken, query func() ([]*node.Node, error)) ([]*node.Node, error) {
	s.activeCancel.Store(token)
	defer s.activeCancel.Store(nil)
	nodes, err := query()
	if err != nil {
		if IsInterrupt(err) {
			return nil, nil
		}
		return nil, err
	}
	return nodes, nil
}

// Children returns the immediate children of parent matching filter,
// ordered by order. token may be nil for an uncancellable query.
func (s *Store) Children(parent node.Handle, filter *NodeSearchFilter, order Order, token *CancelToken) ([]*node.Node, error) {
	return s.runCancellable(token, func() ([]*node.Node, error) {
		id := s.filters.register(filter)
		defer s.filters.release(id)
		q := `SELECT ` + nodeColumns + ` FROM nodes WHERE parenthandle = ? AND (flags & ? ) = 0
			AND matchFilter(?, name, description, tags, type, ctime, mtime, favorite, flags)
			ORDER BY ` + order.orderBySQL()
		rows, err := s.execer().Query(q, int64(parent), int64(node.FlagVersion), id)
		if err != nil {
			s.reportIfStorageError(err)
			return nil, errors.Wrap(err, "nodecache: querying children")
		}
		return scanAll(rows)
	})
}

// Search performs the recursive descent described in spec.md §4.G: a
// CTE seeded from filter.AncestorHandles (plus shared-node handles when
// filter.IncludedShares is set) that walks nodes excluding FILE parents
// (files only ever have version children) and excluding version nodes
// themselves, honoring sensitivity inheritance.
func (s *Store) Search(filter *NodeSearchFilter, order Order, token *CancelToken) ([]*node.Node, error) {
	return s.runCancellable(token, func() ([]*node.Node, error) {
		seeds := make([]int64, 0, len(filter.AncestorHandles))
		for _, h := range filter.AncestorHandles {
			seeds = append(seeds, int64(h))
		}
		if filter.IncludedShares != 0 {
			shareRows, err := s.execer().Query(`SELECT handle FROM nodes WHERE share & ? != 0`, int64(filter.IncludedShares))
			if err != nil {
				s.reportIfStorageError(err)
				return nil, errors.Wrap(err, "nodecache: resolving shared ancestor seeds")
			}
			for shareRows.Next() {
				var h int64
				if err := shareRows.Scan(&h); err != nil {
					shareRows.Close()
					return nil, errors.Wrap(err, "nodecache: scanning shared ancestor")
				}
				seeds = append(seeds, h)
			}
			shareRows.Close()
		}
		if len(seeds) == 0 {
			return nil, nil
		}
		seedsJSON, err := json.Marshal(seeds)
		if err != nil {
			return nil, errors.Wrap(err, "nodecache: encoding ancestor seeds")
		}

		id := s.filters.register(filter)
		defer s.filters.release(id)

		excludeSensitive := int64(0)
		if filter.ExcludeSensitive {
			excludeSensitive = 1
		}

		q := `
WITH RECURSIVE ancestors(handle) AS (
  SELECT value FROM json_each(?)
),
nodesCTE(handle, sensitive) AS (
  SELECT n.handle, (n.flags & ?) != 0
    FROM nodes n
    JOIN ancestors a ON n.parenthandle = a.handle
    WHERE (n.flags & ?) = 0
  UNION ALL
  SELECT n.handle, c.sensitive OR ((n.flags & ?) != 0)
    FROM nodes n
    JOIN nodesCTE c ON n.parenthandle = c.handle
    JOIN nodes p ON p.handle = n.parenthandle
    WHERE p.type != 0 AND (n.flags & ?) = 0
)
SELECT ` + nodeColumns + ` FROM nodes
WHERE handle IN (SELECT handle FROM nodesCTE WHERE ? = 0 OR sensitive = 0)
  AND matchFilter(?, name, description, tags, type, ctime, mtime, favorite, flags)
ORDER BY ` + order.orderBySQL()

		sensitiveBit := int64(node.FlagSensitive)
		versionBit := int64(node.FlagVersion)
		rows, err := s.execer().Query(q,
			string(seedsJSON),
			sensitiveBit, versionBit,
			sensitiveBit, versionBit,
			excludeSensitive,
			id,
		)
		if err != nil {
			s.reportIfStorageError(err)
			return nil, errors.Wrap(err, "nodecache: recursive search")
		}
		return scanAll(rows)
	})
}

// Favourites runs a recursive descent from root restricted to fav = 1,
// optionally bounded by limit (0 means unbounded), per spec.md §4.G.
func (s *Store) Favourites(root node.Handle, limit int, token *CancelToken) ([]*node.Node, error) {
	fav := true
	filter := &NodeSearchFilter{AncestorHandles: []node.Handle{root}, Favorite: &fav}
	nodes, err := s.Search(filter, Order{Field: OrderDefault}, token)
	if err != nil || limit <= 0 || len(nodes) <= limit {
		return nodes, err
	}
	return nodes[:limit], nil
}

// Recents returns file nodes only (excluding versions and rubbish),
// ordered by ctime DESC, paginated by offset/size (spec.md §4.G).
func (s *Store) Recents(offset, size int, token *CancelToken) ([]*node.Node, error) {
	return s.runCancellable(token, func() ([]*node.Node, error) {
		excludeMask := int64(node.FlagVersion | node.FlagInRubbish)
		q := `SELECT ` + nodeColumns + ` FROM nodes WHERE type = ? AND (flags & ?) = 0
			ORDER BY ctime DESC LIMIT ? OFFSET ?`
		rows, err := s.execer().Query(q, int64(node.TypeFile), excludeMask, size, offset)
		if err != nil {
			s.reportIfStorageError(err)
			return nil, errors.Wrap(err, "nodecache: querying recents")
		}
		return scanAll(rows)
	})
}

// GetAllNodeTags selects distinct non-empty tags columns, optionally
// matching a SQL LIKE pattern, splits each by the tag delimiter, and
// returns the set of unique tags matching pattern again (spec.md §4.G).
func (s *Store) GetAllNodeTags(likePattern string, token *CancelToken) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	s.activeCancel.Store(token)
	defer s.activeCancel.Store(nil)

	var rows *sql.Rows
	var err error
	if likePattern != "" {
		rows, err = s.execer().Query(`SELECT DISTINCT tags FROM nodes WHERE tags != '' AND tags LIKE ?`, likePattern)
	} else {
		rows, err = s.execer().Query(`SELECT DISTINCT tags FROM nodes WHERE tags != ''`)
	}
	if err != nil {
		if IsInterrupt(err) {
			return out, nil
		}
		s.reportIfStorageError(err)
		return nil, errors.Wrap(err, "nodecache: querying node tags")
	}
	defer rows.Close()

	likeLower := strings.ToLower(strings.Trim(likePattern, "%"))
	for rows.Next() {
		var seq string
		if err := rows.Scan(&seq); err != nil {
			return nil, errors.Wrap(err, "nodecache: scanning tags row")
		}
		for _, tag := range node.TagsFromSequence(seq) {
			if likeLower == "" || strings.Contains(strings.ToLower(tag), likeLower) {
				out[tag] = struct{}{}
			}
		}
	}
	if err := rows.Err(); err != nil {
		if IsInterrupt(err) {
			return out, nil
		}
		return nil, errors.Wrap(err, "nodecache: iterating tags rows")
	}
	return out, nil
}
