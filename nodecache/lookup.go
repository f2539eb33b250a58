package nodecache

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/node"
)

// ErrNotFound is returned by the single-result lookups when no row
// matches.
var ErrNotFound = errors.New("nodecache: not found")

func scanNode(row interface{ Scan(...any) error }) (*node.Node, error) {
	var (
		handle, parent                      int64
		name                                 string
		typ                                  int64
		fingerprint, origFingerprint, counter []byte
		ctime, mtime                          int64
		flags                                int64
		favorite                             int64
		label, share                         int64
		description, tags                    string
		blob                                 []byte
	)
	err := row.Scan(&handle, &parent, &name, &typ, &fingerprint, &origFingerprint,
		&ctime, &mtime, &flags, &favorite, &label, &share, &description, &tags, &counter, &blob)
	if err != nil {
		return nil, err
	}
	n := &node.Node{
		Handle:              node.Handle(handle),
		Parent:              node.Handle(parent),
		Name:                name,
		Type:                node.Type(typ),
		Fingerprint:         fingerprint,
		OriginalFingerprint: origFingerprint,
		CTime:               ctime,
		MTime:               mtime,
		Flags:               uint32(flags),
		Favorite:            favorite != 0,
		Label:               node.Label(label),
		Share:               node.ShareMask(share),
		Description:         description,
		Tags:                node.TagsFromSequence(tags),
		Blob:                blob,
	}
	if len(counter) > 0 {
		if c, err := node.DecodeCounter(counter); err == nil {
			n.Counter = c
		}
	}
	return n, nil
}

const nodeColumns = `handle, parenthandle, name, type, fingerprint, origfingerprint, ctime, mtime, flags, favorite, label, share, description, tags, counter, blob`

// Get looks a node up by its primary handle.
func (s *Store) Get(h node.Handle) (*node.Node, error) {
	row := s.execer().QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE handle = ?`, int64(h))
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrapf(err, "nodecache: getting handle %d", h)
	}
	return n, nil
}

// ByFingerprint returns every node whose content fingerprint equals fp
// (spec.md §4.G: "by fingerprint (indexed; either all matches or a
// single one)").
func (s *Store) ByFingerprint(fp []byte) ([]*node.Node, error) {
	rows, err := s.execer().Query(`SELECT `+nodeColumns+` FROM nodes WHERE fingerprint = ?`, fp)
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrap(err, "nodecache: querying by fingerprint")
	}
	return scanAll(rows)
}

// OneByFingerprint returns a single arbitrary match for fp, or nil.
func (s *Store) OneByFingerprint(fp []byte) (*node.Node, error) {
	row := s.execer().QueryRow(`SELECT `+nodeColumns+` FROM nodes WHERE fingerprint = ? LIMIT 1`, fp)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrap(err, "nodecache: querying one by fingerprint")
	}
	return n, nil
}

// ByOriginalFingerprint finds nodes by their pre-transcoding fingerprint.
func (s *Store) ByOriginalFingerprint(fp []byte) ([]*node.Node, error) {
	rows, err := s.execer().Query(`SELECT `+nodeColumns+` FROM nodes WHERE origfingerprint = ?`, fp)
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrap(err, "nodecache: querying by original fingerprint")
	}
	return scanAll(rows)
}

// RootNodes returns every node whose type lies in [ROOT, RUBBISH]
// (spec.md §4.G "type BETWEEN ROOT AND RUBBISH").
func (s *Store) RootNodes() ([]*node.Node, error) {
	rows, err := s.execer().Query(`SELECT `+nodeColumns+` FROM nodes WHERE type BETWEEN ? AND ?`,
		int64(node.TypeRoot), int64(node.TypeRubbish))
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrap(err, "nodecache: querying root nodes")
	}
	return scanAll(rows)
}

// SharedOrLinked returns nodes with a nonzero share mask (spec.md §4.G:
// "Nodes with shares or public links are selected by share & type != 0").
func (s *Store) SharedOrLinked() ([]*node.Node, error) {
	rows, err := s.execer().Query(`SELECT ` + nodeColumns + ` FROM nodes WHERE share != 0`)
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrap(err, "nodecache: querying shared/linked nodes")
	}
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]*node.Node, error) {
	defer rows.Close()
	var out []*node.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errors.Wrap(err, "nodecache: scanning row")
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "nodecache: iterating rows")
	}
	return out, nil
}
