package nodecache

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/meganz/corevault/node"
)

// txStmt returns stmt bound to the active transaction when one is open,
// so a prepared statement created against the bare *sql.DB still
// participates in the single held connection rather than blocking on a
// second one that will never be free (MaxOpenConns(1), spec.md §5).
func (s *Store) txStmt(stmt *sql.Stmt) *sql.Stmt {
	if s.inTxn {
		return s.tx.Stmt(stmt)
	}
	return stmt
}

// Put performs the full INSERT-OR-REPLACE binding all 16 columns from
// n's serialised blob (spec.md §4.G put/update statement 1). Attr values
// (favorite, label, description, tags, original fingerprint) are read
// off n directly — the same fields Encode used to build n.Blob — so a
// caller cannot desync them from the blob (spec.md §4.G).
func (s *Store) Put(n *node.Node) error {
	s.checkTransacted()
	if _, err := node.Encode(n); err != nil {
		return errors.Wrap(err, "nodecache: encoding node before put")
	}
	stmt := s.txStmt(s.putStmt)
	_, err := stmt.Exec(
		int64(n.Handle), int64(n.Parent), n.Name, int64(n.Type),
		n.Fingerprint, n.OriginalFingerprint,
		n.CTime, n.MTime, int64(n.Flags), boolToInt(n.Favorite), int64(n.Label),
		int64(n.Share), n.Description, n.TagSequence(), n.Counter.Encode(), n.Blob,
	)
	if err != nil {
		s.reportIfStorageError(err)
		return errors.Wrapf(err, "nodecache: put handle %d", n.Handle)
	}
	return nil
}

// UpdateCounter performs put/update statement 2: the counter blob only,
// avoiding rewriting the rest of an unchanged node (spec.md §3 Node
// lifecycle: "counter+flags update path is distinct from full-put to
// avoid rewriting unchanged bytes").
func (s *Store) UpdateCounter(h node.Handle, c node.Counter) error {
	s.checkTransacted()
	stmt := s.txStmt(s.updateCounterStmt)
	_, err := stmt.Exec(c.Encode(), int64(h))
	if err != nil {
		s.reportIfStorageError(err)
		return errors.Wrapf(err, "nodecache: updating counter for handle %d", h)
	}
	return nil
}

// UpdateCounterAndFlags performs put/update statement 3.
func (s *Store) UpdateCounterAndFlags(h node.Handle, c node.Counter, flags uint32) error {
	s.checkTransacted()
	stmt := s.txStmt(s.updateCtrFlagsStmt)
	_, err := stmt.Exec(c.Encode(), int64(flags), int64(h))
	if err != nil {
		s.reportIfStorageError(err)
		return errors.Wrapf(err, "nodecache: updating counter+flags for handle %d", h)
	}
	return nil
}

// Delete removes a node by handle (the `a:"d"` actionpacket, spec.md §3
// Node lifecycle).
func (s *Store) Delete(h node.Handle) error {
	s.checkTransacted()
	_, err := s.execer().Exec(`DELETE FROM nodes WHERE handle = ?`, int64(h))
	if err != nil {
		s.reportIfStorageError(err)
		return errors.Wrapf(err, "nodecache: deleting handle %d", h)
	}
	return nil
}

// Truncate empties the nodes table wholesale, used when the tree is
// reloaded from scratch (spec.md §3 Node lifecycle).
func (s *Store) Truncate() error {
	s.checkTransacted()
	_, err := s.execer().Exec(`DELETE FROM nodes`)
	if err != nil {
		s.reportIfStorageError(err)
		return errors.Wrap(err, "nodecache: truncating nodes table")
	}
	return nil
}

// SetState stores a blob of generic client state under id in the
// statecache table (spec.md §4.G).
func (s *Store) SetState(id int64, content []byte) error {
	_, err := s.execer().Exec(`INSERT OR REPLACE INTO statecache (id, content) VALUES (?, ?)`, id, content)
	if err != nil {
		s.reportIfStorageError(err)
		return errors.Wrapf(err, "nodecache: setting state %d", id)
	}
	return nil
}

// GetState retrieves previously-stored generic client state.
func (s *Store) GetState(id int64) ([]byte, error) {
	var content []byte
	err := s.execer().QueryRow(`SELECT content FROM statecache WHERE id = ?`, id).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		s.reportIfStorageError(err)
		return nil, errors.Wrapf(err, "nodecache: getting state %d", id)
	}
	return content, nil
}

// SetSequence/Sequence implement actionpacket.SeqStore, persisting the
// action-packet stream's sequence number in statecache under a
// reserved id (spec.md §4.E: "persisted after the chunk is fully
// processed").
const sequenceStateID int64 = -1

func (s *Store) SetSequence(sn string) error { return s.SetState(sequenceStateID, []byte(sn)) }

func (s *Store) Sequence() (string, error) {
	b, err := s.GetState(sequenceStateID)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
