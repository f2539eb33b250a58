package nodecache

import "github.com/meganz/corevault/node"

// SchemaVersion is the <V> in the state-cache file naming convention of
// spec.md §6 ("megaclient_statecache<V>_<name>.db"). Bump it whenever a
// column or table change would make an older file unsafe to reopen
// in-place rather than migrate.
const SchemaVersion = 1

// column describes one "expected" column of the nodes table for schema
// migration purposes (spec.md §4.G "for every expected column,
// introspect the existing table; if absent, add it with its declared
// type; if its value can be derived from the serialized node blob, run a
// single-pass populate inside a transaction").
//
// populate, when non-nil, derives this column's value from a decoded
// node.Node during migration — matching spec.md's "UPDATE each row"
// wording literally rather than reaching for a SQL json_extract
// expression, since the blob's wire shape is this module's own, not a
// format SQLite's json1 extension need understand.
type column struct {
	name     string
	sqlType  string
	populate func(*node.Node) any
}

// expectedColumns is authoritative: it drives both CREATE TABLE (on a
// fresh database) and migration (on an existing one). Order matches
// spec.md §3's listed Node attributes. "blob" has no populate function:
// it IS the source of truth migration reads from, never a target.
var expectedColumns = []column{
	{name: "handle", sqlType: "INTEGER PRIMARY KEY"},
	{name: "parenthandle", sqlType: "INTEGER", populate: func(n *node.Node) any { return int64(n.Parent) }},
	{name: "name", sqlType: "TEXT", populate: func(n *node.Node) any { return n.Name }},
	{name: "type", sqlType: "INTEGER", populate: func(n *node.Node) any { return int64(n.Type) }},
	{name: "fingerprint", sqlType: "BLOB", populate: func(n *node.Node) any { return n.Fingerprint }},
	{name: "origfingerprint", sqlType: "BLOB", populate: func(n *node.Node) any { return n.OriginalFingerprint }},
	{name: "ctime", sqlType: "INTEGER", populate: func(n *node.Node) any { return n.CTime }},
	{name: "mtime", sqlType: "INTEGER", populate: func(n *node.Node) any { return n.MTime }},
	{name: "flags", sqlType: "INTEGER", populate: func(n *node.Node) any { return int64(n.Flags) }},
	{name: "favorite", sqlType: "INTEGER", populate: func(n *node.Node) any { return boolToInt(n.Favorite) }},
	{name: "label", sqlType: "INTEGER", populate: func(n *node.Node) any { return int64(n.Label) }},
	{name: "share", sqlType: "INTEGER", populate: func(n *node.Node) any { return int64(n.Share) }},
	{name: "description", sqlType: "TEXT", populate: func(n *node.Node) any { return n.Description }},
	{name: "tags", sqlType: "TEXT", populate: func(n *node.Node) any { return n.TagSequence() }},
	{name: "counter", sqlType: "BLOB", populate: func(n *node.Node) any { return n.Counter.Encode() }},
	{name: "blob", sqlType: "BLOB NOT NULL"},
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// nodesCreateTableSQL creates the nodes table with every expected column
// present, for a brand-new database. mimetypeVirtual and sizeVirtual are
// NOT physical columns: spec.md §4.G defines them as "host-provided
// function of" another column, computed at query time by the registered
// SQL functions of the same name (see funcs.go) — they are never part of
// CREATE TABLE and never written (invariant e).
func nodesCreateTableSQL() string {
	sql := "CREATE TABLE IF NOT EXISTS nodes (\n"
	for i, c := range expectedColumns {
		if i > 0 {
			sql += ",\n"
		}
		sql += "  " + c.name + " " + c.sqlType
	}
	sql += "\n)"
	return sql
}

const statecacheCreateTableSQL = `CREATE TABLE IF NOT EXISTS statecache (
	id INTEGER PRIMARY KEY,
	content BLOB
)`

const nodesFingerprintIndexSQL = `CREATE INDEX IF NOT EXISTS idx_nodes_fingerprint ON nodes(fingerprint)`
const nodesOrigFingerprintIndexSQL = `CREATE INDEX IF NOT EXISTS idx_nodes_origfingerprint ON nodes(origfingerprint)`
const nodesParentIndexSQL = `CREATE INDEX IF NOT EXISTS idx_nodes_parent ON nodes(parenthandle)`
const nodesShareIndexSQL = `CREATE INDEX IF NOT EXISTS idx_nodes_share ON nodes(share) WHERE share != 0`
