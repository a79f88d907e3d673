// ABOUTME: SQLite-backed Scene persisted in a single file, used by the CLI and the server
// ABOUTME: An optional advisory file lock keeps a second process from writing the same scene

package scene

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when schema.sql changes.
const schemaVersion = 1

// ErrSchemaMismatch indicates a scene file written by another schema version.
var ErrSchemaMismatch = errors.New("scene schema version mismatch")

// ErrSceneBusy is returned when another process holds the scene lock.
var ErrSceneBusy = errors.New("scene file is locked by another process")

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	// Exclusive takes an advisory lock on <path>.lock for the lifetime of
	// the scene.
	Exclusive bool
}

// SQLite is a Scene stored in a SQLite database.
type SQLite struct {
	db   *sql.DB
	path string
	lock *flock.Flock

	observers
}

var _ Scene = (*SQLite)(nil)

// OpenSQLite opens or creates a scene file.
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLite, error) {
	s := &SQLite{path: path}

	if opts.Exclusive {
		s.lock = flock.New(path + ".lock")
		ok, err := s.lock.TryLock()
		if err != nil {
			return nil, errors.Wrap(err, "acquire scene lock")
		}
		if !ok {
			return nil, errors.WithHint(errors.Wrapf(ErrSceneBusy, "%s", path),
				"stop the other tagstore process or set scene.exclusive = false")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		s.unlock()
		return nil, errors.Wrap(err, "open sqlite db")
	}
	// One connection keeps read-check-write sequences on the same
	// connection and makes ":memory:" usable.
	db.SetMaxOpenConns(1)
	s.db = db

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = s.Close()
			return nil, errors.Wrapf(err, "apply pragma %q", pragma)
		}
	}

	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Close closes the database and releases the scene lock.
func (s *SQLite) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	s.unlock()
	return err
}

func (s *SQLite) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

func (s *SQLite) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return errors.Wrap(err, "check schema_version table")
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return errors.Wrap(err, "read schema version")
	}
	if version != schemaVersion {
		return errors.WithHint(
			errors.Wrapf(ErrSchemaMismatch, "scene has version %d, expected %d", version, schemaVersion),
			"re-import the scene into a new file")
	}
	return nil
}

func (s *SQLite) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin schema tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "create schema")
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return errors.Wrap(err, "record schema version")
	}
	return errors.Wrap(tx.Commit(), "commit schema")
}

// Import appends objects to the scene in one transaction.
func (s *SQLite) Import(ctx context.Context, objects ...Object) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin import tx")
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range objects {
		if o.Name == "" {
			return errors.New("object name cannot be empty")
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO objects (name, node_type, parent, selected) VALUES (?, ?, ?, ?)",
			o.Name, o.Type, nullableString(o.Parent), o.Selected)
		if err != nil {
			return errors.Wrapf(err, "insert object %s", o.Name)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errors.Wrap(err, "last insert id")
		}
		for _, a := range o.Attributes {
			if a.Type == "" {
				a.Type = InferType(a.Value)
			}
			if err := insertAttribute(ctx, tx, id, a); err != nil {
				return errors.Wrapf(err, "insert attribute %s.%s", o.Name, a.Name)
			}
		}
	}

	var orphans int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM objects WHERE parent IS NOT NULL AND parent NOT IN (SELECT name FROM objects)",
	).Scan(&orphans); err != nil {
		return errors.Wrap(err, "check parents")
	}
	if orphans > 0 {
		return notFound("%d objects reference a missing parent", orphans)
	}
	return errors.Wrap(tx.Commit(), "commit import")
}

func insertAttribute(ctx context.Context, tx *sql.Tx, objectID int64, a Attribute) error {
	value, err := encodeValue(a.Value)
	if err != nil {
		return err
	}
	conns, err := json.Marshal(nonNil(a.Connections))
	if err != nil {
		return errors.Wrap(err, "encode connections")
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO attributes (object_id, name, attr_type, value_json, builtin, locked, connections_json)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		objectID, a.Name, a.Type, value, a.Builtin, a.Locked, string(conns))
	return err
}

// Objects exports the scene contents in scene order.
func (s *SQLite) Objects(ctx context.Context) ([]Object, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, node_type, COALESCE(parent, ''), selected FROM objects ORDER BY id")
	if err != nil {
		return nil, errors.Wrap(err, "query objects")
	}
	var objs []Object
	var ids []int64
	for rows.Next() {
		var o Object
		var id int64
		if err := rows.Scan(&id, &o.Name, &o.Type, &o.Parent, &o.Selected); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan object")
		}
		objs = append(objs, o)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "iterate objects")
	}
	rows.Close()

	for i, id := range ids {
		attrs, err := s.attributesOf(ctx, id)
		if err != nil {
			return nil, err
		}
		objs[i].Attributes = attrs
	}
	return objs, nil
}

func (s *SQLite) attributesOf(ctx context.Context, objectID int64) ([]Attribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, attr_type, value_json, builtin, locked, connections_json
         FROM attributes WHERE object_id = ? ORDER BY id`, objectID)
	if err != nil {
		return nil, errors.Wrap(err, "query attributes")
	}
	defer rows.Close()

	var out []Attribute
	for rows.Next() {
		var a Attribute
		var value sql.NullString
		var conns string
		if err := rows.Scan(&a.Name, &a.Type, &value, &a.Builtin, &a.Locked, &conns); err != nil {
			return nil, errors.Wrap(err, "scan attribute")
		}
		if a.Value, err = decodeValue(a.Type, value); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(conns), &a.Connections); err != nil {
			return nil, errors.Wrap(err, "decode connections")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate attributes")
}

// Select replaces the selection.
func (s *SQLite) Select(ctx context.Context, names ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin select tx")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE objects SET selected = 0"); err != nil {
		return errors.Wrap(err, "clear selection")
	}
	for _, n := range names {
		res, err := tx.ExecContext(ctx, "UPDATE objects SET selected = 1 WHERE name = ?", n)
		if err != nil {
			return errors.Wrapf(err, "select %s", n)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return notFound("object %s", n)
		}
	}
	return errors.Wrap(tx.Commit(), "commit selection")
}

func (s *SQLite) ListObjects(ctx context.Context, q ObjectQuery) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, node_type, COALESCE(parent, ''), selected FROM objects ORDER BY id")
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list objects"), ErrEnumeration)
	}
	defer rows.Close()

	var nodes []node
	for rows.Next() {
		var n node
		if err := rows.Scan(&n.name, &n.typ, &n.parent, &n.selected); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "scan object"), ErrEnumeration)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "iterate objects"), ErrEnumeration)
	}
	return selectNodes(nodes, q), nil
}

func (s *SQLite) ListAttributes(ctx context.Context, object string, userDefinedOnly bool) ([]string, error) {
	id, err := s.objectID(ctx, object)
	if err != nil {
		return nil, errors.Mark(err, ErrEnumeration)
	}
	query := "SELECT name FROM attributes WHERE object_id = ?"
	if userDefinedOnly {
		query += " AND builtin = 0"
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY id", id)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "list attributes"), ErrEnumeration)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "scan attribute"), ErrEnumeration)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "iterate attributes"), ErrEnumeration)
	}
	return out, nil
}

func (s *SQLite) ReadAttributeValue(ctx context.Context, object, attr string) (interface{}, error) {
	row, err := s.attribute(ctx, s.db, object, attr)
	if err != nil {
		return nil, errors.Mark(err, ErrRead)
	}
	if row.typ == TypeMessage {
		return nil, errors.Wrapf(ErrRead, "%s.%s has no scalar value", object, attr)
	}
	v, err := decodeValue(row.typ, row.value)
	if err != nil {
		return nil, errors.Mark(err, ErrRead)
	}
	return v, nil
}

func (s *SQLite) ReadAttributeConnections(ctx context.Context, object, attr string) ([]string, error) {
	row, err := s.attribute(ctx, s.db, object, attr)
	if err != nil {
		return nil, errors.Mark(err, ErrRead)
	}
	var conns []string
	if err := json.Unmarshal([]byte(row.connections), &conns); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode connections"), ErrRead)
	}
	return conns, nil
}

func (s *SQLite) AttributeExists(ctx context.Context, object, attr string) (bool, error) {
	id, err := s.objectID(ctx, object)
	if err != nil {
		return false, err
	}
	var n int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM attributes WHERE object_id = ? AND name = ?", id, attr).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query attribute")
	}
	return n > 0, nil
}

func (s *SQLite) AttributeType(ctx context.Context, object, attr string) (string, error) {
	row, err := s.attribute(ctx, s.db, object, attr)
	if err != nil {
		return "", err
	}
	return row.typ, nil
}

func (s *SQLite) NodeType(ctx context.Context, object string) (string, error) {
	var t string
	err := s.db.QueryRowContext(ctx, "SELECT node_type FROM objects WHERE name = ?", object).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("object %s", object)
	}
	if err != nil {
		return "", errors.Wrap(err, "query node type")
	}
	return t, nil
}

func (s *SQLite) CreateStringAttribute(ctx context.Context, object, name string) error {
	id, err := s.objectID(ctx, object)
	if err != nil {
		return err
	}
	exists, err := s.AttributeExists(ctx, object, name)
	if err != nil {
		return err
	}
	if exists {
		return errors.Wrapf(ErrExists, "%s.%s", object, name)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO attributes (object_id, name, attr_type, value_json) VALUES (?, ?, ?, ?)`,
		id, name, TypeString, `""`)
	if err != nil {
		return errors.Wrapf(err, "create %s.%s", object, name)
	}
	s.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeCreated})
	return nil
}

func (s *SQLite) DeleteAttribute(ctx context.Context, object, name string) error {
	row, err := s.attribute(ctx, s.db, object, name)
	if err != nil {
		return err
	}
	if row.locked {
		return errors.Wrapf(ErrLocked, "delete %s.%s", object, name)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM attributes WHERE id = ?", row.id); err != nil {
		return errors.Wrapf(err, "delete %s.%s", object, name)
	}
	s.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeDeleted})
	return nil
}

func (s *SQLite) SetAttribute(ctx context.Context, object, name string, value interface{}, locked bool) error {
	encoded, err := encodeValue(value)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin set tx")
	}
	defer func() { _ = tx.Rollback() }()

	row, err := s.attribute(ctx, tx, object, name)
	if err != nil {
		return err
	}
	if row.locked {
		return errors.Wrapf(ErrLocked, "set %s.%s", object, name)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE attributes SET value_json = ?, locked = ? WHERE id = ?", encoded, locked, row.id); err != nil {
		return errors.Wrapf(err, "set %s.%s", object, name)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit set")
	}

	s.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeSet})
	if locked {
		s.notify(ChangeEvent{Object: object, Attribute: name, Kind: AttributeLocked})
	}
	return nil
}

func (s *SQLite) LockAttribute(ctx context.Context, object, name string, locked bool) error {
	row, err := s.attribute(ctx, s.db, object, name)
	if err != nil {
		return err
	}
	if row.locked == locked {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE attributes SET locked = ? WHERE id = ?", locked, row.id); err != nil {
		return errors.Wrapf(err, "lock %s.%s", object, name)
	}
	s.notify(ChangeEvent{Object: object, Attribute: name, Kind: lockKind(locked)})
	return nil
}

func (s *SQLite) OnAttributeChanged(object, attr string, h ChangeHandler) func() {
	return s.observers.add(object, attr, h)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type attributeRow struct {
	id          int64
	typ         string
	value       sql.NullString
	locked      bool
	connections string
}

func (s *SQLite) attribute(ctx context.Context, q querier, object, attr string) (attributeRow, error) {
	var r attributeRow
	err := q.QueryRowContext(ctx,
		`SELECT a.id, a.attr_type, a.value_json, a.locked, a.connections_json
         FROM attributes a JOIN objects o ON o.id = a.object_id
         WHERE o.name = ? AND a.name = ?`, object, attr,
	).Scan(&r.id, &r.typ, &r.value, &r.locked, &r.connections)
	if errors.Is(err, sql.ErrNoRows) {
		if _, idErr := s.objectIDWith(ctx, q, object); idErr != nil {
			return r, idErr
		}
		return r, notFound("attribute %s.%s", object, attr)
	}
	if err != nil {
		return r, errors.Wrapf(err, "query %s.%s", object, attr)
	}
	return r, nil
}

func (s *SQLite) objectID(ctx context.Context, object string) (int64, error) {
	return s.objectIDWith(ctx, s.db, object)
}

func (s *SQLite) objectIDWith(ctx context.Context, q querier, object string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM objects WHERE name = ?", object).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("object %s", object)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "query object %s", object)
	}
	return id, nil
}

func encodeValue(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encode attribute value")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeValue(typ string, raw sql.NullString) (interface{}, error) {
	if !raw.Valid {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, errors.Wrap(err, "decode attribute value")
	}
	if f, ok := v.(float64); ok && isIntegerType(typ) {
		return int(f), nil
	}
	return v, nil
}

func isIntegerType(typ string) bool {
	switch typ {
	case "long", "short", "byte", "int", "enum":
		return true
	}
	return false
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
