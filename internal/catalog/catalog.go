// Package catalog persists schemas and their table layouts in the mapped
// database itself, so a reopened database maps classes exactly as it did
// when the tables were created.
//
// Every catalog table is prefixed cm_. Save rewrites the schema and layout
// rows inside the caller's transaction; the id sequence and the import
// history are only ever appended to.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-research/classmap/api"
	"github.com/agentic-research/classmap/internal/layout"
	"github.com/agentic-research/classmap/internal/model"
	"github.com/agentic-research/classmap/internal/store"
)

// ErrCorrupt is returned when catalog rows contradict each other.
var ErrCorrupt = errors.New("catalog corrupt")

const instanceSequence = "instance"

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS cm_Schema (
		Name  TEXT PRIMARY KEY,
		Alias TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cm_Class (
		Id                 INTEGER PRIMARY KEY,
		Name               TEXT NOT NULL UNIQUE,
		Base               TEXT,
		Abstract           INTEGER NOT NULL DEFAULT 0,
		Strategy           TEXT,
		DomainTables       INTEGER NOT NULL DEFAULT 0,
		MaxSharedColumns   INTEGER NOT NULL DEFAULT 0,
		Overflow           TEXT,
		Pooling            TEXT,
		MaxOverflowColumns INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS cm_Property (
		ClassId INTEGER NOT NULL REFERENCES cm_Class(Id) ON DELETE CASCADE,
		Ordinal INTEGER NOT NULL,
		Name    TEXT NOT NULL,
		Type    TEXT NOT NULL,
		Elem    TEXT,
		Struct  TEXT,
		PRIMARY KEY (ClassId, Ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS cm_Table (
		Root       INTEGER NOT NULL,
		Ordinal    INTEGER NOT NULL,
		Name       TEXT NOT NULL UNIQUE,
		Kind       TEXT NOT NULL,
		Tier       INTEGER NOT NULL,
		Parent     INTEGER NOT NULL,
		Owner      INTEGER NOT NULL,
		HasClassId INTEGER NOT NULL,
		PRIMARY KEY (Root, Ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS cm_Column (
		Root     INTEGER NOT NULL,
		TableOrd INTEGER NOT NULL,
		Ordinal  INTEGER NOT NULL,
		Name     TEXT NOT NULL,
		Type     TEXT NOT NULL,
		Kind     TEXT NOT NULL,
		PRIMARY KEY (Root, TableOrd, Ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS cm_PropertyMap (
		ClassId   INTEGER NOT NULL,
		Ordinal   INTEGER NOT NULL,
		Property  TEXT NOT NULL,
		Declaring INTEGER NOT NULL,
		Kind      TEXT NOT NULL,
		TableOrd  INTEGER NOT NULL,
		Columns   TEXT NOT NULL,
		Slot      INTEGER NOT NULL,
		PRIMARY KEY (ClassId, Ordinal)
	)`,
	`CREATE TABLE IF NOT EXISTS cm_Sequence (
		Name  TEXT PRIMARY KEY,
		Value INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cm_SchemaImport (
		Id         TEXT PRIMARY KEY,
		ImportedAt TEXT NOT NULL,
		Schema     TEXT NOT NULL,
		Classes    INTEGER NOT NULL,
		Statements INTEGER NOT NULL
	)`,
	`INSERT OR IGNORE INTO cm_Sequence (Name, Value) VALUES ('instance', 0)`,
}

// unsupportedKind marks cm_PropertyMap rows of properties without storage.
const unsupportedKind = "unsupported"

// Ensure creates the catalog tables if they do not exist yet.
func Ensure(ctx context.Context, tx *store.Tx) error {
	for _, q := range ddl {
		if _, err := tx.Exec(ctx, q); err != nil {
			return fmt.Errorf("ensure catalog: %w", err)
		}
	}
	return nil
}

// Save replaces the stored schema and layouts with s and plans. plans is
// keyed by hierarchy root.
func Save(ctx context.Context, tx *store.Tx, s *model.Schema, plans map[model.ClassID]*layout.Plan) error {
	for _, t := range []string{"cm_Schema", "cm_Property", "cm_Class", "cm_Column", "cm_Table", "cm_PropertyMap"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO cm_Schema (Name, Alias) VALUES (?, ?)`, s.Name, s.Alias); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	if err := saveClasses(ctx, tx, s); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	for _, root := range s.Roots() {
		plan, ok := plans[root]
		if !ok {
			return fmt.Errorf("save catalog: no plan for root %q", s.Class(root).Name)
		}
		if err := savePlan(ctx, tx, plan); err != nil {
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	return nil
}

func saveClasses(ctx context.Context, tx *store.Tx, s *model.Schema) error {
	doc := model.ToDocument(s)
	for i, c := range doc.Classes {
		id := s.Classes()[i]
		args := []any{int64(id), c.Name, nullString(c.Base), c.Abstract}
		if m := c.Map; m != nil {
			args = append(args, m.Strategy, m.DomainTables, m.MaxSharedColumns, m.Overflow, m.Pooling, m.MaxOverflowColumns)
		} else {
			args = append(args, nil, false, 0, nil, nil, 0)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO cm_Class
			(Id, Name, Base, Abstract, Strategy, DomainTables, MaxSharedColumns, Overflow, Pooling, MaxOverflowColumns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return err
		}
		for j, p := range c.Props {
			if _, err := tx.Exec(ctx, `INSERT INTO cm_Property (ClassId, Ordinal, Name, Type, Elem, Struct)
				VALUES (?, ?, ?, ?, ?, ?)`, int64(id), j, p.Name, p.Type, nullString(p.Elem), nullString(p.Struct)); err != nil {
				return err
			}
		}
	}
	return nil
}

func savePlan(ctx context.Context, tx *store.Tx, plan *layout.Plan) error {
	root := int64(plan.Root)
	for i, t := range plan.Tables {
		if _, err := tx.Exec(ctx, `INSERT INTO cm_Table (Root, Ordinal, Name, Kind, Tier, Parent, Owner, HasClassId)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			root, i, t.Name, t.Kind.String(), t.Tier, t.Parent, int64(t.Owner), t.HasClassID); err != nil {
			return err
		}
		for j, c := range t.Columns {
			if _, err := tx.Exec(ctx, `INSERT INTO cm_Column (Root, TableOrd, Ordinal, Name, Type, Kind)
				VALUES (?, ?, ?, ?, ?, ?)`, root, i, j, c.Name, c.Type, c.Kind.String()); err != nil {
				return err
			}
		}
	}
	for _, id := range plan.ClassIDs() {
		cm := plan.Classes[id]
		ord := 0
		for _, b := range cm.Bindings {
			if _, err := tx.Exec(ctx, `INSERT INTO cm_PropertyMap
				(ClassId, Ordinal, Property, Declaring, Kind, TableOrd, Columns, Slot)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				int64(id), ord, b.Property, int64(b.Declaring), b.Kind.String(), b.Table,
				strings.Join(b.Columns, ","), b.Slot); err != nil {
				return err
			}
			ord++
		}
		for _, name := range cm.Unsupported {
			if _, err := tx.Exec(ctx, `INSERT INTO cm_PropertyMap
				(ClassId, Ordinal, Property, Declaring, Kind, TableOrd, Columns, Slot)
				VALUES (?, ?, ?, 0, ?, -1, '', 0)`, int64(id), ord, name, unsupportedKind); err != nil {
				return err
			}
			ord++
		}
	}
	return nil
}

// Load reads the stored schema and layouts. An empty catalog yields a nil
// schema and no plans.
func Load(ctx context.Context, tx *store.Tx) (*model.Schema, map[model.ClassID]*layout.Plan, error) {
	doc, ids, err := loadDocument(ctx, tx)
	if err != nil || doc == nil {
		return nil, nil, err
	}
	s, err := model.Apply(nil, doc)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	for i, id := range s.Classes() {
		if id != ids[i] {
			return nil, nil, fmt.Errorf("load catalog: %w: class %q has id %d, stored %d", ErrCorrupt, s.Class(id).Name, id, ids[i])
		}
	}

	plans := make(map[model.ClassID]*layout.Plan)
	for _, root := range s.Roots() {
		tables, err := loadTables(ctx, tx, root)
		if err != nil {
			return nil, nil, fmt.Errorf("load catalog: %w", err)
		}
		classes, err := loadClassMaps(ctx, tx, s, root)
		if err != nil {
			return nil, nil, fmt.Errorf("load catalog: %w", err)
		}
		plans[root] = layout.Assemble(s, root, tables, classes)
	}
	return s, plans, nil
}

func loadDocument(ctx context.Context, tx *store.Tx) (*api.Schema, []model.ClassID, error) {
	doc := &api.Schema{}
	err := tx.QueryRow(ctx, `SELECT Name, Alias FROM cm_Schema`).Scan(&doc.Name, &doc.Alias)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT Id, Name, Base, Abstract, Strategy, DomainTables,
		MaxSharedColumns, Overflow, Pooling, MaxOverflowColumns FROM cm_Class ORDER BY Id`)
	if err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	var ids []model.ClassID
	for rows.Next() {
		var (
			id                 int64
			c                  api.Class
			base               sql.NullString
			strategy           sql.NullString
			overflow, pooling  sql.NullString
			domain             bool
			maxShared, maxOver int
		)
		if err := rows.Scan(&id, &c.Name, &base, &c.Abstract, &strategy, &domain,
			&maxShared, &overflow, &pooling, &maxOver); err != nil {
			_ = rows.Close()
			return nil, nil, fmt.Errorf("load catalog: %w", err)
		}
		c.Base = base.String
		if strategy.Valid {
			c.Map = &api.Mapping{
				Strategy:           strategy.String,
				DomainTables:       domain,
				MaxSharedColumns:   maxShared,
				Overflow:           overflow.String,
				Pooling:            pooling.String,
				MaxOverflowColumns: maxOver,
			}
		}
		ids = append(ids, model.ClassID(id))
		doc.Classes = append(doc.Classes, c)
	}
	if err := closeRows(rows); err != nil {
		return nil, nil, err
	}

	for i := range doc.Classes {
		props, err := loadProperties(ctx, tx, ids[i])
		if err != nil {
			return nil, nil, err
		}
		doc.Classes[i].Props = props
	}
	return doc, ids, nil
}

func loadProperties(ctx context.Context, tx *store.Tx, id model.ClassID) ([]api.Property, error) {
	rows, err := tx.Query(ctx, `SELECT Name, Type, Elem, Struct FROM cm_Property
		WHERE ClassId = ? ORDER BY Ordinal`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	var props []api.Property
	for rows.Next() {
		var p api.Property
		var elem, st sql.NullString
		if err := rows.Scan(&p.Name, &p.Type, &elem, &st); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		p.Elem, p.Struct = elem.String, st.String
		props = append(props, p)
	}
	return props, closeRows(rows)
}

func loadTables(ctx context.Context, tx *store.Tx, root model.ClassID) ([]layout.Table, error) {
	rows, err := tx.Query(ctx, `SELECT Ordinal, Name, Kind, Tier, Parent, Owner, HasClassId
		FROM cm_Table WHERE Root = ? ORDER BY Ordinal`, int64(root))
	if err != nil {
		return nil, err
	}
	var tables []layout.Table
	for rows.Next() {
		var (
			ord   int
			t     layout.Table
			kind  string
			owner int64
		)
		if err := rows.Scan(&ord, &t.Name, &kind, &t.Tier, &t.Parent, &owner, &t.HasClassID); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if ord != len(tables) {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: table %s has ordinal %d", ErrCorrupt, t.Name, ord)
		}
		if t.Kind, err = parseTableKind(kind); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t.Owner = model.ClassID(owner)
		tables = append(tables, t)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = tx.Query(ctx, `SELECT TableOrd, Name, Type, Kind FROM cm_Column
		WHERE Root = ? ORDER BY TableOrd, Ordinal`, int64(root))
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			ti   int
			c    layout.Column
			kind string
		)
		if err := rows.Scan(&ti, &c.Name, &c.Type, &kind); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if ti < 0 || ti >= len(tables) {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: column %s of unknown table %d", ErrCorrupt, c.Name, ti)
		}
		if c.Kind, err = parseColumnKind(kind); err != nil {
			_ = rows.Close()
			return nil, err
		}
		tables[ti].Columns = append(tables[ti].Columns, c)
	}
	return tables, closeRows(rows)
}

func loadClassMaps(ctx context.Context, tx *store.Tx, s *model.Schema, root model.ClassID) (map[model.ClassID]*layout.ClassMap, error) {
	classes := make(map[model.ClassID]*layout.ClassMap)
	for _, id := range s.Hierarchy(root) {
		cm := &layout.ClassMap{Class: id}
		rows, err := tx.Query(ctx, `SELECT Property, Declaring, Kind, TableOrd, Columns, Slot
			FROM cm_PropertyMap WHERE ClassId = ? ORDER BY Ordinal`, int64(id))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				b         layout.ColumnBinding
				declaring int64
				kind      string
				cols      string
			)
			if err := rows.Scan(&b.Property, &declaring, &kind, &b.Table, &cols, &b.Slot); err != nil {
				_ = rows.Close()
				return nil, err
			}
			if kind == unsupportedKind {
				cm.Unsupported = append(cm.Unsupported, b.Property)
				continue
			}
			if b.Kind, err = parseBindingKind(kind); err != nil {
				_ = rows.Close()
				return nil, err
			}
			p, ok := s.FindProperty(id, b.Property)
			if !ok {
				_ = rows.Close()
				return nil, fmt.Errorf("%w: binding of unknown property %s", ErrCorrupt, b.Property)
			}
			b.Type, b.Elem = p.Type, p.Elem
			b.Declaring = model.ClassID(declaring)
			b.Columns = strings.Split(cols, ",")
			cm.Bindings = append(cm.Bindings, b)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
		classes[id] = cm
	}
	return classes, nil
}

// NextID draws the next instance id from the catalog sequence. Ids are
// unique across every mapped table.
func NextID(ctx context.Context, tx *store.Tx) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `UPDATE cm_Sequence SET Value = Value + 1 WHERE Name = ? RETURNING Value`,
		instanceSequence).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return id, nil
}

// ReserveID moves the sequence past a caller-chosen id, so later drawn ids
// never collide with it.
func ReserveID(ctx context.Context, tx *store.Tx, id int64) error {
	if _, err := tx.Exec(ctx, `UPDATE cm_Sequence SET Value = max(Value, ?) WHERE Name = ?`, id, instanceSequence); err != nil {
		return fmt.Errorf("reserve id %d: %w", id, err)
	}
	return nil
}

// Import is one entry of the schema-import history.
type Import struct {
	ID         string
	At         time.Time
	Schema     string
	Classes    int
	Statements int
}

// RecordImport appends a history entry and returns its id.
func RecordImport(ctx context.Context, tx *store.Tx, schema string, classes, statements int) (string, error) {
	id := uuid.NewString()
	at := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(ctx, `INSERT INTO cm_SchemaImport (Id, ImportedAt, Schema, Classes, Statements)
		VALUES (?, ?, ?, ?, ?)`, id, at, schema, classes, statements); err != nil {
		return "", fmt.Errorf("record import: %w", err)
	}
	return id, nil
}

// Imports lists the import history, oldest first.
func Imports(ctx context.Context, tx *store.Tx) ([]Import, error) {
	rows, err := tx.Query(ctx, `SELECT Id, ImportedAt, Schema, Classes, Statements
		FROM cm_SchemaImport ORDER BY ImportedAt, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list imports: %w", err)
	}
	var out []Import
	for rows.Next() {
		var im Import
		var at string
		if err := rows.Scan(&im.ID, &at, &im.Schema, &im.Classes, &im.Statements); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("list imports: %w", err)
		}
		if im.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("list imports: %w: %w", ErrCorrupt, err)
		}
		out = append(out, im)
	}
	return out, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseTableKind(s string) (layout.TableKind, error) {
	for _, k := range []layout.TableKind{layout.TablePrimary, layout.TableDomain, layout.TableOverflow} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: table kind %q", ErrCorrupt, s)
}

func parseColumnKind(s string) (layout.ColumnKind, error) {
	for _, k := range []layout.ColumnKind{layout.ColumnID, layout.ColumnClassID, layout.ColumnData, layout.ColumnShared, layout.ColumnOverflowDoc} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: column kind %q", ErrCorrupt, s)
}

func parseBindingKind(s string) (layout.BindingKind, error) {
	for _, k := range []layout.BindingKind{layout.BindDirect, layout.BindShared, layout.BindJSON} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: binding kind %q", ErrCorrupt, s)
}
