package entitycache

import (
	"fmt"
	"strings"
)

type conflictAction int

const (
	conflictIgnore conflictAction = iota
	conflictUpdate
)

// ConflictPolicy tells what to do with rows violating a uniqueness constraint.
type ConflictPolicy struct {
	action     conflictAction
	constraint []string
}

// OnConflictIgnore skips conflicting rows.
func OnConflictIgnore() ConflictPolicy {
	return ConflictPolicy{action: conflictIgnore}
}

// OnConflictUpdate overwrites every persisted column of the existing row
// when the constraint columns collide. Within one batch, only the last row of
// each constraint key is written.
func OnConflictUpdate(constraint ...string) ConflictPolicy {
	return ConflictPolicy{action: conflictUpdate, constraint: constraint}
}

func (p ConflictPolicy) IsUpdate() bool      { return p.action == conflictUpdate }
func (p ConflictPolicy) Constraint() []string { return p.constraint }

func (p ConflictPolicy) String() string {
	if p.IsUpdate() {
		return "update(" + strings.Join(p.constraint, ",") + ")"
	}
	return "ignore"
}

// Statement is a SQL statement with its positional arguments.
type Statement struct {
	SQL  string
	Args []interface{}
	Rows int
}

// StatementBuilder translates rows of one schema into upsert statements.
// Everything but the values is computed once.
type StatementBuilder struct {
	dialect    Dialect
	schema     Schema
	columns    []string
	constraint []string // set for the update policy only
	insert     string   // INSERT INTO <table> (<columns>) VALUES
	conflict   string
}

func NewStatementBuilder(schema Schema, policy ConflictPolicy, dialect Dialect) *StatementBuilder {
	b := &StatementBuilder{
		dialect: dialect,
		schema:  schema,
		columns: schema.PersistedColumns(),
	}
	b.insert = "INSERT INTO " + dialect.Quote(schema.Table) + " (" + b.joinQuoted(b.columns) + ") VALUES "

	if policy.IsUpdate() {
		b.constraint = policy.Constraint()
		sets := make([]string, 0, len(b.columns))
		for _, c := range b.columns {
			qc := dialect.Quote(c)
			sets = append(sets, qc+" = EXCLUDED."+qc)
		}
		b.conflict = " ON CONFLICT (" + b.joinQuoted(policy.Constraint()) + ") DO UPDATE SET " + strings.Join(sets, ", ")
	} else {
		b.conflict = " ON CONFLICT DO NOTHING"
	}
	return b
}

func (b *StatementBuilder) joinQuoted(idents []string) string {
	quoted := make([]string, 0, len(idents))
	for _, id := range idents {
		quoted = append(quoted, b.dialect.Quote(id))
	}
	return strings.Join(quoted, ", ")
}

// Columns returns the persisted column names, in statement order.
func (b *StatementBuilder) Columns() []string {
	cols := make([]string, len(b.columns))
	copy(cols, b.columns)
	return cols
}

// Upsert builds one multi-row upsert out of rows.
// ok is false when there is no row, in which case nothing must be executed.
func (b *StatementBuilder) Upsert(rows []Row) (stmt Statement, ok bool) {
	if len(rows) == 0 {
		return Statement{}, false
	}
	if b.constraint != nil {
		rows = b.lastPerKey(rows)
	}

	ncols := len(b.columns)
	args := make([]interface{}, 0, len(rows)*ncols)
	tuples := make([]string, 0, len(rows))
	for i, row := range rows {
		tuples = append(tuples, "("+b.dialect.Placeholders(ncols, i*ncols+1)+")")
		for _, c := range b.columns {
			args = append(args, row[c]) // missing -> NULL
		}
	}

	var sql strings.Builder
	sql.WriteString(b.insert)
	sql.WriteString(strings.Join(tuples, ","))
	sql.WriteString(b.conflict)
	return Statement{SQL: sql.String(), Args: args, Rows: len(rows)}, true
}

// lastPerKey keeps the last row of each constraint key, in order:
// PostgreSQL rejects a DO UPDATE statement affecting the same row twice.
// Rows with a NULL key never collide and are all kept.
func (b *StatementBuilder) lastPerKey(rows []Row) []Row {
	keys := make([]string, len(rows))
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		var key strings.Builder
		for _, c := range b.constraint {
			v := row[c]
			if v == nil {
				key.Reset()
				break
			}
			fmt.Fprintf(&key, "%#v\x00", v)
		}
		if key.Len() > 0 {
			keys[i] = key.String()
			last[keys[i]] = i
		}
	}

	out := make([]Row, 0, len(rows))
	for i, row := range rows {
		if keys[i] != "" && last[keys[i]] != i {
			continue
		}
		out = append(out, row)
	}
	return out
}

// NamedUpsert returns the single-row upsert using named (`:column`) parameters.
// It must be bound to a row returned by Complete.
func (b *StatementBuilder) NamedUpsert() string {
	params := make([]string, 0, len(b.columns))
	for _, c := range b.columns {
		params = append(params, ":"+c)
	}
	return b.insert + "(" + strings.Join(params, ", ") + ")" + b.conflict
}

// Complete returns a copy of row holding exactly the persisted columns, nil where missing.
func (b *StatementBuilder) Complete(row Row) Row {
	out := make(Row, len(b.columns))
	for _, c := range b.columns {
		out[c] = row[c]
	}
	return out
}

// SelectAll reads the whole table back, aliasing columns to their in-memory names.
func (b *StatementBuilder) SelectAll() string {
	seen := make(map[string]struct{}, len(b.schema.Columns))
	exprs := make([]string, 0, len(b.schema.Columns))
	for _, c := range b.schema.Columns {
		expr := b.dialect.Quote(c.Name) + " AS " + b.dialect.Quote(c.alias())
		if _, ok := seen[expr]; ok {
			continue
		}
		seen[expr] = struct{}{}
		exprs = append(exprs, expr)
	}
	return "SELECT " + strings.Join(exprs, ", ") + " FROM " + b.dialect.Quote(b.schema.Table)
}
