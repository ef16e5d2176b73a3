package entitycache

import (
	"context"
	"fmt"

	"github.com/trezcool/campus/core"
)

// column names are bound as sqlx named parameters on the single-row path
var validate = core.NewValidate()

type (
	// Row is a persisted representation of an entity: storage column name -> value.
	Row map[string]interface{}

	// Cacheable is implemented by every entity that can be buffered in a Cache.
	Cacheable interface {
		// ToCacheObject returns the row to persist.
		// ok == false means "no data": the entity is dropped from the flush it is drained in.
		ToCacheObject() (row Row, ok bool)
	}

	// Column describes how one entity field maps to a storage column.
	Column struct {
		Name      string // storage name (foreign key name for relations)
		Property  string // in-memory field name
		Generated bool   // filled by the database (serial, identity, defaults we never write)
		Relation  bool
	}

	// Schema is the binding between an entity and its table.
	Schema struct {
		Table   string
		Columns []Column
	}

	// SchemaLoader reads the schema of a table from the database catalog.
	SchemaLoader interface {
		Load(ctx context.Context, table string) (Schema, error)
	}
)

// PersistedColumns returns the storage names of the non-generated columns, deduplicated,
// in declaration order.
func (s Schema) PersistedColumns() []string {
	seen := make(map[string]struct{}, len(s.Columns))
	cols := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if c.Generated {
			continue
		}
		if _, ok := seen[c.Name]; ok {
			continue
		}
		seen[c.Name] = struct{}{}
		cols = append(cols, c.Name)
	}
	return cols
}

// alias is the name a column is read back as: relations keep their storage name.
func (c Column) alias() string {
	if c.Relation || c.Property == "" {
		return c.Name
	}
	return c.Property
}

// Validate checks that the schema can produce statements.
func (s Schema) Validate() error {
	var flds []core.FieldError
	if s.Table == "" {
		flds = append(flds, core.FieldError{Field: "table", Error: "a schema binding requires a table name"})
	}
	if len(s.Columns) == 0 {
		flds = append(flds, core.FieldError{Field: "columns", Error: "a schema binding requires columns"})
	}
	for i, c := range s.Columns {
		if err := validate.Var(c.Name, "ident"); err != nil {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("columns[%d]", i), Error: "column name must be a plain identifier"})
		}
	}
	if len(flds) == 0 && len(s.PersistedColumns()) == 0 {
		flds = append(flds, core.FieldError{Field: "columns", Error: "every column is generated, nothing to persist"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// Check compares the declared binding with the table found in the database.
// Every declared column must exist there with the same generated and relation flags.
// Table columns that are not declared are ignored.
func (s Schema) Check(actual Schema) error {
	found := make(map[string]Column, len(actual.Columns))
	for _, c := range actual.Columns {
		found[c.Name] = c
	}

	var flds []core.FieldError
	for i, c := range s.Columns {
		field := fmt.Sprintf("columns[%d]", i)
		got, ok := found[c.Name]
		switch {
		case !ok:
			flds = append(flds, core.FieldError{Field: field, Error: fmt.Sprintf("column %q not found in table %q", c.Name, actual.Table)})
		case got.Generated != c.Generated:
			flds = append(flds, core.FieldError{Field: field, Error: fmt.Sprintf("column %q: generated is %t in the database", c.Name, got.Generated)})
		case got.Relation != c.Relation:
			flds = append(flds, core.FieldError{Field: field, Error: fmt.Sprintf("column %q: relation is %t in the database", c.Name, got.Relation)})
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}
