package sqlxrepos

import (
	"context"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/strmangle"

	"github.com/trezcool/campus/core/entitycache"
)

var ErrTableNotFound = errors.New("table not found")

const columnsQuery = `SELECT c.column_name,
       COALESCE(c.column_default LIKE 'nextval(%', false) OR c.is_identity = 'YES' OR c.is_generated = 'ALWAYS' AS generated,
       EXISTS(
           SELECT 1
           FROM information_schema.key_column_usage k
                    JOIN information_schema.table_constraints tc
                         ON tc.constraint_name = k.constraint_name AND tc.table_schema = k.table_schema
           WHERE tc.constraint_type = 'FOREIGN KEY'
             AND k.table_schema = c.table_schema
             AND k.table_name = c.table_name
             AND k.column_name = c.column_name
       ) AS relation
FROM information_schema.columns c
WHERE c.table_schema = current_schema()
  AND c.table_name = $1
ORDER BY c.ordinal_position`

type columnInfo struct {
	Name      string `db:"column_name"`
	Generated bool   `db:"generated"`
	Relation  bool   `db:"relation"`
}

// SchemaRegistry derives entity cache schemas from the database catalog.
// Loaded schemas are kept for the registry's lifetime.
type SchemaRegistry struct {
	db *sqlx.DB

	mu      sync.Mutex
	schemas map[string]entitycache.Schema
}

var _ entitycache.SchemaLoader = (*SchemaRegistry)(nil) // interface compliance check

func NewSchemaRegistry(db *sqlx.DB) *SchemaRegistry {
	return &SchemaRegistry{db: db, schemas: make(map[string]entitycache.Schema)}
}

func (r *SchemaRegistry) Load(ctx context.Context, table string) (entitycache.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if schema, ok := r.schemas[table]; ok {
		return schema, nil
	}

	var infos []columnInfo
	if err := r.db.SelectContext(ctx, &infos, columnsQuery, table); err != nil {
		return entitycache.Schema{}, errors.Wrapf(err, "loading %s columns", table)
	}
	if len(infos) == 0 {
		return entitycache.Schema{}, errors.Wrap(ErrTableNotFound, table)
	}

	schema := entitycache.Schema{Table: table, Columns: make([]entitycache.Column, 0, len(infos))}
	for _, info := range infos {
		schema.Columns = append(schema.Columns, entitycache.Column{
			Name:      info.Name,
			Property:  propertyName(info),
			Generated: info.Generated,
			Relation:  info.Relation,
		})
	}
	r.schemas[table] = schema
	return schema, nil
}

// propertyName guesses the in-memory name of a column: course_id -> course, full_name -> fullName.
func propertyName(info columnInfo) string {
	name := info.Name
	if info.Relation {
		name = strings.TrimSuffix(name, "_id")
	}
	return strmangle.CamelCase(name)
}
