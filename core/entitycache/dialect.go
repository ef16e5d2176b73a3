package entitycache

import (
	"github.com/lib/pq"
	"github.com/volatiletech/strmangle"
)

// Dialect holds the identifier escaping and parameter style of a SQL backend.
type Dialect interface {
	Quote(ident string) string
	// Placeholders returns count comma separated placeholders, numbered from start when indexed.
	Placeholders(count, start int) string
}

type postgres struct{}

// Postgres is the PostgreSQL dialect: double-quoted identifiers and $n parameters.
var Postgres Dialect = postgres{}

func (postgres) Quote(ident string) string { return pq.QuoteIdentifier(ident) }

func (postgres) Placeholders(count, start int) string {
	return strmangle.Placeholders(true, count, start, 1)
}
