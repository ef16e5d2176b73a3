package dummydb

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/entitycache"
)

var (
	insertRegex = regexp.MustCompile(`^INSERT INTO "((?:[^"]|"")+)" \((.+?)\) VALUES `)
	selectRegex = regexp.MustCompile(`^SELECT (.+) FROM "((?:[^"]|"")+)"$`)
	aliasRegex  = regexp.MustCompile(`"((?:[^"]|"")+)" AS "((?:[^"]|"")+)"`)
)

type (
	// DB is an in-memory entitycache.Store recording every row it is given.
	// Conflicts are not detected: every saved row is appended.
	DB struct {
		mu     sync.RWMutex
		tables map[string][]entitycache.Row
		stmts  []string
		err    error
	}
)

var _ entitycache.Store = (*DB)(nil) // interface compliance check

func Open() (*DB, error) {
	return &DB{tables: make(map[string][]entitycache.Row)}, nil
}

// FailWith makes every following call return err (nil resets).
func (db *DB) FailWith(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.err = err
}

// Rows returns a copy of the rows saved to table.
func (db *DB) Rows(table string) []entitycache.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]entitycache.Row(nil), db.tables[table]...)
}

// Statements returns the executed statements, in order.
func (db *DB) Statements() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return append([]string(nil), db.stmts...)
}

func unescape(ident string) string {
	return strings.ReplaceAll(ident, `""`, `"`)
}

func unquote(ident string) string {
	return unescape(strings.TrimSuffix(strings.TrimPrefix(ident, `"`), `"`))
}

func parseInsert(query string) (table string, cols []string, err error) {
	m := insertRegex.FindStringSubmatch(query)
	if m == nil {
		return "", nil, errors.Errorf("unsupported statement: %s", query)
	}
	for _, c := range strings.Split(m[2], ", ") {
		cols = append(cols, unquote(c))
	}
	return unescape(m[1]), cols, nil
}

func (db *DB) SaveOne(_ context.Context, query string, row entitycache.Row) error {
	table, cols, err := parseInsert(query)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err != nil {
		return db.err
	}
	saved := make(entitycache.Row, len(cols))
	for _, c := range cols {
		saved[c] = row[c]
	}
	db.tables[table] = append(db.tables[table], saved)
	db.stmts = append(db.stmts, query)
	return nil
}

func (db *DB) ExecBatch(_ context.Context, stmt entitycache.Statement) error {
	table, cols, err := parseInsert(stmt.SQL)
	if err != nil {
		return err
	}
	if len(stmt.Args) != len(cols)*stmt.Rows {
		return errors.Errorf("got %d args for %d rows of %d columns", len(stmt.Args), stmt.Rows, len(cols))
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err != nil {
		return db.err
	}
	for i := 0; i < stmt.Rows; i++ {
		row := make(entitycache.Row, len(cols))
		for j, c := range cols {
			row[c] = stmt.Args[i*len(cols)+j]
		}
		db.tables[table] = append(db.tables[table], row)
	}
	db.stmts = append(db.stmts, stmt.SQL)
	return nil
}

type alias struct{ col, as string }

func parseSelect(query string) (table string, aliases []alias, err error) {
	m := selectRegex.FindStringSubmatch(query)
	if m == nil {
		return "", nil, errors.Errorf("unsupported query: %s", query)
	}
	for _, a := range aliasRegex.FindAllStringSubmatch(m[1], -1) {
		aliases = append(aliases, alias{col: unescape(a[1]), as: unescape(a[2])})
	}
	if len(aliases) == 0 {
		return "", nil, errors.Errorf("unsupported query: %s", query)
	}
	return unescape(m[2]), aliases, nil
}

// FetchAll returns the saved rows keyed by the aliases of the select list.
// Columns that were never saved (generated ones) are left out.
func (db *DB) FetchAll(_ context.Context, query string) ([]entitycache.Row, error) {
	table, aliases, err := parseSelect(query)
	if err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.err != nil {
		return nil, db.err
	}
	saved := db.tables[table]
	rows := make([]entitycache.Row, 0, len(saved))
	for _, r := range saved {
		row := make(entitycache.Row, len(aliases))
		for _, a := range aliases {
			if v, ok := r[a.col]; ok {
				row[a.as] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
