package sqlxrepos

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/entitycache"
)

// EntityStore persists entity cache statements to PostgreSQL.
// Single rows go through sqlx named parameters, batches through sqlboiler raw queries
// so that boil.DebugMode logs them.
type EntityStore struct {
	db *sqlx.DB
}

var _ entitycache.Store = (*EntityStore)(nil) // interface compliance check

func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db}
}

func (s *EntityStore) SaveOne(ctx context.Context, query string, row entitycache.Row) error {
	if _, err := s.db.NamedExecContext(ctx, query, map[string]interface{}(row)); err != nil {
		return storeError(err, "saving row")
	}
	return nil
}

func (s *EntityStore) ExecBatch(ctx context.Context, stmt entitycache.Statement) error {
	if _, err := queries.Raw(stmt.SQL, stmt.Args...).ExecContext(ctx, s.db); err != nil {
		return storeError(err, fmt.Sprintf("saving %d rows", stmt.Rows))
	}
	return nil
}

func (s *EntityStore) FetchAll(ctx context.Context, query string) ([]entitycache.Row, error) {
	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, storeError(err, "querying rows")
	}
	defer func() { _ = rows.Close() }()

	result := make([]entitycache.Row, 0)
	for rows.Next() {
		row := make(map[string]interface{})
		if err = rows.MapScan(row); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		result = append(result, row)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating rows")
	}
	return result, nil
}

// storeError reports a server going down (SQLSTATE class 57P: admin, crash or startup shutdown)
// as a core shutdown error, so that the API stops instead of dropping every following batch.
func storeError(err error, msg string) error {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok && strings.HasPrefix(string(pqErr.Code), "57P") {
		return core.NewShutdownError(msg + ": " + pqErr.Message)
	}
	return errors.Wrap(err, msg)
}
