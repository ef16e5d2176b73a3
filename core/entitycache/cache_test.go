package entitycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
)

type item struct {
	code int
	name string
	skip bool
}

func (it item) ToCacheObject() (Row, bool) {
	if it.skip {
		return nil, false
	}
	return Row{"name": it.name, "code": it.code}, true
}

var itemSchema = Schema{
	Table: "item",
	Columns: []Column{
		{Name: "id", Property: "id", Generated: true},
		{Name: "name", Property: "name"},
		{Name: "code", Property: "code"},
	},
}

type fakeStore struct {
	mu      sync.Mutex
	saved   []Row
	batches []Statement
	err     error
}

func (s *fakeStore) SaveOne(_ context.Context, _ string, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, row)
	return nil
}

func (s *fakeStore) ExecBatch(_ context.Context, stmt Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, stmt)
	return nil
}

func (s *fakeStore) FetchAll(_ context.Context, query string) ([]Row, error) {
	return []Row{{"query": query}}, nil
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *fakeStore) counts() (saved, batches, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		rows += b.Rows
	}
	return len(s.saved), len(s.batches), rows
}

type testLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *testLogger) Debug(string, ...interface{}) {}
func (l *testLogger) Info(string, ...interface{})  {}
func (l *testLogger) Warn(string, ...interface{})  {}
func (l *testLogger) Fatal(string, ...interface{}) {}

func (l *testLogger) Error(msg string, _ ...interface{}) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *testLogger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

var _ core.Logger = (*testLogger)(nil)

func items(from, n int) []item {
	objs := make([]item, 0, n)
	for i := from; i < from+n; i++ {
		objs = append(objs, item{code: i, name: fmt.Sprintf("item-%d", i)})
	}
	return objs
}

// newTestCache returns a stopped cache: tests drive the ticks themselves.
func newTestCache(t *testing.T, batchSize int) (*Cache[item], *fakeStore, *testLogger) {
	store := new(fakeStore)
	logger := new(testLogger)
	c, err := New[item](store, Options{
		Schema:        itemSchema,
		FlushInterval: time.Hour,
		BatchSize:     batchSize,
		Logger:        logger,
	})
	require.NoError(t, err)
	c.Stop()
	return c, store, logger
}

func TestCache_DrainAll(t *testing.T) {
	tests := []struct {
		name        string
		n, size     int
		wantBatches int
	}{
		{name: "exact batches", n: 20, size: 5, wantBatches: 4},
		{name: "partial last batch", n: 23, size: 5, wantBatches: 5},
		{name: "single batch", n: 3, size: 50, wantBatches: 1},
		{name: "nothing pending", n: 0, size: 5, wantBatches: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, store, _ := newTestCache(t, tt.size)
			c.Add(items(0, 2)...)
			require.NoError(t, c.FlushBatch(context.Background()))
			store.batches = nil

			c.Add(items(2, tt.n)...)
			require.NoError(t, c.DrainAll(context.Background()))

			assert.Len(t, store.batches, tt.wantBatches)
			for _, b := range store.batches {
				assert.LessOrEqual(t, b.Rows, tt.size)
			}
			assert.Equal(t, 0, c.Pending())
			assert.Len(t, c.History(), tt.n+2)
		})
	}
}

func TestCache_FlushBatchIsFIFO(t *testing.T) {
	c, store, _ := newTestCache(t, 2)
	c.Add(items(0, 3)...)

	require.NoError(t, c.FlushBatch(context.Background()))
	require.Len(t, store.batches, 1)
	assert.Equal(t, []interface{}{"item-0", 0, "item-1", 1}, store.batches[0].Args)
	assert.Equal(t, 1, c.Pending())
}

func TestCache_NoDataIsFiltered(t *testing.T) {
	c, store, _ := newTestCache(t, 4)
	c.Add(item{code: 1, name: "a"}, item{skip: true}, item{code: 2, name: "b"}, item{skip: true}, item{code: 3, name: "c"})

	require.NoError(t, c.FlushBatch(context.Background()))
	require.Len(t, store.batches, 1)
	assert.Equal(t, 2, store.batches[0].Rows)
	assert.Equal(t, 1, c.Pending(), "skipped entities still consume the batch")

	t.Run("all skipped", func(t *testing.T) {
		c, store, _ := newTestCache(t, 4)
		c.Add(item{skip: true}, item{skip: true})

		require.NoError(t, c.FlushBatch(context.Background()))
		assert.Empty(t, store.batches)
		assert.Equal(t, 0, c.Pending())
	})
}

func TestCache_tick(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		c, store, _ := newTestCache(t, 5)
		c.tick()
		saved, batches, _ := store.counts()
		assert.Equal(t, 0, saved)
		assert.Equal(t, 0, batches)
	})

	t.Run("single entity uses the single-row path", func(t *testing.T) {
		c, store, _ := newTestCache(t, 5)
		c.Add(item{code: 7, name: "seven"})
		c.tick()

		saved, batches, _ := store.counts()
		assert.Equal(t, 1, saved)
		assert.Equal(t, 0, batches)
		assert.Equal(t, Row{"name": "seven", "code": 7}, store.saved[0])
		assert.Equal(t, 0, c.Pending())
	})

	t.Run("single skipped entity", func(t *testing.T) {
		c, store, _ := newTestCache(t, 5)
		c.Add(item{skip: true})
		c.tick()

		saved, batches, _ := store.counts()
		assert.Equal(t, 0, saved)
		assert.Equal(t, 0, batches)
		assert.Equal(t, 0, c.Pending())
	})

	t.Run("many entities use one batch per tick", func(t *testing.T) {
		c, store, _ := newTestCache(t, 5)
		c.Add(items(0, 7)...)
		c.tick()

		saved, batches, rows := store.counts()
		assert.Equal(t, 0, saved)
		assert.Equal(t, 1, batches)
		assert.Equal(t, 5, rows)
		assert.Equal(t, 2, c.Pending())
	})
}

func TestCache_failedScheduledFlushDropsBatch(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	logger := new(testLogger)
	c, err := New[item](store, Options{
		Schema:        itemSchema,
		FlushInterval: 5 * time.Millisecond,
		BatchSize:     10,
		Logger:        logger,
	})
	require.NoError(t, err)
	defer c.Stop()

	c.Add(items(0, 3)...)
	assert.Eventually(t, func() bool { return logger.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, c.Pending(), "failed batch is not queued again")
	assert.Len(t, c.History(), 3)

	// the timer keeps running
	store.setErr(nil)
	c.Add(items(3, 2)...)
	assert.Eventually(t, func() bool {
		_, _, rows := store.counts()
		return rows == 2
	}, time.Second, time.Millisecond)
	assert.True(t, c.Running())
	assert.Equal(t, 1, logger.count())
}

func TestCache_failedCallerFlushReturnsError(t *testing.T) {
	c, store, logger := newTestCache(t, 2)
	store.err = errors.New("deadlock detected")
	c.Add(items(0, 5)...)

	err := c.FlushBatch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Equal(t, 3, c.Pending(), "failed batch stays drained")

	err = c.DrainAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, c.Pending(), "DrainAll stops at the first error")
	assert.Equal(t, 0, logger.count(), "caller flush errors are not logged")
}

func TestCache_DrainAllCancelled(t *testing.T) {
	c, store, _ := newTestCache(t, 2)
	c.Add(items(0, 4)...)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.DrainAll(ctx)
	assert.True(t, errors.Is(err, context.Canceled), "DrainAll() error = %v", err)
	assert.Empty(t, store.batches)
	assert.Equal(t, 4, c.Pending())
}

func TestCache_StopStart(t *testing.T) {
	store := new(fakeStore)
	c, err := New[item](store, Options{
		Schema:        itemSchema,
		FlushInterval: 5 * time.Millisecond,
		BatchSize:     100,
		Logger:        new(testLogger),
	})
	require.NoError(t, err)
	assert.True(t, c.Running())

	c.Stop()
	c.Stop() // idempotent
	assert.False(t, c.Running())

	c.Add(items(0, 4)...)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, c.Pending(), "no flush while stopped")
	_, batches, _ := store.counts()
	assert.Equal(t, 0, batches)

	c.Start()
	c.Start() // idempotent
	defer c.Stop()
	assert.Eventually(t, func() bool { return c.Pending() == 0 }, time.Second, time.Millisecond)
	_, _, rows := store.counts()
	assert.Equal(t, 4, rows)
}

func TestCache_concurrentAdds(t *testing.T) {
	store := new(fakeStore)
	c, err := New[item](store, Options{
		Schema:        itemSchema,
		FlushInterval: time.Millisecond,
		BatchSize:     7,
		Logger:        new(testLogger),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				c.Add(item{code: w*100 + i, name: "x"})
			}
		}(w)
	}
	wg.Wait()
	c.Stop()
	require.NoError(t, c.DrainAll(context.Background()))

	saved, _, rows := store.counts()
	assert.Equal(t, 200, saved+rows, "every entity is persisted exactly once")
}

func TestCache_historyIsBounded(t *testing.T) {
	store := new(fakeStore)
	c, err := New[item](store, Options{Schema: itemSchema, FlushInterval: time.Hour, HistorySize: 3, Logger: new(testLogger)})
	require.NoError(t, err)
	defer c.Stop()

	c.Add(items(0, 2)...)
	c.Add(items(2, 3)...)
	assert.Equal(t, items(2, 3), c.History())
	assert.Equal(t, 5, c.Pending())
}

func TestCache_FetchAllRaw(t *testing.T) {
	c, _, _ := newTestCache(t, 5)
	rows, err := c.FetchAllRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Row{{"query": `SELECT "id" AS "id", "name" AS "name", "code" AS "code" FROM "item"`}}, rows)
}

func TestNew_invalidOptions(t *testing.T) {
	logger := new(testLogger)
	tests := []struct {
		name  string
		store Store
		opts  Options
	}{
		{name: "no store", opts: Options{Schema: itemSchema, Logger: logger}},
		{name: "no schema", store: new(fakeStore), opts: Options{Logger: logger}},
		{name: "no table", store: new(fakeStore), opts: Options{Schema: Schema{Columns: itemSchema.Columns}, Logger: logger}},
		{name: "only generated columns", store: new(fakeStore), opts: Options{Schema: Schema{Table: "t", Columns: []Column{{Name: "id", Generated: true}}}, Logger: logger}},
		{name: "bad column name", store: new(fakeStore), opts: Options{Schema: Schema{Table: "t", Columns: []Column{{Name: "a b"}}}, Logger: logger}},
		{name: "no logger", store: new(fakeStore), opts: Options{Schema: itemSchema}},
		{name: "negative batch size", store: new(fakeStore), opts: Options{Schema: itemSchema, BatchSize: -1, Logger: logger}},
		{name: "update without constraint", store: new(fakeStore), opts: Options{Schema: itemSchema, Conflict: OnConflictUpdate(), Logger: logger}},
		{name: "update on unknown column", store: new(fakeStore), opts: Options{Schema: itemSchema, Conflict: OnConflictUpdate("lol"), Logger: logger}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New[item](tt.store, tt.opts)
			assert.Nil(t, c)
			assert.True(t, core.IsValidationError(err), "New() error = %v, want a validation error", err)
		})
	}
}
