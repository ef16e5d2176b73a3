// Package entitycache buffers entity writes in memory and persists them to a
// relational store as batched upserts, on a timer or on demand.
//
// Flushes triggered by the timer never report errors to the caller: a failed
// batch is logged and discarded, it is NOT put back in the pending queue.
// Callers that cannot afford to lose data must call DrainAll (or FlushBatch)
// themselves and handle the returned error, eg. before shutting down.
package entitycache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
)

const (
	DefaultFlushInterval = 250 * time.Millisecond
	DefaultBatchSize     = 50
	DefaultHistorySize   = 1024
)

type (
	// Store executes the statements built by a Cache.
	Store interface {
		// SaveOne executes a named-parameter statement bound to a single row.
		SaveOne(ctx context.Context, query string, row Row) error
		// ExecBatch executes a multi-row statement.
		ExecBatch(ctx context.Context, stmt Statement) error
		// FetchAll runs a select and returns every row keyed by column alias.
		FetchAll(ctx context.Context, query string) ([]Row, error)
	}

	// Metrics receives the cache activity. All methods must be safe for concurrent use.
	Metrics interface {
		SetPending(table string, n int)
		ObserveFlush(table string, rows int, took time.Duration, err error)
		AddDropped(table string, n int)
	}

	Options struct {
		Schema        Schema
		Conflict      ConflictPolicy
		Dialect       Dialect       // default: Postgres
		FlushInterval time.Duration // default: DefaultFlushInterval
		BatchSize     int           // default: DefaultBatchSize
		HistorySize   int           // default: DefaultHistorySize
		Logger        core.Logger
		Metrics       Metrics // optional
	}
)

func (opts *Options) setDefaults() {
	if opts.Dialect == nil {
		opts.Dialect = Postgres
	}
	if opts.FlushInterval == 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.HistorySize == 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
}

func (opts Options) validate() error {
	if err := opts.Schema.Validate(); err != nil {
		return err
	}

	var flds []core.FieldError
	if opts.FlushInterval < 0 {
		flds = append(flds, core.FieldError{Field: "flushInterval", Error: "must be positive"})
	}
	if opts.BatchSize < 0 {
		flds = append(flds, core.FieldError{Field: "batchSize", Error: "must be positive"})
	}
	if opts.HistorySize < 0 {
		flds = append(flds, core.FieldError{Field: "historySize", Error: "must be positive"})
	}
	if opts.Logger == nil {
		flds = append(flds, core.FieldError{Field: "logger", Error: "a logger is required"})
	}
	if opts.Conflict.IsUpdate() {
		if len(opts.Conflict.Constraint()) == 0 {
			flds = append(flds, core.FieldError{Field: "conflict", Error: "updating on conflict requires constraint columns"})
		}
		known := make(map[string]bool, len(opts.Schema.Columns))
		for _, c := range opts.Schema.Columns {
			known[c.Name] = true
		}
		for _, c := range opts.Conflict.Constraint() {
			if !known[c] {
				flds = append(flds, core.FieldError{Field: "conflict", Error: fmt.Sprintf("unknown constraint column %q", c)})
			}
		}
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// Cache buffers entities of one table. Use New to create one.
type Cache[T Cacheable] struct {
	opts       Options
	store      Store
	builder    *StatementBuilder
	namedQuery string

	mu      sync.Mutex // guards pending & history
	pending []T
	history *history[T]

	flushMu sync.Mutex // at most one flush in flight

	lcMu sync.Mutex // guards stop & done
	stop chan struct{}
	done chan struct{}
}

// New validates opts and returns a running Cache.
func New[T Cacheable](store Store, opts Options) (*Cache[T], error) {
	if store == nil {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "store", Error: "a store is required"})
	}
	if err := opts.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid entity cache options")
	}
	opts.setDefaults()

	builder := NewStatementBuilder(opts.Schema, opts.Conflict, opts.Dialect)
	c := &Cache[T]{
		opts:       opts,
		store:      store,
		builder:    builder,
		namedQuery: builder.NamedUpsert(),
		history:    newHistory[T](opts.HistorySize),
	}
	c.Start()
	return c, nil
}

func (c *Cache[T]) Table() string { return c.opts.Schema.Table }

func (c *Cache[T]) Schema() Schema { return c.opts.Schema }

func (c *Cache[T]) BatchSize() int { return c.opts.BatchSize }

// Add queues objs for the next flushes. It never blocks on a flush in progress.
func (c *Cache[T]) Add(objs ...T) {
	if len(objs) == 0 {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, objs...)
	c.history.push(objs...)
	n := len(c.pending)
	c.mu.Unlock()

	c.opts.Metrics.SetPending(c.Table(), n)
}

// Pending returns the number of queued entities.
func (c *Cache[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// History returns the last added entities (bounded by Options.HistorySize), oldest first.
func (c *Cache[T]) History() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.snapshot()
}

// drain removes up to n entities from the front of the queue.
func (c *Cache[T]) drain(n int) []T {
	c.mu.Lock()
	if n > len(c.pending) {
		n = len(c.pending)
	}
	objs := make([]T, n)
	copy(objs, c.pending[:n])

	var zero T
	for i := 0; i < n; i++ {
		c.pending[i] = zero // release drained entities
	}
	c.pending = c.pending[n:]
	left := len(c.pending)
	c.mu.Unlock()

	c.opts.Metrics.SetPending(c.Table(), left)
	return objs
}

// FlushBatch persists up to BatchSize queued entities in one statement.
// The drained entities are not queued again if it fails.
func (c *Cache[T]) FlushBatch(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	objs := c.drain(c.opts.BatchSize)
	if len(objs) == 0 {
		return nil
	}
	if err := c.insertMany(ctx, objs); err != nil {
		return errors.Wrapf(err, "flushing %d %s entities", len(objs), c.Table())
	}
	return nil
}

// DrainAll flushes batches until the queue is empty, stopping at the first error.
func (c *Cache[T]) DrainAll(ctx context.Context) error {
	for c.Pending() > 0 {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "draining "+c.Table())
		}
		if err := c.FlushBatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// FetchAllRaw reads the whole backing table, bypassing the queue.
func (c *Cache[T]) FetchAllRaw(ctx context.Context) ([]Row, error) {
	rows, err := c.store.FetchAll(ctx, c.builder.SelectAll())
	if err != nil {
		return nil, errors.Wrap(err, "fetching "+c.Table()+" rows")
	}
	return rows, nil
}

func (c *Cache[T]) rows(objs []T) []Row {
	rows := make([]Row, 0, len(objs))
	for _, obj := range objs {
		if row, ok := obj.ToCacheObject(); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

func (c *Cache[T]) insertMany(ctx context.Context, objs []T) error {
	stmt, ok := c.builder.Upsert(c.rows(objs))
	if !ok {
		return nil
	}

	start := time.Now()
	err := c.store.ExecBatch(ctx, stmt)
	c.opts.Metrics.ObserveFlush(c.Table(), stmt.Rows, time.Since(start), err)
	return err
}

func (c *Cache[T]) saveOne(ctx context.Context, obj T) error {
	row, ok := obj.ToCacheObject()
	if !ok {
		return nil
	}

	start := time.Now()
	err := c.store.SaveOne(ctx, c.namedQuery, c.builder.Complete(row))
	c.opts.Metrics.ObserveFlush(c.Table(), 1, time.Since(start), err)
	return err
}

// tick is the timer flush: a single entity goes through the single-row path,
// more than one through a batch. Errors are logged and the entities dropped.
func (c *Cache[T]) tick() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	ctx := context.Background()
	var (
		objs []T
		err  error
	)
	switch c.Pending() {
	case 0:
		return
	case 1:
		objs = c.drain(1)
		if len(objs) == 1 {
			err = c.saveOne(ctx, objs[0])
		}
	default:
		objs = c.drain(c.opts.BatchSize)
		err = c.insertMany(ctx, objs)
	}

	if err != nil {
		c.opts.Metrics.AddDropped(c.Table(), len(objs))
		c.opts.Logger.Error(
			fmt.Sprintf("entity cache %s: dropped %d entities after failed flush", c.Table(), len(objs)),
			err,
			map[string]interface{}{"table": c.Table(), "dropped": len(objs), "flush_id": uuid.New().String()},
		)
	}
}

// Start (re)starts the flush timer. No-op if already running.
func (c *Cache[T]) Start() {
	c.lcMu.Lock()
	defer c.lcMu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

// Stop cancels the flush timer, waiting for a tick in progress to finish.
// Queued entities are left untouched. No-op if already stopped.
func (c *Cache[T]) Stop() {
	c.lcMu.Lock()
	defer c.lcMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

func (c *Cache[T]) Running() bool {
	c.lcMu.Lock()
	defer c.lcMu.Unlock()
	return c.stop != nil
}

// Stats is a point-in-time view of a cache.
type Stats struct {
	Table         string        `json:"table"`
	Pending       int           `json:"pending"`
	History       int           `json:"history"`
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
	Conflict      string        `json:"conflict"`
	Running       bool          `json:"running"`
}

func (c *Cache[T]) Stats() Stats {
	c.mu.Lock()
	pending, hist := len(c.pending), c.history.size
	c.mu.Unlock()

	return Stats{
		Table:         c.Table(),
		Pending:       pending,
		History:       hist,
		BatchSize:     c.opts.BatchSize,
		FlushInterval: c.opts.FlushInterval,
		Conflict:      c.opts.Conflict.String(),
		Running:       c.Running(),
	}
}

func (c *Cache[T]) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-stop:
			return
		}
	}
}

type noopMetrics struct{}

func (noopMetrics) SetPending(string, int)                         {}
func (noopMetrics) ObserveFlush(string, int, time.Duration, error) {}
func (noopMetrics) AddDropped(string, int)                         {}
