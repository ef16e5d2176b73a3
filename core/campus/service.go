package campus

import (
	"context"
	"errors"
	"sort"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/entitycache"
)

var (
	// errors
	ErrUnknownTable = errors.New("unknown table")
)

type (
	// tableCache is the part of entitycache.Cache that does not depend on the entity type.
	tableCache interface {
		Table() string
		Schema() entitycache.Schema
		Stats() entitycache.Stats
		DrainAll(ctx context.Context) error
		FetchAllRaw(ctx context.Context) ([]entitycache.Row, error)
		Start()
		Stop()
	}

	// Document is a bulk of entities, as imported by the admin CLI.
	Document struct {
		Courses    []Course    `json:"courses" validate:"dive"`
		WebCourses []WebCourse `json:"web_courses" validate:"dive"`
		Resources  []Resource  `json:"resources" validate:"dive"`
		Press      []Press     `json:"press" validate:"dive"`
		Events     []Event     `json:"events" validate:"dive"`
	}

	// Service owns one write-behind cache per entity.
	Service struct {
		courses    *entitycache.Cache[Course]
		webCourses *entitycache.Cache[WebCourse]
		resources  *entitycache.Cache[Resource]
		press      *entitycache.Cache[Press]
		events     *entitycache.Cache[Event]

		tables map[string]tableCache
		log    core.Logger
	}
)

// Len returns the total number of entities in doc.
func (doc Document) Len() int {
	return len(doc.Courses) + len(doc.WebCourses) + len(doc.Resources) + len(doc.Press) + len(doc.Events)
}

// NewService creates (and starts) the caches of every entity. metrics may be nil.
func NewService(store entitycache.Store, conf core.CacheConfig, log core.Logger, metrics entitycache.Metrics) (*Service, error) {
	opts := func(schema entitycache.Schema, policy entitycache.ConflictPolicy) entitycache.Options {
		return entitycache.Options{
			Schema:        schema,
			Conflict:      policy,
			FlushInterval: conf.FlushInterval,
			BatchSize:     conf.BatchSize,
			HistorySize:   conf.HistorySize,
			Logger:        log,
			Metrics:       metrics,
		}
	}

	svc := &Service{log: log}
	var err error
	if svc.courses, err = entitycache.New[Course](store, opts(CourseSchema, CourseConflict)); err != nil {
		return nil, pkgerrors.Wrap(err, "creating course cache")
	}
	if svc.webCourses, err = entitycache.New[WebCourse](store, opts(WebCourseSchema, WebCourseConflict)); err != nil {
		svc.Stop()
		return nil, pkgerrors.Wrap(err, "creating web course cache")
	}
	if svc.resources, err = entitycache.New[Resource](store, opts(ResourceSchema, ResourceConflict)); err != nil {
		svc.Stop()
		return nil, pkgerrors.Wrap(err, "creating resource cache")
	}
	if svc.press, err = entitycache.New[Press](store, opts(PressSchema, PressConflict)); err != nil {
		svc.Stop()
		return nil, pkgerrors.Wrap(err, "creating press cache")
	}
	if svc.events, err = entitycache.New[Event](store, opts(EventSchema, EventConflict)); err != nil {
		svc.Stop()
		return nil, pkgerrors.Wrap(err, "creating event cache")
	}

	svc.tables = map[string]tableCache{
		TableCourse:    svc.courses,
		TableWebCourse: svc.webCourses,
		TableResource:  svc.resources,
		TablePress:     svc.press,
		TableEvent:     svc.events,
	}
	return svc, nil
}

func (svc *Service) AddCourses(courses ...Course)       { svc.courses.Add(courses...) }
func (svc *Service) AddWebCourses(courses ...WebCourse) { svc.webCourses.Add(courses...) }
func (svc *Service) AddResources(resources ...Resource) { svc.resources.Add(resources...) }
func (svc *Service) AddPress(press ...Press)            { svc.press.Add(press...) }
func (svc *Service) AddEvents(events ...Event)          { svc.events.Add(events...) }

func (svc *Service) cache(table string) (tableCache, bool) {
	c, ok := svc.tables[table]
	return c, ok
}

// Import queues every entity of doc.
// Courses come first so that a drain persists them before the resources referencing them.
func (svc *Service) Import(doc Document) {
	svc.AddCourses(doc.Courses...)
	svc.AddWebCourses(doc.WebCourses...)
	svc.AddResources(doc.Resources...)
	svc.AddPress(doc.Press...)
	svc.AddEvents(doc.Events...)
}

// Tables returns the cached table names, sorted.
func (svc *Service) Tables() []string {
	tables := make([]string, 0, len(svc.tables))
	for t := range svc.tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables
}

func (svc *Service) Stats() []entitycache.Stats {
	stats := make([]entitycache.Stats, 0, len(svc.tables))
	for _, t := range svc.Tables() {
		stats = append(stats, svc.tables[t].Stats())
	}
	return stats
}

// DrainAll flushes every cache, courses first.
// All caches are drained even if one fails; the first error is returned.
func (svc *Service) DrainAll(ctx context.Context) error {
	var first error
	for _, c := range svc.ordered() {
		if err := c.DrainAll(ctx); err != nil {
			svc.log.Error("draining "+c.Table()+" cache", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// CheckSchemas fails when a cache binding no longer matches its table.
func (svc *Service) CheckSchemas(ctx context.Context, loader entitycache.SchemaLoader) error {
	for _, c := range svc.ordered() {
		declared := c.Schema()
		actual, err := loader.Load(ctx, declared.Table)
		if err != nil {
			return pkgerrors.Wrapf(err, "loading %s schema", declared.Table)
		}
		if err = declared.Check(actual); err != nil {
			return pkgerrors.Wrapf(err, "checking %s schema", declared.Table)
		}
	}
	return nil
}

// RawRows reads the whole table backing a cache.
func (svc *Service) RawRows(ctx context.Context, table string) ([]entitycache.Row, error) {
	c, ok := svc.cache(table)
	if !ok {
		return nil, pkgerrors.Wrapf(ErrUnknownTable, "%q", table)
	}
	return c.FetchAllRaw(ctx)
}

// Start (re)starts the flush timers.
func (svc *Service) Start() {
	for _, c := range svc.ordered() {
		c.Start()
	}
}

// Stop stops the flush timers. Queued entities are kept.
func (svc *Service) Stop() {
	for _, c := range svc.ordered() {
		c.Stop()
	}
}

// Shutdown stops the timers then persists everything still queued.
func (svc *Service) Shutdown(ctx context.Context) error {
	svc.Stop()
	return svc.DrainAll(ctx)
}

// ordered returns the created caches, parents before children.
func (svc *Service) ordered() []tableCache {
	caches := make([]tableCache, 0, 5)
	if svc.courses != nil {
		caches = append(caches, svc.courses)
	}
	if svc.webCourses != nil {
		caches = append(caches, svc.webCourses)
	}
	if svc.resources != nil {
		caches = append(caches, svc.resources)
	}
	if svc.press != nil {
		caches = append(caches, svc.press)
	}
	if svc.events != nil {
		caches = append(caches, svc.events)
	}
	return caches
}
