package campus

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/entitycache"
	"github.com/trezcool/campus/storage/database/dummy"
	"github.com/trezcool/campus/tests"
)

func setup(t *testing.T) (*Service, *dummydb.DB, *testutil.Logger) {
	t.Helper()
	db, err := dummydb.Open()
	require.NoError(t, err)
	log := new(testutil.Logger)

	svc, err := NewService(db, testutil.CacheConfig(), log, nil)
	require.NoError(t, err)
	t.Cleanup(svc.Stop)
	return svc, db, log
}

func TestNewService_invalidConfig(t *testing.T) {
	db, _ := dummydb.Open()
	_, err := NewService(db, core.CacheConfig{BatchSize: -1}, new(testutil.Logger), nil)
	assert.True(t, core.IsValidationError(err), "NewService() error = %v", err)
}

func TestService_ImportAndDrain(t *testing.T) {
	svc, db, _ := setup(t)
	start := time.Date(2021, 3, 1, 18, 0, 0, 0, time.UTC)

	doc := Document{
		Courses:    []Course{{Title: "Algebra"}, {Title: "Biology"}, {Title: "Chemistry"}},
		WebCourses: []WebCourse{{Subject: "CS", Number: "101"}},
		Resources:  []Resource{{Type: "slides", CourseID: 1, Link: "https://files.test/1"}, {Type: "slides", Link: "https://files.test/2"}},
		Events:     []Event{{Title: "Hackathon", Start: start}},
	}
	assert.Equal(t, 7, doc.Len())
	svc.Import(doc)

	stats := svc.Stats()
	require.Len(t, stats, 5)
	pending := make(map[string]int)
	for _, s := range stats {
		pending[s.Table] = s.Pending
	}
	assert.Equal(t, map[string]int{TableCourse: 3, TableEvent: 1, TablePress: 0, TableResource: 2, TableWebCourse: 1}, pending)

	require.NoError(t, svc.DrainAll(context.Background()))
	for _, s := range svc.Stats() {
		assert.Zero(t, s.Pending, s.Table)
	}

	assert.Len(t, db.Rows(TableCourse), 3)
	assert.Len(t, db.Rows(TableWebCourse), 1)
	assert.Len(t, db.Rows(TableResource), 1, "resources without course have no data")
	assert.Len(t, db.Rows(TableEvent), 1)
	assert.Equal(t, 3, len(svc.courses.History()))

	// 3 courses with a batch size of 2: 2 statements, parents drained first
	stmts := db.Statements()
	require.NotEmpty(t, stmts)
	assert.Contains(t, stmts[0], `INSERT INTO "course"`)
	assert.Contains(t, stmts[1], `INSERT INTO "course"`)
}

func TestService_DrainAllKeepsGoing(t *testing.T) {
	svc, db, log := setup(t)
	svc.AddCourses(Course{Title: "Algebra"})
	svc.AddPress(Press{Title: "Open day", Link: "https://news.test/1"})

	boom := errors.New("boom")
	db.FailWith(boom)
	err := svc.DrainAll(context.Background())
	assert.True(t, errors.Is(err, boom), "DrainAll() error = %v", err)
	assert.Len(t, log.Entries(), 2, "one entry per failed cache")
	for _, s := range svc.Stats() {
		assert.Zero(t, s.Pending, "failed batches are not queued again")
	}
}

func TestService_RawRows(t *testing.T) {
	svc, _, _ := setup(t)
	svc.AddPress(Press{Title: "Open day", Link: "https://news.test/1"}, Press{Title: "Fair", Link: "https://news.test/2"})
	require.NoError(t, svc.DrainAll(context.Background()))

	rows, err := svc.RawRows(context.Background(), TablePress)
	assert.NoError(t, err)
	assert.Len(t, rows, 2)

	svc.AddWebCourses(WebCourse{Subject: "cs", Number: "101", Name: "Intro to CS"})
	require.NoError(t, svc.DrainAll(context.Background()))
	rows, err = svc.RawRows(context.Background(), TableWebCourse)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Intro to CS", rows[0]["name"])
	assert.NotContains(t, rows[0], "full_name")

	_, err = svc.RawRows(context.Background(), "user")
	assert.Equal(t, ErrUnknownTable, pkgerrors.Cause(err))
}

func TestService_Lifecycle(t *testing.T) {
	svc, db, _ := setup(t)
	assert.Equal(t, []string{TableCourse, TableEvent, TablePress, TableResource, TableWebCourse}, svc.Tables())

	svc.Stop()
	for _, s := range svc.Stats() {
		assert.False(t, s.Running, s.Table)
	}
	svc.Start()
	for _, s := range svc.Stats() {
		assert.True(t, s.Running, s.Table)
	}

	svc.AddCourses(Course{Title: "Algebra"})
	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Len(t, db.Rows(TableCourse), 1)
	for _, s := range svc.Stats() {
		assert.False(t, s.Running, s.Table)
	}
}

func TestService_ShutdownExpiredContext(t *testing.T) {
	svc, db, _ := setup(t)
	svc.AddCourses(Course{Title: "Algebra"}, Course{Title: "Biology"}, Course{Title: "Chemistry"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	// nothing is drained nor lost: the entities wait for the next drain
	err := svc.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "Shutdown() error = %v", err)
	assert.Empty(t, db.Rows(TableCourse))
	assert.Equal(t, 3, svc.courses.Pending())

	require.NoError(t, svc.Shutdown(context.Background()))
	assert.Len(t, db.Rows(TableCourse), 3)
	assert.Zero(t, svc.courses.Pending())
}

type schemaLoader map[string]entitycache.Schema

func (l schemaLoader) Load(_ context.Context, table string) (entitycache.Schema, error) {
	if s, ok := l[table]; ok {
		return s, nil
	}
	return entitycache.Schema{}, errors.New("table not found")
}

func TestService_CheckSchemas(t *testing.T) {
	svc, _, _ := setup(t)
	tables := func() schemaLoader {
		return schemaLoader{
			TableCourse:    CourseSchema,
			TableWebCourse: WebCourseSchema,
			TableResource:  ResourceSchema,
			TablePress:     PressSchema,
			TableEvent:     EventSchema,
		}
	}

	assert.NoError(t, svc.CheckSchemas(context.Background(), tables()))

	t.Run("renamed column", func(t *testing.T) {
		loader := tables()
		loader[TableWebCourse] = entitycache.Schema{Table: TableWebCourse, Columns: []entitycache.Column{
			{Name: "id", Generated: true}, {Name: "subject"}, {Name: "number"}, {Name: "name"}, {Name: "section"},
		}}
		err := svc.CheckSchemas(context.Background(), loader)
		assert.True(t, core.IsValidationError(err), "CheckSchemas() error = %v", err)
		assert.Contains(t, err.Error(), "checking web_course schema")
	})

	t.Run("missing table", func(t *testing.T) {
		loader := tables()
		delete(loader, TableEvent)
		err := svc.CheckSchemas(context.Background(), loader)
		assert.EqualError(t, err, "loading event schema: table not found")
	})
}
