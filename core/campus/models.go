package campus

import (
	"strings"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/entitycache"
)

// Table names
const (
	TableCourse    = "course"
	TableWebCourse = "web_course"
	TableResource  = "resource"
	TablePress     = "press"
	TableEvent     = "event"
)

var (
	CourseSchema = entitycache.Schema{
		Table: TableCourse,
		Columns: []entitycache.Column{
			{Name: "id", Property: "id", Generated: true},
			{Name: "title", Property: "title"},
			{Name: "section", Property: "section"},
		},
	}
	CourseConflict = entitycache.OnConflictUpdate("title", "section")

	WebCourseSchema = entitycache.Schema{
		Table: TableWebCourse,
		Columns: []entitycache.Column{
			{Name: "id", Property: "id", Generated: true},
			{Name: "subject", Property: "subject"},
			{Name: "number", Property: "number"},
			{Name: "full_name", Property: "name"},
			{Name: "section", Property: "section"},
		},
	}
	WebCourseConflict = entitycache.OnConflictUpdate("subject", "number", "section")

	ResourceSchema = entitycache.Schema{
		Table: TableResource,
		Columns: []entitycache.Column{
			{Name: "id", Property: "id", Generated: true},
			{Name: "type", Property: "type"},
			{Name: "course_id", Property: "course", Relation: true},
			{Name: "link", Property: "link"},
		},
	}
	ResourceConflict = entitycache.OnConflictIgnore()

	PressSchema = entitycache.Schema{
		Table: TablePress,
		Columns: []entitycache.Column{
			{Name: "id", Property: "id", Generated: true},
			{Name: "title", Property: "title"},
			{Name: "link", Property: "link"},
			{Name: "author", Property: "author"},
		},
	}
	PressConflict = entitycache.OnConflictUpdate("link")

	EventSchema = entitycache.Schema{
		Table: TableEvent,
		Columns: []entitycache.Column{
			{Name: "id", Property: "id", Generated: true},
			{Name: "title", Property: "title"},
			{Name: "description", Property: "description"},
			{Name: "date", Property: "date"},
			{Name: "start", Property: "start"},
			{Name: "end", Property: "end"},
			{Name: "type", Property: "type"},
		},
	}
	EventConflict = entitycache.OnConflictUpdate("title", "start")
)

var (
	_ entitycache.Cacheable = Course{}
	_ entitycache.Cacheable = WebCourse{}
	_ entitycache.Cacheable = Resource{}
	_ entitycache.Cacheable = Press{}
	_ entitycache.Cacheable = Event{}
)

type Course struct {
	ID      int    `json:"id"`
	Title   string `json:"title" validate:"required,notblank,max=255"`
	Section string `json:"section" validate:"max=32"`
}

func (c Course) ToCacheObject() (entitycache.Row, bool) {
	return entitycache.Row{
		"title":   core.CleanString(c.Title),
		"section": core.CleanString(c.Section),
	}, true
}

// WebCourse is a course as listed by the online catalogue, eg. "CS 101 - Intro to CS".
type WebCourse struct {
	ID      int    `json:"id"`
	Subject string `json:"subject" validate:"required,notblank,max=16"`
	Number  string `json:"number" validate:"required,notblank,max=16"`
	Name    string `json:"name" validate:"max=255"`
	Section string `json:"section" validate:"max=32"`
}

func (c WebCourse) ToCacheObject() (entitycache.Row, bool) {
	return entitycache.Row{
		"subject":   strings.ToUpper(core.CleanString(c.Subject)),
		"number":    core.CleanString(c.Number),
		"full_name": core.CleanString(c.Name),
		"section":   core.CleanString(c.Section),
	}, true
}

// Resource is a link attached to a course (syllabus, slides, ...).
type Resource struct {
	ID       int    `json:"id"`
	Type     string `json:"type" validate:"required,notblank,max=32"`
	CourseID int    `json:"course_id" validate:"min=0"`
	Link     string `json:"link" validate:"required,url"`
}

// ToCacheObject has no data for resources that are not attached to a course yet.
func (r Resource) ToCacheObject() (entitycache.Row, bool) {
	if r.CourseID == 0 {
		return nil, false
	}
	return entitycache.Row{
		"type":      core.CleanString(r.Type),
		"course_id": r.CourseID,
		"link":      core.CleanString(r.Link),
	}, true
}

type Press struct {
	ID     int         `json:"id"`
	Title  string      `json:"title" validate:"required,notblank,max=255"`
	Link   string      `json:"link" validate:"required,url"`
	Author null.String `json:"author"`
}

func (p Press) ToCacheObject() (entitycache.Row, bool) {
	link := core.CleanString(p.Link)
	if link == "" {
		return nil, false
	}
	return entitycache.Row{
		"title":  core.CleanString(p.Title),
		"link":   link,
		"author": p.Author,
	}, true
}

type Event struct {
	ID          int         `json:"id"`
	Title       string      `json:"title" validate:"required,notblank,max=255"`
	Description null.String `json:"description"`
	Date        time.Time   `json:"date"`
	Start       time.Time   `json:"start" validate:"required"`
	End         null.Time   `json:"end"`
	Type        string      `json:"type" validate:"max=32"`
}

// ToCacheObject has no data for events without a start time, since they cannot be deduplicated.
func (e Event) ToCacheObject() (entitycache.Row, bool) {
	if e.Start.IsZero() {
		return nil, false
	}
	date := e.Date
	if date.IsZero() {
		date = e.Start
	}
	return entitycache.Row{
		"title":       core.CleanString(e.Title),
		"description": e.Description,
		"date":        date.UTC(),
		"start":       e.Start.UTC(),
		"end":         e.End,
		"type":        core.CleanString(e.Type),
	}, true
}
