package tests

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHome(t *testing.T) {
	app := setup(t)
	req, rec := newRequest(http.MethodGet, "/")
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Campus API!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestIngest(t *testing.T) {
	app := setup(t)
	token := getToken(t, app.conf, false)

	tests := []httpTest{
		{
			name:     "no token",
			method:   http.MethodPost,
			path:     "/v1/courses",
			body:     []byte(`[{"title": "Algebra"}]`),
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, errMissingToken),
		},
		{
			name:     "invalid token",
			method:   http.MethodPost,
			path:     "/v1/courses",
			body:     []byte(`[{"title": "Algebra"}]`),
			token:    "not.a.jwt",
			wantCode: http.StatusUnauthorized,
			wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{
			name:     "malformed body",
			method:   http.MethodPost,
			path:     "/v1/courses",
			body:     []byte(`[{"title": `),
			token:    token,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "empty list",
			method:   http.MethodPost,
			path:     "/v1/courses",
			body:     []byte(`[]`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"entities": "at least one entity is required"}`),
		},
		{
			name:     "invalid entities",
			method:   http.MethodPost,
			path:     "/v1/resources",
			body:     []byte(`[{"link": "https://files.test/1"}, {"type": "slides", "link": "nope"}]`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"[0].type": "this field is required", "[1].link": "link must be a valid URL"}`),
		},
		{
			name:     "courses",
			method:   http.MethodPost,
			path:     "/v1/courses",
			body:     []byte(`[{"title": "Algebra", "section": "A"}, {"title": "Biology"}]`),
			token:    token,
			wantCode: http.StatusAccepted,
			wantData: []byte(`{"accepted": 2}`),
		},
		{
			name:     "web courses",
			method:   http.MethodPost,
			path:     "/v1/web-courses",
			body:     []byte(`[{"subject": "cs", "number": "101", "name": "Intro to CS"}]`),
			token:    token,
			wantCode: http.StatusAccepted,
			wantData: []byte(`{"accepted": 1}`),
		},
		{
			name:     "press",
			method:   http.MethodPost,
			path:     "/v1/press",
			body:     []byte(`[{"title": "Open day", "link": "https://news.test/1", "author": null}]`),
			token:    token,
			wantCode: http.StatusAccepted,
			wantData: []byte(`{"accepted": 1}`),
		},
		{
			name:     "events",
			method:   http.MethodPost,
			path:     "/v1/events",
			body:     []byte(`[{"title": "Hackathon", "start": "2021-03-01T18:00:00Z", "end": "2021-03-01T22:00:00Z"}]`),
			token:    token,
			wantCode: http.StatusAccepted,
			wantData: []byte(`{"accepted": 1}`),
		},
		{
			name:     "event without start",
			method:   http.MethodPost,
			path:     "/v1/events",
			body:     []byte(`[{"title": "Hackathon"}]`),
			token:    token,
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"[0].start": "this field is required"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	pending := make(map[string]int)
	for _, s := range app.svc.Stats() {
		pending[s.Table] = s.Pending
	}
	assert.Equal(t, map[string]int{"course": 2, "web_course": 1, "resource": 0, "press": 1, "event": 1}, pending)
	assert.Empty(t, app.db.Statements(), "nothing is written before a flush")
}
