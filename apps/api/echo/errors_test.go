package echoapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/tests"
)

func Test_newAppHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCode     int
		wantBody     string
		wantShutdown bool
	}{
		{
			name:     "jwt missing",
			err:      middleware.ErrJWTMissing,
			wantCode: http.StatusUnauthorized,
			wantBody: `{"error": "missing or malformed jwt"}`,
		},
		{
			name:     "http error",
			err:      errors.Wrap(errHttpForbidden, "draining caches"),
			wantCode: http.StatusForbidden,
			wantBody: `{"error": "permission denied"}`,
		},
		{
			name:     "validation error with fields",
			err:      core.NewValidationError(nil, core.FieldError{Field: "batch_size", Error: "must be positive"}),
			wantCode: http.StatusBadRequest,
			wantBody: `{"batch_size": "must be positive"}`,
		},
		{
			name:     "validation error",
			err:      core.NewValidationError(errors.New("invalid document")),
			wantCode: http.StatusBadRequest,
			wantBody: `{"error": "invalid document"}`,
		},
		{
			name:     "server error",
			err:      errors.New("conn reset"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"error": "Internal Server Error"}`,
		},
		{
			name:         "shutdown",
			err:          errors.Wrap(core.NewShutdownError("database is gone"), "draining caches"),
			wantCode:     http.StatusInternalServerError,
			wantBody:     `{"error": "Internal Server Error"}`,
			wantShutdown: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shutdown bool
			log := new(testutil.Logger)
			handler := newAppHTTPErrorHandler(log, func() { shutdown = true })

			app := echo.New()
			rec := httptest.NewRecorder()
			ctx := app.NewContext(httptest.NewRequest(http.MethodPost, "/v1/cache/drain", nil), rec)
			handler(tt.err, ctx)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, tt.wantShutdown, shutdown)
			if tt.wantCode == http.StatusInternalServerError {
				assert.Len(t, log.Entries(), 1)
			} else {
				assert.Empty(t, log.Entries())
			}
		})
	}
}
