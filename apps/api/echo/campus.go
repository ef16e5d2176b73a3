package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/trezcool/campus/core/campus"
)

type (
	campusApi struct {
		svc        *campus.Service
		validate   *validator.Validate
		translator ut.Translator
	}

	AcceptedResponse struct {
		Accepted int `json:"accepted"`
	}
)

func registerCampusAPI(g *echo.Group, svc *campus.Service, validate *validator.Validate, translator ut.Translator) {
	api := &campusApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	// entities are only queued here; they reach the database on the next flush
	g.POST("/courses", ingest(api, svc.AddCourses))
	g.POST("/web-courses", ingest(api, svc.AddWebCourses))
	g.POST("/resources", ingest(api, svc.AddResources))
	g.POST("/press", ingest(api, svc.AddPress))
	g.POST("/events", ingest(api, svc.AddEvents))
}

func ingest[T any](api *campusApi, add func(...T)) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		entities, err := bindEntities[T](ctx, api.validate, api.translator)
		if err != nil {
			return err
		}
		add(entities...)
		return ctx.JSON(http.StatusAccepted, AcceptedResponse{Accepted: len(entities)})
	}
}
