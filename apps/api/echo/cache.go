package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/campus"
)

type cacheApi struct {
	svc *campus.Service
}

func registerCacheAPI(g *echo.Group, svc *campus.Service) {
	api := cacheApi{svc: svc}

	cg := g.Group("/cache")
	cg.GET("", api.stats)
	cg.POST("/drain", api.drain, adminMiddleware())
	cg.GET("/:table/rows", api.rows, adminMiddleware())
}

func (api *cacheApi) stats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.Stats())
}

func (api *cacheApi) drain(ctx echo.Context) error {
	if err := api.svc.DrainAll(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "draining caches")
	}
	return ctx.JSON(http.StatusOK, api.svc.Stats())
}

func (api *cacheApi) rows(ctx echo.Context) error {
	rows, err := api.svc.RawRows(ctx.Request().Context(), ctx.Param("table"))
	if err != nil {
		if errors.Cause(err) == campus.ErrUnknownTable {
			return errHttpNotFound
		}
		return errors.Wrap(err, "fetching rows")
	}
	return ctx.JSON(http.StatusOK, rows)
}
