package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core/analytics"
)

type analyticsApi struct {
	svc analytics.Service
}

func registerAnalyticsAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc analytics.Service) {
	api := analyticsApi{svc: svc}

	ag := g.Group("/analytics", authed...)
	ag.GET("/overview", api.overview)
	ag.GET("/course/:id", api.course)
	ag.GET("/student/dashboard", api.studentDashboard)
}

func (api *analyticsApi) overview(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	ov, err := api.svc.Overview(ctx.Request().Context(), actor, ctx.QueryParam("course_id"))
	if err != nil {
		return errors.Wrap(err, "computing overview")
	}
	return ctx.JSON(http.StatusOK, ov)
}

func (api *analyticsApi) course(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	report, err := api.svc.Course(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing course analytics")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *analyticsApi) studentDashboard(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	dash, err := api.svc.StudentDashboard(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "computing student dashboard")
	}
	return ctx.JSON(http.StatusOK, dash)
}
