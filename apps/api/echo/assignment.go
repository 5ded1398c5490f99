package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core/assignment"
	"github.com/trezcool/coursehub/core/submission"
)

type assignmentApi struct {
	svc      assignment.Service
	subSvc   submission.Service
	validate *validator.Validate
}

func registerAssignmentAPI(
	g *echo.Group,
	authed []echo.MiddlewareFunc,
	svc assignment.Service,
	subSvc submission.Service,
	validate *validator.Validate,
) {
	api := assignmentApi{svc: svc, subSvc: subSvc, validate: validate}

	ag := g.Group("/assignments", authed...)
	ag.GET("", api.list)
	ag.POST("", api.create)
	ag.GET("/:id", api.retrieve)
	ag.PUT("/:id", api.update)
	ag.DELETE("/:id", api.destroy)
	ag.GET("/:id/submissions", api.submissions)
}

// AssignmentDetail is an assignment as seen by a student, with their own submission if any.
type AssignmentDetail struct {
	assignment.Assignment
	UserSubmission *submission.Submission `json:"user_submission"`
}

func (api *assignmentApi) list(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	asgmts, err := api.svc.List(ctx.Request().Context(), actor, ctx.QueryParam("course_id"))
	if err != nil {
		return errors.Wrap(err, "listing assignments")
	}
	return ctx.JSON(http.StatusOK, asgmts)
}

func (api *assignmentApi) create(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data assignment.NewAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAssignment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating assignment")
	}
	return ctx.JSON(http.StatusCreated, withMessage("Assignment created successfully", "assignment", a))
}

func (api *assignmentApi) retrieve(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	a, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting assignment")
	}
	if !actor.IsStudent() {
		return ctx.JSON(http.StatusOK, a)
	}

	sub, err := api.subSvc.FindForActor(ctx.Request().Context(), actor, a)
	if err != nil {
		return errors.Wrap(err, "finding user submission")
	}
	return ctx.JSON(http.StatusOK, AssignmentDetail{Assignment: a, UserSubmission: sub})
}

func (api *assignmentApi) update(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data assignment.UpdateAssignment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAssignment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.Update(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating assignment")
	}
	return ctx.JSON(http.StatusOK, withMessage("Assignment updated successfully", "assignment", a))
}

func (api *assignmentApi) destroy(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Assignment deleted successfully"})
}

func (api *assignmentApi) submissions(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	subs, err := api.subSvc.ListByAssignment(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing assignment submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}
