package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core/submission"
)

type submissionApi struct {
	svc      submission.Service
	validate *validator.Validate
}

func registerSubmissionAPI(g *echo.Group, authed []echo.MiddlewareFunc, svc submission.Service, validate *validator.Validate) {
	api := submissionApi{svc: svc, validate: validate}

	sg := g.Group("/submissions", authed...)
	sg.GET("", api.list)
	sg.POST("", api.upsert)
	sg.GET("/my-submissions", api.listMine)
	sg.GET("/assignment/:assignmentId", api.listByAssignment)
	sg.GET("/group/:groupId", api.listByGroup)
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.grade)
	sg.DELETE("/:id", api.destroy)
}

func (api *submissionApi) list(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	filter := new(submission.ListFilter)
	if err = ctx.Bind(filter); err != nil {
		return errors.Wrap(err, "binding to ListFilter")
	}

	subs, err := api.svc.List(ctx.Request().Context(), actor, *filter)
	if err != nil {
		return errors.Wrap(err, "listing submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) listMine(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.ListMine(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing user submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) listByAssignment(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.ListByAssignment(ctx.Request().Context(), actor, ctx.Param("assignmentId"))
	if err != nil {
		return errors.Wrap(err, "listing assignment submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) listByGroup(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	subs, err := api.svc.ListByGroup(ctx.Request().Context(), actor, ctx.Param("groupId"))
	if err != nil {
		return errors.Wrap(err, "listing group submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) upsert(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data submission.UpsertSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpsertSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, created, err := api.svc.Upsert(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "upserting submission")
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, withMessage(submission.UpsertMessage(sub.Status), "submission", sub))
}

func (api *submissionApi) retrieve(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) grade(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data submission.GradeSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GradeSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Grade(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "grading submission")
	}
	return ctx.JSON(http.StatusOK, withMessage("Submission updated successfully", "submission", sub))
}

func (api *submissionApi) destroy(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting submission")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Submission deleted successfully"})
}
