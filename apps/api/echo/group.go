package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/coursehub/core/group"
	"github.com/trezcool/coursehub/core/submission"
)

type groupApi struct {
	svc      group.Service
	subSvc   submission.Service
	validate *validator.Validate
}

func registerGroupAPI(
	g *echo.Group,
	authed []echo.MiddlewareFunc,
	svc group.Service,
	subSvc submission.Service,
	validate *validator.Validate,
) {
	api := groupApi{svc: svc, subSvc: subSvc, validate: validate}

	gg := g.Group("/groups", authed...)
	gg.GET("", api.list)
	gg.POST("", api.create)
	gg.GET("/my-groups", api.listMine)
	gg.GET("/:id", api.retrieve)
	gg.DELETE("/:id", api.destroy)
	gg.POST("/:id/members", api.addMember)
	gg.DELETE("/:id/members/:userId", api.removeMember)
	gg.PUT("/:id/leader", api.transferLeader)
	gg.GET("/:id/submissions", api.submissions)
}

func (api *groupApi) list(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	groups, err := api.svc.List(ctx.Request().Context(), actor, ctx.QueryParam("course_id"))
	if err != nil {
		return errors.Wrap(err, "listing groups")
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *groupApi) listMine(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	groups, err := api.svc.ListMine(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "listing user groups")
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *groupApi) create(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data group.NewGroup
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewGroup")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	grp, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating group")
	}
	return ctx.JSON(http.StatusCreated, withMessage("Group created successfully", "group", grp))
}

func (api *groupApi) retrieve(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	grp, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting group")
	}
	return ctx.JSON(http.StatusOK, grp)
}

func (api *groupApi) addMember(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data group.AddMember
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AddMember")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	grp, err := api.svc.AddMember(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding group member")
	}
	return ctx.JSON(http.StatusOK, withMessage("Member added successfully", "group", grp))
}

func (api *groupApi) removeMember(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	grp, err := api.svc.RemoveMember(ctx.Request().Context(), actor, ctx.Param("id"), ctx.Param("userId"))
	if err != nil {
		return errors.Wrap(err, "removing group member")
	}
	return ctx.JSON(http.StatusOK, withMessage("Member removed successfully", "group", grp))
}

func (api *groupApi) transferLeader(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	var data group.TransferLeader
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TransferLeader")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	grp, err := api.svc.TransferLeader(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "transferring group leadership")
	}
	return ctx.JSON(http.StatusOK, withMessage("Group leader updated successfully", "group", grp))
}

func (api *groupApi) destroy(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting group")
	}
	return ctx.JSON(http.StatusOK, MessageResponse{Message: "Group deleted successfully"})
}

func (api *groupApi) submissions(ctx echo.Context) error {
	actor, err := ctxUser(ctx)
	if err != nil {
		return err
	}
	subs, err := api.subSvc.ListByGroup(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "listing group submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}
