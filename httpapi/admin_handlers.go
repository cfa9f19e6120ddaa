package httpapi

import (
	"net/http"

	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-workorder-auth"
)

type assignRolesRequest struct {
	Roles []string `json:"roles"`
}

func (a *Controller) RoleList(ctx router.Context) error {
	roles, err := a.Service.RoleManager().List(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{"roles": roles})
}

func (a *Controller) RoleGet(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	role, err := a.Service.RoleManager().Get(ctx.Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, role)
}

func (a *Controller) RoleCreate(ctx router.Context) error {
	var payload auth.RolePayload
	if err := parseBody(ctx, &payload); err != nil {
		return err
	}
	role, err := a.Service.RoleManager().Create(ctx.Context(), payload)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, role)
}

func (a *Controller) RoleUpdate(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	var payload auth.RolePayload
	if err := parseBody(ctx, &payload); err != nil {
		return err
	}
	role, err := a.Service.RoleManager().Update(ctx.Context(), id, payload)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, role)
}

func (a *Controller) RoleDelete(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	if err := a.Service.RoleManager().Delete(ctx.Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (a *Controller) PermissionList(ctx router.Context) error {
	perms, err := a.Service.PermissionManager().List(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{"permissions": perms})
}

func (a *Controller) PermissionGet(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	perm, err := a.Service.PermissionManager().Get(ctx.Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, perm)
}

func (a *Controller) PermissionCreate(ctx router.Context) error {
	var payload auth.PermissionPayload
	if err := parseBody(ctx, &payload); err != nil {
		return err
	}
	perm, err := a.Service.PermissionManager().Create(ctx.Context(), payload)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, perm)
}

func (a *Controller) PermissionUpdate(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	var payload auth.PermissionPayload
	if err := parseBody(ctx, &payload); err != nil {
		return err
	}
	perm, err := a.Service.PermissionManager().Update(ctx.Context(), id, payload)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, perm)
}

func (a *Controller) PermissionDelete(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	if err := a.Service.PermissionManager().Delete(ctx.Context(), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// UserGet is open to the user itself and to administrators
func (a *Controller) UserGet(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	if !a.Service.Authorize(a.principal(ctx), auth.RequireSelfOrRole(id, auth.RoleAdmin)) {
		return auth.ErrInsufficientPrivilege
	}

	user, err := a.Service.UserManager().Get(ctx.Context(), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"profile": auth.ProfileOf(user),
		"roles":   user.RoleNames(),
	})
}

// UserList pages through users, ?page= starts at 1
func (a *Controller) UserList(ctx router.Context) error {
	page, err := a.Service.UserManager().List(ctx.Context(),
		ctx.QueryInt("page", 1),
		ctx.QueryInt("per_page", auth.DefaultUsersPerPage),
	)
	if err != nil {
		return err
	}

	users := make([]map[string]any, 0, len(page.Users))
	for _, user := range page.Users {
		users = append(users, map[string]any{
			"profile": auth.ProfileOf(user),
			"roles":   user.RoleNames(),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"users":    users,
		"total":    page.Total,
		"page":     page.Page,
		"per_page": page.PerPage,
	})
}

// UserUpdate changes profile fields, open to the user itself and to administrators
func (a *Controller) UserUpdate(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	principal := a.principal(ctx)
	if !a.Service.Authorize(principal, auth.RequireSelfOrRole(id, auth.RoleAdmin)) {
		return auth.ErrInsufficientPrivilege
	}

	var payload auth.UserProfilePayload
	if err := parseBody(ctx, &payload); err != nil {
		return err
	}

	user, err := a.Service.UserManager().UpdateProfile(ctx.Context(), principal, id, payload)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"profile": auth.ProfileOf(user),
		"roles":   user.RoleNames(),
	})
}

func (a *Controller) UserDelete(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	if err := a.Service.UserManager().Delete(ctx.Context(), a.principal(ctx), id); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (a *Controller) UserAssignRoles(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	var req assignRolesRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}

	user, err := a.Service.UserManager().AssignRoles(ctx.Context(), a.principal(ctx), id, req.Roles)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"profile": auth.ProfileOf(user),
		"roles":   user.RoleNames(),
	})
}

func (a *Controller) UserVerifyAccount(ctx router.Context) error {
	id, err := idParam(ctx)
	if err != nil {
		return err
	}
	user, err := a.Service.UserManager().VerifyAccount(ctx.Context(), a.principal(ctx), id)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{"profile": auth.ProfileOf(user)})
}
