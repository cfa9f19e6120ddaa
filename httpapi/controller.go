// Package httpapi exposes the auth service as a JSON API on go-router.
package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-workorder-auth"
	"github.com/goliatone/go-workorder-auth/middleware/jwtware"
)

// Routes holds the mount points of the controller groups
type Routes struct {
	Auth        string
	Roles       string
	Permissions string
	Users       string
}

// Controller wires the auth service to router handlers
type Controller struct {
	Service *auth.Service
	Logger  auth.Logger
	Routes  *Routes
}

type ControllerOption func(*Controller) *Controller

func WithLogger(logger auth.Logger) ControllerOption {
	return func(c *Controller) *Controller {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithRoutes(routes *Routes) ControllerOption {
	return func(c *Controller) *Controller {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func NewController(svc *auth.Service, opts ...ControllerOption) *Controller {
	if svc == nil {
		panic("Missing auth Service in http controller...")
	}

	c := &Controller{
		Service: svc,
		Logger:  auth.NewSlogLogger(nil),
		Routes: &Routes{
			Auth:        "/api/auth",
			Roles:       "/api/roles",
			Permissions: "/api/permissions",
			Users:       "/api/users",
		},
	}
	for _, opt := range opts {
		c = opt(c)
	}
	return c
}

// RegisterRoutes mounts every route of the controller on r
func RegisterRoutes[T any](r router.Router[T], a *Controller) {
	bearer := jwtware.New(jwtware.Config{
		TokenValidator: a.Service.Codec(),
		ErrorHandler:   a.bearerError,
	})
	admin := jwtware.RequireRole(auth.RoleAdmin, a.bearerError)

	authGroup := r.Group(a.Routes.Auth)
	authGroup.Post("/login", a.Login).SetName("auth.login")
	authGroup.Post("/register", a.RegisterUser).SetName("auth.register")
	authGroup.Post("/verify-email", a.VerifyEmail).SetName("auth.verify-email")
	authGroup.Post("/resend-verification", a.ResendVerification).SetName("auth.resend-verification")
	authGroup.Post("/refresh", a.Refresh).SetName("auth.refresh")
	authGroup.Post("/password-reset", a.PasswordResetRequest).SetName("auth.password-reset")
	authGroup.Post("/password-reset/confirm", a.PasswordResetConfirm).SetName("auth.password-reset-confirm")
	authGroup.Get("/me", a.Me, bearer).SetName("auth.me")

	roles := r.Group(a.Routes.Roles).Use(bearer, admin)
	roles.Get("/", a.RoleList).SetName("roles.list")
	roles.Post("/", a.RoleCreate).SetName("roles.create")
	roles.Get("/:id", a.RoleGet).SetName("roles.get")
	roles.Put("/:id", a.RoleUpdate).SetName("roles.update")
	roles.Delete("/:id", a.RoleDelete).SetName("roles.delete")

	perms := r.Group(a.Routes.Permissions).Use(bearer, admin)
	perms.Get("/", a.PermissionList).SetName("permissions.list")
	perms.Post("/", a.PermissionCreate).SetName("permissions.create")
	perms.Get("/:id", a.PermissionGet).SetName("permissions.get")
	perms.Put("/:id", a.PermissionUpdate).SetName("permissions.update")
	perms.Delete("/:id", a.PermissionDelete).SetName("permissions.delete")

	users := r.Group(a.Routes.Users).Use(bearer)
	users.Get("/", a.UserList, admin).SetName("users.list")
	users.Get("/:id", a.UserGet).SetName("users.get")
	users.Put("/:id", a.UserUpdate).SetName("users.update")
	users.Delete("/:id", a.UserDelete, admin).SetName("users.delete")
	users.Put("/:id/roles", a.UserAssignRoles, admin).SetName("users.roles")
	users.Post("/:id/verify", a.UserVerifyAccount, admin).SetName("users.verify")
}

// ErrorHandler renders any error returned by a handler as the public error
// body. Install it as the fiber app error handler behind the router adapter.
func ErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if goerrors.As(err, &fiberErr) {
			public := goerrors.New(fiberErr.Message, goerrors.CategoryBadInput).
				WithCode(fiberErr.Code).
				WithTextCode(goerrors.HTTPStatusToTextCode(fiberErr.Code))
			public.Location = nil
			return c.Status(fiberErr.Code).JSON(public.ToErrorResponse(false, nil))
		}

		public := auth.PublicError(err)
		if auth.KindOf(err) == auth.KindInternal {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
		}
		return c.Status(public.Code).JSON(public.ToErrorResponse(false, nil))
	}
}

// bearerError hands rejected credentials back to the app error handler
func (a *Controller) bearerError(ctx router.Context, err error) error {
	if goerrors.Is(err, jwtware.ErrJWTMissingOrMalformed) {
		err = auth.ErrInvalidToken
	}
	if reason := auth.TokenErrorReason(err); reason != "" {
		a.Logger.Debug("bearer token rejected", "path", ctx.Path(), "reason", reason)
	}
	return err
}

func (a *Controller) principal(ctx router.Context) auth.Principal {
	principal, _ := auth.PrincipalFromContext(ctx.Context())
	return principal
}

// parseBody leaves out untouched on an empty body, validation reports the
// missing fields.
func parseBody(ctx router.Context, out any) error {
	if len(ctx.Body()) == 0 {
		return nil
	}
	if err := ctx.Bind(out); err != nil {
		return goerrors.New("malformed request body", goerrors.CategoryBadInput).
			WithTextCode(auth.TextCodeBadRequest).
			WithCode(http.StatusBadRequest)
	}
	return nil
}

func idParam(ctx router.Context) (int64, error) {
	raw := ctx.Param("id", "")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, goerrors.New("invalid id", goerrors.CategoryBadInput).
			WithTextCode(auth.TextCodeBadRequest).
			WithCode(http.StatusBadRequest).
			WithMetadata(map[string]any{"id": raw})
	}
	return id, nil
}
