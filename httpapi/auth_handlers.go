package httpapi

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"

	auth "github.com/goliatone/go-workorder-auth"
)

// LoginRequest accepts an email or a phone number as identifier
type LoginRequest struct {
	Identifier string `json:"identifier" form:"identifier"`
	Password   string `json:"password" form:"password"`
}

// Validate will validate the request
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(3, 254)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, 72)),
	)
}

type tokenRequest struct {
	Token string `json:"token"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (a *Controller) Login(ctx router.Context) error {
	var req LoginRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}

	if err := req.Validate(); err != nil {
		return goerrors.FromOzzoValidation(err, "invalid login payload")
	}

	res, err := a.Service.Login(ctx.Context(), req.Identifier, req.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *Controller) RegisterUser(ctx router.Context) error {
	var msg auth.RegisterUserMessage
	if err := parseBody(ctx, &msg); err != nil {
		return err
	}

	res, err := a.Service.Register(ctx.Context(), msg)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, map[string]any{
		"message": res.Message,
		"user":    auth.ProfileOf(res.User),
		"roles":   res.User.RoleNames(),
	})
}

func (a *Controller) VerifyEmail(ctx router.Context) error {
	var req tokenRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}
	if req.Token == "" {
		req.Token = ctx.Query("token", "")
	}

	res, err := a.Service.VerifyEmail(ctx.Context(), req.Token)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *Controller) ResendVerification(ctx router.Context) error {
	var req emailRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}

	res, err := a.Service.ResendVerification(ctx.Context(), req.Email)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *Controller) Refresh(ctx router.Context) error {
	var req refreshRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}

	res, err := a.Service.Refresh(ctx.Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *Controller) PasswordResetRequest(ctx router.Context) error {
	var req emailRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}

	res, err := a.Service.RequestPasswordReset(ctx.Context(), req.Email)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

func (a *Controller) PasswordResetConfirm(ctx router.Context) error {
	var req passwordResetConfirmRequest
	if err := parseBody(ctx, &req); err != nil {
		return err
	}

	res, err := a.Service.ResetPassword(ctx.Context(), req.Token, req.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, res)
}

// Me returns the profile of the bearer
func (a *Controller) Me(ctx router.Context) error {
	principal := a.principal(ctx)
	user, err := a.Service.UserManager().Get(ctx.Context(), principal.UserID)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"profile": auth.ProfileOf(user),
		"roles":   user.RoleNames(),
	})
}
