package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email      string                                     `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse) `json:"-"`
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// Validate will validate the payload
func (p InitializePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.EmailFormat),
	)
}

type InitializePasswordResetResponse struct {
	Message string `json:"message"`
}

type InitializePasswordResetHandler struct {
	svc *Service
}

func NewInitializePasswordResetHandler(svc *Service) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{svc: svc}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "password reset initialization")
	default:
		return h.execute(ctx, event)
	}
}

// execute answers the same way whether or not the email is registered
func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	s := h.svc
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return s.fail("password reset", goerrors.FromOzzoValidation(err, "invalid password reset request"))
	}

	var user *User
	var token *VerificationToken

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if HasTextCode(err, TextCodeUserNotFound) {
				user = nil
				return nil
			}
			return err
		}

		token, err = s.ledger.IssueTx(ctx, tx, user.ID, PurposePasswordReset, s.ttl.reset)
		return err
	})

	if err != nil {
		return s.fail("password reset", err)
	}

	if user != nil {
		s.notifier.SendPasswordResetEmail(context.WithoutCancel(ctx), user.Email, token.Token)
		s.logger.Info("password reset requested", "user_id", user.ID)
	} else {
		s.logger.Debug("password reset requested for unknown email")
	}

	if event.OnResponse != nil {
		event.OnResponse(&InitializePasswordResetResponse{
			Message: "if the email is registered a reset link has been sent",
		})
	}

	return nil
}

// RequestPasswordReset issues a password reset token for a registered email
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (*InitializePasswordResetResponse, error) {
	var out *InitializePasswordResetResponse
	err := NewInitializePasswordResetHandler(s).Execute(ctx, InitializePasswordResetMessage{
		Email: email,
		OnResponse: func(resp *InitializePasswordResetResponse) {
			out = resp
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
