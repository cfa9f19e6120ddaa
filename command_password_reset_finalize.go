package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type FinalizePasswordResetMessage struct {
	Token      string                                   `json:"token" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Reset password token"`
	Password   string                                   `json:"password" example:"some_secret_word" doc:"Password"`
	OnResponse func(resp *FinalizePasswordResetResponse) `json:"-"`
}

func (p FinalizePasswordResetMessage) Type() string { return "user.password_reset_finalize" }

// Validate will validate the payload
func (p FinalizePasswordResetMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Token, validation.Required, validation.Length(1, 255)),
		validation.Field(&p.Password, validation.Required, validation.Length(6, 72)),
	)
}

type FinalizePasswordResetResponse struct {
	Message string `json:"message"`
}

type FinalizePasswordResetHandler struct {
	svc *Service
}

func NewFinalizePasswordResetHandler(svc *Service) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{svc: svc}
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "password reset finalization")
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	s := h.svc
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return s.fail("password reset finalize", goerrors.FromOzzoValidation(err, "invalid password reset payload"))
	}

	// hash before the transaction so bcrypt does not hold it open
	hash, err := s.hasher.HashPassword(event.Password)
	if err != nil {
		return s.fail("password reset finalize", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided"))
	}

	var user *User
	var expired error

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.ledger.ConsumeTx(ctx, tx, event.Token, PurposePasswordReset)
		if err != nil {
			if IsVerificationExpired(err) {
				expired = err
				return nil
			}
			if IsVerificationNotFound(err) {
				return ErrInvalidVerificationToken
			}
			return err
		}

		user.PasswordHash = hash
		// the reset link went to the inbox, which proves ownership
		user.EmailVerified = true
		return s.repo.Users().UpdateTx(ctx, tx, user, "password_hash", "email_verified")
	})

	if err != nil {
		return s.fail("password reset finalize", err)
	}
	if expired != nil {
		return s.fail("password reset finalize", expired)
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventPasswordResetSuccess,
		ActorID:    user.ID,
		UserID:     user.ID,
		OccurredAt: s.now().UTC(),
	})
	s.logger.Info("password reset", "user_id", user.ID)

	if event.OnResponse != nil {
		event.OnResponse(&FinalizePasswordResetResponse{
			Message: "password updated",
		})
	}

	return nil
}

// ResetPassword consumes a password reset token and stores the new password.
// Tokens already issued to the user stay valid until they expire.
func (s *Service) ResetPassword(ctx context.Context, token, password string) (*FinalizePasswordResetResponse, error) {
	var out *FinalizePasswordResetResponse
	err := NewFinalizePasswordResetHandler(s).Execute(ctx, FinalizePasswordResetMessage{
		Token:    token,
		Password: password,
		OnResponse: func(resp *FinalizePasswordResetResponse) {
			out = resp
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
