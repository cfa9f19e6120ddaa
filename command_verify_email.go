package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type VerifyEmailMessage struct {
	Token      string                         `json:"token" example:"350399bc-c095-4bdc-a59c-3352d44848e4" doc:"Email verification token"`
	OnResponse func(resp *VerifyEmailResponse) `json:"-"`
}

func (e VerifyEmailMessage) Type() string { return "user.verify_email" }

// Validate will validate the payload
func (e VerifyEmailMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Token, validation.Required, validation.Length(1, 255)),
	)
}

type VerifyEmailResponse struct {
	User    *User  `json:"-"`
	Message string `json:"message"`
}

type VerifyEmailHandler struct {
	svc *Service
}

func NewVerifyEmailHandler(svc *Service) *VerifyEmailHandler {
	return &VerifyEmailHandler{svc: svc}
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "email verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	s := h.svc
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return s.fail("verify email", goerrors.FromOzzoValidation(err, "invalid verification payload"))
	}

	var user *User
	var expired error

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = s.ledger.ConsumeTx(ctx, tx, event.Token, PurposeEmailVerification)
		if err != nil {
			if IsVerificationExpired(err) {
				// keep the delete
				expired = err
				return nil
			}
			if IsVerificationNotFound(err) {
				return ErrInvalidVerificationToken
			}
			return err
		}

		user.EmailVerified = true
		return s.repo.Users().UpdateTx(ctx, tx, user, "email_verified")
	})

	if err != nil {
		return s.fail("verify email", err)
	}
	if expired != nil {
		return s.fail("verify email", expired)
	}

	s.notifier.SendWelcomeEmail(context.WithoutCancel(ctx), user.Email, user.FirstName)

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventEmailVerified,
		ActorID:    user.ID,
		UserID:     user.ID,
		OccurredAt: s.now().UTC(),
	})
	s.logger.Info("email verified", "user_id", user.ID)

	if event.OnResponse != nil {
		event.OnResponse(&VerifyEmailResponse{
			User:    user,
			Message: "email verified",
		})
	}

	return nil
}

// VerifyEmail consumes an email verification token and marks the owner's
// email as verified. Unknown, used and expired tokens fail with BadRequest.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*VerifyEmailResponse, error) {
	var out *VerifyEmailResponse
	err := NewVerifyEmailHandler(s).Execute(ctx, VerifyEmailMessage{
		Token: token,
		OnResponse: func(resp *VerifyEmailResponse) {
			out = resp
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
