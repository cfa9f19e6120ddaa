package auth

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ResendVerificationMessage asks for a fresh email verification token
type ResendVerificationMessage struct {
	Email      string                                `json:"email" example:"alice@example.com" doc:"Account email."`
	OnResponse func(resp *ResendVerificationResponse) `json:"-"`
}

func (e ResendVerificationMessage) Type() string { return "user.verification_request" }

// Validate will validate the payload
func (e ResendVerificationMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.EmailFormat),
	)
}

type ResendVerificationResponse struct {
	Message string `json:"message"`
}

type ResendVerificationHandler struct {
	svc *Service
}

func NewResendVerificationHandler(svc *Service) *ResendVerificationHandler {
	return &ResendVerificationHandler{svc: svc}
}

func (h *ResendVerificationHandler) Execute(ctx context.Context, event ResendVerificationMessage) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "verification request")
	default:
		return h.execute(ctx, event)
	}
}

func (h *ResendVerificationHandler) execute(ctx context.Context, event ResendVerificationMessage) error {
	s := h.svc
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return s.fail("resend verification", goerrors.FromOzzoValidation(err, "invalid verification request"))
	}

	var user *User
	var token *VerificationToken

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if user, err = s.repo.Users().GetByEmailTx(ctx, tx, event.Email); err != nil {
			return err
		}

		if user.EmailVerified {
			return withMeta(ErrEmailAlreadyVerified, map[string]any{"user_id": user.ID})
		}

		token, err = s.ledger.IssueTx(ctx, tx, user.ID, PurposeEmailVerification, s.ttl.verification)
		return err
	})

	if err != nil {
		return s.fail("resend verification", err)
	}

	s.notifier.SendVerificationEmail(context.WithoutCancel(ctx), user.Email, token.Token)
	s.logger.Info("verification email re-sent", "user_id", user.ID)

	if event.OnResponse != nil {
		event.OnResponse(&ResendVerificationResponse{
			Message: "verification email sent",
		})
	}

	return nil
}

// ResendVerification replaces the outstanding email verification token and
// sends the new one.
func (s *Service) ResendVerification(ctx context.Context, email string) (*ResendVerificationResponse, error) {
	var out *ResendVerificationResponse
	err := NewResendVerificationHandler(s).Execute(ctx, ResendVerificationMessage{
		Email: email,
		OnResponse: func(resp *ResendVerificationResponse) {
			out = resp
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
