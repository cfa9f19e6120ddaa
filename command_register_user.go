package auth

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	FirstName  string   `json:"first_name" example:"Alice" doc:"First name."`
	LastName   string   `json:"last_name" example:"Smith" doc:"Last name."`
	Email      string   `json:"email" example:"alice@example.com" doc:"Login email, unique."`
	Phone      string   `json:"phone" example:"555-0100" doc:"Login phone, unique."`
	Password   string   `json:"password" example:"some_secret_word" doc:"Password"`
	Roles      []string `json:"roles" example:"['ROLE_USER']" doc:"Requested role names."`
	OnResponse func(resp *RegisterUserResponse) `json:"-"`
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// Validate will validate the payload
func (e RegisterUserMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&e.Phone, validation.Required, validation.Length(7, 20), validation.By(validPhone)),
		validation.Field(&e.Password, validation.Required, validation.Length(6, 72)),
	)
}

type RegisterUserResponse struct {
	User          *User    `json:"user"`
	Message       string   `json:"message"`
	FallbackRoles []string `json:"-"`
}

type RegisterUserHandler struct {
	svc *Service
}

func NewRegisterUserHandler(svc *Service) *RegisterUserHandler {
	return &RegisterUserHandler{svc: svc}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "user registration")
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	s := h.svc
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := event.Validate(); err != nil {
		return s.fail("register", goerrors.FromOzzoValidation(err, "invalid registration payload"))
	}

	resolved, err := ResolveRegistrationRoles(event.Roles, s.rolePolicy)
	if err != nil {
		return s.fail("register", err)
	}

	user := &User{
		FirstName: event.FirstName,
		LastName:  event.LastName,
		Email:     NormalizeEmail(event.Email),
		Phone:     NormalizePhone(event.Phone),
	}
	var token *VerificationToken

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := s.repo.Users().ExistsByEmailTx(ctx, tx, user.Email)
		if err != nil {
			return err
		}
		if taken {
			return withMeta(ErrEmailTaken, map[string]any{"email": user.Email})
		}

		taken, err = s.repo.Users().ExistsByPhoneTx(ctx, tx, user.Phone)
		if err != nil {
			return err
		}
		if taken {
			return withMeta(ErrPhoneTaken, map[string]any{"phone": user.Phone})
		}

		hash, err := s.hasher.HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}
		user.PasswordHash = hash

		names := make([]RoleName, 0, len(resolved))
		for _, res := range resolved {
			names = append(names, res.Name)
		}

		roles, err := s.repo.Roles().GetByNamesTx(ctx, tx, names)
		if err != nil {
			if HasTextCode(err, TextCodeRoleNotFound) {
				return internalError(err, "system role missing from role table")
			}
			return err
		}

		if user, err = s.repo.Users().CreateTx(ctx, tx, user, roles); err != nil {
			return err
		}

		token, err = s.ledger.IssueTx(ctx, tx, user.ID, PurposeEmailVerification, s.ttl.verification)
		return err
	})

	if err != nil {
		return s.fail("register", err)
	}

	resp := &RegisterUserResponse{
		User:    user,
		Message: fmt.Sprintf("user %s registered, check your email to verify the account", user.Email),
	}
	for _, res := range resolved {
		if res.Fallback && res.Requested != "" {
			resp.FallbackRoles = append(resp.FallbackRoles, res.Requested)
		}
	}
	if len(resp.FallbackRoles) > 0 {
		s.logger.Warn("unrecognized roles requested at registration, granted ROLE_USER", "user_id", user.ID, "requested", resp.FallbackRoles)
	}

	s.notifier.SendVerificationEmail(context.WithoutCancel(ctx), user.Email, token.Token)

	recordActivity(ctx, s.activity, s.logger, ActivityEvent{
		EventType:  ActivityEventUserRegistered,
		ActorID:    user.ID,
		UserID:     user.ID,
		Metadata:   map[string]any{"roles": user.RoleNames()},
		OccurredAt: s.now().UTC(),
	})
	s.logger.Info("user registered", "user_id", user.ID)

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

// Register creates the account, issues an email verification token and
// queues its delivery. Delivery failures never undo the registration.
func (s *Service) Register(ctx context.Context, msg RegisterUserMessage) (*RegisterUserResponse, error) {
	var out *RegisterUserResponse
	next := msg.OnResponse
	msg.OnResponse = func(resp *RegisterUserResponse) {
		out = resp
		if next != nil {
			next(resp)
		}
	}
	if err := NewRegisterUserHandler(s).Execute(ctx, msg); err != nil {
		return nil, err
	}
	return out, nil
}

func validPhone(value any) error {
	value, _ = validation.Indirect(value)
	raw, _ := value.(string)
	if raw == "" {
		return nil
	}
	if digits := NormalizePhone(raw); len(digits) < 7 {
		return validation.NewError("validation_is_phone", "must be a valid phone number")
	}
	return nil
}
