package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

const (
	DefaultUsersPerPage = 20
	MaxUsersPerPage     = 100
)

// UserPage is one page of a user listing
type UserPage struct {
	Users   []*User `json:"users"`
	Total   int     `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// UserProfilePayload updates profile fields, nil fields stay as they are
type UserProfilePayload struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
}

// Validate will validate the payload
func (p UserProfilePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.FirstName, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&p.LastName, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&p.Phone, validation.NilOrNotEmpty, validation.Length(7, 20), validation.By(validPhone)),
	)
}

// UserManager covers the user operations reserved to administrators, plus
// self reads and profile updates.
type UserManager struct {
	repo     RepositoryManager
	ledger   *VerificationLedger
	logger   Logger
	activity ActivitySink
	timeout  time.Duration
}

func NewUserManager(repo RepositoryManager, ledger *VerificationLedger) *UserManager {
	return &UserManager{
		repo:     repo,
		ledger:   ledger,
		logger:   defLogger{},
		activity: noopActivitySink{},
		timeout:  10 * time.Second,
	}
}

func (m *UserManager) WithLogger(logger Logger) *UserManager {
	m.logger = normalizeLogger(logger)
	return m
}

func (m *UserManager) WithActivitySink(sink ActivitySink) *UserManager {
	m.activity = normalizeActivitySink(sink)
	return m
}

func (m *UserManager) Get(ctx context.Context, id int64) (*User, error) {
	user, err := m.repo.Users().GetByID(ctx, id)
	if err != nil {
		return nil, failWith(m.logger, "get user", err)
	}
	return user, nil
}

// List pages through users by id. page starts at 1, perPage is clamped to
// MaxUsersPerPage.
func (m *UserManager) List(ctx context.Context, page, perPage int) (*UserPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultUsersPerPage
	}
	perPage = min(perPage, MaxUsersPerPage)

	users, total, err := m.repo.Users().List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, failWith(m.logger, "list users", err)
	}

	return &UserPage{Users: users, Total: total, Page: page, PerPage: perPage}, nil
}

// UpdateProfile changes the name and phone of a user. A phone held by another
// account is a Conflict.
func (m *UserManager) UpdateProfile(ctx context.Context, actor Principal, userID int64, payload UserProfilePayload) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "profile update")
	default:
	}

	if err := payload.Validate(); err != nil {
		return nil, failWith(m.logger, "update profile", goerrors.FromOzzoValidation(err, "invalid profile payload"))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var user *User
	var columns []string
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := m.repo.Users().LockTx(ctx, tx, userID); err != nil {
			return err
		}

		var err error
		if user, err = m.repo.Users().GetByIDTx(ctx, tx, userID); err != nil {
			return err
		}

		if payload.FirstName != nil && *payload.FirstName != user.FirstName {
			user.FirstName = *payload.FirstName
			columns = append(columns, "first_name")
		}
		if payload.LastName != nil && *payload.LastName != user.LastName {
			user.LastName = *payload.LastName
			columns = append(columns, "last_name")
		}
		if payload.Phone != nil {
			if phone := NormalizePhone(*payload.Phone); phone != user.Phone {
				taken, err := m.repo.Users().ExistsByPhoneTx(ctx, tx, phone)
				if err != nil {
					return err
				}
				if taken {
					return withMeta(ErrPhoneTaken, map[string]any{"phone": phone})
				}
				user.Phone = phone
				columns = append(columns, "phone")
			}
		}

		if len(columns) == 0 {
			return nil
		}
		return m.repo.Users().UpdateTx(ctx, tx, user, columns...)
	})
	if err != nil {
		return nil, failWith(m.logger, "update profile", err)
	}

	if len(columns) > 0 {
		m.logger.Info("user profile updated", "user_id", userID, "actor_id", actor.UserID, "fields", columns)
		recordActivity(ctx, m.activity, m.logger, ActivityEvent{
			EventType: ActivityEventProfileUpdated,
			ActorID:   actor.UserID,
			UserID:    userID,
			Metadata:  map[string]any{"fields": columns},
		})
	}
	return user, nil
}

// AssignRoles replaces the user's roles. Names accept aliases; an empty set
// or a malformed name is a BadRequest, an unknown role is NotFound.
func (m *UserManager) AssignRoles(ctx context.Context, actor Principal, userID int64, names []string) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "role assignment")
	default:
	}

	canonical, err := canonicalRoleNames(names)
	if err != nil {
		return nil, failWith(m.logger, "assign roles", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var user *User
	err = m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := m.repo.Users().LockTx(ctx, tx, userID); err != nil {
			return err
		}

		roles, err := m.repo.Roles().GetByNamesTx(ctx, tx, canonical)
		if err != nil {
			return err
		}

		if err := m.repo.Users().SetRolesTx(ctx, tx, userID, roles); err != nil {
			return err
		}

		user, err = m.repo.Users().GetByIDTx(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, failWith(m.logger, "assign roles", err)
	}

	m.logger.Info("user roles assigned", "user_id", userID, "actor_id", actor.UserID, "roles", user.RoleNames())
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventRolesAssigned,
		ActorID:   actor.UserID,
		UserID:    userID,
		Metadata:  map[string]any{"roles": user.RoleNames()},
	})
	return user, nil
}

// VerifyAccount marks the account as verified by an administrator
func (m *UserManager) VerifyAccount(ctx context.Context, actor Principal, userID int64) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, cancelledError(ctx, "account verification")
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var user *User
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		if user, err = m.repo.Users().GetByIDTx(ctx, tx, userID); err != nil {
			return err
		}
		if user.AccountVerified {
			return nil
		}
		user.AccountVerified = true
		return m.repo.Users().UpdateTx(ctx, tx, user, "account_verified")
	})
	if err != nil {
		return nil, failWith(m.logger, "verify account", err)
	}

	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventAccountVerified,
		ActorID:   actor.UserID,
		UserID:    userID,
	})
	return user, nil
}

// Delete removes the user after revoking every verification token it owns.
// Nobody deletes their own account.
func (m *UserManager) Delete(ctx context.Context, actor Principal, userID int64) error {
	select {
	case <-ctx.Done():
		return cancelledError(ctx, "user deletion")
	default:
	}

	if actor.UserID != 0 && actor.UserID == userID {
		return failWith(m.logger, "delete user", withMeta(ErrSelfDeletion, map[string]any{"id": userID}))
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var revoked int64
	err := m.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := m.repo.Users().LockTx(ctx, tx, userID); err != nil {
			return err
		}

		var err error
		if revoked, err = m.ledger.RevokeAllForUserTx(ctx, tx, userID); err != nil {
			return err
		}

		return m.repo.Users().DeleteTx(ctx, tx, userID)
	})
	if err != nil {
		return failWith(m.logger, "delete user", err)
	}

	m.logger.Info("user deleted", "user_id", userID, "actor_id", actor.UserID, "revoked_tokens", revoked)
	recordActivity(ctx, m.activity, m.logger, ActivityEvent{
		EventType: ActivityEventUserDeleted,
		ActorID:   actor.UserID,
		UserID:    userID,
		Metadata:  map[string]any{"revoked_tokens": revoked},
	})
	return nil
}

func canonicalRoleNames(names []string) ([]RoleName, error) {
	if len(names) == 0 {
		return nil, ErrEmptyRoleSet
	}

	seen := make(map[RoleName]bool, len(names))
	out := make([]RoleName, 0, len(names))
	for _, raw := range names {
		name, err := NormalizeRoleName(raw)
		if err != nil {
			return nil, err
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}
